package ecs

import (
	"errors"
	"reflect"
)

// CoroutineFn is the body of a coroutine. It receives a Coro for
// suspending and must return promptly once a suspension reports
// ErrCanceled. The returned value is delivered to an awaiting parent.
type CoroutineFn func(co *Coro) (any, error)

type waitKind uint8

const (
	waitNone waitKind = iota
	waitFrames
	waitSeconds
	waitUntil
	waitChild
)

type coroEvent struct {
	yielded bool // false means the function returned
	result  any
	err     error
}

type coroResume struct {
	canceled bool
	value    any
	err      error
}

// Coroutine is the engine-side handle of a cooperative task. All
// coroutines started by a system advance after that system's Initialize
// or Execute returns, before the next system runs, in start order.
// Finalize does not advance coroutines.
type Coroutine struct {
	w   *World
	sys *systemNode

	fnPC    uintptr
	fn      CoroutineFn
	started bool
	done    bool
	result  any
	err     error

	resume chan coroResume
	events chan coroEvent

	wait       waitKind
	framesLeft int
	deadline   float64
	until      func() bool
	child      *Coroutine

	awaiter *Coroutine

	cancelRequested bool
	preds           []func() bool
	scope           Entity
	hasScope        bool
	missing         []*ComponentType
	guard           bool
	guardPCs        []uintptr
	guardSeen       uint64
}

// Coro is the in-coroutine suspension surface passed to the body.
type Coro struct {
	c *Coroutine
}

// World returns the owning world.
func (c *Coro) World() *World { return c.c.w }

// Start launches a nested coroutine in the same system. Yield it through
// Await to pause until it resolves and collect its return value.
func (c *Coro) Start(fn CoroutineFn) *Coroutine {
	return c.c.w.startCoroutine(fn)
}

// Yield suspends until the next frame.
func (c *Coro) Yield() error {
	return c.suspend(waitFrames, 1, 0, nil, nil)
}

// WaitForFrames suspends until n frames have advanced.
func (c *Coro) WaitForFrames(n int) error {
	if n < 1 {
		n = 1
	}
	return c.suspend(waitFrames, n, 0, nil, nil)
}

// WaitForSeconds suspends until the world clock has advanced by at least
// s seconds. The world clock accumulates the deltas fed to Execute, so it
// is monotonic and deterministic under test.
func (c *Coro) WaitForSeconds(s float64) error {
	return c.suspend(waitSeconds, 0, c.c.w.time+s, nil, nil)
}

// WaitUntil suspends until fn returns true, checked once per frame.
func (c *Coro) WaitUntil(fn func() bool) error {
	return c.suspend(waitUntil, 0, 0, fn, nil)
}

// Await suspends until the child coroutine completes and returns its
// result. A child error, including cancellation, surfaces here.
func (c *Coro) Await(child *Coroutine) (any, error) {
	if child == nil {
		return nil, checkf("await of a nil coroutine")
	}
	if child.sys != c.c.sys {
		return nil, checkf("await of a coroutine started by another system")
	}
	child.awaiter = c.c
	return c.suspendFull(waitChild, 0, 0, nil, child)
}

func (c *Coro) suspend(kind waitKind, frames int, deadline float64, until func() bool, child *Coroutine) error {
	_, err := c.suspendFull(kind, frames, deadline, until, child)
	return err
}

func (c *Coro) suspendFull(kind waitKind, frames int, deadline float64, until func() bool, child *Coroutine) (any, error) {
	co := c.c
	co.wait = kind
	co.framesLeft = frames
	co.deadline = deadline
	co.until = until
	co.child = child
	co.events <- coroEvent{yielded: true}
	r := <-co.resume
	if r.canceled {
		return nil, canceledf("coroutine canceled at yield")
	}
	return r.value, r.err
}

// Cancel aborts the coroutine at its next yield point. If it is awaiting
// a nested child, the deepest descendant is canceled with it.
func (h *Coroutine) Cancel() {
	h.cancelRequested = true
}

// CancelIf cancels the coroutine whenever the predicate holds at a yield
// point.
func (h *Coroutine) CancelIf(pred func() bool) *Coroutine {
	h.preds = append(h.preds, pred)
	return h
}

// Scope ties the coroutine to an entity: the coroutine is canceled when
// the entity is deleted.
func (h *Coroutine) Scope(e Entity) *Coroutine {
	h.scope = e
	h.hasScope = true
	return h
}

// CancelIfComponentMissing cancels the coroutine when the scoped entity
// no longer carries the component.
func (h *Coroutine) CancelIfComponentMissing(ct *ComponentType) *Coroutine {
	h.missing = append(h.missing, ct)
	return h
}

// CancelIfCoroutineStarted cancels the coroutine when another coroutine
// with the same scope starts in the same system, optionally restricted to
// the given coroutine functions. A coroutine never cancels itself through
// this rule.
func (h *Coroutine) CancelIfCoroutineStarted(fns ...CoroutineFn) *Coroutine {
	h.guard = true
	h.guardSeen = h.sys.startSeq
	for _, fn := range fns {
		h.guardPCs = append(h.guardPCs, reflect.ValueOf(fn).Pointer())
	}
	return h
}

// Done reports completion, by return or by cancellation.
func (h *Coroutine) Done() bool { return h.done }

// Result returns the coroutine's return value and error once done.
func (h *Coroutine) Result() (any, error) { return h.result, h.err }

// Canceled reports whether the coroutine ended by cancellation.
func (h *Coroutine) Canceled() bool {
	return h.done && errors.Is(h.err, ErrCanceled)
}

func (h *Coroutine) shouldCancel() bool {
	if h.cancelRequested {
		return true
	}
	if h.hasScope && !h.scope.Alive() {
		return true
	}
	if h.hasScope {
		for _, ct := range h.missing {
			if !h.scope.Has(ct) {
				return true
			}
		}
	}
	for _, pred := range h.preds {
		if pred() {
			return true
		}
	}
	if h.guard {
		for _, start := range h.sys.startLog {
			if start.seq <= h.guardSeen || start.co == h {
				continue
			}
			if len(h.guardPCs) > 0 {
				match := false
				for _, pc := range h.guardPCs {
					if start.co.fnPC == pc {
						match = true
						break
					}
				}
				if !match {
					continue
				}
			}
			if start.co.hasScope != h.hasScope {
				continue
			}
			if h.hasScope && start.co.scope != h.scope {
				continue
			}
			return true
		}
		h.guardSeen = h.sys.startSeq
	}
	return false
}

func (h *Coroutine) ready() bool {
	switch h.wait {
	case waitNone:
		return true
	case waitFrames:
		h.framesLeft--
		return h.framesLeft <= 0
	case waitSeconds:
		return h.w.time >= h.deadline
	case waitUntil:
		return h.until()
	case waitChild:
		return h.child.done
	}
	return false
}

// advance runs one scheduling step: inject cancellation if due, then
// resume the coroutine when its wait condition is met and run it to the
// next yield or to completion. An uncaught failure of an unawaited
// coroutine is returned so it surfaces from World.Execute.
func (h *Coroutine) advance() error {
	if h.done {
		return nil
	}
	if h.shouldCancel() {
		h.terminate()
		return nil
	}
	if h.started && !h.ready() {
		return nil
	}

	r := coroResume{}
	if h.wait == waitChild && h.child != nil {
		r.value, r.err = h.child.result, h.child.err
	}
	h.wait = waitNone
	h.run(r)
	if h.done && h.err != nil && h.awaiter == nil && !errors.Is(h.err, ErrCanceled) {
		return h.err
	}
	return nil
}

// run starts or resumes the coroutine body and blocks until it yields or
// returns. The engine is single-threaded: exactly one coroutine runs at a
// time, between two systems.
func (h *Coroutine) run(r coroResume) {
	if !h.started {
		h.started = true
		co := &Coro{c: h}
		go func() {
			result, err := h.fn(co)
			h.events <- coroEvent{result: result, err: err}
		}()
	} else {
		h.resume <- r
	}
	ev := <-h.events
	if !ev.yielded {
		h.finish(ev.result, ev.err)
	}
}

// terminate injects cancellation: the pending (or next) suspension
// returns ErrCanceled and the body unwinds. A child being awaited is
// dropped on the floor with it.
func (h *Coroutine) terminate() {
	if h.done {
		return
	}
	if h.wait == waitChild && h.child != nil && !h.child.done {
		h.child.awaiter = nil
		h.child.terminate()
	}
	if !h.started {
		h.finish(nil, canceledf("coroutine canceled before first run"))
		return
	}
	// The body must return after observing ErrCanceled; re-inject until
	// it does in case an intermediate yield swallows it.
	for {
		h.resume <- coroResume{canceled: true}
		ev := <-h.events
		if !ev.yielded {
			if ev.err == nil {
				ev.err = canceledf("coroutine canceled")
			}
			h.finish(ev.result, ev.err)
			return
		}
	}
}

func (h *Coroutine) finish(result any, err error) {
	h.done = true
	h.result = result
	h.err = err
}
