package ecs

// Frame is the per-phase context handed to systems. It carries the world
// clock and the operations a system may perform beyond its queries.
type Frame struct {
	w *World

	// Time is the accumulated world clock in seconds; Delta is this
	// frame's increment.
	Time  float64
	Delta float64
}

// World returns the owning world.
func (f *Frame) World() *World { return f.w }

// Spawn queues an entity creation for the flush after the current
// system; entity creation stays out of system execution proper, the same
// way deletions do. Defs takes component types with optional Props, as
// World.CreateEntity does. Validators run at the flush against the
// complete shape; a rejection there aborts the frame.
func (f *Frame) Spawn(defs ...any) {
	f.w.deferred.spawn(defs)
}

// Defer queues a function to run during the flush after the current
// system, in queue order.
func (f *Frame) Defer(fn func()) {
	f.w.deferred.deferFn(fn)
}

// Start launches a coroutine owned by the current system. The body first
// runs after the system's Initialize or Execute returns, and then
// advances once per frame; a coroutine started from Finalize never runs. Chain Scope, CancelIf and the other handle methods before
// the frame ends to configure cancellation.
func (f *Frame) Start(fn CoroutineFn) *Coroutine {
	return f.w.startCoroutine(fn)
}
