package ecs

import (
	"reflect"
	"time"
)

// System is a user-defined unit of logic. Attach runs once at world
// creation to declare the system's queries and scheduling constraints;
// Execute runs once per frame in the scheduled order.
//
// Systems may additionally implement Initializer and Finalizer for the
// one-shot phases around the frame loop.
type System interface {
	Attach(s *SystemScope)
	Execute(f *Frame) error
}

// Initializer runs once, in scheduled order, before the first frame.
type Initializer interface {
	Initialize(f *Frame) error
}

// Finalizer runs once, in scheduled order, during Terminate.
type Finalizer interface {
	Finalize(f *Frame) error
}

// SystemScope is the declaration surface handed to Attach.
type SystemScope struct {
	node *systemNode
}

// Query starts a query declaration. Keep the built query in a system
// field to iterate it during Execute.
func (s *SystemScope) Query() *QueryBuilder {
	w := s.node.group.world
	return &QueryBuilder{
		sys: s.node,
		q: &Query{
			w:       w,
			sys:     s.node,
			with:    newMask(len(w.types)),
			without: newMask(len(w.types)),
			prev:    newEntitySet(w.maxEntities),
			cur:     newEntitySet(w.maxEntities),
			fresh:   true,
		},
	}
}

// Before orders this system ahead of every sibling system of the listed
// concrete types.
func (s *SystemScope) Before(others ...System) {
	for _, o := range others {
		s.node.before = append(s.node.before, systemTypeOf(o))
	}
}

// After orders this system behind every sibling system of the listed
// concrete types.
func (s *SystemScope) After(others ...System) {
	for _, o := range others {
		s.node.after = append(s.node.after, systemTypeOf(o))
	}
}

// World exposes the owning world, for worlds that relax the setup-only
// entity creation rule in tests.
func (s *SystemScope) World() *World {
	return s.node.group.world
}

type coroStart struct {
	seq uint64
	co  *Coroutine
}

type systemStatsInternal struct {
	name           string
	executionCount int64
	minDuration    time.Duration
	maxDuration    time.Duration
	totalDuration  time.Duration
	lastDuration   time.Duration
}

type systemNode struct {
	sys   System
	typ   reflect.Type
	name  string
	group *SystemGroup
	order int

	queries    []*Query
	reads      mask
	writes     mask
	recentMask mask

	before []reflect.Type
	after  []reflect.Type

	props   Props
	stopped bool

	coros    []*Coroutine
	startSeq uint64
	startLog []coroStart

	stats systemStatsInternal
}

func systemTypeOf(sys System) reflect.Type {
	t := reflect.TypeOf(sys)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// applyProps copies prop values onto the system's exported struct fields
// by name, via reflection. A key with no matching settable field is an
// authoring error.
func (n *systemNode) applyProps(props Props) error {
	v := reflect.ValueOf(n.sys)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return checkf("system %s cannot take props", n.name)
	}
	for key, value := range props {
		field := v.FieldByName(key)
		if !field.IsValid() || !field.CanSet() {
			return checkf("system %s has no settable field %s", n.name, key)
		}
		rv := reflect.ValueOf(value)
		if !rv.Type().AssignableTo(field.Type()) {
			if rv.Type().ConvertibleTo(field.Type()) {
				rv = rv.Convert(field.Type())
			} else {
				return checkf("system %s field %s cannot hold %T", n.name, key, value)
			}
		}
		field.Set(rv)
		if n.props == nil {
			n.props = Props{}
		}
		n.props[key] = value
	}
	return nil
}

// advanceCoroutines resumes every ready coroutine of this system, in
// start order. Runs after the system's phase method returns and before
// the next system starts.
func (n *systemNode) advanceCoroutines() error {
	// Coroutines may start further coroutines while running; iterate by
	// index so appends are picked up this same pass.
	for i := 0; i < len(n.coros); i++ {
		if err := n.coros[i].advance(); err != nil {
			return err
		}
	}
	// Drop finished coroutines, and the start log once nothing guards on it.
	live := n.coros[:0]
	guarded := false
	for _, co := range n.coros {
		if !co.done {
			live = append(live, co)
			guarded = guarded || co.guard
		}
	}
	n.coros = live
	if !guarded {
		n.startLog = n.startLog[:0]
	}
	return nil
}
