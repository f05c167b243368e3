package ecs_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plus3/weft/ecs"
)

func TestEntityLifecycle(t *testing.T) {
	pos := positionType()
	vel := velocityType()
	frozen := tagType("Frozen")
	w, err := ecs.NewWorld(ecs.Options{
		Defs:          []any{pos, vel, frozen},
		RelaxedStages: true,
	})
	require.NoError(t, err)

	e, err := w.CreateEntity(pos, ecs.Props{"x": 1.5}, vel)
	require.NoError(t, err)
	require.True(t, e.Alive())

	t.Run("shape queries", func(t *testing.T) {
		assert.True(t, e.Has(pos))
		assert.True(t, e.HasAllOf(pos, vel))
		assert.False(t, e.HasAllOf(pos, frozen))
		assert.True(t, e.HasAnyOf(frozen, vel))
		assert.False(t, e.Has(frozen))
		assert.Equal(t, 2, e.CountHas(pos, vel, frozen))
		assert.True(t, e.HasAnyOtherThan(frozen))
		assert.False(t, e.HasAnyOtherThan(pos, vel))
	})

	t.Run("defaults and props", func(t *testing.T) {
		v, err := e.Read(pos)
		require.NoError(t, err)
		assert.Equal(t, 1.5, v.MustGet("x"))
		assert.Equal(t, 0.0, v.MustGet("y"))

		vv, err := e.Read(vel)
		require.NoError(t, err)
		assert.Equal(t, 1.0, vv.MustGet("dx"))
	})

	t.Run("write then read round-trips", func(t *testing.T) {
		v, err := e.Write(pos)
		require.NoError(t, err)
		require.NoError(t, v.Set("x", 42.25))
		r, err := e.Read(pos)
		require.NoError(t, err)
		assert.Equal(t, 42.25, r.MustGet("x"))
	})

	t.Run("read-only views refuse writes", func(t *testing.T) {
		v, err := e.Read(pos)
		require.NoError(t, err)
		assert.ErrorIs(t, v.Set("x", 0.0), ecs.ErrCheck)
	})

	t.Run("unknown field", func(t *testing.T) {
		v, err := e.Read(pos)
		require.NoError(t, err)
		_, err = v.Get("z")
		assert.ErrorIs(t, err, ecs.ErrCheck)
	})

	t.Run("duplicate add and missing remove", func(t *testing.T) {
		assert.ErrorIs(t, e.Add(pos, nil), ecs.ErrCheck)
		assert.ErrorIs(t, e.Remove(frozen), ecs.ErrCheck)
	})

	t.Run("tag components live in the shape only", func(t *testing.T) {
		require.NoError(t, e.Add(frozen, nil))
		assert.True(t, e.Has(frozen))
		require.NoError(t, e.Remove(frozen))
		assert.False(t, e.Has(frozen))
	})

	t.Run("unregistered type is rejected", func(t *testing.T) {
		h := healthType()
		// Health was not registered with this world.
		assert.ErrorIs(t, e.Add(h, nil), ecs.ErrCheck)
	})
}

func TestEntityDeleteIsDeferredToFlush(t *testing.T) {
	pos := positionType()
	w, err := ecs.NewWorld(ecs.Options{Defs: []any{pos}})
	require.NoError(t, err)

	e, err := w.CreateEntity(pos, nil)
	require.NoError(t, err)
	require.NoError(t, e.Delete())
	assert.True(t, e.Alive(), "deletion only lands at the next flush")

	require.NoError(t, w.Execute(0))
	assert.False(t, e.Alive())
	assert.ErrorIs(t, e.Delete(), ecs.ErrCheck)
	_, err = e.Read(pos)
	assert.ErrorIs(t, err, ecs.ErrCheck)
	require.NoError(t, w.CheckInvariants())
}

func TestHoldPinsIdAgainstRecycling(t *testing.T) {
	pos := positionType()
	w, err := ecs.NewWorld(ecs.Options{Defs: []any{pos}, RelaxedStages: true})
	require.NoError(t, err)

	e, err := w.CreateEntity(pos, nil)
	require.NoError(t, err)
	id := e.Id()
	e.Hold()
	require.NoError(t, e.Delete())
	require.NoError(t, w.Execute(0))
	require.False(t, e.Alive())

	other, err := w.CreateEntity(pos, nil)
	require.NoError(t, err)
	assert.NotEqual(t, id, other.Id(), "held id must not be recycled")

	e.Unhold()
	recycled, err := w.CreateEntity(pos, nil)
	require.NoError(t, err)
	assert.Equal(t, id, recycled.Id())
	assert.False(t, e.Alive(), "stale handle stays invalid after recycling")
}

func TestValidatorGatesCreation(t *testing.T) {
	// A requires exactly one of B and C alongside it.
	a := tagType("A")
	b := tagType("B")
	c := tagType("C")
	d := tagType("D")
	a.Validate = func(e ecs.Entity) error {
		if !e.Has(a) {
			return nil
		}
		switch e.CountHas(b, c) {
		case 0:
			return errors.New("A missing B or C")
		case 2:
			return errors.New("A has both B and C")
		}
		return nil
	}
	w, err := ecs.NewWorld(ecs.Options{Defs: []any{a, b, c, d}, RelaxedStages: true})
	require.NoError(t, err)

	_, err = w.CreateEntity(a)
	require.EqualError(t, err, "A missing B or C")

	_, err = w.CreateEntity(a, b, c)
	require.EqualError(t, err, "A has both B and C")

	e, err := w.CreateEntity(a, b)
	require.NoError(t, err)

	// Removing B leaves A alone, which the validator rejects; the shape
	// is restored.
	err = e.Remove(b)
	require.EqualError(t, err, "A missing B or C")
	assert.True(t, e.Has(b))

	// Adding C gives A both, also rejected, and the add unwinds.
	err = e.Add(c, nil)
	require.EqualError(t, err, "A has both B and C")
	assert.False(t, e.Has(c))
	require.NoError(t, w.CheckInvariants())
}

func TestValidatorHoldsNoEntitlements(t *testing.T) {
	ct := counterType()
	ct.Validate = func(e ecs.Entity) error {
		_, err := e.Read(ct)
		return err
	}
	w, err := ecs.NewWorld(ecs.Options{Defs: []any{ct}})
	require.NoError(t, err)

	_, err = w.CreateEntity(ct)
	require.Error(t, err)
	assert.ErrorIs(t, err, ecs.ErrCheck)

	// Mutation from a validator is equally denied.
	ct2 := counterType()
	ct2.Name = "Counter2"
	ct2.Validate = func(e ecs.Entity) error {
		return e.Delete()
	}
	w2, err := ecs.NewWorld(ecs.Options{Defs: []any{ct2}})
	require.NoError(t, err)
	_, err = w2.CreateEntity(ct2)
	assert.ErrorIs(t, err, ecs.ErrCheck)
}

func TestRefClearanceOnTargetDelete(t *testing.T) {
	target := targetType()
	w, err := ecs.NewWorld(ecs.Options{Defs: []any{target}})
	require.NoError(t, err)

	s, err := w.CreateEntity(target)
	require.NoError(t, err)
	tgt, err := w.CreateEntity()
	require.NoError(t, err)

	v, err := s.Write(target)
	require.NoError(t, err)
	require.NoError(t, v.Set("enemy", tgt))
	assert.Equal(t, 1, tgt.RefCount())

	r, err := s.Read(target)
	require.NoError(t, err)
	got, err := r.Get("enemy")
	require.NoError(t, err)
	assert.Equal(t, tgt, got)

	require.NoError(t, tgt.Delete())
	require.NoError(t, w.Execute(0))

	r, err = s.Read(target)
	require.NoError(t, err)
	got, err = r.Get("enemy")
	require.NoError(t, err)
	assert.Nil(t, got, "inbound ref must be nulled after target deletion")
}

func TestRemovingRefHolderDecrementsTarget(t *testing.T) {
	target := targetType()
	w, err := ecs.NewWorld(ecs.Options{Defs: []any{target}, RelaxedStages: true})
	require.NoError(t, err)

	s, err := w.CreateEntity(target)
	require.NoError(t, err)
	tgt, err := w.CreateEntity()
	require.NoError(t, err)

	v, err := s.Write(target)
	require.NoError(t, err)
	require.NoError(t, v.Set("enemy", tgt))
	require.Equal(t, 1, tgt.RefCount())

	require.NoError(t, s.Remove(target))
	assert.Equal(t, 0, tgt.RefCount())
}

// resurrectSystem drives the add/remove/add slot-reuse window from inside
// a system that opted into recently-deleted access.
type resurrectSystem struct {
	Counter *ecs.ComponentType

	target  ecs.Entity
	frame   int
	got     any
	readErr error
}

func (s *resurrectSystem) Attach(sc *ecs.SystemScope) {
	sc.Query().Using(s.Counter).Read().AccessRecentlyDeletedData().Build()
}

func (s *resurrectSystem) Execute(f *ecs.Frame) error {
	s.frame++
	switch s.frame {
	case 1:
		if err := s.target.Add(s.Counter, ecs.Props{"value": uint8(1)}); err != nil {
			return err
		}
		return s.target.Remove(s.Counter)
	case 2:
		if err := s.target.Add(s.Counter, ecs.Props{"value": uint8(2)}); err != nil {
			return err
		}
		return s.target.Remove(s.Counter)
	case 3:
		v, err := s.target.Read(s.Counter)
		if err != nil {
			return err
		}
		s.got, err = v.Get("value")
		return err
	case 4:
		_, s.readErr = s.target.Read(s.Counter)
	}
	return nil
}

func TestResurrectionWindow(t *testing.T) {
	ct := counterType()
	sys := &resurrectSystem{Counter: ct}
	w, err := ecs.NewWorld(ecs.Options{Defs: []any{ct, sys}})
	require.NoError(t, err)

	e, err := w.CreateEntity()
	require.NoError(t, err)
	sys.target = e

	for frame := 0; frame < 4; frame++ {
		require.NoError(t, w.Execute(0.016))
	}
	assert.Equal(t, uint8(2), sys.got,
		"re-add inside the window reuses the slot, so the recently-deleted read sees the last written value")
	require.Error(t, sys.readErr, "the post-window read must fail")
	assert.ErrorIs(t, sys.readErr, ecs.ErrCheck)
}
