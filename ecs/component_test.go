package ecs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plus3/weft/ecs"
)

func TestComponentRegistration(t *testing.T) {
	t.Run("unnamed type", func(t *testing.T) {
		_, err := ecs.NewWorld(ecs.Options{Defs: []any{&ecs.ComponentType{}}})
		assert.ErrorIs(t, err, ecs.ErrCheck)
	})

	t.Run("duplicate field names", func(t *testing.T) {
		ct := &ecs.ComponentType{
			Name: "Dup",
			Fields: []ecs.Field{
				{Name: "x", Type: ecs.Float64},
				{Name: "x", Type: ecs.Float64},
			},
		}
		_, err := ecs.NewWorld(ecs.Options{Defs: []any{ct}})
		assert.ErrorIs(t, err, ecs.ErrCheck)
	})

	t.Run("too many fields", func(t *testing.T) {
		fields := make([]ecs.Field, ecs.MaxNumFields+1)
		for i := range fields {
			fields[i] = ecs.Field{Name: string(rune('a'+i%26)) + string(rune('0'+i/26)), Type: ecs.Uint8}
		}
		ct := &ecs.ComponentType{Name: "Wide", Fields: fields}
		_, err := ecs.NewWorld(ecs.Options{Defs: []any{ct}})
		assert.ErrorIs(t, err, ecs.ErrCheck)
	})

	t.Run("ref fields cannot default", func(t *testing.T) {
		ct := &ecs.ComponentType{
			Name:   "Bad",
			Fields: []ecs.Field{{Name: "r", Type: ecs.Ref, Default: 1}},
		}
		_, err := ecs.NewWorld(ecs.Options{Defs: []any{ct}})
		assert.ErrorIs(t, err, ecs.ErrCheck)
	})

	t.Run("mistyped default", func(t *testing.T) {
		ct := &ecs.ComponentType{
			Name:   "Bad",
			Fields: []ecs.Field{{Name: "n", Type: ecs.Uint8, Default: "nine"}},
		}
		_, err := ecs.NewWorld(ecs.Options{Defs: []any{ct}})
		assert.ErrorIs(t, err, ecs.ErrCheck)
	})

	t.Run("nested defs flatten", func(t *testing.T) {
		pos := positionType()
		vel := velocityType()
		w, err := ecs.NewWorld(ecs.Options{Defs: []any{
			[]any{pos, []any{vel}},
		}})
		require.NoError(t, err)
		_, err = w.CreateEntity(pos, vel)
		assert.NoError(t, err)
	})
}

func TestComponentTypeBoundToOneWorld(t *testing.T) {
	pos := positionType()
	w1, err := ecs.NewWorld(ecs.Options{Defs: []any{pos}})
	require.NoError(t, err)

	_, err = ecs.NewWorld(ecs.Options{Defs: []any{pos}})
	require.Error(t, err, "a component type belongs to one live world")
	assert.ErrorIs(t, err, ecs.ErrCheck)

	// Terminating the first world frees the type for reuse.
	require.NoError(t, w1.Terminate())
	_, err = ecs.NewWorld(ecs.Options{Defs: []any{pos}})
	assert.NoError(t, err)
}

func TestReleaseComponentTypes(t *testing.T) {
	pos := positionType()
	_, err := ecs.NewWorld(ecs.Options{Defs: []any{pos}})
	require.NoError(t, err)

	ecs.ReleaseComponentTypes(pos)
	_, err = ecs.NewWorld(ecs.Options{Defs: []any{pos}})
	assert.NoError(t, err)
}
