package ecs_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plus3/weft/ecs"
)

func packedCounterType() *ecs.ComponentType {
	return &ecs.ComponentType{
		Name:    "PackedCounter",
		Storage: ecs.StoragePacked,
		Fields:  []ecs.Field{{Name: "value", Type: ecs.Uint32}},
	}
}

func TestPackedStorageGrowsAndKeepsValues(t *testing.T) {
	ct := packedCounterType()
	w, err := ecs.NewWorld(ecs.Options{
		Defs:          []any{ct},
		MaxEntities:   500,
		RelaxedStages: true,
	})
	require.NoError(t, err)

	// 200 slots force several doublings past the initial capacity and
	// push the slot index from int8 into int16 width.
	entities := make([]ecs.Entity, 200)
	for i := range entities {
		e, err := w.CreateEntity(ct, ecs.Props{"value": uint32(i)})
		require.NoError(t, err)
		entities[i] = e
	}
	for i, e := range entities {
		v, err := e.Read(ct)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), v.MustGet("value"), "entity %d", i)
	}
	require.NoError(t, w.CheckInvariants())
}

func TestPackedStorageRecyclesSlots(t *testing.T) {
	ct := packedCounterType()
	w, err := ecs.NewWorld(ecs.Options{
		Defs:          []any{ct},
		MaxEntities:   64,
		RelaxedStages: true,
	})
	require.NoError(t, err)

	var entities []ecs.Entity
	for i := 0; i < 8; i++ {
		e, err := w.CreateEntity(ct, nil)
		require.NoError(t, err)
		entities = append(entities, e)
	}
	// Free half the slots, then run the window out so they actually
	// return to the free list.
	for i := 0; i < 4; i++ {
		require.NoError(t, entities[i].Remove(ct))
	}
	require.NoError(t, w.Execute(0))
	require.NoError(t, w.Execute(0))

	// Refilling must not grow the storage past its current capacity.
	for i := 0; i < 4; i++ {
		require.NoError(t, entities[i].Add(ct, ecs.Props{"value": uint32(100 + i)}))
	}
	for i := 0; i < 4; i++ {
		v, err := entities[i].Read(ct)
		require.NoError(t, err)
		assert.Equal(t, uint32(100+i), v.MustGet("value"))
	}
	require.NoError(t, w.CheckInvariants())
}

func TestFixedCapacityExhaustion(t *testing.T) {
	ct := packedCounterType()
	ct.Capacity = 2
	w, err := ecs.NewWorld(ecs.Options{
		Defs:          []any{ct},
		RelaxedStages: true,
	})
	require.NoError(t, err)

	_, err = w.CreateEntity(ct, nil)
	require.NoError(t, err)
	_, err = w.CreateEntity(ct, nil)
	require.NoError(t, err)
	_, err = w.CreateEntity(ct, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ecs.ErrCheck)
}

func TestCompactStorage(t *testing.T) {
	ct := &ecs.ComponentType{
		Name:     "Settings",
		Storage:  ecs.StorageCompact,
		Capacity: 1,
		Fields:   []ecs.Field{{Name: "volume", Type: ecs.Float32, Default: float32(0.5)}},
	}
	w, err := ecs.NewWorld(ecs.Options{Defs: []any{ct}, RelaxedStages: true})
	require.NoError(t, err)

	e, err := w.CreateEntity(ct, nil)
	require.NoError(t, err)
	v, err := e.Read(ct)
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), v.MustGet("volume"))

	_, err = w.CreateEntity(ct, nil)
	assert.ErrorIs(t, err, ecs.ErrCheck, "a capacity-1 compact type holds one instance")

	// Releasing the slot makes room again.
	require.NoError(t, e.Remove(ct))
	require.NoError(t, w.Execute(0))
	require.NoError(t, w.Execute(0))
	_, err = w.CreateEntity(ct, nil)
	require.NoError(t, err)
}

func TestElasticCompactStorageGrows(t *testing.T) {
	ct := &ecs.ComponentType{
		Name:    "Rare",
		Storage: ecs.StorageCompact,
		Fields:  []ecs.Field{{Name: "n", Type: ecs.Int16}},
	}
	w, err := ecs.NewWorld(ecs.Options{Defs: []any{ct}, RelaxedStages: true})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := w.CreateEntity(ct, ecs.Props{"n": int16(i)})
		require.NoError(t, err)
	}
	require.NoError(t, w.CheckInvariants())
}

func TestStaleViewAfterGrowth(t *testing.T) {
	ct := packedCounterType()
	w, err := ecs.NewWorld(ecs.Options{
		Defs:          []any{ct},
		MaxEntities:   64,
		RelaxedStages: true,
	})
	require.NoError(t, err)

	e, err := w.CreateEntity(ct, nil)
	require.NoError(t, err)
	v, err := e.Read(ct)
	require.NoError(t, err)

	// Elastic growth starts at eight slots; the ninth acquire
	// reallocates the columns and invalidates the view.
	for i := 0; i < 8; i++ {
		_, err := w.CreateEntity(ct, nil)
		require.NoError(t, err)
	}
	_, err = v.Get("value")
	require.Error(t, err)
	assert.ErrorIs(t, err, ecs.ErrInternal)

	// Rebinding picks up the new buffer.
	v, err = e.Read(ct)
	require.NoError(t, err)
	_, err = v.Get("value")
	assert.NoError(t, err)
}

func TestMaxEntitiesIsAHardBound(t *testing.T) {
	w, err := ecs.NewWorld(ecs.Options{MaxEntities: 3, RelaxedStages: true})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := w.CreateEntity()
		require.NoError(t, err)
	}
	_, err = w.CreateEntity()
	require.Error(t, err)
	assert.ErrorIs(t, err, ecs.ErrCheck)
}

func TestFieldWidthsRoundTrip(t *testing.T) {
	ct := &ecs.ComponentType{
		Name: "Mixed",
		Fields: []ecs.Field{
			{Name: "u8", Type: ecs.Uint8},
			{Name: "u16", Type: ecs.Uint16},
			{Name: "u32", Type: ecs.Uint32},
			{Name: "i8", Type: ecs.Int8},
			{Name: "i16", Type: ecs.Int16},
			{Name: "i32", Type: ecs.Int32},
			{Name: "f32", Type: ecs.Float32},
			{Name: "f64", Type: ecs.Float64},
			{Name: "flag", Type: ecs.Bool},
		},
	}
	w, err := ecs.NewWorld(ecs.Options{Defs: []any{ct}, RelaxedStages: true})
	require.NoError(t, err)

	e, err := w.CreateEntity(ct, ecs.Props{
		"u8":   uint8(200),
		"u16":  uint16(60_000),
		"u32":  uint32(4_000_000_000),
		"i8":   int8(-100),
		"i16":  int16(-30_000),
		"i32":  int32(-2_000_000_000),
		"f32":  float32(3.5),
		"f64":  2.25,
		"flag": true,
	})
	require.NoError(t, err)

	v, err := e.Read(ct)
	require.NoError(t, err)
	for name, want := range map[string]any{
		"u8":   uint8(200),
		"u16":  uint16(60_000),
		"u32":  uint32(4_000_000_000),
		"i8":   int8(-100),
		"i16":  int16(-30_000),
		"i32":  int32(-2_000_000_000),
		"f32":  float32(3.5),
		"f64":  2.25,
		"flag": true,
	} {
		assert.Equal(t, want, v.MustGet(name), fmt.Sprintf("field %s", name))
	}
}
