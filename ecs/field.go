package ecs

import "math"

type fieldKind uint8

const (
	kindUint fieldKind = iota
	kindInt
	kindFloat
	kindBool
	kindRef
)

// FieldType describes the wire shape of a single component field: its byte
// width, how values are packed into the shared word buffers, and the zero
// value used when no default is declared. The set of descriptors is closed;
// components pick from the package-level instances below.
type FieldType struct {
	Name string
	Size int // bytes occupied by a value, 1..8
	kind fieldKind
}

var (
	Uint8   = &FieldType{Name: "uint8", Size: 1, kind: kindUint}
	Uint16  = &FieldType{Name: "uint16", Size: 2, kind: kindUint}
	Uint32  = &FieldType{Name: "uint32", Size: 4, kind: kindUint}
	Int8    = &FieldType{Name: "int8", Size: 1, kind: kindInt}
	Int16   = &FieldType{Name: "int16", Size: 2, kind: kindInt}
	Int32   = &FieldType{Name: "int32", Size: 4, kind: kindInt}
	Float32 = &FieldType{Name: "float32", Size: 4, kind: kindFloat}
	Float64 = &FieldType{Name: "float64", Size: 8, kind: kindFloat}
	Bool    = &FieldType{Name: "bool", Size: 1, kind: kindBool}

	// Ref fields hold an Entity or nil. The engine tracks a reverse edge for
	// every non-nil ref so deleting the target nulls the field.
	Ref = &FieldType{Name: "ref", Size: 8, kind: kindRef}
)

func (ft *FieldType) widthMask() uint64 {
	if ft.Size >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (8 * ft.Size)) - 1
}

// encode packs a Go value into a storage word. Ref fields are not handled
// here; they go through View.Set so the reverse-edge index stays consistent.
func (ft *FieldType) encode(value any) (uint64, error) {
	switch ft.kind {
	case kindUint:
		u, ok := toUint64(value)
		if !ok {
			return 0, checkf("field type %s cannot hold %T value", ft.Name, value)
		}
		return u & ft.widthMask(), nil
	case kindInt:
		i, ok := toInt64(value)
		if !ok {
			return 0, checkf("field type %s cannot hold %T value", ft.Name, value)
		}
		return uint64(i) & ft.widthMask(), nil
	case kindFloat:
		f, ok := toFloat64(value)
		if !ok {
			return 0, checkf("field type %s cannot hold %T value", ft.Name, value)
		}
		if ft.Size == 4 {
			return uint64(math.Float32bits(float32(f))), nil
		}
		return math.Float64bits(f), nil
	case kindBool:
		b, ok := value.(bool)
		if !ok {
			return 0, checkf("field type bool cannot hold %T value", value)
		}
		if b {
			return 1, nil
		}
		return 0, nil
	}
	return 0, internalf("field type %s has no encoding", ft.Name)
}

// decode unpacks a storage word into the Go value the width dictates, so a
// written value reads back byte-for-byte.
func (ft *FieldType) decode(word uint64) any {
	switch ft.kind {
	case kindUint:
		switch ft.Size {
		case 1:
			return uint8(word)
		case 2:
			return uint16(word)
		default:
			return uint32(word)
		}
	case kindInt:
		switch ft.Size {
		case 1:
			return int8(word)
		case 2:
			return int16(word)
		default:
			return int32(word)
		}
	case kindFloat:
		if ft.Size == 4 {
			return math.Float32frombits(uint32(word))
		}
		return math.Float64frombits(word)
	case kindBool:
		return word != 0
	}
	return nil
}

func toUint64(value any) (uint64, bool) {
	switch v := value.(type) {
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	case uint:
		return uint64(v), true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	}
	return 0, false
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// column is one field's backing buffer, indexed by storage slot. All widths
// share the one-word-per-slot layout; the FieldType masks on access.
type column struct {
	words []uint64
}

func newColumn(capacity int32) column {
	return column{words: make([]uint64, capacity)}
}

func (c *column) grow(capacity int32) {
	if int(capacity) <= len(c.words) {
		return
	}
	next := make([]uint64, capacity)
	copy(next, c.words)
	c.words = next
}
