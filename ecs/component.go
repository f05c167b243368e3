package ecs

// EntityId is the dense 32-bit entity index. Handles pair it with a
// generation counter so stale references are detectable.
type EntityId uint32

// ComponentId is the dense per-world component type index.
type ComponentId int32

// MaxNumFields bounds the schema size of a single component type.
const MaxNumFields = 64

// StorageKind selects the backing layout for a component type.
type StorageKind uint8

const (
	// StorageDefault defers to the world's default storage.
	StorageDefault StorageKind = iota
	// StorageSparse indexes slots directly by entity id. Constant time,
	// buffer length equals maxEntities.
	StorageSparse
	// StoragePacked keeps a compact slot array with a LIFO free list and an
	// entity index that auto-sizes between int8/int16/int32.
	StoragePacked
	// StorageCompact is a linear-scan table sized to capacity, intended for
	// singletons and rare types.
	StorageCompact
)

func (k StorageKind) String() string {
	switch k {
	case StorageSparse:
		return "sparse"
	case StoragePacked:
		return "packed"
	case StorageCompact:
		return "compact"
	default:
		return "default"
	}
}

// Props supplies named values: field values for a component add, or exported
// struct field values bound to a system at registration.
type Props map[string]any

// Field is a typed slot in a component schema. Identity is positional; the
// name only serves lookups and diagnostics.
type Field struct {
	Name    string
	Type    *FieldType
	Default any
}

// ComponentType declares a component schema for one world. Register it by
// listing it in Options.Defs. A type may belong to at most one live world at
// a time.
type ComponentType struct {
	Name    string
	Fields  []Field
	Storage StorageKind
	// Capacity fixes the slot count when positive; zero means elastic growth
	// up to the world's maxEntities.
	Capacity int
	// Validate runs against the post-change shape on every shape mutation
	// involving this component's entity. Returning an error unwinds the
	// mutation. Validators may inspect the shape but hold no read or write
	// entitlements.
	Validate func(Entity) error

	id       ComponentId
	owner    *World
	fieldIdx map[string]int
	refs     []int    // indices of ref fields
	defaults []uint64 // encoded default per field, ref fields always 0
}

// Id returns the dense id assigned when the owning world was created.
func (ct *ComponentType) Id() ComponentId {
	return ct.id
}

func (ct *ComponentType) isTag() bool {
	return len(ct.Fields) == 0
}

// bind attaches the type to a world, assigning its id and precomputing the
// schema tables.
func (ct *ComponentType) bind(w *World, id ComponentId) error {
	if ct.Name == "" {
		return checkf("component type must have a name")
	}
	if ct.owner != nil && !ct.owner.stageIs(StageDone) && ct.owner != w {
		return checkf("component type %s is already in use by another world", ct.Name)
	}
	if len(ct.Fields) > MaxNumFields {
		return checkf("component type %s has %d fields, max is %d", ct.Name, len(ct.Fields), MaxNumFields)
	}

	ct.fieldIdx = make(map[string]int, len(ct.Fields))
	ct.refs = ct.refs[:0]
	ct.defaults = make([]uint64, len(ct.Fields))
	for i, f := range ct.Fields {
		if f.Name == "" || f.Type == nil {
			return checkf("component type %s field %d is missing a name or type", ct.Name, i)
		}
		if _, dup := ct.fieldIdx[f.Name]; dup {
			return checkf("component type %s declares field %s twice", ct.Name, f.Name)
		}
		ct.fieldIdx[f.Name] = i
		if f.Type.kind == kindRef {
			ct.refs = append(ct.refs, i)
			if f.Default != nil {
				return checkf("component type %s ref field %s cannot have a default", ct.Name, f.Name)
			}
			continue
		}
		if f.Default != nil {
			word, err := f.Type.encode(f.Default)
			if err != nil {
				return checkf("component type %s field %s default: %v", ct.Name, f.Name, err)
			}
			ct.defaults[i] = word
		}
	}

	ct.owner = w
	ct.id = id
	return nil
}

// ReleaseComponentTypes detaches component types from whatever world owns
// them so they can be registered again. Intended for tests that build many
// short-lived worlds from shared type declarations.
func ReleaseComponentTypes(types ...*ComponentType) {
	for _, ct := range types {
		ct.owner = nil
	}
}
