package ecs

// Singleton provides access to a single component instance carried by a
// dedicated entity. Use it for global simulation state or configuration
// that systems read through their normal entitlements.
type Singleton struct {
	w  *World
	ct *ComponentType
	e  Entity
}

// NewSingletonType declares a component type suited to singleton use:
// compact storage with a capacity of exactly one instance.
func NewSingletonType(name string, fields ...Field) *ComponentType {
	return &ComponentType{
		Name:     name,
		Fields:   fields,
		Storage:  StorageCompact,
		Capacity: 1,
	}
}

// Singleton creates the carrier entity for the component type and
// returns its accessor. Call during setup; the entity is held so its id
// is never recycled out from under the accessor.
func (w *World) Singleton(ct *ComponentType, values Props) (*Singleton, error) {
	e, err := w.CreateEntity(ct, values)
	if err != nil {
		return nil, err
	}
	return &Singleton{w: w, ct: ct, e: e.Hold()}, nil
}

// Entity returns the carrier entity.
func (s *Singleton) Entity() Entity { return s.e }

// Read binds a read-only view of the singleton. The calling system must
// have declared access to the component type.
func (s *Singleton) Read() (View, error) {
	return s.e.Read(s.ct)
}

// Write binds a writable view of the singleton. The calling system must
// have declared write access to the component type.
func (s *Singleton) Write() (View, error) {
	return s.e.Write(s.ct)
}
