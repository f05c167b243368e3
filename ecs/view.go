package ecs

// View is a short-lived handle onto one component instance, bound to the
// storage slot it occupied at bind time. Views read and write the shared
// field buffers directly; they must not be retained across a yield, a
// flush, or a system boundary. A view issued before an elastic storage
// grow is stale and fails with an internal error on use.
type View struct {
	store *componentStore
	e     Entity
	slot  int32
	epoch uint32
	write bool
}

// Entity returns the entity this view was bound for.
func (v View) Entity() Entity {
	return v.e
}

func (v View) check(field string) (int, error) {
	if v.store == nil {
		return 0, checkf("view is unbound")
	}
	if v.epoch != v.store.epoch {
		return 0, internalf("stale view of component %s used after storage reallocation", v.store.ct.Name)
	}
	idx, ok := v.store.ct.fieldIdx[field]
	if !ok {
		return 0, checkf("component %s has no field %s", v.store.ct.Name, field)
	}
	return idx, nil
}

// Get returns the field's current value, decoded at the field's declared
// width. Ref fields return an Entity, or nil when the ref is unset.
func (v View) Get(field string) (any, error) {
	idx, err := v.check(field)
	if err != nil {
		return nil, err
	}
	f := v.store.ct.Fields[idx]
	word := v.store.word(idx, v.slot)
	if f.Type.kind == kindRef {
		target, ok := v.store.w.decodeRef(word)
		if !ok {
			return nil, nil
		}
		return target, nil
	}
	return f.Type.decode(word), nil
}

// Set writes the field. Only views bound through Write accept it. Ref
// fields take an Entity or nil and keep the reverse-edge index in step.
func (v View) Set(field string, value any) error {
	idx, err := v.check(field)
	if err != nil {
		return err
	}
	if !v.write {
		return checkf("component %s is bound read-only", v.store.ct.Name)
	}
	f := v.store.ct.Fields[idx]
	if f.Type.kind == kindRef {
		return v.setRef(idx, value)
	}
	word, err := f.Type.encode(value)
	if err != nil {
		return err
	}
	v.store.setWord(idx, v.slot, word)
	return nil
}

func (v View) setRef(idx int, value any) error {
	w := v.store.w
	edge := refEdge{source: v.e.id, comp: v.store.ct.id, field: int32(idx)}
	if old, ok := w.decodeRef(v.store.word(idx, v.slot)); ok {
		w.refs.remove(old.id, edge)
	}
	if value == nil {
		v.store.setWord(idx, v.slot, 0)
		return nil
	}
	target, ok := value.(Entity)
	if !ok {
		return checkf("ref field %s takes an Entity or nil, not %T", v.store.ct.Fields[idx].Name, value)
	}
	if !target.Alive() {
		return checkf("ref field %s cannot point at a deleted entity", v.store.ct.Fields[idx].Name)
	}
	w.refs.add(target.id, edge)
	v.store.setWord(idx, v.slot, w.encodeRef(target))
	return nil
}

// MustGet is Get for contexts where the field is known to exist; it
// panics on a check failure.
func (v View) MustGet(field string) any {
	val, err := v.Get(field)
	if err != nil {
		panic(err)
	}
	return val
}

// MustSet is Set with the same contract as MustGet.
func (v View) MustSet(field string, value any) {
	if err := v.Set(field, value); err != nil {
		panic(err)
	}
}

// initSlot populates a freshly acquired slot: defaults first (skipped when
// the slot was resurrected inside the removal window, preserving its prior
// values), then the supplied partial record. Unknown names fail the add.
func (s *componentStore) initSlot(v View, values Props, resurrected bool) error {
	if s.back == nil {
		if len(values) > 0 {
			return checkf("component %s has no fields to initialize", s.ct.Name)
		}
		return nil
	}
	if !resurrected {
		for i, f := range s.ct.Fields {
			if f.Type.kind == kindRef {
				s.setWord(i, v.slot, 0)
				continue
			}
			s.setWord(i, v.slot, s.ct.defaults[i])
		}
	}
	for name, value := range values {
		if _, ok := s.ct.fieldIdx[name]; !ok {
			return checkf("component %s has no field %s", s.ct.Name, name)
		}
		if err := v.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// clearRefs nulls every ref field of the slot and removes their reverse
// edges, decrementing the targets' refcounts.
func (s *componentStore) clearRefs(e EntityId, slot int32) {
	for _, idx := range s.ct.refs {
		word := s.word(idx, slot)
		if target, ok := s.w.decodeRef(word); ok {
			s.w.refs.remove(target.id, refEdge{source: e, comp: s.ct.id, field: int32(idx)})
		}
		s.setWord(idx, slot, 0)
	}
}
