package ecs

import "fmt"

// Entity is a generation-checked handle onto one entity of a world. The
// zero value is the null entity. Handles are values; copying one is free.
// A handle whose entity has been deleted (or whose id has been recycled)
// fails every operation with a check error.
type Entity struct {
	w   *World
	id  EntityId
	gen uint32
}

// Id returns the entity's 32-bit id. Ids are recycled after deletion, so
// an id alone does not identify an entity over time; the handle does.
func (e Entity) Id() EntityId {
	return e.id
}

func (e Entity) String() string {
	if e.w == nil {
		return "Entity(nil)"
	}
	return fmt.Sprintf("Entity(%d@%d)", e.id, e.gen)
}

// Alive reports whether the handle still names a live entity.
func (e Entity) Alive() bool {
	return e.w != nil && e.w.alive.has(EntityId(e.id)) && e.w.generations[e.id] == e.gen
}

func (e Entity) live() error {
	if e.w == nil {
		return checkf("operation on a null entity handle")
	}
	if !e.Alive() {
		return checkf("operation on a deleted or stale entity handle %s", e)
	}
	return nil
}

func (e Entity) typeOf(ct *ComponentType) (*componentStore, error) {
	if ct == nil {
		return nil, checkf("nil component type")
	}
	if ct.owner != e.w {
		return nil, checkf("component type %s is not registered with this world", ct.Name)
	}
	return e.w.stores[ct.id], nil
}

// Add attaches the component to the entity, initializing its fields from
// the schema defaults overlaid with values. Fails if the component is
// already present, on an unknown field name, or when a validator rejects
// the new shape (which unwinds the add completely).
func (e Entity) Add(ct *ComponentType, values Props) error {
	if err := e.live(); err != nil {
		return err
	}
	if e.w.inValidator {
		return checkf("validators cannot mutate entities")
	}
	store, err := e.typeOf(ct)
	if err != nil {
		return err
	}
	if e.w.shapes.has(e.id, ct.id) {
		return checkf("entity %s already has component %s", e, ct.Name)
	}

	wasPending, prior := store.pendingRecord(e.id)
	slot, resurrected, err := store.acquire(e.id)
	if err != nil {
		return err
	}
	e.w.shapes.set(e.id, ct.id)

	unwind := func() {
		e.w.shapes.clear(e.id, ct.id)
		if store.back != nil {
			store.clearRefs(e.id, slot)
		}
		if resurrected && wasPending {
			store.pending.Put(uint32(e.id), prior)
		} else {
			store.drop(e.id) //nolint:errcheck // just acquired
		}
	}

	view := View{store: store, e: e, slot: slot, epoch: store.epoch, write: true}
	if err := store.initSlot(view, values, resurrected); err != nil {
		unwind()
		return err
	}
	if err := e.w.runValidators(e, nil); err != nil {
		unwind()
		return err
	}
	return nil
}

// Remove detaches the component. The slot is retained until the end of the
// next frame so queries that opted into recently-deleted access can still
// read it; a validator rejection restores the previous shape.
func (e Entity) Remove(ct *ComponentType) error {
	if err := e.live(); err != nil {
		return err
	}
	if e.w.inValidator {
		return checkf("validators cannot mutate entities")
	}
	store, err := e.typeOf(ct)
	if err != nil {
		return err
	}
	if !e.w.shapes.has(e.id, ct.id) {
		return checkf("entity %s does not have component %s", e, ct.Name)
	}

	e.w.shapes.clear(e.id, ct.id)
	if err := e.w.runValidators(e, ct); err != nil {
		e.w.shapes.set(e.id, ct.id)
		return err
	}
	if store.back != nil {
		slot := store.slotOf(e.id)
		store.clearRefs(e.id, slot)
		if err := store.retire(e.id, e.w.frame); err != nil {
			return err
		}
	}
	return nil
}

// Has reports whether the component is present on the entity.
func (e Entity) Has(ct *ComponentType) bool {
	if e.live() != nil || ct == nil || ct.owner != e.w {
		return false
	}
	return e.w.shapes.has(e.id, ct.id)
}

// HasAllOf reports whether every listed component is present.
func (e Entity) HasAllOf(types ...*ComponentType) bool {
	for _, ct := range types {
		if !e.Has(ct) {
			return false
		}
	}
	return true
}

// HasAnyOf reports whether at least one listed component is present.
func (e Entity) HasAnyOf(types ...*ComponentType) bool {
	for _, ct := range types {
		if e.Has(ct) {
			return true
		}
	}
	return false
}

// HasAnyOtherThan reports whether the entity carries any component not in
// the given list.
func (e Entity) HasAnyOtherThan(types ...*ComponentType) bool {
	if e.live() != nil {
		return false
	}
	excluded := newMask(len(e.w.types))
	for _, ct := range types {
		if ct != nil && ct.owner == e.w {
			excluded.set(ct.id)
		}
	}
	row := e.w.shapes.row(e.id)
	for i, word := range row {
		if word&^excluded[i] != 0 {
			return true
		}
	}
	return false
}

// CountHas returns how many of the listed components are present.
func (e Entity) CountHas(types ...*ComponentType) int {
	n := 0
	for _, ct := range types {
		if e.Has(ct) {
			n++
		}
	}
	return n
}

// Read binds a read-only view of the component. The calling system must
// have declared read or write access in a query; validators are denied.
// With a recently-deleted opt-in, a component removed this frame or the
// last can still be read while its slot has not been reassigned.
func (e Entity) Read(ct *ComponentType) (View, error) {
	if err := e.live(); err != nil {
		return View{}, err
	}
	store, err := e.typeOf(ct)
	if err != nil {
		return View{}, err
	}
	if err := e.w.checkEntitlement(ct, false); err != nil {
		return View{}, err
	}
	if e.w.shapes.has(e.id, ct.id) {
		return View{store: store, e: e, slot: store.slotOf(e.id), epoch: store.epoch}, nil
	}
	if sys := e.w.current; sys != nil && sys.recentMask.has(ct.id) {
		if slot := store.pendingSlot(e.id); slot >= 0 {
			return View{store: store, e: e, slot: slot, epoch: store.epoch}, nil
		}
	}
	return View{}, checkf("entity %s does not have component %s", e, ct.Name)
}

// Write binds a writable view of the component. The calling system must
// have declared write access in a query; validators are denied.
func (e Entity) Write(ct *ComponentType) (View, error) {
	if err := e.live(); err != nil {
		return View{}, err
	}
	store, err := e.typeOf(ct)
	if err != nil {
		return View{}, err
	}
	if err := e.w.checkEntitlement(ct, true); err != nil {
		return View{}, err
	}
	if !e.w.shapes.has(e.id, ct.id) {
		return View{}, checkf("entity %s does not have component %s", e, ct.Name)
	}
	return View{store: store, e: e, slot: store.slotOf(e.id), epoch: store.epoch, write: true}, nil
}

// Delete marks the entity for destruction at the next flush. Inbound refs
// are nulled and the id returns to the pool there; a held id is not
// recycled until the last hold is released.
func (e Entity) Delete() error {
	if err := e.live(); err != nil {
		return err
	}
	if e.w.inValidator {
		return checkf("validators cannot mutate entities")
	}
	e.w.deferred.deleteEntity(e)
	return nil
}

// Hold pins the entity's id so the pool cannot recycle it while the
// caller still holds the handle. Pair with Unhold.
func (e Entity) Hold() Entity {
	if e.live() != nil {
		return e
	}
	n, _ := e.w.holds.Get(uint32(e.id))
	e.w.holds.Put(uint32(e.id), n+1)
	return e
}

// Unhold releases a pin taken with Hold. When the entity was deleted
// while held, the last release returns the id to the pool.
func (e Entity) Unhold() {
	if e.w == nil {
		return
	}
	n, ok := e.w.holds.Get(uint32(e.id))
	if !ok {
		return
	}
	if n > 1 {
		e.w.holds.Put(uint32(e.id), n-1)
		return
	}
	e.w.holds.Del(uint32(e.id))
	if !e.w.alive.has(e.id) {
		e.w.freeIds = append(e.w.freeIds, e.id)
	}
}

// RefCount returns the number of live ref fields pointing at the entity.
func (e Entity) RefCount() int {
	if e.live() != nil {
		return 0
	}
	return int(e.w.refs.count(e.id))
}

// pendingRecord peeks the removal window entry for an entity, if any.
func (s *componentStore) pendingRecord(e EntityId) (bool, pendingRemoval) {
	pr, ok := s.pending.Get(uint32(e))
	return ok, pr
}
