package ecs

import (
	"github.com/kamstrup/intmap"
)

// slotIndex maps entity ids to storage slots for one component type. The
// three implementations correspond to the storage kinds: sparse indexes
// slots directly by entity id, packed keeps a compact slot array with a
// LIFO free list, compact linear-scans a small id table.
type slotIndex interface {
	// acquire allocates a slot for the entity. grew reports that the
	// backing capacity changed and column buffers must be reallocated.
	acquire(e EntityId) (slot int32, grew bool, err error)
	// release returns the entity's slot to the index for reuse.
	release(e EntityId) (int32, error)
	// slotOf returns the entity's slot, or -1 when none is held.
	slotOf(e EntityId) int32
	capacity() int32
}

// sparseIndex is the sparse storage kind: slot == entity id, capacity is
// always maxEntities. Constant time at the cost of space.
type sparseIndex struct {
	acquired []uint64
	cap      int32
}

func newSparseIndex(maxEntities int32) *sparseIndex {
	return &sparseIndex{
		acquired: make([]uint64, (maxEntities+63)/64),
		cap:      maxEntities,
	}
}

func (s *sparseIndex) acquire(e EntityId) (int32, bool, error) {
	if s.acquired[e/64]&(1<<(e%64)) != 0 {
		return -1, false, internalf("sparse slot %d acquired twice", e)
	}
	s.acquired[e/64] |= 1 << (e % 64)
	return int32(e), false, nil
}

func (s *sparseIndex) release(e EntityId) (int32, error) {
	if s.acquired[e/64]&(1<<(e%64)) == 0 {
		return -1, internalf("sparse slot %d released without acquire", e)
	}
	s.acquired[e/64] &^= 1 << (e % 64)
	return int32(e), nil
}

func (s *sparseIndex) slotOf(e EntityId) int32 {
	if s.acquired[e/64]&(1<<(e%64)) == 0 {
		return -1
	}
	return int32(e)
}

func (s *sparseIndex) capacity() int32 { return s.cap }

// packedInts is an int32-valued array that stores its elements in the
// narrowest of int8/int16/int32 that the current capacity allows. -1 is
// reserved as the empty sentinel, so int8 covers capacities up to 127.
type packedInts struct {
	w8  []int8
	w16 []int16
	w32 []int32
}

func widthFor(capacity int32) int {
	switch {
	case capacity <= 127:
		return 1
	case capacity <= 32767:
		return 2
	default:
		return 4
	}
}

func newPackedInts(length, capacity int32, fill int32) packedInts {
	var p packedInts
	switch widthFor(capacity) {
	case 1:
		p.w8 = make([]int8, length)
		for i := range p.w8 {
			p.w8[i] = int8(fill)
		}
	case 2:
		p.w16 = make([]int16, length)
		for i := range p.w16 {
			p.w16[i] = int16(fill)
		}
	default:
		p.w32 = make([]int32, length)
		for i := range p.w32 {
			p.w32[i] = fill
		}
	}
	return p
}

func (p *packedInts) get(i int32) int32 {
	switch {
	case p.w8 != nil:
		return int32(p.w8[i])
	case p.w16 != nil:
		return int32(p.w16[i])
	default:
		return p.w32[i]
	}
}

func (p *packedInts) set(i, v int32) {
	switch {
	case p.w8 != nil:
		p.w8[i] = int8(v)
	case p.w16 != nil:
		p.w16[i] = int16(v)
	default:
		p.w32[i] = v
	}
}

func (p *packedInts) length() int32 {
	switch {
	case p.w8 != nil:
		return int32(len(p.w8))
	case p.w16 != nil:
		return int32(len(p.w16))
	default:
		return int32(len(p.w32))
	}
}

// widen re-materializes the array at the width the new capacity needs,
// preserving values.
func (p *packedInts) widen(capacity int32) {
	oldWidth := 4
	switch {
	case p.w8 != nil:
		oldWidth = 1
	case p.w16 != nil:
		oldWidth = 2
	}
	if widthFor(capacity) <= oldWidth {
		return
	}
	n := p.length()
	next := newPackedInts(n, capacity, 0)
	for i := int32(0); i < n; i++ {
		next.set(i, p.get(i))
	}
	*p = next
}

// packedIndex is the packed storage kind: entity ids map through an index
// array into a dense slot space with a LIFO free list. Elastic instances
// double capacity up to maxEntities when the slot space is exhausted.
type packedIndex struct {
	index   packedInts // entity id -> slot, -1 when empty
	free    packedInts // LIFO stack of released slots
	freeLen int32
	next    int32 // high-water mark of never-used slots
	cap     int32
	elastic bool
	maxCap  int32
}

func newPackedIndex(maxEntities, capacity int32, elastic bool) *packedIndex {
	if capacity > maxEntities {
		capacity = maxEntities
	}
	return &packedIndex{
		index:   newPackedInts(maxEntities, capacity, -1),
		free:    newPackedInts(capacity, capacity, -1),
		cap:     capacity,
		elastic: elastic,
		maxCap:  maxEntities,
	}
}

func (p *packedIndex) acquire(e EntityId) (int32, bool, error) {
	if p.index.get(int32(e)) >= 0 {
		return -1, false, internalf("packed slot for entity %d acquired twice", e)
	}
	grew := false
	var slot int32
	switch {
	case p.freeLen > 0:
		p.freeLen--
		slot = p.free.get(p.freeLen)
	case p.next < p.cap:
		slot = p.next
		p.next++
	default:
		if !p.elastic || p.cap >= p.maxCap {
			return -1, false, checkf("component storage full at capacity %d", p.cap)
		}
		p.grow()
		grew = true
		slot = p.next
		p.next++
	}
	p.index.set(int32(e), slot)
	return slot, grew, nil
}

func (p *packedIndex) grow() {
	next := p.cap * 2
	if next > p.maxCap {
		next = p.maxCap
	}
	p.index.widen(next)
	p.free.widen(next)
	freeNext := newPackedInts(next, next, -1)
	for i := int32(0); i < p.freeLen; i++ {
		freeNext.set(i, p.free.get(i))
	}
	p.free = freeNext
	p.cap = next
}

func (p *packedIndex) release(e EntityId) (int32, error) {
	slot := p.index.get(int32(e))
	if slot < 0 {
		return -1, internalf("packed slot for entity %d released without acquire", e)
	}
	p.index.set(int32(e), -1)
	p.free.set(p.freeLen, slot)
	p.freeLen++
	return slot, nil
}

func (p *packedIndex) slotOf(e EntityId) int32 {
	return p.index.get(int32(e))
}

func (p *packedIndex) capacity() int32 { return p.cap }

// compactIndex is the compact storage kind: a linear-scan table of live
// entity ids sized to capacity. Suited to singletons and rare types.
type compactIndex struct {
	ids     []uint32 // entity id + 1, 0 when empty
	elastic bool
	maxCap  int32
}

func newCompactIndex(maxEntities, capacity int32, elastic bool) *compactIndex {
	if capacity > maxEntities {
		capacity = maxEntities
	}
	return &compactIndex{
		ids:     make([]uint32, capacity),
		elastic: elastic,
		maxCap:  maxEntities,
	}
}

func (c *compactIndex) acquire(e EntityId) (int32, bool, error) {
	firstEmpty := int32(-1)
	for i, id := range c.ids {
		if id == uint32(e)+1 {
			return -1, false, internalf("compact slot for entity %d acquired twice", e)
		}
		if id == 0 && firstEmpty < 0 {
			firstEmpty = int32(i)
		}
	}
	if firstEmpty >= 0 {
		c.ids[firstEmpty] = uint32(e) + 1
		return firstEmpty, false, nil
	}
	if !c.elastic || int32(len(c.ids)) >= c.maxCap {
		return -1, false, checkf("component storage full at capacity %d", len(c.ids))
	}
	next := int32(len(c.ids)) * 2
	if next > c.maxCap {
		next = c.maxCap
	}
	grown := make([]uint32, next)
	copy(grown, c.ids)
	slot := int32(len(c.ids))
	c.ids = grown
	c.ids[slot] = uint32(e) + 1
	return slot, true, nil
}

func (c *compactIndex) release(e EntityId) (int32, error) {
	for i, id := range c.ids {
		if id == uint32(e)+1 {
			c.ids[i] = 0
			return int32(i), nil
		}
	}
	return -1, internalf("compact slot for entity %d released without acquire", e)
}

func (c *compactIndex) slotOf(e EntityId) int32 {
	for i, id := range c.ids {
		if id == uint32(e)+1 {
			return int32(i)
		}
	}
	return -1
}

func (c *compactIndex) capacity() int32 { return int32(len(c.ids)) }

// pendingRemoval records a component removal whose slot is retained for
// recently-deleted access until the sweep at the end of the next frame.
type pendingRemoval struct {
	slot  int32
	frame uint64
}

// componentStore owns one component type's slot index and field columns.
// Tag components carry neither; their existence lives in the shape bitmask
// alone.
type componentStore struct {
	w     *World
	ct    *ComponentType
	kind  StorageKind
	back  slotIndex
	cols  []column
	epoch uint32

	pending    *intmap.Map[uint32, pendingRemoval]
	pendingIds []uint32
}

const initialElasticCapacity = 8

func newComponentStore(w *World, ct *ComponentType, kind StorageKind) *componentStore {
	s := &componentStore{
		w:       w,
		ct:      ct,
		kind:    kind,
		pending: intmap.New[uint32, pendingRemoval](16),
	}
	if ct.isTag() {
		// Tags are forced to sparse and take no buffers at all.
		s.kind = StorageSparse
		return s
	}
	maxEntities := int32(w.maxEntities)
	elastic := ct.Capacity == 0
	capacity := int32(ct.Capacity)
	if elastic {
		capacity = initialElasticCapacity
	}
	switch s.kind {
	case StorageSparse:
		s.back = newSparseIndex(maxEntities)
		capacity = maxEntities
	case StoragePacked:
		s.back = newPackedIndex(maxEntities, capacity, elastic)
		capacity = s.back.capacity()
	case StorageCompact:
		if elastic {
			capacity = 1
		}
		s.back = newCompactIndex(maxEntities, capacity, elastic)
		capacity = s.back.capacity()
	}
	s.cols = make([]column, len(ct.Fields))
	for i := range s.cols {
		s.cols[i] = newColumn(capacity)
	}
	return s
}

// acquire allocates a slot for the entity, resurrecting a pending-removal
// slot when one is still held for it. resurrected reports that the slot's
// previous field values were preserved.
func (s *componentStore) acquire(e EntityId) (slot int32, resurrected bool, err error) {
	if s.back == nil {
		return -1, false, nil
	}
	if pr, ok := s.pending.Get(uint32(e)); ok {
		s.pending.Del(uint32(e))
		return pr.slot, true, nil
	}
	slot, grew, err := s.back.acquire(e)
	if err != nil {
		return -1, false, err
	}
	if grew {
		capacity := s.back.capacity()
		for i := range s.cols {
			s.cols[i].grow(capacity)
		}
		// Every outstanding view of this store is now stale.
		s.epoch++
	}
	return slot, false, nil
}

// retire clears the entity's slot from the live index but keeps the slot
// contents addressable for recently-deleted access. The sweep releases it
// at the end of the following frame.
func (s *componentStore) retire(e EntityId, frame uint64) error {
	if s.back == nil {
		return nil
	}
	slot := s.back.slotOf(e)
	if slot < 0 {
		return internalf("component %s retired on entity %d without a slot", s.ct.Name, e)
	}
	s.pending.Put(uint32(e), pendingRemoval{slot: slot, frame: frame})
	s.pendingIds = append(s.pendingIds, uint32(e))
	return nil
}

// drop releases the entity's slot immediately, bypassing the
// recently-deleted window. Used by entity deletion and mutation unwinds.
func (s *componentStore) drop(e EntityId) error {
	if s.back == nil {
		return nil
	}
	s.pending.Del(uint32(e))
	_, err := s.back.release(e)
	return err
}

// sweep finally releases slots whose removal happened before the given
// frame. Reads of those components fail afterwards. Ids whose pending
// entry was consumed by a resurrection or a deletion are skipped.
func (s *componentStore) sweep(before uint64) {
	if s.back == nil || len(s.pendingIds) == 0 {
		return
	}
	kept := s.pendingIds[:0]
	for _, e := range s.pendingIds {
		pr, ok := s.pending.Get(e)
		if !ok {
			continue
		}
		if pr.frame >= before {
			kept = append(kept, e)
			continue
		}
		s.pending.Del(e)
		s.back.release(EntityId(e)) //nolint:errcheck // pending implies acquired
	}
	s.pendingIds = kept
}

// pendingSlot returns the retained slot for a recently removed component,
// or -1 when none is held (or the slot has been reassigned).
func (s *componentStore) pendingSlot(e EntityId) int32 {
	if pr, ok := s.pending.Get(uint32(e)); ok {
		return pr.slot
	}
	return -1
}

func (s *componentStore) slotOf(e EntityId) int32 {
	if s.back == nil {
		return -1
	}
	return s.back.slotOf(e)
}

func (s *componentStore) word(col int, slot int32) uint64 {
	return s.cols[col].words[slot]
}

func (s *componentStore) setWord(col int, slot int32, word uint64) {
	s.cols[col].words[slot] = word
}
