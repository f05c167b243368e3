package ecs

import (
	"github.com/kamstrup/intmap"
)

// refEdge identifies one ref field instance pointing at a target entity.
type refEdge struct {
	source EntityId
	comp   ComponentId
	field  int32
}

// refIndex tracks the reverse edges of all live ref fields so deleting a
// target entity can null out every field still pointing at it. In-degree
// is typically low, so edges per target live in a small flat list.
type refIndex struct {
	inbound *intmap.Map[uint32, []refEdge]
	counts  *intmap.Map[uint32, int32]
}

func newRefIndex() *refIndex {
	return &refIndex{
		inbound: intmap.New[uint32, []refEdge](64),
		counts:  intmap.New[uint32, int32](64),
	}
}

func (r *refIndex) add(target EntityId, edge refEdge) {
	edges, _ := r.inbound.Get(uint32(target))
	r.inbound.Put(uint32(target), append(edges, edge))
	n, _ := r.counts.Get(uint32(target))
	r.counts.Put(uint32(target), n+1)
}

func (r *refIndex) remove(target EntityId, edge refEdge) {
	edges, ok := r.inbound.Get(uint32(target))
	if !ok {
		return
	}
	for i, e := range edges {
		if e == edge {
			edges[i] = edges[len(edges)-1]
			edges = edges[:len(edges)-1]
			break
		}
	}
	if len(edges) == 0 {
		r.inbound.Del(uint32(target))
	} else {
		r.inbound.Put(uint32(target), edges)
	}
	if n, _ := r.counts.Get(uint32(target)); n <= 1 {
		r.counts.Del(uint32(target))
	} else {
		r.counts.Put(uint32(target), n-1)
	}
}

// take removes and returns every inbound edge of the target. Used by the
// deletion sweep, which nulls each source field.
func (r *refIndex) take(target EntityId) []refEdge {
	edges, ok := r.inbound.Get(uint32(target))
	if !ok {
		return nil
	}
	r.inbound.Del(uint32(target))
	r.counts.Del(uint32(target))
	return edges
}

// count returns the number of live refs pointing at the target.
func (r *refIndex) count(target EntityId) int32 {
	n, _ := r.counts.Get(uint32(target))
	return n
}
