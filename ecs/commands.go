package ecs

// commandBuffer collects the deferred mutations of the running frame:
// entity deletions, entity spawns, and plain deferred functions. The
// flush that runs after every system drains it, so a system's deletions
// and spawns land before the next system in the plan runs, not while the
// system executes. Component adds and removes are not buffered here; they
// apply immediately.
type commandBuffer struct {
	deletes []Entity
	spawns  [][]any
	defers  []func()
}

func (c *commandBuffer) deleteEntity(e Entity) {
	for _, d := range c.deletes {
		if d == e {
			return
		}
	}
	c.deletes = append(c.deletes, e)
}

func (c *commandBuffer) spawn(defs []any) {
	c.spawns = append(c.spawns, defs)
}

func (c *commandBuffer) deferFn(fn func()) {
	c.defers = append(c.defers, fn)
}

func (c *commandBuffer) empty() bool {
	return len(c.deletes) == 0 && len(c.spawns) == 0 && len(c.defers) == 0
}

// drain applies the buffered mutations against the world: deletions
// first, with their ref clearance, then spawns, then the deferred
// functions in queue order. A validator rejecting a spawned entity
// aborts the drain and with it the frame.
func (c *commandBuffer) drain(w *World) error {
	for !c.empty() {
		deletes := c.deletes
		c.deletes = nil
		for _, e := range deletes {
			if err := w.destroyEntity(e); err != nil {
				return err
			}
		}
		spawns := c.spawns
		c.spawns = nil
		for _, defs := range spawns {
			if _, err := w.createEntity(defs...); err != nil {
				return err
			}
		}
		defers := c.defers
		c.defers = nil
		for _, fn := range defers {
			fn()
		}
	}
	return nil
}
