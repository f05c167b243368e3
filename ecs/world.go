package ecs

import (
	"context"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/kamstrup/intmap"
	"github.com/rs/zerolog"
)

// Stage is the world's lifecycle state.
type Stage uint8

const (
	StageSetup Stage = iota
	StageInitializing
	StageRunning
	StageQuiescent
	StageFinalizing
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageSetup:
		return "setup"
	case StageInitializing:
		return "initializing"
	case StageRunning:
		return "running"
	case StageQuiescent:
		return "quiescent"
	case StageFinalizing:
		return "finalizing"
	case StageDone:
		return "done"
	}
	return "unknown"
}

const defaultMaxEntities = 10_000

// Options configures a new world.
type Options struct {
	// Defs lists the world's component types, systems, per-system Props
	// records, system groups, and arbitrarily nested slices of the same.
	// A Props entry binds to the immediately preceding system.
	Defs []any

	// MaxEntities is the hard upper bound on live entities. Defaults to
	// 10_000. Allocation beyond it fails.
	MaxEntities int

	// DefaultComponentStorage applies to component types that declare
	// StorageDefault. Defaults to sparse.
	DefaultComponentStorage StorageKind

	// Logger receives the world's structured log output. Defaults to a
	// no-op logger.
	Logger *zerolog.Logger

	// RelaxedStages permits CreateEntity and Build outside the setup
	// stage. Intended for tests.
	RelaxedStages bool
}

// World owns all entities, components, and systems of one simulation. A
// world is strictly single-threaded: Execute advances one frame, running
// every system in the planned order with a flush of deferred mutations
// between systems.
type World struct {
	id  uuid.UUID
	log zerolog.Logger

	stage   Stage
	relaxed bool
	broken  error

	maxEntities    int
	defaultStorage StorageKind

	types  []*ComponentType
	stores []*componentStore
	shapes *shapeTable
	refs   *refIndex

	alive       entitySet
	generations []uint32
	nextId      EntityId
	freeIds     []EntityId
	holds       *intmap.Map[uint32, int32]

	groups   []*SystemGroup
	mainGrp  *SystemGroup
	systems  []*systemNode
	executor *Executor

	frame uint64
	time  float64

	current     *systemNode
	inValidator bool
	deferred    *commandBuffer

	pendingControl []ControlOptions
}

// NewWorld registers the given defs, assigns component ids, resolves the
// execution plan of every group, and leaves the world in the setup stage.
func NewWorld(opts Options) (*World, error) {
	maxEntities := opts.MaxEntities
	if maxEntities == 0 {
		maxEntities = defaultMaxEntities
	}
	if maxEntities < 1 || maxEntities > 1<<30 {
		return nil, checkf("maxEntities %d out of range", maxEntities)
	}
	defaultStorage := opts.DefaultComponentStorage
	if defaultStorage == StorageDefault {
		defaultStorage = StorageSparse
	}

	w := &World{
		id:             uuid.New(),
		stage:          StageSetup,
		relaxed:        opts.RelaxedStages,
		maxEntities:    maxEntities,
		defaultStorage: defaultStorage,
		refs:           newRefIndex(),
		holds:          intmap.New[uint32, int32](16),
		deferred:       &commandBuffer{},
	}
	if opts.Logger != nil {
		w.log = opts.Logger.With().Str("world", w.id.String()[:8]).Logger()
	} else {
		w.log = zerolog.Nop()
	}
	w.mainGrp = &SystemGroup{Name: "main", world: w}
	w.groups = []*SystemGroup{w.mainGrp}

	if err := w.register(opts.Defs, w.mainGrp); err != nil {
		return nil, err
	}

	w.shapes = newShapeTable(maxEntities, len(w.types))
	w.alive = newEntitySet(maxEntities)
	w.generations = make([]uint32, maxEntities)
	w.stores = make([]*componentStore, len(w.types))
	for i, ct := range w.types {
		kind := ct.Storage
		if kind == StorageDefault {
			kind = w.defaultStorage
		}
		w.stores[i] = newComponentStore(w, ct, kind)
	}

	for _, node := range w.systems {
		node.reads = newMask(len(w.types))
		node.writes = newMask(len(w.types))
		node.recentMask = newMask(len(w.types))
		node.stats = systemStatsInternal{name: node.name, minDuration: time.Duration(1<<63 - 1)}
		node.sys.Attach(&SystemScope{node: node})
	}
	for _, g := range w.groups {
		if err := g.buildPlan(); err != nil {
			return nil, err
		}
		w.log.Debug().Str("group", g.Name).Strs("order", g.planNames()).Msg("execution plan resolved")
	}
	return w, nil
}

// register flattens the defs list into component registrations and
// system nodes, honoring the props-bind-to-preceding-system rule.
func (w *World) register(defs []any, group *SystemGroup) error {
	var lastSystem *systemNode
	for _, def := range defs {
		switch d := def.(type) {
		case nil:
			return checkf("nil entry in defs")
		case *ComponentType:
			if err := d.bind(w, ComponentId(len(w.types))); err != nil {
				return err
			}
			w.types = append(w.types, d)
			lastSystem = nil
		case *SystemGroup:
			if d.world != nil {
				return checkf("system group %s is already registered", d.Name)
			}
			d.world = w
			w.groups = append(w.groups, d)
			if err := w.register(d.defs, d); err != nil {
				return err
			}
			lastSystem = nil
		case Props:
			if lastSystem == nil {
				return checkf("props record has no preceding system to bind to")
			}
			for key, value := range d {
				if have, ok := lastSystem.props[key]; ok && have != value {
					return checkf("system %s given conflicting values for prop %s", lastSystem.name, key)
				}
			}
			if err := lastSystem.applyProps(d); err != nil {
				return err
			}
		case []any:
			if err := w.register(d, group); err != nil {
				return err
			}
			lastSystem = nil
		case System:
			node, err := w.registerSystem(d, group)
			if err != nil {
				return err
			}
			lastSystem = node
		default:
			return checkf("defs entry of unsupported type %T", def)
		}
	}
	return nil
}

func (w *World) registerSystem(sys System, group *SystemGroup) (*systemNode, error) {
	typ := systemTypeOf(sys)
	// Listing the same system twice is tolerated; the first registration
	// wins and later props must not conflict with it. Distinct instances
	// of one type are distinct systems.
	for _, node := range w.systems {
		if node.sys == sys {
			return node, nil
		}
	}
	node := &systemNode{
		sys:   sys,
		typ:   typ,
		name:  typ.Name(),
		group: group,
		order: len(w.systems),
	}
	w.systems = append(w.systems, node)
	group.nodes = append(group.nodes, node)
	return node, nil
}

func (w *World) stageIs(s Stage) bool { return w.stage == s }

// Stage returns the world's lifecycle state.
func (w *World) Stage() Stage { return w.stage }

func (w *World) handleFor(id EntityId) Entity {
	return Entity{w: w, id: id, gen: w.generations[id]}
}

func (w *World) encodeRef(e Entity) uint64 {
	return uint64(e.gen)<<32 | uint64(e.id) + 1
}

func (w *World) decodeRef(word uint64) (Entity, bool) {
	if word == 0 {
		return Entity{}, false
	}
	e := Entity{w: w, id: EntityId(uint32(word) - 1), gen: uint32(word >> 32)}
	if !e.Alive() {
		return Entity{}, false
	}
	return e, true
}

func (w *World) checkEntitlement(ct *ComponentType, write bool) error {
	if w.inValidator {
		return checkf("validators hold no read or write entitlements")
	}
	sys := w.current
	if sys == nil {
		return nil
	}
	if write {
		if !sys.writes.has(ct.id) {
			return checkf("system %s did not declare write access to component %s", sys.name, ct.Name)
		}
		return nil
	}
	if !sys.reads.has(ct.id) && !sys.writes.has(ct.id) {
		return checkf("system %s did not declare access to component %s", sys.name, ct.Name)
	}
	return nil
}

// runValidators invokes the validator of every component type present on
// the entity after a shape change, plus the validator of a component just
// removed. The first rejection wins and the caller unwinds the mutation.
func (w *World) runValidators(e Entity, removed *ComponentType) error {
	run := func(ct *ComponentType) error {
		if ct.Validate == nil {
			return nil
		}
		w.inValidator = true
		defer func() { w.inValidator = false }()
		return ct.Validate(e)
	}
	for _, ct := range w.types {
		if w.shapes.has(e.id, ct.id) {
			if err := run(ct); err != nil {
				return err
			}
		}
	}
	if removed != nil && !w.shapes.has(e.id, removed.id) {
		if err := run(removed); err != nil {
			return err
		}
	}
	return nil
}

// CreateEntity creates an entity composed of the listed component types,
// each optionally followed by a Props record of initial field values.
// Allowed only during setup unless the world was created with
// RelaxedStages.
func (w *World) CreateEntity(defs ...any) (Entity, error) {
	if w.stage != StageSetup && !w.relaxed {
		return Entity{}, checkf("CreateEntity is only allowed during setup, world is %s", w.stage)
	}
	return w.createEntity(defs...)
}

func (w *World) createEntity(defs ...any) (Entity, error) {
	type compInit struct {
		ct     *ComponentType
		values Props
	}
	var inits []compInit
	for _, def := range defs {
		switch d := def.(type) {
		case nil:
			// A nil props slot after a component type reads fine.
		case *ComponentType:
			inits = append(inits, compInit{ct: d})
		case Props:
			if len(inits) == 0 {
				return Entity{}, checkf("props record has no preceding component type to bind to")
			}
			last := &inits[len(inits)-1]
			if last.values != nil {
				return Entity{}, checkf("component %s given two props records", last.ct.Name)
			}
			last.values = d
		default:
			return Entity{}, checkf("entity def of unsupported type %T", def)
		}
	}

	e, err := w.allocateEntity()
	if err != nil {
		return Entity{}, err
	}
	unwind := func(n int) {
		for i := 0; i < n; i++ {
			store := w.stores[inits[i].ct.id]
			w.shapes.clear(e.id, inits[i].ct.id)
			if store.back != nil {
				store.clearRefs(e.id, store.slotOf(e.id))
				store.drop(e.id) //nolint:errcheck // acquired above
			}
		}
		w.alive.clear(e.id)
		w.generations[e.id]++
		w.freeIds = append(w.freeIds, e.id)
	}

	for i, init := range inits {
		if init.ct.owner != w {
			unwind(i)
			return Entity{}, checkf("component type %s is not registered with this world", init.ct.Name)
		}
		if w.shapes.has(e.id, init.ct.id) {
			unwind(i)
			return Entity{}, checkf("component %s listed twice for one entity", init.ct.Name)
		}
		store := w.stores[init.ct.id]
		slot, resurrected, err := store.acquire(e.id)
		if err != nil {
			unwind(i)
			return Entity{}, err
		}
		w.shapes.set(e.id, init.ct.id)
		view := View{store: store, e: e, slot: slot, epoch: store.epoch, write: true}
		if err := store.initSlot(view, init.values, resurrected); err != nil {
			unwind(i + 1)
			return Entity{}, err
		}
	}
	if err := w.runValidators(e, nil); err != nil {
		unwind(len(inits))
		return Entity{}, err
	}
	return e, nil
}

func (w *World) allocateEntity() (Entity, error) {
	var id EntityId
	if n := len(w.freeIds); n > 0 {
		id = w.freeIds[n-1]
		w.freeIds = w.freeIds[:n-1]
	} else {
		if int(w.nextId) >= w.maxEntities {
			return Entity{}, checkf("entity pool exhausted at maxEntities %d", w.maxEntities)
		}
		id = w.nextId
		w.nextId++
	}
	w.alive.set(id)
	return w.handleFor(id), nil
}

// destroyEntity applies a deferred deletion: inbound refs are nulled in
// their holders, the entity's own components are released, and the id
// returns to the pool unless a hold pins it.
func (w *World) destroyEntity(e Entity) error {
	if !e.Alive() {
		return nil
	}
	for _, edge := range w.refs.take(e.id) {
		store := w.stores[edge.comp]
		if slot := store.slotOf(edge.source); slot >= 0 {
			store.setWord(int(edge.field), slot, 0)
		}
	}
	for _, ct := range w.types {
		store := w.stores[ct.id]
		if store.back == nil {
			continue
		}
		if w.shapes.has(e.id, ct.id) {
			store.clearRefs(e.id, store.slotOf(e.id))
			if err := store.drop(e.id); err != nil {
				return err
			}
		} else if store.pendingSlot(e.id) >= 0 {
			// End the removal window now so the slot cannot resurrect
			// under a future entity that recycles this id.
			if err := store.drop(e.id); err != nil {
				return err
			}
		}
	}
	w.shapes.clearAll(e.id)
	w.alive.clear(e.id)
	w.generations[e.id]++
	if n, _ := w.holds.Get(uint32(e.id)); n == 0 {
		w.freeIds = append(w.freeIds, e.id)
	}
	return nil
}

// flush applies the deferred mutations queued by the system that just
// ran, before the next system starts.
func (w *World) flush() error {
	return w.deferred.drain(w)
}

// Build runs fn against a builder whose entity creations are atomic as a
// block: any error, including a validator rejection of a later entity,
// destroys every entity the block created and is returned unchanged.
func (w *World) Build(fn func(b *Builder) error) error {
	if w.stage != StageSetup && !w.relaxed {
		return checkf("Build is only allowed during setup, world is %s", w.stage)
	}
	b := &Builder{w: w}
	if err := fn(b); err != nil {
		for i := len(b.created) - 1; i >= 0; i-- {
			w.destroyEntity(b.created[i]) //nolint:errcheck // unwinding
		}
		return err
	}
	return nil
}

// Builder creates entities inside a Build block.
type Builder struct {
	w       *World
	created []Entity
}

// CreateEntity is World.CreateEntity scoped to the block's all-or-nothing
// rule.
func (b *Builder) CreateEntity(defs ...any) (Entity, error) {
	e, err := b.w.createEntity(defs...)
	if err != nil {
		return Entity{}, err
	}
	b.created = append(b.created, e)
	return e, nil
}

// ControlOptions selects systems to stop or restart between frames.
type ControlOptions struct {
	Stop    []System
	Restart []System
}

// Control stops or restarts systems. Takes effect at the start of the
// next frame; a restarted system resumes with its current match set and
// empty Added and Removed sets rather than a backfill of missed events.
func (w *World) Control(opts ControlOptions) {
	w.pendingControl = append(w.pendingControl, opts)
}

func (w *World) applyControl() {
	for _, opts := range w.pendingControl {
		for _, sys := range opts.Stop {
			if node := w.nodeFor(sys); node != nil {
				node.stopped = true
			}
		}
		for _, sys := range opts.Restart {
			if node := w.nodeFor(sys); node != nil && node.stopped {
				node.stopped = false
				for _, q := range node.queries {
					q.fresh = true
				}
			}
		}
	}
	w.pendingControl = w.pendingControl[:0]
	if len(w.systems) > 0 {
		allStopped := true
		for _, node := range w.systems {
			if !node.stopped {
				allStopped = false
				break
			}
		}
		if allStopped && w.stage == StageRunning {
			w.stage = StageQuiescent
		} else if !allStopped && w.stage == StageQuiescent {
			w.stage = StageRunning
		}
	}
}

func (w *World) nodeFor(sys System) *systemNode {
	for _, node := range w.systems {
		if node.sys == sys {
			return node
		}
	}
	typ := systemTypeOf(sys)
	for _, node := range w.systems {
		if node.typ == typ {
			return node
		}
	}
	return nil
}

// Execute advances one frame: every system of every group runs once in
// planned order, with a flush after each, followed by the sweep that
// finally releases slots removed before this frame. A system or
// validator failure mid-frame leaves the world unsafe; only Terminate is
// accepted afterwards.
func (w *World) Execute(delta float64) error {
	if w.broken != nil {
		return checkf("world is unsafe after a failed frame, call Terminate")
	}
	if w.executor != nil {
		return checkf("world is driven by a custom executor")
	}
	switch w.stage {
	case StageSetup:
		if err := w.initialize(); err != nil {
			return err
		}
	case StageRunning, StageQuiescent:
	default:
		return checkf("Execute is not allowed while the world is %s", w.stage)
	}

	w.applyControl()
	w.frame++
	w.time += delta

	for _, g := range w.groups {
		if err := w.executeGroup(g, delta); err != nil {
			w.broken = err
			return err
		}
	}
	// Mutations queued outside any system (setup deletions, world-level
	// defers) drain here at the latest.
	if err := w.flush(); err != nil {
		w.broken = err
		return err
	}
	w.sweep()
	return nil
}

func (w *World) executeGroup(g *SystemGroup, delta float64) error {
	f := &Frame{w: w, Time: w.time, Delta: delta}
	for _, node := range g.plan {
		if node.stopped {
			continue
		}
		for _, q := range node.queries {
			q.refresh()
		}
		w.current = node
		start := time.Now()
		err := node.sys.Execute(f)
		node.recordDuration(time.Since(start))
		if err == nil {
			err = node.advanceCoroutines()
		}
		w.current = nil
		if err == nil {
			err = w.flush()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// initialize runs the one-shot Initialize phase in planned order, with a
// flush after every system. Coroutines started here advance once within
// the same pass.
func (w *World) initialize() error {
	w.stage = StageInitializing
	f := &Frame{w: w, Time: w.time}
	for _, g := range w.groups {
		for _, node := range g.plan {
			init, ok := node.sys.(Initializer)
			if !ok {
				continue
			}
			w.current = node
			err := init.Initialize(f)
			if err == nil {
				err = node.advanceCoroutines()
			}
			w.current = nil
			if err == nil {
				err = w.flush()
			}
			if err != nil {
				w.stage = StageDone
				return err
			}
		}
	}
	w.stage = StageRunning
	return nil
}

// Terminate runs the Finalize phase and retires the world. Allowed once
// from any stage, including after a failed frame.
func (w *World) Terminate() error {
	if w.stage == StageDone {
		return checkf("world is already terminated")
	}
	w.stage = StageFinalizing
	var firstErr error
	f := &Frame{w: w, Time: w.time}
	for _, g := range w.groups {
		for _, node := range g.plan {
			for _, co := range node.coros {
				co.terminate()
			}
			node.coros = nil
			fin, ok := node.sys.(Finalizer)
			if !ok {
				continue
			}
			w.current = node
			err := fin.Finalize(f)
			w.current = nil
			if err == nil {
				err = w.flush()
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	w.stage = StageDone
	w.log.Debug().Uint64("frames", w.frame).Msg("world terminated")
	return firstErr
}

// Run drives Execute on a ticker until the context is done or a frame
// fails.
func (w *World) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastTime := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			dt := now.Sub(lastTime).Seconds()
			lastTime = now
			if err := w.Execute(dt); err != nil {
				return err
			}
		}
	}
}

// sweep finally releases component slots whose removal predates this
// frame, ending their recently-deleted window.
func (w *World) sweep() {
	for _, store := range w.stores {
		store.sweep(w.frame)
	}
}

func (w *World) startCoroutine(fn CoroutineFn) *Coroutine {
	sys := w.current
	if sys == nil {
		panic(checkf("coroutines can only start from a running system"))
	}
	co := &Coroutine{
		w:      w,
		sys:    sys,
		fn:     fn,
		fnPC:   reflect.ValueOf(fn).Pointer(),
		resume: make(chan coroResume),
		events: make(chan coroEvent),
	}
	sys.startSeq++
	sys.coros = append(sys.coros, co)
	sys.startLog = append(sys.startLog, coroStart{seq: sys.startSeq, co: co})
	return co
}

// Executor runs plan subsets frame by frame. Every group must still be
// executed periodically so reactive queries keep pace with shape changes.
type Executor struct {
	w      *World
	groups map[*SystemGroup]bool
}

// CreateCustomExecutor returns an executor over the given groups and
// takes over frame driving: World.Execute refuses afterwards. Every
// group must still be executed periodically so its reactive queries see
// shape changes close to when they happen.
func (w *World) CreateCustomExecutor(groups ...*SystemGroup) (*Executor, error) {
	if len(groups) == 0 {
		return nil, checkf("custom executor needs at least one group")
	}
	x := &Executor{w: w, groups: make(map[*SystemGroup]bool, len(groups))}
	for _, g := range groups {
		if g.world != w {
			return nil, checkf("group %s does not belong to this world", g.Name)
		}
		x.groups[g] = true
	}
	w.executor = x
	return x, nil
}

// Execute advances one frame running only the given group's plan.
func (x *Executor) Execute(g *SystemGroup, delta float64) error {
	w := x.w
	if !x.groups[g] {
		return checkf("group %s is not part of this executor", g.Name)
	}
	if w.broken != nil {
		return checkf("world is unsafe after a failed frame, call Terminate")
	}
	switch w.stage {
	case StageSetup:
		if err := w.initialize(); err != nil {
			return err
		}
	case StageRunning, StageQuiescent:
	default:
		return checkf("Execute is not allowed while the world is %s", w.stage)
	}
	w.applyControl()
	w.frame++
	w.time += delta
	if err := w.executeGroup(g, delta); err != nil {
		w.broken = err
		return err
	}
	if err := w.flush(); err != nil {
		w.broken = err
		return err
	}
	w.sweep()
	return nil
}

// CheckInvariants verifies that every entity's shape bit agrees with its
// component storage. Intended for tests, where it runs after flushes.
func (w *World) CheckInvariants() error {
	for id := EntityId(0); id < w.nextId; id++ {
		if !w.alive.has(id) {
			continue
		}
		for _, ct := range w.types {
			store := w.stores[ct.id]
			if store.back == nil {
				continue
			}
			hasBit := w.shapes.has(id, ct.id)
			hasSlot := store.slotOf(id) >= 0 && store.pendingSlot(id) < 0
			if hasBit != hasSlot {
				return internalf("entity %d shape bit %v disagrees with storage %v for component %s",
					id, hasBit, hasSlot, ct.Name)
			}
		}
	}
	return nil
}
