package ecs

import (
	"time"
)

// SchedulerStats provides statistics about system execution.
type SchedulerStats struct {
	SystemCount     int
	TotalExecutions int64
	Systems         []SystemStats
}

// SystemStats provides execution statistics for a single system.
type SystemStats struct {
	Name           string
	ExecutionCount int64
	MinDuration    time.Duration
	MaxDuration    time.Duration
	AvgDuration    time.Duration
	LastDuration   time.Duration
	TotalDuration  time.Duration
}

// SystemGroup is an ordered collection of systems planned and executed
// together. Systems listed directly in Options.Defs land in the world's
// default group; explicit groups exist for custom executors.
type SystemGroup struct {
	Name string

	world *World
	defs  []any
	nodes []*systemNode
	plan  []*systemNode
}

// NewGroup declares a named system group. Defs takes the same entries as
// Options.Defs restricted to systems, props, and nested slices.
func NewGroup(name string, defs ...any) *SystemGroup {
	return &SystemGroup{Name: name, defs: defs}
}

// buildPlan resolves the group's deterministic execution order. Within a
// group every writer of a component type is ordered before all its
// readers; explicit Before/After constraints add edges on top. Ties break
// by registration order. A cycle that no constraint resolves is an
// authoring error.
func (g *SystemGroup) buildPlan() error {
	n := len(g.nodes)
	succ := make([][]int, n)
	indeg := make([]int, n)
	// Dedup edges so a pair constrained both ways is reported as a cycle
	// rather than double-counted.
	seen := make(map[[2]int]bool)
	addEdge := func(from, to int) {
		if from == to || seen[[2]int{from, to}] {
			return
		}
		seen[[2]int{from, to}] = true
		succ[from] = append(succ[from], to)
		indeg[to]++
	}

	byType := make(map[string][]int)
	for i, node := range g.nodes {
		byType[node.typ.String()] = append(byType[node.typ.String()], i)
	}
	for i, node := range g.nodes {
		for _, t := range node.before {
			for _, j := range byType[t.String()] {
				addEdge(i, j)
			}
		}
		for _, t := range node.after {
			for _, j := range byType[t.String()] {
				addEdge(j, i)
			}
		}
	}

	// writer -> reader per component type. Write/write pairs carry no
	// implicit edge; only explicit constraints order them.
	for c := ComponentId(0); int(c) < len(g.world.types); c++ {
		for i, writer := range g.nodes {
			if !writer.writes.has(c) {
				continue
			}
			for j, reader := range g.nodes {
				if i == j || reader.writes.has(c) || !reader.reads.has(c) {
					continue
				}
				addEdge(i, j)
			}
		}
	}

	// Kahn's algorithm, always taking the lowest registration order among
	// the ready nodes so the plan is stable.
	plan := make([]*systemNode, 0, n)
	done := make([]bool, n)
	for {
		pick := -1
		for i := 0; i < n; i++ {
			if !done[i] && indeg[i] == 0 && (pick < 0 || g.nodes[i].order < g.nodes[pick].order) {
				pick = i
			}
		}
		if pick < 0 {
			break
		}
		done[pick] = true
		plan = append(plan, g.nodes[pick])
		for _, j := range succ[pick] {
			indeg[j]--
		}
	}
	if len(plan) != n {
		var stuck []string
		for i, d := range done {
			if !d {
				stuck = append(stuck, g.nodes[i].name)
			}
		}
		return checkf("cycle detected in system schedule of group %s involving %v", g.Name, stuck)
	}
	g.plan = plan
	return nil
}

func (g *SystemGroup) planNames() []string {
	names := make([]string, len(g.plan))
	for i, node := range g.plan {
		names[i] = node.name
	}
	return names
}

// Stats returns execution statistics for every system, across all groups,
// in registration order.
func (w *World) Stats() *SchedulerStats {
	stats := &SchedulerStats{
		SystemCount: len(w.systems),
		Systems:     make([]SystemStats, len(w.systems)),
	}
	var totalExecs int64
	for i, node := range w.systems {
		internal := &node.stats
		avgDuration := time.Duration(0)
		if internal.executionCount > 0 {
			avgDuration = internal.totalDuration / time.Duration(internal.executionCount)
		}
		stats.Systems[i] = SystemStats{
			Name:           internal.name,
			ExecutionCount: internal.executionCount,
			MinDuration:    internal.minDuration,
			MaxDuration:    internal.maxDuration,
			AvgDuration:    avgDuration,
			LastDuration:   internal.lastDuration,
			TotalDuration:  internal.totalDuration,
		}
		totalExecs += internal.executionCount
	}
	stats.TotalExecutions = totalExecs
	return stats
}

func (n *systemNode) recordDuration(d time.Duration) {
	stats := &n.stats
	stats.executionCount++
	stats.lastDuration = d
	stats.totalDuration += d
	if d < stats.minDuration {
		stats.minDuration = d
	}
	if d > stats.maxDuration {
		stats.maxDuration = d
	}
}
