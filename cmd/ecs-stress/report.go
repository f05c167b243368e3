package main

import (
	"fmt"
	"io"
	"runtime"
	"text/template"
	"time"

	"github.com/goccy/go-json"

	"github.com/plus3/weft/ecs"
)

// Report collects the stress run's configuration and results. It renders
// either as a markdown summary or as JSON for downstream tooling.
type Report struct {
	// Configuration
	Duration   time.Duration `json:"duration_ns"`
	Entities   int           `json:"entities"`
	Components int           `json:"components"`
	Systems    int           `json:"systems"`

	// Results
	TotalUpdates int64         `json:"total_updates"`
	TotalTime    time.Duration `json:"total_time_ns"`
	FrameTime    Stats         `json:"frame_time"`
	SlowSystems  []SlowSystem  `json:"slow_systems"`

	HeapAllocDelta int64  `json:"heap_alloc_delta"`
	TotalAlloc     uint64 `json:"total_alloc"`
	NumGC          uint32 `json:"num_gc"`

	MemStart runtime.MemStats `json:"-"`
	MemEnd   runtime.MemStats `json:"-"`

	samples []time.Duration
}

// Stats summarizes one duration series.
type Stats struct {
	Min time.Duration `json:"min_ns"`
	Max time.Duration `json:"max_ns"`
	Avg time.Duration `json:"avg_ns"`
}

// SlowSystem is one scheduler stats row, worst average first.
type SlowSystem struct {
	Name string        `json:"name"`
	Avg  time.Duration `json:"avg_ns"`
	Max  time.Duration `json:"max_ns"`
}

func (r *Report) AddSample(d time.Duration) {
	r.samples = append(r.samples, d)
	r.TotalUpdates++
}

// Finalize folds the samples, memory counters, and scheduler stats into
// the reportable fields.
func (r *Report) Finalize(sched *ecs.SchedulerStats) {
	if len(r.samples) > 0 {
		r.FrameTime.Min = r.samples[0]
		r.FrameTime.Max = r.samples[0]
		var total time.Duration
		for _, s := range r.samples {
			if s < r.FrameTime.Min {
				r.FrameTime.Min = s
			}
			if s > r.FrameTime.Max {
				r.FrameTime.Max = s
			}
			total += s
		}
		r.FrameTime.Avg = total / time.Duration(len(r.samples))
	}

	r.HeapAllocDelta = int64(r.MemEnd.HeapAlloc) - int64(r.MemStart.HeapAlloc)
	r.TotalAlloc = r.MemEnd.TotalAlloc - r.MemStart.TotalAlloc
	r.NumGC = r.MemEnd.NumGC - r.MemStart.NumGC

	for _, sys := range sched.Systems {
		r.SlowSystems = append(r.SlowSystems, SlowSystem{
			Name: sys.Name,
			Avg:  sys.AvgDuration,
			Max:  sys.MaxDuration,
		})
	}
	for i := 0; i < len(r.SlowSystems); i++ {
		for j := i + 1; j < len(r.SlowSystems); j++ {
			if r.SlowSystems[j].Avg > r.SlowSystems[i].Avg {
				r.SlowSystems[i], r.SlowSystems[j] = r.SlowSystems[j], r.SlowSystems[i]
			}
		}
	}
	if len(r.SlowSystems) > 10 {
		r.SlowSystems = r.SlowSystems[:10]
	}
}

// Emit writes the report, as JSON when requested and as markdown text
// otherwise.
func (r *Report) Emit(w io.Writer, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	const reportTemplate = `
# ECS Stress Test Report

## Test Configuration
- **Run Duration:** {{.Duration}}
- **Initial Entities:** {{.Entities}}
- **Generated Components:** {{.Components}}
- **Generated Systems:** {{.Systems}}

## Performance Results
- **Total Frames:** {{.TotalUpdates}}
- **Total Test Time:** {{.TotalTime}}
- **Frame Time:**
  - **Avg:** {{.FrameTime.Avg}}
  - **Min:** {{.FrameTime.Min}}
  - **Max:** {{.FrameTime.Max}}

## Slowest Systems (by average)
{{range .SlowSystems}}- {{.Name}}: avg {{.Avg}}, max {{.Max}}
{{end}}
## Memory
- Heap Alloc Delta: {{mb .HeapAllocDelta}} MiB
- Total Alloc:      {{mb .TotalAlloc}} MiB
- GC Cycles:        {{.NumGC}}
`

	fm := template.FuncMap{
		"mb": func(v any) string {
			switch val := v.(type) {
			case uint64:
				return fmt.Sprintf("%.2f", float64(val)/1024/1024)
			case int64:
				return fmt.Sprintf("%.2f", float64(val)/1024/1024)
			default:
				return "N/A"
			}
		},
	}

	tmpl, err := template.New("report").Funcs(fm).Parse(reportTemplate)
	if err != nil {
		return err
	}
	return tmpl.Execute(w, r)
}
