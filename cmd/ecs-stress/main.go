package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/plus3/weft/ecs"
)

// Scenario is the stress run configuration, loadable from TOML with flag
// overrides on top.
type Scenario struct {
	Duration    duration `toml:"duration"`
	Entities    int      `toml:"entities"`
	Components  int      `toml:"components"`
	Systems     int      `toml:"systems"`
	MaxEntities int      `toml:"max-entities"`
	Storage     string   `toml:"storage"`
	Seed        int64    `toml:"seed"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func defaultScenario() Scenario {
	return Scenario{
		Duration:    duration{10 * time.Second},
		Entities:    10_000,
		Components:  32,
		Systems:     12,
		MaxEntities: 50_000,
		Storage:     "packed",
		Seed:        1,
	}
}

func main() {
	configPath := flag.String("config", "", "Path to a TOML scenario file.")
	durationFlag := flag.Duration("duration", 0, "Override: total run duration.")
	entities := flag.Int("entities", 0, "Override: initial entity count.")
	components := flag.Int("components", 0, "Override: generated component type count.")
	systems := flag.Int("systems", 0, "Override: generated system count.")
	jsonOut := flag.Bool("json", false, "Emit the report as JSON on stdout.")
	verbose := flag.Bool("v", false, "Enable debug logging.")
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	scenario := defaultScenario()
	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, &scenario); err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("cannot load scenario")
		}
	}
	if *durationFlag > 0 {
		scenario.Duration = duration{*durationFlag}
	}
	if *entities > 0 {
		scenario.Entities = *entities
	}
	if *components > 0 {
		scenario.Components = *components
	}
	if *systems > 0 {
		scenario.Systems = *systems
	}

	if err := run(log, scenario, *jsonOut); err != nil {
		log.Fatal().Err(err).Msg("stress run failed")
	}
}

func storageKind(name string) (ecs.StorageKind, error) {
	switch name {
	case "sparse":
		return ecs.StorageSparse, nil
	case "packed":
		return ecs.StoragePacked, nil
	case "compact":
		return ecs.StorageCompact, nil
	case "":
		return ecs.StorageDefault, nil
	}
	return ecs.StorageDefault, fmt.Errorf("unknown storage kind %q", name)
}

// jiggleSystem perturbs both fields of one generated component type each
// frame.
type jiggleSystem struct {
	Type *ecs.ComponentType

	q *ecs.Query
}

func (s *jiggleSystem) Attach(sc *ecs.SystemScope) {
	s.q = sc.Query().With(s.Type).Write().Build()
}

func (s *jiggleSystem) Execute(f *ecs.Frame) error {
	for _, e := range s.q.Current() {
		v, err := e.Write(s.Type)
		if err != nil {
			return err
		}
		a := v.MustGet("a").(float64)
		b := v.MustGet("b").(float64)
		if err := v.Set("a", a+b*f.Delta); err != nil {
			return err
		}
		if err := v.Set("b", b*0.999); err != nil {
			return err
		}
	}
	return nil
}

func run(log zerolog.Logger, scenario Scenario, jsonOut bool) error {
	kind, err := storageKind(scenario.Storage)
	if err != nil {
		return err
	}

	types := make([]*ecs.ComponentType, scenario.Components)
	defs := make([]any, 0, scenario.Components+scenario.Systems)
	for i := range types {
		types[i] = &ecs.ComponentType{
			Name:    fmt.Sprintf("Stress%03d", i),
			Storage: kind,
			Fields: []ecs.Field{
				{Name: "a", Type: ecs.Float64},
				{Name: "b", Type: ecs.Float64, Default: 1.0},
			},
		}
		defs = append(defs, types[i])
	}
	for i := 0; i < scenario.Systems; i++ {
		defs = append(defs, &jiggleSystem{Type: types[i%len(types)]})
	}

	w, err := ecs.NewWorld(ecs.Options{
		Defs:        defs,
		MaxEntities: scenario.MaxEntities,
		Logger:      &log,
	})
	if err != nil {
		return err
	}
	defer ecs.ReleaseComponentTypes(types...)

	log.Info().Int("entities", scenario.Entities).Msg("populating world")
	rng := rand.New(rand.NewSource(scenario.Seed))
	for i := 0; i < scenario.Entities; i++ {
		// Each entity carries one to five random component types.
		n := rng.Intn(5) + 1
		picked := make([]any, 0, 2*n)
		seen := map[int]bool{}
		for len(seen) < n {
			k := rng.Intn(len(types))
			if seen[k] {
				continue
			}
			seen[k] = true
			picked = append(picked, types[k], ecs.Props{"a": rng.Float64()})
		}
		if _, err := w.CreateEntity(picked...); err != nil {
			return err
		}
	}

	report := &Report{
		Duration:   scenario.Duration.Duration,
		Entities:   scenario.Entities,
		Components: scenario.Components,
		Systems:    scenario.Systems,
	}
	runtime.ReadMemStats(&report.MemStart)

	log.Info().Dur("duration", scenario.Duration.Duration).Msg("running simulation")
	ctx, cancel := context.WithTimeout(context.Background(), scenario.Duration.Duration)
	defer cancel()

	lastFrame := time.Now()
	start := time.Now()
	for ctx.Err() == nil {
		dt := time.Since(lastFrame)
		lastFrame = time.Now()

		frameStart := time.Now()
		if err := w.Execute(dt.Seconds()); err != nil {
			return err
		}
		report.AddSample(time.Since(frameStart))
	}
	report.TotalTime = time.Since(start)
	runtime.ReadMemStats(&report.MemEnd)
	report.Finalize(w.Stats())

	if err := w.Terminate(); err != nil {
		return err
	}
	log.Info().Int64("frames", report.TotalUpdates).Msg("simulation finished")
	return report.Emit(os.Stdout, jsonOut)
}
