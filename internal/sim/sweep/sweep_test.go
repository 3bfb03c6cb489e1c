package sweep

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/internal/config"
	"github.com/signalsfoundry/custody-relay-sim/internal/logging"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/engine"
)

func baseOptions() config.Options {
	o := config.Default()
	o.EndTime = 10 * time.Minute
	o.NodeCount = 4
	o.Traffic.Rate = 0.05
	o.Traffic.TTLMin = time.Minute
	o.Traffic.TTLMax = 3 * time.Minute
	o.Contacts.Poisson.MeanGap = time.Minute
	return o
}

func TestRunMatchesSequentialEngine(t *testing.T) {
	variants := Seeds(baseOptions(), []uint64{1, 2, 3, 4})
	results, err := Run(context.Background(), variants, Options{Parallelism: 4, StepSize: time.Minute})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != len(variants) {
		t.Fatalf("got %d results, want %d", len(results), len(variants))
	}
	for i, v := range variants {
		if results[i].Name != v.Name || results[i].Seed != v.Options.Seed {
			t.Fatalf("result %d is %s/%d, want %s", i, results[i].Name, results[i].Seed, v.Name)
		}
		if results[i].RunID == "" {
			t.Fatalf("result %d has no run ID", i)
		}
		sim, err := engine.New(v.Options, logging.Noop())
		if err != nil {
			t.Fatalf("engine.New: %v", err)
		}
		if _, err := sim.RunToEnd(); err != nil {
			t.Fatalf("RunToEnd: %v", err)
		}
		if !reflect.DeepEqual(results[i].Summary, sim.Metrics().Summary()) {
			t.Fatalf("variant %s differs from a standalone run", v.Name)
		}
	}
}

func TestParallelismDoesNotChangeResults(t *testing.T) {
	variants := Seeds(baseOptions(), []uint64{5, 6, 7})
	serial, err := Run(context.Background(), variants, Options{Parallelism: 1})
	if err != nil {
		t.Fatalf("serial Run: %v", err)
	}
	parallel, err := Run(context.Background(), variants, Options{Parallelism: 3})
	if err != nil {
		t.Fatalf("parallel Run: %v", err)
	}
	for i := range serial {
		if !reflect.DeepEqual(serial[i].Summary, parallel[i].Summary) {
			t.Fatalf("variant %s differs between serial and parallel runs", serial[i].Name)
		}
	}
}

func TestCrossNamesAndApplies(t *testing.T) {
	vs := Cross(Seeds(baseOptions(), []uint64{1, 2}), []Mutation{
		{Name: "cooperate", Apply: func(o *config.Options) { o.Strategy.Default = "cooperate" }},
		{Name: "defect", Apply: func(o *config.Options) { o.Strategy.Default = "defect" }},
	})
	if len(vs) != 4 {
		t.Fatalf("got %d variants, want 4", len(vs))
	}
	if vs[1].Name != "seed=1/defect" || vs[1].Options.Strategy.Default != "defect" || vs[1].Options.Seed != 1 {
		t.Fatalf("unexpected variant %+v", vs[1])
	}
}

func TestRunRejectsInvalidVariant(t *testing.T) {
	bad := baseOptions()
	bad.NodeCount = 1
	_, err := Run(context.Background(), []Variant{{Name: "ok", Options: baseOptions()}, {Name: "bad", Options: bad}}, Options{})
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("Run = %v, want ErrInvalidConfig", err)
	}
	if _, err := Run(context.Background(), nil, Options{}); !errors.Is(err, ErrNoVariants) {
		t.Fatalf("Run(nil) = %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, Seeds(baseOptions(), []uint64{1, 2}), Options{Parallelism: 2})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run with cancelled context = %v", err)
	}
}
