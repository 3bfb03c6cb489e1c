// Package sweep runs independent simulations in parallel and merges their
// results once every run has finished.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/custody-relay-sim/internal/config"
	"github.com/signalsfoundry/custody-relay-sim/internal/logging"
	"github.com/signalsfoundry/custody-relay-sim/internal/observability"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/engine"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/metrics"
)

// ErrNoVariants is returned by Run when there is nothing to do.
var ErrNoVariants = errors.New("sweep has no variants")

// Variant is one scenario of a sweep.
type Variant struct {
	Name    string
	Options config.Options
}

// Result is the terminal state of one variant. Err is set when the run
// halted on an invariant violation; other variants are unaffected.
type Result struct {
	Name      string
	RunID     string
	Seed      uint64
	Summary   metrics.Summary
	Rounds    int
	Anomalies int
	Err       error
}

// Options controls how a sweep executes.
type Options struct {
	// Parallelism bounds concurrent runs; zero or less means one.
	Parallelism int
	// StepSize is the simulated time between cancellation checks. Zero runs
	// each variant in a single step.
	StepSize time.Duration
	Logger   logging.Logger
}

// Seeds returns one variant of base per seed.
func Seeds(base config.Options, seeds []uint64) []Variant {
	out := make([]Variant, 0, len(seeds))
	for _, seed := range seeds {
		o := base
		o.Seed = seed
		out = append(out, Variant{Name: fmt.Sprintf("seed=%d", seed), Options: o})
	}
	return out
}

// Mutation is a named change applied to a variant's options.
type Mutation struct {
	Name  string
	Apply func(*config.Options)
}

// Cross applies each mutation to each variant, producing len(vs)*len(muts)
// variants named "<variant>/<mutation>".
func Cross(vs []Variant, muts []Mutation) []Variant {
	out := make([]Variant, 0, len(vs)*len(muts))
	for _, v := range vs {
		for _, m := range muts {
			o := v.Options
			o.Nodes = append([]config.NodeOptions(nil), v.Options.Nodes...)
			m.Apply(&o)
			out = append(out, Variant{Name: v.Name + "/" + m.Name, Options: o})
		}
	}
	return out
}

// Run executes every variant in a private simulation. Invalid variants fail
// the sweep before anything runs. Results are returned in variant order.
func Run(ctx context.Context, variants []Variant, opts Options) ([]Result, error) {
	if len(variants) == 0 {
		return nil, ErrNoVariants
	}
	for _, v := range variants {
		if err := v.Options.Validate(); err != nil {
			return nil, fmt.Errorf("variant %s: %w", v.Name, err)
		}
	}
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}
	limit := opts.Parallelism
	if limit < 1 {
		limit = 1
	}

	results := make([]Result, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, v := range variants {
		g.Go(func() error {
			res, err := runOne(gctx, v, opts.StepSize, log)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func runOne(ctx context.Context, v Variant, stepSize time.Duration, base logging.Logger) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	ctx, log := logging.WithRunLogger(ctx, base.With(logging.String("variant", v.Name)))
	runID := logging.RunIDFromContext(ctx)

	ctx, span := observability.Tracer().Start(ctx, "sweep.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("sweep.variant", v.Name),
		attribute.String("sim.run_id", runID),
		attribute.Int64("sim.seed", int64(v.Options.Seed)),
	)

	sim, err := engine.New(v.Options, log, engine.WithRunID(runID))
	if err != nil {
		return Result{}, fmt.Errorf("variant %s: %w", v.Name, err)
	}
	if stepSize <= 0 {
		stepSize = v.Options.EndTime
	}

	res := Result{Name: v.Name, RunID: runID, Seed: v.Options.Seed}
	for !sim.Done() {
		if _, err := sim.StepContext(ctx, stepSize); err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			res.Err = err
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error(ctx, "variant halted", logging.Err(err))
			break
		}
	}

	snap := sim.Snapshot()
	res.Summary = snap.Metrics
	res.Rounds = snap.Rounds
	res.Anomalies = snap.Anomalies
	log.Info(ctx, "variant finished",
		logging.Float("delivery_ratio", res.Summary.DeliveryRatio),
		logging.Int("injected", res.Summary.Injected),
		logging.Int("rounds", res.Rounds),
	)
	return res, nil
}
