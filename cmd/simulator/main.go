package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/custody-relay-sim/internal/config"
	"github.com/signalsfoundry/custody-relay-sim/internal/logging"
	"github.com/signalsfoundry/custody-relay-sim/internal/observability"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/engine"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/metrics"
	"github.com/signalsfoundry/custody-relay-sim/kb"
	"github.com/signalsfoundry/custody-relay-sim/timectrl"
)

type cliOptions struct {
	scenario    string
	seed        uint64
	end         time.Duration
	step        time.Duration
	speed       float64
	metricsAddr string
	full        bool
}

func parseFlags(args []string, stderr io.Writer) (cliOptions, map[string]bool, error) {
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var c cliOptions
	fs.StringVar(&c.scenario, "config", "", "Path to a YAML or JSON scenario file (defaults to the built-in Poisson scenario)")
	fs.Uint64Var(&c.seed, "seed", 0, "Override the scenario seed")
	fs.DurationVar(&c.end, "end", 0, "Override the scenario end time")
	fs.DurationVar(&c.step, "step", time.Minute, "Simulated time advanced per step")
	fs.Float64Var(&c.speed, "speed", 0, "Pace steps against wall time at this acceleration factor (0 runs unpaced)")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics (empty disables)")
	fs.BoolVar(&c.full, "snapshot", false, "Print the full final snapshot instead of the metrics summary")
	if err := fs.Parse(args); err != nil {
		return cliOptions{}, nil, err
	}
	if c.step <= 0 {
		return cliOptions{}, nil, fmt.Errorf("-step must be positive, got %s", c.step)
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return c, set, nil
}

func main() {
	log := logging.NewFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, log); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Error(ctx, "simulator failed", logging.Err(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, log logging.Logger) error {
	cli, set, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	opts, err := loadScenario(cli, set)
	if err != nil {
		return err
	}

	if tcfg := observability.TracingConfigFromEnv(); tcfg.Enabled {
		tcfg.Attributes = append(tcfg.Attributes,
			attribute.Int64("sim.seed", int64(opts.Seed)),
			attribute.String("sim.contact_model", opts.Contacts.Model),
		)
		shutdown, err := observability.InitTracing(ctx, tcfg, log)
		if err != nil {
			log.Warn(ctx, "tracing disabled", logging.Err(err))
		} else {
			defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)
		}
	}

	reg := prometheus.NewRegistry()
	simMetrics, err := observability.NewSimCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics collector: %w", err)
	}
	queueMetrics, err := observability.NewQueueCollector(reg)
	if err != nil {
		return fmt.Errorf("init queue collector: %w", err)
	}
	if cli.metricsAddr != "" {
		srv := serveMetrics(cli.metricsAddr, simMetrics.Handler(), log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sim, err := engine.New(opts, log,
		engine.WithRecorder(simMetrics),
		engine.WithQueueObserver(queueMetrics),
		engine.WithStepObserver(queueMetrics),
	)
	if err != nil {
		return err
	}
	log.Info(ctx, "starting simulation",
		logging.String("run_id", sim.RunID()),
		logging.Uint64("seed", opts.Seed),
		logging.Duration("end_time", opts.EndTime),
		logging.String("contact_model", opts.Contacts.Model),
	)

	var final engine.Snapshot
	if cli.speed > 0 {
		final, err = runPaced(ctx, sim, opts, cli, simMetrics, log)
	} else {
		final, err = runUnpaced(ctx, sim, cli.step, simMetrics)
	}
	if err != nil {
		var v *engine.InvariantViolation
		if errors.As(err, &v) {
			log.Error(ctx, "simulation halted", logging.Duration("at", v.At), logging.String("reason", v.Reason))
		}
		return err
	}

	log.Info(ctx, "simulation finished",
		logging.Duration("sim_time", final.Time),
		logging.Int("delivered", final.Metrics.Delivered),
		logging.Float("delivery_ratio", final.Metrics.DeliveryRatio),
	)
	return writeResult(stdout, final, cli.full)
}

func loadScenario(cli cliOptions, set map[string]bool) (config.Options, error) {
	opts := config.Default()
	if cli.scenario != "" {
		loaded, err := config.Load(cli.scenario)
		if err != nil {
			return config.Options{}, err
		}
		opts = loaded
	}
	if set["seed"] {
		opts.Seed = cli.seed
	}
	if set["end"] {
		opts.EndTime = cli.end
	}
	if err := opts.Validate(); err != nil {
		return config.Options{}, err
	}
	return opts, nil
}

func runUnpaced(ctx context.Context, sim *engine.Simulation, step time.Duration, gauge *observability.SimCollector) (engine.Snapshot, error) {
	snap := sim.Snapshot()
	for !snap.Done {
		next, err := sim.StepContext(ctx, step)
		if err != nil {
			return next, err
		}
		snap = next
		gauge.SetSimulatedTime(snap.Time)
	}
	return snap, nil
}

// runPaced drives the simulation from a time controller so a live metrics
// endpoint can be watched as the run progresses.
func runPaced(ctx context.Context, sim *engine.Simulation, opts config.Options, cli cliOptions, gauge *observability.SimCollector, log logging.Logger) (engine.Snapshot, error) {
	registry := kb.NewKnowledgeBase()
	unsubscribe := registry.Subscribe(func(ev kb.Event) {
		if ev.Type == kb.EventNodeUpdated {
			gauge.SetSimulatedTime(ev.Status.UpdatedAt)
		}
	})
	defer unsubscribe()

	runner, err := engine.NewRunner(sim, engine.WithKnowledgeBase(registry), engine.WithRunnerLogger(log))
	if err != nil {
		return engine.Snapshot{}, err
	}
	tc := timectrl.NewTimeController(opts.Epoch, cli.step, timectrl.Accelerated, timectrl.WithSpeed(cli.speed))
	if err := runner.Run(ctx, tc); err != nil {
		return runner.Snapshot(), err
	}
	return runner.Snapshot(), nil
}

func writeResult(w io.Writer, snap engine.Snapshot, full bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if full {
		return enc.Encode(snap)
	}
	return enc.Encode(result{RunID: snap.RunID, Time: snap.Time, Summary: snap.Metrics})
}

type result struct {
	RunID   string          `json:"run_id"`
	Time    time.Duration   `json:"time"`
	Summary metrics.Summary `json:"summary"`
}

func serveMetrics(addr string, handler http.Handler, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
