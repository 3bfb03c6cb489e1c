package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/internal/config"
	"github.com/signalsfoundry/custody-relay-sim/internal/logging"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/game"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/store"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/sweep"
)

type cliOptions struct {
	scenario   string
	seeds      []uint64
	strategies []string
	evictions  []string
	parallel   int
	step       time.Duration
}

func parseFlags(args []string, stderr io.Writer) (cliOptions, error) {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		c          cliOptions
		seeds      string
		strategies string
		evictions  string
	)
	fs.StringVar(&c.scenario, "config", "", "Path to the base scenario (defaults to the built-in Poisson scenario)")
	fs.StringVar(&seeds, "seeds", "1,2,3", "Comma-separated seeds, or a range such as 1-10")
	fs.StringVar(&strategies, "strategies", "", "Comma-separated strategies every node plays (empty keeps the scenario's)")
	fs.StringVar(&evictions, "evictions", "", "Comma-separated eviction policies (empty keeps the scenario's)")
	fs.IntVar(&c.parallel, "parallel", runtime.GOMAXPROCS(0), "Maximum concurrent runs")
	fs.DurationVar(&c.step, "step", 10*time.Minute, "Simulated time between cancellation checks")
	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}

	var err error
	if c.seeds, err = parseSeeds(seeds); err != nil {
		return cliOptions{}, err
	}
	for _, name := range splitList(strategies) {
		if _, err := game.ParseStrategy(name); err != nil {
			return cliOptions{}, err
		}
		c.strategies = append(c.strategies, name)
	}
	for _, name := range splitList(evictions) {
		if _, err := store.PolicyByName(name); err != nil {
			return cliOptions{}, err
		}
		c.evictions = append(c.evictions, name)
	}
	return c, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseSeeds(s string) ([]uint64, error) {
	if lo, hi, ok := strings.Cut(s, "-"); ok {
		from, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("seed range %q: %w", s, err)
		}
		to, err := strconv.ParseUint(strings.TrimSpace(hi), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("seed range %q: %w", s, err)
		}
		if to < from {
			return nil, fmt.Errorf("seed range %q is empty", s)
		}
		out := make([]uint64, 0, to-from+1)
		for seed := from; seed <= to; seed++ {
			out = append(out, seed)
		}
		return out, nil
	}
	var out []uint64
	for _, part := range splitList(s) {
		seed, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", part, err)
		}
		out = append(out, seed)
	}
	if len(out) == 0 {
		return nil, errors.New("no seeds given")
	}
	return out, nil
}

func main() {
	log := logging.NewFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, log); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Error(ctx, "sweep failed", logging.Err(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, log logging.Logger) error {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	base := config.Default()
	if cli.scenario != "" {
		if base, err = config.Load(cli.scenario); err != nil {
			return err
		}
	}

	variants := sweep.Seeds(base, cli.seeds)
	if muts := strategyMutations(cli.strategies); len(muts) > 0 {
		variants = sweep.Cross(variants, muts)
	}
	if muts := evictionMutations(cli.evictions); len(muts) > 0 {
		variants = sweep.Cross(variants, muts)
	}

	log.Info(ctx, "starting sweep",
		logging.Int("variants", len(variants)),
		logging.Int("parallel", cli.parallel),
	)
	results, err := sweep.Run(ctx, variants, sweep.Options{
		Parallelism: cli.parallel,
		StepSize:    cli.step,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	return writeTable(stdout, results)
}

func strategyMutations(names []string) []sweep.Mutation {
	muts := make([]sweep.Mutation, 0, len(names))
	for _, name := range names {
		muts = append(muts, sweep.Mutation{
			Name: "strategy=" + name,
			Apply: func(o *config.Options) {
				o.Strategy.Default = name
				for i := range o.Nodes {
					o.Nodes[i].Strategy = ""
				}
			},
		})
	}
	return muts
}

func evictionMutations(names []string) []sweep.Mutation {
	muts := make([]sweep.Mutation, 0, len(names))
	for _, name := range names {
		muts = append(muts, sweep.Mutation{
			Name:  "eviction=" + name,
			Apply: func(o *config.Options) { o.Storage.Eviction = name },
		})
	}
	return muts
}

func writeTable(w io.Writer, results []sweep.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIANT\tINJECTED\tDELIVERED\tEXPIRED\tDROPPED\tRATIO\tMEAN LATENCY\tMEAN HOPS\tROUNDS\tSTATUS")
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = "halted: " + r.Err.Error()
		}
		s := r.Summary
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.3f\t%s\t%.2f\t%d\t%s\n",
			r.Name, s.Injected, s.Delivered, s.Expired, s.DroppedAtCapacity,
			s.DeliveryRatio, s.MeanLatency, s.MeanHops, r.Rounds, status)
	}
	return tw.Flush()
}
