package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/internal/config"
	"github.com/signalsfoundry/custody-relay-sim/internal/logging"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/game"
)

// ParamUpdate is a parameter change staged by a control surface. Nil fields
// are left unchanged. Strategies and policies are fixed for a run and cannot
// be staged.
type ParamUpdate struct {
	Threshold  *float64
	Payoff     *game.Payoff
	Reputation *game.ReputationConfig
	EndTime    *time.Duration
}

// Validate checks the staged values against the same domains as
// config.Options.
func (u ParamUpdate) Validate() error {
	if u.Threshold != nil && (*u.Threshold < 0 || *u.Threshold > 1) {
		return fmt.Errorf("%w: threshold must be in [0,1], got %v", config.ErrInvalidConfig, *u.Threshold)
	}
	if p := u.Payoff; p != nil {
		if p.Benefit < 0 || p.StorageCost < 0 || p.EnergyCost < 0 || p.DefectBaseline < 0 || p.ReputationPenalty < 0 {
			return fmt.Errorf("%w: payoff weights must be >= 0", config.ErrInvalidConfig)
		}
		if p.PressureExponent <= 0 {
			return fmt.Errorf("%w: pressure exponent must be > 0", config.ErrInvalidConfig)
		}
	}
	if r := u.Reputation; r != nil {
		if r.Alpha < 0 || r.Alpha > 1 || r.Initial < 0 || r.Initial > 1 {
			return fmt.Errorf("%w: reputation alpha and initial must be in [0,1]", config.ErrInvalidConfig)
		}
	}
	if u.EndTime != nil && *u.EndTime <= 0 {
		return fmt.Errorf("%w: end time must be > 0, got %s", config.ErrInvalidConfig, *u.EndTime)
	}
	return nil
}

// StageUpdate queues u for the start of the next Step. Fields set by an
// earlier, not yet applied update are kept unless u overrides them.
func (s *Simulation) StageUpdate(u ParamUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if s.staged == nil {
		s.staged = &ParamUpdate{}
	}
	if u.Threshold != nil {
		s.staged.Threshold = u.Threshold
	}
	if u.Payoff != nil {
		s.staged.Payoff = u.Payoff
	}
	if u.Reputation != nil {
		s.staged.Reputation = u.Reputation
	}
	if u.EndTime != nil {
		s.staged.EndTime = u.EndTime
	}
	return nil
}

func (s *Simulation) applyStaged() {
	u := s.staged
	if u == nil {
		return
	}
	s.staged = nil

	cfg := s.game.Config()
	if u.Threshold != nil {
		cfg.Threshold = *u.Threshold
		s.opts.Strategy.Threshold = *u.Threshold
	}
	if u.Payoff != nil {
		cfg.Payoff = *u.Payoff
	}
	if u.Reputation != nil {
		cfg.Reputation = *u.Reputation
		for _, id := range s.order {
			s.nodes[id].ledger.SetConfig(cfg.Reputation)
		}
	}
	s.game = game.New(cfg)

	if u.EndTime != nil {
		s.opts.EndTime = *u.EndTime
		s.done = s.queue.Now() >= s.opts.EndTime
		s.resume()
	}
	s.log.Info(context.Background(), "parameter update applied",
		logging.Duration("at", s.queue.Now()),
		logging.Float("threshold", cfg.Threshold),
		logging.Duration("end_time", s.opts.EndTime),
	)
}
