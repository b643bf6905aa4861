package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	corelogger "github.com/kilianp07/leadroute/core/logger"
)

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct{ log corelogger.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debugw("cron: "+msg, kvMap(kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	fields := kvMap(kv)
	fields["error"] = err.Error()
	l.log.Errorf("cron: %s %v", msg, fields)
}

func kvMap(kv []any) map[string]any {
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return m
}

// schedule registers the expiry sweep and the fairness reset.
func (s *Service) schedule() (*cron.Cron, error) {
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	dcfg := s.Orchestrator.Config()
	if _, err := c.AddFunc(dcfg.ExpirySweep, s.sweepExpired); err != nil {
		return nil, fmt.Errorf("expiry_sweep %q: %w", dcfg.ExpirySweep, err)
	}
	if _, err := c.AddFunc(dcfg.FairnessReset, s.resetFairness); err != nil {
		return nil, fmt.Errorf("fairness_reset %q: %w", dcfg.FairnessReset, err)
	}
	return c, nil
}

func (s *Service) sweepExpired() {
	n, err := s.Orchestrator.SweepExpired(context.Background())
	if err != nil {
		s.log.Errorf("expiry sweep: %v", err)
		return
	}
	if n > 0 {
		s.log.Infof("expiry sweep expired %d leads", n)
	}
}

func (s *Service) resetFairness() {
	cleared := s.Orchestrator.ResetFairness()
	pruned := s.Notifier.Prune()
	s.log.Infow("fairness reset", map[string]any{"contractors": cleared, "limiters_pruned": pruned})
}
