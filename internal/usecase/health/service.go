// Package health probes the database and model providers behind GET /health.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the overall verdict.
type Status string

// Healthy when every probe passes, Unhealthy when none does, Degraded otherwise.
const (
	Healthy   Status = "ok"
	Degraded  Status = "degraded"
	Unhealthy Status = "error"
)

// CheckResult is the outcome of one probe.
type CheckResult string

const (
	CheckOK    CheckResult = "ok"
	CheckError CheckResult = "error"
)

// DefaultTimeout bounds each probe.
const DefaultTimeout = 5 * time.Second

// Report maps probe names ("database", "embedding", "completion") to results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

type probe struct {
	name string
	run  func(context.Context) error
}

// Service runs the configured probes in parallel.
type Service struct {
	probes  []probe
	timeout time.Duration
	logger  *zap.Logger
}

// New probes db always and each provider that is non-nil.
func New(db DBPinger, embedding, completion ProviderChecker, logger *zap.Logger) *Service {
	s := &Service{
		probes:  []probe{{name: "database", run: db.Ping}},
		timeout: DefaultTimeout,
		logger:  logger,
	}
	if embedding != nil {
		s.probes = append(s.probes, probe{name: "embedding", run: embedding.HealthCheck})
	}
	if completion != nil {
		s.probes = append(s.probes, probe{name: "completion", run: completion.HealthCheck})
	}
	return s
}

// Check runs every probe under its own timeout and folds the results.
func (s *Service) Check(ctx context.Context) Report {
	errs := make([]error, len(s.probes))
	var wg sync.WaitGroup
	for i, p := range s.probes {
		wg.Go(func() {
			pctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			errs[i] = p.run(pctx)
		})
	}
	wg.Wait()

	report := Report{Checks: make(map[string]CheckResult, len(s.probes))}
	failed := 0
	for i, p := range s.probes {
		if errs[i] == nil {
			report.Checks[p.name] = CheckOK
			continue
		}
		failed++
		report.Checks[p.name] = CheckError
		s.logger.Warn("Health probe failed", zap.String("probe", p.name), zap.Error(errs[i]))
	}

	switch failed {
	case 0:
		report.Status = Healthy
	case len(s.probes):
		report.Status = Unhealthy
	default:
		report.Status = Degraded
	}
	return report
}
