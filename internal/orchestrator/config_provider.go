package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/qpcr-scurve/engine/internal/domain"
)

// ConfigProvider caches the three qPCR configuration blobs (pathogen
// library, fixed-threshold table, ML config) behind a circuit breaker, the
// orchestrator's analogue of the teacher's resilience layer in front of its
// external knowledge-base clients (ClinVar/gnomAD/etc.). analyze() always
// reads the last-good cached snapshot under a read lock; Refresh is the
// only path that calls out to the loaders, so a flaky/slow provider cannot
// hang analyze.
type ConfigProvider struct {
	logger *logrus.Logger

	pathogenLoader  domain.PathogenLibraryLoader
	thresholdLoader domain.FixedThresholdLoader
	mlConfigLoader  domain.MLConfigLoader

	breaker *gobreaker.CircuitBreaker

	mu        sync.RWMutex
	pathogens domain.PathogenLibrary
	fixed     domain.FixedThresholdTable
	mlConfig  domain.MLConfig
}

// NewConfigProvider constructs a ConfigProvider with an empty snapshot;
// call Refresh or SetSnapshot at least once before serving traffic.
func NewConfigProvider(logger *logrus.Logger, pathogenLoader domain.PathogenLibraryLoader, thresholdLoader domain.FixedThresholdLoader, mlConfigLoader domain.MLConfigLoader) *ConfigProvider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	st := gobreaker.Settings{
		Name:        "config-provider",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &ConfigProvider{
		logger:          logger,
		pathogenLoader:  pathogenLoader,
		thresholdLoader: thresholdLoader,
		mlConfigLoader:  mlConfigLoader,
		breaker:         gobreaker.NewCircuitBreaker(st),
		pathogens:       domain.PathogenLibrary{},
		fixed:           domain.FixedThresholdTable{},
		mlConfig:        domain.DefaultMLConfig(),
	}
}

// Refresh pulls a fresh snapshot of all three blobs through the circuit
// breaker and validates it before swapping it in. A partial failure (any
// one loader erroring, or validation failing) leaves the prior snapshot in
// place untouched.
func (p *ConfigProvider) Refresh(ctx context.Context) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		pathogens, err := p.pathogenLoader.Load(ctx)
		if err != nil {
			return nil, err
		}
		fixed, err := p.thresholdLoader.Load(ctx)
		if err != nil {
			return nil, err
		}
		mlConfig, err := p.mlConfigLoader.Load(ctx)
		if err != nil {
			return nil, err
		}
		if err := pathogens.Validate(); err != nil {
			return nil, err
		}
		if err := fixed.Validate(); err != nil {
			return nil, err
		}
		if err := mlConfig.Validate(); err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.pathogens, p.fixed, p.mlConfig = pathogens, fixed, mlConfig
		p.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		p.logger.WithError(err).Warn("config refresh failed, serving last-good snapshot")
	}
	return err
}

// PathogenLibrary returns the cached pathogen library snapshot.
func (p *ConfigProvider) PathogenLibrary() domain.PathogenLibrary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pathogens
}

// FixedThresholds returns the cached fixed-threshold table snapshot.
func (p *ConfigProvider) FixedThresholds() domain.FixedThresholdTable {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fixed
}

// MLConfig returns the cached ML configuration snapshot.
func (p *ConfigProvider) MLConfig() domain.MLConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mlConfig
}

// SetSnapshot installs a snapshot directly, bypassing the loaders — used
// by hosts that already hold validated config in memory (e.g. loaded once
// at startup by internal/config) and by tests.
func (p *ConfigProvider) SetSnapshot(pathogens domain.PathogenLibrary, fixed domain.FixedThresholdTable, mlConfig domain.MLConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pathogens, p.fixed, p.mlConfig = pathogens, fixed, mlConfig
}
