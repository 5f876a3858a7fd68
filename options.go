package fluxgate

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fluxgate/fluxgate/backends"
	_ "github.com/fluxgate/fluxgate/backends/memory"
	redisbackend "github.com/fluxgate/fluxgate/backends/redis"
	"github.com/fluxgate/fluxgate/metrics"
	"github.com/fluxgate/fluxgate/provider"
	"github.com/fluxgate/fluxgate/resolver"
	"github.com/fluxgate/fluxgate/rules"
)

// Option is a functional option for constructing the engine.
type Option func(*engineSettings) error

type engineSettings struct {
	config   Config
	backend  backends.Backend
	provider provider.RuleSetProvider
	resolver resolver.KeyResolver
	metrics  metrics.Recorder
	logger   *zap.Logger

	closeProvider func()
}

// WithConfig applies a full configuration, typically from LoadConfig.
func WithConfig(config Config) Option {
	return func(s *engineSettings) error {
		if err := config.Validate(); err != nil {
			return err
		}
		s.config = config
		return nil
	}
}

// WithBackend supplies a pre-built shared-store backend.
func WithBackend(backend backends.Backend) Option {
	return func(s *engineSettings) error {
		s.backend = backend
		return nil
	}
}

// WithRedisBackend connects the engine to Redis.
func WithRedisBackend(config redisbackend.Config) Option {
	return func(s *engineSettings) error {
		backend, err := backends.Create("redis", config)
		if err != nil {
			return fmt.Errorf("failed to create redis backend: %w", err)
		}
		s.backend = backend
		return nil
	}
}

// WithMemoryBackend runs the engine against the in-process store.
func WithMemoryBackend() Option {
	return func(s *engineSettings) error {
		backend, err := backends.Create("memory", nil)
		if err != nil {
			return fmt.Errorf("failed to create memory backend: %w", err)
		}
		s.backend = backend
		return nil
	}
}

// WithProvider supplies the rule-set provider.
func WithProvider(p provider.RuleSetProvider) Option {
	return func(s *engineSettings) error {
		s.provider = p
		return nil
	}
}

// WithPostgresProvider loads rule-sets from a Postgres control store.
func WithPostgresProvider(config provider.PostgresConfig) Option {
	return func(s *engineSettings) error {
		pg, err := provider.NewPostgres(config)
		if err != nil {
			return err
		}
		s.provider = pg
		s.closeProvider = pg.Close
		return nil
	}
}

// WithRuleSets serves a fixed set of rule-sets without a control store.
func WithRuleSets(ruleSets ...*rules.RuleSet) Option {
	return func(s *engineSettings) error {
		if len(ruleSets) == 0 {
			return fmt.Errorf("at least one rule-set must be provided")
		}
		s.provider = provider.NewStatic(ruleSets...)
		return nil
	}
}

// WithKeyResolver overrides the default scope resolver.
func WithKeyResolver(r resolver.KeyResolver) Option {
	return func(s *engineSettings) error {
		s.resolver = r
		return nil
	}
}

// WithMetrics supplies a metrics recorder; default is no-op.
func WithMetrics(recorder metrics.Recorder) Option {
	return func(s *engineSettings) error {
		s.metrics = recorder
		return nil
	}
}

// WithLogger supplies the logger; default discards.
func WithLogger(logger *zap.Logger) Option {
	return func(s *engineSettings) error {
		s.logger = logger
		return nil
	}
}

// WithDefaultRuleSet sets the rule-set id used when a check passes none.
func WithDefaultRuleSet(ruleSetID string) Option {
	return func(s *engineSettings) error {
		s.config.RateLimit.DefaultRuleSetID = ruleSetID
		return nil
	}
}

// WithOnMissingRuleSet sets the missing-rule-set strategy.
func WithOnMissingRuleSet(strategy OnMissingRuleSetStrategy) Option {
	return func(s *engineSettings) error {
		if strategy != MissingThrow && strategy != MissingAllow {
			return fmt.Errorf("invalid onMissingRuleSet strategy %q", strategy)
		}
		s.config.RateLimit.OnMissingRuleSet = strategy
		return nil
	}
}
