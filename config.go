package fluxgate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fluxgate/fluxgate/provider"
	"github.com/fluxgate/fluxgate/reload"
	"github.com/fluxgate/fluxgate/resilience"
)

// OnMissingRuleSetStrategy decides what a check does when the rule-set id
// resolves to nothing.
type OnMissingRuleSetStrategy string

const (
	// MissingThrow surfaces ErrMissingRuleSet to the caller.
	MissingThrow OnMissingRuleSetStrategy = "THROW"
	// MissingAllow returns a synthetic allowed-without-rule verdict.
	MissingAllow OnMissingRuleSetStrategy = "ALLOW"
)

// Duration wraps time.Duration so YAML configs can say "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full engine configuration surface. Zero values fall back
// to the documented defaults; LoadConfig fills it from a YAML file.
type Config struct {
	RateLimit      RateLimitConfig      `yaml:"rateLimit"`
	Cache          CacheConfig          `yaml:"cache"`
	Reload         ReloadConfig         `yaml:"reload"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

type RateLimitConfig struct {
	DefaultRuleSetID  string                   `yaml:"defaultRuleSetId"`
	OnMissingRuleSet  OnMissingRuleSetStrategy `yaml:"onMissingRuleSet"`
	ScopeFallbackToIP *bool                    `yaml:"scopeFallbackToIP"`
	WaitForRefill     WaitForRefillConfig      `yaml:"waitForRefill"`
}

type WaitForRefillConfig struct {
	Enabled            bool `yaml:"enabled"`
	MaxWaitTimeMs      int  `yaml:"maxWaitTimeMs"`
	MaxConcurrentWaits int  `yaml:"maxConcurrentWaits"`
}

type CacheConfig struct {
	Enabled *bool    `yaml:"enabled"`
	TTL     Duration `yaml:"ttl"`
	MaxSize int      `yaml:"maxSize"`
}

type ReloadConfig struct {
	Strategy reload.Mode         `yaml:"strategy"`
	Polling  ReloadPollingConfig `yaml:"polling"`
	PubSub   ReloadPubSubConfig  `yaml:"pubsub"`
}

type ReloadPollingConfig struct {
	Interval     Duration `yaml:"interval"`
	InitialDelay Duration `yaml:"initialDelay"`
}

type ReloadPubSubConfig struct {
	Channel        string   `yaml:"channel"`
	RetryOnFailure *bool    `yaml:"retryOnFailure"`
	RetryInterval  Duration `yaml:"retryInterval"`
}

type RetryConfig struct {
	Enabled        *bool    `yaml:"enabled"`
	MaxAttempts    int      `yaml:"maxAttempts"`
	InitialBackoff Duration `yaml:"initialBackoff"`
	Multiplier     float64  `yaml:"multiplier"`
	MaxBackoff     Duration `yaml:"maxBackoff"`
}

type CircuitBreakerConfig struct {
	Enabled                  *bool                       `yaml:"enabled"`
	FailureThreshold         int32                       `yaml:"failureThreshold"`
	WaitDurationInOpenState  Duration                    `yaml:"waitDurationInOpenState"`
	PermittedCallsInHalfOpen int32                       `yaml:"permittedCallsInHalfOpenState"`
	Fallback                 resilience.FallbackStrategy `yaml:"fallback"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		RateLimit: RateLimitConfig{
			OnMissingRuleSet: MissingThrow,
			WaitForRefill: WaitForRefillConfig{
				Enabled:            true,
				MaxWaitTimeMs:      5000,
				MaxConcurrentWaits: 100,
			},
		},
		Cache: CacheConfig{
			TTL:     Duration(provider.DefaultCacheTTL),
			MaxSize: provider.DefaultCacheMaxSize,
		},
		Reload: ReloadConfig{
			Strategy: reload.ModeAuto,
			Polling: ReloadPollingConfig{
				Interval:     Duration(reload.DefaultPollingInterval),
				InitialDelay: Duration(reload.DefaultPollingInitialDelay),
			},
			PubSub: ReloadPubSubConfig{
				Channel:       reload.DefaultChannel,
				RetryInterval: Duration(reload.DefaultRetryInterval),
			},
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: Duration(100 * time.Millisecond),
			Multiplier:     2.0,
			MaxBackoff:     Duration(2 * time.Second),
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:         5,
			WaitDurationInOpenState:  Duration(30 * time.Second),
			PermittedCallsInHalfOpen: 3,
			Fallback:                 resilience.FailOpen,
		},
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	switch c.RateLimit.OnMissingRuleSet {
	case MissingThrow, MissingAllow, "":
	default:
		return fmt.Errorf("invalid onMissingRuleSet strategy %q", c.RateLimit.OnMissingRuleSet)
	}
	switch c.Reload.Strategy {
	case reload.ModeAuto, reload.ModePubSub, reload.ModePolling, reload.ModeNone, "":
	default:
		return fmt.Errorf("invalid reload strategy %q", c.Reload.Strategy)
	}
	switch c.CircuitBreaker.Fallback {
	case resilience.FailOpen, resilience.FailClosed, "":
	default:
		return fmt.Errorf("invalid circuit breaker fallback %q", c.CircuitBreaker.Fallback)
	}
	if c.RateLimit.WaitForRefill.MaxWaitTimeMs < 0 {
		return fmt.Errorf("maxWaitTimeMs cannot be negative")
	}
	if c.RateLimit.WaitForRefill.MaxConcurrentWaits < 0 {
		return fmt.Errorf("maxConcurrentWaits cannot be negative")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry maxAttempts cannot be negative")
	}
	return nil
}

// cacheEnabled defaults to true.
func (c Config) cacheEnabled() bool {
	return c.Cache.Enabled == nil || *c.Cache.Enabled
}

func (c Config) retryEnabled() bool {
	return c.Retry.Enabled == nil || *c.Retry.Enabled
}

func (c Config) breakerEnabled() bool {
	return c.CircuitBreaker.Enabled == nil || *c.CircuitBreaker.Enabled
}

func (c Config) scopeFallbackToIP() bool {
	return c.RateLimit.ScopeFallbackToIP == nil || *c.RateLimit.ScopeFallbackToIP
}

func (c Config) pubsubRetryOnFailure() bool {
	return c.Reload.PubSub.RetryOnFailure == nil || *c.Reload.PubSub.RetryOnFailure
}

// resilienceConfig translates the config surface into the envelope's
// tuning structs.
func (c Config) resilienceConfig() resilience.Config {
	cfg := resilience.Config{
		Retry: resilience.RetryConfig{
			Enabled:        c.retryEnabled(),
			MaxAttempts:    c.Retry.MaxAttempts,
			InitialBackoff: c.Retry.InitialBackoff.Std(),
			Multiplier:     c.Retry.Multiplier,
			MaxBackoff:     c.Retry.MaxBackoff.Std(),
		},
		Breaker: resilience.BreakerConfig{
			Enabled:                  c.breakerEnabled(),
			FailureThreshold:         c.CircuitBreaker.FailureThreshold,
			WaitDurationInOpenState:  c.CircuitBreaker.WaitDurationInOpenState.Std(),
			PermittedCallsInHalfOpen: c.CircuitBreaker.PermittedCallsInHalfOpen,
			Fallback:                 c.CircuitBreaker.Fallback,
		},
		AttemptTimeout: resilience.DefaultAttemptTimeout,
	}
	if cfg.Breaker.Fallback == "" {
		cfg.Breaker.Fallback = resilience.FailOpen
	}
	return cfg
}
