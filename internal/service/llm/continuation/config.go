package continuation

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"cadence/internal/domain/models/llm"
)

const (
	// MaxIterationsLimit caps max_iterations regardless of configuration.
	MaxIterationsLimit = 100
	// MaxTimeoutSeconds caps timeout_seconds regardless of configuration.
	MaxTimeoutSeconds = 24 * 60 * 60
)

// ErrInvalidConfig is returned when a continuation config fails validation.
var ErrInvalidConfig = errors.New("invalid continuation config")

//go:embed defaults.yaml
var defaultsYAML []byte

// Config controls a continuation session.
type Config struct {
	RequireExplicitSignal bool     `yaml:"require_explicit_signal" json:"require_explicit_signal"`
	MaxIterations         int      `yaml:"max_iterations" json:"max_iterations"`
	TimeoutSeconds        int      `yaml:"timeout_seconds" json:"timeout_seconds"`
	ContinuationPatterns  []string `yaml:"continuation_patterns" json:"continuation_patterns"`
	TerminationPatterns   []string `yaml:"termination_patterns" json:"termination_patterns"`
}

// Timeout returns the session wall-clock limit.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Validate checks limits and that every pattern compiles.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.MaxIterations, validation.Required, validation.Min(1), validation.Max(MaxIterationsLimit)),
		validation.Field(&c.TimeoutSeconds, validation.Required, validation.Min(1), validation.Max(MaxTimeoutSeconds)),
		validation.Field(&c.ContinuationPatterns, validation.Each(validation.Required, validation.By(compilablePattern))),
		validation.Field(&c.TerminationPatterns, validation.Each(validation.Required, validation.By(compilablePattern))),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// WithOverrides returns a copy of c with the non-nil overrides applied.
func (c Config) WithOverrides(o *llm.ContinuationOverrides) Config {
	if o == nil {
		return c
	}
	if o.RequireExplicitSignal != nil {
		c.RequireExplicitSignal = *o.RequireExplicitSignal
	}
	if o.MaxIterations != nil {
		c.MaxIterations = *o.MaxIterations
	}
	if o.TimeoutSeconds != nil {
		c.TimeoutSeconds = *o.TimeoutSeconds
	}
	if o.ContinuationPatterns != nil {
		c.ContinuationPatterns = append([]string(nil), o.ContinuationPatterns...)
	}
	if o.TerminationPatterns != nil {
		c.TerminationPatterns = append([]string(nil), o.TerminationPatterns...)
	}
	return c
}

// DefaultConfig returns the embedded defaults.
func DefaultConfig() Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		panic(fmt.Sprintf("continuation: embedded defaults are invalid: %v", err))
	}
	return cfg
}

// LoadConfig reads a YAML file on top of the defaults and validates the result.
// An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read continuation config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse continuation config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func compilablePattern(value interface{}) error {
	s, _ := value.(string)
	if _, err := regexp.Compile(s); err != nil {
		return fmt.Errorf("invalid pattern: %v", err)
	}
	return nil
}
