package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/lookupkit/errors"
)

// Config contains configuration for a result cache.
type Config struct {
	// Enabled determines if caching is enabled.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// MaxSize is the maximum number of entries; 0 means unbounded.
	MaxSize int `json:"max_size" yaml:"max_size"`

	// MaxDuration is the maximum time since last access; 0 means unbounded.
	MaxDuration time.Duration `json:"max_duration" yaml:"max_duration"`
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		MaxSize:     1000,
		MaxDuration: 5 * time.Minute,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.MaxSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("max_size must not be negative, got %d", c.MaxSize))
	}
	if c.MaxDuration < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("max_duration must not be negative, got %v", c.MaxDuration))
	}
	if c.MaxSize == 0 && c.MaxDuration == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			"at least one of max_size or max_duration must be set")
	}
	return nil
}

// NewFromConfig creates a cache based on the provided configuration.
// Returns a NoopCache if config.Enabled is false.
func NewFromConfig[V any](config Config, options ...Option[V]) (Cache[V], error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "cache", "NewFromConfig", "config validation")
	}
	if !config.Enabled {
		return NewNoop[V](), nil
	}
	return NewBounded[V](config.MaxSize, config.MaxDuration, options...)
}

// NewBounded creates a cache bounded by entry count and by time since last
// access. Either bound may be zero to disable it.
func NewBounded[V any](maxSize int, maxDuration time.Duration, options ...Option[V]) (*Bounded[V], error) {
	return newBoundedCache[V](maxSize, maxDuration, applyOptions(options...))
}

// NewLRU creates a cache bounded only by entry count.
func NewLRU[V any](maxSize int, options ...Option[V]) (*Bounded[V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewLRU",
			fmt.Sprintf("max_size must be positive for LRU cache, got %d", maxSize))
	}
	return newBoundedCache[V](maxSize, 0, applyOptions(options...))
}

// NewNoop creates a cache that does nothing (always returns cache misses).
func NewNoop[V any]() Cache[V] {
	return &noopCache[V]{}
}

type noopCache[V any] struct{}

func (c *noopCache[V]) Get(_ string) (V, bool) {
	var zero V
	return zero, false
}

func (c *noopCache[V]) Set(_ string, _ V) (bool, error) { return false, nil }
func (c *noopCache[V]) Delete(_ string) (bool, error)    { return false, nil }
func (c *noopCache[V]) Clear() error                      { return nil }
func (c *noopCache[V]) Size() int                         { return 0 }
func (c *noopCache[V]) Keys() []string                    { return nil }
func (c *noopCache[V]) Stats() *Statistics                { return nil }
func (c *noopCache[V]) Close() error                      { return nil }

// UnmarshalJSON accepts max_duration (or its alias expiry_seconds) as a
// duration string ("5m"), integer nanoseconds, or for expiry_seconds a
// number of seconds.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config

	aux := &struct {
		MaxDuration   json.RawMessage `json:"max_duration,omitempty"`
		ExpirySeconds *float64        `json:"expiry_seconds,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.MaxDuration) > 0 {
		d, err := parseDurationField(aux.MaxDuration, "max_duration")
		if err != nil {
			return err
		}
		c.MaxDuration = d
	} else if aux.ExpirySeconds != nil {
		c.MaxDuration = time.Duration(*aux.ExpirySeconds * float64(time.Second))
	}

	return nil
}

// parseDurationField parses a JSON duration field that can be either a
// duration string or integer nanoseconds.
func parseDurationField(data json.RawMessage, fieldName string) (time.Duration, error) {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		duration, err := time.ParseDuration(str)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", fieldName, err)
		}
		return duration, nil
	}

	var nsec int64
	if err := json.Unmarshal(data, &nsec); err != nil {
		return 0, fmt.Errorf("field %s must be either a duration string (e.g., '1h') or integer nanoseconds", fieldName)
	}
	return time.Duration(nsec), nil
}
