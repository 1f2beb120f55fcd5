package ratelimit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownCategory = errors.New("unknown rate limit category")
	ErrInvalidConfig   = errors.New("invalid rate limit config")
)

// Category names a class of protected operation. The set is closed: every
// value below has an entry in every Registry.
type Category int

const (
	FetchURL Category = iota
	AIGemini
	AdminGrantRole
	Email
	API
	Strict
	Medical

	categoryCount
)

var categoryKeys = [categoryCount]string{
	FetchURL:       "fetch-url",
	AIGemini:       "ai:gemini",
	AdminGrantRole: "admin:grant-role",
	Email:          "email",
	API:            "api",
	Strict:         "strict",
	Medical:        "medical",
}

func (c Category) String() string {
	if c < 0 || c >= categoryCount {
		return "unknown"
	}
	return categoryKeys[c]
}

// Returns every category in declaration order
func Categories() []Category {
	out := make([]Category, 0, categoryCount)
	for c := Category(0); c < categoryCount; c++ {
		out = append(out, c)
	}
	return out
}

// ParseCategory maps an external name (env var, query parameter) onto the enum.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, key := range categoryKeys {
		if key == s {
			return Category(c), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Config is the quota attached to a category.
type Config struct {
	Key         string        `json:"key"`
	MaxRequests int           `json:"max_requests"`
	Window      time.Duration `json:"window"`
	Namespace   string        `json:"namespace"`
}

func (c Config) Validate() error {
	if c.MaxRequests <= 0 {
		return fmt.Errorf("%w: %s: max requests must be > 0, got %d", ErrInvalidConfig, c.Key, c.MaxRequests)
	}
	if c.Window < time.Millisecond {
		return fmt.Errorf("%w: %s: window must be at least 1ms, got %s", ErrInvalidConfig, c.Key, c.Window)
	}
	if c.Namespace == "" {
		return fmt.Errorf("%w: %s: namespace is required", ErrInvalidConfig, c.Key)
	}
	return nil
}

// Registry holds one Config per Category. Being an array it cannot miss one.
type Registry [categoryCount]Config

func DefaultRegistry() Registry {
	return Registry{
		FetchURL:       newConfig(FetchURL, 10, time.Minute),
		AIGemini:       newConfig(AIGemini, 10, time.Minute),
		AdminGrantRole: newConfig(AdminGrantRole, 5, time.Hour),
		Email:          newConfig(Email, 10, time.Hour),
		API:            newConfig(API, 100, time.Minute),
		Strict:         newConfig(Strict, 10, time.Minute),
		Medical:        newConfig(Medical, 60, time.Minute),
	}
}

func newConfig(c Category, maxRequests int, window time.Duration) Config {
	return Config{
		Key:         c.String(),
		MaxRequests: maxRequests,
		Window:      window,
		Namespace:   c.String(),
	}
}

func (r Registry) Lookup(c Category) Config {
	return r[c]
}

// Override returns a copy of the registry with new quota values for c.
func (r Registry) Override(c Category, maxRequests int, window time.Duration) (Registry, error) {
	if c < 0 || c >= categoryCount {
		return r, fmt.Errorf("%w: %d", ErrUnknownCategory, int(c))
	}

	cfg := r[c]
	cfg.MaxRequests = maxRequests
	cfg.Window = window
	if err := cfg.Validate(); err != nil {
		return r, err
	}

	r[c] = cfg
	return r, nil
}

func (r Registry) Validate() error {
	for _, cfg := range r {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	return nil
}
