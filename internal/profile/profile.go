// Package profile defines strategy profiles: named bundles of execution
// limits and a parallelism mode, selected once per session.
package profile

import (
	"fmt"
	"strings"
	"time"
)

// Mode controls how the strategy executor runs the configured strategies.
type Mode string

const (
	ModeConservative Mode = "conservative" // tool strategy only
	ModeExploratory  Mode = "exploratory"  // all strategies concurrently, pick winner
	ModeFallback     Mode = "fallback"     // strategies in priority order, first success
)

// Profile is an immutable bundle of execution limits. It is chosen at
// session start and never mutated afterwards.
type Profile struct {
	Name            string
	Mode            Mode
	MaxSteps        int
	MaxRetries      int
	MaxRewrites     int
	StrategyTimeout time.Duration
}

// Conservative returns the default conservative profile.
func Conservative() Profile {
	return Profile{
		Name:            string(ModeConservative),
		Mode:            ModeConservative,
		MaxSteps:        5,
		MaxRetries:      2,
		MaxRewrites:     1,
		StrategyTimeout: 3 * time.Second,
	}
}

// Exploratory returns the default exploratory profile.
func Exploratory() Profile {
	return Profile{
		Name:            string(ModeExploratory),
		Mode:            ModeExploratory,
		MaxSteps:        15,
		MaxRetries:      3,
		MaxRewrites:     3,
		StrategyTimeout: 5 * time.Second,
	}
}

// Fallback returns the default fallback profile.
func Fallback() Profile {
	return Profile{
		Name:            string(ModeFallback),
		Mode:            ModeFallback,
		MaxSteps:        10,
		MaxRetries:      4,
		MaxRewrites:     2,
		StrategyTimeout: 4 * time.Second,
	}
}

// ByName resolves a profile by its name, case-insensitively.
func ByName(name string) (Profile, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(name))) {
	case ModeConservative:
		return Conservative(), nil
	case ModeExploratory:
		return Exploratory(), nil
	case ModeFallback:
		return Fallback(), nil
	default:
		return Profile{}, fmt.Errorf("unknown profile %q", name)
	}
}

// Validate reports whether the profile's limits are usable.
func (p Profile) Validate() error {
	if p.MaxSteps <= 0 {
		return fmt.Errorf("profile %s: max steps must be > 0", p.Name)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("profile %s: max retries must be >= 0", p.Name)
	}
	if p.MaxRewrites < 0 {
		return fmt.Errorf("profile %s: max rewrites must be >= 0", p.Name)
	}
	if p.StrategyTimeout <= 0 {
		return fmt.Errorf("profile %s: strategy timeout must be > 0", p.Name)
	}
	return nil
}
