package concurrency

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/aimovie/api/internal/telemetry"
)

// Worker count bounds. Updates and effective values never leave this range.
const (
	MinWorkers = 1
	MaxWorkers = 10
)

// Load above this percentage (CPU or memory) halves the auto-tuned
// worker recommendation.
const highLoadPercent = 80.0

// Settings is the process-wide scene concurrency configuration.
type Settings struct {
	MaxParallelWorkers int  `json:"max_parallel_workers"`
	ConcurrentScenes   int  `json:"concurrent_scenes"`
	EnableParallel     bool `json:"enable_parallel"`
	AutoAdjustWorkers  bool `json:"auto_adjust_workers"`
}

// Update carries a partial settings change. Nil fields are left untouched.
type Update struct {
	Workers           *int  `json:"workers" validate:"omitempty,min=1,max=10"`
	ConcurrentScenes  *int  `json:"concurrent_scenes" validate:"omitempty,min=1,max=10"`
	EnableParallel    *bool `json:"enable_parallel"`
	AutoAdjustWorkers *bool `json:"auto_adjust_workers"`
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return u.Workers == nil && u.ConcurrentScenes == nil &&
		u.EnableParallel == nil && u.AutoAdjustWorkers == nil
}

// ValidationError rejects an Update without touching the current settings.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Controller guards the single Settings value. All mutation goes through
// Apply; readers always see a complete value, never a torn one.
type Controller struct {
	mu       sync.RWMutex
	settings Settings
	probe    telemetry.Probe
}

func NewController(defaults Settings, probe telemetry.Probe) *Controller {
	defaults.MaxParallelWorkers = clamp(defaults.MaxParallelWorkers, MinWorkers, MaxWorkers)
	defaults.ConcurrentScenes = clamp(defaults.ConcurrentScenes, MinWorkers, MaxWorkers)
	return &Controller{settings: defaults, probe: probe}
}

// Get returns a copy of the current settings.
func (c *Controller) Get() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// Apply validates the update and swaps the settings atomically. A rejected
// update leaves the previous settings in place.
func (c *Controller) Apply(u Update) (Settings, error) {
	if u.Workers != nil && (*u.Workers < MinWorkers || *u.Workers > MaxWorkers) {
		return c.Get(), &ValidationError{
			Message: fmt.Sprintf("workers must be between %d and %d, got %d", MinWorkers, MaxWorkers, *u.Workers),
		}
	}
	if u.ConcurrentScenes != nil && (*u.ConcurrentScenes < MinWorkers || *u.ConcurrentScenes > MaxWorkers) {
		return c.Get(), &ValidationError{
			Message: fmt.Sprintf("concurrent_scenes must be between %d and %d, got %d", MinWorkers, MaxWorkers, *u.ConcurrentScenes),
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if u.Workers != nil {
		c.settings.MaxParallelWorkers = *u.Workers
	}
	if u.ConcurrentScenes != nil {
		c.settings.ConcurrentScenes = *u.ConcurrentScenes
	}
	if u.EnableParallel != nil {
		c.settings.EnableParallel = *u.EnableParallel
	}
	if u.AutoAdjustWorkers != nil {
		c.settings.AutoAdjustWorkers = *u.AutoAdjustWorkers
	}
	log.Printf("[Concurrency] settings updated: workers=%d scenes=%d parallel=%t auto=%t",
		c.settings.MaxParallelWorkers, c.settings.ConcurrentScenes,
		c.settings.EnableParallel, c.settings.AutoAdjustWorkers)
	return c.settings, nil
}

// EffectiveWorkerCount resolves the worker limit for a scene stage about to
// start. Callers read it once at stage entry and hold that value for the
// whole stage.
func (c *Controller) EffectiveWorkerCount(ctx context.Context) int {
	s := c.Get()
	if !s.EnableParallel {
		return 1
	}
	if s.AutoAdjustWorkers && c.probe != nil {
		info, err := c.probe.Snapshot(ctx)
		if err == nil {
			return Effective(s, info, true)
		}
		log.Printf("[Concurrency] telemetry unavailable, using manual worker count: %v", err)
	}
	return Effective(s, telemetry.SystemInfo{}, false)
}

// Effective computes the worker limit from settings and a telemetry
// snapshot. haveInfo=false means telemetry could not be read and auto
// adjustment falls back to the manual value.
func Effective(s Settings, info telemetry.SystemInfo, haveInfo bool) int {
	if !s.EnableParallel {
		return 1
	}

	limit := clamp(s.MaxParallelWorkers, MinWorkers, MaxWorkers)
	if s.AutoAdjustWorkers && haveInfo {
		limit = Recommended(info)
	}

	if s.ConcurrentScenes > 0 && s.ConcurrentScenes < limit {
		limit = s.ConcurrentScenes
	}
	return limit
}

// Recommended derives the auto-tuned worker count from host telemetry:
// one worker per logical core up to MaxWorkers, halved under high load.
func Recommended(info telemetry.SystemInfo) int {
	rec := info.CPUCount
	if rec > MaxWorkers {
		rec = MaxWorkers
	}
	if rec < MinWorkers {
		rec = MinWorkers
	}
	if info.CPUUsagePercent > highLoadPercent || info.MemoryUsagePercent > highLoadPercent {
		rec = rec / 2
		if rec < MinWorkers {
			rec = MinWorkers
		}
	}
	return rec
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
