package concurrency

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aimovie/api/internal/telemetry"
)

type fakeProbe struct {
	info telemetry.SystemInfo
	err  error
}

func (p *fakeProbe) Snapshot(ctx context.Context) (telemetry.SystemInfo, error) {
	return p.info, p.err
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func TestEffective(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		info     telemetry.SystemInfo
		haveInfo bool
		want     int
	}{
		{
			name:     "parallel disabled forces one worker",
			settings: Settings{MaxParallelWorkers: 8, ConcurrentScenes: 8, EnableParallel: false, AutoAdjustWorkers: true},
			info:     telemetry.SystemInfo{CPUCount: 16},
			haveInfo: true,
			want:     1,
		},
		{
			name:     "manual value used verbatim",
			settings: Settings{MaxParallelWorkers: 4, ConcurrentScenes: 10, EnableParallel: true},
			want:     4,
		},
		{
			name:     "manual value clamped to max",
			settings: Settings{MaxParallelWorkers: 25, ConcurrentScenes: 10, EnableParallel: true},
			want:     10,
		},
		{
			name:     "manual value clamped to min",
			settings: Settings{MaxParallelWorkers: 0, ConcurrentScenes: 10, EnableParallel: true},
			want:     1,
		},
		{
			name:     "concurrent scenes caps the limit",
			settings: Settings{MaxParallelWorkers: 8, ConcurrentScenes: 2, EnableParallel: true},
			want:     2,
		},
		{
			name:     "auto mode follows core count",
			settings: Settings{MaxParallelWorkers: 2, ConcurrentScenes: 10, EnableParallel: true, AutoAdjustWorkers: true},
			info:     telemetry.SystemInfo{CPUCount: 6, CPUUsagePercent: 30, MemoryUsagePercent: 40},
			haveInfo: true,
			want:     6,
		},
		{
			name:     "auto mode capped at ten on big hosts",
			settings: Settings{MaxParallelWorkers: 2, ConcurrentScenes: 10, EnableParallel: true, AutoAdjustWorkers: true},
			info:     telemetry.SystemInfo{CPUCount: 32, CPUUsagePercent: 10, MemoryUsagePercent: 10},
			haveInfo: true,
			want:     10,
		},
		{
			name:     "high cpu load halves the recommendation",
			settings: Settings{MaxParallelWorkers: 8, ConcurrentScenes: 10, EnableParallel: true, AutoAdjustWorkers: true},
			info:     telemetry.SystemInfo{CPUCount: 8, CPUUsagePercent: 90, MemoryUsagePercent: 40},
			haveInfo: true,
			want:     4,
		},
		{
			name:     "high memory load halves the recommendation",
			settings: Settings{MaxParallelWorkers: 8, ConcurrentScenes: 10, EnableParallel: true, AutoAdjustWorkers: true},
			info:     telemetry.SystemInfo{CPUCount: 6, CPUUsagePercent: 20, MemoryUsagePercent: 95},
			haveInfo: true,
			want:     3,
		},
		{
			name:     "halving never goes below one",
			settings: Settings{MaxParallelWorkers: 8, ConcurrentScenes: 10, EnableParallel: true, AutoAdjustWorkers: true},
			info:     telemetry.SystemInfo{CPUCount: 1, CPUUsagePercent: 99, MemoryUsagePercent: 99},
			haveInfo: true,
			want:     1,
		},
		{
			name:     "auto mode still capped by concurrent scenes",
			settings: Settings{MaxParallelWorkers: 2, ConcurrentScenes: 3, EnableParallel: true, AutoAdjustWorkers: true},
			info:     telemetry.SystemInfo{CPUCount: 8, CPUUsagePercent: 10, MemoryUsagePercent: 10},
			haveInfo: true,
			want:     3,
		},
		{
			name:     "missing telemetry falls back to manual",
			settings: Settings{MaxParallelWorkers: 5, ConcurrentScenes: 10, EnableParallel: true, AutoAdjustWorkers: true},
			haveInfo: false,
			want:     5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Effective(tt.settings, tt.info, tt.haveInfo)
			if got != tt.want {
				t.Errorf("Effective() = %d, want %d", got, tt.want)
			}
			if got < MinWorkers || got > MaxWorkers {
				t.Errorf("Effective() = %d, outside [%d,%d]", got, MinWorkers, MaxWorkers)
			}
		})
	}
}

func TestEffectiveWorkerCountBusyHost(t *testing.T) {
	// Eight cores under 90% CPU: the resolved count must stay below the
	// core count but never drop under one.
	probe := &fakeProbe{info: telemetry.SystemInfo{CPUCount: 8, CPUUsagePercent: 90, MemoryUsagePercent: 50}}
	c := NewController(Settings{
		MaxParallelWorkers: 8,
		ConcurrentScenes:   10,
		EnableParallel:     true,
		AutoAdjustWorkers:  true,
	}, probe)

	got := c.EffectiveWorkerCount(context.Background())
	if got >= 8 {
		t.Errorf("EffectiveWorkerCount() = %d, want strictly less than core count 8", got)
	}
	if got < 1 {
		t.Errorf("EffectiveWorkerCount() = %d, want at least 1", got)
	}
}

func TestEffectiveWorkerCountProbeFailure(t *testing.T) {
	probe := &fakeProbe{err: errors.New("proc unavailable")}
	c := NewController(Settings{
		MaxParallelWorkers: 4,
		ConcurrentScenes:   10,
		EnableParallel:     true,
		AutoAdjustWorkers:  true,
	}, probe)

	if got := c.EffectiveWorkerCount(context.Background()); got != 4 {
		t.Errorf("EffectiveWorkerCount() = %d, want manual fallback 4", got)
	}
}

func TestApplyRejectsOutOfRange(t *testing.T) {
	c := NewController(Settings{MaxParallelWorkers: 3, ConcurrentScenes: 3, EnableParallel: true}, nil)

	tests := []struct {
		name   string
		update Update
	}{
		{"workers above max", Update{Workers: intPtr(15)}},
		{"workers below min", Update{Workers: intPtr(0)}},
		{"negative workers", Update{Workers: intPtr(-2)}},
		{"scenes above max", Update{ConcurrentScenes: intPtr(11)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := c.Get()
			_, err := c.Apply(tt.update)

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Apply() error = %v, want *ValidationError", err)
			}
			if after := c.Get(); after != before {
				t.Errorf("settings changed after rejected update: %+v -> %+v", before, after)
			}
		})
	}
}

func TestApplyPartialUpdate(t *testing.T) {
	c := NewController(Settings{
		MaxParallelWorkers: 3,
		ConcurrentScenes:   3,
		EnableParallel:     true,
		AutoAdjustWorkers:  false,
	}, nil)

	got, err := c.Apply(Update{Workers: intPtr(7), AutoAdjustWorkers: boolPtr(true)})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	want := Settings{MaxParallelWorkers: 7, ConcurrentScenes: 3, EnableParallel: true, AutoAdjustWorkers: true}
	if got != want {
		t.Errorf("Apply() = %+v, want %+v", got, want)
	}
	if c.Get() != want {
		t.Errorf("Get() after Apply = %+v, want %+v", c.Get(), want)
	}
}

func TestConcurrentGetAndApply(t *testing.T) {
	c := NewController(Settings{MaxParallelWorkers: 3, ConcurrentScenes: 3, EnableParallel: true}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		w := 1 + i%10
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = c.Apply(Update{Workers: &w})
		}()
		go func() {
			defer wg.Done()
			s := c.Get()
			if s.MaxParallelWorkers < MinWorkers || s.MaxParallelWorkers > MaxWorkers {
				t.Errorf("observed torn settings: %+v", s)
			}
		}()
	}
	wg.Wait()
}
