package query

import (
	"context"
	"testing"
	"time"

	"github.com/xtxerr/hostwatch/internal/errors"
	"github.com/xtxerr/hostwatch/internal/storage/partition"
	"github.com/xtxerr/hostwatch/internal/storage/partlog"
	"github.com/xtxerr/hostwatch/internal/storage/types"
)

// writePartition fills the partition covering base with count samples at
// one second spacing starting at base.
func writePartition(t *testing.T, mgr *partition.Manager, base int64, count int) {
	t.Helper()

	w, err := mgr.AppenderFor(base)
	if err != nil {
		t.Fatalf("AppenderFor: %v", err)
	}

	samples := make([]types.Sample, count)
	for i := range samples {
		samples[i] = types.Sample{
			Timestamp:   base + int64(i),
			CPUUsagePct: float64(i % 100),
			RAMUsagePct: 50,
		}
	}
	if err := w.Append(samples); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func newTestService(t *testing.T) (*Service, *partition.Manager) {
	t.Helper()

	opts := partlog.DefaultOptions()
	opts.SyncMode = "async"

	mgr, err := partition.NewManager(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	return New(mgr, 3*time.Second), mgr
}

func TestSamples_ExplicitKey(t *testing.T) {
	svc, mgr := newTestService(t)

	key := types.PartitionKey{Year: 2025, Week: 33}
	base := key.Start().Unix()
	writePartition(t, mgr, base, 10)

	samples, err := svc.Samples(context.Background(), Request{Key: &key})
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if len(samples) != 10 {
		t.Fatalf("got %d samples, want 10", len(samples))
	}
	if samples[0].Timestamp != base {
		t.Errorf("first ts = %d, want %d", samples[0].Timestamp, base)
	}
}

func TestSamples_ExplicitKeyMissing(t *testing.T) {
	svc, _ := newTestService(t)

	key := types.PartitionKey{Year: 2024, Week: 1}
	_, err := svc.Samples(context.Background(), Request{Key: &key})
	if !errors.Is(err, errors.ErrPartitionNotFound) {
		t.Errorf("expected ErrPartitionNotFound, got %v", err)
	}
}

func TestSamples_ExplicitPath(t *testing.T) {
	svc, mgr := newTestService(t)

	key := types.PartitionKey{Year: 2025, Week: 33}
	base := key.Start().Unix()
	writePartition(t, mgr, base, 5)

	samples, err := svc.Samples(context.Background(), Request{Path: mgr.Path(key)})
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if len(samples) != 5 {
		t.Errorf("got %d samples, want 5", len(samples))
	}

	_, err = svc.Samples(context.Background(), Request{Path: mgr.Path(key) + ".missing"})
	if !errors.Is(err, errors.ErrPartitionNotFound) {
		t.Errorf("expected ErrPartitionNotFound for missing path, got %v", err)
	}
}

func TestSamples_WindowTrimsBounds(t *testing.T) {
	svc, mgr := newTestService(t)

	key := types.PartitionKey{Year: 2025, Week: 33}
	base := key.Start().Unix()
	writePartition(t, mgr, base, 3600)

	// A 30 minute window ending 1 hour into the partition.
	at := key.Start().Add(time.Hour)
	samples, err := svc.Samples(context.Background(), Request{
		Window: types.Window{Count: 30, Unit: types.UnitMinute},
		At:     at,
	})
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}

	// Samples exist for base..base+3599, so the window holds exactly 1800.
	if len(samples) != 1800 {
		t.Fatalf("got %d samples, want 1800", len(samples))
	}
	wantStart := at.Add(-30 * time.Minute).Unix()
	if samples[0].Timestamp != wantStart {
		t.Errorf("first ts = %d, want %d", samples[0].Timestamp, wantStart)
	}
	if last := samples[len(samples)-1].Timestamp; last != at.Unix()-1 {
		t.Errorf("last ts = %d, want %d", last, at.Unix()-1)
	}
}

func TestSamples_WindowSpansPartitions(t *testing.T) {
	svc, mgr := newTestService(t)

	week1 := types.PartitionKey{Year: 2025, Week: 32}
	week2 := week1.Next()

	// Last 100 seconds of week 32, first 100 seconds of week 33.
	writePartition(t, mgr, week2.Start().Unix()-100, 100)
	writePartition(t, mgr, week2.Start().Unix(), 100)

	at := week2.Start().Add(100 * time.Second)
	samples, err := svc.Samples(context.Background(), Request{
		Window: types.Window{Count: 1, Unit: types.UnitHour},
		At:     at,
	})
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if len(samples) != 200 {
		t.Fatalf("got %d samples, want 200 across the boundary", len(samples))
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].Timestamp <= samples[i-1].Timestamp {
			t.Fatalf("samples out of order at %d", i)
		}
	}
}

func TestSamples_WindowSkipsMissingWeeks(t *testing.T) {
	svc, mgr := newTestService(t)

	// Weeks 31 and 33 exist; week 32 was never written.
	w31 := types.PartitionKey{Year: 2025, Week: 31}
	w33 := types.PartitionKey{Year: 2025, Week: 33}
	writePartition(t, mgr, w31.Start().Unix(), 10)
	writePartition(t, mgr, w33.Start().Unix(), 10)

	samples, err := svc.Samples(context.Background(), Request{
		Window: types.Window{Count: 3, Unit: types.UnitWeek},
		At:     w33.Start().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if len(samples) != 20 {
		t.Errorf("got %d samples, want 20", len(samples))
	}
}

func TestSamples_InvalidWindow(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Samples(context.Background(), Request{})
	if !errors.Is(err, errors.ErrInvalidWindow) {
		t.Errorf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestTrim(t *testing.T) {
	samples := []types.Sample{
		{Timestamp: 10}, {Timestamp: 20}, {Timestamp: 30}, {Timestamp: 40},
	}

	tests := []struct {
		name       string
		start, end int64
		want       int
	}{
		{"all", 0, 100, 4},
		{"inclusive bounds", 10, 40, 4},
		{"interior", 15, 35, 2},
		{"none", 50, 60, 0},
		{"empty range", 21, 29, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := trim(samples, tt.start, tt.end)
			if len(got) != tt.want {
				t.Errorf("trim(%d, %d) = %d samples, want %d", tt.start, tt.end, len(got), tt.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	var samples []types.Sample
	for i := 0; i < 100; i++ {
		samples = append(samples, types.Sample{
			Timestamp:   int64(1000 + i),
			CPUUsagePct: float64(i + 1), // 1..100
			RAMUsagePct: 50,
			GPUs: []types.GPUReading{
				{GPUID: 0, UsagePct: float64(i + 1), VRAMUsedMB: 1024},
			},
		})
	}

	start := time.Unix(1000, 0).UTC()
	end := time.Unix(1100, 0).UTC()
	sum := Summarize(samples, start, end)

	if sum.SampleCount != 100 {
		t.Fatalf("sample count = %d, want 100", sum.SampleCount)
	}
	if sum.CPU.Min != 1 || sum.CPU.Max != 100 {
		t.Errorf("cpu min/max = %v/%v, want 1/100", sum.CPU.Min, sum.CPU.Max)
	}
	if sum.CPU.Avg != 50.5 {
		t.Errorf("cpu avg = %v, want 50.5", sum.CPU.Avg)
	}
	// 1% relative accuracy sketch over 1..100.
	if sum.CPU.P50 < 45 || sum.CPU.P50 > 56 {
		t.Errorf("cpu p50 = %v, outside [45, 56]", sum.CPU.P50)
	}
	if sum.CPU.P99 < 94 || sum.CPU.P99 > 101 {
		t.Errorf("cpu p99 = %v, outside [94, 101]", sum.CPU.P99)
	}

	gpu, ok := sum.GPUs[0]
	if !ok {
		t.Fatal("missing GPU 0 summary")
	}
	if gpu.VRAMUsedMB.Avg != 1024 {
		t.Errorf("gpu vram avg = %v, want 1024", gpu.VRAMUsedMB.Avg)
	}
}

func TestSummarize_Empty(t *testing.T) {
	sum := Summarize(nil, time.Time{}, time.Time{})
	if sum.SampleCount != 0 {
		t.Fatalf("sample count = %d, want 0", sum.SampleCount)
	}
	if sum.CPU.Count != 0 || sum.CPU.Avg != 0 {
		t.Errorf("empty summary has nonzero CPU stats: %+v", sum.CPU)
	}
}
