// Package query answers historical questions over partition files: raw
// sample ranges, reconstructed process lifetimes, and statistical summaries.
// Queries read straight from the on-disk partitions; no index is maintained.
package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xtxerr/hostwatch/internal/errors"
	"github.com/xtxerr/hostwatch/internal/logging"
	"github.com/xtxerr/hostwatch/internal/storage/partition"
	"github.com/xtxerr/hostwatch/internal/storage/partlog"
	"github.com/xtxerr/hostwatch/internal/storage/types"
)

var log = logging.Component("query")

// Service executes queries against partitioned sample storage.
type Service struct {
	mu sync.Mutex

	mgr *partition.Manager

	// Gap beyond which a process is considered to have exited.
	presenceTimeout time.Duration

	// Statistics
	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	SamplesReturned int64
	PartitionsRead  int64
	Errors          int64
}

// Request selects the samples a query operates on. Exactly one selection
// applies: an explicit file path, an explicit partition key, or a time
// window ending at At (or now when At is zero).
type Request struct {
	Window types.Window
	At     time.Time
	Key    *types.PartitionKey
	Path   string
}

// New creates a query service reading through mgr. presenceTimeout bounds
// the sample gap within one process lifetime.
func New(mgr *partition.Manager, presenceTimeout time.Duration) *Service {
	if presenceTimeout <= 0 {
		presenceTimeout = 3 * time.Second
	}
	return &Service{
		mgr:             mgr,
		presenceTimeout: presenceTimeout,
	}
}

// Samples returns the samples selected by req in timestamp order.
//
// Explicit targets (Path or Key) that do not exist fail with
// ErrPartitionNotFound. A window scan instead skips weeks with no partition
// file; only a read error on an existing file aborts the scan.
func (s *Service) Samples(ctx context.Context, req Request) ([]types.Sample, error) {
	start := time.Now()

	samples, err := s.collect(ctx, req)

	s.mu.Lock()
	s.stats.QueriesExecuted++
	if err != nil {
		s.stats.Errors++
	} else {
		s.stats.SamplesReturned += int64(len(samples))
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	log.Debug("query executed",
		"samples", len(samples),
		"duration", time.Since(start))

	return samples, nil
}

func (s *Service) collect(ctx context.Context, req Request) ([]types.Sample, error) {
	switch {
	case req.Path != "":
		return s.readPath(req.Path)
	case req.Key != nil:
		return s.readKey(ctx, *req.Key)
	default:
		return s.scanWindow(ctx, req)
	}
}

// readPath reads one partition file addressed directly, outside the
// managed data directory if need be.
func (s *Service) readPath(path string) ([]types.Sample, error) {
	samples, err := partlog.ReadFile(path)
	if err != nil {
		if errors.Is(err, errors.ErrCorruptRecord) {
			return nil, err
		}
		return nil, fmt.Errorf("partition file %s: %w: %v", path, errors.ErrPartitionNotFound, err)
	}
	s.mu.Lock()
	s.stats.PartitionsRead++
	s.mu.Unlock()
	return samples, nil
}

// readKey reads one managed partition, pinned against pruning for the
// duration of the read.
func (s *Service) readKey(ctx context.Context, key types.PartitionKey) ([]types.Sample, error) {
	path, release, err := s.mgr.AcquireReader(key)
	if err != nil {
		return nil, err
	}
	defer release()

	samples, err := partlog.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read partition %s: %w", key, err)
	}

	logging.WithContext(logging.ContextWithPartition(ctx, key.String())).
		Debug("partition read", "samples", len(samples))

	s.mu.Lock()
	s.stats.PartitionsRead++
	s.mu.Unlock()
	return samples, nil
}

// scanWindow reads every existing partition overlapping the window and
// trims the concatenation to exact bounds. Partitions are week-aligned;
// the window rarely is.
func (s *Service) scanWindow(ctx context.Context, req Request) ([]types.Sample, error) {
	if !req.Window.Valid() {
		return nil, fmt.Errorf("window %s: %w", req.Window, errors.ErrInvalidWindow)
	}

	end := req.At
	if end.IsZero() {
		end = time.Now().UTC()
	}
	startTime := end.Add(-req.Window.Duration())

	keys, err := s.mgr.ListRange(startTime, end)
	if err != nil {
		return nil, err
	}

	var all []types.Sample
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		samples, err := s.readKey(ctx, key)
		if err != nil {
			if errors.IsNotFound(err) {
				// Pruned between listing and reading; treat as absent.
				continue
			}
			return nil, err
		}
		all = append(all, samples...)
	}

	return trim(all, startTime.Unix(), end.Unix()), nil
}

// trim keeps samples with start <= ts <= end. Input is in timestamp order,
// so the result is a contiguous slice of it.
func trim(samples []types.Sample, start, end int64) []types.Sample {
	lo := 0
	for lo < len(samples) && samples[lo].Timestamp < start {
		lo++
	}
	hi := len(samples)
	for hi > lo && samples[hi-1].Timestamp > end {
		hi--
	}
	return samples[lo:hi]
}

// ProcessIntervals reconstructs process lifetimes from the samples selected
// by req. See BuildIntervals for the reconstruction rules.
func (s *Service) ProcessIntervals(ctx context.Context, req Request) ([]types.ProcessInterval, error) {
	samples, err := s.Samples(ctx, req)
	if err != nil {
		return nil, err
	}

	end := req.At
	if end.IsZero() {
		end = time.Now().UTC()
	}

	return BuildIntervals(samples, end, s.presenceTimeout), nil
}

// Stats returns query statistics.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
