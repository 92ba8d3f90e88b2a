// Package writer is the single ingest path for samples. It validates each
// sample, routes it to the partition covering its timestamp, appends it
// durably, and only then hands it to the live broadcaster.
package writer

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/xtxerr/hostwatch/internal/errors"
	"github.com/xtxerr/hostwatch/internal/logging"
	"github.com/xtxerr/hostwatch/internal/storage/broadcast"
	"github.com/xtxerr/hostwatch/internal/storage/partition"
	"github.com/xtxerr/hostwatch/internal/storage/partlog"
	"github.com/xtxerr/hostwatch/internal/storage/types"
)

var log = logging.Component("writer")

// Appender validates and durably appends samples in non-decreasing
// timestamp order. Equal timestamps are valid; readers break ties by
// insertion order. There is exactly one appender per store; all ingest
// flows through it.
type Appender struct {
	mu sync.Mutex

	mgr *partition.Manager
	bc  *broadcast.Broadcaster

	// Highest timestamp appended so far, recovered from disk at startup.
	lastTs   int64
	haveLast bool

	closed bool

	// Statistics
	stats AppenderStats
}

// AppenderStats holds ingest statistics.
type AppenderStats struct {
	Appended int64
	Rejected int64
	LastTs   int64
}

// NewAppender creates the ingest appender. It recovers the high-water
// timestamp from the partition covering now, so ordering survives restarts.
func NewAppender(mgr *partition.Manager, bc *broadcast.Broadcaster) (*Appender, error) {
	a := &Appender{
		mgr: mgr,
		bc:  bc,
	}

	if err := a.recoverLastTs(time.Now().UTC()); err != nil {
		return nil, err
	}

	return a, nil
}

// recoverLastTs scans the partition covering now for its newest timestamp.
// A missing partition file means a fresh week; any timestamp is accepted.
func (a *Appender) recoverLastTs(now time.Time) error {
	key := types.KeyForTime(now)
	path := a.mgr.Path(key)

	samples, err := partlog.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("recover partition %s: %w", key, err)
	}

	for _, s := range samples {
		if !a.haveLast || s.Timestamp > a.lastTs {
			a.lastTs = s.Timestamp
			a.haveLast = true
		}
	}

	if a.haveLast {
		log.Info("recovered append position",
			"partition", key.String(),
			"samples", len(samples),
			"last_ts", a.lastTs)
	}

	return nil
}

// Append validates sample, appends it to the partition covering its
// timestamp, and publishes it to live subscribers. The append is durable
// before Publish is called; a full subscriber never fails the append.
func (a *Appender) Append(sample types.Sample) error {
	if err := validate(sample); err != nil {
		a.mu.Lock()
		a.stats.Rejected++
		a.mu.Unlock()
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.ErrWriterClosed
	}

	if a.haveLast && sample.Timestamp < a.lastTs {
		a.stats.Rejected++
		return fmt.Errorf("timestamp %d before %d: %w",
			sample.Timestamp, a.lastTs, errors.ErrOutOfOrder)
	}

	w, err := a.mgr.AppenderFor(sample.Timestamp)
	if err != nil {
		return err
	}

	if err := w.Append([]types.Sample{sample}); err != nil {
		return fmt.Errorf("append sample: %w", err)
	}

	a.lastTs = sample.Timestamp
	a.haveLast = true
	a.stats.Appended++
	a.stats.LastTs = sample.Timestamp

	// Durable on disk; fan-out is best effort from here.
	if a.bc != nil {
		a.bc.Publish(sample)
	}

	return nil
}

// LastTimestamp returns the newest appended timestamp, and whether any
// sample has been appended or recovered.
func (a *Appender) LastTimestamp() (int64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastTs, a.haveLast
}

// Stats returns ingest statistics.
func (a *Appender) Stats() AppenderStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Close stops the appender. The partition manager owns the underlying
// file and is closed separately.
func (a *Appender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// validate rejects a structurally invalid sample before it reaches disk.
func validate(sample types.Sample) error {
	if sample.Timestamp <= 0 {
		return errors.NewInvalidSample("timestamp", "must be positive")
	}

	seen := make(map[int]bool, len(sample.GPUs))
	for _, g := range sample.GPUs {
		if seen[g.GPUID] {
			return fmt.Errorf("gpu_id %d: %w", g.GPUID, errors.ErrDuplicateGPU)
		}
		seen[g.GPUID] = true
	}

	pids := make(map[int32]bool, len(sample.Processes))
	for _, p := range sample.Processes {
		if pids[p.PID] {
			return fmt.Errorf("pid %d: %w", p.PID, errors.ErrDuplicatePID)
		}
		pids[p.PID] = true
	}

	return nil
}
