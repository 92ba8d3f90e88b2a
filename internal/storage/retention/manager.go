// Package retention prunes old partitions and stale artifacts.
//
// Partition retention is count based: the configured number of most recent
// historical partitions survives, and the current partition is never a
// candidate regardless of count. A pruned partition's archived tables are
// deleted with it. Other artifacts age out by file modification time.
package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xtxerr/hostwatch/internal/errors"
	"github.com/xtxerr/hostwatch/internal/logging"
	"github.com/xtxerr/hostwatch/internal/storage/partition"
	"github.com/xtxerr/hostwatch/internal/storage/types"
)

var log = logging.Component("retention")

// ArchiveStore deletes the archived tables belonging to a partition.
type ArchiveStore interface {
	Remove(key types.PartitionKey) error
}

// Manager deletes partitions and artifacts past their retention policy.
type Manager struct {
	mu sync.Mutex

	mgr *partition.Manager

	// Number of historical partitions to keep, in addition to current.
	retainPartitions int

	// Archived tables die with their partition. Nil disables this.
	archives ArchiveStore

	// Artifact age limit. Zero disables artifact pruning.
	artifactMaxAge time.Duration

	// Directories holding prunable artifacts (charts).
	artifactDirs []string

	stats Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime       time.Time
	Runs              int64
	PartitionsDeleted int64
	ArtifactsDeleted  int64
	BytesFreed        int64
	Skipped           int64
	Errors            int64
}

// Report describes one pruning pass.
type Report struct {
	PartitionsDeleted []types.PartitionKey
	PartitionsKept    []types.PartitionKey
	ArtifactsDeleted  int
	BytesFreed        int64
	Skipped           int
	Errors            []error
}

// New creates a retention manager. retainPartitions is the number of
// historical partitions to keep; archives and artifactDirs may be empty.
func New(mgr *partition.Manager, retainPartitions int, artifactMaxAge time.Duration, archives ArchiveStore, artifactDirs ...string) *Manager {
	if retainPartitions < 0 {
		retainPartitions = 0
	}
	return &Manager{
		mgr:              mgr,
		retainPartitions: retainPartitions,
		archives:         archives,
		artifactMaxAge:   artifactMaxAge,
		artifactDirs:     artifactDirs,
	}
}

// Prune deletes everything past retention and reports what happened.
func (m *Manager) Prune() Report {
	return m.run(false)
}

// DryRun reports what Prune would delete without deleting anything.
func (m *Manager) DryRun() Report {
	return m.run(true)
}

func (m *Manager) run(dryRun bool) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report Report

	m.prunePartitions(&report, dryRun)
	m.pruneArtifacts(&report, dryRun)

	if !dryRun {
		m.stats.LastRunTime = time.Now()
		m.stats.Runs++
		m.stats.PartitionsDeleted += int64(len(report.PartitionsDeleted))
		m.stats.ArtifactsDeleted += int64(report.ArtifactsDeleted)
		m.stats.BytesFreed += report.BytesFreed
		m.stats.Skipped += int64(report.Skipped)
		m.stats.Errors += int64(len(report.Errors))

		log.Info("retention pass complete",
			"partitions_deleted", len(report.PartitionsDeleted),
			"artifacts_deleted", report.ArtifactsDeleted,
			"bytes_freed", formatBytes(report.BytesFreed),
			"errors", len(report.Errors))
	}

	return report
}

// prunePartitions keeps the retainPartitions newest historical partitions.
// The current partition never counts against the budget and is never
// deleted. A partition with pinned readers is skipped this pass and
// retried on the next.
func (m *Manager) prunePartitions(report *Report, dryRun bool) {
	infos, err := m.mgr.List()
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("list partitions: %w", err))
		return
	}

	// Historical partitions, oldest first.
	var historical []types.PartitionInfo
	for _, info := range infos {
		if info.Current {
			report.PartitionsKept = append(report.PartitionsKept, info.Key)
			continue
		}
		historical = append(historical, info)
	}

	excess := len(historical) - m.retainPartitions
	for i, info := range historical {
		if i >= excess {
			report.PartitionsKept = append(report.PartitionsKept, info.Key)
			continue
		}

		if dryRun {
			report.PartitionsDeleted = append(report.PartitionsDeleted, info.Key)
			report.BytesFreed += info.SizeBytes
			continue
		}

		if err := m.mgr.Remove(info.Key); err != nil {
			if errors.Is(err, errors.ErrPartitionInUse) || errors.Is(err, errors.ErrPartitionCurrent) {
				report.Skipped++
				report.PartitionsKept = append(report.PartitionsKept, info.Key)
				log.Debug("partition pinned, skipping", "partition", info.Key.String())
				continue
			}
			report.Errors = append(report.Errors, errors.Wrapf(err, "remove %s", info.Key))
			continue
		}

		report.PartitionsDeleted = append(report.PartitionsDeleted, info.Key)
		report.BytesFreed += info.SizeBytes
		log.Info("partition deleted",
			"partition", info.Key.String(),
			"size", formatBytes(info.SizeBytes))

		if m.archives != nil {
			if err := m.archives.Remove(info.Key); err != nil {
				report.Errors = append(report.Errors, errors.Wrapf(err, "remove archive %s", info.Key))
			}
		}
	}
}

// pruneArtifacts deletes artifact files older than the age limit, judged
// by modification time.
func (m *Manager) pruneArtifacts(report *Report, dryRun bool) {
	if m.artifactMaxAge <= 0 {
		return
	}

	cutoff := time.Now().Add(-m.artifactMaxAge)

	for _, dir := range m.artifactDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				report.Errors = append(report.Errors, fmt.Errorf("list artifacts %s: %w", dir, err))
			}
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}

			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}

			path := filepath.Join(dir, entry.Name())
			if !dryRun {
				if err := os.Remove(path); err != nil {
					report.Errors = append(report.Errors, fmt.Errorf("delete artifact %s: %w", path, err))
					continue
				}
			}

			report.ArtifactsDeleted++
			report.BytesFreed += info.Size()
		}
	}
}

// Stats returns retention statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// formatBytes formats a byte count for logs.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
