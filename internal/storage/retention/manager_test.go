package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/hostwatch/internal/storage/partition"
	"github.com/xtxerr/hostwatch/internal/storage/partlog"
	"github.com/xtxerr/hostwatch/internal/storage/types"
)

func newTestPartitions(t *testing.T, weeks ...int) *partition.Manager {
	t.Helper()

	opts := partlog.DefaultOptions()
	opts.SyncMode = "async"

	mgr, err := partition.NewManager(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	for _, week := range weeks {
		key := types.PartitionKey{Year: 2025, Week: week}
		if _, err := mgr.OpenOrCreate(key); err != nil {
			t.Fatalf("OpenOrCreate %v: %v", key, err)
		}
	}
	return mgr
}

func keysOnDisk(t *testing.T, mgr *partition.Manager) []types.PartitionKey {
	t.Helper()
	infos, err := mgr.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	keys := make([]types.PartitionKey, len(infos))
	for i, info := range infos {
		keys[i] = info.Key
	}
	return keys
}

func TestPrune_RetainCount(t *testing.T) {
	mgr := newTestPartitions(t, 30, 31, 32, 33, 34)

	m := New(mgr, 2, 0, nil)
	report := m.Prune()

	if len(report.PartitionsDeleted) != 3 {
		t.Fatalf("deleted %d partitions, want 3", len(report.PartitionsDeleted))
	}

	// Exactly the two newest survive.
	keys := keysOnDisk(t, mgr)
	want := []types.PartitionKey{{Year: 2025, Week: 33}, {Year: 2025, Week: 34}}
	if len(keys) != len(want) {
		t.Fatalf("kept %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("kept[%d] = %v, want %v", i, keys[i], want[i])
		}
	}
}

func TestPrune_NeverCurrent(t *testing.T) {
	mgr := newTestPartitions(t, 30, 31)

	// Make week 32 current by appending to it.
	key := types.PartitionKey{Year: 2025, Week: 32}
	w, err := mgr.AppenderFor(key.Start().Unix())
	if err != nil {
		t.Fatalf("AppenderFor: %v", err)
	}
	if err := w.Append([]types.Sample{{Timestamp: key.Start().Unix()}}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Retain zero historical partitions.
	m := New(mgr, 0, 0, nil)
	report := m.Prune()

	if len(report.PartitionsDeleted) != 2 {
		t.Fatalf("deleted %d, want 2", len(report.PartitionsDeleted))
	}

	keys := keysOnDisk(t, mgr)
	if len(keys) != 1 || keys[0] != key {
		t.Fatalf("kept %v, want only current %v", keys, key)
	}
}

func TestPrune_UnderBudget(t *testing.T) {
	mgr := newTestPartitions(t, 33, 34)

	m := New(mgr, 4, 0, nil)
	report := m.Prune()

	if len(report.PartitionsDeleted) != 0 {
		t.Errorf("deleted %d, want 0", len(report.PartitionsDeleted))
	}
	if len(keysOnDisk(t, mgr)) != 2 {
		t.Errorf("partitions went missing under budget")
	}
}

func TestPrune_SkipsPinned(t *testing.T) {
	mgr := newTestPartitions(t, 30, 31, 32)

	// Pin the oldest partition with an active reader.
	_, release, err := mgr.AcquireReader(types.PartitionKey{Year: 2025, Week: 30})
	if err != nil {
		t.Fatalf("AcquireReader: %v", err)
	}

	m := New(mgr, 0, 0, nil)
	report := m.Prune()

	if report.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", report.Skipped)
	}
	if len(report.PartitionsDeleted) != 2 {
		t.Errorf("deleted %d, want 2", len(report.PartitionsDeleted))
	}

	// Released, the next pass removes it.
	release()
	report = m.Prune()
	if len(report.PartitionsDeleted) != 1 {
		t.Errorf("second pass deleted %d, want 1", len(report.PartitionsDeleted))
	}
	if len(keysOnDisk(t, mgr)) != 0 {
		t.Errorf("expected empty data dir")
	}
}

type recordingArchive struct {
	removed []types.PartitionKey
}

func (a *recordingArchive) Remove(key types.PartitionKey) error {
	a.removed = append(a.removed, key)
	return nil
}

func TestPrune_RemovesArchivedTables(t *testing.T) {
	mgr := newTestPartitions(t, 30, 31, 32)

	archives := &recordingArchive{}
	m := New(mgr, 1, 0, archives)
	report := m.Prune()

	if len(report.PartitionsDeleted) != 2 {
		t.Fatalf("deleted %d partitions, want 2", len(report.PartitionsDeleted))
	}

	// Archived tables die with their partition, and only with it.
	want := []types.PartitionKey{{Year: 2025, Week: 30}, {Year: 2025, Week: 31}}
	if len(archives.removed) != len(want) {
		t.Fatalf("archive removals %v, want %v", archives.removed, want)
	}
	for i := range want {
		if archives.removed[i] != want[i] {
			t.Errorf("removed[%d] = %v, want %v", i, archives.removed[i], want[i])
		}
	}
}

func TestDryRun(t *testing.T) {
	mgr := newTestPartitions(t, 30, 31, 32)

	m := New(mgr, 1, 0, nil)
	report := m.DryRun()

	if len(report.PartitionsDeleted) != 2 {
		t.Errorf("dry run reported %d deletions, want 2", len(report.PartitionsDeleted))
	}
	if len(keysOnDisk(t, mgr)) != 3 {
		t.Errorf("dry run deleted files")
	}
	if m.Stats().Runs != 0 {
		t.Errorf("dry run counted as a real run")
	}
}

func TestPruneArtifacts(t *testing.T) {
	mgr := newTestPartitions(t)
	artifacts := t.TempDir()

	oldFile := filepath.Join(artifacts, "usage_2025-W30.html")
	newFile := filepath.Join(artifacts, "usage_2025-W34.html")
	for _, p := range []string{oldFile, newFile} {
		if err := os.WriteFile(p, []byte("<html></html>"), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	// Age the old file past the limit.
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldFile, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	m := New(mgr, 4, 24*time.Hour, nil, artifacts)
	report := m.Prune()

	if report.ArtifactsDeleted != 1 {
		t.Fatalf("artifacts deleted = %d, want 1", report.ArtifactsDeleted)
	}
	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Errorf("old artifact still present")
	}
	if _, err := os.Stat(newFile); err != nil {
		t.Errorf("fresh artifact was deleted: %v", err)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
