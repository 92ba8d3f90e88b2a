package partition

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/hostwatch/internal/errors"
	"github.com/xtxerr/hostwatch/internal/storage/partlog"
	"github.com/xtxerr/hostwatch/internal/storage/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), partlog.DefaultOptions())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestResolveKey(t *testing.T) {
	m := newTestManager(t)

	inWeek := time.Date(2025, 8, 13, 12, 0, 0, 0, time.UTC)
	sameWeek := time.Date(2025, 8, 17, 23, 0, 0, 0, time.UTC)
	nextWeek := time.Date(2025, 8, 18, 0, 0, 0, 0, time.UTC)

	if m.ResolveKey(inWeek) != m.ResolveKey(sameWeek) {
		t.Error("expected same key within one ISO week")
	}
	if m.ResolveKey(inWeek) == m.ResolveKey(nextWeek) {
		t.Error("expected different keys across ISO weeks")
	}
}

func TestOpenOrCreate_Idempotent(t *testing.T) {
	m := newTestManager(t)
	key := types.PartitionKey{Year: 2025, Week: 33}

	path1, err := m.OpenOrCreate(key)
	if err != nil {
		t.Fatalf("OpenOrCreate: %v", err)
	}
	path2, err := m.OpenOrCreate(key)
	if err != nil {
		t.Fatalf("OpenOrCreate again: %v", err)
	}

	if path1 != path2 {
		t.Errorf("paths differ: %q vs %q", path1, path2)
	}

	infos, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected 1 partition, got %d", len(infos))
	}
}

func TestOpenOrCreate_Concurrent(t *testing.T) {
	m := newTestManager(t)
	key := types.PartitionKey{Year: 2025, Week: 33}

	var wg sync.WaitGroup
	errs := make(chan error, 16)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.OpenOrCreate(key); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent OpenOrCreate: %v", err)
	}

	infos, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected exactly 1 partition, got %d", len(infos))
	}
}

func TestAppenderFor_Rollover(t *testing.T) {
	m := newTestManager(t)

	week1 := time.Date(2025, 8, 17, 23, 59, 0, 0, time.UTC) // Sunday
	week2 := time.Date(2025, 8, 18, 0, 1, 0, 0, time.UTC)   // Monday

	w1, err := m.AppenderFor(week1.Unix())
	if err != nil {
		t.Fatalf("AppenderFor week1: %v", err)
	}
	if err := w1.Append([]types.Sample{{Timestamp: week1.Unix()}}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	key, ok := m.CurrentKey()
	if !ok || key != types.KeyForTime(week1) {
		t.Fatalf("unexpected current key %v", key)
	}

	// Crossing the week boundary rolls the current pointer.
	w2, err := m.AppenderFor(week2.Unix())
	if err != nil {
		t.Fatalf("AppenderFor week2: %v", err)
	}
	if w2 == w1 {
		t.Fatal("expected a new appender after rollover")
	}

	key, _ = m.CurrentKey()
	if key != types.KeyForTime(week2) {
		t.Errorf("current key = %v, want %v", key, types.KeyForTime(week2))
	}

	// The sealed partition is readable historical storage.
	sealed, err := partlog.ReadFile(m.Path(types.KeyForTime(week1)))
	if err != nil {
		t.Fatalf("read sealed partition: %v", err)
	}
	if len(sealed) != 1 {
		t.Errorf("expected 1 sample in sealed partition, got %d", len(sealed))
	}

	if m.Stats().Rollovers != 1 {
		t.Errorf("expected 1 rollover, got %d", m.Stats().Rollovers)
	}
}

func TestAppenderFor_SameWeekReuse(t *testing.T) {
	m := newTestManager(t)

	ts := time.Date(2025, 8, 13, 12, 0, 0, 0, time.UTC).Unix()

	w1, err := m.AppenderFor(ts)
	if err != nil {
		t.Fatalf("AppenderFor: %v", err)
	}
	w2, err := m.AppenderFor(ts + 60)
	if err != nil {
		t.Fatalf("AppenderFor: %v", err)
	}
	if w1 != w2 {
		t.Error("expected the same appender within one week")
	}
}

func TestAcquireReader(t *testing.T) {
	m := newTestManager(t)
	key := types.PartitionKey{Year: 2025, Week: 33}

	// Missing partition
	if _, _, err := m.AcquireReader(key); !errors.Is(err, errors.ErrPartitionNotFound) {
		t.Errorf("expected ErrPartitionNotFound, got %v", err)
	}

	if _, err := m.OpenOrCreate(key); err != nil {
		t.Fatalf("OpenOrCreate: %v", err)
	}

	path, release, err := m.AcquireReader(key)
	if err != nil {
		t.Fatalf("AcquireReader: %v", err)
	}
	if path != m.Path(key) {
		t.Errorf("unexpected path %q", path)
	}
	if !m.HasReaders(key) {
		t.Error("expected pinned reader")
	}

	// A pinned partition cannot be removed.
	if err := m.Remove(key); !errors.Is(err, errors.ErrPartitionInUse) {
		t.Errorf("expected ErrPartitionInUse, got %v", err)
	}

	release()
	release() // release is idempotent

	if m.HasReaders(key) {
		t.Error("expected no readers after release")
	}

	if err := m.Remove(key); err != nil {
		t.Errorf("Remove after release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected partition file removed")
	}
}

func TestRemove_Current(t *testing.T) {
	m := newTestManager(t)

	ts := time.Date(2025, 8, 13, 12, 0, 0, 0, time.UTC).Unix()
	if _, err := m.AppenderFor(ts); err != nil {
		t.Fatalf("AppenderFor: %v", err)
	}

	key, _ := m.CurrentKey()
	if err := m.Remove(key); !errors.Is(err, errors.ErrPartitionCurrent) {
		t.Errorf("expected ErrPartitionCurrent, got %v", err)
	}
}

func TestList_Metadata(t *testing.T) {
	m := newTestManager(t)

	old := types.PartitionKey{Year: 2025, Week: 31}
	if _, err := m.OpenOrCreate(old); err != nil {
		t.Fatalf("OpenOrCreate: %v", err)
	}

	ts := time.Date(2025, 8, 13, 12, 0, 0, 0, time.UTC)
	w, err := m.AppenderFor(ts.Unix())
	if err != nil {
		t.Fatalf("AppenderFor: %v", err)
	}
	if err := w.Append([]types.Sample{{Timestamp: ts.Unix()}}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	infos, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 partitions, got %d", len(infos))
	}

	// Oldest first
	if infos[0].Key != old {
		t.Errorf("expected oldest partition first, got %v", infos[0].Key)
	}
	if infos[0].Current {
		t.Error("old partition marked current")
	}
	if !infos[1].Current {
		t.Error("current partition not marked current")
	}
	if infos[1].SizeBytes == 0 {
		t.Error("expected nonzero size for written partition")
	}
	if !infos[0].StartDate.Before(infos[0].EndDate) {
		t.Error("start date must precede end date")
	}
}

func TestListRange(t *testing.T) {
	m := newTestManager(t)

	for _, week := range []int{30, 31, 32, 33} {
		if _, err := m.OpenOrCreate(types.PartitionKey{Year: 2025, Week: week}); err != nil {
			t.Fatalf("OpenOrCreate: %v", err)
		}
	}

	// A range covering weeks 31-32.
	start := types.PartitionKey{Year: 2025, Week: 31}.Start()
	end := types.PartitionKey{Year: 2025, Week: 32}.End().Add(-time.Second)

	keys, err := m.ListRange(start, end)
	if err != nil {
		t.Fatalf("ListRange: %v", err)
	}

	want := []types.PartitionKey{
		{Year: 2025, Week: 31},
		{Year: 2025, Week: 32},
	}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d: %v", len(want), len(keys), keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key %d: got %v, want %v", i, keys[i], want[i])
		}
	}
}
