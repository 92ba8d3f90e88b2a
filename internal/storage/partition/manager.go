// Package partition owns the lifecycle of weekly partition files: routing
// timestamps to keys, lazily opening the current partition for appends,
// handing out reference-counted read access, and listing what exists on
// disk.
package partition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/hostwatch/internal/errors"
	"github.com/xtxerr/hostwatch/internal/logging"
	"github.com/xtxerr/hostwatch/internal/storage/partlog"
	"github.com/xtxerr/hostwatch/internal/storage/types"
)

var log = logging.Component("partition")

// Manager routes timestamps to partitions and owns partition lifecycle.
// Exactly one partition is current; it rolls forward on the first append
// whose timestamp falls in a newer week.
type Manager struct {
	mu sync.Mutex

	dir  string
	opts partlog.Options

	// Current partition appender. Nil until the first append.
	currentKey types.PartitionKey
	currentLog *partlog.Writer

	// Active reader counts per partition, consulted by Remove.
	readers map[types.PartitionKey]int

	// Singleflight so concurrent opens of the same key hit disk once.
	group singleflight.Group

	// Statistics
	stats ManagerStats
}

// ManagerStats holds partition manager statistics.
type ManagerStats struct {
	PartitionsOpened int64
	Rollovers        int64
	ReadersAcquired  int64
}

// NewManager creates a partition manager rooted at dir.
func NewManager(dir string, opts partlog.Options) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create partition dir: %w", err)
	}

	return &Manager{
		dir:     dir,
		opts:    opts,
		readers: make(map[types.PartitionKey]int),
	}, nil
}

// ResolveKey returns the partition key a timestamp belongs to.
func (m *Manager) ResolveKey(t time.Time) types.PartitionKey {
	return types.KeyForTime(t)
}

// Path returns the file path a key maps to, whether or not it exists.
func (m *Manager) Path(key types.PartitionKey) string {
	return filepath.Join(m.dir, key.Filename())
}

// AppenderFor returns the appender for the partition covering ts, rolling
// the current pointer forward when ts crosses into a new week. The previous
// partition is sealed by closing its appender; it needs no other action to
// become historical storage.
func (m *Manager) AppenderFor(ts int64) (*partlog.Writer, error) {
	key := types.KeyForUnix(ts)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentLog != nil && key == m.currentKey {
		return m.currentLog, nil
	}

	w, err := m.openLocked(key)
	if err != nil {
		return nil, err
	}

	if m.currentLog != nil {
		if cerr := m.currentLog.Close(); cerr != nil {
			log.Warn("close sealed partition", "partition", m.currentKey, "error", cerr)
		}
		m.stats.Rollovers++
		log.Info("partition rollover", "from", m.currentKey.String(), "to", key.String())
	}

	m.currentKey = key
	m.currentLog = w
	return w, nil
}

// openLocked opens or creates the partition file for key. Concurrent calls
// for the same key are collapsed through singleflight so only one hits disk.
func (m *Manager) openLocked(key types.PartitionKey) (*partlog.Writer, error) {
	v, err, _ := m.group.Do(key.String(), func() (interface{}, error) {
		w, err := partlog.Open(m.Path(key), m.opts)
		if err != nil {
			return nil, fmt.Errorf("open partition %s: %w: %v", key, errors.ErrStorageUnavailable, err)
		}
		return w, nil
	})
	if err != nil {
		return nil, err
	}

	m.stats.PartitionsOpened++
	return v.(*partlog.Writer), nil
}

// OpenOrCreate ensures the partition file for key exists and returns its
// path. Idempotent and safe to call concurrently for the same key.
func (m *Manager) OpenOrCreate(key types.PartitionKey) (string, error) {
	path := m.Path(key)

	_, err, _ := m.group.Do("create/"+key.String(), func() (interface{}, error) {
		if _, err := os.Stat(path); err == nil {
			return nil, nil
		}
		w, err := partlog.Open(path, m.opts)
		if err != nil {
			return nil, fmt.Errorf("create partition %s: %w: %v", key, errors.ErrStorageUnavailable, err)
		}
		return nil, w.Close()
	})
	if err != nil {
		return "", err
	}

	return path, nil
}

// AcquireReader grants read access to a partition, pinning it against
// removal until release is called. Returns ErrPartitionNotFound if no file
// exists for key.
func (m *Manager) AcquireReader(key types.PartitionKey) (path string, release func(), err error) {
	path = m.Path(key)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", nil, errors.NewPartitionNotFound(key.String())
		}
		return "", nil, fmt.Errorf("stat partition %s: %w: %v", key, errors.ErrStorageUnavailable, err)
	}

	m.mu.Lock()
	m.readers[key]++
	m.stats.ReadersAcquired++
	m.mu.Unlock()

	var once sync.Once
	release = func() {
		once.Do(func() {
			m.mu.Lock()
			m.readers[key]--
			if m.readers[key] <= 0 {
				delete(m.readers, key)
			}
			m.mu.Unlock()
		})
	}

	return path, release, nil
}

// HasReaders reports whether a partition currently has pinned readers.
func (m *Manager) HasReaders(key types.PartitionKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readers[key] > 0
}

// CurrentKey returns the key of the current partition and whether one is
// open yet.
func (m *Manager) CurrentKey() (types.PartitionKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentKey, m.currentLog != nil
}

// Sync flushes the current partition appender, if any.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentLog == nil {
		return nil
	}
	return m.currentLog.Sync()
}

// List returns display metadata for every partition on disk, oldest first.
func (m *Manager) List() ([]types.PartitionInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	currentKey, haveCurrent := m.CurrentKey()

	var infos []types.PartitionInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		key, err := types.ParseFilename(entry.Name())
		if err != nil {
			continue
		}

		fi, err := entry.Info()
		if err != nil {
			continue
		}

		infos = append(infos, types.PartitionInfo{
			Key:       key,
			Path:      filepath.Join(m.dir, entry.Name()),
			SizeBytes: fi.Size(),
			StartDate: key.Start(),
			EndDate:   key.End(),
			Current:   haveCurrent && key == currentKey,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Key.Before(infos[j].Key)
	})

	return infos, nil
}

// ListRange returns the keys of existing partitions overlapping [start, end],
// oldest first.
func (m *Manager) ListRange(start, end time.Time) ([]types.PartitionKey, error) {
	infos, err := m.List()
	if err != nil {
		return nil, err
	}

	var keys []types.PartitionKey
	for _, info := range infos {
		if info.EndDate.After(start) && info.StartDate.Before(end) {
			keys = append(keys, info.Key)
		}
	}
	return keys, nil
}

// Remove deletes a partition file. It refuses to remove the current
// partition or one with pinned readers.
func (m *Manager) Remove(key types.PartitionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentLog != nil && key == m.currentKey {
		return fmt.Errorf("partition %s: %w", key, errors.ErrPartitionCurrent)
	}
	if m.readers[key] > 0 {
		return fmt.Errorf("partition %s: %w", key, errors.ErrPartitionInUse)
	}

	path := m.Path(key)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errors.NewPartitionNotFound(key.String())
		}
		return fmt.Errorf("remove partition %s: %w", key, err)
	}

	return nil
}

// Stats returns manager statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Close seals the current partition appender.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentLog == nil {
		return nil
	}

	err := m.currentLog.Close()
	m.currentLog = nil
	return err
}
