package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/hostwatch/internal/errors"
	"github.com/xtxerr/hostwatch/internal/logging"
	"github.com/xtxerr/hostwatch/internal/storage/analytics"
	"github.com/xtxerr/hostwatch/internal/storage/archive"
	"github.com/xtxerr/hostwatch/internal/storage/broadcast"
	"github.com/xtxerr/hostwatch/internal/storage/config"
	"github.com/xtxerr/hostwatch/internal/storage/partition"
	"github.com/xtxerr/hostwatch/internal/storage/partlog"
	"github.com/xtxerr/hostwatch/internal/storage/query"
	"github.com/xtxerr/hostwatch/internal/storage/retention"
	"github.com/xtxerr/hostwatch/internal/storage/types"
	"github.com/xtxerr/hostwatch/internal/storage/writer"
)

var log = logging.Component("storage")

// Service is the storage engine: one writer, weekly partitions, live
// fan-out, historical queries, archival, and retention behind one API.
type Service struct {
	mu sync.RWMutex

	config *config.Config

	// Components
	partitions  *partition.Manager
	appender    *writer.Appender
	broadcaster *broadcast.Broadcaster
	query       *query.Service
	archive     *archive.Exporter
	analytics   *analytics.Service
	retention   *retention.Manager

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	startTime time.Time
}

// New creates a storage service.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	mgr, err := partition.NewManager(cfg.PartitionDir(), partlog.Options{
		SyncMode:     cfg.Partition.SyncMode,
		SyncInterval: cfg.Partition.SyncInterval,
		BufferSize:   cfg.Partition.BufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create partition manager: %w", err)
	}

	bc := broadcast.New(broadcast.Options{
		BufferSize:     cfg.Broadcast.BufferSize,
		MaxSubscribers: cfg.Broadcast.MaxSubscribers,
	})

	app, err := writer.NewAppender(mgr, bc)
	if err != nil {
		mgr.Close()
		return nil, fmt.Errorf("create appender: %w", err)
	}

	qry := query.New(mgr, cfg.Sampling.PresenceTimeout())

	exp, err := archive.NewExporter(cfg.ArchiveDir(), archive.Options{
		Compression:      archive.ParseCompressionType(cfg.Archive.Compression),
		CompressionLevel: cfg.Archive.Level,
	})
	if err != nil {
		mgr.Close()
		return nil, fmt.Errorf("create archive exporter: %w", err)
	}

	ana, err := analytics.New(exp.SystemGlob(), exp.ProcessGlob(), analytics.Options{
		MemoryLimit: cfg.Analytics.MemoryLimit,
		Timeout:     cfg.Analytics.Timeout,
		MaxRows:     cfg.Analytics.MaxRows,
	})
	if err != nil {
		mgr.Close()
		return nil, fmt.Errorf("create analytics: %w", err)
	}

	ret := retention.New(mgr, cfg.Retention.Weeks,
		time.Duration(cfg.Retention.ArtifactDays)*24*time.Hour,
		exp, cfg.ChartsDir())

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		config:      cfg,
		partitions:  mgr,
		appender:    app,
		broadcaster: bc,
		query:       qry,
		archive:     exp,
		analytics:   ana,
		retention:   ret,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start starts background workers.
func (s *Service) Start() error {
	if s.running.Load() {
		return fmt.Errorf("service already running")
	}

	s.running.Store(true)
	s.startTime = time.Now()

	s.wg.Add(1)
	go s.retentionWorker()

	s.wg.Add(1)
	go s.archiveWorker()

	log.Info("storage service started",
		"data_dir", s.config.DataDir,
		"sync_mode", s.config.Partition.SyncMode)

	return nil
}

// Stop stops workers and components gracefully. Buffered appends are
// flushed before return.
func (s *Service) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	s.cancel()
	s.wg.Wait()

	var errs []error

	s.broadcaster.Close()

	if err := s.appender.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close appender: %w", err))
	}

	if err := s.partitions.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close partitions: %w", err))
	}

	if err := s.analytics.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close analytics: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("stop errors: %v", errs)
	}

	log.Info("storage service stopped", "uptime", time.Since(s.startTime))
	return nil
}

// Append durably stores one sample and fans it out to live subscribers.
func (s *Service) Append(sample types.Sample) error {
	if !s.running.Load() {
		return errors.ErrNotRunning
	}
	return s.appender.Append(sample)
}

// Samples returns stored samples selected by req.
func (s *Service) Samples(ctx context.Context, req query.Request) ([]types.Sample, error) {
	if !s.running.Load() {
		return nil, errors.ErrNotRunning
	}
	return s.query.Samples(ctx, req)
}

// ProcessIntervals reconstructs process lifetimes over req.
func (s *Service) ProcessIntervals(ctx context.Context, req query.Request) ([]types.ProcessInterval, error) {
	if !s.running.Load() {
		return nil, errors.ErrNotRunning
	}
	return s.query.ProcessIntervals(ctx, req)
}

// Summarize computes the statistical digest of req's window.
func (s *Service) Summarize(ctx context.Context, req query.Request) (*query.Summary, error) {
	if !s.running.Load() {
		return nil, errors.ErrNotRunning
	}
	return s.query.Summarize(ctx, req)
}

// Subscribe attaches a live subscriber.
func (s *Service) Subscribe() (*broadcast.Subscription, error) {
	if !s.running.Load() {
		return nil, errors.ErrNotRunning
	}
	return s.broadcaster.Subscribe()
}

// Partitions lists partition metadata, oldest first.
func (s *Service) Partitions() ([]types.PartitionInfo, error) {
	return s.partitions.List()
}

// TopProcesses reports the heaviest processes from the archive.
func (s *Service) TopProcesses(ctx context.Context, since time.Time, limit int) ([]analytics.TopProcess, error) {
	if !s.running.Load() {
		return nil, errors.ErrNotRunning
	}
	return s.analytics.TopProcesses(ctx, since, limit)
}

// QuerySQL runs raw SQL against the archive tables.
func (s *Service) QuerySQL(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	if !s.running.Load() {
		return nil, errors.ErrNotRunning
	}
	return s.analytics.ExecuteSQL(ctx, sql, args...)
}

// RunRetention manually triggers a pruning pass.
func (s *Service) RunRetention() retention.Report {
	return s.retention.Prune()
}

// DryRunRetention reports what a pruning pass would delete.
func (s *Service) DryRunRetention() retention.Report {
	return s.retention.DryRun()
}

// ArchiveSealed exports every sealed partition that has not been archived
// yet and returns the results.
func (s *Service) ArchiveSealed() ([]archive.Result, error) {
	infos, err := s.partitions.List()
	if err != nil {
		return nil, err
	}

	var results []archive.Result
	for _, info := range infos {
		if info.Current || s.archive.IsExported(info.Key) {
			continue
		}

		samples, err := s.readPartition(info.Key)
		if err != nil {
			log.Warn("archive read failed", "partition", info.Key.String(), "error", err)
			continue
		}

		result, err := s.archive.Export(info.Key, samples)
		if err != nil {
			log.Warn("archive export failed", "partition", info.Key.String(), "error", err)
			continue
		}
		results = append(results, result)
	}

	return results, nil
}

func (s *Service) readPartition(key types.PartitionKey) ([]types.Sample, error) {
	path, release, err := s.partitions.AcquireReader(key)
	if err != nil {
		return nil, err
	}
	defer release()
	return partlog.ReadFile(path)
}

// retentionWorker runs a pruning pass daily at 5 AM.
func (s *Service) retentionWorker() {
	defer s.wg.Done()

	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), 5, 0, 0, 0, now.Location())
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(next.Sub(now)):
			s.retention.Prune()
		}
	}
}

// archiveWorker periodically exports sealed partitions.
func (s *Service) archiveWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ArchiveSealed(); err != nil {
				log.Warn("archive pass failed", "error", err)
			}
		}
	}
}

// Sync flushes the current partition to disk.
func (s *Service) Sync() error {
	return s.partitions.Sync()
}

// Config returns the current configuration.
func (s *Service) Config() *config.Config {
	return s.config
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// ServiceStats holds combined statistics.
type ServiceStats struct {
	Running    bool
	Uptime     time.Duration
	Writer     writer.AppenderStats
	Partitions partition.ManagerStats
	Broadcast  broadcast.Stats
	Query      query.Stats
	Analytics  analytics.Stats
	Retention  retention.Stats
}

// Stats returns combined statistics.
func (s *Service) Stats() ServiceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var uptime time.Duration
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime)
	}

	return ServiceStats{
		Running:    s.running.Load(),
		Uptime:     uptime,
		Writer:     s.appender.Stats(),
		Partitions: s.partitions.Stats(),
		Broadcast:  s.broadcaster.Stats(),
		Query:      s.query.Stats(),
		Analytics:  s.analytics.Stats(),
		Retention:  s.retention.Stats(),
	}
}
