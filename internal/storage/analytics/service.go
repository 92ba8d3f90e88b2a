// Package analytics runs SQL over archived Parquet tables through an
// embedded DuckDB instance. It serves ad hoc questions the fixed query
// paths cannot, at the cost of only seeing partitions that have been
// archived.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/hostwatch/internal/logging"
)

var log = logging.Component("analytics")

// Service executes analytical queries against the Parquet archive.
type Service struct {
	mu sync.Mutex

	db *sql.DB

	systemGlob  string
	processGlob string

	timeout time.Duration
	maxRows int

	// Statistics
	stats Stats
}

// Stats holds analytics statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// Options configures the analytics service.
type Options struct {
	// MemoryLimit caps DuckDB memory, e.g. "1GB". Empty uses DuckDB's
	// default.
	MemoryLimit string

	// Timeout bounds each query. Zero means 30s.
	Timeout time.Duration

	// MaxRows caps result size. Zero means 1,000,000.
	MaxRows int
}

// TopProcess is one row of a top-consumers report.
type TopProcess struct {
	PID         int32
	Name        string
	AvgCPUPct   float64
	MaxCPUPct   float64
	AvgRAMMB    float64
	AvgGPUMemMB float64
	MaxGPUMemMB float64
	Samples     int64
}

// New creates an analytics service over the archive tables matched by the
// two globs.
func New(systemGlob, processGlob string, opts Options) (*Service, error) {
	// In-memory DuckDB; the data lives in the Parquet files.
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if opts.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", opts.MemoryLimit)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = 1_000_000
	}

	return &Service{
		db:          db,
		systemGlob:  systemGlob,
		processGlob: processGlob,
		timeout:     opts.Timeout,
		maxRows:     opts.MaxRows,
	}, nil
}

// Close closes the analytics service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// TopProcesses reports the heaviest processes since a timestamp, ordered
// by average GPU memory then average CPU.
func (s *Service) TopProcesses(ctx context.Context, since time.Time, limit int) ([]TopProcess, error) {
	if limit <= 0 {
		limit = 10
	}

	// No archived partitions yet reads as an empty report; read_parquet
	// errors on a glob with no matches.
	matches, err := filepath.Glob(s.processGlob)
	if err != nil {
		return nil, fmt.Errorf("glob archive: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT
			pid,
			max(name) AS name,
			avg(cpu_pct) AS avg_cpu,
			max(cpu_pct) AS max_cpu,
			avg(ram_mb) AS avg_ram,
			avg(gpu_memory_mb) AS avg_gpu_mem,
			max(gpu_memory_mb) AS max_gpu_mem,
			count(*) AS samples
		FROM read_parquet($1)
		WHERE timestamp >= $2
		GROUP BY pid
		ORDER BY avg_gpu_mem DESC, avg_cpu DESC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, s.processGlob, since.Unix(), limit)
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("top processes query: %w", err)
	}
	defer rows.Close()

	var results []TopProcess
	for rows.Next() {
		var p TopProcess
		if err := rows.Scan(&p.PID, &p.Name, &p.AvgCPUPct, &p.MaxCPUPct,
			&p.AvgRAMMB, &p.AvgGPUMemMB, &p.MaxGPUMemMB, &p.Samples); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		s.recordError()
		return nil, err
	}

	s.recordQuery(int64(len(results)))
	return results, nil
}

// ExecuteSQL runs an arbitrary read query. The archive tables are exposed
// as the table functions system_metrics() and process_metrics() via
// substitution of those names with read_parquet calls.
func (s *Service) ExecuteSQL(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rewrite(query), args...)
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	var results []map[string]interface{}
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if len(results) >= s.maxRows {
			return nil, fmt.Errorf("result exceeds %d rows", s.maxRows)
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		s.recordError()
		return nil, err
	}

	log.Debug("query executed", "rows", len(results))
	s.recordQuery(int64(len(results)))
	return results, nil
}

// rewrite substitutes the logical table names with read_parquet over the
// archive globs.
func (s *Service) rewrite(query string) string {
	query = strings.ReplaceAll(query, "system_metrics()", fmt.Sprintf("read_parquet('%s')", s.systemGlob))
	query = strings.ReplaceAll(query, "process_metrics()", fmt.Sprintf("read_parquet('%s')", s.processGlob))
	return query
}

func (s *Service) recordQuery(rows int64) {
	s.mu.Lock()
	s.stats.QueriesExecuted++
	s.stats.RowsReturned += rows
	s.mu.Unlock()
}

func (s *Service) recordError() {
	s.mu.Lock()
	s.stats.QueriesExecuted++
	s.stats.Errors++
	s.mu.Unlock()
}

// Stats returns analytics statistics.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
