// Package archive exports sealed partitions to Parquet for analytical
// queries. Each partition becomes two files: a system table with one row
// per sample and GPU, and a process table with one row per sample and
// observed process.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/hostwatch/internal/errors"
	"github.com/xtxerr/hostwatch/internal/logging"
	"github.com/xtxerr/hostwatch/internal/storage/types"
)

var log = logging.Component("archive")

// Options configures Parquet export.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// CompressionLevel for algorithms that support it (zstd: 1-22)
	CompressionLevel int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default export options.
func DefaultOptions() Options {
	return Options{
		Compression:      CompressionZstd,
		CompressionLevel: 3,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// SystemRow is one sample-GPU pair in the system table. Samples from a
// host without GPUs produce a single row with gpu_id -1.
type SystemRow struct {
	Timestamp    int64   `parquet:"timestamp"`
	CPUUsagePct  float64 `parquet:"cpu_usage_pct"`
	RAMUsagePct  float64 `parquet:"ram_usage_pct"`
	RAMUsedGB    float64 `parquet:"ram_used_gb"`
	RAMTotalGB   float64 `parquet:"ram_total_gb"`
	GPUID        int32   `parquet:"gpu_id"`
	GPUUsagePct  float64 `parquet:"gpu_usage_pct"`
	VRAMUsedMB   float64 `parquet:"vram_used_mb"`
	VRAMTotalMB  float64 `parquet:"vram_total_mb"`
	TemperatureC float64 `parquet:"temperature_c"`
	PowerDrawW   float64 `parquet:"power_draw_w"`
	FanPct       float64 `parquet:"fan_pct"`
	ClockMHz     float64 `parquet:"clock_mhz"`
	MemClockMHz  float64 `parquet:"mem_clock_mhz"`
}

// ProcessRow is one sample-process pair in the process table.
type ProcessRow struct {
	Timestamp   int64   `parquet:"timestamp"`
	PID         int32   `parquet:"pid"`
	Name        string  `parquet:"name,zstd"`
	Command     string  `parquet:"command,zstd"`
	GPUMemoryMB float64 `parquet:"gpu_memory_mb"`
	CPUPct      float64 `parquet:"cpu_pct"`
	RAMMB       float64 `parquet:"ram_mb"`
}

// SystemRows flattens a sample into system table rows.
func SystemRows(s *types.Sample) []SystemRow {
	base := SystemRow{
		Timestamp:   s.Timestamp,
		CPUUsagePct: s.CPUUsagePct,
		RAMUsagePct: s.RAMUsagePct,
		RAMUsedGB:   s.RAMUsedGB,
		RAMTotalGB:  s.RAMTotalGB,
		GPUID:       -1,
	}

	if len(s.GPUs) == 0 {
		return []SystemRow{base}
	}

	rows := make([]SystemRow, len(s.GPUs))
	for i, g := range s.GPUs {
		row := base
		row.GPUID = int32(g.GPUID)
		row.GPUUsagePct = g.UsagePct
		row.VRAMUsedMB = g.VRAMUsedMB
		row.VRAMTotalMB = g.VRAMTotalMB
		row.TemperatureC = g.TemperatureC
		row.PowerDrawW = g.PowerDrawW
		row.FanPct = g.FanPct
		row.ClockMHz = g.ClockMHz
		row.MemClockMHz = g.MemClockMHz
		rows[i] = row
	}
	return rows
}

// ProcessRows flattens a sample into process table rows.
func ProcessRows(s *types.Sample) []ProcessRow {
	rows := make([]ProcessRow, len(s.Processes))
	for i, p := range s.Processes {
		rows[i] = ProcessRow{
			Timestamp:   s.Timestamp,
			PID:         p.PID,
			Name:        p.Name,
			Command:     p.Command,
			GPUMemoryMB: p.GPUMemoryMB,
			CPUPct:      p.CPUPct,
			RAMMB:       p.RAMMB,
		}
	}
	return rows
}

// Result describes one exported partition.
type Result struct {
	Key         types.PartitionKey
	SystemPath  string
	ProcessPath string
	SystemRows  int64
	ProcessRows int64
}

// SystemFilename returns the system table filename for a partition.
func SystemFilename(key types.PartitionKey) string {
	return fmt.Sprintf("%s_system.parquet", key.String())
}

// ProcessFilename returns the process table filename for a partition.
func ProcessFilename(key types.PartitionKey) string {
	return fmt.Sprintf("%s_processes.parquet", key.String())
}

// Exporter writes partition contents to the archive directory.
type Exporter struct {
	mu sync.Mutex

	dir  string
	opts Options

	exported int64
}

// NewExporter creates an exporter writing under dir.
func NewExporter(dir string, opts Options) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Exporter{dir: dir, opts: opts}, nil
}

// Dir returns the archive directory.
func (e *Exporter) Dir() string {
	return e.dir
}

// SystemGlob returns the glob matching every system table in the archive.
func (e *Exporter) SystemGlob() string {
	return filepath.Join(e.dir, "*_system.parquet")
}

// ProcessGlob returns the glob matching every process table in the archive.
func (e *Exporter) ProcessGlob() string {
	return filepath.Join(e.dir, "*_processes.parquet")
}

// Export writes both tables for one partition. Re-exporting a partition
// replaces its previous tables.
func (e *Exporter) Export(key types.PartitionKey, samples []types.Sample) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := Result{
		Key:         key,
		SystemPath:  filepath.Join(e.dir, SystemFilename(key)),
		ProcessPath: filepath.Join(e.dir, ProcessFilename(key)),
	}

	var sysRows []SystemRow
	var procRows []ProcessRow
	for i := range samples {
		sysRows = append(sysRows, SystemRows(&samples[i])...)
		procRows = append(procRows, ProcessRows(&samples[i])...)
	}

	if err := writeTable(result.SystemPath, sysRows, e.opts); err != nil {
		return result, fmt.Errorf("export system table %s: %w", key, err)
	}
	if err := writeTable(result.ProcessPath, procRows, e.opts); err != nil {
		os.Remove(result.SystemPath)
		return result, fmt.Errorf("export process table %s: %w", key, err)
	}

	result.SystemRows = int64(len(sysRows))
	result.ProcessRows = int64(len(procRows))
	e.exported++

	log.Info("partition archived",
		"partition", key.String(),
		"system_rows", result.SystemRows,
		"process_rows", result.ProcessRows)

	return result, nil
}

// Exported returns the number of partitions exported.
func (e *Exporter) Exported() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exported
}

// writeTable writes rows to a fresh Parquet file. The write goes through a
// temp file renamed into place so readers never see a partial table.
func writeTable[T any](path string, rows []T, opts Options) error {
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	writer := parquet.NewGenericWriter[T](f,
		parquet.Compression(getCompression(opts.Compression)))

	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("write rows: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("close writer: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close file: %w", err)
	}

	return os.Rename(tmp, path)
}

// Exported tables for a key either both exist or neither does; IsExported
// checks both.
func (e *Exporter) IsExported(key types.PartitionKey) bool {
	if _, err := os.Stat(filepath.Join(e.dir, SystemFilename(key))); err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(e.dir, ProcessFilename(key))); err != nil {
		return false
	}
	return true
}

// Remove deletes both tables for a partition. Missing tables are not an
// error.
func (e *Exporter) Remove(key types.PartitionKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for _, name := range []string{SystemFilename(key), ProcessFilename(key)} {
		if err := os.Remove(filepath.Join(e.dir, name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("remove archive %s: %w: %v", key, errors.ErrStorageUnavailable, errs[0])
	}
	return nil
}
