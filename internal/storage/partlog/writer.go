// Package partlog implements the on-disk partition file format.
//
// One weekly partition is a single self-contained append-only file. The
// format is a fixed header followed by CRC-framed records, so a partition
// file can be copied to another host and opened read-only there without any
// shared index.
//
// File format:
//   - Header: 8 bytes magic + 4 bytes version
//   - Records: [4 bytes length][4 bytes crc32][payload]
//
// Each payload is one encoded batch of samples (see encoding.go).
package partlog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xtxerr/hostwatch/internal/errors"
	"github.com/xtxerr/hostwatch/internal/storage/types"
)

const (
	logMagic         = 0x485750544C4F4701 // "HWPTLOG" + version 1
	logVersion       = 1
	headerSize       = 12 // 8 bytes magic + 4 bytes version
	recordHeaderSize = 8  // 4 bytes length + 4 bytes crc
)

// Writer appends samples to a single partition file.
// Reopening an existing file resumes appending after its last record.
type Writer struct {
	mu sync.Mutex

	path   string
	file   *os.File
	writer *bufio.Writer
	size   int64
	closed bool

	opts Options

	// Statistics
	stats WriterStats
}

// Options configures the partition writer.
type Options struct {
	// SyncMode controls how appends are synced to disk.
	// "async" - buffered, flushed on interval by the caller
	// "sync" - flush after each append
	// "fsync" - fsync after each append
	SyncMode string

	// SyncInterval is the flush interval for async mode.
	// Default: 1s
	SyncInterval time.Duration

	// BufferSize is the size of the write buffer.
	// Default: 64KB
	BufferSize int
}

// DefaultOptions returns default partition writer options.
// The default sync mode is fsync so a successful append survives a crash.
func DefaultOptions() Options {
	return Options{
		SyncMode:     "fsync",
		SyncInterval: time.Second,
		BufferSize:   64 * 1024, // 64KB
	}
}

// WriterStats holds partition writer statistics.
type WriterStats struct {
	RecordsWritten int64
	SamplesWritten int64
	BytesWritten   int64
	SyncsPerformed int64
	Errors         int64
}

// Open opens or creates a partition file for appending.
func Open(path string, opts Options) (*Writer, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	if opts.SyncMode == "" {
		opts.SyncMode = DefaultOptions().SyncMode
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create partition dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open partition file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat partition file: %w", err)
	}

	w := &Writer{
		path: path,
		file: f,
		size: info.Size(),
		opts: opts,
	}

	if info.Size() == 0 {
		if err := w.writeHeader(); err != nil {
			f.Close()
			os.Remove(path)
			return nil, err
		}
	} else {
		if err := verifyHeader(f); err != nil {
			f.Close()
			return nil, err
		}
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek end: %w", err)
	}

	w.writer = bufio.NewWriterSize(f, opts.BufferSize)
	return w, nil
}

// writeHeader writes the file header to a fresh file.
func (w *Writer) writeHeader() error {
	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:8], logMagic)
	binary.LittleEndian.PutUint32(header[8:12], logVersion)

	if _, err := w.file.Write(header[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if w.opts.SyncMode == "fsync" {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("sync header: %w", err)
		}
	}

	w.size = headerSize
	return nil
}

// Append appends a batch of samples as one record.
// With sync mode "sync" or "fsync" the record is durable when Append returns.
func (w *Writer) Append(samples []types.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.ErrWriterClosed
	}

	// Encode samples
	payload, err := encodeSamples(samples)
	if err != nil {
		w.stats.Errors++
		return fmt.Errorf("encode samples: %w", err)
	}

	// Write record
	if err := w.writeRecord(payload); err != nil {
		w.stats.Errors++
		return fmt.Errorf("write record: %w", err)
	}

	w.stats.RecordsWritten++
	w.stats.SamplesWritten += int64(len(samples))
	w.stats.BytesWritten += int64(recordHeaderSize + len(payload))

	// Sync if needed
	if w.opts.SyncMode == "sync" || w.opts.SyncMode == "fsync" {
		if err := w.syncUnlocked(); err != nil {
			w.stats.Errors++
			return fmt.Errorf("sync: %w", err)
		}
	}

	return nil
}

// writeRecord writes a single framed record.
func (w *Writer) writeRecord(payload []byte) error {
	crc := crc32.ChecksumIEEE(payload)

	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc)

	if _, err := w.writer.Write(header[:]); err != nil {
		return err
	}

	if _, err := w.writer.Write(payload); err != nil {
		return err
	}

	w.size += int64(recordHeaderSize + len(payload))
	return nil
}

// Sync flushes buffered data to disk.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncUnlocked()
}

func (w *Writer) syncUnlocked() error {
	if w.writer == nil {
		return nil
	}

	if err := w.writer.Flush(); err != nil {
		return err
	}

	if w.opts.SyncMode == "fsync" {
		if err := w.file.Sync(); err != nil {
			return err
		}
	}

	w.stats.SyncsPerformed++
	return nil
}

// Close flushes and closes the partition file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.writer != nil {
		w.writer.Flush()
	}

	return w.file.Close()
}

// Size returns the current file size including buffered data.
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Path returns the partition file path.
func (w *Writer) Path() string {
	return w.path
}

// Stats returns writer statistics.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// verifyHeader validates the file header of an existing partition file.
func verifyHeader(f *os.File) error {
	var header [headerSize]byte
	if _, err := f.ReadAt(header[:], 0); err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	magic := binary.LittleEndian.Uint64(header[0:8])
	if magic != logMagic {
		return fmt.Errorf("invalid magic %x: %w", magic, errors.ErrCorruptRecord)
	}

	version := binary.LittleEndian.Uint32(header[8:12])
	if version != logVersion {
		return fmt.Errorf("unsupported version %d: %w", version, errors.ErrCorruptRecord)
	}

	return nil
}
