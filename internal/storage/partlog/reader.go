package partlog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/xtxerr/hostwatch/internal/errors"
	"github.com/xtxerr/hostwatch/internal/storage/types"
)

// Reader reads samples from a partition file.
//
// A reader may scan a file that a writer is still appending to: it sees the
// consistent prefix of whole records present when each read happens. A
// truncated trailing record (an append in flight or cut short by a crash) is
// treated as a clean end of file. A CRC mismatch on a complete record is a
// hard corruption error.
type Reader struct {
	path string
	file *os.File

	// Statistics
	stats ReaderStats
}

// ReaderStats holds partition reader statistics.
type ReaderStats struct {
	RecordsRead int64
	SamplesRead int64
	BytesRead   int64
}

// NewReader opens a partition file for reading.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open partition: %w", err)
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	magic := binary.LittleEndian.Uint64(header[0:8])
	if magic != logMagic {
		f.Close()
		return nil, fmt.Errorf("invalid magic %x: %w", magic, errors.ErrCorruptRecord)
	}

	version := binary.LittleEndian.Uint32(header[8:12])
	if version != logVersion {
		f.Close()
		return nil, fmt.Errorf("unsupported version %d: %w", version, errors.ErrCorruptRecord)
	}

	return &Reader{
		path: path,
		file: f,
	}, nil
}

// ReadAll reads all samples from the partition.
// Corruption aborts the read with an error; partial results are not returned.
func (r *Reader) ReadAll() ([]types.Sample, error) {
	var allSamples []types.Sample

	for {
		samples, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		allSamples = append(allSamples, samples...)
	}

	return allSamples, nil
}

// ReadRecord reads the next record from the partition.
// Returns io.EOF at the end of the consistent prefix.
func (r *Reader) ReadRecord() ([]types.Sample, error) {
	// Read record header
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r.file, header[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			// Truncated tail: a record header cut short is an append in
			// flight, not corruption.
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read record header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	expectedCRC := binary.LittleEndian.Uint32(header[4:8])

	// Sanity check length
	if length > 100*1024*1024 { // 100MB max
		return nil, fmt.Errorf("record too large (%d bytes): %w", length, errors.ErrCorruptRecord)
	}

	// Read payload
	payload := make([]byte, length)
	if _, err := io.ReadFull(r.file, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			// Truncated payload at the tail, same as above.
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}

	// Verify CRC
	actualCRC := crc32.ChecksumIEEE(payload)
	if actualCRC != expectedCRC {
		return nil, fmt.Errorf("crc mismatch: expected %x, got %x: %w", expectedCRC, actualCRC, errors.ErrCorruptRecord)
	}

	// Decode samples
	samples, err := decodeSamples(payload)
	if err != nil {
		return nil, fmt.Errorf("decode samples: %w", err)
	}

	r.stats.RecordsRead++
	r.stats.SamplesRead += int64(len(samples))
	r.stats.BytesRead += int64(recordHeaderSize + len(payload))

	return samples, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Stats returns reader statistics.
func (r *Reader) Stats() ReaderStats {
	return r.stats
}

// Path returns the partition file path.
func (r *Reader) Path() string {
	return r.path
}

// ReadFile is a convenience function to read all samples from a partition file.
func ReadFile(path string) ([]types.Sample, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return r.ReadAll()
}

// Iterator iterates over samples in a partition file.
type Iterator struct {
	reader   *Reader
	buffer   []types.Sample
	position int
	done     bool
	err      error
}

// NewIterator creates an iterator for a partition file.
func NewIterator(path string) (*Iterator, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}

	return &Iterator{
		reader: r,
	}, nil
}

// Next returns true while there are more samples.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}

	// If buffer is exhausted, read next record
	for it.position >= len(it.buffer) {
		samples, err := it.reader.ReadRecord()
		if err == io.EOF {
			it.done = true
			return false
		}
		if err != nil {
			it.err = err
			return false
		}

		it.buffer = samples
		it.position = 0
	}

	return true
}

// Sample returns the current sample and advances.
func (it *Iterator) Sample() types.Sample {
	if it.position < len(it.buffer) {
		s := it.buffer[it.position]
		it.position++
		return s
	}
	return types.Sample{}
}

// Err returns any error encountered during iteration.
func (it *Iterator) Err() error {
	return it.err
}

// Close closes the iterator.
func (it *Iterator) Close() error {
	return it.reader.Close()
}
