package partlog

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/xtxerr/hostwatch/internal/storage/types"
)

// Sample encoding format (binary, little-endian):
// - Timestamp (8 bytes, Unix seconds)
// - CPUUsagePct, RAMUsagePct, RAMUsedGB, RAMTotalGB (8 bytes each, float64)
// - GPU count (2 bytes), then per GPU:
//   GPUID (4 bytes) + 8 float64 metrics
// - Process count (2 bytes), then per process:
//   PID (4 bytes) + Name string + Command string + 3 float64 metrics
// Strings are length-prefixed (2 bytes).

// encodeSamples encodes a slice of samples into a binary format.
func encodeSamples(samples []types.Sample) ([]byte, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	// Estimate size: ~200 bytes per sample average
	buf := make([]byte, 0, len(samples)*200)

	// Write sample count
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(samples)))

	for i := range samples {
		s := &samples[i]

		if len(s.GPUs) > math.MaxUint16 {
			return nil, fmt.Errorf("too many gpu readings: %d", len(s.GPUs))
		}
		if len(s.Processes) > math.MaxUint16 {
			return nil, fmt.Errorf("too many process snapshots: %d", len(s.Processes))
		}

		buf = binary.LittleEndian.AppendUint64(buf, uint64(s.Timestamp))
		buf = appendFloat(buf, s.CPUUsagePct)
		buf = appendFloat(buf, s.RAMUsagePct)
		buf = appendFloat(buf, s.RAMUsedGB)
		buf = appendFloat(buf, s.RAMTotalGB)

		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s.GPUs)))
		for _, g := range s.GPUs {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(g.GPUID))
			buf = appendFloat(buf, g.UsagePct)
			buf = appendFloat(buf, g.VRAMUsedMB)
			buf = appendFloat(buf, g.VRAMTotalMB)
			buf = appendFloat(buf, g.TemperatureC)
			buf = appendFloat(buf, g.PowerDrawW)
			buf = appendFloat(buf, g.FanPct)
			buf = appendFloat(buf, g.ClockMHz)
			buf = appendFloat(buf, g.MemClockMHz)
		}

		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s.Processes)))
		for _, p := range s.Processes {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(p.PID))
			buf = appendString(buf, p.Name)
			buf = appendString(buf, p.Command)
			buf = appendFloat(buf, p.GPUMemoryMB)
			buf = appendFloat(buf, p.CPUPct)
			buf = appendFloat(buf, p.RAMMB)
		}
	}

	return buf, nil
}

// decodeSamples decodes a binary format into a slice of samples.
func decodeSamples(data []byte) ([]types.Sample, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("data too short for sample count")
	}

	count := int(binary.LittleEndian.Uint32(data[0:4]))
	if count == 0 {
		return nil, nil
	}

	samples := make([]types.Sample, count)
	offset := 4

	for i := 0; i < count; i++ {
		var s types.Sample
		var err error

		if offset+8+4*8 > len(data) {
			return nil, fmt.Errorf("sample %d: data too short for header", i)
		}
		s.Timestamp = int64(binary.LittleEndian.Uint64(data[offset:]))
		offset += 8
		s.CPUUsagePct, offset = readFloat(data, offset)
		s.RAMUsagePct, offset = readFloat(data, offset)
		s.RAMUsedGB, offset = readFloat(data, offset)
		s.RAMTotalGB, offset = readFloat(data, offset)

		var gpuCount int
		gpuCount, offset, err = readCount(data, offset)
		if err != nil {
			return nil, fmt.Errorf("sample %d gpu count: %w", i, err)
		}
		if gpuCount > 0 {
			s.GPUs = make([]types.GPUReading, gpuCount)
			for j := 0; j < gpuCount; j++ {
				if offset+4+8*8 > len(data) {
					return nil, fmt.Errorf("sample %d gpu %d: data too short", i, j)
				}
				g := &s.GPUs[j]
				g.GPUID = int(int32(binary.LittleEndian.Uint32(data[offset:])))
				offset += 4
				g.UsagePct, offset = readFloat(data, offset)
				g.VRAMUsedMB, offset = readFloat(data, offset)
				g.VRAMTotalMB, offset = readFloat(data, offset)
				g.TemperatureC, offset = readFloat(data, offset)
				g.PowerDrawW, offset = readFloat(data, offset)
				g.FanPct, offset = readFloat(data, offset)
				g.ClockMHz, offset = readFloat(data, offset)
				g.MemClockMHz, offset = readFloat(data, offset)
			}
		}

		var procCount int
		procCount, offset, err = readCount(data, offset)
		if err != nil {
			return nil, fmt.Errorf("sample %d process count: %w", i, err)
		}
		if procCount > 0 {
			s.Processes = make([]types.ProcessSnapshot, procCount)
			for j := 0; j < procCount; j++ {
				p := &s.Processes[j]

				if offset+4 > len(data) {
					return nil, fmt.Errorf("sample %d process %d: data too short for pid", i, j)
				}
				p.PID = int32(binary.LittleEndian.Uint32(data[offset:]))
				offset += 4

				p.Name, offset, err = readString(data, offset)
				if err != nil {
					return nil, fmt.Errorf("sample %d process %d name: %w", i, j, err)
				}
				p.Command, offset, err = readString(data, offset)
				if err != nil {
					return nil, fmt.Errorf("sample %d process %d command: %w", i, j, err)
				}

				if offset+3*8 > len(data) {
					return nil, fmt.Errorf("sample %d process %d: data too short for metrics", i, j)
				}
				p.GPUMemoryMB, offset = readFloat(data, offset)
				p.CPUPct, offset = readFloat(data, offset)
				p.RAMMB, offset = readFloat(data, offset)
			}
		}

		samples[i] = s
	}

	return samples, nil
}

// appendFloat appends a float64 to the buffer.
func appendFloat(buf []byte, f float64) []byte {
	return binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
}

// readFloat reads a float64. The caller checks bounds.
func readFloat(data []byte, offset int) (float64, int) {
	f := math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
	return f, offset + 8
}

// readCount reads a 2-byte element count.
func readCount(data []byte, offset int) (int, int, error) {
	if offset+2 > len(data) {
		return 0, offset, fmt.Errorf("data too short for count")
	}
	n := int(binary.LittleEndian.Uint16(data[offset:]))
	return n, offset + 2, nil
}

// appendString appends a length-prefixed string to the buffer.
func appendString(buf []byte, s string) []byte {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// readString reads a length-prefixed string from the buffer.
func readString(data []byte, offset int) (string, int, error) {
	if offset+2 > len(data) {
		return "", offset, fmt.Errorf("data too short for string length")
	}

	length := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2

	if offset+length > len(data) {
		return "", offset, fmt.Errorf("data too short for string content")
	}

	s := string(data[offset : offset+length])
	return s, offset + length, nil
}
