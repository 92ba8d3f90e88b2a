package types

import "time"

// Sample represents one point-in-time measurement of host resources.
// This is the primary data unit flowing through the storage system.
type Sample struct {
	// Timestamp is the measurement instant in Unix seconds.
	Timestamp int64

	// System-wide metrics
	CPUUsagePct float64
	RAMUsagePct float64
	RAMUsedGB   float64
	RAMTotalGB  float64

	// GPUs holds per-GPU metrics, ordered by GPU index.
	// Empty if the host has no GPU.
	GPUs []GPUReading

	// Processes holds per-process readings observed during this sample.
	Processes []ProcessSnapshot
}

// GPUReading holds the metrics of a single GPU at sample time.
type GPUReading struct {
	GPUID        int
	UsagePct     float64
	VRAMUsedMB   float64
	VRAMTotalMB  float64
	TemperatureC float64
	PowerDrawW   float64
	FanPct       float64
	ClockMHz     float64
	MemClockMHz  float64
}

// ProcessSnapshot holds a single process reading within a sample.
type ProcessSnapshot struct {
	PID         int32
	Name        string
	Command     string
	GPUMemoryMB float64
	CPUPct      float64
	RAMMB       float64
}

// Time returns the timestamp as a time.Time.
func (s *Sample) Time() time.Time {
	return time.Unix(s.Timestamp, 0).UTC()
}

// HasGPU returns true if the sample carries at least one GPU reading.
func (s *Sample) HasGPU() bool {
	return len(s.GPUs) > 0
}

// SampleBatch represents a collection of samples for batch processing.
type SampleBatch struct {
	Samples []Sample
}

// NewSampleBatch creates a new batch with the given capacity.
func NewSampleBatch(capacity int) *SampleBatch {
	return &SampleBatch{
		Samples: make([]Sample, 0, capacity),
	}
}

// Add appends a sample to the batch.
func (b *SampleBatch) Add(s Sample) {
	b.Samples = append(b.Samples, s)
}

// Len returns the number of samples in the batch.
func (b *SampleBatch) Len() int {
	return len(b.Samples)
}

// Clear resets the batch for reuse.
func (b *SampleBatch) Clear() {
	b.Samples = b.Samples[:0]
}
