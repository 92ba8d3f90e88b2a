package types

// IntervalStatus indicates whether a reconstructed process lifetime was still
// alive at the end of the query window.
type IntervalStatus int

const (
	StatusRunning IntervalStatus = iota
	StatusEnded
)

// String returns a human-readable representation of the status.
func (s IntervalStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// ProcessInterval is one reconstructed process lifetime, derived at query
// time from consecutive process snapshots. It is never persisted.
type ProcessInterval struct {
	PID     int32
	Name    string
	Command string

	// FirstSeen and LastSeen are Unix seconds of the earliest and latest
	// snapshot belonging to this interval.
	FirstSeen int64
	LastSeen  int64

	Status IntervalStatus

	// Arithmetic means over the interval's snapshots.
	AvgCPUPct      float64
	AvgRAMMB       float64
	AvgGPUMemoryMB float64
	MaxGPUMemoryMB float64

	SampleCount int
}

// DurationSecs returns the observed lifetime length in seconds.
func (p *ProcessInterval) DurationSecs() int64 {
	return p.LastSeen - p.FirstSeen
}
