package query

import (
	"sort"
	"time"

	"github.com/xtxerr/hostwatch/internal/storage/types"
)

// occurrence is one sighting of a process in one sample.
type occurrence struct {
	ts   int64
	snap types.ProcessSnapshot
}

// BuildIntervals reconstructs process lifetimes from samples covering a
// window that ends at end. Samples must be in timestamp order.
//
// Consecutive sightings of a PID belong to the same lifetime while the gap
// between them stays within timeout; a larger gap closes the interval and a
// later sighting of the same PID opens a new one. PID reuse therefore shows
// up as separate intervals, never merged. An interval is reported running
// when its last sighting is within timeout of the window end, otherwise
// ended.
func BuildIntervals(samples []types.Sample, end time.Time, timeout time.Duration) []types.ProcessInterval {
	byPID := make(map[int32][]occurrence)
	for _, s := range samples {
		for _, p := range s.Processes {
			byPID[p.PID] = append(byPID[p.PID], occurrence{ts: s.Timestamp, snap: p})
		}
	}

	timeoutSecs := int64(timeout.Seconds())
	endTs := end.Unix()

	var intervals []types.ProcessInterval
	for pid, occs := range byPID {
		runStart := 0
		for i := 1; i <= len(occs); i++ {
			if i < len(occs) && occs[i].ts-occs[i-1].ts <= timeoutSecs {
				continue
			}
			intervals = append(intervals, buildOne(pid, occs[runStart:i], endTs, timeoutSecs))
			runStart = i
		}
	}

	sort.Slice(intervals, func(i, j int) bool {
		if intervals[i].FirstSeen != intervals[j].FirstSeen {
			return intervals[i].FirstSeen < intervals[j].FirstSeen
		}
		return intervals[i].PID < intervals[j].PID
	})

	return intervals
}

// buildOne aggregates one contiguous run of sightings into an interval.
func buildOne(pid int32, occs []occurrence, endTs, timeoutSecs int64) types.ProcessInterval {
	iv := types.ProcessInterval{
		PID:       pid,
		FirstSeen: occs[0].ts,
		LastSeen:  occs[len(occs)-1].ts,
	}

	var sumCPU, sumRAM, sumGPU float64
	for _, o := range occs {
		// Name and command from the latest sighting; they can change
		// after exec.
		iv.Name = o.snap.Name
		iv.Command = o.snap.Command

		sumCPU += o.snap.CPUPct
		sumRAM += o.snap.RAMMB
		sumGPU += o.snap.GPUMemoryMB
		if o.snap.GPUMemoryMB > iv.MaxGPUMemoryMB {
			iv.MaxGPUMemoryMB = o.snap.GPUMemoryMB
		}
	}

	n := float64(len(occs))
	iv.SampleCount = len(occs)
	iv.AvgCPUPct = sumCPU / n
	iv.AvgRAMMB = sumRAM / n
	iv.AvgGPUMemoryMB = sumGPU / n

	if endTs-iv.LastSeen <= timeoutSecs {
		iv.Status = types.StatusRunning
	} else {
		iv.Status = types.StatusEnded
	}

	return iv
}
