package sampler

import (
	"strconv"
	"strings"

	"github.com/xtxerr/hostwatch/internal/storage/types"
)

// parseGPUQuery parses nvidia-smi --query-gpu CSV output, one GPU per
// line:
//
//	index, utilization.gpu, memory.used, memory.total, temperature.gpu,
//	power.draw, fan.speed, clocks.sm, clocks.mem
//
// Malformed lines and N/A fields degrade to zero values rather than
// failing the sample.
func parseGPUQuery(out []byte) []types.GPUReading {
	var readings []types.GPUReading

	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) < 4 {
			continue
		}

		id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}

		r := types.GPUReading{
			GPUID:       id,
			UsagePct:    csvFloat(parts, 1),
			VRAMUsedMB:  csvFloat(parts, 2),
			VRAMTotalMB: csvFloat(parts, 3),
		}
		r.TemperatureC = csvFloat(parts, 4)
		r.PowerDrawW = csvFloat(parts, 5)
		r.FanPct = csvFloat(parts, 6)
		r.ClockMHz = csvFloat(parts, 7)
		r.MemClockMHz = csvFloat(parts, 8)

		readings = append(readings, r)
	}

	return readings
}

// parseComputeApps parses nvidia-smi --query-compute-apps CSV output:
//
//	pid, process_name, used_gpu_memory
//
// A process using more than one GPU appears once per GPU; rows are
// aggregated by pid with memory summed, so each pid appears once in
// the result.
func parseComputeApps(out []byte) []types.ProcessSnapshot {
	var procs []types.ProcessSnapshot
	index := make(map[int32]int)

	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) < 3 {
			continue
		}

		pid, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}

		if i, ok := index[int32(pid)]; ok {
			procs[i].GPUMemoryMB += csvFloat(parts, 2)
			continue
		}

		name := strings.TrimSpace(parts[1])
		// nvidia-smi reports the full binary path; keep the base name and
		// let /proc supply the full command line.
		if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
			name = name[idx+1:]
		}

		index[int32(pid)] = len(procs)
		procs = append(procs, types.ProcessSnapshot{
			PID:         int32(pid),
			Name:        name,
			GPUMemoryMB: csvFloat(parts, 2),
		})
	}

	return procs
}

// csvFloat parses field i as a float, treating missing and N/A fields as
// zero.
func csvFloat(parts []string, i int) float64 {
	if i >= len(parts) {
		return 0
	}
	s := strings.TrimSpace(parts[i])
	if s == "" || s == "N/A" || s == "[N/A]" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
