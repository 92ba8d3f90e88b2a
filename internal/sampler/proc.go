package sampler

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xtxerr/hostwatch/internal/storage/types"
)

type memInfo struct {
	usagePct float64
	usedGB   float64
	totalGB  float64
}

// parseProcStat extracts the aggregate idle and total jiffies from the
// first cpu line of /proc/stat.
func parseProcStat(r io.Reader) (idle, total uint64, err error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 5 {
			return 0, 0, fmt.Errorf("cpu line too short: %q", line)
		}

		// Fields: cpu user nice system idle iowait irq softirq steal ...
		for i := 1; i < len(fields); i++ {
			val, err := strconv.ParseUint(fields[i], 10, 64)
			if err != nil {
				return 0, 0, fmt.Errorf("parse cpu field %d: %w", i, err)
			}
			total += val
			if i == 4 {
				idle = val
			}
		}
		return idle, total, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}
	return 0, 0, fmt.Errorf("cpu line not found")
}

// cpuPercent turns counter deltas into a clamped usage percentage.
func cpuPercent(deltaIdle, deltaTotal uint64) float64 {
	if deltaTotal == 0 {
		return 0
	}
	pct := (1.0 - float64(deltaIdle)/float64(deltaTotal)) * 100.0
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// parseMeminfo computes RAM usage from MemTotal and MemAvailable.
func parseMeminfo(r io.Reader) (memInfo, error) {
	var memTotal, memAvailable uint64
	var foundTotal, foundAvailable bool

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			val, err := parseMeminfoLine(line)
			if err != nil {
				return memInfo{}, fmt.Errorf("parse MemTotal: %w", err)
			}
			memTotal = val
			foundTotal = true
		case strings.HasPrefix(line, "MemAvailable:"):
			val, err := parseMeminfoLine(line)
			if err != nil {
				return memInfo{}, fmt.Errorf("parse MemAvailable: %w", err)
			}
			memAvailable = val
			foundAvailable = true
		}
		if foundTotal && foundAvailable {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return memInfo{}, err
	}
	if !foundTotal || !foundAvailable || memTotal == 0 {
		return memInfo{}, fmt.Errorf("meminfo missing MemTotal or MemAvailable")
	}

	usedKB := memTotal - memAvailable
	return memInfo{
		usagePct: float64(usedKB) / float64(memTotal) * 100.0,
		usedGB:   float64(usedKB) / (1024 * 1024),
		totalGB:  float64(memTotal) / (1024 * 1024),
	}, nil
}

// parseMeminfoLine extracts the kB value from a "Key:  12345 kB" line.
func parseMeminfoLine(line string) (uint64, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed line: %q", line)
	}
	return strconv.ParseUint(fields[1], 10, 64)
}

// enrichFromProc fills the command line and resident set size from
// /proc/<pid>. Missing entries (process already exited) leave the snapshot
// as nvidia-smi reported it.
func enrichFromProc(procRoot string, p *types.ProcessSnapshot) {
	pidDir := filepath.Join(procRoot, strconv.Itoa(int(p.PID)))

	if raw, err := os.ReadFile(filepath.Join(pidDir, "cmdline")); err == nil && len(raw) > 0 {
		p.Command = strings.TrimRight(strings.ReplaceAll(string(raw), "\x00", " "), " ")
	}

	if raw, err := os.ReadFile(filepath.Join(pidDir, "status")); err == nil {
		for _, line := range strings.Split(string(raw), "\n") {
			if !strings.HasPrefix(line, "VmRSS:") {
				continue
			}
			if kb, err := parseMeminfoLine(line); err == nil {
				p.RAMMB = float64(kb) / 1024
			}
			break
		}
	}
}
