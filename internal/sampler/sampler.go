// Package sampler collects one host-metrics sample per call: CPU and RAM
// from /proc, GPUs and GPU processes from nvidia-smi. Hosts without a GPU
// produce samples with no GPU readings.
package sampler

import (
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/xtxerr/hostwatch/internal/errors"
	"github.com/xtxerr/hostwatch/internal/logging"
	"github.com/xtxerr/hostwatch/internal/storage/types"
)

var log = logging.Component("sampler")

// Sampler produces host metric samples.
type Sampler interface {
	Sample(ctx context.Context) (types.Sample, error)
}

// SystemSampler reads the local host through /proc and nvidia-smi.
type SystemSampler struct {
	// prevIdle and prevTotal track the last CPU counters for delta
	// computation.
	prevIdle  uint64
	prevTotal uint64

	// gpuChecked caches whether nvidia-smi exists on this host.
	gpuChecked   bool
	gpuAvailable bool

	// Overridable inputs for testing.
	openProcStat    func() (io.ReadCloser, error)
	openProcMeminfo func() (io.ReadCloser, error)
	procRoot        string
	runNvidiaSMI    func(ctx context.Context, args ...string) ([]byte, error)
}

// NewSystemSampler creates a sampler for the local host.
func NewSystemSampler() *SystemSampler {
	return &SystemSampler{
		openProcStat: func() (io.ReadCloser, error) {
			return os.Open("/proc/stat")
		},
		openProcMeminfo: func() (io.ReadCloser, error) {
			return os.Open("/proc/meminfo")
		},
		procRoot: "/proc",
		runNvidiaSMI: func(ctx context.Context, args ...string) ([]byte, error) {
			ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return exec.CommandContext(ctx, "nvidia-smi", args...).Output()
		},
	}
}

// Sample collects one sample. CPU usage is a delta against the previous
// call and reads 0 on the first. GPU failures degrade to a GPU-less
// sample rather than failing the whole collection.
func (s *SystemSampler) Sample(ctx context.Context) (types.Sample, error) {
	if err := ctx.Err(); err != nil {
		return types.Sample{}, err
	}

	sample := types.Sample{
		Timestamp: time.Now().UTC().Unix(),
	}

	cpu, err := s.readCPU()
	if err != nil {
		return types.Sample{}, errors.Wrap(err, "read cpu")
	}
	sample.CPUUsagePct = cpu

	mem, err := s.readMemory()
	if err != nil {
		return types.Sample{}, errors.Wrap(err, "read memory")
	}
	sample.RAMUsagePct = mem.usagePct
	sample.RAMUsedGB = mem.usedGB
	sample.RAMTotalGB = mem.totalGB

	if s.hasGPU(ctx) {
		gpus, err := s.readGPUs(ctx)
		if err != nil {
			log.Debug("gpu read failed", "error", err)
		} else {
			sample.GPUs = gpus
		}

		procs, err := s.readGPUProcesses(ctx)
		if err != nil {
			log.Debug("gpu process read failed", "error", err)
		} else {
			sample.Processes = procs
		}
	}

	return sample, nil
}

// hasGPU probes for nvidia-smi once and caches the answer.
func (s *SystemSampler) hasGPU(ctx context.Context) bool {
	if s.gpuChecked {
		return s.gpuAvailable
	}
	s.gpuChecked = true

	_, err := s.runNvidiaSMI(ctx, "--list-gpus")
	s.gpuAvailable = err == nil
	if !s.gpuAvailable {
		log.Info("nvidia-smi not available, sampling without GPU metrics")
	}
	return s.gpuAvailable
}

// readCPU computes usage from /proc/stat counter deltas.
func (s *SystemSampler) readCPU() (float64, error) {
	f, err := s.openProcStat()
	if err != nil {
		return 0, err
	}
	defer f.Close()

	idle, total, err := parseProcStat(f)
	if err != nil {
		return 0, err
	}

	// First reading seeds the counters.
	if s.prevTotal == 0 {
		s.prevIdle, s.prevTotal = idle, total
		return 0, nil
	}

	deltaIdle := idle - s.prevIdle
	deltaTotal := total - s.prevTotal
	s.prevIdle, s.prevTotal = idle, total

	return cpuPercent(deltaIdle, deltaTotal), nil
}

func (s *SystemSampler) readMemory() (memInfo, error) {
	f, err := s.openProcMeminfo()
	if err != nil {
		return memInfo{}, err
	}
	defer f.Close()

	return parseMeminfo(f)
}

func (s *SystemSampler) readGPUs(ctx context.Context) ([]types.GPUReading, error) {
	out, err := s.runNvidiaSMI(ctx,
		"--query-gpu=index,utilization.gpu,memory.used,memory.total,temperature.gpu,power.draw,fan.speed,clocks.sm,clocks.mem",
		"--format=csv,noheader,nounits")
	if err != nil {
		return nil, err
	}
	return parseGPUQuery(out), nil
}

func (s *SystemSampler) readGPUProcesses(ctx context.Context) ([]types.ProcessSnapshot, error) {
	out, err := s.runNvidiaSMI(ctx,
		"--query-compute-apps=pid,process_name,used_gpu_memory",
		"--format=csv,noheader,nounits")
	if err != nil {
		return nil, err
	}

	procs := parseComputeApps(out)
	for i := range procs {
		enrichFromProc(s.procRoot, &procs[i])
	}
	return procs, nil
}
