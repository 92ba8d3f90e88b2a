package sampler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xtxerr/hostwatch/internal/storage/types"
)

const procStatSample = `cpu  10000 500 3000 80000 1200 0 300 0 0 0
cpu0 5000 250 1500 40000 600 0 150 0 0 0
intr 12345678
ctxt 87654321
`

const meminfoSample = `MemTotal:       32768000 kB
MemFree:         8192000 kB
MemAvailable:   16384000 kB
Buffers:          512000 kB
Cached:          4096000 kB
`

func TestParseProcStat(t *testing.T) {
	idle, total, err := parseProcStat(strings.NewReader(procStatSample))
	if err != nil {
		t.Fatalf("parseProcStat: %v", err)
	}
	if idle != 80000 {
		t.Errorf("idle = %d, want 80000", idle)
	}
	wantTotal := uint64(10000 + 500 + 3000 + 80000 + 1200 + 0 + 300)
	if total != wantTotal {
		t.Errorf("total = %d, want %d", total, wantTotal)
	}
}

func TestParseProcStat_Malformed(t *testing.T) {
	if _, _, err := parseProcStat(strings.NewReader("intr 123\n")); err == nil {
		t.Error("expected error for missing cpu line")
	}
	if _, _, err := parseProcStat(strings.NewReader("cpu 1 2\n")); err == nil {
		t.Error("expected error for short cpu line")
	}
}

func TestCPUPercent(t *testing.T) {
	tests := []struct {
		deltaIdle, deltaTotal uint64
		want                  float64
	}{
		{50, 100, 50},
		{100, 100, 0},
		{0, 100, 100},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := cpuPercent(tt.deltaIdle, tt.deltaTotal); got != tt.want {
			t.Errorf("cpuPercent(%d, %d) = %v, want %v", tt.deltaIdle, tt.deltaTotal, got, tt.want)
		}
	}
}

func TestParseMeminfo(t *testing.T) {
	mem, err := parseMeminfo(strings.NewReader(meminfoSample))
	if err != nil {
		t.Fatalf("parseMeminfo: %v", err)
	}
	if mem.usagePct != 50 {
		t.Errorf("usage = %v, want 50", mem.usagePct)
	}
	wantTotal := 32768000.0 / (1024 * 1024)
	if mem.totalGB != wantTotal {
		t.Errorf("total = %v GB, want %v", mem.totalGB, wantTotal)
	}
	if mem.usedGB != wantTotal/2 {
		t.Errorf("used = %v GB, want %v", mem.usedGB, wantTotal/2)
	}
}

func TestParseMeminfo_Missing(t *testing.T) {
	if _, err := parseMeminfo(strings.NewReader("MemTotal: 1000 kB\n")); err == nil {
		t.Error("expected error without MemAvailable")
	}
}

func TestParseGPUQuery(t *testing.T) {
	out := []byte(`0, 85, 8192, 24576, 72, 310.25, 65, 2520, 10501
1, 0, 12, 24576, 35, N/A, 30, 210, 405
`)
	readings := parseGPUQuery(out)
	if len(readings) != 2 {
		t.Fatalf("got %d readings, want 2", len(readings))
	}

	g := readings[0]
	if g.GPUID != 0 || g.UsagePct != 85 || g.VRAMUsedMB != 8192 || g.VRAMTotalMB != 24576 {
		t.Errorf("reading 0 = %+v", g)
	}
	if g.TemperatureC != 72 || g.PowerDrawW != 310.25 || g.FanPct != 65 {
		t.Errorf("reading 0 extras = %+v", g)
	}
	if readings[1].PowerDrawW != 0 {
		t.Errorf("N/A power parsed as %v, want 0", readings[1].PowerDrawW)
	}
}

func TestParseGPUQuery_Garbage(t *testing.T) {
	out := []byte("No devices were found\n")
	if readings := parseGPUQuery(out); len(readings) != 0 {
		t.Errorf("garbage parsed into %d readings", len(readings))
	}
}

func TestParseComputeApps(t *testing.T) {
	out := []byte(`1306310, /usr/bin/python3, 10028
99, ./llama-server, 4096
`)
	procs := parseComputeApps(out)
	if len(procs) != 2 {
		t.Fatalf("got %d processes, want 2", len(procs))
	}
	if procs[0].PID != 1306310 || procs[0].Name != "python3" || procs[0].GPUMemoryMB != 10028 {
		t.Errorf("process 0 = %+v", procs[0])
	}
	if procs[1].Name != "llama-server" {
		t.Errorf("process 1 name = %q", procs[1].Name)
	}
}

func TestParseComputeApps_MultiGPU(t *testing.T) {
	// A process on two GPUs is listed once per GPU; it must come back as
	// one snapshot with the memory summed.
	out := []byte(`1234, /usr/bin/python3, 10028
1234, /usr/bin/python3, 8192
99, ./llama-server, 4096
`)
	procs := parseComputeApps(out)
	if len(procs) != 2 {
		t.Fatalf("got %d processes, want 2", len(procs))
	}
	if procs[0].PID != 1234 || procs[0].GPUMemoryMB != 18220 {
		t.Errorf("process 0 = %+v, want pid 1234 with 18220 MB", procs[0])
	}
	if procs[1].PID != 99 {
		t.Errorf("process 1 = %+v", procs[1])
	}
}

func TestEnrichFromProc(t *testing.T) {
	root := t.TempDir()
	pidDir := filepath.Join(root, "4242")
	if err := os.MkdirAll(pidDir, 0755); err != nil {
		t.Fatal(err)
	}
	cmdline := "python3\x00train.py\x00--epochs\x0010\x00"
	if err := os.WriteFile(filepath.Join(pidDir, "cmdline"), []byte(cmdline), 0644); err != nil {
		t.Fatal(err)
	}
	status := "Name:\tpython3\nVmRSS:\t  2097152 kB\n"
	if err := os.WriteFile(filepath.Join(pidDir, "status"), []byte(status), 0644); err != nil {
		t.Fatal(err)
	}

	p := types.ProcessSnapshot{PID: 4242, Name: "python3"}
	enrichFromProc(root, &p)

	if p.Command != "python3 train.py --epochs 10" {
		t.Errorf("command = %q", p.Command)
	}
	if p.RAMMB != 2048 {
		t.Errorf("ram = %v MB, want 2048", p.RAMMB)
	}

	// A vanished PID leaves the snapshot untouched.
	q := types.ProcessSnapshot{PID: 1, Name: "gone", GPUMemoryMB: 128}
	enrichFromProc(root, &q)
	if q.Command != "" || q.GPUMemoryMB != 128 {
		t.Errorf("vanished pid mutated snapshot: %+v", q)
	}
}

func TestSystemSampler_Sample(t *testing.T) {
	statReads := 0
	s := &SystemSampler{
		openProcStat: func() (io.ReadCloser, error) {
			statReads++
			// Second read shows progress on the counters.
			if statReads > 1 {
				return io.NopCloser(strings.NewReader(
					"cpu  10100 500 3050 80050 1200 0 300 0 0 0\n")), nil
			}
			return io.NopCloser(strings.NewReader(procStatSample)), nil
		},
		openProcMeminfo: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(meminfoSample)), nil
		},
		procRoot: t.TempDir(),
		runNvidiaSMI: func(ctx context.Context, args ...string) ([]byte, error) {
			if args[0] == "--list-gpus" {
				return []byte("GPU 0: NVIDIA RTX 4090\n"), nil
			}
			if strings.HasPrefix(args[0], "--query-gpu") {
				return []byte("0, 85, 8192, 24576, 72, 310, 65, 2520, 10501\n"), nil
			}
			return []byte("4242, /usr/bin/python3, 8192\n"), nil
		},
	}

	ctx := context.Background()

	first, err := s.Sample(ctx)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if first.CPUUsagePct != 0 {
		t.Errorf("first sample cpu = %v, want 0 (counters seeding)", first.CPUUsagePct)
	}

	second, err := s.Sample(ctx)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	// Delta: idle +50 of total +200.
	if got := second.CPUUsagePct; got < 74.9 || got > 75.1 {
		t.Errorf("cpu = %v, want 75", got)
	}
	if second.RAMUsagePct != 50 {
		t.Errorf("ram = %v, want 50", second.RAMUsagePct)
	}
	if len(second.GPUs) != 1 || second.GPUs[0].VRAMUsedMB != 8192 {
		t.Errorf("gpus = %+v", second.GPUs)
	}
	if len(second.Processes) != 1 || second.Processes[0].PID != 4242 {
		t.Errorf("processes = %+v", second.Processes)
	}
}

func TestSystemSampler_NoGPU(t *testing.T) {
	s := &SystemSampler{
		openProcStat: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(procStatSample)), nil
		},
		openProcMeminfo: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(meminfoSample)), nil
		},
		procRoot: t.TempDir(),
		runNvidiaSMI: func(ctx context.Context, args ...string) ([]byte, error) {
			return nil, fmt.Errorf("executable file not found")
		},
	}

	sample, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if sample.HasGPU() {
		t.Errorf("GPU-less host produced GPU readings: %+v", sample.GPUs)
	}
	if sample.RAMTotalGB == 0 {
		t.Error("memory not collected")
	}
}
