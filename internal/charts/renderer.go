// Package charts renders sample windows into self-contained HTML chart
// artifacts.
package charts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/xtxerr/hostwatch/internal/logging"
	"github.com/xtxerr/hostwatch/internal/storage/types"
)

var log = logging.Component("charts")

// Renderer writes chart artifacts under one directory.
type Renderer struct {
	dir string
}

// NewRenderer creates a renderer writing under dir.
func NewRenderer(dir string) (*Renderer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create charts dir: %w", err)
	}
	return &Renderer{dir: dir}, nil
}

// Dir returns the artifact directory.
func (r *Renderer) Dir() string {
	return r.dir
}

// Render writes an HTML page of usage charts for the samples and returns
// the artifact path. name becomes the filename; an existing artifact with
// the same name is replaced.
func (r *Renderer) Render(name, title string, samples []types.Sample) (string, error) {
	if len(samples) == 0 {
		return "", fmt.Errorf("no samples to render")
	}

	page := components.NewPage()
	page.PageTitle = title

	page.AddCharts(systemChart(title, samples))
	for _, chart := range gpuCharts(samples) {
		page.AddCharts(chart)
	}

	path := filepath.Join(r.dir, sanitize(name)+".html")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}

	if err := page.Render(f); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("render charts: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}

	log.Info("chart artifact rendered", "path", path, "samples", len(samples))
	return path, nil
}

// List returns the artifact paths under the renderer's directory, newest
// first by modification time.
func (r *Renderer) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	type artifact struct {
		path    string
		modTime time.Time
	}
	var artifacts []artifact
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".html" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, artifact{
			path:    filepath.Join(r.dir, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].modTime.After(artifacts[j].modTime)
	})

	paths := make([]string, len(artifacts))
	for i, a := range artifacts {
		paths[i] = a.path
	}
	return paths, nil
}

// systemChart builds the CPU and RAM usage line chart.
func systemChart(title string, samples []types.Sample) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: "CPU and RAM usage"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", AxisLabel: &opts.AxisLabel{Rotate: 45}}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Max: 100}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "400px"}),
	)

	xLabels := make([]string, len(samples))
	cpu := make([]opts.LineData, len(samples))
	ram := make([]opts.LineData, len(samples))
	for i, s := range samples {
		xLabels[i] = s.Time().Format("01-02 15:04:05")
		cpu[i] = opts.LineData{Value: s.CPUUsagePct}
		ram[i] = opts.LineData{Value: s.RAMUsagePct}
	}

	line.SetXAxis(xLabels).
		AddSeries("CPU %", cpu, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)})).
		AddSeries("RAM %", ram, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	return line
}

// gpuCharts builds one usage chart per GPU seen in the samples.
func gpuCharts(samples []types.Sample) []*charts.Line {
	ids := make(map[int]bool)
	for _, s := range samples {
		for _, g := range s.GPUs {
			ids[g.GPUID] = true
		}
	}
	if len(ids) == 0 {
		return nil
	}

	ordered := make([]int, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Ints(ordered)

	var result []*charts.Line
	for _, id := range ordered {
		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("GPU %d", id)}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
			charts.WithXAxisOpts(opts.XAxis{Type: "category", AxisLabel: &opts.AxisLabel{Rotate: 45}}),
			charts.WithYAxisOpts(opts.YAxis{Type: "value"}),
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "400px"}),
		)

		var xLabels []string
		var usage, vram []opts.LineData
		for _, s := range samples {
			for _, g := range s.GPUs {
				if g.GPUID != id {
					continue
				}
				xLabels = append(xLabels, s.Time().Format("01-02 15:04:05"))
				usage = append(usage, opts.LineData{Value: g.UsagePct})
				vram = append(vram, opts.LineData{Value: g.VRAMUsedMB})
			}
		}

		line.SetXAxis(xLabels).
			AddSeries("Usage %", usage, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)})).
			AddSeries("VRAM MB", vram, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

		result = append(result, line)
	}
	return result
}

// sanitize strips filename-hostile characters from an artifact name.
func sanitize(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "_", "..", "_")
	s := replacer.Replace(name)
	if s == "" {
		s = "chart"
	}
	return s
}
