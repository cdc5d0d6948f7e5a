package training

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/tsawler/go-htr/layers"
)

// ProgressBar renders step progress on a single terminal line
type ProgressBar struct {
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	metrics     map[string]float64
	out         io.Writer
}

// NewProgressBar creates a new progress bar writing to stdout
func NewProgressBar(description string, total int) *ProgressBar {
	return &ProgressBar{
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       50,
		metrics:     make(map[string]float64),
		out:         os.Stdout,
	}
}

// SetOutput redirects rendering.
func (pb *ProgressBar) SetOutput(w io.Writer) {
	pb.out = w
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out)
}

func (pb *ProgressBar) render() {
	percentage := 1.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d [%s",
		pb.description, percentage*100, bar, pb.current, pb.total, formatDuration(elapsed))

	if pb.current > 0 && elapsed > 0 {
		line += fmt.Sprintf(", %.2fstep/s", float64(pb.current)/elapsed.Seconds())
	}

	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf(", %s=%.3f", k, pb.metrics[k])
	}
	line += "]"

	fmt.Fprint(pb.out, line)
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// PrintArchitecture writes a PyTorch-style listing of arch.
func PrintArchitecture(w io.Writer, modelName string, arch layers.Architecture) {
	fmt.Fprintf(w, "%s(\n", modelName)
	for _, ls := range arch {
		fmt.Fprintf(w, "  %s\n", formatLayer(ls))
	}
	fmt.Fprintf(w, ")\n")
	if down, err := arch.DownsamplingCount(); err == nil {
		fmt.Fprintf(w, "Downsampling layers: %d (time axis reduced %dx)\n", down, timeReduction(arch))
	}
}

func formatLayer(ls layers.LayerSpec) string {
	switch ls.Type {
	case layers.Conv2D:
		filters, _ := ls.IntParam(layers.ParamFilters, 0)
		kernel, _ := ls.IntParam(layers.ParamKernelSize, 0)
		padding, _ := ls.StringParam(layers.ParamPadding, "same")
		return fmt.Sprintf("(%s): Conv2d(filters=%d, kernel_size=(%d, %d), padding=%s)", ls.Name, filters, kernel, kernel, padding)
	case layers.MaxPool2D:
		size, _ := ls.IntParam(layers.ParamPoolSize, 0)
		stride, _ := ls.PoolStride()
		rounding, _ := ls.StringParam(layers.ParamSeqLenRounding, layers.RoundFloor.String())
		return fmt.Sprintf("(%s): MaxPool2d(kernel_size=%d, stride=%d, seq_len=%s)", ls.Name, size, stride, rounding)
	case layers.MDLSTM:
		units, _ := ls.IntParam(layers.ParamUnits, 0)
		cell, _ := ls.StringParam(layers.ParamCellType, "lstm")
		return fmt.Sprintf("(%s): MDLSTM(units=%d, cell=%s)", ls.Name, units, cell)
	case layers.Dropout:
		rate, _ := ls.FloatParam(layers.ParamRate, 0)
		return fmt.Sprintf("(%s): Dropout(p=%g)", ls.Name, rate)
	case layers.Dense:
		units, _ := ls.IntParam(layers.ParamUnits, 0)
		return fmt.Sprintf("(%s): Linear(out_features=%d)", ls.Name, units)
	default:
		return fmt.Sprintf("(%s): %s()", ls.Name, ls.Type.String())
	}
}

// timeReduction is the product of all downsampling strides.
func timeReduction(arch layers.Architecture) int {
	factor := 1
	for _, ls := range arch {
		if down, err := ls.IsDownsampling(); err == nil && down {
			stride, _ := ls.PoolStride()
			factor *= stride
		}
	}
	return factor
}
