package runner

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/emergingrobotics/npudetect/pkg/detect"
)

// Reporter writes the human-readable progress report
type Reporter struct {
	out    io.Writer
	warn   *color.Color
	header *color.Color
}

// NewReporter creates a reporter writing to out. Colour is only used when
// colour is true and the terminal supports it.
func NewReporter(out io.Writer, colour bool) *Reporter {
	r := &Reporter{
		out:    out,
		warn:   color.New(color.FgYellow),
		header: color.New(color.Bold),
	}
	if !colour {
		r.warn.DisableColor()
		r.header.DisableColor()
	}
	return r
}

// Processing announces the next image
func (r *Reporter) Processing(path string) {
	fmt.Fprintf(r.out, "\n")
	r.header.Fprintf(r.out, "Processing image: %s\n", path)
}

// Detection prints one detection
func (r *Reporter) Detection(name string, res detect.Result) {
	fmt.Fprintf(r.out, "%s @ (%d %d %d %d) %.3f\n",
		name, res.Box.Left, res.Box.Top, res.Box.Right, res.Box.Bottom, res.Prop)
}

// Timing prints the wall-clock bounds of an inference
func (r *Reporter) Timing(start, end time.Time) {
	startMs, endMs := start.UnixMilli(), end.UnixMilli()
	fmt.Fprintf(r.out, "start time: %d ms\n", startMs)
	fmt.Fprintf(r.out, "end time: %d ms\n", endMs)
	fmt.Fprintf(r.out, "Inference time: %d ms\n", endMs-startMs)
}

// Failure prints a per-image or fatal failure
func (r *Reporter) Failure(format string, args ...interface{}) {
	r.warn.Fprintf(r.out, format+"\n", args...)
}

// Summary prints the totals. Nothing is printed when no image succeeded.
func (r *Reporter) Summary(stats Stats) {
	avg, ok := stats.Average()
	if !ok {
		return
	}
	fmt.Fprintf(r.out, "\n")
	r.header.Fprintf(r.out, "Total images processed: %d\n", stats.Processed)
	fmt.Fprintf(r.out, "Average inference time: %.2f ms\n", avg)
}
