// Package runner drives object detection over a directory of images.
//
// For every image file it loads the pixels into allocator memory, runs the
// session detector, prints the detections, draws them, and writes the
// annotated copy next to the input. Per-image failures are reported and
// skipped; only startup failures end the run.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emergingrobotics/npudetect/pkg/annotate"
	"github.com/emergingrobotics/npudetect/pkg/detect"
	"github.com/emergingrobotics/npudetect/pkg/imagebuf"
	"github.com/emergingrobotics/npudetect/pkg/store"
)

// Recorder persists run history. *store.Store implements it.
type Recorder interface {
	BeginRun(ctx context.Context, run store.Run) error
	RecordImage(ctx context.Context, runID string, img store.Image) error
	FinishRun(ctx context.Context, run store.Run) error
}

// Config holds the collaborators and options for a Runner
type Config struct {
	ModelPath     string
	ImageDir      string
	SkipAnnotated bool
	// JSONReport is written at the end of the run when non-empty
	JSONReport string

	Allocator imagebuf.Allocator
	Reporter  *Reporter
	Logger    *zap.Logger
	// Recorder is optional
	Recorder Recorder
	// Now defaults to time.Now
	Now func() time.Time
}

// DetectionReport is one detection in the JSON report
type DetectionReport struct {
	Class      string     `json:"class"`
	ClassID    int        `json:"class_id"`
	Confidence float32    `json:"confidence"`
	Box        detect.Box `json:"box"`
}

// ImageReport is the outcome for one input image
type ImageReport struct {
	Path        string            `json:"path"`
	Output      string            `json:"output,omitempty"`
	Status      string            `json:"status"`
	InferenceMs int64             `json:"inference_ms"`
	Error       string            `json:"error,omitempty"`
	Detections  []DetectionReport `json:"detections"`
}

// Report summarises a run
type Report struct {
	RunID              string        `json:"run_id"`
	Model              string        `json:"model"`
	ImageDir           string        `json:"image_dir"`
	StartedAt          time.Time     `json:"started_at"`
	FinishedAt         time.Time     `json:"finished_at"`
	Images             []ImageReport `json:"images"`
	Processed          int           `json:"processed"`
	Failed             int           `json:"failed"`
	TotalInferenceMs   int64         `json:"total_inference_ms"`
	AverageInferenceMs *float64      `json:"average_inference_ms,omitempty"`
	Interrupted        bool          `json:"interrupted"`

	Stats Stats `json:"-"`
}

// Runner processes one directory with one session
type Runner struct {
	session *Session
	cfg     Config
	logger  *zap.Logger
}

// New creates a runner. The runner tears the session down when Run returns.
func New(session *Session, cfg Config) *Runner {
	if cfg.Allocator == nil {
		cfg.Allocator = imagebuf.HeapAllocator{}
	}
	if cfg.Reporter == nil {
		cfg.Reporter = NewReporter(os.Stdout, true)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{session: session, cfg: cfg, logger: cfg.Logger}
}

// Run processes every image in the directory. It returns an error wrapping
// ErrOpenDir if the directory cannot be listed and context.Canceled if ctx
// is cancelled between images. The session is torn down exactly once on
// every path.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	defer func() {
		if err := r.session.Teardown(); err != nil {
			r.logger.Warn("releasing detector failed", zap.Error(err))
		}
	}()

	report := &Report{
		RunID:     uuid.NewString(),
		Model:     r.cfg.ModelPath,
		ImageDir:  r.cfg.ImageDir,
		StartedAt: r.cfg.Now(),
		Images:    []ImageReport{},
	}
	r.logger = r.logger.With(zap.String("run_id", report.RunID))

	entries, err := ScanDir(r.cfg.ImageDir, ScanOptions{SkipAnnotated: r.cfg.SkipAnnotated}, r.logger)
	if err != nil {
		r.cfg.Reporter.Failure("Failed to open directory: %s", r.cfg.ImageDir)
		r.logger.Error("opening image directory", zap.Error(err))
		return nil, err
	}
	r.logger.Info("scanned image directory",
		zap.String("dir", r.cfg.ImageDir),
		zap.Int("images", len(entries)),
		zap.String("allocator", r.cfg.Allocator.Name()))

	r.beginRecord(ctx, report)

	for _, entry := range entries {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}

		img, stop := r.processImage(ctx, entry, &report.Stats)
		if stop {
			report.Interrupted = true
			break
		}
		report.Images = append(report.Images, img)
		r.recordImage(ctx, report.RunID, img)
	}

	report.FinishedAt = r.cfg.Now()
	report.Processed = report.Stats.Processed
	report.Failed = report.Stats.Failed
	report.TotalInferenceMs = report.Stats.TotalMs
	if avg, ok := report.Stats.Average(); ok {
		report.AverageInferenceMs = &avg
	}

	r.cfg.Reporter.Summary(report.Stats)
	r.finishRecord(report)

	if r.cfg.JSONReport != "" {
		if err := WriteReport(r.cfg.JSONReport, report); err != nil {
			r.logger.Error("writing JSON report", zap.String("path", r.cfg.JSONReport), zap.Error(err))
		}
	}

	r.logger.Info("run finished",
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed),
		zap.Bool("interrupted", report.Interrupted))

	if report.Interrupted {
		return report, fmt.Errorf("run interrupted: %w", context.Canceled)
	}
	return report, nil
}

// processImage runs one image through load, inference, annotation and
// write. stop is true when ctx was cancelled during inference.
func (r *Runner) processImage(ctx context.Context, entry Entry, stats *Stats) (result ImageReport, stop bool) {
	log := r.logger.With(zap.String("image", entry.Path))
	result = ImageReport{Path: entry.Path, Detections: []DetectionReport{}}

	r.cfg.Reporter.Processing(entry.Path)

	buf, err := imagebuf.Read(entry.Path, r.cfg.Allocator)
	if err != nil {
		r.cfg.Reporter.Failure("read image fail! image_path=%s", entry.Path)
		log.Warn("reading image failed", zap.Error(err))
		stats.Fail()
		result.Status = store.StatusLoadFailed
		result.Error = err.Error()
		return result, false
	}
	defer func() {
		if err := buf.Release(); err != nil {
			log.Warn("releasing image buffer", zap.Error(err))
		}
	}()

	start := r.cfg.Now()
	results, err := r.session.Detector().Detect(ctx, buf)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			log.Info("inference cancelled")
			return result, true
		}
		r.cfg.Reporter.Failure("inference fail! %v", err)
		log.Warn("inference failed", zap.Error(err))
		stats.Fail()
		result.Status = store.StatusInferFailed
		result.Error = err.Error()
		return result, false
	}
	end := r.cfg.Now()

	result.InferenceMs = end.UnixMilli() - start.UnixMilli()
	stats.Add(result.InferenceMs)
	result.Status = store.StatusOK

	for _, res := range results.Results() {
		name := r.session.Label(res.ClassID)
		r.cfg.Reporter.Detection(name, res)
		result.Detections = append(result.Detections, DetectionReport{
			Class:      name,
			ClassID:    res.ClassID,
			Confidence: res.Prop,
			Box:        res.Box,
		})
	}
	r.cfg.Reporter.Timing(start, end)

	out := OutputPath(r.cfg.ImageDir, entry.Name)
	if err := r.annotateAndWrite(buf, results, out); err != nil {
		r.cfg.Reporter.Failure("write image fail! output_path=%s", out)
		log.Warn("writing annotated image failed", zap.String("output", out), zap.Error(err))
		result.Status = store.StatusWriteFailed
		result.Error = err.Error()
		return result, false
	}
	result.Output = out

	log.Debug("image processed",
		zap.Int("detections", results.Len()),
		zap.Int64("inference_ms", result.InferenceMs))
	return result, false
}

func (r *Runner) annotateAndWrite(buf *imagebuf.Buffer, results *detect.ResultList, out string) error {
	err := buf.CPUAccess(func(img *imagebuf.RGBImage) error {
		annotate.Detections(img, results, r.session.Labels())
		return nil
	})
	if err != nil {
		return fmt.Errorf("drawing detections: %w", err)
	}
	return imagebuf.Write(out, buf)
}

func (r *Runner) beginRecord(ctx context.Context, report *Report) {
	if r.cfg.Recorder == nil {
		return
	}
	err := r.cfg.Recorder.BeginRun(ctx, store.Run{
		ID:        report.RunID,
		Model:     report.Model,
		ImageDir:  report.ImageDir,
		Allocator: r.cfg.Allocator.Name(),
		StartedAt: report.StartedAt,
	})
	if err != nil {
		r.logger.Warn("recording run start failed, history disabled", zap.Error(err))
		r.cfg.Recorder = nil
	}
}

func (r *Runner) recordImage(ctx context.Context, runID string, img ImageReport) {
	if r.cfg.Recorder == nil {
		return
	}
	rec := store.Image{
		Path:        img.Path,
		OutputPath:  img.Output,
		Status:      img.Status,
		InferenceMs: img.InferenceMs,
		Error:       img.Error,
	}
	for _, d := range img.Detections {
		rec.Detections = append(rec.Detections, store.Detection{
			ClassID: d.ClassID,
			Label:   d.Class,
			Prop:    d.Confidence,
			Left:    d.Box.Left,
			Top:     d.Box.Top,
			Right:   d.Box.Right,
			Bottom:  d.Box.Bottom,
		})
	}
	if err := r.cfg.Recorder.RecordImage(ctx, runID, rec); err != nil {
		r.logger.Warn("recording image failed", zap.String("image", img.Path), zap.Error(err))
	}
}

func (r *Runner) finishRecord(report *Report) {
	if r.cfg.Recorder == nil {
		return
	}
	run := store.Run{
		ID:         report.RunID,
		FinishedAt: report.FinishedAt,
		Processed:  report.Processed,
		Failed:     report.Failed,
	}
	if report.AverageInferenceMs != nil {
		run.AvgInferenceMs = *report.AverageInferenceMs
	}
	// The run context may already be cancelled
	if err := r.cfg.Recorder.FinishRun(context.Background(), run); err != nil {
		r.logger.Warn("recording run summary failed", zap.Error(err))
	}
}

// WriteReport writes report as indented JSON
func WriteReport(path string, report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
