//go:build unit

package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emergingrobotics/npudetect/pkg/detect"
	"github.com/emergingrobotics/npudetect/pkg/store"
	"github.com/emergingrobotics/npudetect/pkg/transform"
	"github.com/emergingrobotics/npudetect/testutil"
)

// stepClock advances by step on every call
func stepClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := time.UnixMilli(1_700_000_000_000)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

type fixture struct {
	dir      string
	detector *testutil.FakeDetector
	alloc    *testutil.RecordingAllocator
	out      *bytes.Buffer
	session  *Session
}

func newFixture(t *testing.T, results ...detect.Result) *fixture {
	t.Helper()
	det := testutil.NewFakeDetector(results...)
	return &fixture{
		dir:      t.TempDir(),
		detector: det,
		alloc:    &testutil.RecordingAllocator{},
		out:      &bytes.Buffer{},
		session:  NewSession(det, transform.DefaultLabels()),
	}
}

func (f *fixture) runner(cfg Config) *Runner {
	if cfg.ImageDir == "" {
		cfg.ImageDir = f.dir
	}
	cfg.Allocator = f.alloc
	cfg.Reporter = NewReporter(f.out, false)
	if cfg.Now == nil {
		cfg.Now = stepClock(7 * time.Millisecond)
	}
	return New(f.session, cfg)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var catResult = detect.Result{ClassID: 15, Prop: 0.9, Box: detect.Box{Left: 4, Top: 24, Right: 40, Bottom: 44}}

func TestRunProcessesImages(t *testing.T) {
	f := newFixture(t, catResult)
	testutil.WriteTestImage(t, f.dir, "a.png", 64, 48)
	testutil.WriteTestImage(t, f.dir, "b.JPG", 64, 48)
	os.WriteFile(filepath.Join(f.dir, "readme.txt"), []byte("not an image"), 0644)

	report, err := f.runner(Config{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Processed != 2 || report.Failed != 0 {
		t.Errorf("processed/failed = %d/%d, expected 2/0", report.Processed, report.Failed)
	}
	if f.detector.DetectCount() != 2 {
		t.Errorf("DetectCount = %d, expected 2", f.detector.DetectCount())
	}
	if w, h := f.detector.LastSize(); w != 64 || h != 48 {
		t.Errorf("detector saw %dx%d, expected 64x48", w, h)
	}
	for _, name := range []string{"out_a.png", "out_b.JPG"} {
		if !exists(filepath.Join(f.dir, name)) {
			t.Errorf("expected %s to be written", name)
		}
	}
	if exists(filepath.Join(f.dir, "out_readme.txt")) {
		t.Error("non-image should not be processed")
	}
	if f.alloc.Outstanding() != 0 {
		t.Errorf("%d buffers not released", f.alloc.Outstanding())
	}
	if f.alloc.Frees() != 2 {
		t.Errorf("Frees = %d, expected 2", f.alloc.Frees())
	}
	if f.detector.CloseCount() != 1 {
		t.Errorf("CloseCount = %d, expected 1", f.detector.CloseCount())
	}

	out := f.out.String()
	for _, want := range []string{
		"Processing image: " + filepath.Join(f.dir, "a.png"),
		"cat @ (4 24 40 44) 0.900",
		"Inference time: 7 ms",
		"Total images processed: 2",
		"Average inference time: 7.00 ms",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "cat @") != 2 {
		t.Errorf("expected one detection line per image:\n%s", out)
	}
}

func TestRunDrawsDetections(t *testing.T) {
	f := newFixture(t, catResult)
	testutil.WriteTestImage(t, f.dir, "a.png", 64, 48)

	if _, err := f.runner(Config{}).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	img := testutil.ReadTestImage(t, filepath.Join(f.dir, "out_a.png"))
	r, g, b, _ := img.At(catResult.Box.Left, catResult.Box.Top).RGBA()
	if r>>8 != 0 || g>>8 != 0 || b>>8 != 255 {
		t.Errorf("box corner = (%d,%d,%d), expected blue", r>>8, g>>8, b>>8)
	}
}

func TestRunLoadFailureContinues(t *testing.T) {
	f := newFixture(t, catResult)
	os.WriteFile(filepath.Join(f.dir, "a_broken.jpg"), []byte("garbage"), 0644)
	testutil.WriteTestImage(t, f.dir, "b.png", 32, 32)

	report, err := f.runner(Config{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if f.detector.DetectCount() != 1 {
		t.Errorf("DetectCount = %d, expected 1", f.detector.DetectCount())
	}
	if exists(filepath.Join(f.dir, "out_a_broken.jpg")) {
		t.Error("no output expected for unreadable image")
	}
	if !exists(filepath.Join(f.dir, "out_b.png")) {
		t.Error("loop should continue after a load failure")
	}
	if report.Failed != 1 || report.Processed != 1 {
		t.Errorf("processed/failed = %d/%d, expected 1/1", report.Processed, report.Failed)
	}
	if report.Images[0].Status != store.StatusLoadFailed {
		t.Errorf("status = %q, expected %q", report.Images[0].Status, store.StatusLoadFailed)
	}
	if !strings.Contains(f.out.String(), "read image fail!") {
		t.Errorf("expected read failure line:\n%s", f.out.String())
	}
}

func TestRunInferenceFailureReleasesBuffer(t *testing.T) {
	f := newFixture(t, catResult)
	testutil.WriteTestImage(t, f.dir, "a.png", 40, 30)
	testutil.WriteTestImage(t, f.dir, "b.png", 50, 30)
	f.detector.FailForWidth(40)

	report, err := f.runner(Config{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if exists(filepath.Join(f.dir, "out_a.png")) {
		t.Error("no output expected after inference failure")
	}
	if !exists(filepath.Join(f.dir, "out_b.png")) {
		t.Error("expected output for second image")
	}
	if f.alloc.Allocs() != 2 || f.alloc.Outstanding() != 0 {
		t.Errorf("allocs=%d outstanding=%d, expected 2/0", f.alloc.Allocs(), f.alloc.Outstanding())
	}
	if report.Images[0].Status != store.StatusInferFailed {
		t.Errorf("status = %q, expected %q", report.Images[0].Status, store.StatusInferFailed)
	}
	if !strings.Contains(f.out.String(), "Total images processed: 1") {
		t.Errorf("expected summary for one image:\n%s", f.out.String())
	}
}

func TestRunNoSuccessNoSummary(t *testing.T) {
	f := newFixture(t)
	testutil.WriteTestImage(t, f.dir, "a.png", 16, 16)
	f.detector.SetFailOnInfer(true)

	report, err := f.runner(Config{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.AverageInferenceMs != nil {
		t.Errorf("expected no average, got %v", *report.AverageInferenceMs)
	}
	if strings.Contains(f.out.String(), "Average inference time") {
		t.Errorf("summary should be omitted:\n%s", f.out.String())
	}
}

func TestRunEmptyDirectory(t *testing.T) {
	f := newFixture(t)

	report, err := f.runner(Config{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Processed != 0 || len(report.Images) != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	if f.out.Len() != 0 {
		t.Errorf("expected no output, got %q", f.out.String())
	}
	if f.detector.CloseCount() != 1 {
		t.Errorf("CloseCount = %d, expected 1", f.detector.CloseCount())
	}
}

func TestRunOpenDirFailure(t *testing.T) {
	f := newFixture(t)

	_, err := f.runner(Config{ImageDir: filepath.Join(f.dir, "missing")}).Run(context.Background())
	if !errors.Is(err, ErrOpenDir) {
		t.Fatalf("expected ErrOpenDir, got %v", err)
	}
	if ExitCode(err) != ExitOpenDir {
		t.Errorf("ExitCode = %d, expected %d", ExitCode(err), ExitOpenDir)
	}
	if f.detector.CloseCount() != 1 {
		t.Errorf("teardown ran %d times, expected 1", f.detector.CloseCount())
	}
	if f.detector.DetectCount() != 0 {
		t.Error("no inference expected")
	}
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t, catResult)
	testutil.WriteTestImage(t, f.dir, "a.png", 16, 16)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.runner(Config{}).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ExitCode(err) != ExitInterrupted {
		t.Errorf("ExitCode = %d, expected %d", ExitCode(err), ExitInterrupted)
	}
	if !report.Interrupted {
		t.Error("report should be marked interrupted")
	}
	if f.detector.DetectCount() != 0 {
		t.Error("no inference expected after cancellation")
	}
	if f.detector.CloseCount() != 1 {
		t.Errorf("CloseCount = %d, expected 1", f.detector.CloseCount())
	}
}

func TestTeardownRunsOnce(t *testing.T) {
	f := newFixture(t)

	if _, err := f.runner(Config{}).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	f.session.Teardown()
	f.session.Teardown()

	if f.detector.CloseCount() != 1 {
		t.Errorf("CloseCount = %d, expected 1", f.detector.CloseCount())
	}
	if f.session.Label(0) != transform.UnknownLabel {
		t.Errorf("labels should be dropped after teardown, got %q", f.session.Label(0))
	}
}

func TestRunWriteFailureNotFatal(t *testing.T) {
	f := newFixture(t, catResult)
	testutil.WriteTestImage(t, f.dir, "a.png", 32, 32)
	testutil.WriteTestImage(t, f.dir, "b.png", 32, 32)
	// A directory in the way makes the output unwritable
	os.Mkdir(filepath.Join(f.dir, "out_a.png"), 0755)

	report, err := f.runner(Config{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Processed != 2 {
		t.Errorf("Processed = %d, expected 2", report.Processed)
	}
	if report.Images[0].Status != store.StatusWriteFailed {
		t.Errorf("status = %q, expected %q", report.Images[0].Status, store.StatusWriteFailed)
	}
	if !exists(filepath.Join(f.dir, "out_b.png")) {
		t.Error("expected second output")
	}
	if f.alloc.Outstanding() != 0 {
		t.Errorf("%d buffers not released", f.alloc.Outstanding())
	}
}

func TestRunJSONReport(t *testing.T) {
	f := newFixture(t, catResult)
	testutil.WriteTestImage(t, f.dir, "a.png", 64, 48)
	reportPath := filepath.Join(t.TempDir(), "report.json")

	if _, err := f.runner(Config{JSONReport: reportPath, ModelPath: "yolo11n.onnx"}).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	var got Report
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	if got.RunID == "" || got.Model != "yolo11n.onnx" || got.Processed != 1 {
		t.Errorf("unexpected report: %+v", got)
	}
	if len(got.Images) != 1 || len(got.Images[0].Detections) != 1 {
		t.Fatalf("unexpected images: %+v", got.Images)
	}
	if d := got.Images[0].Detections[0]; d.Class != "cat" || d.Box != catResult.Box {
		t.Errorf("unexpected detection: %+v", d)
	}
	if got.AverageInferenceMs == nil || *got.AverageInferenceMs != 7 {
		t.Errorf("AverageInferenceMs = %v, expected 7", got.AverageInferenceMs)
	}
}

type fakeRecorder struct {
	begun    []store.Run
	images   []store.Image
	finished []store.Run
	failed   bool
}

func (r *fakeRecorder) BeginRun(ctx context.Context, run store.Run) error {
	if r.failed {
		return errors.New("database locked")
	}
	r.begun = append(r.begun, run)
	return nil
}

func (r *fakeRecorder) RecordImage(ctx context.Context, runID string, img store.Image) error {
	r.images = append(r.images, img)
	return nil
}

func (r *fakeRecorder) FinishRun(ctx context.Context, run store.Run) error {
	r.finished = append(r.finished, run)
	return nil
}

func TestRunRecordsHistory(t *testing.T) {
	f := newFixture(t, catResult)
	testutil.WriteTestImage(t, f.dir, "a.png", 64, 48)
	os.WriteFile(filepath.Join(f.dir, "b.png"), []byte("garbage"), 0644)
	rec := &fakeRecorder{}

	report, err := f.runner(Config{Recorder: rec}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(rec.begun) != 1 || rec.begun[0].ID != report.RunID || rec.begun[0].Allocator != "recording" {
		t.Errorf("unexpected BeginRun calls: %+v", rec.begun)
	}
	if len(rec.images) != 2 {
		t.Fatalf("recorded %d images, expected 2", len(rec.images))
	}
	if rec.images[0].Status != store.StatusOK || len(rec.images[0].Detections) != 1 {
		t.Errorf("unexpected first image: %+v", rec.images[0])
	}
	if rec.images[1].Status != store.StatusLoadFailed {
		t.Errorf("unexpected second image: %+v", rec.images[1])
	}
	if len(rec.finished) != 1 || rec.finished[0].Processed != 1 || rec.finished[0].Failed != 1 {
		t.Errorf("unexpected FinishRun calls: %+v", rec.finished)
	}
}

func TestRunRecorderFailureDisablesHistory(t *testing.T) {
	f := newFixture(t, catResult)
	testutil.WriteTestImage(t, f.dir, "a.png", 16, 16)
	rec := &fakeRecorder{failed: true}

	if _, err := f.runner(Config{Recorder: rec}).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(rec.images) != 0 || len(rec.finished) != 0 {
		t.Error("history should be disabled after BeginRun fails")
	}
}

func TestRunWithStore(t *testing.T) {
	f := newFixture(t, catResult)
	testutil.WriteTestImage(t, f.dir, "a.png", 64, 48)

	db, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer db.Close()

	report, err := f.runner(Config{Recorder: db}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	run, err := db.GetRun(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Processed != 1 || run.AvgInferenceMs != 7 {
		t.Errorf("unexpected stored run: %+v", run)
	}
	images, err := db.ListImages(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("ListImages failed: %v", err)
	}
	if len(images) != 1 || images[0].Detections[0].Label != "cat" {
		t.Errorf("unexpected stored images: %+v", images)
	}
}
