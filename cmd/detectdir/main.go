// Package main runs YOLO object detection over every image in a directory.
//
// Each image is read, passed through the model, printed, annotated with
// boxes and labels, and written back as out_<name> in the same directory.
// Timing statistics are printed at the end.
//
// Usage:
//
//	detectdir [options] <model_path> <image_dir>
//
// Settings are layered: built-in defaults, then -config (YAML), then the
// .env file, then DETECT_* environment variables, then command-line flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/emergingrobotics/npudetect/pkg/config"
	"github.com/emergingrobotics/npudetect/pkg/detect"
	"github.com/emergingrobotics/npudetect/pkg/imagebuf"
	"github.com/emergingrobotics/npudetect/pkg/logging"
	"github.com/emergingrobotics/npudetect/pkg/runner"
	"github.com/emergingrobotics/npudetect/pkg/store"
)

func main() {
	os.Exit(run(os.Args[0], os.Args[1:], os.Stdout, os.Stderr))
}

// Options is the parsed command line
type Options struct {
	Config  config.Config
	NoColor bool
}

func parseArgs(prog string, args []string, stderr io.Writer) (Options, error) {
	d := config.Default()
	fs := flag.NewFlagSet(prog, flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "YAML configuration file")
	envPath := fs.String("env", ".env", "dotenv file loaded before reading DETECT_* variables")
	noColor := fs.Bool("no-color", false, "Disable coloured output")

	labels := fs.String("labels", "", "Class label file, one name per line (default: COCO)")
	onnxLib := fs.String("onnx-lib", "", "Path to the onnxruntime shared library")
	inputSize := fs.Int("input-size", d.InputSize, "Model input size for dynamic-shape models")
	threads := fs.Int("threads", d.Threads, "Inference threads (0 = all CPUs)")
	boxThreshold := fs.Float64("box-threshold", float64(d.BoxThreshold), "Minimum detection confidence")
	nmsThreshold := fs.Float64("nms-threshold", float64(d.NMSThreshold), "IoU threshold for non-maximum suppression")
	quantScale := fs.Float64("quant-scale", float64(d.QuantScale), "Output scale for uint8/int8 models")
	quantZeroPoint := fs.Float64("quant-zero-point", float64(d.QuantZeroPoint), "Output zero point for uint8/int8 models")
	allocator := fs.String("allocator", d.Allocator, "Image memory allocator: heap or dma")
	dmaHeap := fs.String("dma-heap", d.DMAHeapPath, "DMA heap device used by the dma allocator")
	skipAnnotated := fs.Bool("skip-annotated", d.SkipAnnotated, "Skip inputs named out_* left by earlier runs")
	jsonReport := fs.String("json", "", "Write a JSON report to this file")
	database := fs.String("db", "", "Record run history in this SQLite database")
	logLevel := fs.String("log-level", d.LogLevel, "Log level: debug, info, warn, error")
	logFile := fs.String("log-file", "", "Also write JSON logs to this rotated file")
	dev := fs.Bool("dev", d.DevMode, "Human-readable log output")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Detect objects in every image of a directory\n\n")
		fmt.Fprintf(stderr, "Usage: %s [options] <model_path> <image_dir>\n\n", prog)
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return Options{}, fmt.Errorf("%w: %w", runner.ErrUsage, err)
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return Options{}, fmt.Errorf("%w: expected 2 arguments, got %d", runner.ErrUsage, fs.NArg())
	}

	cfg := config.Default()
	if err := config.LoadDotEnv(*envPath); err != nil {
		return Options{}, fmt.Errorf("%w: %w", runner.ErrConfig, err)
	}
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			return Options{}, fmt.Errorf("%w: %w", runner.ErrConfig, err)
		}
	}
	if err := cfg.LoadEnv(); err != nil {
		return Options{}, fmt.Errorf("%w: %w", runner.ErrConfig, err)
	}

	// Only flags given on the command line override file and environment
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "labels":
			cfg.LabelsPath = *labels
		case "onnx-lib":
			cfg.OnnxLibrary = *onnxLib
		case "input-size":
			cfg.InputSize = *inputSize
		case "threads":
			cfg.Threads = *threads
		case "box-threshold":
			cfg.BoxThreshold = float32(*boxThreshold)
		case "nms-threshold":
			cfg.NMSThreshold = float32(*nmsThreshold)
		case "quant-scale":
			cfg.QuantScale = float32(*quantScale)
		case "quant-zero-point":
			cfg.QuantZeroPoint = float32(*quantZeroPoint)
		case "allocator":
			cfg.Allocator = *allocator
		case "dma-heap":
			cfg.DMAHeapPath = *dmaHeap
		case "skip-annotated":
			cfg.SkipAnnotated = *skipAnnotated
		case "json":
			cfg.JSONReport = *jsonReport
		case "db":
			cfg.Database = *database
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-file":
			cfg.LogFile = *logFile
		case "dev":
			cfg.DevMode = *dev
		}
	})

	cfg.ModelPath = fs.Arg(0)
	cfg.ImageDir = fs.Arg(1)

	if err := cfg.Validate(); err != nil {
		return Options{}, fmt.Errorf("%w: %w", runner.ErrConfig, err)
	}
	return Options{Config: cfg, NoColor: *noColor}, nil
}

// run executes the program and returns the process exit code
func run(prog string, args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(prog, args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return runner.ExitCode(err)
	}
	cfg := opts.Config

	logger, err := logging.New(logging.Options{
		Level:       cfg.LogLevel,
		Development: cfg.DevMode,
		File:        cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return runner.ExitConfig
	}
	defer logger.Sync()

	reporter := runner.NewReporter(stdout, !opts.NoColor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = detectDir(ctx, cfg, reporter, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run failed", zap.Error(err))
	}
	return runner.ExitCode(err)
}

func detectDir(ctx context.Context, cfg config.Config, reporter *runner.Reporter, logger *zap.Logger) error {
	alloc, err := imagebuf.NewAllocator(cfg.Allocator, cfg.DMAHeapPath)
	if err != nil {
		return fmt.Errorf("%w: %w", runner.ErrConfig, err)
	}

	labels, err := cfg.Labels()
	if err != nil {
		return fmt.Errorf("%w: %w", runner.ErrConfig, err)
	}

	var recorder runner.Recorder
	if cfg.Database != "" {
		db, err := store.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("%w: %w", runner.ErrConfig, err)
		}
		defer db.Close()
		recorder = db
	}

	detOpts := cfg.DetectorOptions()
	if cfg.LabelsPath != "" {
		detOpts.PostProcess.NumClasses = labels.Len()
	}
	detector, err := detect.Open(cfg.ModelPath, detOpts)
	if err != nil {
		reporter.Failure("init model fail! model_path=%s", cfg.ModelPath)
		return fmt.Errorf("%w: %w", runner.ErrModelInit, err)
	}
	logger.Info("model loaded",
		zap.String("model", cfg.ModelPath),
		zap.Int("input_size", detector.InputSize()),
		zap.Int("classes", detector.NumClasses()))

	session := runner.NewSession(detector, labels)
	defer session.Teardown()

	r := runner.New(session, runner.Config{
		ModelPath:     cfg.ModelPath,
		ImageDir:      cfg.ImageDir,
		SkipAnnotated: cfg.SkipAnnotated,
		JSONReport:    cfg.JSONReport,
		Allocator:     alloc,
		Reporter:      reporter,
		Logger:        logger,
		Recorder:      recorder,
	})
	_, err = r.Run(ctx)
	return err
}
