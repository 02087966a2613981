// Package config loads detector settings from defaults, an optional YAML
// file, a .env file and DETECT_* environment variables. Command-line flags
// are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/emergingrobotics/npudetect/pkg/detect"
	"github.com/emergingrobotics/npudetect/pkg/imagebuf"
	"github.com/emergingrobotics/npudetect/pkg/transform"
)

// EnvPrefix prefixes every environment variable read by LoadEnv
const EnvPrefix = "DETECT_"

// ErrInvalid is wrapped by every Validate failure
var ErrInvalid = errors.New("invalid configuration")

// Config holds the program configuration
type Config struct {
	ModelPath string `yaml:"model"`
	ImageDir  string `yaml:"image_dir"`

	LabelsPath    string  `yaml:"labels"`
	OnnxLibrary   string  `yaml:"onnx_library"`
	InputSize     int     `yaml:"input_size"`
	Threads       int     `yaml:"threads"`
	BoxThreshold  float32 `yaml:"box_threshold"`
	NMSThreshold  float32 `yaml:"nms_threshold"`
	Allocator     string  `yaml:"allocator"`
	DMAHeapPath   string  `yaml:"dma_heap"`
	SkipAnnotated bool    `yaml:"skip_annotated"`

	// Dequantisation of uint8/int8 model outputs; unused for float outputs
	QuantScale     float32 `yaml:"quant_scale"`
	QuantZeroPoint float32 `yaml:"quant_zero_point"`

	JSONReport string `yaml:"json_report"`
	Database   string `yaml:"database"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
	DevMode  bool   `yaml:"dev_mode"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		InputSize:    detect.DefaultInputSize,
		BoxThreshold: transform.DefaultBoxThreshold,
		NMSThreshold: transform.DefaultNMSThreshold,
		Allocator:    imagebuf.AllocatorHeap,
		DMAHeapPath:  imagebuf.DefaultDMAHeapPath,
		LogLevel:     "info",
	}
}

// LoadFile overlays the YAML file at path onto c. Keys missing from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv loads a .env file into the process environment. A missing
// file is not an error. Variables already set are not overridden.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// LoadEnv overlays DETECT_* variables from the process environment
func (c *Config) LoadEnv() error {
	return c.ApplyEnv(os.LookupEnv)
}

// ApplyEnv overlays DETECT_* variables returned by lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	strs := map[string]*string{
		"MODEL":        &c.ModelPath,
		"IMAGE_DIR":    &c.ImageDir,
		"LABELS":       &c.LabelsPath,
		"ONNX_LIBRARY": &c.OnnxLibrary,
		"ALLOCATOR":    &c.Allocator,
		"DMA_HEAP":     &c.DMAHeapPath,
		"JSON_REPORT":  &c.JSONReport,
		"DATABASE":     &c.Database,
		"LOG_LEVEL":    &c.LogLevel,
		"LOG_FILE":     &c.LogFile,
	}
	for key, dst := range strs {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"INPUT_SIZE": &c.InputSize,
		"THREADS":    &c.Threads,
	}
	for key, dst := range ints {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	floats := map[string]*float32{
		"BOX_THRESHOLD":    &c.BoxThreshold,
		"NMS_THRESHOLD":    &c.NMSThreshold,
		"QUANT_SCALE":      &c.QuantScale,
		"QUANT_ZERO_POINT": &c.QuantZeroPoint,
	}
	for key, dst := range floats {
		if v, ok := get(key); ok {
			f, err := strconv.ParseFloat(v, 32)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = float32(f)
		}
	}

	bools := map[string]*bool{
		"SKIP_ANNOTATED": &c.SkipAnnotated,
		"DEV_MODE":       &c.DevMode,
	}
	for key, dst := range bools {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
	}

	return nil
}

// Validate checks that the configuration can be used for a run
func (c *Config) Validate() error {
	if c.InputSize <= 0 {
		return fmt.Errorf("%w: input size must be positive, got %d", ErrInvalid, c.InputSize)
	}
	if c.Threads < 0 {
		return fmt.Errorf("%w: threads cannot be negative", ErrInvalid)
	}
	if c.BoxThreshold < 0 || c.BoxThreshold > 1 {
		return fmt.Errorf("%w: box threshold %.2f outside [0,1]", ErrInvalid, c.BoxThreshold)
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		return fmt.Errorf("%w: nms threshold %.2f outside [0,1]", ErrInvalid, c.NMSThreshold)
	}
	if c.QuantScale < 0 {
		return fmt.Errorf("%w: quant scale cannot be negative, got %g", ErrInvalid, c.QuantScale)
	}
	switch strings.ToLower(c.Allocator) {
	case imagebuf.AllocatorHeap, imagebuf.AllocatorDMA:
	default:
		return fmt.Errorf("%w: allocator must be %q or %q, got %q",
			ErrInvalid, imagebuf.AllocatorHeap, imagebuf.AllocatorDMA, c.Allocator)
	}
	return nil
}

// DetectorOptions returns the detector options for this configuration
func (c *Config) DetectorOptions() detect.Options {
	opts := detect.DefaultOptions()
	opts.SharedLibraryPath = c.OnnxLibrary
	opts.InputSize = c.InputSize
	opts.IntraOpThreads = c.Threads
	opts.PostProcess.BoxThreshold = c.BoxThreshold
	opts.PostProcess.NMSThreshold = c.NMSThreshold
	opts.Quant = transform.QuantInfo{ZeroPoint: c.QuantZeroPoint, Scale: c.QuantScale}
	return opts
}

// Labels loads the configured label file, or the COCO labels if none is set
func (c *Config) Labels() (*transform.Labels, error) {
	if c.LabelsPath == "" {
		return transform.DefaultLabels(), nil
	}
	return transform.LoadLabels(c.LabelsPath)
}
