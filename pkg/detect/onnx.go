package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/emergingrobotics/npudetect/pkg/imagebuf"
	"github.com/emergingrobotics/npudetect/pkg/transform"
)

// DefaultInputSize is the square input resolution of YOLO11 exports
const DefaultInputSize = 640

// Options configures an ONNXDetector
type Options struct {
	// SharedLibraryPath is the onnxruntime shared library. Empty uses the
	// platform default search path.
	SharedLibraryPath string

	// InputSize is used when the model input has dynamic dimensions
	InputSize int

	// IntraOpThreads limits the threads onnxruntime uses; 0 uses all CPUs
	IntraOpThreads int

	PostProcess transform.PostProcessConfig

	// Quant dequantizes uint8/int8 model outputs. It must be set for
	// models with integer outputs and is ignored for float outputs.
	Quant transform.QuantInfo
}

// DefaultOptions returns options for a 640x640 COCO YOLO11 model
func DefaultOptions() Options {
	return Options{
		InputSize:   DefaultInputSize,
		PostProcess: transform.DefaultPostProcessConfig(),
	}
}

// ONNXDetector runs a YOLO detection model with ONNX Runtime
type ONNXDetector struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]

	outF32  *ort.Tensor[float32]
	outU8   *ort.Tensor[uint8]
	outI8   *ort.Tensor[int8]
	scratch []float32

	inputSize int
	anchors   int
	post      transform.PostProcessConfig
	quant     transform.QuantInfo

	inputName  string
	outputName string

	ownsEnv bool
	closed  bool
}

// Open loads the model at modelPath and prepares a session with
// preallocated input and output tensors
func Open(modelPath string, opts Options) (*ONNXDetector, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	d := &ONNXDetector{
		inputSize: opts.InputSize,
		post:      opts.PostProcess,
		quant:     opts.Quant,
	}
	if d.inputSize <= 0 {
		d.inputSize = DefaultInputSize
	}

	if !ort.IsInitialized() {
		if opts.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(opts.SharedLibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initializing onnxruntime: %w", err)
		}
		d.ownsEnv = true
	}

	if err := d.init(modelPath, opts); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *ONNXDetector) init(modelPath string, opts Options) error {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return fmt.Errorf("reading model info: %w", err)
	}
	if len(inputs) == 0 {
		return ErrNoInputs
	}
	if len(outputs) == 0 {
		return ErrNoOutputs
	}

	in, out := inputs[0], outputs[0]
	d.inputName, d.outputName = in.Name, out.Name

	if dims := in.Dimensions; len(dims) == 4 && dims[2] > 0 && dims[2] == dims[3] {
		d.inputSize = int(dims[2])
	}

	layout, err := resolveOutputLayout(out.Dimensions, d.inputSize, d.post.NumClasses)
	if err != nil {
		return err
	}
	d.anchors = layout.anchors
	d.post.NumClasses = layout.classes
	d.post.Layout = layout.layout

	d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(d.inputSize), int64(d.inputSize)))
	if err != nil {
		return fmt.Errorf("creating input tensor: %w", err)
	}

	if err := checkQuant(out.DataType, d.quant); err != nil {
		return err
	}

	outShape := layout.shape()
	var output ort.Value
	switch out.DataType {
	case ort.TensorElementDataTypeUint8:
		d.outU8, err = ort.NewEmptyTensor[uint8](outShape)
		output = d.outU8
	case ort.TensorElementDataTypeInt8:
		d.outI8, err = ort.NewEmptyTensor[int8](outShape)
		output = d.outI8
	default:
		d.outF32, err = ort.NewEmptyTensor[float32](outShape)
		output = d.outF32
	}
	if err != nil {
		return fmt.Errorf("creating output tensor: %w", err)
	}
	if d.outF32 == nil {
		d.scratch = make([]float32, outShape.FlattenedSize())
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("creating session options: %w", err)
	}
	defer options.Destroy()

	threads := opts.IntraOpThreads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if err := options.SetIntraOpNumThreads(threads); err != nil {
		return fmt.Errorf("setting intra-op threads: %w", err)
	}

	d.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{d.inputName},
		[]string{d.outputName},
		[]ort.Value{d.input},
		[]ort.Value{output},
		options,
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// checkQuant rejects integer outputs without usable dequantisation
// parameters, since raw bytes would be read as scores
func checkQuant(dataType ort.TensorElementDataType, qi transform.QuantInfo) error {
	switch dataType {
	case ort.TensorElementDataTypeUint8, ort.TensorElementDataTypeInt8:
		if qi.Scale <= 0 {
			return fmt.Errorf("%w: model output is %s", ErrQuantParams, dataType)
		}
	}
	return nil
}

// InputSize returns the square model input resolution
func (d *ONNXDetector) InputSize() int {
	return d.inputSize
}

// NumClasses returns the number of classes the model scores
func (d *ONNXDetector) NumClasses() int {
	return d.post.NumClasses
}

// Detect letterboxes img, runs the model and post-processes its output
func (d *ONNXDetector) Detect(ctx context.Context, img *imagebuf.Buffer) (*ResultList, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if img == nil {
		return nil, ErrNilImage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// This backend reads pixels on the CPU
	var lb transform.LetterboxInfo
	err := img.CPUAccess(func(view *imagebuf.RGBImage) error {
		var boxed *image.NRGBA
		boxed, lb = transform.Letterbox(view, d.inputSize)
		transform.ImageToNCHW(boxed, d.input.GetData())
		return nil
	})
	if errors.Is(err, imagebuf.ErrUnsupportedFormat) {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("running session: %w", err)
	}

	detections, err := transform.PostProcess(d.outputData(), d.anchors, lb, d.post)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutputShape, err)
	}

	return ToResultList(detections), nil
}

func (d *ONNXDetector) outputData() []float32 {
	switch {
	case d.outU8 != nil:
		transform.DequantizeBatch(d.outU8.GetData(), d.scratch, d.quant)
		return d.scratch
	case d.outI8 != nil:
		transform.DequantizeBatchInt8(d.outI8.GetData(), d.scratch, d.quant)
		return d.scratch
	default:
		return d.outF32.GetData()
	}
}

// Close destroys the session and tensors, and the onnxruntime environment
// if Open created it. Calling Close more than once is a no-op.
func (d *ONNXDetector) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if d.session != nil {
		keep(d.session.Destroy())
	}
	if d.input != nil {
		keep(d.input.Destroy())
	}
	if d.outF32 != nil {
		keep(d.outF32.Destroy())
	}
	if d.outU8 != nil {
		keep(d.outU8.Destroy())
	}
	if d.outI8 != nil {
		keep(d.outI8.Destroy())
	}
	if d.ownsEnv {
		keep(ort.DestroyEnvironment())
	}
	return firstErr
}

type outputLayout struct {
	anchors int
	classes int
	layout  transform.Layout
}

func (l outputLayout) shape() ort.Shape {
	if l.layout == transform.LayoutAnchorsFirst {
		return ort.NewShape(1, int64(l.anchors), int64(4+l.classes))
	}
	return ort.NewShape(1, int64(4+l.classes), int64(l.anchors))
}

// resolveOutputLayout works out anchors, classes and ordering of a
// [1, A, B] detection head. numClasses of 0 means "infer from the shape".
func resolveOutputLayout(dims []int64, inputSize, numClasses int) (outputLayout, error) {
	if len(dims) != 3 {
		return outputLayout{}, fmt.Errorf("%w: %v", ErrOutputShape, dims)
	}
	a, b := int(dims[1]), int(dims[2])
	expected := transform.AnchorCount(inputSize)

	switch {
	case a > 0 && b > 0 && a < b:
		if numClasses > 0 && a != 4+numClasses {
			return outputLayout{}, fmt.Errorf("%w: %v for %d classes", ErrOutputShape, dims, numClasses)
		}
		return outputLayout{anchors: b, classes: a - 4, layout: transform.LayoutChannelsFirst}, nil
	case a > 0 && b > 0:
		if numClasses > 0 && b != 4+numClasses {
			return outputLayout{}, fmt.Errorf("%w: %v for %d classes", ErrOutputShape, dims, numClasses)
		}
		return outputLayout{anchors: a, classes: b - 4, layout: transform.LayoutAnchorsFirst}, nil
	case a > 0 && a <= 4:
		return outputLayout{}, fmt.Errorf("%w: %v", ErrOutputShape, dims)
	case a > 0:
		return outputLayout{anchors: expected, classes: a - 4, layout: transform.LayoutChannelsFirst}, nil
	case b > 4:
		return outputLayout{anchors: expected, classes: b - 4, layout: transform.LayoutAnchorsFirst}, nil
	case numClasses > 0:
		return outputLayout{anchors: expected, classes: numClasses, layout: transform.LayoutChannelsFirst}, nil
	default:
		return outputLayout{}, fmt.Errorf("%w: dynamic dims %v and no class count", ErrOutputShape, dims)
	}
}
