package digit

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ortEnv sync.Mutex

// ONNXOptions configures an ONNX Runtime backend.
type ONNXOptions struct {
	ModelPath string
	// SharedLibrary points at libonnxruntime; empty uses the loader default.
	SharedLibrary string
	// Width and Height override dynamic spatial input dimensions.
	Width  int
	Height int
}

// ONNXBackend runs a digit classifier exported to ONNX. The model takes a
// [batch, 1, height, width] float32 input and yields [batch, 10] scores.
type ONNXBackend struct {
	session     *ort.DynamicAdvancedSession
	inputName   string
	outputName  string
	outputShape ort.Shape
	width       int
	height      int
}

// NewONNXBackend loads the model once; the session is reused for every frame.
func NewONNXBackend(opts ONNXOptions) (*ONNXBackend, error) {
	if opts.ModelPath == "" {
		return nil, fmt.Errorf("onnx: model path is empty")
	}
	if err := initRuntime(opts.SharedLibrary); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: inspect %s: %w", opts.ModelPath, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("onnx: %s has no inputs or outputs", opts.ModelPath)
	}
	in, out := inputs[0], outputs[0]
	if len(in.Dimensions) != 4 {
		return nil, fmt.Errorf("onnx: input %q has shape %v, want [batch 1 height width]", in.Name, in.Dimensions)
	}

	b := &ONNXBackend{
		inputName:   in.Name,
		outputName:  out.Name,
		outputShape: out.Dimensions.Clone(),
		height:      int(in.Dimensions[2]),
		width:       int(in.Dimensions[3]),
	}
	if opts.Width > 0 {
		b.width = opts.Width
	}
	if opts.Height > 0 {
		b.height = opts.Height
	}
	if b.width <= 0 || b.height <= 0 {
		return nil, fmt.Errorf("onnx: input %q has dynamic size %v; set input_width and input_height", in.Name, in.Dimensions)
	}
	if n := len(b.outputShape); n == 0 || b.outputShape[n-1] != NumClasses {
		return nil, fmt.Errorf("onnx: output %q has shape %v, want [batch 10]", out.Name, out.Dimensions)
	}

	session, err := ort.NewDynamicAdvancedSession(opts.ModelPath, []string{b.inputName}, []string{b.outputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}
	b.session = session
	return b, nil
}

func initRuntime(lib string) error {
	ortEnv.Lock()
	defer ortEnv.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if lib != "" {
		ort.SetSharedLibraryPath(lib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("onnx: initialize runtime: %w", err)
	}
	return nil
}

// InputSize implements Backend.
func (b *ONNXBackend) InputSize() (int, int) {
	return b.width, b.height
}

// Infer implements Backend.
func (b *ONNXBackend) Infer(ctx context.Context, batch Batch) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := int64(batch.N)
	input, err := ort.NewTensor(ort.NewShape(n, 1, int64(batch.Height), int64(batch.Width)), batch.Data)
	if err != nil {
		return nil, fmt.Errorf("onnx: input tensor: %w", err)
	}
	defer destroy(input)

	shape := b.outputShape.Clone()
	for i := range shape {
		if shape[i] <= 0 {
			shape[i] = n
		}
	}
	shape[0] = n
	output, err := ort.NewEmptyTensor[float32](shape)
	if err != nil {
		return nil, fmt.Errorf("onnx: output tensor: %w", err)
	}
	defer destroy(output)

	if err := b.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("onnx: run: %w", err)
	}

	data := output.GetData()
	if len(data) != batch.N*NumClasses {
		return nil, fmt.Errorf("%w: %d scores for %d crops", ErrBadOutput, len(data), batch.N)
	}
	scores := make([][]float32, batch.N)
	for i := range scores {
		row := make([]float32, NumClasses)
		copy(row, data[i*NumClasses:(i+1)*NumClasses])
		scores[i] = row
	}
	return scores, nil
}

// Close releases the session and the runtime environment.
func (b *ONNXBackend) Close() error {
	if b.session != nil {
		if err := b.session.Destroy(); err != nil {
			return fmt.Errorf("onnx: destroy session: %w", err)
		}
		b.session = nil
	}
	ortEnv.Lock()
	defer ortEnv.Unlock()
	if ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}

type destroyer interface {
	Destroy() error
}

func destroy(d destroyer) {
	_ = d.Destroy()
}
