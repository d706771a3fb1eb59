// Package onnx runs a YOLOv5 export in-process through ONNX Runtime.
package onnx

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"roadscan/internal/domain"
	"roadscan/internal/ports"
)

const backendName = "onnx"

// ortEnv is the process-wide ONNX Runtime environment.
var ortEnv struct {
	once sync.Once
	err  error
}

func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// Detector is not safe for concurrent use; wrap it with detector.Serialize.
type Detector struct {
	session    *ort.DynamicAdvancedSession
	modelPath  string
	inputName  string
	outputName string
	inputSize  int
}

var _ ports.Detector = (*Detector)(nil)

// Load opens modelPath. An empty libPath looks for libonnxruntime.so next to
// the model.
func Load(modelPath, libPath string) (*Detector, error) {
	if libPath == "" {
		libPath = filepath.Join(filepath.Dir(modelPath), "libonnxruntime.so")
	}
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: read model info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) == 0 {
		return nil, fmt.Errorf("onnx: expected one input and at least one output, got %d/%d", len(inputs), len(outputs))
	}
	in := inputs[0]
	if len(in.Dimensions) != 4 {
		return nil, fmt.Errorf("onnx: expected NCHW input, got %v", in.Dimensions)
	}
	size := int(in.Dimensions[3])
	if size <= 0 {
		size = DefaultInputSize
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: create session options: %w", err)
	}
	defer opts.Destroy()
	opts.SetIntraOpNumThreads(4)
	opts.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{in.Name}, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}
	return &Detector{
		session:    session,
		modelPath:  modelPath,
		inputName:  in.Name,
		outputName: outputs[0].Name,
		inputSize:  size,
	}, nil
}

func (d *Detector) Detect(ctx context.Context, img domain.Image, cfg domain.DetectorConfig) ([]domain.RawDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelFailure, err)
	}
	if img.Pixels == nil {
		return nil, fmt.Errorf("%w: no pixel data", domain.ErrModelFailure)
	}

	lb := Letterbox(img.Pixels, d.inputSize)
	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(d.inputSize), int64(d.inputSize)), lb.Tensor)
	if err != nil {
		return nil, fmt.Errorf("%w: create input tensor: %v", domain.ErrModelFailure, err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := d.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("%w: inference: %v", domain.ErrModelFailure, err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: unexpected output type %T", domain.ErrModelFailure, outputs[0])
	}
	shape := out.GetShape()
	if len(shape) != 3 || shape[2] < 6 {
		return nil, fmt.Errorf("%w: unexpected output shape %v", domain.ErrModelFailure, shape)
	}

	cands := Decode(out.GetData(), int(shape[1]), int(shape[2]), cfg.ConfidenceThreshold)
	kept := NMS(cands, cfg.OverlapThreshold, cfg.MaxDetections)
	return lb.Restore(kept, img.Width, img.Height), nil
}

func (d *Detector) Info() domain.DetectorInfo {
	return domain.DetectorInfo{Backend: backendName, Model: d.modelPath, Loaded: d.session != nil}
}

func (d *Detector) Close() error {
	if d.session == nil {
		return nil
	}
	err := d.session.Destroy()
	d.session = nil
	return err
}
