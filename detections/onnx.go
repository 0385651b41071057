package detections

import (
	"context"
	"fmt"
	"os"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/mri-vision/tumor-detection-service/models"
)

type ONNXConfig struct {
	ModelPath   string
	InputName   string
	OutputName  string
	InputWidth  int
	InputHeight int
	NumClasses  int
	NumAnchors  int
	PoolSize    int
	GPUDeviceID int
}

// NewONNXOpener returns an Opener that builds a pool of onnxruntime sessions on the
// requested device. The runtime environment must already be initialized.
func NewONNXOpener(cfg ONNXConfig) Opener {
	return func(device Device) (Model, error) {
		return openONNX(cfg, device)
	}
}

type onnxModel struct {
	pool       *SessionPool
	numClasses int
	numAnchors int
}

func openONNX(cfg ONNXConfig, device Device) (*onnxModel, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", cfg.ModelPath, err)
	}
	if !ort.IsInitialized() {
		return nil, fmt.Errorf("onnxruntime environment is not initialized")
	}

	factory := func() (*ModelSession, error) {
		return newONNXSession(cfg, device)
	}

	pool, err := NewSessionPool(factory, PoolOptions{Size: cfg.PoolSize})
	if err != nil {
		return nil, err
	}

	return &onnxModel{
		pool:       pool,
		numClasses: cfg.NumClasses,
		numAnchors: cfg.NumAnchors,
	}, nil
}

func newONNXSession(cfg ONNXConfig, device Device) (*ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(runtime.NumCPU())

	if device == DeviceCUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("error creating CUDA provider options: %w", err)
		}
		defer cudaOptions.Destroy()

		err = cudaOptions.Update(map[string]string{
			"device_id": fmt.Sprintf("%d", cfg.GPUDeviceID),
		})
		if err != nil {
			return nil, fmt.Errorf("error configuring CUDA provider: %w", err)
		}

		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return nil, fmt.Errorf("error enabling CUDA provider: %w", err)
		}
	}

	inputShape := ort.NewShape(1, InputChannels, int64(cfg.InputHeight), int64(cfg.InputWidth))
	outputShape := ort.NewShape(1, int64(4+cfg.NumClasses), int64(cfg.NumAnchors))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return NewModelSession(session, inputTensor.GetData(), outputTensor.GetData(), inputTensor, outputTensor), nil
}

// ConcurrentSafe is true because every forward pass owns a pooled session.
func (m *onnxModel) ConcurrentSafe() bool {
	return true
}

func (m *onnxModel) Infer(ctx context.Context, tensor *models.Tensor) ([]models.RawCandidate, error) {
	session, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, inferenceError("no inference session available", err)
	}

	if len(tensor.Data) != len(session.input) {
		m.pool.Release(session)
		panic(fmt.Sprintf("detections: tensor has %d values, session input holds %d", len(tensor.Data), len(session.input)))
	}

	copy(session.input, tensor.Data)

	if err := session.runner.Run(); err != nil {
		m.pool.Discard(session, err)
		return nil, inferenceError("forward pass failed", err)
	}

	candidates, err := DecodeOutput(session.output, m.numClasses, m.numAnchors)
	m.pool.Release(session)
	if err != nil {
		return nil, inferenceError("unexpected model output", err)
	}

	return candidates, nil
}

func (m *onnxModel) Metrics() PoolMetrics {
	return m.pool.GetMetrics()
}

func (m *onnxModel) Destroy() {
	m.pool.Destroy()
}
