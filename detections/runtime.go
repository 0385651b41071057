package detections

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mri-vision/tumor-detection-service/models"
)

type Device string

const (
	DeviceCUDA Device = "cuda"
	DeviceCPU  Device = "cpu"
	DeviceNone Device = "none"
)

// Model runs forward passes on a preprocessed tensor. Infer returns every candidate of the
// pass or an error, never a partial set.
type Model interface {
	Infer(ctx context.Context, tensor *models.Tensor) ([]models.RawCandidate, error)
	Destroy()
}

// ConcurrentModel marks models whose Infer may run from several goroutines at once.
// Any other Model is serialized by the Engine.
type ConcurrentModel interface {
	Model
	ConcurrentSafe() bool
}

// Opener acquires a model on the given device.
type Opener func(device Device) (Model, error)

type EngineOptions struct {
	ModelPath           string
	PreferGPU           bool
	InputWidth          int
	InputHeight         int
	ConfidenceThreshold float64
	IouThreshold        float64
}

// Engine owns the loaded model and the ModelState decided at startup. Both are read-only
// after LoadEngine returns.
type Engine struct {
	state       models.ModelState
	inputWidth  int
	inputHeight int
	model       Model
	mu          *sync.Mutex
	log         *logrus.Logger
}

// LoadEngine selects a device once: the GPU when preferred, then the CPU. The first device
// that opens wins. When every attempt fails the engine stays unloaded for its whole lifetime.
func LoadEngine(opts EngineOptions, open Opener, log *logrus.Logger) *Engine {
	engine := newEngine(opts, log)

	devices := []Device{DeviceCPU}
	if opts.PreferGPU {
		devices = []Device{DeviceCUDA, DeviceCPU}
	}

	var errs []error
	for _, device := range devices {
		model, err := acquire(open, device)
		if err != nil {
			log.WithFields(logrus.Fields{
				"device": device,
				"error":  err.Error(),
			}).Warn("Failed to acquire inference device")
			errs = append(errs, fmt.Errorf("%s: %w", device, err))
			continue
		}

		engine.model = model
		engine.state.Loaded = true
		engine.state.Device = string(device)
		if cm, ok := model.(ConcurrentModel); !ok || !cm.ConcurrentSafe() {
			engine.mu = &sync.Mutex{}
		}

		log.WithFields(logrus.Fields{
			"device":     device,
			"model_path": opts.ModelPath,
			"serialized": engine.mu != nil,
		}).Info("Detection model loaded")
		return engine
	}

	engine.state.LoadError = errors.Join(errs...).Error()
	log.WithField("error", engine.state.LoadError).Error("Detection model is not available")
	return engine
}

// NewUnavailableEngine builds an engine that rejects every request, for when loading could
// not even be attempted.
func NewUnavailableEngine(opts EngineOptions, cause error, log *logrus.Logger) *Engine {
	engine := newEngine(opts, log)
	if cause != nil {
		engine.state.LoadError = cause.Error()
	}
	log.WithField("error", engine.state.LoadError).Error("Detection model is not available")
	return engine
}

func newEngine(opts EngineOptions, log *logrus.Logger) *Engine {
	return &Engine{
		state: models.ModelState{
			Device:              string(DeviceNone),
			ModelPath:           opts.ModelPath,
			ConfidenceThreshold: opts.ConfidenceThreshold,
			IouThreshold:        opts.IouThreshold,
		},
		inputWidth:  opts.InputWidth,
		inputHeight: opts.InputHeight,
		log:         log,
	}
}

func acquire(open Opener, device Device) (model Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			model, err = nil, fmt.Errorf("panic while opening model: %v", r)
		}
	}()

	model, err = open(device)
	if err == nil && model == nil {
		err = errors.New("opener returned no model")
	}
	return model, err
}

// State returns a copy of the model state.
func (e *Engine) State() models.ModelState {
	return e.state
}

func (e *Engine) Loaded() bool {
	return e.state.Loaded
}

// Infer runs one forward pass. A tensor whose shape differs from the model input is a
// programming error and panics.
func (e *Engine) Infer(ctx context.Context, tensor *models.Tensor) ([]models.RawCandidate, error) {
	if !e.state.Loaded {
		return nil, serviceUnavailable("model is not loaded", nil)
	}

	if tensor.Channels != InputChannels || tensor.Width != e.inputWidth || tensor.Height != e.inputHeight || len(tensor.Data) != tensor.Len() {
		panic(fmt.Sprintf("detections: tensor shape %dx%dx%d (%d values) does not match model input %dx%dx%d",
			tensor.Channels, tensor.Height, tensor.Width, len(tensor.Data), InputChannels, e.inputHeight, e.inputWidth))
	}

	if e.mu != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
	}

	return e.forward(ctx, tensor)
}

func (e *Engine) forward(ctx context.Context, tensor *models.Tensor) (candidates []models.RawCandidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			candidates = nil
			err = inferenceError("model inference failed", fmt.Errorf("panic: %v", r))
		}
	}()

	candidates, err = e.model.Infer(ctx, tensor)
	if err != nil {
		if KindOf(err) != "" {
			return nil, err
		}
		return nil, inferenceError("model inference failed", err)
	}

	return candidates, nil
}

// PoolMetrics reports session pool counters when the loaded model is pooled.
func (e *Engine) PoolMetrics() (PoolMetrics, bool) {
	reporter, ok := e.model.(interface{ Metrics() PoolMetrics })
	if !ok {
		return PoolMetrics{}, false
	}
	return reporter.Metrics(), true
}

func (e *Engine) Destroy() {
	if e.model != nil {
		e.model.Destroy()
	}
}
