package detections

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/mri-vision/tumor-detection-service/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func encodePNG(t *testing.T, width, height int, fill color.Color) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeModel returns canned candidates and records how it was used.
type fakeModel struct {
	candidates []models.RawCandidate
	err        error
	panicWith  interface{}
	concurrent bool
	delay      time.Duration

	calls     int32
	active    int32
	maxActive int32
	destroyed int32
}

func (m *fakeModel) Infer(_ context.Context, _ *models.Tensor) ([]models.RawCandidate, error) {
	atomic.AddInt32(&m.calls, 1)
	n := atomic.AddInt32(&m.active, 1)
	defer atomic.AddInt32(&m.active, -1)

	for {
		current := atomic.LoadInt32(&m.maxActive)
		if n <= current || atomic.CompareAndSwapInt32(&m.maxActive, current, n) {
			break
		}
	}

	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.panicWith != nil {
		panic(m.panicWith)
	}
	if m.err != nil {
		return nil, m.err
	}

	out := make([]models.RawCandidate, len(m.candidates))
	copy(out, m.candidates)
	return out, nil
}

func (m *fakeModel) Destroy() {
	atomic.AddInt32(&m.destroyed, 1)
}

type concurrentFakeModel struct {
	*fakeModel
}

func (m concurrentFakeModel) ConcurrentSafe() bool {
	return m.concurrent
}

func openerFor(model Model, failures map[Device]error) (Opener, *[]Device) {
	var mu sync.Mutex
	attempts := &[]Device{}

	return func(device Device) (Model, error) {
		mu.Lock()
		*attempts = append(*attempts, device)
		mu.Unlock()

		if err, ok := failures[device]; ok {
			return nil, err
		}
		return model, nil
	}, attempts
}

func loadedEngine(t *testing.T, model Model) *Engine {
	t.Helper()

	open, _ := openerFor(model, nil)
	engine := LoadEngine(defaultEngineOptions(), open, testLogger())
	require.True(t, engine.Loaded())
	return engine
}

func defaultEngineOptions() EngineOptions {
	return EngineOptions{
		ModelPath:           "models/best.onnx",
		InputWidth:          InputWidth,
		InputHeight:         InputHeight,
		ConfidenceThreshold: ConfThreshold,
		IouThreshold:        IouThreshold,
	}
}

func inputTensor() *models.Tensor {
	return &models.Tensor{
		Data:     make([]float32, InputChannels*InputWidth*InputHeight),
		Channels: InputChannels,
		Height:   InputHeight,
		Width:    InputWidth,
		ScaleX:   1,
		ScaleY:   1,
	}
}

// fakeRunner stands in for an onnxruntime session bound to output.
type fakeRunner struct {
	output    []float32
	values    []float32
	err       error
	runs      int32
	destroyed int32
}

func (r *fakeRunner) Run() error {
	atomic.AddInt32(&r.runs, 1)
	if r.err != nil {
		return r.err
	}
	copy(r.output, r.values)
	return nil
}

func (r *fakeRunner) Destroy() error {
	atomic.AddInt32(&r.destroyed, 1)
	return nil
}
