package detections

import (
	"context"
	"errors"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mri-vision/tumor-detection-service/logger"
	"github.com/mri-vision/tumor-detection-service/models"
)

// spyPreprocessor counts calls before delegating.
type spyPreprocessor struct {
	next  tensorBuilder
	calls int
}

func (s *spyPreprocessor) preprocess(raw []byte, ext string, timings *models.ProcessingTimings) (*models.Tensor, error) {
	s.calls++
	return s.next.preprocess(raw, ext, timings)
}

func newTestPipeline(engine *Engine, maxBytes int64) (*Pipeline, *spyPreprocessor) {
	spy := &spyPreprocessor{next: NewPreprocessor(DefaultPreprocessorConfig())}
	p := NewPipeline(engine, nil, PipelineOptions{MaxImageSize: maxBytes}, testLogger())
	p.preprocessor = spy
	return p, spy
}

func TestPipeline_ModelNotLoaded(t *testing.T) {
	engine := NewUnavailableEngine(defaultEngineOptions(), errors.New("load failed"), testLogger())
	p, spy := newTestPipeline(engine, MaxImageSize)

	set, elapsed, err := p.Run(context.Background(), encodePNG(t, 32, 32, color.White), "png")

	require.True(t, errors.Is(err, ErrServiceUnavailable))
	assert.Nil(t, set)
	assert.Zero(t, elapsed)
	assert.Equal(t, 0, spy.calls)
}

func TestPipeline_CorruptInputThenValid(t *testing.T) {
	model := &fakeModel{candidates: []models.RawCandidate{
		{Box: models.Box{100, 100, 50, 60}, Confidence: 0.91},
	}}
	engine := loadedEngine(t, model)
	p, _ := newTestPipeline(engine, MaxImageSize)
	before := engine.State()

	_, _, err := p.Run(context.Background(), []byte{0xff, 0xd8, 0x00, 0x13, 0x37}, "jpg")
	require.True(t, errors.Is(err, ErrInvalidInput))
	assert.EqualValues(t, 0, model.calls)
	assert.Equal(t, before, engine.State())

	set, elapsed, err := p.Run(context.Background(), encodePNG(t, 64, 64, color.White), "png")
	require.NoError(t, err)
	assert.Len(t, set, 1)
	assert.Greater(t, int64(elapsed), int64(0))
	assert.Equal(t, before, engine.State())
}

func TestPipeline_MapsDetectionsToOriginalImage(t *testing.T) {
	model := &fakeModel{candidates: []models.RawCandidate{
		{Box: models.Box{100, 100, 50, 60}, Confidence: 0.91},
		{Box: models.Box{102, 101, 50, 60}, Confidence: 0.55},
		{Box: models.Box{400, 400, 20, 20}, Confidence: 0.2},
	}}
	p, _ := newTestPipeline(loadedEngine(t, model), MaxImageSize)

	result, err := p.Process(context.Background(), encodePNG(t, 1024, 768, color.Gray{Y: 40}), "png")
	require.NoError(t, err)

	require.Len(t, result.Detections, 1)
	d := result.Detections[0]
	assert.InDelta(t, 160.0, d.Box.X(), 1e-9)
	assert.InDelta(t, 120.0, d.Box.Y(), 1e-9)
	assert.InDelta(t, 80.0, d.Box.Width(), 1e-9)
	assert.InDelta(t, 72.0, d.Box.Height(), 1e-9)
	assert.Equal(t, 1024, result.OriginalWidth)
	assert.Equal(t, 768, result.OriginalHeight)

	summary := result.Summary()
	assert.True(t, summary.TumorDetected)
	assert.Equal(t, 91.0, summary.Confidence)
	assert.Equal(t, 1, summary.DetectionsCount)
	assert.InDeltaSlice(t, []float64{160, 120, 80, 72}, summary.BoundingBox, 1e-9)
}

func TestPipeline_NoFinding(t *testing.T) {
	p, _ := newTestPipeline(loadedEngine(t, &fakeModel{}), MaxImageSize)

	set, _, err := p.Run(context.Background(), encodePNG(t, 640, 640, color.Black), "png")

	require.NoError(t, err)
	require.NotNil(t, set)
	assert.True(t, set.Empty())
}

func TestPipeline_RejectsBeforePreprocessing(t *testing.T) {
	p, spy := newTestPipeline(loadedEngine(t, &fakeModel{}), 16)

	_, _, err := p.Run(context.Background(), encodePNG(t, 64, 64, color.White), "png")
	require.True(t, errors.Is(err, ErrInvalidInput))
	assert.True(t, IsTooLarge(err))

	_, _, err = p.Run(context.Background(), nil, "png")
	require.True(t, errors.Is(err, ErrInvalidInput))
	assert.False(t, IsTooLarge(err))

	assert.Equal(t, 0, spy.calls)
}

func TestPipeline_InferenceErrorIsIsolated(t *testing.T) {
	model := &fakeModel{err: errors.New("cudnn status internal error")}
	engine := loadedEngine(t, model)
	p, _ := newTestPipeline(engine, MaxImageSize)
	raw := encodePNG(t, 32, 32, color.White)

	_, _, err := p.Run(context.Background(), raw, "png")
	require.True(t, errors.Is(err, ErrInference))
	assert.Equal(t, KindInference, KindOf(err))
	assert.NotContains(t, err.Error(), "cudnn")
	assert.Nil(t, errors.Unwrap(err))
	assert.True(t, engine.Loaded())

	model.err = nil
	_, _, err = p.Run(context.Background(), raw, "png")
	require.NoError(t, err)
}

func TestPipeline_RequestIDInTimings(t *testing.T) {
	p, _ := newTestPipeline(loadedEngine(t, &fakeModel{}), MaxImageSize)
	ctx := logger.WithRequestID(context.Background(), "01HZX3")

	result, err := p.Process(ctx, encodePNG(t, 16, 16, color.White), "")
	require.NoError(t, err)
	assert.Equal(t, "01HZX3", result.Timings.RequestID)
	assert.GreaterOrEqual(t, int64(result.Timings.Total), int64(result.Elapsed))
}
