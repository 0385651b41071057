package detections

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mri-vision/tumor-detection-service/logger"
	"github.com/mri-vision/tumor-detection-service/models"
)

type tensorBuilder interface {
	preprocess(raw []byte, ext string, timings *models.ProcessingTimings) (*models.Tensor, error)
}

type PipelineOptions struct {
	// MaxImageSize is the largest accepted input in bytes. Zero disables the check.
	MaxImageSize int64
}

// Pipeline runs preprocessing, inference and postprocessing for one request at a time
// per caller. It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	engine       *Engine
	preprocessor tensorBuilder
	maxBytes     int64
	log          *logrus.Logger
}

// Result is a successful run. Elapsed spans inference and postprocessing only.
type Result struct {
	Detections     models.DetectionSet
	Elapsed        time.Duration
	Timings        models.ProcessingTimings
	OriginalWidth  int
	OriginalHeight int
	Format         string
}

func (r *Result) Summary() models.Summary {
	return models.NewSummary(r.Detections, r.Elapsed)
}

func NewPipeline(engine *Engine, preprocessor *Preprocessor, opts PipelineOptions, log *logrus.Logger) *Pipeline {
	return &Pipeline{
		engine:       engine,
		preprocessor: preprocessor,
		maxBytes:     opts.MaxImageSize,
		log:          log,
	}
}

func (p *Pipeline) Engine() *Engine {
	return p.engine
}

// Run returns the detection set for raw and the time spent in inference and postprocessing.
func (p *Pipeline) Run(ctx context.Context, raw []byte, ext string) (models.DetectionSet, time.Duration, error) {
	result, err := p.Process(ctx, raw, ext)
	if err != nil {
		return nil, 0, err
	}
	return result.Detections, result.Elapsed, nil
}

// Process is Run with stage timings and source image details. Errors are always
// *PipelineError.
func (p *Pipeline) Process(ctx context.Context, raw []byte, ext string) (*Result, error) {
	startTotal := time.Now()
	result := &Result{Timings: models.ProcessingTimings{RequestID: logger.RequestID(ctx)}}

	if !p.engine.Loaded() {
		return nil, p.fail(ctx, "precondition", serviceUnavailable("model is not loaded", nil))
	}

	if len(raw) == 0 {
		return nil, p.fail(ctx, "precondition", invalidInput("empty image", nil))
	}
	if p.maxBytes > 0 && int64(len(raw)) > p.maxBytes {
		return nil, p.fail(ctx, "precondition", imageTooLarge(int64(len(raw)), p.maxBytes))
	}

	tensor, err := p.preprocessor.preprocess(raw, ext, &result.Timings)
	if err != nil {
		return nil, p.fail(ctx, "preprocess", asKind(err, KindInvalidInput, "failed to preprocess image"))
	}

	state := p.engine.State()

	inferStart := time.Now()
	candidates, err := p.engine.Infer(ctx, tensor)
	result.Timings.Inference = time.Since(inferStart)
	if err != nil {
		return nil, p.fail(ctx, "inference", asKind(err, KindInference, "model inference failed"))
	}

	postStart := time.Now()
	result.Detections = Postprocess(candidates, tensor.ScaleX, tensor.ScaleY, state.ConfidenceThreshold, state.IouThreshold)
	result.Timings.Postprocess = time.Since(postStart)

	result.Elapsed = time.Since(inferStart)
	result.Timings.Total = time.Since(startTotal)
	result.OriginalWidth = tensor.OriginalWidth
	result.OriginalHeight = tensor.OriginalHeight
	result.Format = tensor.Format

	p.log.WithFields(logrus.Fields{
		logger.RequestIDKey: result.Timings.RequestID,
		"candidates":        len(candidates),
		"detections":        len(result.Detections),
		"decode":            result.Timings.ImageDecode,
		"resize":            result.Timings.Resize,
		"preprocess":        result.Timings.Preprocess,
		"inference":         result.Timings.Inference,
		"postprocess":       result.Timings.Postprocess,
		"total":             result.Timings.Total,
	}).Debug("Prediction completed")

	return result, nil
}

// fail logs the internal cause; the returned error carries only kind and message.
func (p *Pipeline) fail(ctx context.Context, stage string, err *PipelineError) error {
	fields := logrus.Fields{
		logger.RequestIDKey: logger.RequestID(ctx),
		"stage":             stage,
		"kind":              err.Kind,
	}
	if err.cause != nil {
		fields["cause"] = err.cause.Error()
	}

	entry := p.log.WithFields(fields)
	if err.Kind == KindInvalidInput {
		entry.Info(err.Message)
	} else {
		entry.Error(err.Message)
	}

	return err
}

// asKind keeps a stage error that already has a kind, otherwise wraps it with fallback.
func asKind(err error, fallback ErrorKind, message string) *PipelineError {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	return &PipelineError{Kind: fallback, Message: message, cause: err}
}
