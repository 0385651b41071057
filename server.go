package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/mri-vision/tumor-detection-service/cache"
	"github.com/mri-vision/tumor-detection-service/config"
	"github.com/mri-vision/tumor-detection-service/detections"
	"github.com/mri-vision/tumor-detection-service/logger"
)

const (
	systemName = "Brain Tumor Detection System"
	version    = "1.0.0"
	modelName  = "YOLOv8 (ONNX)"
)

type AppState struct {
	Config       *config.Config
	Pipeline     *detections.Pipeline
	Preprocessor *detections.Preprocessor
	// Cache is nil when prediction caching is disabled.
	Cache     cache.Cache
	Log       *logrus.Logger
	StartedAt time.Time
}

func (s *AppState) Router() http.Handler {
	r := mux.NewRouter()

	proxies, err := newProxySet(s.Config.Server.TrustedProxies)
	if err != nil {
		s.Log.WithField("error", err.Error()).Warn("Ignoring trusted proxies")
		proxies = nil
	}

	predict := http.Handler(http.HandlerFunc(s.handlePredict))
	stream := http.Handler(http.HandlerFunc(s.handleWebSocket))
	if s.Config.Server.EnableRateLimit {
		limiter := newRateLimiter(rate.Limit(s.Config.Server.RateLimitRPS), s.Config.Server.RateLimitBurst, proxies, s.Log)
		predict = limiter.middleware(predict)
		stream = limiter.middleware(stream)
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/predict", predict).Methods(http.MethodPost)
	r.Handle("/ws", stream).Methods(http.MethodGet)
	s.addMonitoringRoutes(r)

	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	return chain(r,
		requestIDMiddleware,
		accessLogMiddleware(s.Log, proxies),
		recoverMiddleware(s.Log),
		corsMiddleware(s.Config.Server.CORSOrigins),
	)
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.Pipeline.Engine().State()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"timestamp":    timestamp(),
		"model_loaded": state.Loaded,
		"device":       state.Device,
	})
}

func (s *AppState) handleStatus(w http.ResponseWriter, _ *http.Request) {
	state := s.Pipeline.Engine().State()
	width, height := s.Preprocessor.InputSize()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"system":               systemName,
		"version":              version,
		"model":                modelName,
		"model_path":           state.ModelPath,
		"confidence_threshold": state.ConfidenceThreshold,
		"iou_threshold":        state.IouThreshold,
		"gpu_available":        state.Device == string(detections.DeviceCUDA),
		"model_loaded":         state.Loaded,
		"load_error":           state.LoadError,
		"device":               state.Device,
		"input_size":           []int{width, height},
		"allowed_extensions":   s.Config.Server.AllowedExtensions,
		"max_image_size":       s.Config.Server.MaxImageSize,
		"cache_enabled":        s.Cache != nil,
		"cpu":                  detections.DescribeCPU(),
		"uptime_seconds":       int64(time.Since(s.StartedAt).Seconds()),
		"timestamp":            timestamp(),
	})
}

func (s *AppState) handleMetrics(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"uptime_seconds": int64(time.Since(s.StartedAt).Seconds()),
		"model_loaded":   s.Pipeline.Engine().Loaded(),
	}

	if metrics, ok := s.Pipeline.Engine().PoolMetrics(); ok {
		response["pool"] = metrics
	}

	if s.Cache != nil {
		if n, err := s.Cache.Len(r.Context()); err == nil {
			response["cache_entries"] = n
		}
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *AppState) handlePredict(w http.ResponseWriter, r *http.Request) {
	if !s.Pipeline.Engine().Loaded() {
		s.sendPipelineError(w, r, detections.ErrServiceUnavailable)
		return
	}

	upload, err := readImage(w, r, s.Config.Server.MaxImageSize)
	if err != nil {
		s.sendPipelineError(w, r, err)
		return
	}

	if upload.ext != "" && !s.Preprocessor.Accepts(upload.ext) {
		logger.FromContext(r.Context(), s.Log).WithField("filename", upload.filename).Warn("Invalid file extension")
		sendErrorResponse(w, "invalid_file_type",
			fmt.Sprintf("Invalid file type. Allowed: %s", strings.Join(s.Config.Server.AllowedExtensions, ", ")),
			http.StatusBadRequest)
		return
	}

	response, err := s.predict(r.Context(), upload.data, upload.ext)
	if err != nil {
		s.sendPipelineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// predict runs one image through the cache and pipeline and builds the response body.
func (s *AppState) predict(ctx context.Context, data []byte, ext string) (*PredictionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Config.Server.RequestTimeout)
	defer cancel()

	log := logger.FromContext(ctx, s.Log)
	state := s.Pipeline.Engine().State()

	var key string
	if s.Cache != nil && state.Loaded {
		key = cache.Key(data, state.ConfidenceThreshold, state.IouThreshold)
		entry, err := s.Cache.Get(ctx, key)
		if err != nil {
			log.WithField("error", err.Error()).Warn("Prediction cache lookup failed")
		} else if entry != nil {
			log.Debug("Prediction served from cache")
			return s.newPredictionResponse(ctx, entry, true), nil
		}
	}

	log.WithFields(logrus.Fields{
		"bytes": len(data),
		"ext":   ext,
	}).Info("Processing image")

	result, err := s.Pipeline.Process(ctx, data, ext)
	if err != nil {
		return nil, err
	}

	entry := &cache.Entry{Summary: result.Summary()}
	if entry.Summary.TumorDetected {
		annotated, err := detections.Annotate(data, result.Detections)
		if err != nil {
			log.WithField("error", err.Error()).Warn("Failed to annotate image")
		}
		entry.AnnotatedImage = annotated
	}

	if key != "" {
		if err := s.Cache.Set(ctx, key, entry); err != nil {
			log.WithField("error", err.Error()).Warn("Failed to cache prediction")
		}
	}

	log.WithFields(logrus.Fields{
		"tumor_detected":   entry.Summary.TumorDetected,
		"detections_count": entry.Summary.DetectionsCount,
		"elapsed_ms":       entry.Summary.ProcessingTimeMs,
	}).Info("Prediction complete")

	return s.newPredictionResponse(ctx, entry, false), nil
}

func (s *AppState) newPredictionResponse(ctx context.Context, entry *cache.Entry, cached bool) *PredictionResponse {
	return &PredictionResponse{
		Status:         statusSuccess,
		Summary:        entry.Summary,
		Message:        getResultMessage(entry.Summary),
		AnnotatedImage: entry.AnnotatedImage,
		Cached:         cached,
		RequestID:      logger.RequestID(ctx),
		Timestamp:      timestamp(),
	}
}

func (s *AppState) handleNotFound(w http.ResponseWriter, r *http.Request) {
	logger.FromContext(r.Context(), s.Log).Warnf("404 Not Found: %s", r.URL.Path)
	sendErrorResponse(w, "not_found", "Endpoint not found", http.StatusNotFound)
}

func (s *AppState) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	logger.FromContext(r.Context(), s.Log).Warnf("405 Method Not Allowed: %s %s", r.Method, r.URL.Path)
	sendErrorResponse(w, "method_not_allowed", "Method not allowed", http.StatusMethodNotAllowed)
}
