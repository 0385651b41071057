package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/mri-vision/tumor-detection-service/cache"
	"github.com/mri-vision/tumor-detection-service/config"
	"github.com/mri-vision/tumor-detection-service/detections"
	"github.com/mri-vision/tumor-detection-service/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := logger.New(logger.Options{
		Dir:   cfg.Log.Dir,
		Level: cfg.Log.Level,
		Env:   cfg.Env,
	})
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	preprocessor := detections.NewPreprocessor(detections.PreprocessorConfig{
		Width:      cfg.Model.InputWidth,
		Height:     cfg.Model.InputHeight,
		Mean:       cfg.Model.Mean,
		Std:        cfg.Model.Std,
		Extensions: cfg.Server.AllowedExtensions,
	})

	engine, releaseRuntime := initEngine(cfg, log)
	defer releaseRuntime()
	defer engine.Destroy()

	pipeline := detections.NewPipeline(engine, preprocessor, detections.PipelineOptions{
		MaxImageSize: cfg.Server.MaxImageSize,
	}, log)

	predictionCache := initCache(cfg, log)
	if predictionCache != nil {
		defer predictionCache.Close()
	}

	state := &AppState{
		Config:       cfg,
		Pipeline:     pipeline,
		Preprocessor: preprocessor,
		Cache:        predictionCache,
		Log:          log,
		StartedAt:    time.Now(),
	}

	srv := &http.Server{
		Handler:      state.Router(),
		Addr:         cfg.Server.Addr(),
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		ReadTimeout:  cfg.Server.RequestTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":         srv.Addr,
			"model_loaded": engine.Loaded(),
			"device":       engine.State().Device,
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Shutting down server")
	case err := <-serverErr:
		log.WithField("error", err.Error()).Error("Server stopped unexpectedly")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithField("error", err.Error()).Error("Graceful shutdown failed")
	}
	log.Info("Server stopped")
}

// initEngine loads the model once. Any failure leaves the service running with an
// unavailable engine so /health and /status keep answering.
func initEngine(cfg *config.Config, log *logrus.Logger) (*detections.Engine, func()) {
	opts := detections.EngineOptions{
		ModelPath:           cfg.Model.Path,
		PreferGPU:           cfg.Model.UseGPU,
		InputWidth:          cfg.Model.InputWidth,
		InputHeight:         cfg.Model.InputHeight,
		ConfidenceThreshold: cfg.Model.ConfidenceThreshold,
		IouThreshold:        cfg.Model.IouThreshold,
	}
	noop := func() {}

	modelPath, err := resolveModelPath(cfg.Model.Path)
	if err != nil {
		return detections.NewUnavailableEngine(opts, err, log), noop
	}
	opts.ModelPath = modelPath

	libPath, err := resolveLibraryPath(cfg.Model.LibraryPath, librarySearchDirs())
	if err != nil {
		return detections.NewUnavailableEngine(opts, err, log), noop
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return detections.NewUnavailableEngine(opts, err, log), noop
	}
	log.WithField("library", libPath).Info("ONNX runtime initialized")

	opener := detections.NewONNXOpener(detections.ONNXConfig{
		ModelPath:   modelPath,
		InputName:   cfg.Model.InputName,
		OutputName:  cfg.Model.OutputName,
		InputWidth:  cfg.Model.InputWidth,
		InputHeight: cfg.Model.InputHeight,
		NumClasses:  cfg.Model.NumClasses,
		NumAnchors:  detections.AnchorsFor(cfg.Model.InputWidth, cfg.Model.InputHeight),
		PoolSize:    cfg.Model.PoolSize,
		GPUDeviceID: cfg.Model.GPUDeviceID,
	})

	engine := detections.LoadEngine(opts, opener, log)

	return engine, func() {
		if err := ort.DestroyEnvironment(); err != nil {
			log.WithField("error", err.Error()).Warn("Failed to destroy ONNX runtime environment")
		}
	}
}

// initCache returns nil when caching is disabled. An unreachable Redis falls back to memory.
func initCache(cfg *config.Config, log *logrus.Logger) cache.Cache {
	if !cfg.Cache.Enabled {
		return nil
	}

	if cfg.Cache.RedisAddress != "" {
		redisCache, err := cache.NewRedis(context.Background(), cache.RedisOptions{
			Address:  cfg.Cache.RedisAddress,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			TTL:      cfg.Cache.TTL,
		}, log)
		if err == nil {
			return redisCache
		}
		log.WithField("error", err.Error()).Warn("Redis cache unavailable, using in-memory cache")
	}

	log.WithField("size", cfg.Cache.Size).Info("Using in-memory prediction cache")
	return cache.NewMemory(cfg.Cache.Size, cfg.Cache.TTL)
}
