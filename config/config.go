package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/mri-vision/tumor-detection-service/detections"
)

type Config struct {
	Env   string `validate:"required"`
	Debug bool

	Model  ModelConfig
	Server ServerConfig
	Cache  CacheConfig
	Log    LogConfig
}

type ModelConfig struct {
	Path                string  `validate:"required"`
	GPUDeviceID         int     `validate:"gte=0"`
	ConfidenceThreshold float64 `validate:"gte=0,lte=1"`
	IouThreshold        float64 `validate:"gte=0,lte=1"`
	InputWidth          int     `validate:"gt=0"`
	InputHeight         int     `validate:"gt=0"`
	NumClasses          int     `validate:"gt=0"`
	InputName           string  `validate:"required"`
	OutputName          string  `validate:"required"`
	PoolSize            int     `validate:"gt=0,lte=64"`
	LibraryPath         string
	UseGPU              bool
	Mean                [3]float32
	Std                 [3]float32 `validate:"dive,gt=0"`
}

type ServerConfig struct {
	Host              string        `validate:"required"`
	Port              int           `validate:"gte=1,lte=65535"`
	CORSOrigins       []string      `validate:"min=1"`
	RequestTimeout    time.Duration `validate:"gt=0"`
	MaxImageSize      int64         `validate:"gt=0"`
	AllowedExtensions []string      `validate:"min=1"`
	EnableRateLimit   bool
	RateLimitRPS      float64  `validate:"gt=0"`
	RateLimitBurst    int      `validate:"gt=0"`
	TrustedProxies    []string `validate:"dive,cidr|ip"`
}

type CacheConfig struct {
	Enabled       bool
	Size          int           `validate:"gt=0"`
	TTL           time.Duration `validate:"gte=0"`
	RedisAddress  string
	RedisPassword string
	RedisDB       int `validate:"gte=0"`
}

type LogConfig struct {
	Dir   string `validate:"required"`
	Level string `validate:"oneof=trace debug info warn error"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads .env when present, then the environment, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := fromEnv()
	if err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func fromEnv() (*Config, error) {
	var errs []string
	p := &parser{errs: &errs}

	cfg := &Config{
		Env:   p.str("APP_ENV", "production"),
		Debug: p.boolean("DEBUG", false),
		Model: ModelConfig{
			Path:                p.str("MODEL_PATH", "model/best.onnx"),
			LibraryPath:         p.str("ORT_LIBRARY_PATH", ""),
			UseGPU:              p.boolean("USE_GPU", true),
			GPUDeviceID:         p.integer("GPU_DEVICE_ID", 0),
			ConfidenceThreshold: p.float("CONFIDENCE_THRESHOLD", 0.5),
			IouThreshold:        p.float("IOU_THRESHOLD", 0.45),
			InputWidth:          p.integer("INPUT_WIDTH", 640),
			InputHeight:         p.integer("INPUT_HEIGHT", 640),
			NumClasses:          p.integer("NUM_CLASSES", 1),
			InputName:           p.str("MODEL_INPUT_NAME", "images"),
			OutputName:          p.str("MODEL_OUTPUT_NAME", "output0"),
			PoolSize:            p.integer("POOL_SIZE", 4),
			Mean:                p.triple("NORMALIZE_MEAN", detections.DefaultMean),
			Std:                 p.triple("NORMALIZE_STD", detections.DefaultStd),
		},
		Server: ServerConfig{
			Host:              p.str("HOST", "0.0.0.0"),
			Port:              p.integer("PORT", 5000),
			CORSOrigins:       p.list("CORS_ORIGINS", "*"),
			RequestTimeout:    p.seconds("REQUEST_TIMEOUT", 120),
			MaxImageSize:      int64(p.integer("MAX_IMAGE_SIZE", 10*1024*1024)),
			AllowedExtensions: p.list("ALLOWED_EXTENSIONS", "jpg,jpeg,png,bmp,gif,tiff,tif"),
			EnableRateLimit:   p.boolean("ENABLE_RATE_LIMIT", false),
			RateLimitRPS:      p.float("RATE_LIMIT_RPS", 100.0/3600.0),
			RateLimitBurst:    p.integer("RATE_LIMIT_BURST", 10),
			TrustedProxies:    p.list("TRUSTED_PROXIES", ""),
		},
		Cache: CacheConfig{
			Enabled:       p.boolean("CACHE_PREDICTIONS", false),
			Size:          p.integer("CACHE_SIZE", 100),
			TTL:           p.seconds("CACHE_TTL", 3600),
			RedisAddress:  p.str("REDIS_ADDRESS", ""),
			RedisPassword: p.str("REDIS_PASSWORD", ""),
			RedisDB:       p.integer("REDIS_DB", 0),
		},
		Log: LogConfig{
			Dir:   p.str("LOG_DIR", "./storage/logs"),
			Level: strings.ToLower(p.str("LOG_LEVEL", "info")),
		},
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

type parser struct {
	errs *[]string
}

func (p *parser) str(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (p *parser) integer(key string, fallback int) int {
	v := p.str(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Sprintf("%s: %q is not an integer", key, v))
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	v := p.str(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Sprintf("%s: %q is not a number", key, v))
		return fallback
	}
	return f
}

func (p *parser) boolean(key string, fallback bool) bool {
	v := p.str(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Sprintf("%s: %q is not a boolean", key, v))
		return fallback
	}
	return b
}

func (p *parser) seconds(key string, fallback int) time.Duration {
	return time.Duration(p.integer(key, fallback)) * time.Second
}

// triple parses three comma-separated numbers, one per RGB channel.
func (p *parser) triple(key string, fallback [3]float32) [3]float32 {
	v := p.str(key, "")
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	if len(parts) != 3 {
		*p.errs = append(*p.errs, fmt.Sprintf("%s: %q needs exactly 3 values", key, v))
		return fallback
	}
	var out [3]float32
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			*p.errs = append(*p.errs, fmt.Sprintf("%s: %q is not a number", key, part))
			return fallback
		}
		out[i] = float32(f)
	}
	return out
}

func (p *parser) list(key, fallback string) []string {
	var out []string
	for _, item := range strings.Split(p.str(key, fallback), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
