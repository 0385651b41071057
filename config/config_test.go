package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Model.ConfidenceThreshold)
	assert.Equal(t, 0.45, cfg.Model.IouThreshold)
	assert.Equal(t, 640, cfg.Model.InputWidth)
	assert.Equal(t, 640, cfg.Model.InputHeight)
	assert.True(t, cfg.Model.UseGPU)
	assert.Equal(t, [3]float32{0.485, 0.456, 0.406}, cfg.Model.Mean)
	assert.Equal(t, [3]float32{0.229, 0.224, 0.225}, cfg.Model.Std)
	assert.Empty(t, cfg.Server.TrustedProxies)
	assert.Equal(t, int64(10*1024*1024), cfg.Server.MaxImageSize)
	assert.Equal(t, []string{"jpg", "jpeg", "png", "bmp", "gif", "tiff", "tif"}, cfg.Server.AllowedExtensions)
	assert.Equal(t, 120*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "0.0.0.0:5000", cfg.Server.Addr())
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 100, cfg.Cache.Size)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "0.25")
	t.Setenv("IOU_THRESHOLD", "0.6")
	t.Setenv("USE_GPU", "False")
	t.Setenv("PORT", "8080")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("CACHE_PREDICTIONS", "true")
	t.Setenv("CACHE_TTL", "60")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("NORMALIZE_MEAN", "0.5, 0.5, 0.5")
	t.Setenv("NORMALIZE_STD", "0.25,0.25,0.25")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.25, cfg.Model.ConfidenceThreshold)
	assert.Equal(t, 0.6, cfg.Model.IouThreshold)
	assert.False(t, cfg.Model.UseGPU)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, [3]float32{0.5, 0.5, 0.5}, cfg.Model.Mean)
	assert.Equal(t, [3]float32{0.25, 0.25, 0.25}, cfg.Model.Std)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.10"}, cfg.Server.TrustedProxies)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"threshold above one", "CONFIDENCE_THRESHOLD", "1.5"},
		{"negative iou", "IOU_THRESHOLD", "-0.1"},
		{"not a number", "IOU_THRESHOLD", "high"},
		{"zero input", "INPUT_WIDTH", "0"},
		{"bad port", "PORT", "70000"},
		{"bad bool", "USE_GPU", "maybe"},
		{"unknown log level", "LOG_LEVEL", "verbose"},
		{"two mean values", "NORMALIZE_MEAN", "0.5,0.5"},
		{"mean not a number", "NORMALIZE_MEAN", "0.5,x,0.5"},
		{"zero std", "NORMALIZE_STD", "0.2,0,0.2"},
		{"bad trusted proxy", "TRUSTED_PROXIES", "not-an-ip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}
