package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/mri-vision/tumor-detection-service/models"
)

// Entry is a cached prediction for one image under one pair of thresholds.
type Entry struct {
	Summary        models.Summary `json:"summary"`
	AnnotatedImage string         `json:"annotated_image,omitempty"`
}

type Cache interface {
	// Get reports a miss as (nil, nil).
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry) error
	Len(ctx context.Context) (int, error)
	Close() error
}

// Key identifies an image by content together with the thresholds that shaped its result.
func Key(image []byte, confThreshold, iouThreshold float64) string {
	h := sha256.New()
	h.Write(image)

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], math.Float64bits(confThreshold))
	binary.BigEndian.PutUint64(buf[8:], math.Float64bits(iouThreshold))
	h.Write(buf[:])

	return hex.EncodeToString(h.Sum(nil))
}
