package detections

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mri-vision/tumor-detection-service/models"
)

func TestAnnotate_DrawsPrimaryDetection(t *testing.T) {
	raw := encodePNG(t, 100, 100, color.Black)
	set := models.DetectionSet{
		{Box: models.Box{10, 10, 40, 40}, Confidence: 0.9},
		{Box: models.Box{70, 70, 20, 20}, Confidence: 0.6},
	}

	dataURL, err := Annotate(raw, set)
	require.NoError(t, err)

	const prefix = "data:image/png;base64,"
	require.True(t, strings.HasPrefix(dataURL, prefix))

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, prefix))
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(decoded))
	require.NoError(t, err)

	assert.Equal(t, image.Pt(100, 100), img.Bounds().Size())

	isRed := func(x, y int) bool {
		r, g, b, _ := img.At(x, y).RGBA()
		return r>>8 == 255 && g>>8 == 0 && b>>8 == 0
	}

	assert.True(t, isRed(10, 35), "left edge")
	assert.True(t, isRed(50, 35), "right edge")
	assert.True(t, isRed(30, 50), "bottom edge")
	assert.False(t, isRed(30, 40), "interior")
	assert.False(t, isRed(80, 80), "secondary detection is not drawn")
}

func TestAnnotate_EmptySet(t *testing.T) {
	dataURL, err := Annotate(encodePNG(t, 10, 10, color.Black), models.DetectionSet{})
	require.NoError(t, err)
	assert.Empty(t, dataURL)
}

func TestAnnotate_InvalidImage(t *testing.T) {
	_, err := Annotate([]byte("garbage"), models.DetectionSet{{Box: models.Box{0, 0, 1, 1}}})
	require.Error(t, err)
}
