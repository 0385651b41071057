//go:build !gocv
// +build !gocv

package detections

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
)

// decodeImage decodes data honoring the EXIF orientation tag.
func decodeImage(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}
