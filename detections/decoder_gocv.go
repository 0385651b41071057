//go:build gocv
// +build gocv

package detections

import (
	"errors"
	"image"

	"gocv.io/x/gocv"
)

// decodeImage decodes through OpenCV. IMReadColor drops alpha and applies EXIF orientation;
// ToImage converts the BGR mat to RGBA.
func decodeImage(data []byte) (image.Image, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, errors.New("failed to decode image")
	}

	return mat.ToImage()
}
