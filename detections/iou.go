package detections

import (
	"math"

	"github.com/mri-vision/tumor-detection-service/models"
)

// calculateIOU returns the intersection over union of two [x, y, w, h] boxes.
func calculateIOU(box1, box2 models.Box) float64 {
	x1 := math.Max(box1.X(), box2.X())
	y1 := math.Max(box1.Y(), box2.Y())
	x2 := math.Min(box1.X()+box1.Width(), box2.X()+box2.Width())
	y2 := math.Min(box1.Y()+box1.Height(), box2.Y()+box2.Height())

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := box1.Area() + box2.Area() - intersection
	if union <= 0 {
		return 0.0
	}

	return intersection / union
}
