package models

import (
	"math"
	"time"
)

// Box is an axis-aligned rectangle stored as [x, y, width, height] with (x, y) the top-left corner.
type Box [4]float64

func (b Box) X() float64      { return b[0] }
func (b Box) Y() float64      { return b[1] }
func (b Box) Width() float64  { return b[2] }
func (b Box) Height() float64 { return b[3] }

func (b Box) Area() float64 {
	if b[2] <= 0 || b[3] <= 0 {
		return 0
	}
	return b[2] * b[3]
}

// Scale multiplies the box by independent horizontal and vertical factors.
func (b Box) Scale(sx, sy float64) Box {
	return Box{b[0] * sx, b[1] * sy, b[2] * sx, b[3] * sy}
}

// RawCandidate is one model output in model-input pixel space.
type RawCandidate struct {
	Box        Box
	Confidence float64
	ClassID    int
}

// Detection is a candidate that survived filtering and suppression, mapped to original image pixels.
type Detection struct {
	Box               Box     `json:"box"`
	Confidence        float64 `json:"confidence"`
	ConfidencePercent float64 `json:"-"`
	ClassID           int     `json:"class_id"`
}

// DetectionSet is ordered by descending confidence.
type DetectionSet []Detection

// Primary returns the highest-confidence detection.
func (s DetectionSet) Primary() (Detection, bool) {
	if len(s) == 0 {
		return Detection{}, false
	}
	return s[0], true
}

func (s DetectionSet) Empty() bool { return len(s) == 0 }

// Tensor is a preprocessed image in channel-first (CHW) layout.
type Tensor struct {
	Data     []float32
	Channels int
	Height   int
	Width    int

	// ScaleX and ScaleY map model-input coordinates back to the original image.
	ScaleX float64
	ScaleY float64

	OriginalWidth  int
	OriginalHeight int
	Format         string
}

func (t *Tensor) Len() int {
	return t.Channels * t.Height * t.Width
}

type ModelState struct {
	Loaded              bool    `json:"model_loaded"`
	Device              string  `json:"device"`
	ModelPath           string  `json:"model_path"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	IouThreshold        float64 `json:"iou_threshold"`
	LoadError           string  `json:"load_error,omitempty"`
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Total       time.Duration
}

// Summary is the externally visible result of one prediction.
type Summary struct {
	TumorDetected    bool        `json:"tumor_detected"`
	Confidence       float64     `json:"confidence"`
	BoundingBox      []float64   `json:"bounding_box"`
	ProcessingTimeMs float64     `json:"processing_time_ms"`
	DetectionsCount  int         `json:"detections_count"`
	AllDetections    []Detection `json:"all_detections"`
}

func NewSummary(set DetectionSet, elapsed time.Duration) Summary {
	summary := Summary{
		BoundingBox:      []float64{},
		ProcessingTimeMs: math.Round(float64(elapsed.Microseconds())/10) / 100,
		DetectionsCount:  len(set),
		AllDetections:    []Detection{},
	}

	if primary, ok := set.Primary(); ok {
		summary.TumorDetected = true
		summary.Confidence = primary.ConfidencePercent
		summary.BoundingBox = primary.Box[:]
		summary.AllDetections = append(summary.AllDetections, set...)
	}

	return summary
}
