package detections

import (
	"math"
	"sort"

	"github.com/mri-vision/tumor-detection-service/models"
)

// Postprocess filters candidates by confidence, removes overlapping duplicates with greedy
// non-maximum suppression and maps the survivors to original image pixels.
//
// Candidates at exactly confThreshold are kept. A candidate is suppressed only when its IoU
// with an accepted box is strictly greater than iouThreshold. Suppression runs in model-input
// space, before scaling.
func Postprocess(candidates []models.RawCandidate, scaleX, scaleY, confThreshold, iouThreshold float64) models.DetectionSet {
	kept := filterByConfidence(candidates, confThreshold)
	if len(kept) == 0 {
		return models.DetectionSet{}
	}

	sortByConfidence(kept)
	accepted := suppress(kept, iouThreshold)

	set := make(models.DetectionSet, 0, len(accepted))
	for _, c := range accepted {
		set = append(set, models.Detection{
			Box:               c.Box.Scale(scaleX, scaleY),
			Confidence:        c.Confidence,
			ConfidencePercent: toPercent(c.Confidence),
			ClassID:           c.ClassID,
		})
	}

	return set
}

func filterByConfidence(candidates []models.RawCandidate, threshold float64) []models.RawCandidate {
	kept := make([]models.RawCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Confidence >= threshold {
			kept = append(kept, c)
		}
	}
	return kept
}

// sortByConfidence orders descending; ties keep their input order.
func sortByConfidence(candidates []models.RawCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
}

// suppress expects candidates sorted by descending confidence.
func suppress(candidates []models.RawCandidate, iouThreshold float64) []models.RawCandidate {
	suppressed := make([]bool, len(candidates))
	accepted := make([]models.RawCandidate, 0, len(candidates))

	for i := range candidates {
		if suppressed[i] {
			continue
		}
		accepted = append(accepted, candidates[i])

		for j := i + 1; j < len(candidates); j++ {
			if suppressed[j] {
				continue
			}
			if calculateIOU(candidates[i].Box, candidates[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return accepted
}

func toPercent(confidence float64) float64 {
	return math.Round(confidence*10000) / 100
}
