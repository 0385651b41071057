package main

import (
	"fmt"

	"github.com/mri-vision/tumor-detection-service/models"
)

const (
	MsgNoTumor = "No tumor detected. No region of the scan reached the confidence threshold."

	MsgTumorDetected = "Tumor detected. The highlighted region should be reviewed by a qualified radiologist."

	MsgMultipleRegions = "Tumor detected in %d regions. The most confident region is highlighted; all regions should be reviewed by a qualified radiologist."
)

func getResultMessage(summary models.Summary) string {
	switch {
	case !summary.TumorDetected:
		return MsgNoTumor
	case summary.DetectionsCount == 1:
		return MsgTumorDetected
	default:
		return fmt.Sprintf(MsgMultipleRegions, summary.DetectionsCount)
	}
}
