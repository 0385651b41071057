package detections

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/mri-vision/tumor-detection-service/models"
)

const decodeChunkSize = 512

// DecodeOutput converts a YOLO head of shape [1, 4+numClasses, numAnchors] into candidates.
// Rows are cx, cy, w, h followed by one score row per class, all in model-input pixels.
// Candidates come back in anchor order with top-left boxes.
func DecodeOutput(predictions []float32, numClasses, numAnchors int) ([]models.RawCandidate, error) {
	if numClasses < 1 || numAnchors < 1 {
		return nil, fmt.Errorf("invalid output layout: %d classes, %d anchors", numClasses, numAnchors)
	}

	expectedSize := (4 + numClasses) * numAnchors
	if len(predictions) != expectedSize {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(predictions), expectedSize)
	}

	numChunks := (numAnchors + decodeChunkSize - 1) / decodeChunkSize
	chunks := make([][]models.RawCandidate, numChunks)

	numWorkers := runtime.NumCPU()
	if numWorkers > numChunks {
		numWorkers = numChunks
	}
	jobs := make(chan int, numChunks)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range jobs {
				start := chunk * decodeChunkSize
				end := start + decodeChunkSize
				if end > numAnchors {
					end = numAnchors
				}
				chunks[chunk] = decodeRange(predictions, numClasses, numAnchors, start, end)
			}
		}()
	}

	for chunk := 0; chunk < numChunks; chunk++ {
		jobs <- chunk
	}
	close(jobs)
	wg.Wait()

	candidates := make([]models.RawCandidate, 0, numAnchors)
	for _, chunk := range chunks {
		candidates = append(candidates, chunk...)
	}

	return candidates, nil
}

func decodeRange(predictions []float32, numClasses, numAnchors, start, end int) []models.RawCandidate {
	out := make([]models.RawCandidate, 0, end-start)

	for i := start; i < end; i++ {
		classID := 0
		score := predictions[4*numAnchors+i]
		for c := 1; c < numClasses; c++ {
			if s := predictions[(4+c)*numAnchors+i]; s > score {
				score = s
				classID = c
			}
		}

		cx := float64(predictions[i])
		cy := float64(predictions[numAnchors+i])
		w := float64(predictions[2*numAnchors+i])
		h := float64(predictions[3*numAnchors+i])

		out = append(out, models.RawCandidate{
			Box:        models.Box{cx - w/2, cy - h/2, w, h},
			Confidence: float64(score),
			ClassID:    classID,
		})
	}

	return out
}
