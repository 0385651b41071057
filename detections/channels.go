package detections

import (
	"image"
	"runtime"
	"sync"
)

// channelProcessor packs an RGB image into a normalized CHW float buffer.
type channelProcessor struct {
	width, height int
	channelSize   int
	mean, std     [3]float32
	numWorkers    int
}

func newChannelProcessor(width, height int, mean, std [3]float32) *channelProcessor {
	return &channelProcessor{
		width:       width,
		height:      height,
		channelSize: width * height,
		mean:        mean,
		std:         std,
		numWorkers:  runtime.GOMAXPROCS(0),
	}
}

// process splits the rows across workers. img must be exactly width x height.
func (cp *channelProcessor) process(img *image.NRGBA, dst []float32) {
	workers := cp.numWorkers
	if workers > cp.height {
		workers = cp.height
	}
	if workers < 1 {
		workers = 1
	}
	rowsPerWorker := (cp.height + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < cp.height; start += rowsPerWorker {
		end := start + rowsPerWorker
		if end > cp.height {
			end = cp.height
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			cp.processRows(img, dst, start, end)
		}(start, end)
	}

	wg.Wait()
}

func (cp *channelProcessor) processRows(img *image.NRGBA, dst []float32, start, end int) {
	r, g, b := dst[:cp.channelSize], dst[cp.channelSize:2*cp.channelSize], dst[2*cp.channelSize:]

	for y := start; y < end; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+cp.width*4]
		offset := y * cp.width
		for x := 0; x < cp.width; x++ {
			i := offset + x
			px := src[x*4 : x*4+3 : x*4+3]
			r[i] = (float32(px[0])/255.0 - cp.mean[0]) / cp.std[0]
			g[i] = (float32(px[1])/255.0 - cp.mean[1]) / cp.std[1]
			b[i] = (float32(px[2])/255.0 - cp.mean[2]) / cp.std[2]
		}
	}
}
