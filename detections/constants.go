package detections

const (
	InputWidth    = 640
	InputHeight   = 640
	InputChannels = 3
	NumClasses    = 1
	NumAnchors    = 8400

	ConfThreshold = 0.5
	IouThreshold  = 0.45

	MaxImageSize = 10 << 20
)

// ImageNet statistics, RGB order.
var (
	DefaultMean = [3]float32{0.485, 0.456, 0.406}
	DefaultStd  = [3]float32{0.229, 0.224, 0.225}
)

var DefaultExtensions = []string{"jpg", "jpeg", "png", "bmp", "gif", "tiff", "tif"}

// AnchorsFor is the number of predictions a YOLOv8 head emits for the given input size,
// one per cell of the stride 8, 16 and 32 feature maps.
func AnchorsFor(width, height int) int {
	total := 0
	for _, stride := range []int{8, 16, 32} {
		total += (width / stride) * (height / stride)
	}
	return total
}
