package detections

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/mri-vision/tumor-detection-service/models"
)

type PreprocessorConfig struct {
	Width      int
	Height     int
	Mean       [3]float32
	Std        [3]float32
	Extensions []string
}

func DefaultPreprocessorConfig() PreprocessorConfig {
	return PreprocessorConfig{
		Width:      InputWidth,
		Height:     InputHeight,
		Mean:       DefaultMean,
		Std:        DefaultStd,
		Extensions: DefaultExtensions,
	}
}

// Preprocessor turns raw image bytes into the model's input tensor. It is safe for
// concurrent use; every call allocates its own tensor.
type Preprocessor struct {
	width, height int
	extensions    map[string]bool
	formats       map[string]bool
	channels      *channelProcessor
}

func NewPreprocessor(cfg PreprocessorConfig) *Preprocessor {
	p := &Preprocessor{
		width:      cfg.Width,
		height:     cfg.Height,
		extensions: make(map[string]bool, len(cfg.Extensions)),
		formats:    make(map[string]bool, len(cfg.Extensions)),
		channels:   newChannelProcessor(cfg.Width, cfg.Height, cfg.Mean, cfg.Std),
	}

	for _, ext := range cfg.Extensions {
		ext = normalizeExtension(ext)
		p.extensions[ext] = true
		p.formats[formatForExtension(ext)] = true
	}

	return p
}

func (p *Preprocessor) InputSize() (width, height int) {
	return p.width, p.height
}

// Accepts reports whether ext (with or without the leading dot) is an accepted extension.
func (p *Preprocessor) Accepts(ext string) bool {
	return p.extensions[normalizeExtension(ext)]
}

// Preprocess decodes raw, stretches it to the input resolution and normalizes it.
// ext is optional and only used to reject undeclared formats early.
func (p *Preprocessor) Preprocess(raw []byte, ext string) (*models.Tensor, error) {
	return p.preprocess(raw, ext, &models.ProcessingTimings{})
}

func (p *Preprocessor) preprocess(raw []byte, ext string, timings *models.ProcessingTimings) (*models.Tensor, error) {
	if len(raw) == 0 {
		return nil, invalidInput("empty image", nil)
	}
	if ext != "" && !p.Accepts(ext) {
		return nil, invalidInput(fmt.Sprintf("unsupported file type %q", ext), nil)
	}

	decodeStart := time.Now()
	_, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, invalidInput("failed to decode image", err)
	}
	if !p.formats[format] {
		return nil, invalidInput(fmt.Sprintf("unsupported image format %q", format), nil)
	}

	img, err := decodeImage(raw)
	if err != nil {
		return nil, invalidInput("failed to decode image", err)
	}
	timings.ImageDecode = time.Since(decodeStart)

	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()
	if origW <= 0 || origH <= 0 {
		return nil, invalidInput("image has no pixels", nil)
	}

	resizeStart := time.Now()
	resized := imaging.Resize(img, p.width, p.height, imaging.Linear)
	timings.Resize = time.Since(resizeStart)
	if resized.Bounds().Dx() != p.width || resized.Bounds().Dy() != p.height {
		return nil, invalidInput("unexpected resized shape", nil)
	}

	prepStart := time.Now()
	data := make([]float32, InputChannels*p.width*p.height)
	p.channels.process(resized, data)
	timings.Preprocess = time.Since(prepStart)

	return &models.Tensor{
		Data:           data,
		Channels:       InputChannels,
		Height:         p.height,
		Width:          p.width,
		ScaleX:         float64(origW) / float64(p.width),
		ScaleY:         float64(origH) / float64(p.height),
		OriginalWidth:  origW,
		OriginalHeight: origH,
		Format:         format,
	}, nil
}

func normalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// formatForExtension maps a file extension to the name image.DecodeConfig reports.
func formatForExtension(ext string) string {
	switch ext {
	case "jpg", "jpeg":
		return "jpeg"
	case "tif", "tiff":
		return "tiff"
	default:
		return ext
	}
}
