package detections

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/mri-vision/tumor-detection-service/models"
)

const (
	AnnotationLabel = "TUMOR DETECTED"
	boxThickness    = 4
	labelPadding    = 3
)

var (
	boxColor   = color.NRGBA{R: 255, A: 255}
	labelColor = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)

// Annotate draws the primary detection of set on the image in raw and returns it as a PNG
// data URL. An empty set yields an empty string.
func Annotate(raw []byte, set models.DetectionSet) (string, error) {
	primary, ok := set.Primary()
	if !ok {
		return "", nil
	}

	img, err := decodeImage(raw)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	canvas := imaging.Clone(img)

	x1 := int(math.Round(primary.Box.X()))
	y1 := int(math.Round(primary.Box.Y()))
	x2 := int(math.Round(primary.Box.X() + primary.Box.Width()))
	y2 := int(math.Round(primary.Box.Y() + primary.Box.Height()))

	drawRect(canvas, x1, y1, x2, y2, boxColor)
	drawLabel(canvas, x1, y1, AnnotationLabel)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return "", fmt.Errorf("failed to encode annotated image: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func drawRect(img *image.NRGBA, x1, y1, x2, y2 int, col color.Color) {
	bounds := img.Bounds()

	setPixel := func(x, y int) {
		if x >= bounds.Min.X && x < bounds.Max.X && y >= bounds.Min.Y && y < bounds.Max.Y {
			img.Set(x, y, col)
		}
	}

	for t := 0; t < boxThickness; t++ {
		for x := x1; x <= x2; x++ {
			setPixel(x, y1+t)
			setPixel(x, y2-t)
		}
		for y := y1; y <= y2; y++ {
			setPixel(x1+t, y)
			setPixel(x2-t, y)
		}
	}
}

// drawLabel writes text on a filled tab above the box, or just inside it when the box
// touches the top edge.
func drawLabel(img *image.NRGBA, x, y int, text string) {
	face := basicfont.Face7x13
	metrics := face.Metrics()
	textHeight := (metrics.Ascent + metrics.Descent).Ceil()
	textWidth := font.MeasureString(face, text).Ceil()

	top := y - textHeight - 2*labelPadding
	if top < img.Bounds().Min.Y {
		top = y
	}
	tab := image.Rect(x, top, x+textWidth+2*labelPadding, top+textHeight+2*labelPadding)
	draw.Draw(img, tab.Intersect(img.Bounds()), image.NewUniform(boxColor), image.Point{}, draw.Src)

	drawer := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(labelColor),
		Face: face,
		Dot:  fixed.P(x+labelPadding, top+labelPadding+metrics.Ascent.Ceil()),
	}
	drawer.DrawString(text)
}
