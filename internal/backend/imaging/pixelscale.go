package imaging

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"

	xdraw "golang.org/x/image/draw"
)

// PixelScaleCommand fits an image into a bounding box while keeping its
// aspect ratio. Images already inside the box are returned unchanged.
type PixelScaleCommand struct {
	name      string
	maxWidth  int
	maxHeight int
}

func NewPixelScaleCommand(params map[string]any) (Command, error) {
	_, hasWidth := params["width"]
	_, hasHeight := params["height"]
	if !hasWidth && !hasHeight {
		return nil, fmt.Errorf("at least one of 'width' or 'height' must be specified")
	}

	width := GetIntParam(params, "width", 0)
	height := GetIntParam(params, "height", 0)
	if hasWidth && width <= 0 {
		return nil, fmt.Errorf("width must be positive, got %d", width)
	}
	if hasHeight && height <= 0 {
		return nil, fmt.Errorf("height must be positive, got %d", height)
	}

	return &PixelScaleCommand{
		name:      "PixelScaleCommand",
		maxWidth:  width,
		maxHeight: height,
	}, nil
}

func (c *PixelScaleCommand) Name() string {
	return c.name
}

func (c *PixelScaleCommand) Execute(imageData []byte) ([]byte, error) {
	img, _, err := Decode(bytes.NewReader(imageData))
	if err != nil {
		slog.Error("PixelScaleCommand: failed to decode image", "error", err)
		return nil, err
	}

	bounds := img.Bounds()
	w, h := fitInto(bounds.Dx(), bounds.Dy(), c.maxWidth, c.maxHeight)
	if w == bounds.Dx() && h == bounds.Dy() {
		slog.Debug("PixelScaleCommand: image already fits", "width", w, "height", h)
		return imageData, nil
	}

	slog.Debug("PixelScaleCommand: scaling image",
		"original_width", bounds.Dx(),
		"original_height", bounds.Dy(),
		"target_width", w,
		"target_height", h)

	return EncodePNG(Scale(img, w, h))
}

// Scale resamples img to exactly width x height.
func Scale(img image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)
	return dst
}

// fitInto returns the largest size not exceeding the box that keeps the
// aspect ratio of width x height. A zero bound is unconstrained.
func fitInto(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= 0 || height <= 0 {
		return width, height
	}
	scale := 1.0
	if maxWidth > 0 && width > maxWidth {
		scale = float64(maxWidth) / float64(width)
	}
	if maxHeight > 0 && float64(height)*scale > float64(maxHeight) {
		scale = float64(maxHeight) / float64(height)
	}
	if scale >= 1.0 {
		return width, height
	}
	w := int(float64(width) * scale)
	h := int(float64(height) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

func init() {
	mustRegister("PixelScaleCommand", NewPixelScaleCommand)
}
