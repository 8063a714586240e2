package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
)

// OrientationCommand rotates an image by 90 degrees when its orientation does
// not match the configured one. Square images are left alone.
type OrientationCommand struct {
	name        string
	orientation string
	clockwise   bool
}

func NewOrientationCommand(params map[string]any) (Command, error) {
	orientation := GetStringParam(params, "orientation", "portrait")
	if orientation != "portrait" && orientation != "landscape" {
		return nil, fmt.Errorf("invalid orientation: %s (must be 'portrait' or 'landscape')", orientation)
	}
	return &OrientationCommand{
		name:        "OrientationCommand",
		orientation: orientation,
		clockwise:   GetBoolParam(params, "clockwise", true),
	}, nil
}

func (c *OrientationCommand) Name() string {
	return c.name
}

func (c *OrientationCommand) Execute(imageData []byte) ([]byte, error) {
	img, _, err := Decode(bytes.NewReader(imageData))
	if err != nil {
		slog.Error("OrientationCommand: failed to decode image", "error", err)
		return nil, err
	}

	b := img.Bounds()
	if b.Dx() == b.Dy() {
		return imageData, nil
	}
	portrait := b.Dy() > b.Dx()
	if portrait == (c.orientation == "portrait") {
		return imageData, nil
	}

	slog.Debug("OrientationCommand: rotating image",
		"width", b.Dx(),
		"height", b.Dy(),
		"target_orientation", c.orientation,
		"clockwise", c.clockwise)
	return EncodePNG(Rotate90(img, c.clockwise))
}

// Rotate90 returns img rotated by a quarter turn.
func Rotate90(img image.Image, clockwise bool) *image.RGBA {
	b := img.Bounds()
	src := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)

	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	parallelFor(h, func(y int) {
		for x := 0; x < w; x++ {
			if clockwise {
				dst.SetRGBA(h-1-y, x, src.RGBAAt(x, y))
			} else {
				dst.SetRGBA(y, w-1-x, src.RGBAAt(x, y))
			}
		}
	})
	return dst
}

func init() {
	mustRegister("OrientationCommand", NewOrientationCommand)
}
