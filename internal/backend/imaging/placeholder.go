package imaging

import (
	"fmt"
	"image"
	"image/color"
)

// CameraIcon is shown in panels that have no picture yet.
const CameraIcon = `<svg xmlns="http://www.w3.org/2000/svg" width="96" height="96" viewBox="0 0 24 24">
	<rect x="2" y="6" width="20" height="14" rx="2" fill="#9aa5b1"/>
	<rect x="8" y="3" width="8" height="4" rx="1" fill="#9aa5b1"/>
	<circle cx="12" cy="13" r="4.5" fill="#ffffff"/>
	<circle cx="12" cy="13" r="3" fill="#52606d"/>
</svg>`

// Placeholder renders the camera icon as a PNG of the given size.
func Placeholder(width, height int) ([]byte, error) {
	return RenderSVG([]byte(CameraIcon), width, height)
}

// TestPattern draws a deterministic gradient with a frame counter encoded
// in its blue channel, standing in for a real camera frame.
func TestPattern(width, height int, frame int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid test pattern size: %dx%d", width, height)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	blue := uint8(frame * 37 % 256)
	parallelFor(height, func(y int) {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / width),
				G: uint8(y * 255 / height),
				B: blue,
				A: 255,
			})
		}
	})
	return img, nil
}
