package capture

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/jo-hoe/imagecapture/internal/backend/imaging"
)

// FileSource returns the content of path on every capture.
func FileSource(path string) Source {
	return func() ([]byte, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read simulated photo: %w", err)
		}
		return data, nil
	}
}

// PatternSource returns a fresh PNG test pattern on every capture.
func PatternSource(width, height int) Source {
	var frame atomic.Int64
	return func() ([]byte, error) {
		img, err := imaging.TestPattern(width, height, int(frame.Add(1)))
		if err != nil {
			return nil, err
		}
		return imaging.EncodePNG(img)
	}
}
