package capture

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jo-hoe/imagecapture/internal/provider"
)

const (
	CacheRootName  = "cache_pictures"
	ImagesRootName = "images"

	FolderPictureName = "newPicture.jpg"
)

// NameGenerator returns the file name of the next capture target.
type NameGenerator func() string

// Policy decides where capture targets are placed and how they are named.
type Policy struct {
	Directory string
	Name      NameGenerator
}

// TempPolicy places uniquely named pictures in the cache directory. Names are
// picture_<unix millis>.png, so two targets minted in the same millisecond
// collide.
func TempPolicy(cacheDir string, now func() time.Time) Policy {
	if now == nil {
		now = time.Now
	}
	return Policy{
		Directory: cacheDir,
		Name: func() string {
			return fmt.Sprintf("picture_%d.png", now().UnixMilli())
		},
	}
}

// FolderPolicy places a single fixed-name picture inside <filesDir>/images.
func FolderPolicy(imagesDir string) Policy {
	return Policy{
		Directory: imagesDir,
		Name: func() string {
			return FolderPictureName
		},
	}
}

// MintCaptureTarget creates the directory if needed, creates an empty file
// named by nameGenerator inside it and returns the file's reference.
func MintCaptureTarget(p *provider.FileProvider, directory string, nameGenerator NameGenerator) (provider.ImageReference, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return provider.Empty, fmt.Errorf("failed to create capture directory: %w", err)
	}

	path := filepath.Join(directory, nameGenerator())
	file, err := os.Create(path)
	if err != nil {
		return provider.Empty, fmt.Errorf("failed to create capture file: %w", err)
	}
	if err := file.Close(); err != nil {
		return provider.Empty, fmt.Errorf("failed to close capture file: %w", err)
	}

	ref, err := p.URIForFile(path)
	if err != nil {
		return provider.Empty, fmt.Errorf("failed to create reference for capture file: %w", err)
	}
	slog.Debug("capture: minted target", "ref", ref)
	return ref, nil
}

// Minter binds a provider to a placement policy.
type Minter struct {
	provider *provider.FileProvider
	policy   Policy
}

func NewMinter(p *provider.FileProvider, policy Policy) *Minter {
	return &Minter{provider: p, policy: policy}
}

func (m *Minter) Mint() (provider.ImageReference, error) {
	return MintCaptureTarget(m.provider, m.policy.Directory, m.policy.Name)
}
