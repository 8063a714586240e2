package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jo-hoe/imagecapture/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T) (*provider.FileProvider, string, string) {
	t.Helper()
	cache := filepath.Join(t.TempDir(), "cache")
	images := filepath.Join(t.TempDir(), "files", "images")
	p, err := provider.NewFileProvider("com.example.imagecapture.provider",
		provider.Root{Name: CacheRootName, Dir: cache},
		provider.Root{Name: ImagesRootName, Dir: images},
	)
	require.NoError(t, err)
	return p, cache, images
}

// stepClock returns a clock advancing by step on each call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	current := start
	return func() time.Time {
		t := current
		current = current.Add(step)
		return t
	}
}

func TestTempPolicy_Name(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	policy := TempPolicy("/cache", func() time.Time { return at })

	assert.Equal(t, "picture_1700000000123.png", policy.Name())
	assert.Equal(t, "/cache", policy.Directory)
}

func TestMint_TempTargetsAreDistinct(t *testing.T) {
	p, cache, _ := newTestProvider(t)
	m := NewMinter(p, TempPolicy(cache, stepClock(time.UnixMilli(1000), 2*time.Millisecond)))

	seen := map[provider.ImageReference]bool{}
	for i := 0; i < 5; i++ {
		ref, err := m.Mint()
		require.NoError(t, err)
		assert.False(t, seen[ref], "duplicate reference %s", ref)
		seen[ref] = true
	}

	entries, err := os.ReadDir(cache)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestMint_CreatesDirectoryAndEmptyFile(t *testing.T) {
	p, _, images := newTestProvider(t)
	m := NewMinter(p, FolderPolicy(images))

	ref, err := m.Mint()
	require.NoError(t, err)
	assert.Equal(t, provider.ImageReference("content://com.example.imagecapture.provider/images/newPicture.jpg"), ref)

	info, err := os.Stat(filepath.Join(images, FolderPictureName))
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

func TestMint_FolderOverwrites(t *testing.T) {
	p, _, images := newTestProvider(t)
	m := NewMinter(p, FolderPolicy(images))

	first, err := m.Mint()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(images, FolderPictureName), []byte("first"), 0o644))

	second, err := m.Mint()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	data, err := os.ReadFile(filepath.Join(images, FolderPictureName))
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestMint_DirectoryBlocked(t *testing.T) {
	p, cache, _ := newTestProvider(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cache), 0o755))
	// a regular file where the directory should be
	require.NoError(t, os.WriteFile(cache, []byte("x"), 0o644))

	_, err := MintCaptureTarget(p, cache, func() string { return "a.png" })
	assert.Error(t, err)
}

func TestMint_OutsideProviderRoots(t *testing.T) {
	p, _, _ := newTestProvider(t)

	_, err := MintCaptureTarget(p, t.TempDir(), func() string { return "a.png" })
	assert.ErrorIs(t, err, provider.ErrOutsideRoots)
}
