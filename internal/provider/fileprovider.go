package provider

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidReference = errors.New("invalid image reference")
	ErrUnknownRoot      = errors.New("unknown provider root")
	ErrOutsideRoots     = errors.New("path is outside of all provider roots")
)

// Root is a named directory that references may point into.
type Root struct {
	Name string
	Dir  string
}

// FileProvider translates filesystem paths under its roots into references
// scoped to its authority, and back.
type FileProvider struct {
	authority string
	roots     []Root
}

func NewFileProvider(authority string, roots ...Root) (*FileProvider, error) {
	if strings.TrimSpace(authority) == "" {
		return nil, fmt.Errorf("provider authority cannot be empty")
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("provider %s needs at least one root", authority)
	}

	seen := make(map[string]bool, len(roots))
	cleaned := make([]Root, 0, len(roots))
	for i, root := range roots {
		if root.Name == "" || strings.Contains(root.Name, "/") {
			return nil, fmt.Errorf("root at index %d has invalid name %q", i, root.Name)
		}
		if seen[root.Name] {
			return nil, fmt.Errorf("duplicate root name: %s", root.Name)
		}
		seen[root.Name] = true

		dir, err := filepath.Abs(root.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root %s: %w", root.Name, err)
		}
		cleaned = append(cleaned, Root{Name: root.Name, Dir: dir})
	}

	return &FileProvider{authority: authority, roots: cleaned}, nil
}

func (p *FileProvider) Authority() string {
	return p.authority
}

// Roots returns a copy of the declared roots.
func (p *FileProvider) Roots() []Root {
	out := make([]Root, len(p.roots))
	copy(out, p.roots)
	return out
}

// RootDir returns the directory of the named root.
func (p *FileProvider) RootDir(name string) (string, error) {
	for _, root := range p.roots {
		if root.Name == name {
			return root.Dir, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownRoot, name)
}

// URIForFile wraps path into a reference. The most specific root containing
// the path wins.
func (p *FileProvider) URIForFile(path string) (ImageReference, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Empty, fmt.Errorf("failed to resolve path: %w", err)
	}

	var best *Root
	var bestRel string
	for i := range p.roots {
		rel, ok := within(p.roots[i].Dir, abs)
		if !ok || rel == "." {
			continue
		}
		if best == nil || len(p.roots[i].Dir) > len(best.Dir) {
			best = &p.roots[i]
			bestRel = rel
		}
	}
	if best == nil {
		return Empty, ErrOutsideRoots
	}

	segments := strings.Split(filepath.ToSlash(bestRel), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return ImageReference(fmt.Sprintf("%s://%s/%s/%s", scheme, p.authority, best.Name, strings.Join(segments, "/"))), nil
}

// Resolve returns the filesystem path a reference points to.
func (p *FileProvider) Resolve(ref ImageReference) (string, error) {
	if ref.IsEmpty() {
		return "", ErrInvalidReference
	}
	u, err := url.Parse(string(ref))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	if u.Scheme != scheme || u.Host != p.authority {
		return "", fmt.Errorf("%w: %s is not served by %s", ErrInvalidReference, ref, p.authority)
	}

	rootName, rel, found := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if !found || rel == "" {
		return "", fmt.Errorf("%w: %s has no file path", ErrInvalidReference, ref)
	}
	dir, err := p.RootDir(rootName)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, filepath.FromSlash(rel))
	if r, ok := within(dir, path); !ok || r == "." {
		return "", fmt.Errorf("%w: %s escapes root %s", ErrInvalidReference, ref, rootName)
	}
	return path, nil
}

func (p *FileProvider) Open(ref ImageReference) (io.ReadCloser, error) {
	path, err := p.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Create opens the referenced file for writing, truncating existing content.
func (p *FileProvider) Create(ref ImageReference) (io.WriteCloser, error) {
	path, err := p.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return os.Create(path)
}

func (p *FileProvider) Stat(ref ImageReference) (os.FileInfo, error) {
	path, err := p.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return os.Stat(path)
}

func within(dir, path string) (string, bool) {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", false
	}
	return rel, true
}
