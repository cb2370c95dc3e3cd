package media

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a resource identifier does not name a readable file
var ErrNotFound = errors.New("media resource not found")

// Opener resolves an RTSP resource identifier to a frame source
type Opener interface {
	Open(resource string) (Source, error)
}

// Library serves files below a root directory
type Library struct {
	root   string
	format string
}

// NewLibrary creates a library rooted at root reading frames in format
func NewLibrary(root, format string) (*Library, error) {
	if !ValidFormat(format) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid media root %q: %w", root, err)
	}

	return &Library{root: abs, format: format}, nil
}

// Open opens the file named by resource. Both bare names ("movie.Mjpeg")
// and absolute URLs ("rtsp://host:554/movie.Mjpeg") are accepted.
func (l *Library) Open(resource string) (Source, error) {
	name, err := l.resolve(resource)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, resource)
		}
		return nil, fmt.Errorf("failed to open %s: %w", resource, err)
	}

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, resource)
	}

	slog.Debug("Media resource opened", "resource", resource, "file", name, "size", info.Size())

	return NewSource(f, l.format)
}

// resolve maps resource onto a path that cannot leave the library root
func (l *Library) resolve(resource string) (string, error) {
	p := resource
	if u, err := url.Parse(resource); err == nil && u.Scheme != "" {
		p = u.Path
	}

	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return "", fmt.Errorf("%w: empty resource", ErrNotFound)
	}

	clean := path.Clean("/" + p)
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}
