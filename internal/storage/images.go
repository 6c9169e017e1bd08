// Package storage persists uploaded images under the public upload directory.
package storage

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// PublicPrefix is the URL path uploads are served under.
	PublicPrefix = "/static/uploads/"

	suffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffixLength   = 8

	// fallbackMIME matches the extension every upload is saved with.
	fallbackMIME = "image/jpeg"
)

// StoredImage describes a file written by Images.Save.
type StoredImage struct {
	Path string // filesystem path, recorded in the session
	URL  string // public URL
	Size int64
}

// Images writes uploads verbatim into a single directory.
type Images struct {
	dir string
	now func() time.Time
}

// NewImages creates dir if needed.
func NewImages(dir string) (*Images, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Images{dir: dir, now: time.Now}, nil
}

// Dir returns the upload directory.
func (s *Images) Dir() string {
	return s.dir
}

// Filename builds {session}_{timestamp}_{suffix}.jpg. The random suffix
// keeps two uploads from the same session in the same second apart.
func (s *Images) Filename(sessionID string) (string, error) {
	suffix, err := gonanoid.Generate(suffixAlphabet, suffixLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate filename suffix: %w", err)
	}
	return fmt.Sprintf("%s_%s_%s.jpg", sessionID, s.now().Format("20060102150405"), suffix), nil
}

// Save copies r into a new file for the session. No re-encoding or format
// checks are done; the bytes land on disk as received.
func (s *Images) Save(sessionID string, r io.Reader) (*StoredImage, error) {
	name, err := s.Filename(sessionID)
	if err != nil {
		return nil, err
	}
	fullPath := filepath.Join(s.dir, name)

	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create image file: %w", err)
	}

	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(fullPath)
		return nil, fmt.Errorf("failed to write image file: %w", err)
	}

	return &StoredImage{
		Path: fullPath,
		URL:  path.Join(PublicPrefix, name),
		Size: n,
	}, nil
}

// DataURL reads a stored image and returns it as a base64 data URL. The MIME
// type is sniffed from the content and falls back to image/jpeg.
func (s *Images) DataURL(imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	return EncodeDataURL(data), nil
}

// EncodeDataURL embeds data in a data: URL.
func EncodeDataURL(data []byte) string {
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		mime = fallbackMIME
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Handler serves stored files read-only under PublicPrefix.
func (s *Images) Handler() http.Handler {
	return http.StripPrefix(PublicPrefix, http.FileServer(noDirFS{http.Dir(s.dir)}))
}

// noDirFS hides directory listings.
type noDirFS struct {
	fs http.FileSystem
}

func (n noDirFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
