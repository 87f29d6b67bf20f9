// Package imagecheck screens uploads before they reach a classifier.
package imagecheck

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"mime"

	// Registered decoders for DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedImage is returned for payloads that are not a known image format.
var ErrUnsupportedImage = errors.New("unsupported image format")

var allowedContentTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/gif":  {},
	"image/bmp":  {},
	"image/webp": {},
	"image/tiff": {},
	// Browsers and curl send these when they cannot tell; the bytes decide.
	"application/octet-stream": {},
	"":                         {},
}

// Info describes a decoded image header.
type Info struct {
	Format string
	Width  int
	Height int
}

// AllowedContentType reports whether a declared upload content type may hold an image.
func AllowedContentType(contentType string) bool {
	mediaType := contentType
	if contentType != "" {
		parsed, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return false
		}
		mediaType = parsed
	}
	_, ok := allowedContentTypes[mediaType]
	return ok
}

// Inspect decodes only the image header and reports its format and size.
func Inspect(data []byte) (Info, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Info{}, fmt.Errorf("%w: empty dimensions %dx%d", ErrUnsupportedImage, cfg.Width, cfg.Height)
	}
	return Info{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}
