// Package sniff detects a file's content type from its leading bytes.
package sniff

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Detector returns the content type of a file as major/minor.
type Detector interface {
	Detect(path string) (string, error)
}

// Magic detects content types by signature.
type Magic struct{}

// Detect reads the head of path and returns its media type without parameters.
func (Magic) Detect(path string) (string, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect %s: %w", path, err)
	}
	return Essence(m.String()), nil
}

// Essence strips parameters from a media type, "text/plain; charset=utf-8"
// becomes "text/plain".
func Essence(mediaType string) string {
	if semi := strings.IndexByte(mediaType, ';'); semi >= 0 {
		mediaType = mediaType[:semi]
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// Static always reports the same content type. Used by simulate --type.
type Static string

func (s Static) Detect(string) (string, error) {
	return string(s), nil
}
