// Package qrcode renders QR codes as PNG images or terminal text.
package qrcode

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	goqrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 256

// Options control the rendered code.
type Options struct {
	// Size is the PNG edge length in pixels. Negative values set the size of
	// each module instead, as go-qrcode does.
	Size int
	// Level is the error correction level: L, M, Q or H.
	Level string
}

// ParseLevel maps L/M/Q/H (case-insensitive) to a recovery level. Empty means M.
func ParseLevel(level string) (goqrcode.RecoveryLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "L":
		return goqrcode.Low, nil
	case "", "M":
		return goqrcode.Medium, nil
	case "Q":
		return goqrcode.High, nil
	case "H":
		return goqrcode.Highest, nil
	default:
		return 0, errors.Errorf("invalid error correction level %q, expected L, M, Q or H", level)
	}
}

func (o Options) normalize() (goqrcode.RecoveryLevel, int, error) {
	level, err := ParseLevel(o.Level)
	if err != nil {
		return 0, 0, err
	}
	size := o.Size
	if size == 0 {
		size = DefaultSize
	}
	return level, size, nil
}

// Generate encodes content as a PNG.
func Generate(content string, opts Options) ([]byte, error) {
	if content == "" {
		return nil, errors.New("content is required")
	}
	level, size, err := opts.normalize()
	if err != nil {
		return nil, err
	}

	png, err := goqrcode.Encode(content, level, size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode QR code")
	}
	return png, nil
}

// WriteFile encodes content as a PNG at path, creating parent directories.
func WriteFile(content, path string, opts Options) error {
	png, err := Generate(content, opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// Terminal renders content with half-block characters for display in a terminal.
func Terminal(content string, opts Options) (string, error) {
	if content == "" {
		return "", errors.New("content is required")
	}
	level, _, err := opts.normalize()
	if err != nil {
		return "", err
	}

	q, err := goqrcode.New(content, level)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode QR code")
	}
	return q.ToSmallString(false), nil
}
