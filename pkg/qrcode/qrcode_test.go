package qrcode

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	goqrcode "github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected goqrcode.RecoveryLevel
		wantErr  bool
	}{
		{"", goqrcode.Medium, false},
		{"l", goqrcode.Low, false},
		{"M", goqrcode.Medium, false},
		{"Q", goqrcode.High, false},
		{" h ", goqrcode.Highest, false},
		{"X", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.ErrorContains(t, err, "invalid error correction level")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestGenerate(t *testing.T) {
	data, err := Generate("https://example.com", Options{Size: 128, Level: "H"})
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())
	assert.Equal(t, 128, img.Bounds().Dy())

	data, err = Generate("hello", Options{})
	require.NoError(t, err)
	img, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, img.Bounds().Dx())

	_, err = Generate("", Options{})
	assert.EqualError(t, err, "content is required")

	_, err = Generate("x", Options{Level: "Z"})
	assert.Error(t, err)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "code.png")
	require.NoError(t, WriteFile("wifi:secret", path, Options{Size: 64}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

func TestTerminal(t *testing.T) {
	out, err := Terminal("hello", Options{Level: "L"})
	require.NoError(t, err)
	assert.Contains(t, out, "█")
	assert.Greater(t, len(bytes.Split([]byte(out), []byte("\n"))), 10)
}
