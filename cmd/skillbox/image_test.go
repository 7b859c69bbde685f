package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillbox/pkg/imagegen"
)

func TestImageMissingKeyIsUsageError(t *testing.T) {
	_, err := imagegen.NewGenerator("  ", "", nil)
	require.ErrorIs(t, err, imagegen.ErrMissingAPIKey)
	assert.Equal(t, exitUsage, exitCodeFor(err))
	assert.Equal(t, 2, exitCodeFor(err))
}

func TestImageConfigFromFlags(t *testing.T) {
	newCmd := func() *cobra.Command {
		defaults := NewImageConfig()
		cmd := &cobra.Command{Use: "image"}
		cmd.Flags().IntP("count", "n", defaults.Count, "")
		cmd.Flags().String("model", defaults.Model, "")
		cmd.Flags().String("size", defaults.Size, "")
		cmd.Flags().String("quality", defaults.Quality, "")
		cmd.Flags().String("background", defaults.Background, "")
		cmd.Flags().String("output-format", defaults.OutputFormat, "")
		cmd.Flags().String("style", defaults.Style, "")
		cmd.Flags().StringP("out-dir", "o", defaults.OutDir, "")
		cmd.Flags().Bool("json", defaults.JSON, "")
		return cmd
	}

	tests := []struct {
		name     string
		args     []string
		expected *ImageConfig
	}{
		{
			name:     "defaults",
			expected: NewImageConfig(),
		},
		{
			name: "gpt-image options",
			args: []string{"-n", "4", "--model", "gpt-image-1", "--background", "transparent", "--output-format", "webp", "-o", "/tmp/icons", "--json"},
			expected: &ImageConfig{
				Count:        4,
				Model:        "gpt-image-1",
				Background:   "transparent",
				OutputFormat: "webp",
				Style:        "vivid",
				OutDir:       "/tmp/icons",
				JSON:         true,
			},
		},
		{
			name: "dall-e-3 options",
			args: []string{"--model", "dall-e-3", "--size", "1792x1024", "--quality", "hd", "--style", "natural"},
			expected: &ImageConfig{
				Count:        1,
				Model:        "dall-e-3",
				Size:         "1792x1024",
				Quality:      "hd",
				OutputFormat: "png",
				Style:        "natural",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newCmd()
			require.NoError(t, cmd.ParseFlags(tt.args))
			assert.Equal(t, tt.expected, getImageConfigFromFlags(cmd))
		})
	}

	t.Run("unregistered flags keep defaults", func(t *testing.T) {
		assert.Equal(t, NewImageConfig(), getImageConfigFromFlags(&cobra.Command{Use: "image"}))
	})
}
