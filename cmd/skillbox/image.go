package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/imagegen"
	"github.com/jingkaihe/skillbox/pkg/presenter"
)

type ImageConfig struct {
	Count        int
	Model        string
	Size         string
	Quality      string
	Background   string
	OutputFormat string
	Style        string
	OutDir       string
	JSON         bool
}

func NewImageConfig() *ImageConfig {
	return &ImageConfig{
		Count:        1,
		Model:        imagegen.DefaultModel,
		OutputFormat: "png",
		Style:        "vivid",
	}
}

var imageCmd = &cobra.Command{
	Use:   "image <prompt...>",
	Short: "Generate images with the OpenAI Images API",
	Long: `Generate images with the OpenAI Images API and write them, a prompts.json
manifest and an index.html gallery to an output directory.

Examples:
  skillbox image "a lighthouse at dusk, oil painting"
  skillbox image "app icon, flat" --model gpt-image-1 --background transparent --count 4`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getImageConfigFromFlags(cmd)
		imageCommand(cmd.Context(), strings.Join(args, " "), config)
	},
}

func init() {
	defaults := NewImageConfig()
	imageCmd.Flags().IntP("count", "n", defaults.Count, "Number of images")
	imageCmd.Flags().String("model", defaults.Model, "dall-e-2, dall-e-3 or gpt-image-1")
	imageCmd.Flags().String("size", defaults.Size, "Image size (defaults to the model's)")
	imageCmd.Flags().String("quality", defaults.Quality, "Image quality (defaults to the model's)")
	imageCmd.Flags().String("background", defaults.Background, "gpt-image background: transparent, opaque or auto")
	imageCmd.Flags().String("output-format", defaults.OutputFormat, "gpt-image output format: png, jpeg or webp")
	imageCmd.Flags().String("style", defaults.Style, "dall-e-3 style: vivid or natural")
	imageCmd.Flags().StringP("out-dir", "o", defaults.OutDir, "Output directory")
	imageCmd.Flags().Bool("json", defaults.JSON, "Output the result as JSON")
	rootCmd.AddCommand(imageCmd)
}

func getImageConfigFromFlags(cmd *cobra.Command) *ImageConfig {
	config := NewImageConfig()
	if count, err := cmd.Flags().GetInt("count"); err == nil {
		config.Count = count
	}
	if model, err := cmd.Flags().GetString("model"); err == nil {
		config.Model = model
	}
	if size, err := cmd.Flags().GetString("size"); err == nil {
		config.Size = size
	}
	if quality, err := cmd.Flags().GetString("quality"); err == nil {
		config.Quality = quality
	}
	if background, err := cmd.Flags().GetString("background"); err == nil {
		config.Background = background
	}
	if format, err := cmd.Flags().GetString("output-format"); err == nil {
		config.OutputFormat = format
	}
	if style, err := cmd.Flags().GetString("style"); err == nil {
		config.Style = style
	}
	if outDir, err := cmd.Flags().GetString("out-dir"); err == nil {
		config.OutDir = outDir
	}
	if asJSON, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSON = asJSON
	}
	return config
}

func imageCommand(ctx context.Context, prompt string, config *ImageConfig) {
	cfg := loadConfig()
	apiKey := resolveSecret(ctx, cfg, cfg.OpenAI.APIKey, "openai")

	gen, err := imagegen.NewGenerator(apiKey, cfg.OpenAI.BaseURL, newHTTPClient(cfg))
	if err != nil {
		if exitCodeFor(err) == exitUsage {
			usageError(err, "image generation is not configured")
		}
		fail(err, "failed to create generator")
	}
	if !config.JSON {
		gen.Progress = func(i, n int) {
			fmt.Fprintf(os.Stderr, "[%d/%d] generating...\n", i, n)
		}
	}

	result, err := gen.Generate(ctx, imagegen.Options{
		Prompt:       prompt,
		Count:        config.Count,
		Model:        config.Model,
		Size:         config.Size,
		Quality:      config.Quality,
		Background:   config.Background,
		OutputFormat: config.OutputFormat,
		Style:        config.Style,
		OutDir:       config.OutDir,
	})
	if err != nil {
		fail(err, "image generation failed")
	}

	if config.JSON {
		printJSON(result)
		return
	}
	for _, item := range result.Items {
		fmt.Println(filepath.Join(result.OutDir, item.File))
	}
	presenter.Success(fmt.Sprintf("%d image(s) in %s, gallery at %s", len(result.Items), result.OutDir, result.Gallery))
}
