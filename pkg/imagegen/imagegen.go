// Package imagegen generates images with the OpenAI Images API and writes
// them, with a prompts.json manifest and an HTML gallery, to a directory.
package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/skillbox/pkg/httpclient"
	"github.com/jingkaihe/skillbox/pkg/logger"
	"github.com/jingkaihe/skillbox/pkg/telemetry"
	"github.com/jingkaihe/skillbox/pkg/textutil"
)

const (
	ModelDallE2    = "dall-e-2"
	ModelDallE3    = "dall-e-3"
	ModelGPTImage1 = "gpt-image-1"

	DefaultModel = ModelDallE3

	// slugLength bounds the prompt part of generated file names
	slugLength = 40
)

// ErrMissingAPIKey is returned when no OpenAI key is configured. The CLI
// maps it to exit status 2.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY not set (get an API key from https://platform.openai.com/api-keys)")

// Options describe one generation batch.
type Options struct {
	Prompt       string
	Count        int
	Model        string
	Size         string
	Quality      string
	Background   string
	OutputFormat string
	Style        string
	OutDir       string
}

// Item records one generated file.
type Item struct {
	Prompt string `json:"prompt"`
	File   string `json:"file"`
}

// Result describes a finished batch.
type Result struct {
	OutDir  string `json:"out_dir"`
	Items   []Item `json:"items"`
	Gallery string `json:"gallery"`
}

// Generator calls the Images API.
type Generator struct {
	client   *openai.Client
	download *httpclient.Client
	now      func() time.Time
	// Progress, when set, is called before each request with a 1-based index.
	Progress func(i, n int)
}

// NewGenerator creates a generator. baseURL overrides the API endpoint.
func NewGenerator(apiKey, baseURL string, hc *httpclient.Client) (*Generator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if hc == nil {
		hc = httpclient.New()
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	// image generation can take minutes
	cfg.HTTPClient = &http.Client{Timeout: 300 * time.Second, Transport: hc.HTTP.Transport}

	return &Generator{
		client:   openai.NewClientWithConfig(cfg),
		download: hc,
		now:      time.Now,
	}, nil
}

// IsGPTImage reports whether model belongs to the gpt-image family.
func IsGPTImage(model string) bool {
	return strings.HasPrefix(model, "gpt-image")
}

// ModelDefaults returns the default size and quality for model.
func ModelDefaults(model string) (size, quality string) {
	switch model {
	case ModelDallE2, ModelDallE3:
		return "1024x1024", "standard"
	default:
		return "1024x1024", "high"
	}
}

// FileExtension is the output_format for gpt-image models and png otherwise.
func FileExtension(model, outputFormat string) string {
	if IsGPTImage(model) && outputFormat != "" {
		return outputFormat
	}
	return "png"
}

// FileName builds NNN-<slug>.<ext> for the index-th image (1-based).
func FileName(index int, prompt, ext string) string {
	return fmt.Sprintf("%03d-%s.%s", index, textutil.SlugifyMax(prompt, slugLength), ext)
}

// BuildRequest applies model defaults and the per-model parameter rules:
// dall-e-2 takes no quality, background and output_format only go to
// gpt-image models, and style only to dall-e-3.
func BuildRequest(opts Options) openai.ImageRequest {
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	size, quality := ModelDefaults(model)
	if opts.Size != "" {
		size = opts.Size
	}
	if opts.Quality != "" {
		quality = opts.Quality
	}

	req := openai.ImageRequest{
		Prompt: opts.Prompt,
		Model:  model,
		Size:   size,
		N:      1,
	}
	if model != ModelDallE2 {
		req.Quality = quality
	}
	if IsGPTImage(model) {
		req.Background = opts.Background
		req.OutputFormat = opts.OutputFormat
	}
	if model == ModelDallE3 {
		req.Style = opts.Style
	}
	return req
}

// DefaultOutDir is ~/Projects/tmp/image-gen-<ts> when ~/Projects/tmp exists
// and ./tmp/image-gen-<ts> otherwise.
func DefaultOutDir(now time.Time) string {
	base := "tmp"
	if home, err := os.UserHomeDir(); err == nil {
		preferred := filepath.Join(home, "Projects", "tmp")
		if info, err := os.Stat(preferred); err == nil && info.IsDir() {
			base = preferred
		}
	}
	return filepath.Join(base, "image-gen-"+now.Format("2006-01-02-15-04-05"))
}

// Generate runs opts.Count sequential requests and writes every image, then
// prompts.json and index.html.
func (g *Generator) Generate(ctx context.Context, opts Options) (*Result, error) {
	log := logger.G(ctx)

	if strings.TrimSpace(opts.Prompt) == "" {
		return nil, errors.New("prompt is required")
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	count := opts.Count
	if count < 1 {
		count = 1
	}
	if opts.Model == ModelDallE3 && count > 1 {
		log.WithField("count", count).Warn("DALL-E 3 only supports 1 image per request, generating sequential requests")
	}

	outDir := opts.OutDir
	if outDir == "" {
		outDir = DefaultOutDir(g.now())
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create output directory")
	}

	ext := FileExtension(opts.Model, opts.OutputFormat)
	req := BuildRequest(opts)
	items := make([]Item, 0, count)

	for i := range count {
		if g.Progress != nil {
			g.Progress(i+1, count)
		}
		log.WithField("image", i+1).WithField("model", req.Model).Debug("requesting image")

		var resp openai.ImageResponse
		err := telemetry.SkillSpan(ctx, "image-gen", "create", func(ctx context.Context) error {
			var err error
			resp, err = g.client.CreateImage(ctx, req)
			return err
		}, attribute.String("image.model", req.Model), attribute.Int("image.index", i+1))
		if err != nil {
			return nil, errors.Wrap(err, "OpenAI Images API failed")
		}
		if len(resp.Data) == 0 || (resp.Data[0].B64JSON == "" && resp.Data[0].URL == "") {
			raw, _ := json.Marshal(resp)
			return nil, errors.Errorf("unexpected response: %.400s", raw)
		}

		name := FileName(len(items)+1, opts.Prompt, ext)
		path := filepath.Join(outDir, name)
		if err := g.save(ctx, resp.Data[0], path); err != nil {
			return nil, err
		}
		items = append(items, Item{Prompt: opts.Prompt, File: name})
	}

	manifest, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode prompts.json")
	}
	if err := os.WriteFile(filepath.Join(outDir, "prompts.json"), manifest, 0o644); err != nil {
		return nil, errors.Wrap(err, "failed to write prompts.json")
	}
	gallery, err := WriteGallery(outDir, items)
	if err != nil {
		return nil, err
	}

	return &Result{OutDir: outDir, Items: items, Gallery: gallery}, nil
}

func (g *Generator) save(ctx context.Context, data openai.ImageResponseDataInner, path string) error {
	if data.B64JSON != "" {
		img, err := base64.StdEncoding.DecodeString(data.B64JSON)
		if err != nil {
			return errors.Wrap(err, "failed to decode image payload")
		}
		return errors.Wrap(os.WriteFile(path, img, 0o644), "failed to write image")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, data.URL, nil)
	if err != nil {
		return errors.Wrapf(err, "invalid image URL %s", data.URL)
	}
	resp, err := g.download.Do(ctx, req)
	if err != nil {
		return errors.Wrapf(err, "failed to download image from %s", data.URL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("failed to download image from %s: status %d", data.URL, resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create image file")
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return errors.Wrap(err, "failed to write image")
	}
	return nil
}
