package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillbox/pkg/config"
	"github.com/jingkaihe/skillbox/pkg/httpclient"
)

func TestBuildRequest(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		quality string
		style   string
		bg      string
		format  string
	}{
		{
			name:    "dall-e-3 keeps style",
			opts:    Options{Prompt: "cat", Model: ModelDallE3, Style: "vivid", Background: "transparent"},
			quality: "standard",
			style:   "vivid",
		},
		{
			name: "dall-e-2 sends no quality",
			opts: Options{Prompt: "cat", Model: ModelDallE2, Quality: "hd", Style: "vivid"},
		},
		{
			name:    "gpt-image sends background and format",
			opts:    Options{Prompt: "cat", Model: ModelGPTImage1, Background: "transparent", OutputFormat: "webp", Style: "vivid"},
			quality: "high",
			bg:      "transparent",
			format:  "webp",
		},
		{
			name:    "explicit quality wins",
			opts:    Options{Prompt: "cat", Model: ModelGPTImage1, Quality: "low"},
			quality: "low",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := BuildRequest(tt.opts)
			assert.Equal(t, "1024x1024", req.Size)
			assert.Equal(t, 1, req.N)
			assert.Equal(t, tt.quality, req.Quality)
			assert.Equal(t, tt.style, req.Style)
			assert.Equal(t, tt.bg, req.Background)
			assert.Equal(t, tt.format, req.OutputFormat)
		})
	}

	assert.Equal(t, DefaultModel, BuildRequest(Options{Prompt: "x"}).Model)
}

func TestFileNaming(t *testing.T) {
	assert.Equal(t, "png", FileExtension(ModelDallE3, "webp"))
	assert.Equal(t, "webp", FileExtension(ModelGPTImage1, "webp"))
	assert.Equal(t, "png", FileExtension(ModelGPTImage1, ""))

	assert.Equal(t, "001-a-lighthouse-at-dusk.png", FileName(1, "A lighthouse at dusk!", "png"))
	name := FileName(12, "an extremely long prompt describing a very detailed scene indeed", "jpeg")
	assert.Equal(t, "012-an-extremely-long-prompt-describing-a-ve.jpeg", name)
}

func TestNewGeneratorRequiresKey(t *testing.T) {
	_, err := NewGenerator("  ", "", nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func newTestHTTPClient() *httpclient.Client {
	return httpclient.New(httpclient.WithRetry(config.RetryConfig{Attempts: 1}))
}

func TestGenerateWritesImagesManifestAndGallery(t *testing.T) {
	png := []byte("\x89PNG fake image")
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/images/generations":
			calls.Add(1)
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "gpt-image-1", body["model"])
			assert.Equal(t, "png", body["output_format"])
			_ = json.NewEncoder(w).Encode(map[string]any{
				"created": 1,
				"data":    []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(png)}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g, err := NewGenerator("sk-test", srv.URL+"/v1", newTestHTTPClient())
	require.NoError(t, err)

	var progress []int
	g.Progress = func(i, _ int) { progress = append(progress, i) }

	outDir := filepath.Join(t.TempDir(), "out")
	res, err := g.Generate(context.Background(), Options{
		Prompt:       "Red fox in snow",
		Count:        2,
		Model:        ModelGPTImage1,
		OutputFormat: "png",
		OutDir:       outDir,
	})
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []int{1, 2}, progress)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "001-red-fox-in-snow.png", res.Items[0].File)
	assert.Equal(t, "002-red-fox-in-snow.png", res.Items[1].File)

	data, err := os.ReadFile(filepath.Join(outDir, res.Items[0].File))
	require.NoError(t, err)
	assert.Equal(t, png, data)

	manifest, err := os.ReadFile(filepath.Join(outDir, "prompts.json"))
	require.NoError(t, err)
	var items []Item
	require.NoError(t, json.Unmarshal(manifest, &items))
	assert.Equal(t, res.Items, items)

	gallery, err := os.ReadFile(res.Gallery)
	require.NoError(t, err)
	assert.Contains(t, string(gallery), `src="001-red-fox-in-snow.png"`)
	assert.Contains(t, string(gallery), "Red fox in snow")
}

func TestGenerateDownloadsURLPayload(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/images/generations":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"created": 1,
				"data":    []map[string]string{{"url": srv.URL + "/files/img.png"}},
			})
		case "/files/img.png":
			_, _ = w.Write([]byte("downloaded"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g, err := NewGenerator("sk-test", srv.URL+"/v1", newTestHTTPClient())
	require.NoError(t, err)

	outDir := t.TempDir()
	res, err := g.Generate(context.Background(), Options{Prompt: "sunset", OutDir: outDir})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	data, err := os.ReadFile(filepath.Join(outDir, res.Items[0].File))
	require.NoError(t, err)
	assert.Equal(t, "downloaded", string(data))
}

func TestGenerateUnexpectedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"created": 1, "data": [{}]}`))
	}))
	defer srv.Close()

	g, err := NewGenerator("sk-test", srv.URL+"/v1", newTestHTTPClient())
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), Options{Prompt: "x", OutDir: t.TempDir()})
	assert.ErrorContains(t, err, "unexpected response")

	_, err = g.Generate(context.Background(), Options{Prompt: " "})
	assert.EqualError(t, err, "prompt is required")
}
