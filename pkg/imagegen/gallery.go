package imagegen

import (
	"bytes"
	"html/template"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

var galleryTmpl = template.Must(template.New("gallery").Parse(`<!doctype html>
<meta charset="utf-8" />
<title>image-gen</title>
<style>
  :root { color-scheme: dark; }
  body { margin: 24px; font: 14px/1.4 ui-sans-serif, system-ui; background: #0b0f14; color: #e8edf2; }
  h1 { font-size: 18px; margin: 0 0 16px; }
  .grid { display: grid; grid-template-columns: repeat(auto-fill, minmax(240px, 1fr)); gap: 16px; }
  figure { margin: 0; padding: 12px; border: 1px solid #1e2a36; border-radius: 14px; background: #0f1620; }
  img { width: 100%; height: auto; border-radius: 10px; display: block; }
  figcaption { margin-top: 10px; color: #b7c2cc; }
  code { color: #9cd1ff; }
</style>
<h1>image-gen</h1>
<p>Output: <code>{{ .OutDir }}</code></p>
<div class="grid">
{{- range .Items }}
<figure>
  <a href="{{ .File }}"><img src="{{ .File }}" loading="lazy" /></a>
  <figcaption>{{ .Prompt }}</figcaption>
</figure>
{{- end }}
</div>
`))

// WriteGallery writes index.html listing items and returns its path.
func WriteGallery(outDir string, items []Item) (string, error) {
	var buf bytes.Buffer
	err := galleryTmpl.Execute(&buf, struct {
		OutDir string
		Items  []Item
	}{filepath.ToSlash(outDir), items})
	if err != nil {
		return "", errors.Wrap(err, "failed to render gallery")
	}

	path := filepath.Join(outDir, "index.html")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", errors.Wrap(err, "failed to write gallery")
	}
	return path, nil
}
