package codeindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillbox/pkg/testutil"
)

func TestExtractSymbols(t *testing.T) {
	tests := []struct {
		name     string
		language string
		content  string
		want     []string // kind:name
	}{
		{
			name:     "go",
			language: "go",
			content: `package server

type Server struct {
	addr string
}

type Handler interface{}

type Mode int

func New(addr string) *Server { return nil }

func (s *Server) Start() error { return nil }
`,
			want: []string{"struct:Server", "interface:Handler", "type:Mode", "function:New", "method:Start"},
		},
		{
			name:     "python",
			language: "python",
			content: `class Greeter:
    def hello(self):
        pass

async def main():
    pass
`,
			want: []string{"class:Greeter", "method:hello", "function:main"},
		},
		{
			name:     "typescript",
			language: "typescript",
			content: `export interface Props { a: string }
export type Id = string;
export const enum Color { Red }
export default class App {}
export async function load() {}
const handler = async (req: Request): Promise<void> => {}
`,
			want: []string{"interface:Props", "type:Id", "enum:Color", "class:App", "function:load", "function:handler"},
		},
		{
			name:     "rust",
			language: "rust",
			content: `pub struct Config {}
pub(crate) enum State { A }
trait Store {}
impl Config {
    pub async fn load() {}
}
fn main() {}
`,
			want: []string{"struct:Config", "enum:State", "interface:Store", "method:load", "function:main"},
		},
		{
			name:     "java",
			language: "java",
			content: `public final class Greeter {
    public static void main(String[] args) {}
    private List<String> names() { return null; }
}
interface Shape {}
`,
			want: []string{"class:Greeter", "method:main", "method:names", "interface:Shape"},
		},
		{
			name:     "unsupported",
			language: "cobol",
			content:  "IDENTIFICATION DIVISION.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, s := range ExtractSymbols(tt.language, tt.content) {
				got = append(got, s.Kind+":"+s.Name)
				assert.Equal(t, tt.language, s.Language)
				assert.Positive(t, s.Line)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "go", DetectLanguage("pkg/a.go"))
	assert.Equal(t, "typescript", DetectLanguage("src/App.TSX"))
	assert.Equal(t, "", DetectLanguage("README.md"))
	assert.Equal(t, "", DetectLanguage("Makefile"))
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestIndexAndSearch(t *testing.T) {
	ctx := context.Background()
	ix := New(testutil.OpenDB(t))

	root := writeTree(t, map[string]string{
		"main.go":                   "package main\n\nfunc main() {}\n\nfunc parseConfig() {}\n",
		"internal/config/load.go":   "package config\n\ntype Config struct{}\n\nfunc Load() (*Config, error) { return nil, nil }\n",
		"internal/config/x_test.go": "package config\n\nfunc TestLoad() {}\n",
		"web/app.js":                "export function renderConfig() {}\n",
		"node_modules/dep/index.js": "function hidden() {}\n",
		"docs/readme.md":            "# not code\n",
	})

	res, err := ix.Index(ctx, root, nil, []string{"**/*_test.go"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Files)
	assert.Equal(t, 5, res.Symbols)
	assert.Equal(t, map[string]int{"go": 4, "javascript": 1}, res.ByLanguage)

	found, err := ix.Search(ctx, "config", "", 0)
	require.NoError(t, err)
	var names []string
	for _, s := range found {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"Config", "parseConfig", "renderConfig"}, names)
	assert.Equal(t, "internal/config/load.go", found[0].Path)
	assert.Equal(t, 3, found[0].Line)

	found, err = ix.Search(ctx, "config", KindStruct, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Config", found[0].Name)

	found, err = ix.Search(ctx, "100%", "", 0)
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = ix.Search(ctx, " ", "", 0)
	assert.EqualError(t, err, "query is required")
}

func TestIndexReplacesRoot(t *testing.T) {
	ctx := context.Background()
	ix := New(testutil.OpenDB(t))

	root := writeTree(t, map[string]string{"a.go": "package a\n\nfunc One() {}\nfunc Two() {}\n"})
	other := writeTree(t, map[string]string{"b.py": "def three():\n    pass\n"})

	_, err := ix.Index(ctx, root, nil, nil)
	require.NoError(t, err)
	_, err = ix.Index(ctx, other, nil, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n\nfunc One() {}\n"), 0o644))
	_, err = ix.Index(ctx, root, []string{"*.go"}, nil)
	require.NoError(t, err)

	stats, err := ix.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	byRoot := map[string]RootStats{}
	for _, s := range stats {
		byRoot[s.Root] = s
	}
	assert.Equal(t, 1, byRoot[root].Symbols)
	assert.Equal(t, 1, byRoot[other].Files)

	_, err = ix.Index(ctx, filepath.Join(root, "missing"), nil, nil)
	assert.ErrorContains(t, err, "is not a directory")

	_, err = ix.Index(ctx, root, []string{"[bad"}, nil)
	assert.ErrorContains(t, err, "invalid pattern")
}
