// Package codeindex extracts top-level symbols from source trees with
// per-language patterns and stores them in the code_index table.
package codeindex

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbox/pkg/logger"
)

const (
	maxFileSize = 1024 * 1024
	insertBatch = 500
)

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"target":       true,
	"dist":         true,
	"build":        true,
}

// Symbol is one indexed declaration.
type Symbol struct {
	ID        int64  `json:"-" db:"id"`
	Root      string `json:"root" db:"root"`
	Path      string `json:"path" db:"path"`
	Line      int    `json:"line" db:"line"`
	Kind      string `json:"kind" db:"kind"`
	Name      string `json:"name" db:"name"`
	Language  string `json:"language" db:"language"`
	Signature string `json:"signature" db:"signature"`
}

// Result summarizes one Index call.
type Result struct {
	Root       string         `json:"root"`
	Files      int            `json:"files"`
	Symbols    int            `json:"symbols"`
	ByKind     map[string]int `json:"by_kind"`
	ByLanguage map[string]int `json:"by_language"`
}

// RootStats describes what is stored for one indexed root.
type RootStats struct {
	Root    string `json:"root" db:"root"`
	Files   int    `json:"files" db:"files"`
	Symbols int    `json:"symbols" db:"symbols"`
}

// Indexer reads and writes the code_index table.
type Indexer struct {
	db *sqlx.DB
}

// New creates an indexer over a migrated database.
func New(db *sqlx.DB) *Indexer {
	return &Indexer{db: db}
}

func matchAny(patterns []string, path string) (bool, error) {
	for _, p := range patterns {
		ok, err := doublestar.Match(p, path)
		if err != nil {
			return false, errors.Wrapf(err, "invalid pattern %q", p)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Collect walks root and extracts symbols from every supported file whose
// slash separated relative path matches include (default **) and no
// exclude pattern.
func Collect(ctx context.Context, root string, include, exclude []string) ([]Symbol, int, error) {
	if len(include) == 0 {
		include = []string{"**"}
	}
	for _, p := range append(append([]string{}, include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, 0, errors.Errorf("invalid pattern %q", p)
		}
	}

	var symbols []Symbol
	files := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			if excluded, err := matchAny(exclude, rel); err != nil || excluded {
				if err != nil {
					return err
				}
				return filepath.SkipDir
			}
			return nil
		}

		lang := DetectLanguage(rel)
		if lang == "" || !d.Type().IsRegular() {
			return nil
		}
		if ok, err := matchAny(include, rel); err != nil || !ok {
			return err
		}
		if excluded, err := matchAny(exclude, rel); err != nil || excluded {
			return err
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxFileSize {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			logger.G(ctx).WithError(err).WithField("file", path).Warn("skipping unreadable file")
			return nil
		}

		files++
		for _, s := range ExtractSymbols(lang, string(content)) {
			s.Path = rel
			symbols = append(symbols, s)
		}
		return nil
	})
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to walk %s", root)
	}
	return symbols, files, nil
}

// Index replaces the stored symbols of root with a fresh scan.
func (ix *Indexer) Index(ctx context.Context, root string, include, exclude []string) (*Result, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid root %s", root)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, errors.Errorf("%s is not a directory", root)
	}

	symbols, files, err := Collect(ctx, abs, include, exclude)
	if err != nil {
		return nil, err
	}

	res := &Result{Root: abs, Files: files, Symbols: len(symbols), ByKind: map[string]int{}, ByLanguage: map[string]int{}}
	for i := range symbols {
		symbols[i].Root = abs
		res.ByKind[symbols[i].Kind]++
		res.ByLanguage[symbols[i].Language]++
	}

	tx, err := ix.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM code_index WHERE root = ?`, abs); err != nil {
		return nil, errors.Wrap(err, "failed to clear previous index")
	}
	for start := 0; start < len(symbols); start += insertBatch {
		end := min(start+insertBatch, len(symbols))
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO code_index (root, path, line, kind, name, language, signature)
			VALUES (:root, :path, :line, :kind, :name, :language, :signature)
		`, symbols[start:end]); err != nil {
			return nil, errors.Wrap(err, "failed to store symbols")
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit index")
	}

	logger.G(ctx).WithField("root", abs).WithField("files", files).WithField("symbols", len(symbols)).Info("indexed code")
	return res, nil
}

// Search finds symbols whose name contains query, case-insensitively.
// Exact matches sort first, then prefix matches. kind filters when set.
func (ix *Indexer) Search(ctx context.Context, query, kind string, limit int) ([]Symbol, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is required")
	}
	if limit <= 0 {
		limit = 50
	}

	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(query)
	q := `
		SELECT * FROM code_index
		WHERE name LIKE ? ESCAPE '\'`
	args := []any{"%" + escaped + "%"}
	if kind != "" {
		q += ` AND kind = ?`
		args = append(args, kind)
	}
	q += `
		ORDER BY CASE WHEN lower(name) = lower(?) THEN 0 WHEN name LIKE ? ESCAPE '\' THEN 1 ELSE 2 END, name, path, line
		LIMIT ?`
	args = append(args, query, escaped+"%", limit)

	symbols := []Symbol{}
	if err := ix.db.SelectContext(ctx, &symbols, q, args...); err != nil {
		return nil, errors.Wrap(err, "failed to search code index")
	}
	return symbols, nil
}

// Stats lists every indexed root.
func (ix *Indexer) Stats(ctx context.Context) ([]RootStats, error) {
	stats := []RootStats{}
	err := ix.db.SelectContext(ctx, &stats, `
		SELECT root, COUNT(DISTINCT path) AS files, COUNT(*) AS symbols
		FROM code_index GROUP BY root ORDER BY root
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read code index stats")
	}
	return stats, nil
}
