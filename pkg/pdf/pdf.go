// Package pdf merges, splits, extracts and inspects PDF files with pdfcpu,
// and delegates natural language edits to the nano-pdf CLI.
package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbox/pkg/logger"
)

// Info is the page count and document metadata of a PDF.
type Info struct {
	File         string `json:"file"`
	Pages        int    `json:"pages"`
	Title        string `json:"title,omitempty"`
	Author       string `json:"author,omitempty"`
	Subject      string `json:"subject,omitempty"`
	Creator      string `json:"creator,omitempty"`
	Producer     string `json:"producer,omitempty"`
	CreationDate string `json:"creation_date,omitempty"`
	ModDate      string `json:"mod_date,omitempty"`
}

// Merge concatenates inputs into out. Missing inputs are skipped with a
// warning; it is an error when none exist.
func Merge(ctx context.Context, inputs []string, out string) ([]string, error) {
	log := logger.G(ctx)

	var existing []string
	for _, in := range inputs {
		if _, err := os.Stat(in); err != nil {
			log.WithField("file", in).Warn("file not found, skipping")
			continue
		}
		existing = append(existing, in)
	}
	if len(existing) == 0 {
		return nil, errors.New("no input files found")
	}

	if err := ensureDir(out); err != nil {
		return nil, err
	}
	if err := api.MergeCreateFile(existing, out, false, nil); err != nil {
		return nil, errors.Wrap(err, "failed to merge PDFs")
	}
	log.WithField("files", len(existing)).WithField("output", out).Info("merged PDFs")
	return existing, nil
}

// Split writes every page of in to outDir/page_NNN.pdf and returns the files.
func Split(ctx context.Context, in, outDir string) ([]string, error) {
	total, err := PageCount(in)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create output directory")
	}

	files := make([]string, 0, total)
	for page := 1; page <= total; page++ {
		out := filepath.Join(outDir, fmt.Sprintf("page_%03d.pdf", page))
		if err := api.TrimFile(in, out, []string{strconv.Itoa(page)}, nil); err != nil {
			return nil, errors.Wrapf(err, "failed to write page %d", page)
		}
		files = append(files, out)
	}
	logger.G(ctx).WithField("pages", total).WithField("dir", outDir).Info("split PDF")
	return files, nil
}

// Extract writes the pages selected by ranges (see ParsePageRanges) to out.
func Extract(ctx context.Context, in, ranges, out string) ([]int, error) {
	total, err := PageCount(in)
	if err != nil {
		return nil, err
	}
	pages, err := ParsePageRanges(ranges, total)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, errors.Errorf("no pages of %s selected by %q (document has %d pages)", in, ranges, total)
	}

	selected := make([]string, len(pages))
	for i, p := range pages {
		selected[i] = strconv.Itoa(p)
	}
	if err := ensureDir(out); err != nil {
		return nil, err
	}
	if err := api.TrimFile(in, out, selected, nil); err != nil {
		return nil, errors.Wrap(err, "failed to extract pages")
	}
	logger.G(ctx).WithField("pages", ranges).WithField("output", out).Info("extracted pages")
	return pages, nil
}

// PageCount returns the number of pages in the file.
func PageCount(in string) (int, error) {
	if _, err := os.Stat(in); err != nil {
		return 0, errors.Errorf("file not found: %s", in)
	}
	n, err := api.PageCountFile(in)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read %s", in)
	}
	return n, nil
}

// GetInfo reads the page count and the document information dictionary.
func GetInfo(in string) (*Info, error) {
	if _, err := os.Stat(in); err != nil {
		return nil, errors.Errorf("file not found: %s", in)
	}
	pctx, err := api.ReadContextFile(in)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", in)
	}

	return &Info{
		File:         in,
		Pages:        pctx.PageCount,
		Title:        pctx.Title,
		Author:       pctx.Author,
		Subject:      pctx.Subject,
		Creator:      pctx.Creator,
		Producer:     pctx.Producer,
		CreationDate: pctx.XRefTable.CreationDate,
		ModDate:      pctx.ModDate,
	}, nil
}

// ParsePageRanges parses a 1-based selection such as "1-5,7,9-10". Pages
// outside 1..total are dropped; order and repeats are kept.
func ParsePageRanges(ranges string, total int) ([]int, error) {
	pages := []int{}
	for _, part := range strings.Split(ranges, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		start, end, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(strings.TrimSpace(start))
		if err != nil {
			return nil, errors.Errorf("invalid page %q", part)
		}
		last := first
		if isRange {
			last, err = strconv.Atoi(strings.TrimSpace(end))
			if err != nil {
				return nil, errors.Errorf("invalid page range %q", part)
			}
			if last < first {
				return nil, errors.Errorf("invalid page range %q: end before start", part)
			}
		}

		for p := first; p <= last; p++ {
			if p >= 1 && p <= total {
				pages = append(pages, p)
			}
		}
	}
	return pages, nil
}

func ensureDir(file string) error {
	if dir := filepath.Dir(file); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "failed to create output directory")
		}
	}
	return nil
}
