// Package scrape fetches web pages and turns them into markdown, plain
// text, a link list or the text of CSS selector matches.
package scrape

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbox/pkg/httpclient"
	"github.com/jingkaihe/skillbox/pkg/logger"
)

const (
	maxRedirects = 10
	maxBodySize  = 10 * 1024 * 1024
)

// Format selects how a fetched page is rendered.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
	FormatLinks    Format = "links"
)

// Options control Fetch.
type Options struct {
	Format   Format
	Selector string
}

// Page is a fetched and rendered document.
type Page struct {
	URL         string   `json:"url"`
	Title       string   `json:"title,omitempty"`
	ContentType string   `json:"content_type"`
	Content     string   `json:"content,omitempty"`
	Links       []string `json:"links,omitempty"`
	Matches     []string `json:"matches,omitempty"`
}

// Scraper fetches pages subject to a domain allow list.
type Scraper struct {
	filter *DomainFilter
	opts   []httpclient.Option
}

// New creates a scraper. filter may be nil to allow every host.
func New(filter *DomainFilter, opts ...httpclient.Option) *Scraper {
	return &Scraper{filter: filter, opts: opts}
}

// ValidateURL enforces https for every host except loopback addresses,
// and the allow list.
func (s *Scraper) ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if u.Scheme != "https" && (u.Scheme != "http" || !IsLocalHost(u.Hostname())) {
		return nil, errors.New("only HTTPS is supported for external domains, HTTP is allowed for localhost")
	}
	if s.filter != nil {
		allowed, err := s.filter.IsAllowed(raw)
		if err != nil {
			return nil, errors.Wrap(err, "invalid URL")
		}
		if !allowed {
			return nil, errors.Errorf("domain %s is not in the allowed domains list", u.Hostname())
		}
	}
	return u, nil
}

// client follows redirects only within the original host.
func (s *Scraper) client(host string) *httpclient.Client {
	hc := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.URL.Hostname() != host {
				return httpclient.Permanent(errors.Errorf("redirect to different domain not allowed: %s -> %s", host, req.URL.Hostname()))
			}
			if len(via) >= maxRedirects {
				return httpclient.Permanent(errors.Errorf("stopped after %d redirects", maxRedirects))
			}
			return nil
		},
	}
	opts := append([]httpclient.Option{httpclient.WithHTTPClient(hc)}, s.opts...)
	return httpclient.New(opts...)
}

func isBinary(contentType string) bool {
	for _, t := range []string{"application/octet-stream", "application/zip", "application/pdf", "image/", "audio/", "video/"} {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

// Fetch downloads rawURL and renders it according to opts.
func (s *Scraper) Fetch(ctx context.Context, rawURL string, opts Options) (*Page, error) {
	u, err := s.ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}
	if opts.Format == "" {
		opts.Format = FormatMarkdown
	}
	switch opts.Format {
	case FormatMarkdown, FormatText, FormatLinks:
	default:
		return nil, errors.Errorf("unknown format %q, expected markdown, text or links", opts.Format)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	resp, err := s.client(u.Hostname()).Do(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch %s", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("HTTP error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	contentType := resp.Header.Get("Content-Type")
	if isBinary(contentType) {
		return nil, errors.Errorf("unsupported content type: %s", contentType)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	logger.G(ctx).WithField("url", rawURL).WithField("bytes", len(body)).Debug("fetched page")
	// the final URL after redirects resolves relative links
	return Render(ctx, resp.Request.URL, contentType, string(body), opts)
}

// Render converts an already fetched body. Non-HTML bodies are returned
// unchanged for markdown and text output.
func Render(ctx context.Context, base *url.URL, contentType, body string, opts Options) (*Page, error) {
	page := &Page{URL: base.String(), ContentType: contentType}

	isHTML := contentType == "" || strings.Contains(contentType, "html")
	if !isHTML {
		if opts.Selector != "" || opts.Format == FormatLinks {
			return nil, errors.Errorf("cannot extract HTML elements from %s content", contentType)
		}
		page.Content = body
		return page, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse HTML")
	}
	page.Title = strings.TrimSpace(doc.Find("title").First().Text())

	if opts.Selector != "" {
		page.Matches = []string{}
		doc.Find(opts.Selector).Each(func(_ int, sel *goquery.Selection) {
			if text := collapseSpace(sel.Text()); text != "" {
				page.Matches = append(page.Matches, text)
			}
		})
		return page, nil
	}

	switch opts.Format {
	case FormatLinks:
		page.Links = Links(doc, base)
	case FormatText:
		doc.Find("script, style, noscript, template").Remove()
		page.Content = collapseSpace(doc.Find("body").Text())
	default:
		page.Content = ToMarkdown(ctx, base.Host, body)
	}
	return page, nil
}

// Links returns the absolute http(s) targets of every anchor, deduplicated
// in document order. Fragments are dropped.
func Links(doc *goquery.Document, base *url.URL) []string {
	seen := map[string]bool{}
	links := []string{}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		link := abs.String()
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	})
	return links
}

// ToMarkdown converts HTML to markdown, falling back to the raw HTML when
// conversion fails.
func ToMarkdown(ctx context.Context, domain, html string) string {
	converter := md.NewConverter(domain, true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("failed to convert HTML to markdown, returning raw HTML")
		return html
	}
	return markdown
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
