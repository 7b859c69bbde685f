// Package notion is a small client for the Notion REST API.
package notion

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbox/pkg/config"
	"github.com/jingkaihe/skillbox/pkg/httpclient"
)

const (
	DefaultBaseURL = "https://api.notion.com/v1"
	DefaultVersion = "2022-06-28"

	// Notion allows an average of three requests per second per integration.
	requestsPerSecond = 3
	maxRichText       = 2000
)

// ErrMissingToken is returned when no integration token is configured.
var ErrMissingToken = errors.New("notion token not configured (set NOTION_TOKEN or notion.token)")

// Result is a page or database returned by search and query calls.
type Result struct {
	ID         string         `json:"id"`
	Object     string         `json:"object"`
	Title      string         `json:"title"`
	URL        string         `json:"url"`
	LastEdited time.Time      `json:"last_edited_time"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Page is a page with its plain text content.
type Page struct {
	Result
	Text string `json:"text"`
}

type richText struct {
	PlainText string `json:"plain_text"`
}

type object struct {
	ID             string                     `json:"id"`
	Object         string                     `json:"object"`
	URL            string                     `json:"url"`
	LastEditedTime time.Time                  `json:"last_edited_time"`
	Title          []richText                 `json:"title"`
	Properties     map[string]json.RawMessage `json:"properties"`
}

type listResponse struct {
	Results    []object `json:"results"`
	HasMore    bool     `json:"has_more"`
	NextCursor *string  `json:"next_cursor"`
}

type block struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	HasChildren bool   `json:"has_children"`
	raw         map[string]json.RawMessage
}

type blockList struct {
	Results    []json.RawMessage `json:"results"`
	HasMore    bool              `json:"has_more"`
	NextCursor *string           `json:"next_cursor"`
}

// Client calls the Notion API on behalf of one integration token.
type Client struct {
	http    *httpclient.Client
	token   string
	version string
	baseURL string
	// TitleProperty names the title column used by CreatePage.
	TitleProperty string
}

// NewClient creates a throttled client from the notion config section.
func NewClient(cfg config.NotionConfig, opts ...httpclient.Option) (*Client, error) {
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	c := &Client{
		http:          httpclient.New(append([]httpclient.Option{httpclient.WithRateLimit(requestsPerSecond, requestsPerSecond)}, opts...)...),
		token:         cfg.Token,
		version:       cfg.Version,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		TitleProperty: "Name",
	}
	if c.version == "" {
		c.version = DefaultVersion
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	return c, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	headers := map[string]string{
		"Authorization":  "Bearer " + c.token,
		"Notion-Version": c.version,
	}
	return c.http.DoJSON(ctx, method, c.baseURL+path, headers, body, out)
}

var idRe = regexp.MustCompile(`[0-9a-fA-F]{8}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{12}`)

// NormalizeID extracts a page or database id from a raw id or a notion.so URL.
func NormalizeID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	matches := idRe.FindAllString(s, -1)
	if len(matches) == 0 {
		return "", errors.Errorf("invalid notion id %q", s)
	}
	// URLs end in <slug>-<id>; the last match is the id
	id := strings.ToLower(strings.ReplaceAll(matches[len(matches)-1], "-", ""))
	return id[:8] + "-" + id[8:12] + "-" + id[12:16] + "-" + id[16:20] + "-" + id[20:], nil
}

// Search finds pages and databases shared with the integration. filterType
// may be "page", "database" or empty for both.
func (c *Client) Search(ctx context.Context, query, filterType string) ([]Result, error) {
	body := map[string]any{"query": query, "page_size": 50}
	switch filterType {
	case "":
	case "page", "database":
		body["filter"] = map[string]string{"property": "object", "value": filterType}
	default:
		return nil, errors.Errorf("invalid filter type %q, expected page or database", filterType)
	}

	var resp listResponse
	if err := c.call(ctx, http.MethodPost, "/search", body, &resp); err != nil {
		return nil, errors.Wrap(err, "notion search failed")
	}
	return toResults(resp.Results), nil
}

// GetPage fetches a page and the plain text of its top-level blocks.
func (c *Client) GetPage(ctx context.Context, id string) (*Page, error) {
	id, err := NormalizeID(id)
	if err != nil {
		return nil, err
	}

	var obj object
	if err := c.call(ctx, http.MethodGet, "/pages/"+id, nil, &obj); err != nil {
		return nil, errors.Wrapf(err, "failed to get page %s", id)
	}

	text, err := c.blockText(ctx, id)
	if err != nil {
		return nil, err
	}

	return &Page{Result: toResult(obj), Text: text}, nil
}

func (c *Client) blockText(ctx context.Context, id string) (string, error) {
	var lines []string
	cursor := ""
	for {
		path := "/blocks/" + id + "/children?page_size=100"
		if cursor != "" {
			path += "&start_cursor=" + cursor
		}

		var list blockList
		if err := c.call(ctx, http.MethodGet, path, nil, &list); err != nil {
			return "", errors.Wrapf(err, "failed to read blocks of %s", id)
		}
		for _, raw := range list.Results {
			if line, ok := blockLine(raw); ok {
				lines = append(lines, line)
			}
		}

		if !list.HasMore || list.NextCursor == nil {
			break
		}
		cursor = *list.NextCursor
	}
	return strings.Join(lines, "\n"), nil
}

// blockLine renders the rich text of a block, prefixed the way markdown would.
func blockLine(raw json.RawMessage) (string, bool) {
	var b block
	if err := json.Unmarshal(raw, &b); err != nil {
		return "", false
	}
	if err := json.Unmarshal(raw, &b.raw); err != nil {
		return "", false
	}

	var content struct {
		RichText []richText `json:"rich_text"`
		Checked  bool       `json:"checked"`
	}
	if err := json.Unmarshal(b.raw[b.Type], &content); err != nil {
		return "", false
	}
	text := plain(content.RichText)

	switch b.Type {
	case "heading_1":
		return "# " + text, true
	case "heading_2":
		return "## " + text, true
	case "heading_3":
		return "### " + text, true
	case "bulleted_list_item":
		return "- " + text, true
	case "numbered_list_item":
		return "1. " + text, true
	case "to_do":
		if content.Checked {
			return "- [x] " + text, true
		}
		return "- [ ] " + text, true
	case "quote":
		return "> " + text, true
	case "paragraph", "callout", "toggle", "code":
		return text, true
	default:
		return "", false
	}
}

// QueryDatabase returns the rows of a database matching filter, which is a
// raw Notion filter object (nil for all rows).
func (c *Client) QueryDatabase(ctx context.Context, id string, filter json.RawMessage) ([]Result, error) {
	id, err := NormalizeID(id)
	if err != nil {
		return nil, err
	}

	body := map[string]any{"page_size": 100}
	if len(filter) > 0 {
		if !json.Valid(filter) {
			return nil, errors.New("filter is not valid JSON")
		}
		body["filter"] = filter
	}

	var all []Result
	for {
		var resp listResponse
		if err := c.call(ctx, http.MethodPost, "/databases/"+id+"/query", body, &resp); err != nil {
			return nil, errors.Wrapf(err, "failed to query database %s", id)
		}
		all = append(all, toResults(resp.Results)...)
		if !resp.HasMore || resp.NextCursor == nil {
			break
		}
		body["start_cursor"] = *resp.NextCursor
	}
	return all, nil
}

// CreatePage adds a row to a database. props are Notion property values
// merged next to the title property.
func (c *Client) CreatePage(ctx context.Context, parentDB, title string, props map[string]any) (*Result, error) {
	parentDB, err := NormalizeID(parentDB)
	if err != nil {
		return nil, err
	}
	if title == "" {
		return nil, errors.New("title is required")
	}

	properties := map[string]any{}
	for k, v := range props {
		properties[k] = v
	}
	properties[c.TitleProperty] = map[string]any{
		"title": []map[string]any{{"text": map[string]string{"content": title}}},
	}

	body := map[string]any{
		"parent":     map[string]string{"database_id": parentDB},
		"properties": properties,
	}

	var obj object
	if err := c.call(ctx, http.MethodPost, "/pages", body, &obj); err != nil {
		return nil, errors.Wrap(err, "failed to create page")
	}
	r := toResult(obj)
	return &r, nil
}

// AppendText appends paragraphs to a page or block. Blank lines separate
// paragraphs and long paragraphs are split at Notion's rich text limit.
func (c *Client) AppendText(ctx context.Context, blockID, text string) (int, error) {
	blockID, err := NormalizeID(blockID)
	if err != nil {
		return 0, err
	}

	var children []map[string]any
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		for len(para) > 0 {
			chunk := para
			if len(chunk) > maxRichText {
				chunk = chunk[:maxRichText]
			}
			para = para[len(chunk):]
			children = append(children, map[string]any{
				"object": "block",
				"type":   "paragraph",
				"paragraph": map[string]any{
					"rich_text": []map[string]any{{"type": "text", "text": map[string]string{"content": chunk}}},
				},
			})
		}
	}
	if len(children) == 0 {
		return 0, errors.New("text is empty")
	}

	if err := c.call(ctx, http.MethodPatch, "/blocks/"+blockID+"/children", map[string]any{"children": children}, nil); err != nil {
		return 0, errors.Wrapf(err, "failed to append to %s", blockID)
	}
	return len(children), nil
}

func toResults(objs []object) []Result {
	results := make([]Result, 0, len(objs))
	for _, o := range objs {
		results = append(results, toResult(o))
	}
	return results
}

func toResult(o object) Result {
	r := Result{
		ID:         o.ID,
		Object:     o.Object,
		URL:        o.URL,
		LastEdited: o.LastEditedTime,
		Title:      plain(o.Title),
	}

	if len(o.Properties) > 0 {
		r.Properties = make(map[string]any, len(o.Properties))
	}
	for name, raw := range o.Properties {
		var prop struct {
			Type  string     `json:"type"`
			Title []richText `json:"title"`
		}
		if err := json.Unmarshal(raw, &prop); err == nil && prop.Type == "title" && r.Title == "" {
			r.Title = plain(prop.Title)
		}
		var v any
		_ = json.Unmarshal(raw, &v)
		r.Properties[name] = v
	}
	return r
}

func plain(rt []richText) string {
	var b strings.Builder
	for _, t := range rt {
		b.WriteString(t.PlainText)
	}
	return b.String()
}
