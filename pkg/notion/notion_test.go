package notion

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillbox/pkg/config"
	"github.com/jingkaihe/skillbox/pkg/httpclient"
)

const pageID = "0123456789abcdef0123456789abcdef"
const dashedID = "01234567-89ab-cdef-0123-456789abcdef"

type recorded struct {
	method string
	path   string
	body   map[string]any
}

type recorder struct {
	mu    sync.Mutex
	calls []recorded
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.calls...)
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret_token", r.Header.Get("Authorization"))
		assert.Equal(t, DefaultVersion, r.Header.Get("Notion-Version"))

		call := recorded{method: r.Method, path: r.URL.RequestURI()}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			assert.NoError(t, json.Unmarshal(data, &call.body))
		}
		rec.mu.Lock()
		rec.calls = append(rec.calls, call)
		rec.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(config.NotionConfig{Token: "secret_token", BaseURL: srv.URL}, httpclient.WithRateLimit(1000, 100))
	require.NoError(t, err)
	return c, rec
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(config.NotionConfig{})
	assert.ErrorIs(t, err, ErrMissingToken)

	c, err := NewClient(config.NotionConfig{Token: "x"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, DefaultVersion, c.version)
	assert.InDelta(t, 3.0, float64(c.http.Limiter.Limit()), 0.001)
}

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{input: pageID},
		{input: dashedID},
		{input: "https://www.notion.so/team/Roadmap-" + pageID + "?pvs=4"},
		{input: "not-an-id", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, dashedID, got)
		})
	}
}

func TestSearch(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results": [
			{"id": "p1", "object": "page", "url": "https://notion.so/p1",
			 "properties": {"Name": {"type": "title", "title": [{"plain_text": "Road"}, {"plain_text": "map"}]}}},
			{"id": "d1", "object": "database", "title": [{"plain_text": "Tasks"}]}
		]}`))
	})

	results, err := c.Search(context.Background(), "road", "page")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Roadmap", results[0].Title)
	assert.Equal(t, "Tasks", results[1].Title)

	require.Len(t, calls.all(), 1)
	call := calls.all()[0]
	assert.Equal(t, "POST", call.method)
	assert.Equal(t, "/search", call.path)
	assert.Equal(t, "road", call.body["query"])
	assert.Equal(t, map[string]any{"property": "object", "value": "page"}, call.body["filter"])

	_, err = c.Search(context.Background(), "x", "comment")
	assert.ErrorContains(t, err, "invalid filter type")
}

func TestGetPage(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/pages/"+dashedID:
			_, _ = w.Write([]byte(`{"id": "` + dashedID + `", "object": "page",
				"properties": {"Title": {"type": "title", "title": [{"plain_text": "Runbook"}]}}}`))
		case r.URL.Query().Get("start_cursor") == "":
			_, _ = w.Write([]byte(`{"has_more": true, "next_cursor": "c2", "results": [
				{"type": "heading_1", "heading_1": {"rich_text": [{"plain_text": "Steps"}]}},
				{"type": "to_do", "to_do": {"rich_text": [{"plain_text": "drain"}], "checked": true}},
				{"type": "image", "image": {}}
			]}`))
		default:
			_, _ = w.Write([]byte(`{"has_more": false, "results": [
				{"type": "paragraph", "paragraph": {"rich_text": [{"plain_text": "done"}]}}
			]}`))
		}
	})

	page, err := c.GetPage(context.Background(), pageID)
	require.NoError(t, err)
	assert.Equal(t, "Runbook", page.Title)
	assert.Equal(t, "# Steps\n- [x] drain\ndone", page.Text)
	assert.Len(t, calls.all(), 3)
}

func TestQueryDatabase(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results": [{"id": "r1", "object": "page"}], "has_more": false}`))
	})

	rows, err := c.QueryDatabase(context.Background(), pageID, json.RawMessage(`{"property": "Done", "checkbox": {"equals": false}}`))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "/databases/"+dashedID+"/query", calls.all()[0].path)
	assert.Equal(t, "Done", calls.all()[0].body["filter"].(map[string]any)["property"])

	_, err = c.QueryDatabase(context.Background(), pageID, json.RawMessage(`{bad`))
	assert.ErrorContains(t, err, "not valid JSON")
}

func TestCreatePage(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id": "new", "object": "page", "url": "https://notion.so/new"}`))
	})

	res, err := c.CreatePage(context.Background(), pageID, "Ship it", map[string]any{
		"Status": map[string]any{"select": map[string]string{"name": "Todo"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://notion.so/new", res.URL)

	body := calls.all()[0].body
	assert.Equal(t, dashedID, body["parent"].(map[string]any)["database_id"])
	props := body["properties"].(map[string]any)
	assert.Contains(t, props, "Status")
	assert.Contains(t, props, "Name")

	_, err = c.CreatePage(context.Background(), pageID, "", nil)
	assert.EqualError(t, err, "title is required")
}

func TestAppendText(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	n, err := c.AppendText(context.Background(), pageID, "first\n\n"+strings.Repeat("x", 2500))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "PATCH", calls.all()[0].method)
	assert.Len(t, calls.all()[0].body["children"], 3)

	_, err = c.AppendText(context.Background(), pageID, " \n\n ")
	assert.EqualError(t, err, "text is empty")
}

func TestAPIErrorsAreWrapped(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"code":"object_not_found"}`, http.StatusNotFound)
	})

	_, err := c.GetPage(context.Background(), pageID)
	require.Error(t, err)
	assert.True(t, httpclient.IsStatus(err, http.StatusNotFound))
	assert.Contains(t, err.Error(), "object_not_found")
}
