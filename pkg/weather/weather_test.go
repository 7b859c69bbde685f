package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillbox/pkg/httpclient"
)

const j1Body = `{
  "current_condition": [{
    "temp_C": "12", "FeelsLikeC": "10", "humidity": "81", "windspeedKmph": "15",
    "weatherDesc": [{"value": "Partly cloudy "}]
  }],
  "nearest_area": [{"areaName": [{"value": "London"}], "country": [{"value": "United Kingdom"}]}],
  "weather": [
    {"date": "2026-10-18", "maxtempC": "14", "mintempC": "8", "hourly": [
      {"time": "0", "weatherDesc": [{"value": "Clear"}]},
      {"time": "1200", "weatherDesc": [{"value": "Light rain"}]}
    ]},
    {"date": "2026-10-19", "maxtempC": "15", "mintempC": "9", "hourly": [
      {"time": "0", "weatherDesc": [{"value": "Fog"}]},
      {"time": "300", "weatherDesc": [{"value": "Mist"}]}
    ]}
  ]
}`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("format") {
		case "j1":
			assert.Equal(t, "/New+York", r.URL.EscapedPath())
			_, _ = w.Write([]byte(j1Body))
		case "3":
			assert.Equal(t, "curl/8", r.UserAgent())
			_, _ = w.Write([]byte("New York: ⛅️ +12°C\n"))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCurrent(t *testing.T) {
	srv := newServer(t)
	c := NewClient(httpclient.New(), srv.URL)

	report, err := c.Current(context.Background(), "New York")
	require.NoError(t, err)

	assert.Equal(t, "London", report.Location)
	assert.Equal(t, "United Kingdom", report.Country)
	assert.Equal(t, 12, report.TempC)
	assert.Equal(t, 10, report.FeelsLikeC)
	assert.Equal(t, 81, report.Humidity)
	assert.Equal(t, 15, report.WindKmph)
	assert.Equal(t, "Partly cloudy", report.Description)

	require.Len(t, report.Forecast, 2)
	assert.Equal(t, Forecast{Date: "2026-10-18", MinTempC: 8, MaxTempC: 14, Description: "Light rain"}, report.Forecast[0])
	assert.Equal(t, "Mist", report.Forecast[1].Description)
}

func TestOneline(t *testing.T) {
	srv := newServer(t)
	c := NewClient(httpclient.New(), srv.URL)

	line, err := c.Oneline(context.Background(), "New York", "")
	require.NoError(t, err)
	assert.Equal(t, "New York: ⛅️ +12°C", line)

	_, err = c.Oneline(context.Background(), "New York", "%l")
	assert.ErrorContains(t, err, "returned 400")
}

func TestEmptyLocation(t *testing.T) {
	c := NewClient(httpclient.New(), "")
	assert.Equal(t, DefaultBaseURL, c.baseURL)

	_, err := c.Current(context.Background(), "  ")
	assert.EqualError(t, err, "location is required")
}

func TestNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"current_condition": []}`))
	}))
	defer srv.Close()

	_, err := NewClient(httpclient.New(), srv.URL).Current(context.Background(), "Atlantis")
	assert.ErrorContains(t, err, "no weather data for Atlantis")
}
