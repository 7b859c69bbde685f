// Package weather fetches current conditions and forecasts from wttr.in.
package weather

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbox/pkg/httpclient"
)

// DefaultBaseURL is the public wttr.in endpoint.
const DefaultBaseURL = "https://wttr.in"

// Report is the condensed view of a j1 response.
type Report struct {
	Location    string     `json:"location"`
	Country     string     `json:"country,omitempty"`
	TempC       int        `json:"temp_c"`
	FeelsLikeC  int        `json:"feels_like"`
	Humidity    int        `json:"humidity"`
	Description string     `json:"description"`
	WindKmph    int        `json:"wind_kmph"`
	Forecast    []Forecast `json:"forecast"`
}

// Forecast summarizes one day.
type Forecast struct {
	Date        string `json:"date"`
	MinTempC    int    `json:"min_temp_c"`
	MaxTempC    int    `json:"max_temp_c"`
	Description string `json:"description"`
}

type value struct {
	Value string `json:"value"`
}

type j1Response struct {
	CurrentCondition []struct {
		TempC         string  `json:"temp_C"`
		FeelsLikeC    string  `json:"FeelsLikeC"`
		Humidity      string  `json:"humidity"`
		WindspeedKmph string  `json:"windspeedKmph"`
		WeatherDesc   []value `json:"weatherDesc"`
	} `json:"current_condition"`
	NearestArea []struct {
		AreaName []value `json:"areaName"`
		Country  []value `json:"country"`
	} `json:"nearest_area"`
	Weather []struct {
		Date     string `json:"date"`
		MaxTempC string `json:"maxtempC"`
		MinTempC string `json:"mintempC"`
		Hourly   []struct {
			Time        string  `json:"time"`
			WeatherDesc []value `json:"weatherDesc"`
		} `json:"hourly"`
	} `json:"weather"`
}

// Client talks to wttr.in.
type Client struct {
	http    *httpclient.Client
	baseURL string
}

// NewClient creates a client. An empty baseURL selects DefaultBaseURL.
func NewClient(hc *httpclient.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: hc, baseURL: strings.TrimRight(baseURL, "/")}
}

func (c *Client) endpoint(location, format string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", errors.New("location is required")
	}
	// wttr.in expects + for spaces in the path
	path := strings.ReplaceAll(url.PathEscape(location), "%20", "+")
	return c.baseURL + "/" + path + "?format=" + url.QueryEscape(format), nil
}

// Current returns current conditions and the forecast for location.
func (c *Client) Current(ctx context.Context, location string) (*Report, error) {
	u, err := c.endpoint(location, "j1")
	if err != nil {
		return nil, err
	}

	var raw j1Response
	if err := c.http.DoJSON(ctx, http.MethodGet, u, nil, nil, &raw); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch weather for %s", location)
	}
	if len(raw.CurrentCondition) == 0 {
		return nil, errors.Errorf("no weather data for %s", location)
	}

	cur := raw.CurrentCondition[0]
	report := &Report{
		Location:    location,
		TempC:       atoi(cur.TempC),
		FeelsLikeC:  atoi(cur.FeelsLikeC),
		Humidity:    atoi(cur.Humidity),
		WindKmph:    atoi(cur.WindspeedKmph),
		Description: first(cur.WeatherDesc),
		Forecast:    []Forecast{},
	}
	if len(raw.NearestArea) > 0 {
		if name := first(raw.NearestArea[0].AreaName); name != "" {
			report.Location = name
		}
		report.Country = first(raw.NearestArea[0].Country)
	}

	for _, day := range raw.Weather {
		f := Forecast{
			Date:     day.Date,
			MinTempC: atoi(day.MinTempC),
			MaxTempC: atoi(day.MaxTempC),
		}
		// prefer the midday sample, as wttr.in's own summary does
		for _, h := range day.Hourly {
			if h.Time == "1200" {
				f.Description = first(h.WeatherDesc)
			}
		}
		if f.Description == "" && len(day.Hourly) > 0 {
			f.Description = first(day.Hourly[len(day.Hourly)/2].WeatherDesc)
		}
		report.Forecast = append(report.Forecast, f)
	}

	return report, nil
}

// Oneline returns wttr.in's plain text summary. format defaults to "3",
// e.g. "London: ⛅️ +12°C".
func (c *Client) Oneline(ctx context.Context, location, format string) (string, error) {
	if format == "" {
		format = "3"
	}
	u, err := c.endpoint(location, format)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to build request")
	}
	// wttr.in answers curl-like agents with plain text
	req.Header.Set("User-Agent", "curl/8")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return "", errors.Wrapf(err, "failed to fetch weather for %s", location)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("wttr.in returned %d for %s", resp.StatusCode, location)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", errors.Wrap(err, "failed to read response")
	}
	return strings.TrimSpace(string(body)), nil
}

func first(vs []value) string {
	if len(vs) == 0 {
		return ""
	}
	return strings.TrimSpace(vs[0].Value)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
