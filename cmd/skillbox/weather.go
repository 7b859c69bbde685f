package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/presenter"
	"github.com/jingkaihe/skillbox/pkg/weather"
)

type WeatherConfig struct {
	JSON    bool
	Oneline bool
	Format  string
	BaseURL string
}

func NewWeatherConfig() *WeatherConfig {
	return &WeatherConfig{Format: "3", BaseURL: weather.DefaultBaseURL}
}

var weatherCmd = &cobra.Command{
	Use:   "weather <location...>",
	Short: "Current weather and a short forecast from wttr.in",
	Long: `Current weather and a three day forecast from wttr.in. No API key is needed.

Examples:
  skillbox weather London
  skillbox weather "New York" --json
  skillbox weather JFK --oneline`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getWeatherConfigFromFlags(cmd)
		weatherCommand(cmd.Context(), strings.Join(args, " "), config)
	},
}

func init() {
	defaults := NewWeatherConfig()
	weatherCmd.Flags().Bool("json", defaults.JSON, "Output as JSON")
	weatherCmd.Flags().Bool("oneline", defaults.Oneline, "Print wttr.in's one line summary")
	weatherCmd.Flags().String("format", defaults.Format, "wttr.in format string used with --oneline")
	weatherCmd.Flags().String("base-url", defaults.BaseURL, "wttr.in base URL")
	rootCmd.AddCommand(weatherCmd)
}

func getWeatherConfigFromFlags(cmd *cobra.Command) *WeatherConfig {
	config := NewWeatherConfig()
	if asJSON, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSON = asJSON
	}
	if oneline, err := cmd.Flags().GetBool("oneline"); err == nil {
		config.Oneline = oneline
	}
	if format, err := cmd.Flags().GetString("format"); err == nil {
		config.Format = format
	}
	if baseURL, err := cmd.Flags().GetString("base-url"); err == nil {
		config.BaseURL = baseURL
	}
	return config
}

func weatherCommand(ctx context.Context, location string, config *WeatherConfig) {
	client := weather.NewClient(newHTTPClient(loadConfig()), config.BaseURL)

	if config.Oneline {
		line, err := client.Oneline(ctx, location, config.Format)
		if err != nil {
			fail(err, "failed to fetch weather")
		}
		fmt.Println(line)
		return
	}

	report, err := client.Current(ctx, location)
	if err != nil {
		fail(err, "failed to fetch weather")
	}
	if config.JSON {
		printJSON(report)
		return
	}

	where := report.Location
	if report.Country != "" {
		where += ", " + report.Country
	}
	presenter.Section(where)
	fmt.Printf("%s, %d°C (feels like %d°C), humidity %d%%, wind %d km/h\n",
		report.Description, report.TempC, report.FeelsLikeC, report.Humidity, report.WindKmph)

	if len(report.Forecast) > 0 {
		rows := make([][]string, 0, len(report.Forecast))
		for _, f := range report.Forecast {
			rows = append(rows, []string{f.Date, fmt.Sprintf("%d°C", f.MinTempC), fmt.Sprintf("%d°C", f.MaxTempC), f.Description})
		}
		presenter.Table([]string{"DATE", "MIN", "MAX", "CONDITIONS"}, rows)
	}
}
