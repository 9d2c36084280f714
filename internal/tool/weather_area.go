package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/url"
	"time"

	"tripplan-go/internal/config"
	"tripplan-go/internal/model"
)

// WeatherAreaTool batches realtime/forecast weather lookups, degrading to
// a deterministic mock when no provider key is configured or the
// provider call fails (spec §4.F `weather_area`).
type WeatherAreaTool struct {
	cfg    config.ToolConfig
	client *http.Client
}

// NewWeatherAreaTool builds the weather_area tool.
func NewWeatherAreaTool(cfg config.ToolConfig) *WeatherAreaTool {
	return &WeatherAreaTool{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

func (t *WeatherAreaTool) Name() string { return "weather_area" }

func (t *WeatherAreaTool) Description() string {
	return "Batched realtime or forecast weather for a list of locations; degrades to a mock when no provider key is configured."
}

func (t *WeatherAreaTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"locations":    map[string]any{"type": "array", "description": "city or district names to query"},
			"weather_type": map[string]any{"type": "string", "description": "realtime or forecast"},
			"days":         map[string]any{"type": "integer", "description": "forecast days, 1-4, only used when weather_type=forecast"},
		},
		"required": []string{"locations"},
	}
}

func (t *WeatherAreaTool) Execute(ctx context.Context, args model.JSONMap) (model.JSONMap, error) {
	locations := argStringSlice(args, "locations")
	if len(locations) == 0 {
		return nil, fmt.Errorf("weather_area: locations must not be empty")
	}
	weatherType := argString(args, "weather_type", "realtime")
	days := argInt(args, "days", 1)
	if days < 1 {
		days = 1
	}
	if days > 4 {
		days = 4
	}

	results := make([]model.JSONMap, 0, len(locations))
	for _, loc := range locations {
		if t.cfg.WeatherAPIKey == "" {
			results = append(results, mockWeather(loc, weatherType, days))
			continue
		}
		result, err := t.queryAmap(ctx, loc, weatherType, days)
		if err != nil {
			result = mockWeather(loc, weatherType, days)
		}
		results = append(results, result)
	}

	return model.JSONMap{
		"status": "ok",
		"summary": model.JSONMap{
			"weather_type":    weatherType,
			"days":            days,
			"total_locations": len(results),
		},
		"results": results,
	}, nil
}

type amapWeatherResponse struct {
	Status string `json:"status"`
	Lives  []struct {
		Weather       string `json:"weather"`
		Temperature   string `json:"temperature"`
		Humidity      string `json:"humidity"`
		WindDirection string `json:"winddirection"`
		ReportTime    string `json:"reporttime"`
	} `json:"lives"`
	Forecasts []struct {
		Casts []struct {
			Date         string `json:"date"`
			DayWeather   string `json:"dayweather"`
			NightWeather string `json:"nightweather"`
			DayTemp      string `json:"daytemp"`
			NightTemp    string `json:"nighttemp"`
		} `json:"casts"`
		ReportTime string `json:"reporttime"`
	} `json:"forecasts"`
}

func (t *WeatherAreaTool) queryAmap(ctx context.Context, location, weatherType string, days int) (model.JSONMap, error) {
	extensions := "base"
	if weatherType == "forecast" {
		extensions = "all"
	}
	q := url.Values{"key": {t.cfg.WeatherAPIKey}, "city": {location}, "extensions": {extensions}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://restapi.amap.com/v3/weather/weatherInfo?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed amapWeatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if parsed.Status != "1" {
		return nil, fmt.Errorf("amap weather query failed for %s", location)
	}

	if weatherType == "forecast" {
		if len(parsed.Forecasts) == 0 {
			return nil, fmt.Errorf("amap returned no forecast for %s", location)
		}
		cast := parsed.Forecasts[0]
		limit := days
		if limit > len(cast.Casts) {
			limit = len(cast.Casts)
		}
		return model.JSONMap{
			"location":    location,
			"status":      "success",
			"forecast":    cast.Casts[:limit],
			"report_time": cast.ReportTime,
		}, nil
	}
	if len(parsed.Lives) == 0 {
		return nil, fmt.Errorf("amap returned no live weather for %s", location)
	}
	live := parsed.Lives[0]
	return model.JSONMap{
		"location":      location,
		"status":        "success",
		"weather":       live.Weather,
		"temperature":   live.Temperature,
		"humidity":      live.Humidity,
		"winddirection": live.WindDirection,
		"report_time":   live.ReportTime,
	}, nil
}

var mockConditions = []string{"sunny", "cloudy", "light rain", "showers", "overcast"}

// mockWeather derives a deterministic reading from the location string so
// repeated calls with no provider key are stable rather than random.
func mockWeather(location, weatherType string, days int) model.JSONMap {
	h := fnv.New32a()
	_, _ = h.Write([]byte(location))
	seed := int(h.Sum32())
	temp := 15 + seed%15

	result := model.JSONMap{
		"location":    location,
		"weather":     mockConditions[seed%len(mockConditions)],
		"temperature": temp,
		"humidity":    40 + seed%50,
		"source":      "mock",
		"status":      "estimated",
	}
	if weatherType == "forecast" {
		forecast := make([]model.JSONMap, 0, days)
		base := time.Now()
		for i := 0; i < days; i++ {
			date := base.AddDate(0, 0, i)
			forecast = append(forecast, model.JSONMap{
				"date":       date.Format("2006-01-02"),
				"dayweather": result["weather"],
				"daytemp":    temp + 2,
				"nighttemp":  temp - 3,
			})
		}
		result["forecast"] = forecast
	}
	return result
}
