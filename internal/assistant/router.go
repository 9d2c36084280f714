package assistant

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"tripplan-go/internal/model"
)

// RouteResult is the rule_router step's output: an intent classification
// with confidence plus whatever slots deterministic parsing could recover
// from the query text (spec §4.K step 3).
type RouteResult struct {
	Intent     model.Intent
	Confidence float64

	// Weather slots.
	WeatherLocations []string
	WeatherDayOffset *int
	WeatherDayLabel  string

	// POI slot.
	PoiCategory string

	// Trip query slot.
	DayIndex *int

	// Navigation slot.
	NavDestination string
}

var weatherKeywords = []string{"天气", "weather", "气温", "温度", "下雨", "降雨", "风力", "风向"}
var navigationKeywords = []string{"路线", "路径", "导航", "route", "navigate", "怎么去", "怎么走"}
var poiKeywords = []string{"附近", "周边", "周围", "景点", "好吃", "餐厅", "美食", "hotel", "附近有"}
var tripKeywords = []string{"行程", "trip", "计划", "安排", "第几天"}

func containsAny(lowered string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

var dayIndexRe = regexp.MustCompile(`第\s*(\d+)\s*天|day\s*(\d+)`)

// Route classifies a free-text query into one of the fixed intents using
// bilingual keyword rule-sets, mirroring the heuristic half of the
// original tool-selection logic (LLM-first routing is explicitly not
// reused: the router must stay deterministic per spec).
func Route(query string, now time.Time) RouteResult {
	lowered := strings.ToLower(query)

	if containsAny(lowered, weatherKeywords) {
		spec := buildWeatherDateSpec(query, now)
		return RouteResult{
			Intent:           model.IntentWeather,
			Confidence:       0.85,
			WeatherLocations: spec.Locations,
			WeatherDayOffset: spec.DayOffset,
			WeatherDayLabel:  spec.DayLabel,
		}
	}
	if containsAny(lowered, navigationKeywords) {
		return RouteResult{
			Intent:         model.IntentNavigation,
			Confidence:     0.8,
			NavDestination: stripNavigationNoise(query),
		}
	}
	if containsAny(lowered, poiKeywords) {
		return RouteResult{
			Intent:      model.IntentPoiNearby,
			Confidence:  0.8,
			PoiCategory: guessPoiCategory(lowered),
		}
	}
	if containsAny(lowered, tripKeywords) {
		var dayIndex *int
		if m := dayIndexRe.FindStringSubmatch(query); m != nil {
			raw := m[1]
			if raw == "" {
				raw = m[2]
			}
			if n, err := strconv.Atoi(raw); err == nil {
				idx := n - 1
				dayIndex = &idx
			}
		}
		return RouteResult{Intent: model.IntentTripQuery, Confidence: 0.8, DayIndex: dayIndex}
	}
	return RouteResult{Intent: model.IntentGeneralQA, Confidence: 0.3}
}

var navigationNoiseRe = regexp.MustCompile(`路线|路径|导航|route|navigate|怎么去|怎么走|到|去|的|吗|呢|？|\?`)

func stripNavigationNoise(query string) string {
	stripped := navigationNoiseRe.ReplaceAllString(query, " ")
	return strings.TrimSpace(stripped)
}

func guessPoiCategory(lowered string) string {
	switch {
	case containsAny(lowered, []string{"吃", "餐", "美食", "food"}):
		return "food"
	case containsAny(lowered, []string{"景点", "景区", "游玩", "sight"}):
		return "sight"
	case containsAny(lowered, []string{"住", "酒店", "hotel"}):
		return "hotel"
	default:
		return ""
	}
}
