package assistant

import (
	"tripplan-go/internal/model"
)

// normalizedCall is the tool_args_normalize step's output: either a single
// tool name plus validated arguments, or a skip reason recorded as a trace
// (spec §4.K step 4). The pipeline invokes at most one tool per turn,
// since the router yields exactly one intent.
type normalizedCall struct {
	ToolName string
	Args     model.JSONMap
	Skipped  bool
	Reason   string
}

func normalizeToolArgs(route RouteResult, state *model.AssistantState) normalizedCall {
	switch route.Intent {
	case model.IntentPoiNearby:
		if state.Location == nil {
			return normalizedCall{Skipped: true, Reason: "missing_location"}
		}
		args := model.JSONMap{
			"lat": state.Location.Lat,
			"lng": state.Location.Lng,
		}
		if route.PoiCategory != "" {
			args["category"] = route.PoiCategory
		}
		if state.PoiQuery != nil {
			if state.PoiQuery.Type != "" {
				args["category"] = state.PoiQuery.Type
			}
			if state.PoiQuery.Radius > 0 {
				args["radius_m"] = state.PoiQuery.Radius
			}
		}
		return normalizedCall{ToolName: "poi_around", Args: args}

	case model.IntentTripQuery:
		if state.TripID == nil {
			return normalizedCall{Skipped: true, Reason: "missing_trip_id"}
		}
		args := model.JSONMap{
			"user_id": state.UserID,
			"trip_id": *state.TripID,
		}
		if route.DayIndex != nil {
			args["day"] = *route.DayIndex
		}
		return normalizedCall{ToolName: "trip_query", Args: args}

	case model.IntentWeather:
		locations := route.WeatherLocations
		if len(locations) == 0 {
			return normalizedCall{Skipped: true, Reason: "missing_location"}
		}
		weatherType := "realtime"
		days := 1
		if route.WeatherDayOffset != nil {
			offset := *route.WeatherDayOffset
			if offset > 0 {
				weatherType = "forecast"
				days = offset + 1
				if days > 4 {
					days = 4
				}
			}
		}
		return normalizedCall{
			ToolName: "weather_area",
			Args: model.JSONMap{
				"locations":    locations[:1],
				"weather_type": weatherType,
				"days":         days,
			},
		}

	case model.IntentNavigation:
		if route.NavDestination == "" {
			return normalizedCall{Skipped: true, Reason: "missing_destination"}
		}
		return normalizedCall{
			ToolName: "path_navigate",
			Args: model.JSONMap{
				"routes": []any{
					map[string]any{"origin": "current location", "destination": route.NavDestination},
				},
				"travel_mode": "driving",
			},
		}

	default:
		return normalizedCall{Skipped: true, Reason: "no_tool_for_intent"}
	}
}
