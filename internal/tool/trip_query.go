package tool

import (
	"context"
	"fmt"
	"time"

	"tripplan-go/internal/model"
	"tripplan-go/internal/planrepo"
)

// TripQueryTool reads a saved Trip/DayCard/SubTrip tree for a given
// (user_id, trip_id, day?) (spec §4.F `trip_query`).
type TripQueryTool struct {
	repo planrepo.Repository
}

// NewTripQueryTool builds the trip_query tool.
func NewTripQueryTool(repo planrepo.Repository) *TripQueryTool {
	return &TripQueryTool{repo: repo}
}

func (t *TripQueryTool) Name() string { return "trip_query" }

func (t *TripQueryTool) Description() string {
	return "Read a saved trip's day cards and sub-trips, optionally filtered to a single day."
}

func (t *TripQueryTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user_id":  map[string]any{"type": "integer", "description": "requesting user id, for ownership enforcement"},
			"trip_id":  map[string]any{"type": "integer", "description": "saved trip id"},
			"day":      map[string]any{"type": "integer", "description": "optional zero-based day index to filter to"},
			"is_admin": map[string]any{"type": "boolean", "description": "bypass ownership check for admin requesters"},
		},
		"required": []string{"user_id", "trip_id"},
	}
}

func (t *TripQueryTool) Execute(ctx context.Context, args model.JSONMap) (model.JSONMap, error) {
	userID := argUint(args, "user_id", 0)
	tripID := argUint(args, "trip_id", 0)
	isAdmin := argBool(args, "is_admin", false)
	_, hasDay := args["day"]

	plan, err := t.repo.FindByID(ctx, tripID, userID, isAdmin)
	if err != nil {
		return nil, fmt.Errorf("trip_query: %w", err)
	}

	dayCards := plan.DayCards
	if hasDay {
		wantDay := argInt(args, "day", -1)
		filtered := make([]model.PlanDayCard, 0, 1)
		for _, card := range dayCards {
			if card.DayIndex == wantDay {
				filtered = append(filtered, card)
			}
		}
		dayCards = filtered
	}

	days := make([]model.JSONMap, 0, len(dayCards))
	for _, card := range dayCards {
		subs := make([]model.JSONMap, 0, len(card.SubTrips))
		for _, sub := range card.SubTrips {
			subs = append(subs, model.JSONMap{
				"order_index": sub.OrderIndex,
				"activity":    sub.Activity,
				"loc_name":    sub.LocName,
				"transport":   sub.Transport,
				"start_time":  formatTime(sub.StartTime),
				"end_time":    formatTime(sub.EndTime),
			})
		}
		days = append(days, model.JSONMap{
			"day_index": card.DayIndex,
			"date":      card.Date.Format("2006-01-02"),
			"note":      card.Note,
			"sub_trips": subs,
		})
	}

	return model.JSONMap{
		"status":      "ok",
		"trip_id":     tripID,
		"destination": plan.Destination,
		"day_count":   len(days),
		"days":        days,
	}, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("15:04")
}
