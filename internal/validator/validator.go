// Package validator checks a generated TripPlan against the invariants
// promised by a PlanRequest before it is persisted or returned to a caller.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"tripplan-go/internal/apierr"
	"tripplan-go/internal/model"
)

// Issue is one structured validation failure, path-addressable so callers
// can render or log it without string-parsing the message.
type Issue struct {
	Message string
	Path    string
	Detail  model.JSONMap
}

// ValidateOptions tunes which invariants are enforced.
type ValidateOptions struct {
	// RequireUniquePois controls cross-day POI de-dup (spec §9 Open
	// Question). Defaults to true; OptionsFromPreferences relaxes it when
	// Preferences.Extra carries allow_poi_repeat. Extra is not filled from
	// a JSON request body, so HTTP callers cannot set it.
	RequireUniquePois bool
}

// DefaultOptions returns the registry's default enforcement posture.
func DefaultOptions() ValidateOptions {
	return ValidateOptions{RequireUniquePois: true}
}

// OptionsFromPreferences derives ValidateOptions from a PlanRequest's
// preferences bag, honoring an explicit allow_poi_repeat override.
func OptionsFromPreferences(prefs model.Preferences) ValidateOptions {
	opts := DefaultOptions()
	if prefs.Extra != nil {
		if v, ok := prefs.Extra["allow_poi_repeat"]; ok {
			if allow, ok := v.(bool); ok && allow {
				opts.RequireUniquePois = false
			}
		}
	}
	return opts
}

// Validate checks plan against request and returns an *apierr.Error with
// Kind KindPlanFailed carrying every issue found, or nil if plan is sound.
func Validate(request model.PlanRequest, plan model.TripPlan, opts ValidateOptions) error {
	var issues []Issue

	expectedDays := request.DayCount()
	if plan.DayCount != expectedDays {
		issues = append(issues, Issue{
			Message: "day_count mismatch",
			Path:    "day_count",
			Detail:  model.JSONMap{"expected": expectedDays, "got": plan.DayCount},
		})
	}
	if len(plan.DayCards) != expectedDays {
		issues = append(issues, Issue{
			Message: "day_cards length mismatch",
			Path:    "day_cards",
			Detail:  model.JSONMap{"expected": expectedDays, "got": len(plan.DayCards)},
		})
	}

	seenPois := make(map[string]struct{})
	totalSubTrips := 0

	for idx, card := range plan.DayCards {
		path := fmt.Sprintf("day_cards[%d]", idx)
		if card.DayIndex != idx {
			issues = append(issues, Issue{
				Message: "day_index mismatch",
				Path:    path + ".day_index",
				Detail:  model.JSONMap{"expected": idx, "got": card.DayIndex},
			})
		}
		expectedDate := request.StartDate.AddDate(0, 0, idx)
		if !sameDate(card.Date, expectedDate) {
			issues = append(issues, Issue{
				Message: "day_card date mismatch",
				Path:    path + ".date",
				Detail:  model.JSONMap{"expected": expectedDate.Format("2006-01-02"), "got": card.Date.Format("2006-01-02")},
			})
		}

		seenOrder := make(map[int]struct{})
		var orderIndices []int
		for _, sub := range card.SubTrips {
			if _, dup := seenOrder[sub.OrderIndex]; dup {
				issues = append(issues, Issue{
					Message: "duplicate order_index",
					Path:    fmt.Sprintf("%s.sub_trips", path),
					Detail:  model.JSONMap{"day_index": idx, "order_index": sub.OrderIndex},
				})
				continue
			}
			seenOrder[sub.OrderIndex] = struct{}{}
			orderIndices = append(orderIndices, sub.OrderIndex)
		}
		if len(orderIndices) > 0 {
			sort.Ints(orderIndices)
			for i, v := range orderIndices {
				if v != i {
					issues = append(issues, Issue{
						Message: "order_index not continuous",
						Path:    fmt.Sprintf("%s.sub_trips", path),
						Detail:  model.JSONMap{"day_index": idx, "got": orderIndices},
					})
					break
				}
			}
		}

		totalSubTrips += len(card.SubTrips)

		if opts.RequireUniquePois {
			for _, sub := range card.SubTrips {
				key := poiKey(sub)
				if key == "" {
					continue
				}
				if _, dup := seenPois[key]; dup {
					issues = append(issues, Issue{
						Message: "poi duplicated across days",
						Path:    path + ".sub_trips",
						Detail:  model.JSONMap{"poi_key": key},
					})
					continue
				}
				seenPois[key] = struct{}{}
			}
		}
	}

	if plan.SubTripCount != totalSubTrips {
		issues = append(issues, Issue{
			Message: "sub_trip_count mismatch",
			Path:    "sub_trip_count",
			Detail:  model.JSONMap{"expected": totalSubTrips, "got": plan.SubTripCount},
		})
	}

	if len(issues) == 0 {
		return nil
	}
	return toAPIErr(issues)
}

// ValidateDay checks a single generated day card in isolation, before it is
// folded into the running plan: order_index density, start/end monotonicity,
// non-empty activity, a resolvable location (either a loc_name or an
// attached POI), and no POI repeated within the same day. Cross-day concerns
// (POI reuse across days, day-window bounds against the request) stay with
// the caller since ValidateDay has no visibility into prior days or the
// request's configured hours.
func ValidateDay(card model.PlanDayCard) error {
	var issues []Issue
	path := fmt.Sprintf("day_cards[%d]", card.DayIndex)

	if len(card.SubTrips) == 0 {
		issues = append(issues, Issue{
			Message: "day card has no sub_trips",
			Path:    path + ".sub_trips",
			Detail:  model.JSONMap{"day_index": card.DayIndex},
		})
	}

	seenOrder := make(map[int]struct{})
	seenPois := make(map[string]struct{})
	var orderIndices []int

	for i, sub := range card.SubTrips {
		subPath := fmt.Sprintf("%s.sub_trips[%d]", path, i)

		if _, dup := seenOrder[sub.OrderIndex]; dup {
			issues = append(issues, Issue{
				Message: "duplicate order_index",
				Path:    subPath + ".order_index",
				Detail:  model.JSONMap{"order_index": sub.OrderIndex},
			})
		} else {
			seenOrder[sub.OrderIndex] = struct{}{}
			orderIndices = append(orderIndices, sub.OrderIndex)
		}

		if sub.StartTime != nil && sub.EndTime != nil && !sub.StartTime.Before(*sub.EndTime) {
			issues = append(issues, Issue{
				Message: "start_time not before end_time",
				Path:    subPath,
				Detail:  model.JSONMap{"start_time": sub.StartTime, "end_time": sub.EndTime},
			})
		}

		if strings.TrimSpace(sub.Activity) == "" {
			issues = append(issues, Issue{
				Message: "activity is empty",
				Path:    subPath + ".activity",
				Detail:  model.JSONMap{"order_index": sub.OrderIndex},
			})
		}

		if strings.TrimSpace(sub.LocName) == "" && sub.PoiID == nil && poiKey(sub) == "" {
			issues = append(issues, Issue{
				Message: "sub_trip has neither loc_name nor a poi reference",
				Path:    subPath,
				Detail:  model.JSONMap{"order_index": sub.OrderIndex},
			})
		}

		if key := poiKey(sub); key != "" {
			if _, dup := seenPois[key]; dup {
				issues = append(issues, Issue{
					Message: "poi duplicated within day",
					Path:    subPath,
					Detail:  model.JSONMap{"poi_key": key, "day_index": card.DayIndex},
				})
			}
			seenPois[key] = struct{}{}
		}
	}

	if len(orderIndices) > 0 {
		sort.Ints(orderIndices)
		for i, v := range orderIndices {
			if v != i {
				issues = append(issues, Issue{
					Message: "order_index not dense from 0",
					Path:    path + ".sub_trips",
					Detail:  model.JSONMap{"day_index": card.DayIndex, "got": orderIndices},
				})
				break
			}
		}
	}

	if len(issues) == 0 {
		return nil
	}
	return toAPIErr(issues)
}

// poiKey derives the provider:provider_id dedup key from a sub-trip's Ext
// bag, matching the `ext.poi.{provider,provider_id}` convention the planner
// writes when attaching a resolved POI.
func poiKey(sub model.PlanSubTrip) string {
	if sub.Ext == nil {
		return ""
	}
	poiRaw, ok := sub.Ext["poi"]
	if !ok {
		return ""
	}
	var poi map[string]any
	switch v := poiRaw.(type) {
	case model.JSONMap:
		poi = v
	case map[string]any:
		poi = v
	default:
		return ""
	}
	provider, _ := poi["provider"].(string)
	providerID, _ := poi["provider_id"].(string)
	if provider == "" || providerID == "" {
		return ""
	}
	return provider + ":" + providerID
}

func sameDate(a, b time.Time) bool {
	return a.Format("2006-01-02") == b.Format("2006-01-02")
}

func toAPIErr(issues []Issue) error {
	detail := make([]model.JSONMap, 0, len(issues))
	for _, it := range issues {
		detail = append(detail, model.JSONMap{"message": it.Message, "path": it.Path, "detail": it.Detail})
	}
	err := apierr.New(apierr.KindPlanFailed, fmt.Sprintf("plan validation failed: %d issue(s)", len(issues)))
	err.Detail = model.JSONMap{"issues": detail}
	return err
}
