package validator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripplan-go/internal/model"
)

func baseRequest(days int) model.PlanRequest {
	start := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	return model.PlanRequest{
		Destination: "Guangzhou",
		StartDate:   start,
		EndDate:     start.AddDate(0, 0, days-1),
	}
}

func validPlan(days int) model.TripPlan {
	req := baseRequest(days)
	cards := make([]model.PlanDayCard, 0, days)
	total := 0
	for i := 0; i < days; i++ {
		cards = append(cards, model.PlanDayCard{
			DayIndex: i,
			Date:     req.StartDate.AddDate(0, 0, i),
			SubTrips: []model.PlanSubTrip{
				{OrderIndex: 0, Activity: "sight", LocName: "Old Town"},
			},
		})
		total++
	}
	return model.TripPlan{
		DayCards:     cards,
		DayCount:     days,
		SubTripCount: total,
	}
}

func TestValidate_AcceptsWellFormedPlan(t *testing.T) {
	req := baseRequest(2)
	plan := validPlan(2)
	assert.NoError(t, Validate(req, plan, DefaultOptions()))
}

func TestValidate_RejectsDayCountMismatch(t *testing.T) {
	req := baseRequest(2)
	plan := validPlan(1)
	err := Validate(req, plan, DefaultOptions())
	require.Error(t, err)
}

func TestValidate_RejectsNonDenseOrderIndex(t *testing.T) {
	req := baseRequest(1)
	plan := validPlan(1)
	plan.DayCards[0].SubTrips = []model.PlanSubTrip{
		{OrderIndex: 0, Activity: "sight"},
		{OrderIndex: 2, Activity: "food"}, // gap: should be 1
	}
	err := Validate(req, plan, DefaultOptions())
	require.Error(t, err)
}

func TestValidate_RejectsDuplicateOrderIndex(t *testing.T) {
	req := baseRequest(1)
	plan := validPlan(1)
	plan.DayCards[0].SubTrips = []model.PlanSubTrip{
		{OrderIndex: 0, Activity: "sight"},
		{OrderIndex: 0, Activity: "food"},
	}
	err := Validate(req, plan, DefaultOptions())
	require.Error(t, err)
}

func TestValidate_RejectsDateMismatch(t *testing.T) {
	req := baseRequest(2)
	plan := validPlan(2)
	plan.DayCards[1].Date = plan.DayCards[1].Date.AddDate(0, 0, 5)
	err := Validate(req, plan, DefaultOptions())
	require.Error(t, err)
}

func TestValidate_CrossDayPoiDedup(t *testing.T) {
	req := baseRequest(2)
	plan := validPlan(2)
	poiExt := model.JSONMap{"poi": model.JSONMap{"provider": "mock", "provider_id": "1"}}
	plan.DayCards[0].SubTrips[0].Ext = poiExt
	plan.DayCards[1].SubTrips[0].Ext = poiExt

	err := Validate(req, plan, ValidateOptions{RequireUniquePois: true})
	require.Error(t, err)

	// Same duplicate is tolerated when dedup enforcement is disabled.
	assert.NoError(t, Validate(req, plan, ValidateOptions{RequireUniquePois: false}))
}

func TestOptionsFromPreferences_AllowPoiRepeatOverride(t *testing.T) {
	prefs := model.Preferences{Extra: model.JSONMap{"allow_poi_repeat": true}}
	opts := OptionsFromPreferences(prefs)
	assert.False(t, opts.RequireUniquePois)

	opts = OptionsFromPreferences(model.Preferences{})
	assert.True(t, opts.RequireUniquePois)
}

func TestValidate_RejectsSubTripCountMismatch(t *testing.T) {
	req := baseRequest(1)
	plan := validPlan(1)
	plan.SubTripCount = 99
	err := Validate(req, plan, DefaultOptions())
	require.Error(t, err)
}
