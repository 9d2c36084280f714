package assistant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripplan-go/internal/model"
)

func TestRoute_Weather(t *testing.T) {
	r := Route("广州明天天气怎么样", time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC))
	assert.Equal(t, model.IntentWeather, r.Intent)
	assert.Greater(t, r.Confidence, 0.5)
}

func TestRoute_PoiNearby_GuessesFoodCategory(t *testing.T) {
	r := Route("附近有什么好吃的餐厅", time.Now())
	assert.Equal(t, model.IntentPoiNearby, r.Intent)
	assert.Equal(t, "food", r.PoiCategory)
}

func TestRoute_TripQuery_ExtractsDayIndex(t *testing.T) {
	r := Route("第3天的行程安排是什么", time.Now())
	assert.Equal(t, model.IntentTripQuery, r.Intent)
	require.NotNil(t, r.DayIndex)
	assert.Equal(t, 2, *r.DayIndex) // 1-based "第3天" -> 0-based day_index 2
}

func TestRoute_Navigation(t *testing.T) {
	r := Route("从酒店怎么去机场", time.Now())
	assert.Equal(t, model.IntentNavigation, r.Intent)
}

func TestRoute_FallsBackToGeneralQA(t *testing.T) {
	r := Route("你好，介绍一下你自己", time.Now())
	assert.Equal(t, model.IntentGeneralQA, r.Intent)
	assert.Less(t, r.Confidence, 0.5)
}

func TestRoute_IsDeterministic(t *testing.T) {
	now := time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)
	r1 := Route("广州附近有什么景点", now)
	r2 := Route("广州附近有什么景点", now)
	assert.Equal(t, r1, r2)
}
