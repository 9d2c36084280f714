// Package planner implements both trip-generation strategies: a
// deterministic rule-based planner (fast.go) and an LLM-orchestrated one
// (deep.go), sharing the same candidate-POI and output contract (spec §4.G/4.H).
package planner

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"tripplan-go/internal/apierr"
	"tripplan-go/internal/config"
	"tripplan-go/internal/metrics"
	"tripplan-go/internal/model"
	"tripplan-go/internal/poi"
	"tripplan-go/pkg/geocode"
)

// FastRulesVersion is recorded on every fast-generated trip's meta so a
// later rules change is distinguishable in stored data.
const FastRulesVersion = "fast_rules_v1"

// candidatePoi is one de-duplicated POI available to the slot-filling
// algorithm, merged from the canonical store and the live POI waterfall.
type candidatePoi struct {
	Provider   string
	ProviderID string
	PoiID      *uint
	Name       string
	Category   string
	Addr       string
	Rating     float64
	Lat, Lng   float64
	Source     string
	DistanceM  float64
}

func (c candidatePoi) key() string { return c.Provider + ":" + c.ProviderID }

// FastPlanner generates a complete TripPlan with no LLM call, suitable as
// both the default fast mode and the deep planner's fallback path.
type FastPlanner struct {
	cfg      config.PlannerConfig
	poiCfg   config.PoiConfig
	poiSvc   poi.Service
	poiRepo  poi.Repository
	geocoder geocode.Client
	metrics  *metrics.Registry
}

// NewFastPlanner wires the fast planner's collaborators.
func NewFastPlanner(cfg config.PlannerConfig, poiCfg config.PoiConfig, poiSvc poi.Service, poiRepo poi.Repository, geocoder geocode.Client, metricsRegistry *metrics.Registry) *FastPlanner {
	return &FastPlanner{cfg: cfg, poiCfg: poiCfg, poiSvc: poiSvc, poiRepo: poiRepo, geocoder: geocoder, metrics: metricsRegistry}
}

// Plan deterministically builds a TripPlan: same request + same candidate
// snapshot must yield a byte-identical plan aside from trace_id/timing
// (spec §8 reproducibility invariant).
func (p *FastPlanner) Plan(ctx context.Context, request model.PlanRequest) (model.TripPlan, model.JSONMap, error) {
	start := time.Now()
	dayCount := request.DayCount()
	if dayCount <= 0 {
		return model.TripPlan{}, nil, apierr.New(apierr.KindPlanFailed, "invalid date range")
	}
	maxDays := p.cfg.MaxDays
	if maxDays <= 0 {
		maxDays = 14
	}
	if dayCount > maxDays {
		return model.TripPlan{}, nil, apierr.New(apierr.KindRangeExceeded, fmt.Sprintf("day_count exceeds max_days (%d)", maxDays))
	}

	seed := p.cfg.FastRandomSeed
	if request.Seed != nil {
		seed = *request.Seed
	}
	rng := rand.New(rand.NewSource(seed))

	interests := request.Preferences.Interests
	if len(interests) == 0 {
		interests = []string{"sight", "food"}
	}

	daySpan, err := newDaySpan(p.cfg)
	if err != nil {
		return model.TripPlan{}, nil, err
	}

	candidates, poiMetrics, err := p.loadCandidates(ctx, request.Destination, interests, dayCount)
	if err != nil {
		p.recordMetrics(start, request, dayCount, false, err.Error())
		return model.TripPlan{}, nil, err
	}

	activitiesPerHalfDay := 1
	pace := strings.ToLower(strings.TrimSpace(request.Preferences.Pace))
	if pace == "fast" || pace == "packed" {
		activitiesPerHalfDay = 2
	}
	if dayCount <= 2 && activitiesPerHalfDay < 2 {
		activitiesPerHalfDay = 2
	}

	used := make(map[string]struct{})
	cursor := 0
	if len(interests) > 0 {
		cursor = rng.Intn(len(interests))
	}
	interestOrder := append(append([]string{}, interests[cursor:]...), interests[:cursor]...)

	var dayCards []model.PlanDayCard
	totalSubTrips := 0
	for dayIdx := 0; dayIdx < dayCount; dayIdx++ {
		currentDate := request.StartDate.AddDate(0, 0, dayIdx)
		var subTrips []model.PlanSubTrip
		orderIndex := 0
		prevCategory := ""

		for _, window := range daySpan.halfDayWindows() {
			slotCapacity := (window.endMin - window.startMin) / daySpan.slotMinutes
			if slotCapacity < 1 {
				slotCapacity = 1
			}
			perSlot := activitiesPerHalfDay
			if perSlot > slotCapacity {
				perSlot = slotCapacity
			}
			if perSlot < 1 {
				perSlot = 1
			}

			for localIdx := 0; localIdx < perSlot; localIdx++ {
				startMin := window.startMin + localIdx*daySpan.slotMinutes
				candidate, ok := pickCandidate(candidates, interestOrder, used, prevCategory)
				if !ok {
					subTrips = append(subTrips, buildFallbackSubTrip(request.Destination, orderIndex, window.name, startMin, daySpan.slotMinutes, p.cfg.FastTransportMode))
					orderIndex++
					continue
				}
				used[candidate.key()] = struct{}{}
				if candidate.Category != "" {
					prevCategory = candidate.Category
				}
				subTrips = append(subTrips, buildSubTrip(candidate, orderIndex, window.name, startMin, daySpan.slotMinutes, p.cfg.FastTransportMode))
				orderIndex++
			}
		}

		totalSubTrips += len(subTrips)
		dayCards = append(dayCards, model.PlanDayCard{
			DayIndex: dayIdx,
			Date:     currentDate,
			SubTrips: subTrips,
		})
	}

	plan := model.TripPlan{
		UserID:      request.UserID,
		Title:       request.Destination + " 行程规划",
		Destination: request.Destination,
		StartDate:   request.StartDate,
		EndDate:     request.EndDate,
		Status:      model.TripStatusDraft,
		Meta: model.JSONMap{
			"planner": model.JSONMap{
				"mode":          "fast",
				"rules_version": FastRulesVersion,
				"seed":          seed,
				"interests":     interests,
			},
		},
		DayCards:     dayCards,
		DayCount:     dayCount,
		SubTripCount: totalSubTrips,
	}

	runMetrics := model.JSONMap{
		"planner":        FastRulesVersion,
		"seed":           seed,
		"day_count":      dayCount,
		"candidate_pois": len(candidates),
		"activities":     totalSubTrips,
		"poi_sources":    poiMetrics,
	}
	p.recordMetrics(start, request, dayCount, true, "")
	return plan, runMetrics, nil
}

func (p *FastPlanner) recordMetrics(start time.Time, request model.PlanRequest, days int, success bool, errMsg string) {
	if p.metrics == nil {
		return
	}
	p.metrics.Record(metrics.CallEntry{
		Category:  "plan.fast",
		Label:     request.Destination,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Success:   success,
		Error:     errMsg,
		Days:      days,
	})
}

// loadCandidates merges previously-resolved POIs matching the destination
// with a live POI-around lookup per interest around the geocoded city
// center, de-duplicated and sorted by rating desc, name/provider/id asc.
func (p *FastPlanner) loadCandidates(ctx context.Context, destination string, interests []string, dayCount int) ([]candidatePoi, model.JSONMap, error) {
	limitPerDay := p.cfg.FastPoiLimitPerDay
	if limitPerDay <= 0 {
		limitPerDay = 6
	}
	limit := limitPerDay * dayCount
	if limit > 200 {
		limit = 200
	}
	if limit < 1 {
		limit = 1
	}

	dbRows, err := p.poiRepo.FindByDestination(ctx, destination, limit*2)
	if err != nil {
		dbRows = nil
	}

	center, err := p.geocoder.ResolveCityCenter(ctx, destination)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.KindPoiProviderError, "failed to resolve destination center", err)
	}

	sourcesCounter := model.JSONMap{}
	seen := make(map[string]struct{})
	var merged []candidatePoi

	for i := range dbRows {
		row := dbRows[i]
		id := row.ID
		c := candidatePoi{
			Provider: row.Provider, ProviderID: row.ProviderID, PoiID: &id,
			Name: row.Name, Category: row.Category, Addr: row.Addr, Rating: row.Rating,
			Lat: row.Lat, Lng: row.Lng, Source: "db",
		}
		if _, dup := seen[c.key()]; dup {
			continue
		}
		seen[c.key()] = struct{}{}
		merged = append(merged, c)
	}

	maxInterests := interests
	if len(maxInterests) > 6 {
		maxInterests = maxInterests[:6]
	}
	apiLimit := limit
	if apiLimit > 30 {
		apiLimit = 30
	}
	for _, interest := range maxInterests {
		results, meta, err := p.poiSvc.Around(ctx, center.Lat, center.Lng, interest, p.poiCfg.DefaultRadiusM, apiLimit)
		if err != nil {
			continue
		}
		source := meta.Source
		if source == "" {
			source = "unknown"
		}
		if n, ok := sourcesCounter[source].(int); ok {
			sourcesCounter[source] = n + 1
		} else {
			sourcesCounter[source] = 1
		}
		for _, r := range results {
			if r.ProviderID == "" {
				continue
			}
			c := candidatePoi{
				Provider: r.Provider, ProviderID: r.ProviderID,
				Name: r.Name, Category: r.Category, Addr: r.Addr, Rating: r.Rating,
				Lat: r.Lat, Lng: r.Lng, Source: r.Source, DistanceM: r.DistanceM,
			}
			if _, dup := seen[c.key()]; dup {
				continue
			}
			seen[c.key()] = struct{}{}
			merged = append(merged, c)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		return a.ProviderID < b.ProviderID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, sourcesCounter, nil
}

// pickCandidate prefers an unused POI matching an interest and differing
// from the previous slot's category, then any unused POI differing in
// category, then any unused POI at all.
func pickCandidate(candidates []candidatePoi, interests []string, used map[string]struct{}, prevCategory string) (candidatePoi, bool) {
	interestSet := make(map[string]struct{}, len(interests))
	for _, i := range interests {
		if strings.TrimSpace(i) != "" {
			interestSet[i] = struct{}{}
		}
	}

	for _, c := range candidates {
		if _, used := used[c.key()]; used {
			continue
		}
		if _, ok := interestSet[c.Category]; ok && c.Category != prevCategory {
			return c, true
		}
	}
	for _, c := range candidates {
		if _, used := used[c.key()]; used {
			continue
		}
		if c.Category != "" && c.Category != prevCategory {
			return c, true
		}
	}
	for _, c := range candidates {
		if _, used := used[c.key()]; used {
			continue
		}
		return c, true
	}
	return candidatePoi{}, false
}

var activityTitles = map[string]string{
	"food":     "美食探索",
	"sight":    "景点游览",
	"museum":   "博物馆参观",
	"park":     "公园漫步",
	"hotel":    "住宿安排",
	"shopping": "购物休闲",
}

func activityTitle(category string) string {
	key := strings.ToLower(strings.TrimSpace(category))
	if title, ok := activityTitles[key]; ok {
		return title
	}
	return category + "体验"
}

func buildSubTrip(c candidatePoi, orderIndex int, slotName string, startMin, slotMinutes int, transport string) model.PlanSubTrip {
	startTime := minutesToTime(startMin)
	endTime := minutesToTime(startMin + slotMinutes)
	category := c.Category
	if category == "" {
		category = "activity"
	}
	lat, lng := c.Lat, c.Lng
	ext := model.JSONMap{
		"slot": slotName,
		"poi": model.JSONMap{
			"provider":    c.Provider,
			"provider_id": c.ProviderID,
			"source":      c.Source,
			"category":    c.Category,
			"addr":        c.Addr,
			"rating":      c.Rating,
			"distance_m":  c.DistanceM,
		},
		"planner": model.JSONMap{"rules_version": FastRulesVersion},
	}
	return model.PlanSubTrip{
		OrderIndex: orderIndex,
		Activity:   activityTitle(category),
		PoiID:      c.PoiID,
		LocName:    c.Name,
		Transport:  model.Transport(transport),
		StartTime:  &startTime,
		EndTime:    &endTime,
		Lat:        &lat,
		Lng:        &lng,
		Ext:        ext,
	}
}

func buildFallbackSubTrip(destination string, orderIndex int, slotName string, startMin, slotMinutes int, transport string) model.PlanSubTrip {
	startTime := minutesToTime(startMin)
	endTime := minutesToTime(startMin + slotMinutes)
	return model.PlanSubTrip{
		OrderIndex: orderIndex,
		Activity:   "自由探索",
		LocName:    destination,
		Transport:  model.Transport(transport),
		StartTime:  &startTime,
		EndTime:    &endTime,
		Ext: model.JSONMap{
			"slot":     slotName,
			"fallback": true,
			"planner":  model.JSONMap{"rules_version": FastRulesVersion},
			"hint":     "POI 数据不足，已降级为自由探索；可补充 POI 数据或扩大兴趣类型后重试。",
		},
	}
}

// daySpan holds the parsed day window used to derive morning/afternoon
// half-day slot boundaries.
type daySpan struct {
	startMin, endMin, slotMinutes int
}

type halfDayWindow struct {
	name             string
	startMin, endMin int
}

func newDaySpan(cfg config.PlannerConfig) (daySpan, error) {
	startMin, err := parseHHMM(cfg.DefaultDayStart)
	if err != nil {
		return daySpan{}, apierr.Wrap(apierr.KindInternal, "invalid planner day_start config", err)
	}
	endMin, err := parseHHMM(cfg.DefaultDayEnd)
	if err != nil {
		return daySpan{}, apierr.Wrap(apierr.KindInternal, "invalid planner day_end config", err)
	}
	slotMinutes := cfg.DefaultSlotMinutes
	if slotMinutes < 15 {
		slotMinutes = 15
	}
	return daySpan{startMin: startMin, endMin: endMin, slotMinutes: slotMinutes}, nil
}

func (d daySpan) halfDayWindows() []halfDayWindow {
	mid := (d.startMin + d.endMin) / 2
	return []halfDayWindow{
		{name: "morning", startMin: d.startMin, endMin: mid},
		{name: "afternoon", startMin: mid, endMin: d.endMin},
	}
}

func parseHHMM(value string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time config: %s", value)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, fmt.Errorf("invalid time config: %s", value)
	}
	return h*60 + m, nil
}

func minutesToTime(minutes int) time.Time {
	if minutes < 0 {
		minutes = 0
	}
	hour := minutes / 60
	if hour > 23 {
		hour = 23
	}
	minute := minutes % 60
	return time.Date(0, 1, 1, hour, minute, 0, 0, time.UTC)
}
