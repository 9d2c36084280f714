package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"tripplan-go/internal/apierr"
	"tripplan-go/internal/config"
	"tripplan-go/internal/metrics"
	"tripplan-go/internal/model"
	"tripplan-go/internal/poi"
	"tripplan-go/internal/prompt"
	"tripplan-go/internal/validator"
	"tripplan-go/pkg/geocode"
	"tripplan-go/pkg/llm"
	"tripplan-go/pkg/log"
)

// DeepPlannerName is recorded on every deep-generated trip's meta, mirroring
// FastRulesVersion's role for the rule-based planner.
const DeepPlannerName = "deep_llm_v1"

const deepPromptKey = "deep_planner.day_outline"

// PreferenceMemory is the deep planner's optional collaborator for merging
// a traveler's long-term preferences into a request before generation. Left
// unset, the request's own preferences are used as-is.
type PreferenceMemory interface {
	SearchPreferences(ctx context.Context, userID uint) (model.Preferences, bool)
}

// DeepPlanner generates a TripPlan day-by-day via structured LLM
// completions, validating each day as it arrives and falling back to the
// deterministic FastPlanner when generation cannot be made to validate.
type DeepPlanner struct {
	cfg        config.DeepPlannerConfig
	plannerCfg config.PlannerConfig
	poiCfg     config.PoiConfig
	llmClient  llm.Client
	prompts    *prompt.Registry
	fast       *FastPlanner
	poiSvc     poi.Service
	geocoder   geocode.Client
	memory     PreferenceMemory
	metrics    *metrics.Registry
}

// NewDeepPlanner wires the deep planner's collaborators. memory may be nil.
func NewDeepPlanner(
	cfg config.DeepPlannerConfig,
	plannerCfg config.PlannerConfig,
	poiCfg config.PoiConfig,
	llmClient llm.Client,
	prompts *prompt.Registry,
	fast *FastPlanner,
	poiSvc poi.Service,
	geocoder geocode.Client,
	memory PreferenceMemory,
	metricsRegistry *metrics.Registry,
) *DeepPlanner {
	return &DeepPlanner{
		cfg:        cfg,
		plannerCfg: plannerCfg,
		poiCfg:     poiCfg,
		llmClient:  llmClient,
		prompts:    prompts,
		fast:       fast,
		poiSvc:     poiSvc,
		geocoder:   geocoder,
		memory:     memory,
		metrics:    metricsRegistry,
	}
}

// candidateRef is the subset of a candidatePoi the LLM is shown and asked
// to reference back by provider/provider_id, never by free text.
type candidateRef struct {
	Provider   string  `json:"provider"`
	ProviderID string  `json:"provider_id"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Addr       string  `json:"addr,omitempty"`
	Rating     float64 `json:"rating,omitempty"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

// dayOutlinePayload is the strict JSON shape the LLM must return for one
// day, decoded directly off Complete's response text.
type dayOutlinePayload struct {
	DayIndex int    `json:"day_index"`
	Date     string `json:"date"`
	Note     string `json:"note,omitempty"`
	SubTrips []struct {
		OrderIndex int    `json:"order_index"`
		Activity   string `json:"activity"`
		LocName    string `json:"loc_name,omitempty"`
		Transport  string `json:"transport,omitempty"`
		StartTime  string `json:"start_time,omitempty"`
		EndTime    string `json:"end_time,omitempty"`
		Poi        *struct {
			Provider   string `json:"provider"`
			ProviderID string `json:"provider_id"`
		} `json:"poi,omitempty"`
	} `json:"sub_trips"`
}

// Plan walks day_count days, asking the LLM for one validated day card at
// a time, and degrades to FastPlanner.Plan on unrecoverable failure (spec
// §4.H: deep planner must never surface a bare LLM error to the caller
// when fallback_to_fast is enabled).
func (p *DeepPlanner) Plan(ctx context.Context, request model.PlanRequest) (model.TripPlan, model.JSONMap, error) {
	start := time.Now()
	runMetrics := model.JSONMap{
		"planner":          DeepPlannerName,
		"prompt_version":   p.cfg.PromptVersion,
		"fallback_to_fast": false,
		"llm_calls":        0,
		"llm_retries":      0,
	}

	plan, dayMetrics, err := p.planAllDays(ctx, request)
	if err != nil {
		if p.cfg.FallbackToFast && p.fast != nil {
			log.Error("deep planner failed, degrading to fast planner", err)
			fallbackPlan, fallbackMetrics, fallbackErr := p.fast.Plan(ctx, request)
			if fallbackErr != nil {
				p.recordMetrics(start, request, fallbackPlan.DayCount, 0, false, true, err.Error())
				return model.TripPlan{}, nil, fallbackErr
			}
			runMetrics["fallback_to_fast"] = true
			runMetrics["fallback_reason"] = err.Error()
			runMetrics["fallback_metrics"] = fallbackMetrics
			p.recordMetrics(start, request, fallbackPlan.DayCount, 0, true, true, err.Error())
			return fallbackPlan, runMetrics, nil
		}
		p.recordMetrics(start, request, 0, 0, false, false, err.Error())
		if apiErr, ok := apierr.As(err); ok {
			return model.TripPlan{}, nil, apiErr
		}
		return model.TripPlan{}, nil, apierr.Wrap(apierr.KindDeepPlanFailed, "deep planning failed", err)
	}

	for k, v := range dayMetrics {
		runMetrics[k] = v
	}
	tokensTotal, _ := dayMetrics["tokens_total"].(int)
	fallbackUsed, _ := dayMetrics["fallback_used"].(bool)
	if fallbackUsed {
		runMetrics["fallback_to_fast"] = true
	}
	p.recordMetrics(start, request, plan.DayCount, tokensTotal, true, fallbackUsed, "")
	return plan, runMetrics, nil
}

func (p *DeepPlanner) planAllDays(ctx context.Context, request model.PlanRequest) (model.TripPlan, model.JSONMap, error) {
	if p.llmClient == nil {
		return model.TripPlan{}, nil, apierr.New(apierr.KindDeepUnsupported, "deep planner has no configured LLM client")
	}

	dayCount := request.DayCount()
	if dayCount <= 0 {
		return model.TripPlan{}, nil, apierr.New(apierr.KindPlanFailed, "invalid date range")
	}
	maxDays := p.cfg.MaxDays
	if maxDays <= 0 {
		maxDays = p.plannerCfg.MaxDays
	}
	if maxDays <= 0 {
		maxDays = 14
	}
	if dayCount > maxDays {
		return model.TripPlan{}, nil, apierr.New(apierr.KindRangeExceeded, fmt.Sprintf("day_count exceeds deep_planner.max_days (%d)", maxDays))
	}

	preferences := request.Preferences
	if p.memory != nil {
		if merged, ok := p.memory.SearchPreferences(ctx, request.UserID); ok {
			preferences = mergePreferences(preferences, merged)
		}
	}
	interests := preferences.Interests
	if len(interests) == 0 {
		interests = []string{"sight", "food"}
	}

	candidates, err := p.loadCandidatePois(ctx, request.Destination, interests)
	if err != nil {
		return model.TripPlan{}, nil, err
	}
	daySpan, err := newDaySpan(p.plannerCfg)
	if err != nil {
		return model.TripPlan{}, nil, err
	}

	outline := model.JSONMap{
		"destination": request.Destination,
		"start_date":  request.StartDate.Format("2006-01-02"),
		"end_date":    request.EndDate.Format("2006-01-02"),
		"day_count":   dayCount,
	}

	retries := p.cfg.Retries
	if retries < 0 {
		retries = 0
	}

	var traces []model.ToolTrace
	var seedPlan *model.TripPlan
	useSkeleton := request.SeedMode == model.SeedModeFast || strings.EqualFold(p.cfg.OutlineSource, "fast")
	if useSkeleton && p.fast != nil {
		seedStart := time.Now()
		seedRequest := request
		seedRequest.Mode = model.ModeFast
		seedRequest.Async = false
		seedRequest.SeedMode = ""
		sp, _, serr := p.fast.Plan(ctx, seedRequest)
		if serr != nil {
			log.Error("deep planner: skeleton fast-plan failed, continuing without a seed skeleton", serr)
			traces = append(traces, model.ToolTrace{
				Node: "planner_seed_fast", Status: "failed",
				LatencyMs: float64(time.Since(seedStart).Microseconds()) / 1000.0,
				Detail:    model.JSONMap{"error": serr.Error()},
			})
		} else {
			seedPlan = &sp
			outline["skeleton_planner"] = FastRulesVersion
			traces = append(traces, model.ToolTrace{
				Node: "planner_seed_fast", Status: "ok",
				LatencyMs: float64(time.Since(seedStart).Microseconds()) / 1000.0,
				Detail:    model.JSONMap{"planner": FastRulesVersion},
			})
		}
	}

	usedPois := make(map[string]struct{})
	dayCards := make([]model.PlanDayCard, dayCount)
	dayPoiKeys := make([][]string, dayCount)
	var dayContext []model.JSONMap
	var partialDays []int
	totalLLMCalls := 0
	totalRetries := 0
	totalTokens := 0

	for dayIdx := 0; dayIdx < dayCount; dayIdx++ {
		currentDate := request.StartDate.AddDate(0, 0, dayIdx)
		dayCard, calls, dayRetries, dayTokens, err := p.generateDayWithRetries(ctx, generateDayInput{
			request:     request,
			preferences: preferences,
			dayIndex:    dayIdx,
			date:        currentDate,
			outline:     outline,
			context:     recentContext(dayContext, p.cfg.ContextMaxDays),
			candidates:  candidates,
			usedPois:    usedPois,
			daySpan:     daySpan,
			retries:     retries,
			skeletonDay: skeletonOutline(seedPlan, dayIdx),
		})
		totalLLMCalls += calls
		totalRetries += dayRetries
		totalTokens += dayTokens
		if err != nil {
			if p.cfg.FallbackToFast && seedPlan != nil && dayIdx < len(seedPlan.DayCards) {
				log.Error(fmt.Sprintf("deep planner: day_index=%d generation failed, substituting skeleton day", dayIdx), err)
				dayCard = seedPlan.DayCards[dayIdx]
				partialDays = append(partialDays, dayIdx)
			} else {
				return model.TripPlan{}, nil, err
			}
		}

		var keys []string
		for _, sub := range dayCard.SubTrips {
			if key := subTripPoiKey(sub); key != "" {
				usedPois[key] = struct{}{}
				keys = append(keys, key)
			}
		}
		dayPoiKeys[dayIdx] = keys
		dayCards[dayIdx] = dayCard
		dayContext = append(dayContext, summarizeDay(dayCard))
	}

	totalSubTrips := 0
	for _, c := range dayCards {
		totalSubTrips += len(c.SubTrips)
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
				"mode": "deep",
				"name": DeepPlannerName,
			},
		},
		DayCards:     dayCards,
		DayCount:     dayCount,
		SubTripCount: totalSubTrips,
	}

	fallbackReplacedSkeleton := false
	if verr := validator.Validate(request, plan, validator.OptionsFromPreferences(preferences)); verr != nil {
		repairedAny := false
		for _, dayIdx := range offendingDayIndices(verr) {
			if dayIdx < 0 || dayIdx >= dayCount {
				continue
			}
			currentDate := request.StartDate.AddDate(0, 0, dayIdx)
			usedMinusDay := withoutKeys(usedPois, dayPoiKeys[dayIdx])
			repairedCard, calls, dayRetries, repairTokens, rerr := p.generateDayWithRetries(ctx, generateDayInput{
				request:     request,
				preferences: preferences,
				dayIndex:    dayIdx,
				date:        currentDate,
				outline:     outline,
				context:     recentContext(dayContext, p.cfg.ContextMaxDays),
				candidates:  candidates,
				usedPois:    usedMinusDay,
				daySpan:     daySpan,
				retries:     0,
				skeletonDay: skeletonOutline(seedPlan, dayIdx),
			})
			totalLLMCalls += calls
			totalRetries += dayRetries
			totalTokens += repairTokens
			if rerr != nil {
				log.Error(fmt.Sprintf("deep planner: single-day repair failed for day_index=%d", dayIdx), rerr)
				continue
			}
			dayCards[dayIdx] = repairedCard
			usedPois = usedMinusDay
			var keys []string
			for _, sub := range repairedCard.SubTrips {
				if key := subTripPoiKey(sub); key != "" {
					usedPois[key] = struct{}{}
					keys = append(keys, key)
				}
			}
			dayPoiKeys[dayIdx] = keys
			repairedAny = true
		}
		if repairedAny {
			totalSubTrips = 0
			for _, c := range dayCards {
				totalSubTrips += len(c.SubTrips)
			}
			plan.DayCards = dayCards
			plan.SubTripCount = totalSubTrips
			verr = validator.Validate(request, plan, validator.OptionsFromPreferences(preferences))
		}
		if verr != nil {
			if p.cfg.FallbackToFast && seedPlan != nil {
				log.Error("deep planner: global validation failed after single-day repair, replacing plan with skeleton", verr)
				plan = *seedPlan
				fallbackReplacedSkeleton = true
			} else {
				return model.TripPlan{}, nil, verr
			}
		}
	}

	runMetrics := model.JSONMap{
		"llm_calls":      totalLLMCalls,
		"llm_retries":    totalRetries,
		"candidate_pois": len(candidates),
		"day_count":      dayCount,
		"activities":     plan.SubTripCount,
		"tokens_total":   totalTokens,
		"fallback_used":  len(partialDays) > 0 || fallbackReplacedSkeleton,
	}
	if len(traces) > 0 {
		runMetrics["traces"] = traces
	}
	if len(partialDays) > 0 || fallbackReplacedSkeleton {
		runMetrics["fallback"] = model.JSONMap{
			"partial_days":      partialDays,
			"replaced_skeleton": fallbackReplacedSkeleton,
		}
	}
	return plan, runMetrics, nil
}

type generateDayInput struct {
	request     model.PlanRequest
	preferences model.Preferences
	dayIndex    int
	date        time.Time
	outline     model.JSONMap
	context     []model.JSONMap
	candidates  []candidatePoi
	usedPois    map[string]struct{}
	daySpan     daySpan
	retries     int
	skeletonDay model.JSONMap
}

// generateDayWithRetries calls the LLM up to retries+1 times for one day,
// validating each attempt's output before accepting it.
func (p *DeepPlanner) generateDayWithRetries(ctx context.Context, in generateDayInput) (model.PlanDayCard, int, int, int, error) {
	attempts := in.retries + 1
	calls := 0
	retriesUsed := 0
	tokens := 0
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			retriesUsed++
		}
		dayCard, callTokens, err := p.callLLMForDay(ctx, in)
		calls++
		tokens += callTokens
		if err != nil {
			lastErr = err
			continue
		}
		if err := p.validateDayCard(in, dayCard); err != nil {
			lastErr = err
			continue
		}
		return dayCard, calls, retriesUsed, tokens, nil
	}

	msg := fmt.Sprintf("day_index=%d generation failed", in.dayIndex)
	if lastErr != nil {
		msg = fmt.Sprintf("%s: %s", msg, lastErr.Error())
	}
	return model.PlanDayCard{}, calls, retriesUsed, tokens, apierr.Wrap(apierr.KindDeepPlanFailed, msg, lastErr)
}

func (p *DeepPlanner) callLLMForDay(ctx context.Context, in generateDayInput) (model.PlanDayCard, int, error) {
	systemPrompt, err := p.prompts.Get(ctx, deepPromptKey)
	if err != nil {
		return model.PlanDayCard{}, 0, err
	}

	maxPois := p.cfg.MaxPois
	if maxPois <= 0 {
		maxPois = 24
	}
	refs := make([]candidateRef, 0, min(len(in.candidates), maxPois))
	for _, c := range in.candidates {
		if len(refs) >= maxPois {
			break
		}
		if _, used := in.usedPois[c.key()]; used {
			continue
		}
		refs = append(refs, candidateRef{
			Provider: c.Provider, ProviderID: c.ProviderID, Name: c.Name,
			Category: c.Category, Addr: c.Addr, Rating: c.Rating, Lat: c.Lat, Lng: c.Lng,
		})
	}

	usedList := make([]string, 0, len(in.usedPois))
	for k := range in.usedPois {
		usedList = append(usedList, k)
	}
	sort.Strings(usedList)

	task := model.JSONMap{
		"destination":    in.request.Destination,
		"day_index":      in.dayIndex,
		"date":           in.date.Format("2006-01-02"),
		"day_count":      in.request.DayCount(),
		"preferences":    in.preferences,
		"outline":        in.outline,
		"recent_days":    in.context,
		"candidate_pois": refs,
		"already_used":   usedList,
		"day_window":     model.JSONMap{"start": minutesToTime(in.daySpan.startMin).Format("15:04"), "end": minutesToTime(in.daySpan.endMin).Format("15:04")},
		"skeleton_day":   in.skeletonDay,
		"instructions": "Respond with a single JSON object: " +
			`{"day_index":int,"date":"YYYY-MM-DD","note":string,"sub_trips":[{"order_index":int,"activity":string,"loc_name":string,"transport":"walk|bike|drive|transit","start_time":"HH:MM","end_time":"HH:MM","poi":{"provider":string,"provider_id":string}}]}` +
			" order_index must start at 0 and be continuous. Reference only POIs from candidate_pois, never already_used. Keep times inside day_window." +
			" skeleton_day, if present, is a deterministic fallback outline for this day; use it as a starting shape, not a hard constraint.",
	}
	taskJSON, err := json.Marshal(task)
	if err != nil {
		return model.PlanDayCard{}, 0, apierr.Wrap(apierr.KindInternal, "failed to encode day task", err)
	}

	temperature := p.cfg.Temperature
	gen := &llm.GenerationParams{Temperature: &temperature, ResponseFormatJSON: true}
	if p.cfg.MaxTokens > 0 {
		maxTokens := p.cfg.MaxTokens
		gen.MaxTokens = &maxTokens
	}

	reqCtx := ctx
	if p.cfg.TimeoutS > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, time.Duration(p.cfg.TimeoutS)*time.Second)
		defer cancel()
	}

	callStart := time.Now()
	content, usage, err := p.llmClient.CompleteWithUsage(reqCtx, []llm.Message{
		{Role: "system", Content: systemPrompt.Content},
		{Role: "user", Content: string(taskJSON)},
	}, gen)
	if err != nil {
		p.recordAICall(callStart, in.request.Destination, 0, false, "llm_provider_error")
		return model.PlanDayCard{}, 0, apierr.Wrap(apierr.KindLLMProviderError, "llm completion failed", err)
	}

	var payload dayOutlinePayload
	if err := json.Unmarshal([]byte(extractJSONObject(content)), &payload); err != nil {
		p.recordAICall(callStart, in.request.Destination, usage.TotalTokens, false, "llm_invalid_output")
		return model.PlanDayCard{}, usage.TotalTokens, apierr.Wrap(apierr.KindLLMInvalidOutput, "llm response is not valid day JSON", err)
	}
	p.recordAICall(callStart, in.request.Destination, usage.TotalTokens, true, "")

	return p.toDayCard(payload, in), usage.TotalTokens, nil
}

// recordAICall folds the deep planner's per-day LLM completion calls into
// the shared "ai" metrics category (spec §4.B), alongside the assistant's
// answer-composer calls and the memory service's provider calls.
func (p *DeepPlanner) recordAICall(start time.Time, label string, tokens int, success bool, errType string) {
	if p.metrics == nil {
		return
	}
	p.metrics.Record(metrics.CallEntry{
		Category:  "ai",
		Label:     label,
		LatencyMs: float64(time.Since(start).Milliseconds()),
		Success:   success,
		Error:     errType,
		ErrorType: errType,
		Tokens:    tokens,
	})
}

func (p *DeepPlanner) toDayCard(payload dayOutlinePayload, in generateDayInput) model.PlanDayCard {
	subTrips := make([]model.PlanSubTrip, 0, len(payload.SubTrips))
	for _, raw := range payload.SubTrips {
		sub := model.PlanSubTrip{
			OrderIndex: raw.OrderIndex,
			Activity:   strings.TrimSpace(raw.Activity),
			LocName:    strings.TrimSpace(raw.LocName),
			Transport:  model.Transport(strings.ToLower(strings.TrimSpace(raw.Transport))),
		}
		if !model.ValidTransport(sub.Transport) {
			sub.Transport = model.Transport(p.plannerCfg.FastTransportMode)
		}
		if t, err := parseClockOnDate(raw.StartTime, in.date); err == nil {
			sub.StartTime = &t
		}
		if t, err := parseClockOnDate(raw.EndTime, in.date); err == nil {
			sub.EndTime = &t
		}

		ext := model.JSONMap{"planner": model.JSONMap{"name": DeepPlannerName}}
		if raw.Poi != nil {
			if c, ok := lookupCandidate(in.candidates, raw.Poi.Provider, raw.Poi.ProviderID); ok {
				lat, lng := c.Lat, c.Lng
				sub.PoiID = c.PoiID
				sub.Lat, sub.Lng = &lat, &lng
				if sub.LocName == "" {
					sub.LocName = c.Name
				}
				ext["poi"] = model.JSONMap{
					"provider":    c.Provider,
					"provider_id": c.ProviderID,
					"source":      c.Source,
					"category":    c.Category,
					"addr":        c.Addr,
					"rating":      c.Rating,
				}
			}
		}
		sub.Ext = ext
		subTrips = append(subTrips, sub)
	}
	return model.PlanDayCard{
		DayIndex: in.dayIndex,
		Date:     in.date,
		Note:     strings.TrimSpace(payload.Note),
		SubTrips: subTrips,
	}
}

// validateDayCard checks the day-local invariants before the caller commits
// to this attempt. It delegates the schema-level checks (order_index
// density, start/end monotonicity, non-empty activity, a resolvable
// location, no POI repeated within the day) to validator.ValidateDay, then
// layers on the checks that need context ValidateDay doesn't have: the
// day_index/date the LLM was asked for, the request's configured day
// window, and POI reuse against days already committed earlier in the plan.
func (p *DeepPlanner) validateDayCard(in generateDayInput, card model.PlanDayCard) error {
	if card.DayIndex != in.dayIndex {
		return fmt.Errorf("day_index mismatch: expected=%d got=%d", in.dayIndex, card.DayIndex)
	}
	if card.Date.Format("2006-01-02") != in.date.Format("2006-01-02") {
		return fmt.Errorf("date mismatch: expected=%s got=%s", in.date.Format("2006-01-02"), card.Date.Format("2006-01-02"))
	}
	if err := validator.ValidateDay(card); err != nil {
		return err
	}

	for _, sub := range card.SubTrips {
		key := subTripPoiKey(sub)
		if key == "" {
			continue
		}
		if _, used := in.usedPois[key]; used {
			return fmt.Errorf("poi reused across days: %s", key)
		}
	}

	startMin, endMin := in.daySpan.startMin, in.daySpan.endMin
	for _, sub := range card.SubTrips {
		if sub.StartTime != nil && minutesOfDay(*sub.StartTime) < startMin {
			return fmt.Errorf("sub_trip.start_time out of day window")
		}
		if sub.EndTime != nil && minutesOfDay(*sub.EndTime) > endMin {
			return fmt.Errorf("sub_trip.end_time out of day window")
		}
	}
	return nil
}

func (p *DeepPlanner) recordMetrics(start time.Time, request model.PlanRequest, days, tokens int, success, fallback bool, errMsg string) {
	if p.metrics == nil {
		return
	}
	p.metrics.Record(metrics.CallEntry{
		Category:  "plan.deep",
		Label:     request.Destination,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Success:   success,
		Error:     errMsg,
		Days:      days,
		Tokens:    tokens,
		Fallback:  fallback,
	})
}

// loadCandidatePois mirrors FastPlanner.loadCandidates' live POI-around
// sourcing, without the canonical-store merge the fast planner also does,
// since the deep planner leans on the LLM rather than rating-sort ranking.
func (p *DeepPlanner) loadCandidatePois(ctx context.Context, destination string, interests []string) ([]candidatePoi, error) {
	center, err := p.geocoder.ResolveCityCenter(ctx, destination)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindPoiProviderError, "failed to resolve destination center", err)
	}

	maxPois := p.cfg.MaxPois
	if maxPois <= 0 {
		maxPois = 24
	}
	maxInterests := interests
	if len(maxInterests) > 6 {
		maxInterests = maxInterests[:6]
	}
	perTypeLimit := maxPois / max(len(maxInterests), 1)
	if perTypeLimit < 5 {
		perTypeLimit = 5
	}

	seen := make(map[string]struct{})
	var candidates []candidatePoi
	for _, interest := range maxInterests {
		results, meta, err := p.poiSvc.Around(ctx, center.Lat, center.Lng, interest, p.poiCfg.DefaultRadiusM, perTypeLimit)
		if err != nil {
			log.Error("deep planner: poi lookup failed for interest "+interest, err)
			continue
		}
		for _, r := range results {
			if r.ProviderID == "" {
				continue
			}
			c := candidatePoi{
				Provider: r.Provider, ProviderID: r.ProviderID,
				Name: r.Name, Category: r.Category, Addr: r.Addr, Rating: r.Rating,
				Lat: r.Lat, Lng: r.Lng, Source: meta.Source, DistanceM: r.DistanceM,
			}
			if _, dup := seen[c.key()]; dup {
				continue
			}
			seen[c.key()] = struct{}{}
			candidates = append(candidates, c)
			if len(candidates) >= maxPois {
				return candidates, nil
			}
		}
	}
	return candidates, nil
}

func recentContext(context []model.JSONMap, maxDays int) []model.JSONMap {
	if maxDays <= 0 || len(context) <= maxDays {
		return context
	}
	return context[len(context)-maxDays:]
}

func summarizeDay(card model.PlanDayCard) model.JSONMap {
	highlights := make([]model.JSONMap, 0, len(card.SubTrips))
	for i, sub := range card.SubTrips {
		if i >= 6 {
			break
		}
		highlights = append(highlights, model.JSONMap{"activity": sub.Activity, "loc_name": sub.LocName})
	}
	return model.JSONMap{
		"day_index":  card.DayIndex,
		"date":       card.Date.Format("2006-01-02"),
		"highlights": highlights,
	}
}

// skeletonOutline returns the fast-planner skeleton's highlights for one
// day, fed into that day's prompt as the "skeleton_day" hint (spec §4.H
// step 2). Returns nil when no skeleton was generated for this run.
func skeletonOutline(seedPlan *model.TripPlan, dayIndex int) model.JSONMap {
	if seedPlan == nil || dayIndex < 0 || dayIndex >= len(seedPlan.DayCards) {
		return nil
	}
	return summarizeDay(seedPlan.DayCards[dayIndex])
}

// withoutKeys returns a copy of used with keys removed, so a single-day
// repair can be attempted without the day's own prior POI picks blocking
// its own retry.
func withoutKeys(used map[string]struct{}, keys []string) map[string]struct{} {
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	out := make(map[string]struct{}, len(used))
	for k := range used {
		if _, skip := drop[k]; skip {
			continue
		}
		out[k] = struct{}{}
	}
	return out
}

var dayCardIssuePath = regexp.MustCompile(`^day_cards\[(\d+)\]`)

// offendingDayIndices extracts the day_index values named by a
// validator.Validate failure's issue paths, so global-validation repair
// (spec §4.H step 4) can retry only the days that actually failed.
func offendingDayIndices(err error) []int {
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Detail == nil {
		return nil
	}
	detail, ok := apiErr.Detail.(model.JSONMap)
	if !ok {
		return nil
	}
	issuesRaw, ok := detail["issues"].([]model.JSONMap)
	if !ok {
		return nil
	}
	seen := make(map[int]struct{})
	var idxs []int
	for _, issue := range issuesRaw {
		path, _ := issue["path"].(string)
		m := dayCardIssuePath.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		idxs = append(idxs, n)
	}
	sort.Ints(idxs)
	return idxs
}

func subTripPoiKey(sub model.PlanSubTrip) string {
	if sub.Ext == nil {
		return ""
	}
	raw, ok := sub.Ext["poi"]
	if !ok {
		return ""
	}
	poiMap, ok := raw.(model.JSONMap)
	if !ok {
		return ""
	}
	provider, _ := poiMap["provider"].(string)
	providerID, _ := poiMap["provider_id"].(string)
	if provider == "" || providerID == "" {
		return ""
	}
	return provider + ":" + providerID
}

func lookupCandidate(candidates []candidatePoi, providerValue, providerID string) (candidatePoi, bool) {
	for _, c := range candidates {
		if c.Provider == providerValue && c.ProviderID == providerID {
			return c, true
		}
	}
	return candidatePoi{}, false
}

func mergePreferences(base, memory model.Preferences) model.Preferences {
	merged := base
	defaultInterests := len(base.Interests) == 0
	if defaultInterests && len(memory.Interests) > 0 {
		merged.Interests = memory.Interests
	}
	if merged.Pace == "" {
		merged.Pace = memory.Pace
	}
	if merged.BudgetLevel == "" {
		merged.BudgetLevel = memory.BudgetLevel
	}
	return merged
}

// extractJSONObject trims any stray text an LLM adds around the JSON
// object it was asked to return verbatim.
func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return content
	}
	return content[start : end+1]
}

func parseClockOnDate(value string, date time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("invalid time %q", value)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", value)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), h, m, 0, 0, time.UTC), nil
}

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
