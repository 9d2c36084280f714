// Package assistant implements the dialogue orchestration pipeline:
// session/history load, deterministic intent routing, bounded tool
// execution, a single answer-composition LLM call, and turn persistence
// (spec §4.K). It is the synchronous core shared by the unary chat
// endpoint, the SSE streaming endpoint, and the WebSocket transport.
package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tripplan-go/internal/apierr"
	"tripplan-go/internal/memoryservice"
	"tripplan-go/internal/metrics"
	"tripplan-go/internal/model"
	"tripplan-go/internal/prompt"
	"tripplan-go/internal/tool"
	"tripplan-go/pkg/llm"
	"tripplan-go/pkg/log"
)

// TurnRequest is the unary/streaming entry point's input, matching the
// `/api/ai/chat` body contract (spec §6).
type TurnRequest struct {
	UserID           uint
	TripID           *uint
	SessionID        string
	Query            string
	UseMemory        bool
	TopKMemory       int
	ReturnMemory     bool
	ReturnToolTraces bool
	ReturnMessages   bool
	Location         *model.Location
	PoiType          string
	PoiRadius        int
}

// Service wires the deterministic pipeline steps and the at-most-once LLM
// call together (spec §4.K).
type Service struct {
	sessions  SessionStore
	memory    *memoryservice.Service
	tools     *tool.Registry
	prompts   *prompt.Registry
	llmClient llm.Client
	metrics   *metrics.Registry

	historyMaxRounds  int
	turnTimeout       time.Duration
	topKMemoryDefault int
}

// Config bundles the assistant's own tunables, independent of the shared
// config.AssistantConfig struct which also carries WS-only fields.
type Config struct {
	HistoryMaxRounds int
	TurnTimeoutS     int
}

// New builds the Service.
func New(sessions SessionStore, memory *memoryservice.Service, tools *tool.Registry, prompts *prompt.Registry, llmClient llm.Client, metricsRegistry *metrics.Registry, cfg Config) *Service {
	historyMaxRounds := cfg.HistoryMaxRounds
	if historyMaxRounds <= 0 {
		historyMaxRounds = 10
	}
	turnTimeoutS := cfg.TurnTimeoutS
	if turnTimeoutS <= 0 {
		turnTimeoutS = 20
	}
	return &Service{
		sessions:          sessions,
		memory:            memory,
		tools:             tools,
		prompts:           prompts,
		llmClient:         llmClient,
		metrics:           metricsRegistry,
		historyMaxRounds:  historyMaxRounds,
		turnTimeout:       time.Duration(turnTimeoutS) * time.Second,
		topKMemoryDefault: 5,
	}
}

// Turn runs one unary dialogue turn to completion (spec §4.K).
func (s *Service) Turn(ctx context.Context, req TurnRequest) (*model.ChatResult, error) {
	return s.run(ctx, req, nil)
}

// TurnStream runs one turn, delivering incremental answer chunks through
// onChunk before returning the final ChatResult (spec §4.K streaming
// semantics). onChunk errors (e.g. a closed connection) abort the turn.
func (s *Service) TurnStream(ctx context.Context, req TurnRequest, onChunk func(model.StreamChunk) error) (*model.ChatResult, error) {
	return s.run(ctx, req, onChunk)
}

func (s *Service) run(ctx context.Context, req TurnRequest, onChunk func(model.StreamChunk) error) (*model.ChatResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.turnTimeout)
	defer cancel()

	traceID := uuid.NewString()
	start := time.Now()

	session, err := s.sessions.EnsureSession(ctx, req.UserID, req.SessionID, req.TripID)
	if err != nil {
		s.recordOutcome(req, "", start, err)
		return nil, err
	}

	history, err := s.sessions.LoadHistory(ctx, session.ID, s.historyMaxRounds)
	if err != nil {
		s.recordOutcome(req, "", start, err)
		return nil, err
	}

	state := &model.AssistantState{
		UserID:    req.UserID,
		TripID:    req.TripID,
		SessionID: session.ID,
		Query:     req.Query,
		History:   history,
		Location:  req.Location,
		TraceID:   traceID,
	}
	if req.PoiType != "" || req.PoiRadius > 0 {
		state.PoiQuery = &model.PoiQuerySlot{Type: req.PoiType, Radius: req.PoiRadius}
	}

	var traces []model.ToolTrace

	topK := req.TopKMemory
	if topK <= 0 {
		topK = s.topKMemoryDefault
	}
	if req.UseMemory {
		memories, scopeCounts, memErr := s.memory.SearchMultiScope(ctx, req.UserID, req.TripID, session.ID, req.Query, topK)
		if memErr != nil {
			traces = append(traces, model.ToolTrace{Node: "memory_retrieve", Status: "failed", Detail: model.JSONMap{"error": memErr.Error()}})
		} else {
			state.Memories = memories
			traces = append(traces, model.ToolTrace{Node: "memory_retrieve", Status: "ok", Detail: model.JSONMap{"count": len(memories), "scopes": scopeCounts}})
		}
	} else {
		traces = append(traces, model.ToolTrace{Node: "memory_retrieve", Status: "skipped", Detail: model.JSONMap{"reason": "use_memory_false"}})
	}

	route := Route(req.Query, time.Now())
	state.Intent = route.Intent
	state.Confidence = route.Confidence
	traces = append(traces, model.ToolTrace{
		Node:   "rule_router",
		Status: "ok",
		Detail: model.JSONMap{"intent": string(route.Intent), "confidence": route.Confidence},
	})

	call := normalizeToolArgs(route, state)
	var toolName string
	var toolResult model.JSONMap
	if call.Skipped {
		traces = append(traces, model.ToolTrace{Node: "tool_args_normalize", Status: "skipped", Detail: model.JSONMap{"reason": call.Reason}})
	} else {
		traces = append(traces, model.ToolTrace{Node: "tool_args_normalize", Status: "ok", Detail: model.JSONMap{"tool": call.ToolName}})
		result, execTrace := s.tools.Invoke(ctx, call.ToolName, call.Args)
		traces = append(traces, execTrace)
		toolName = call.ToolName
		if execTrace.Status == "ok" {
			toolResult = result
			switch call.ToolName {
			case "trip_query":
				state.TripData = result
			case "poi_around":
				state.PoiResults = decodePoiResults(result)
			}
		}
	}
	state.ToolTraces = traces

	answer, aiMeta, composeTrace, err := s.composeAnswer(ctx, state, toolName, toolResult, onChunk, traceID)
	state.ToolTraces = append(state.ToolTraces, composeTrace)
	if err != nil {
		s.recordOutcome(req, string(state.Intent), start, err)
		return nil, err
	}
	state.AnswerText = answer
	state.AIMeta = aiMeta

	userMsg := model.Message{Content: req.Query}
	assistantMsg := model.Message{
		Content: answer,
		Meta: model.JSONMap{
			"intent":      string(state.Intent),
			"confidence":  state.Confidence,
			"tool_traces": summarizeTraceDetails(state.ToolTraces),
			"ai_meta":     aiMeta,
		},
	}
	if persistErr := s.sessions.AppendTurn(ctx, session.ID, &userMsg, &assistantMsg); persistErr != nil {
		wrapped := apierr.Wrap(apierr.KindPersistenceFailed, "failed to persist turn", persistErr)
		s.recordOutcome(req, string(state.Intent), start, wrapped)
		return nil, wrapped
	}
	state.ToolTraces = append(state.ToolTraces, model.ToolTrace{Node: "persist", Status: "ok"})

	s.writeTurnSummary(ctx, req, session.ID, answer)

	result := &model.ChatResult{
		SessionID: session.ID,
		Answer:    answer,
		AIMeta:    aiMeta,
	}
	if req.ReturnMemory {
		result.UsedMemory = state.Memories
	}
	if req.ReturnToolTraces {
		result.ToolTraces = state.ToolTraces
	}
	if req.ReturnMessages {
		result.Messages = append(result.Messages, userMsg, assistantMsg)
	}

	s.recordOutcome(req, string(state.Intent), start, nil)
	return result, nil
}

const maxMemorySummaryChars = 500

func (s *Service) writeTurnSummary(ctx context.Context, req TurnRequest, sessionID, answer string) {
	summary := fmt.Sprintf("Q: %s\nA: %s", req.Query, answer)
	if len(summary) > maxMemorySummaryChars {
		summary = summary[:maxMemorySummaryChars]
	}
	if _, err := s.memory.WriteMemory(ctx, req.UserID, model.MemoryLevelSession, summary, req.TripID, sessionID, model.JSONMap{"kind": "turn_summary"}); err != nil {
		log.Errorf("assistant: failed to write turn summary memory: %v", err)
	}
}

func (s *Service) recordOutcome(req TurnRequest, intent string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	entry := metrics.CallEntry{
		Category:   "assistant",
		Label:      intent,
		LatencyMs:  float64(time.Since(start).Milliseconds()),
		Success:    err == nil,
		RecordedAt: time.Now(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	s.metrics.Record(entry)
}

func summarizeTraceDetails(traces []model.ToolTrace) model.JSONMap {
	nodes := make([]string, 0, len(traces))
	for _, t := range traces {
		nodes = append(nodes, fmt.Sprintf("%s:%s", t.Node, t.Status))
	}
	return model.JSONMap{"nodes": strings.Join(nodes, ",")}
}

func decodePoiResults(result model.JSONMap) []model.PoiResult {
	raw, _ := result["results"].([]model.JSONMap)
	source, _ := result["source"].(string)
	out := make([]model.PoiResult, 0, len(raw))
	for _, item := range raw {
		out = append(out, model.PoiResult{
			Provider:   stringField(item, "provider"),
			ProviderID: stringField(item, "provider_id"),
			Name:       stringField(item, "name"),
			Category:   stringField(item, "category"),
			Addr:       stringField(item, "addr"),
			Rating:     floatField(item, "rating"),
			Lat:        floatField(item, "lat"),
			Lng:        floatField(item, "lng"),
			DistanceM:  floatField(item, "distance_m"),
			Source:     source,
		})
	}
	return out
}

func stringField(m model.JSONMap, key string) string {
	v, _ := m[key].(string)
	return v
}

func floatField(m model.JSONMap, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
