package model

// Intent is the deterministic router's classification output (spec §4.K).
type Intent string

const (
	IntentPoiNearby  Intent = "poi_nearby"
	IntentTripQuery  Intent = "trip_query"
	IntentWeather    Intent = "weather"
	IntentNavigation Intent = "navigation"
	IntentGeneralQA  Intent = "general_qa"
)

// MemoryItem is one scored hit returned by the Memory Service.
type MemoryItem struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
	Metadata JSONMap `json:"metadata,omitempty"`
}

// MemoryLevel is the namespace scope a memory is written to / searched
// within: tightest (session) to broadest (user).
type MemoryLevel string

const (
	MemoryLevelUser    MemoryLevel = "user"
	MemoryLevelTrip    MemoryLevel = "trip"
	MemoryLevelSession MemoryLevel = "session"
)

// ToolTrace is a structured record per tool/node invocation (GLOSSARY).
type ToolTrace struct {
	Node      string  `json:"node"`
	Status    string  `json:"status"` // ok|failed|skipped
	LatencyMs float64 `json:"latency_ms"`
	Detail    JSONMap `json:"detail,omitempty"`
}

// Location is a user-supplied or inferred lat/lng reference point.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PoiQuerySlot carries the POI type and radius supplied on the chat
// request, if any.
type PoiQuerySlot struct {
	Type   string `json:"type,omitempty"`
	Radius int    `json:"radius,omitempty"`
}

// AssistantState is the transient per-turn record threaded through the
// dialogue pipeline (spec §3).
type AssistantState struct {
	UserID     uint
	TripID     *uint
	SessionID  string
	Query      string
	Intent     Intent
	Confidence float64
	History    []Message
	Memories   []MemoryItem
	TripData   JSONMap
	Location   *Location
	PoiQuery   *PoiQuerySlot
	PoiResults []PoiResult
	ToolTraces []ToolTrace
	AnswerText string
	AIMeta     JSONMap
	TraceID    string
}

// ChatResult is the shape returned to the transport layer (spec §4.K).
type ChatResult struct {
	SessionID  string       `json:"session_id"`
	Answer     string       `json:"answer"`
	UsedMemory []MemoryItem `json:"used_memory,omitempty"`
	ToolTraces []ToolTrace  `json:"tool_traces,omitempty"`
	AIMeta     JSONMap      `json:"ai_meta"`
	Messages   []Message    `json:"messages,omitempty"`
}

// StreamChunk is one incremental answer delta (spec §4.K streaming).
type StreamChunk struct {
	TraceID string `json:"trace_id"`
	Index   int    `json:"index"`
	Delta   string `json:"delta"`
	Done    bool   `json:"done"`
}

// StreamError is delivered as an `error` event (spec §4.K/§4.L).
type StreamError struct {
	ErrorType string `json:"error_type"`
	TraceID   string `json:"trace_id"`
	Message   string `json:"message"`
}
