package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"tripplan-go/internal/apierr"
	"tripplan-go/internal/assistant"
	"tripplan-go/internal/model"
)

// ChatHandler exposes the unary/streaming dialogue endpoint (spec §6).
type ChatHandler struct {
	assistant *assistant.Service
}

func NewChatHandler(assistantSvc *assistant.Service) *ChatHandler {
	return &ChatHandler{assistant: assistantSvc}
}

type chatRequestBody struct {
	UserID           uint            `json:"user_id" binding:"required"`
	TripID           *uint           `json:"trip_id,omitempty"`
	SessionID        string          `json:"session_id,omitempty"`
	Query            string          `json:"query" binding:"required"`
	UseMemory        bool            `json:"use_memory,omitempty"`
	TopKMemory       int             `json:"top_k_memory,omitempty"`
	ReturnMemory     bool            `json:"return_memory,omitempty"`
	ReturnToolTraces bool            `json:"return_tool_traces,omitempty"`
	ReturnMessages   bool            `json:"return_messages,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	Location         *model.Location `json:"location,omitempty"`
	PoiType          string          `json:"poi_type,omitempty"`
	PoiRadius        int             `json:"poi_radius,omitempty"`
}

func (b chatRequestBody) toTurnRequest() assistant.TurnRequest {
	return assistant.TurnRequest{
		UserID:           b.UserID,
		TripID:           b.TripID,
		SessionID:        b.SessionID,
		Query:            b.Query,
		UseMemory:        b.UseMemory,
		TopKMemory:       b.TopKMemory,
		ReturnMemory:     b.ReturnMemory,
		ReturnToolTraces: b.ReturnToolTraces,
		ReturnMessages:   b.ReturnMessages,
		Location:         b.Location,
		PoiType:          b.PoiType,
		PoiRadius:        b.PoiRadius,
	}
}

// Chat handles POST /api/ai/chat, dispatching to the unary or streaming
// path based on the body's `stream` flag.
func (h *ChatHandler) Chat(c *gin.Context) {
	var body chatRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, badParams(err))
		return
	}

	if !body.Stream {
		result, err := h.assistant.Turn(c.Request.Context(), body.toTurnRequest())
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, result)
		return
	}

	h.streamChat(c, body.toTurnRequest())
}

// streamChat writes each event as one `data: <json>\n\n` frame, the
// unary-vs-SSE reuse of spec §4.L's event vocabulary (`chunk`, `result`,
// `error`, `done`) described for `/api/ai/chat`'s streaming mode.
func (h *ChatHandler) streamChat(c *gin.Context, req assistant.TurnRequest) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher, canFlush := c.Writer.(http.Flusher)

	writeEvent := func(eventType string, payload any) {
		data, err := json.Marshal(gin.H{"event": eventType, "payload": payload})
		if err != nil {
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		if canFlush {
			flusher.Flush()
		}
	}

	result, err := h.assistant.TurnStream(c.Request.Context(), req, func(chunk model.StreamChunk) error {
		writeEvent("chunk", chunk)
		return nil
	})
	if err != nil {
		errorType := string(apierr.KindInternal)
		if apiErr, isAPIErr := apierr.As(err); isAPIErr {
			errorType = string(apiErr.Kind)
		}
		writeEvent("error", model.StreamError{ErrorType: errorType, Message: err.Error()})
		writeEvent("done", nil)
		return
	}
	writeEvent("result", result)
	writeEvent("done", nil)
}
