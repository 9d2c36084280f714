// Package ws implements the bidirectional assistant channel (spec §4.L):
// a long-lived connection carrying the same turn pipeline the unary and
// SSE endpoints use, with its own connection/backpressure/rate limits.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"tripplan-go/internal/apierr"
	"tripplan-go/internal/assistant"
	"tripplan-go/internal/authn"
	"tripplan-go/internal/config"
	"tripplan-go/internal/model"
	"tripplan-go/pkg/log"
)

// Handler upgrades /ws/assistant connections and enforces the per-user
// connection cap, idle timeout, send-queue bound, message-size cap and
// rate limit documented for the assistant's WebSocket channel.
type Handler struct {
	assistant *assistant.Service
	auth      *authn.Service
	cfg       config.AssistantConfig
	upgrader  websocket.Upgrader

	mu           sync.Mutex
	connsPerUser map[uint]int
}

func NewHandler(assistantSvc *assistant.Service, authSvc *authn.Service, cfg config.AssistantConfig) *Handler {
	return &Handler{
		assistant: assistantSvc,
		auth:      authSvc,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		connsPerUser: make(map[uint]int),
	}
}

// clientEnvelope is the shape of every message a client sends.
type clientEnvelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      int64           `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// serverEnvelope is the shape of every message the server sends.
type serverEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Serve handles GET /ws/assistant?user_id=&session_id=&trip_id=&token=.
func (h *Handler) Serve(c *gin.Context) {
	if !h.cfg.WSEnabled {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	user, err := h.authenticate(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 2001, "msg": "invalid or missing token", "data": nil})
		return
	}

	if !h.acquireConnSlot(user.ID) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"code": 2003, "msg": "too many concurrent connections for this user", "data": nil})
		return
	}
	defer h.releaseConnSlot(user.ID)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("ws: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	session := newConnSession(h, conn, user.ID, c.Query("session_id"), optionalUintQuery(c, "trip_id"))
	session.run(c.Request.Context())
}

func (h *Handler) authenticate(c *gin.Context) (model.User, error) {
	tokenString := c.Query("token")
	if tokenString == "" {
		return model.User{}, apierr.New(apierr.KindNotAuthorized, "missing token query parameter")
	}
	return h.auth.VerifyAccessToken(c.Request.Context(), tokenString)
}

func (h *Handler) acquireConnSlot(userID uint) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	limit := h.cfg.WSMaxConnectionsPerUser
	if limit <= 0 {
		limit = 3
	}
	if h.connsPerUser[userID] >= limit {
		return false
	}
	h.connsPerUser[userID]++
	return true
}

func (h *Handler) releaseConnSlot(userID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connsPerUser[userID]--
	if h.connsPerUser[userID] <= 0 {
		delete(h.connsPerUser, userID)
	}
}

func optionalUintQuery(c *gin.Context, key string) *uint {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil
	}
	parsed := uint(v)
	return &parsed
}

// connSession owns one connection's lifecycle: a bounded outbound queue
// drained by a single writer goroutine, and a reader loop that dispatches
// incoming events and runs at most one turn at a time, cancelling the
// in-flight turn on a new cancel{id} or a fresh user_message.
type connSession struct {
	h         *Handler
	conn      *websocket.Conn
	userID    uint
	sessionID string
	tripID    *uint

	send chan serverEnvelope

	mu         sync.Mutex
	turnCancel context.CancelFunc
	turnWG     sync.WaitGroup

	rateMu    sync.Mutex
	rateCount int
	rateReset time.Time
}

func newConnSession(h *Handler, conn *websocket.Conn, userID uint, sessionID string, tripID *uint) *connSession {
	queueSize := h.cfg.WSSendQueueMaxSize
	if queueSize <= 0 {
		queueSize = 64
	}
	return &connSession{
		h:         h,
		conn:      conn,
		userID:    userID,
		sessionID: sessionID,
		tripID:    tripID,
		send:      make(chan serverEnvelope, queueSize),
	}
}

func (s *connSession) run(ctx context.Context) {
	writerDone := make(chan struct{})
	go s.writePump(writerDone)

	idleTimeout := time.Duration(s.h.cfg.WSIdleTimeoutS) * time.Second
	if idleTimeout <= 0 {
		idleTimeout = 120 * time.Second
	}
	s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		return nil
	})

	s.enqueue(serverEnvelope{Type: "ready", Payload: gin.H{
		"session_id":  s.sessionID,
		"server_time": time.Now().UTC(),
		"caps": gin.H{
			"max_message_chars": s.h.cfg.WSMaxMessageChars,
			"rate_limit_per_min": s.h.cfg.WSRateLimitPerMin,
		},
	}})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			break
		}
		s.conn.SetReadDeadline(time.Now().Add(idleTimeout))

		var envelope clientEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			s.enqueue(serverEnvelope{Type: "error", Payload: model.StreamError{ErrorType: "bad_request", Message: "malformed event envelope"}})
			continue
		}

		switch envelope.Type {
		case "ping":
			s.enqueue(serverEnvelope{Type: "pong", Payload: gin.H{"ts": time.Now().UnixMilli()}})
		case "cancel":
			s.cancelInFlight()
		case "user_message":
			s.handleUserMessage(ctx, envelope)
		default:
			s.enqueue(serverEnvelope{Type: "error", Payload: model.StreamError{ErrorType: "bad_request", Message: "unknown event type: " + envelope.Type}})
		}
	}

	s.cancelInFlight()
	s.turnWG.Wait()
	close(s.send)
	<-writerDone
}

func (s *connSession) handleUserMessage(parentCtx context.Context, envelope clientEnvelope) {
	maxChars := s.h.cfg.WSMaxMessageChars
	if maxChars <= 0 {
		maxChars = 4000
	}
	if len(envelope.Payload) > maxChars {
		s.enqueue(serverEnvelope{Type: "error", Payload: model.StreamError{ErrorType: "bad_request", Message: "message exceeds max_message_chars"}})
		return
	}
	if !s.allow() {
		s.enqueue(serverEnvelope{Type: "error", Payload: model.StreamError{ErrorType: "rate_limited", Message: "too many messages per minute"}})
		return
	}

	var body struct {
		Query            string          `json:"query"`
		UseMemory        bool            `json:"use_memory"`
		TopKMemory       int             `json:"top_k_memory"`
		ReturnMemory     bool            `json:"return_memory"`
		ReturnToolTraces bool            `json:"return_tool_traces"`
		Location         *model.Location `json:"location,omitempty"`
		PoiType          string          `json:"poi_type,omitempty"`
		PoiRadius        int             `json:"poi_radius,omitempty"`
	}
	if err := json.Unmarshal(envelope.Payload, &body); err != nil {
		s.enqueue(serverEnvelope{Type: "error", Payload: model.StreamError{ErrorType: "bad_request", Message: "malformed user_message payload"}})
		return
	}

	s.cancelInFlight()
	ctx, cancel := context.WithCancel(parentCtx)
	s.mu.Lock()
	s.turnCancel = cancel
	s.mu.Unlock()

	s.turnWG.Add(1)
	go s.runTurn(ctx, assistant.TurnRequest{
		UserID:           s.userID,
		TripID:           s.tripID,
		SessionID:        s.sessionID,
		Query:            body.Query,
		UseMemory:        body.UseMemory,
		TopKMemory:       body.TopKMemory,
		ReturnMemory:     body.ReturnMemory,
		ReturnToolTraces: body.ReturnToolTraces,
		Location:         body.Location,
		PoiType:          body.PoiType,
		PoiRadius:        body.PoiRadius,
	})
}

func (s *connSession) runTurn(ctx context.Context, req assistant.TurnRequest) {
	defer s.turnWG.Done()
	traceID := uuid.NewString()
	result, err := s.h.assistant.TurnStream(ctx, req, func(chunk model.StreamChunk) error {
		if chunk.TraceID == "" {
			chunk.TraceID = traceID
		}
		s.enqueue(serverEnvelope{Type: "chunk", Payload: chunk})
		return ctx.Err()
	})

	s.mu.Lock()
	s.turnCancel = nil
	s.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			s.enqueue(serverEnvelope{Type: "error", Payload: model.StreamError{ErrorType: "cancelled", TraceID: traceID, Message: "turn cancelled"}})
		} else {
			errorType := string(apierr.KindInternal)
			if apiErr, ok := apierr.As(err); ok {
				errorType = string(apiErr.Kind)
			}
			s.enqueue(serverEnvelope{Type: "error", Payload: model.StreamError{ErrorType: errorType, TraceID: traceID, Message: err.Error()}})
		}
		s.enqueue(serverEnvelope{Type: "done"})
		return
	}

	s.enqueue(serverEnvelope{Type: "result", Payload: result})
	s.enqueue(serverEnvelope{Type: "done"})
}

func (s *connSession) cancelInFlight() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
}

func (s *connSession) allow() bool {
	limit := s.h.cfg.WSRateLimitPerMin
	if limit <= 0 {
		limit = 30
	}
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	now := time.Now()
	if now.After(s.rateReset) {
		s.rateReset = now.Add(time.Minute)
		s.rateCount = 0
	}
	if s.rateCount >= limit {
		return false
	}
	s.rateCount++
	return true
}

// enqueue never blocks: a full send queue means the client is falling
// behind, so the oldest guarantee we can make is dropping the connection
// rather than stalling every turn in the process.
func (s *connSession) enqueue(msg serverEnvelope) {
	select {
	case s.send <- msg:
	default:
		log.Errorf("ws: send queue full for user %d, closing connection", s.userID)
		s.conn.Close()
	}
}

func (s *connSession) writePump(done chan struct{}) {
	defer close(done)
	for msg := range s.send {
		if err := s.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
