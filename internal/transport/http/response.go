// Package http implements the REST surface (spec §6): plan/task endpoints,
// assistant chat (unary + SSE), POI lookup, admin summaries, and the
// minimal auth endpoints identity/ownership checks rely on.
package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tripplan-go/internal/apierr"
)

// envelope is the unified `{code, msg, data}` response wrapper every
// endpoint returns (spec §6).
type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Code: 0, Msg: "ok", Data: data})
}

// fail maps a structured apierr.Error (or any other error, as internal)
// to the unified envelope. No raw error ever reaches the client (spec §7).
func fail(c *gin.Context, err error) {
	if apiErr, ok := apierr.As(err); ok {
		status := httpStatus(apiErr.Kind)
		data := gin.H{"kind": string(apiErr.Kind)}
		if apiErr.Path != "" {
			data["path"] = apiErr.Path
		}
		c.JSON(status, envelope{Code: apiErr.Code, Msg: apiErr.Message, Data: data})
		return
	}
	c.JSON(http.StatusInternalServerError, envelope{Code: 1000, Msg: "internal error", Data: gin.H{"kind": string(apierr.KindInternal)}})
}

// badParams wraps a request-body binding failure as a structured
// invalid_params error so it flows through the same fail() path.
func badParams(err error) error {
	return apierr.Wrap(apierr.KindInvalidParams, "invalid request body", err)
}

// requireUintQuery parses a required unsigned-integer query parameter,
// returning a structured invalid_params error on absence or bad syntax.
func requireUintQuery(c *gin.Context, key string) (uint, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, apierr.New(apierr.KindInvalidParams, key+" is required").WithPath(key)
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apierr.New(apierr.KindInvalidParams, key+" must be an integer").WithPath(key)
	}
	return uint(v), nil
}

func httpStatus(kind apierr.Kind) int {
	switch kind {
	case apierr.KindInvalidParams, apierr.KindBadMode, apierr.KindRangeExceeded:
		return http.StatusBadRequest
	case apierr.KindNotAuthorized:
		return http.StatusUnauthorized
	case apierr.KindAdminRequired:
		return http.StatusForbidden
	case apierr.KindIdempotencyConflict, apierr.KindDBConflict:
		return http.StatusConflict
	case apierr.KindRateLimited:
		return http.StatusTooManyRequests
	case apierr.KindQueueFull:
		return http.StatusServiceUnavailable
	case apierr.KindDeepUnsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
