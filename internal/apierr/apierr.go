// Package apierr defines the structured error taxonomy shared by every
// component. No component may let a raw error escape to a transport layer;
// everything is converted to an *Error with a stable kind and code.
package apierr

import "fmt"

// Kind enumerates the machine-readable error categories from spec §7.
type Kind string

const (
	KindInvalidParams       Kind = "invalid_params"
	KindBadMode             Kind = "bad_mode"
	KindRangeExceeded       Kind = "range_exceeded"
	KindNotAuthorized       Kind = "not_authorized"
	KindAdminRequired       Kind = "admin_required"
	KindIdempotencyConflict Kind = "idempotency_conflict"
	KindRateLimited         Kind = "rate_limited"
	KindQueueFull           Kind = "queue_full"
	KindLLMTimeout          Kind = "llm_timeout"
	KindLLMRateLimit        Kind = "llm_rate_limit"
	KindLLMInvalidOutput    Kind = "llm_invalid_output"
	KindLLMProviderError    Kind = "llm_provider_error"
	KindPoiProviderError    Kind = "poi_provider_error"
	KindMemoryProviderError Kind = "memory_provider_error"
	KindPlanFailed          Kind = "plan_failed"
	KindDeepUnsupported     Kind = "deep_unsupported"
	KindDeepPlanFailed      Kind = "deep_plan_failed"
	KindDBConflict          Kind = "db_conflict"
	KindPersistenceFailed   Kind = "persistence_failed"
	KindCancelled           Kind = "cancelled"
	KindWorkerRestart       Kind = "worker_restart"
	KindInternal            Kind = "internal"
)

// defaultCode maps a kind to a stable numeric code in the planner-specific
// 140xx namespace for planner/task kinds, and generic 1xxx/2xxx/3xxx bands
// otherwise, per spec §6.
var defaultCode = map[Kind]int{
	KindInvalidParams:       1400,
	KindBadMode:             14071,
	KindRangeExceeded:       1401,
	KindNotAuthorized:       2001,
	KindAdminRequired:       2002,
	KindIdempotencyConflict: 14086,
	KindRateLimited:         14087,
	KindQueueFull:           14089,
	KindLLMTimeout:          3001,
	KindLLMRateLimit:        3002,
	KindLLMInvalidOutput:    3003,
	KindLLMProviderError:    3004,
	KindPoiProviderError:    3005,
	KindMemoryProviderError: 3006,
	KindPlanFailed:          14070,
	KindDeepUnsupported:     14081,
	KindDeepPlanFailed:      14082,
	KindDBConflict:          1402,
	KindPersistenceFailed:   14088,
	KindCancelled:           1403,
	KindWorkerRestart:       14090,
	KindInternal:            1000,
}

// Error is the structured error carried across every component boundary.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Path    string
	Detail  any
	Cause   error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path=%s)", e.Kind, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a structured error for the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: defaultCode[kind], Message: message}
}

// WithPath attaches a machine-readable location path (e.g. "day_cards[1].order_index").
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// Wrap attaches a cause without changing the structured shape seen by callers.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Code: defaultCode[kind], Message: message, Cause: cause}
}

// As extracts an *Error from any error chain, for handler-side mapping.
func As(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	if e, ok := err.(*Error); ok {
		return e, true
	}
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return As(u.Unwrap())
	}
	return nil, false
}
