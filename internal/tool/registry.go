// Package tool is the deterministic-executor registry the assistant's
// task_runner step calls into: each tool declares a schema, the registry
// validates arguments, applies a timeout/retry policy and always returns
// a trace record (spec §4.F).
package tool

import (
	"context"
	"fmt"
	"time"

	"tripplan-go/internal/config"
	"tripplan-go/internal/model"
	"tripplan-go/pkg/log"
)

// Tool is a synchronous, deterministic executor over normalized args.
type Tool interface {
	Name() string
	Description() string
	// Schema returns a minimal JSON-schema-subset object:
	// {"type":"object","properties":{...},"required":[...]}.
	Schema() map[string]any
	Execute(ctx context.Context, args model.JSONMap) (model.JSONMap, error)
}

type registration struct {
	tool     Tool
	category string
	timeout  time.Duration
	retries  int
}

// Descriptor is the registry's public listing shape.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Schema      map[string]any `json:"schema"`
}

// Registry holds the process-wide tool set.
type Registry struct {
	defaultTimeout time.Duration
	defaultRetries int
	tools          map[string]registration
}

// New builds an empty registry using the configured default policy.
func New(cfg config.ToolConfig) *Registry {
	timeoutS := cfg.DefaultTimeoutS
	if timeoutS <= 0 {
		timeoutS = 8
	}
	retries := cfg.DefaultRetries
	if retries < 0 {
		retries = 0
	}
	return &Registry{
		defaultTimeout: time.Duration(timeoutS) * time.Second,
		defaultRetries: retries,
		tools:          make(map[string]registration),
	}
}

// Register adds a tool under the registry's default timeout/retry policy.
func (r *Registry) Register(t Tool, category string) {
	r.RegisterWithPolicy(t, category, r.defaultTimeout, r.defaultRetries)
}

// RegisterWithPolicy adds a tool with an explicit per-tool timeout/retry
// override (e.g. path_navigate needs no network round trip and can use a
// much smaller timeout than weather_area).
func (r *Registry) RegisterWithPolicy(t Tool, category string, timeout time.Duration, retries int) {
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		log.Infof("tool registry: %s already registered, skipping duplicate", name)
		return
	}
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	r.tools[name] = registration{tool: t, category: category, timeout: timeout, retries: retries}
}

// List returns every registered tool's descriptor, sorted by name would
// be nicer but callers (prompt building, admin endpoints) don't depend on
// order so a map-derived slice is fine.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, Descriptor{
			Name:        reg.tool.Name(),
			Description: reg.tool.Description(),
			Category:    reg.category,
			Schema:      reg.tool.Schema(),
		})
	}
	return out
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	reg, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return reg.tool, true
}

// Invoke validates args against the tool's schema, runs it under the
// registry's timeout/retry policy, and always returns a trace record
// alongside the result — callers never see a raw panic or unwrapped
// error escape this boundary.
func (r *Registry) Invoke(ctx context.Context, name string, args model.JSONMap) (model.JSONMap, model.ToolTrace) {
	start := time.Now()
	reg, ok := r.tools[name]
	if !ok {
		return failureResult("unknown tool: " + name), trace(name, start, "failed", model.JSONMap{"error": "unknown_tool"})
	}

	if err := ValidateArgs(reg.tool.Schema(), args); err != nil {
		return failureResult(err.Error()), trace(name, start, "failed", model.JSONMap{"error": "invalid_args", "detail": err.Error()})
	}

	attempts := reg.retries + 1
	var result model.JSONMap
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, reg.timeout)
		result, lastErr = func() (res model.JSONMap, err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("tool %s panicked: %v", name, p)
				}
			}()
			return reg.tool.Execute(callCtx, args)
		}()
		cancel()
		if lastErr == nil {
			break
		}
		log.Infof("tool %s attempt %d/%d failed: %v", name, attempt+1, attempts, lastErr)
	}

	if lastErr != nil {
		return failureResult(lastErr.Error()), trace(name, start, "failed", model.JSONMap{"error": lastErr.Error(), "attempts": attempts})
	}
	return result, trace(name, start, "ok", model.JSONMap{"attempts": attempts})
}

func failureResult(message string) model.JSONMap {
	return model.JSONMap{"status": "failed", "error": message}
}

func trace(name string, start time.Time, status string, detail model.JSONMap) model.ToolTrace {
	return model.ToolTrace{
		Node:      name,
		Status:    status,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Detail:    detail,
	}
}

// ValidateArgs checks args against a minimal JSON-schema subset: object
// type, a properties map of {type}, and a required list. No example repo
// in the retrieval pack carries a full JSON-schema validation library, so
// this intentionally covers only the shapes this codebase's tools use.
func ValidateArgs(schema map[string]any, args model.JSONMap) error {
	if schema == nil {
		return nil
	}
	required, _ := schema["required"].([]string)
	for _, field := range required {
		if _, ok := args[field]; !ok {
			return fmt.Errorf("missing required argument %q", field)
		}
	}
	properties, _ := schema["properties"].(map[string]any)
	for field, rawSpec := range properties {
		value, present := args[field]
		if !present {
			continue
		}
		spec, ok := rawSpec.(map[string]any)
		if !ok {
			continue
		}
		wantType, _ := spec["type"].(string)
		if wantType == "" {
			continue
		}
		if !matchesType(value, wantType) {
			return fmt.Errorf("argument %q must be of type %s", field, wantType)
		}
	}
	return nil
}

func matchesType(value any, want string) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch value.(type) {
		case int, int32, int64, float64:
			return true
		}
		return false
	case "number":
		switch value.(type) {
		case int, int32, int64, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		if ok {
			return true
		}
		_, ok = value.([]string)
		return ok
	case "object":
		switch value.(type) {
		case map[string]any, model.JSONMap:
			return true
		}
		return false
	default:
		return true
	}
}
