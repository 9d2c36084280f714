// Package prompt owns the system prompts the assistant and deep planner
// send to an LLM. They route through Get so an operator can override
// content without a deploy (spec §4.C); the per-call user messages are
// built at the call sites.
package prompt

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"tripplan-go/internal/apierr"
	"tripplan-go/internal/model"
)

// Defaults are the code-baked prompt bodies shipped with the binary. They
// are the fallback when no active DB override exists for a key, and the
// restore target for Reset.
var Defaults = map[string]model.PromptRecord{
	"deep_planner.day_outline": {
		Key:     "deep_planner.day_outline",
		Title:   "Deep planner day outline",
		Role:    "system",
		Content: "You are a meticulous trip-planning assistant. Given a destination, a day index, a list of candidate points of interest and the traveler's preferences, propose an ordered day itinerary using only the supplied POIs. Respond with strict JSON matching the requested schema and nothing else.",
		Version: 1,
	},
	"assistant.answer_compose": {
		Key:     "assistant.answer_compose",
		Title:   "Assistant answer composition",
		Role:    "system",
		Content: "You are a travel assistant embedded in a trip-planning app. Use the supplied trip context, retrieved memories and tool results to answer the traveler's question concisely. Never invent POIs or facts not present in the supplied context.",
		Version: 1,
	},
	"assistant.router_fallback": {
		Key:     "assistant.router_fallback",
		Title:   "Router general QA fallback",
		Role:    "system",
		Content: "Answer the traveler's question helpfully and concisely, acknowledging when you lack enough context to be specific.",
		Version: 1,
	},
}

// Registry resolves prompt content by key, preferring an active DB
// override over the code-baked default, cached with a TTL to bound DB
// load (spec §4.C: "cached with TTL; update clears cache; reset restores
// default").
type Registry struct {
	db    *gorm.DB
	cache *gocache.Cache
}

// New builds a Registry. db may be nil in tests, in which case only
// in-memory defaults are served.
func New(db *gorm.DB, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Registry{db: db, cache: gocache.New(ttl, ttl*2)}
}

// Get resolves the active content for key: DB override if present and
// active, else the code-baked default, else a not-found apierr.
func (r *Registry) Get(ctx context.Context, key string) (model.PromptRecord, error) {
	if cached, ok := r.cache.Get(key); ok {
		return cached.(model.PromptRecord), nil
	}

	record, err := r.load(ctx, key)
	if err != nil {
		return model.PromptRecord{}, err
	}
	r.cache.Set(key, record, gocache.DefaultExpiration)
	return record, nil
}

func (r *Registry) load(ctx context.Context, key string) (model.PromptRecord, error) {
	if r.db != nil {
		var row model.PromptRecord
		err := r.db.WithContext(ctx).Where("key = ? AND is_active = ?", key, true).First(&row).Error
		if err == nil {
			return row, nil
		}
		if err != gorm.ErrRecordNotFound {
			return model.PromptRecord{}, apierr.Wrap(apierr.KindPersistenceFailed, "prompt lookup failed", err).WithPath(key)
		}
	}

	def, ok := Defaults[key]
	if !ok {
		return model.PromptRecord{}, apierr.New(apierr.KindInvalidParams, fmt.Sprintf("unknown prompt key %q", key)).WithPath(key)
	}
	return def, nil
}

// Update writes (or inserts) an active override for key and invalidates
// the cache entry so the next Get observes it immediately.
func (r *Registry) Update(ctx context.Context, key, content, updatedBy string) (model.PromptRecord, error) {
	if r.db == nil {
		return model.PromptRecord{}, apierr.New(apierr.KindInternal, "prompt registry has no backing store")
	}

	var existing model.PromptRecord
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&existing).Error
	switch {
	case err == nil:
		existing.Content = content
		existing.Version++
		existing.IsActive = true
		existing.UpdatedBy = updatedBy
		if saveErr := r.db.WithContext(ctx).Save(&existing).Error; saveErr != nil {
			return model.PromptRecord{}, apierr.Wrap(apierr.KindPersistenceFailed, "prompt update failed", saveErr).WithPath(key)
		}
		r.cache.Delete(key)
		return existing, nil
	case err == gorm.ErrRecordNotFound:
		def, ok := Defaults[key]
		row := model.PromptRecord{Key: key, Content: content, Version: 1, IsActive: true, UpdatedBy: updatedBy}
		if ok {
			row.Title, row.Role = def.Title, def.Role
		}
		if createErr := r.db.WithContext(ctx).Create(&row).Error; createErr != nil {
			return model.PromptRecord{}, apierr.Wrap(apierr.KindPersistenceFailed, "prompt create failed", createErr).WithPath(key)
		}
		r.cache.Delete(key)
		return row, nil
	default:
		return model.PromptRecord{}, apierr.Wrap(apierr.KindPersistenceFailed, "prompt lookup failed", err).WithPath(key)
	}
}

// Reset deletes any DB override for key so Get falls back to the
// code-baked default again.
func (r *Registry) Reset(ctx context.Context, key string) error {
	r.cache.Delete(key)
	if r.db == nil {
		return nil
	}
	if err := r.db.WithContext(ctx).Where("key = ?", key).Delete(&model.PromptRecord{}).Error; err != nil {
		return apierr.Wrap(apierr.KindPersistenceFailed, "prompt reset failed", err).WithPath(key)
	}
	return nil
}

// List returns every known key with its currently active content,
// DB overrides taking precedence over defaults.
func (r *Registry) List(ctx context.Context) ([]model.PromptRecord, error) {
	out := make([]model.PromptRecord, 0, len(Defaults))
	for key := range Defaults {
		rec, err := r.Get(ctx, key)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
