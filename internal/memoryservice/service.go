// Package memoryservice provides namespaced long-term memory read/write
// on top of an external provider, degrading to an in-process fallback
// store whenever the provider is unset or returns an error (spec §4.E).
package memoryservice

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"

	"tripplan-go/internal/metrics"
	"tripplan-go/internal/model"
	"tripplan-go/pkg/log"
	"tripplan-go/pkg/memoryprovider"
)

const preferencesQuery = "preferences"

// Service is the high-level memory operations surface: write/search by
// scope, plus a multi-scope merge used by the assistant pipeline.
type Service struct {
	provider memoryprovider.Client
	fallback *localStore
	metrics  *metrics.Registry
}

// New wires the memory service. provider may be nil (provider disabled by
// config), in which case every call degrades straight to the fallback
// store.
func New(provider memoryprovider.Client, metricsRegistry *metrics.Registry) *Service {
	return &Service{provider: provider, fallback: newLocalStore(), metrics: metricsRegistry}
}

// WriteMemory stores text under the given scope, preferring the external
// provider and always mirroring into the local fallback so a later read
// still sees it if the provider degrades.
func (s *Service) WriteMemory(ctx context.Context, userID uint, level model.MemoryLevel, text string, tripID *uint, sessionID string, metadata model.JSONMap) (string, error) {
	namespace, meta := buildNamespace(userID, level, tripID, sessionID)
	merged := mergeMetadata(meta, metadata)
	localID := s.fallback.write(namespace, text, merged)

	if s.provider == nil {
		s.record("write", false, false, "disabled")
		return localID, nil
	}
	id, err := s.provider.Write(ctx, namespace, text, merged)
	if err != nil {
		log.Error("memory provider write failed, using local fallback id", err)
		s.record("write", true, false, "provider_error")
		return localID, nil
	}
	s.record("write", true, true, "")
	if id == "" {
		return localID, nil
	}
	return id, nil
}

// SearchMemory searches a single scope, falling back to the local store's
// substring/overlap scoring on provider failure or absence.
func (s *Service) SearchMemory(ctx context.Context, userID uint, level model.MemoryLevel, query string, tripID *uint, sessionID string, k int) ([]model.MemoryItem, error) {
	if k <= 0 {
		k = 5
	}
	namespace, _ := buildNamespace(userID, level, tripID, sessionID)
	fallback := s.fallback.search(namespace, query, k)

	if s.provider == nil {
		s.record("search", false, false, "disabled")
		return fallback, nil
	}
	items, err := s.provider.Search(ctx, namespace, query, k)
	if err != nil {
		log.Error("memory provider search failed, using local fallback", err)
		s.record("search", true, false, "provider_error")
		return fallback, nil
	}
	s.record("search", true, true, "")
	if len(items) == 0 {
		return fallback, nil
	}
	return items, nil
}

// SearchMultiScope searches session, trip and user scopes and merges by
// id/text, keeping the highest score per key (grounded on the original's
// search_memories_multi_scope cross-session recall strategy).
func (s *Service) SearchMultiScope(ctx context.Context, userID uint, tripID *uint, sessionID string, query string, topK int) ([]model.MemoryItem, map[string]int, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, map[string]int{}, nil
	}
	if topK <= 0 {
		topK = 5
	}
	perScopeK := topK
	if perScopeK < 2 {
		perScopeK = 2
	}

	type scope struct {
		name  string
		level model.MemoryLevel
	}
	scopes := []scope{}
	if sessionID != "" {
		scopes = append(scopes, scope{"session", model.MemoryLevelSession})
	}
	if tripID != nil {
		scopes = append(scopes, scope{"trip", model.MemoryLevelTrip})
	}
	scopes = append(scopes, scope{"user", model.MemoryLevelUser})

	merged := make(map[string]model.MemoryItem)
	counts := make(map[string]int, len(scopes))
	for _, sc := range scopes {
		items, err := s.SearchMemory(ctx, userID, sc.level, query, tripID, sessionID, perScopeK)
		if err != nil {
			return nil, nil, err
		}
		counts[sc.name] = len(items)
		for _, item := range items {
			key := item.ID
			if key == "" {
				key = item.Text
			}
			if key == "" {
				continue
			}
			if existing, ok := merged[key]; !ok || item.Score > existing.Score {
				merged[key] = item
			}
		}
	}

	results := make([]model.MemoryItem, 0, len(merged))
	for _, item := range merged {
		results = append(results, item)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, counts, nil
}

// SearchPreferences satisfies planner.PreferenceMemory: it looks for a
// previously written user-level preferences record and parses it back
// into a model.Preferences, returning ok=false on any miss or parse
// failure so the deep planner falls back to the request's own
// preferences untouched.
func (s *Service) SearchPreferences(ctx context.Context, userID uint) (model.Preferences, bool) {
	items, err := s.SearchMemory(ctx, userID, model.MemoryLevelUser, preferencesQuery, nil, "", 1)
	if err != nil || len(items) == 0 {
		return model.Preferences{}, false
	}
	var prefs model.Preferences
	if err := json.Unmarshal([]byte(items[0].Text), &prefs); err != nil {
		return model.Preferences{}, false
	}
	return prefs, true
}

// RememberPreferences persists the merged preferences as a user-level
// memory so a later session can recall them via SearchPreferences.
func (s *Service) RememberPreferences(ctx context.Context, userID uint, prefs model.Preferences) error {
	text, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	_, err = s.WriteMemory(ctx, userID, model.MemoryLevelUser, string(text), nil, "", model.JSONMap{"kind": preferencesQuery})
	return err
}

// record folds every provider write/search into the shared "ai" category
// (spec §4.B): mem0Call marks calls that actually reached the external
// memory provider, as opposed to disabled-provider calls that never left
// the local fallback store.
func (s *Service) record(operation string, mem0Call, success bool, errType string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Record(metrics.CallEntry{
		Category:  "ai",
		Label:     "memory." + operation,
		Success:   success,
		Error:     errType,
		ErrorType: errType,
		Mem0Call:  mem0Call,
		Mem0Error: mem0Call && !success,
	})
}

func buildNamespace(userID uint, level model.MemoryLevel, tripID *uint, sessionID string) (string, model.JSONMap) {
	meta := model.JSONMap{"level": string(level), "user_id": strconv.FormatUint(uint64(userID), 10)}
	var namespace string
	switch level {
	case model.MemoryLevelTrip:
		namespace = "user:" + strconv.FormatUint(uint64(userID), 10) + ":trip:" + formatTripID(tripID)
		if tripID != nil {
			meta["trip_id"] = *tripID
		}
	case model.MemoryLevelSession:
		namespace = "user:" + strconv.FormatUint(uint64(userID), 10) + ":session:" + sessionID
		meta["session_id"] = sessionID
	default:
		namespace = "user:" + strconv.FormatUint(uint64(userID), 10)
	}
	meta["namespace"] = namespace
	return namespace, meta
}

func formatTripID(tripID *uint) string {
	if tripID == nil {
		return "0"
	}
	return strconv.FormatUint(uint64(*tripID), 10)
}

func mergeMetadata(base, extra model.JSONMap) model.JSONMap {
	merged := make(model.JSONMap, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// localStore is the in-process fallback used when the external memory
// provider is absent or failing, scored by substring containment then
// token overlap.
type localStore struct {
	mu   sync.RWMutex
	byNS map[string][]localEntry
}

type localEntry struct {
	id       string
	text     string
	metadata model.JSONMap
}

func newLocalStore() *localStore {
	return &localStore{byNS: make(map[string][]localEntry)}
}

func (l *localStore) write(namespace, text string, metadata model.JSONMap) string {
	id := "local-" + randomHex(16)
	l.mu.Lock()
	l.byNS[namespace] = append(l.byNS[namespace], localEntry{id: id, text: text, metadata: metadata})
	l.mu.Unlock()
	return id
}

func (l *localStore) search(namespace, query string, k int) []model.MemoryItem {
	l.mu.RLock()
	entries := append([]localEntry(nil), l.byNS[namespace]...)
	l.mu.RUnlock()

	type scored struct {
		score float64
		entry localEntry
	}
	results := make([]scored, 0, len(entries))
	for _, e := range entries {
		results = append(results, scored{score: similarity(e.text, query), entry: e})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })

	if k > len(results) {
		k = len(results)
	}
	items := make([]model.MemoryItem, 0, k)
	for _, r := range results[:k] {
		items = append(items, model.MemoryItem{ID: r.entry.id, Text: r.entry.text, Score: r.score, Metadata: r.entry.metadata})
	}
	return items
}

// similarity scores a candidate memory against a query: exact substring
// match scores highest, otherwise a token-overlap ratio.
func similarity(text, query string) float64 {
	if text == "" {
		return 0
	}
	lowerText, lowerQuery := strings.ToLower(text), strings.ToLower(query)
	if lowerQuery != "" && strings.Contains(lowerText, lowerQuery) {
		return 1.0
	}
	textTokens := tokenSet(lowerText)
	queryTokens := tokenSet(lowerQuery)
	if len(textTokens) == 0 || len(queryTokens) == 0 {
		return 0
	}
	overlap := 0
	for tok := range queryTokens {
		if textTokens[tok] {
			overlap++
		}
	}
	return float64(overlap) / float64(len(queryTokens))
}

func tokenSet(s string) map[string]bool {
	tokens := strings.Fields(s)
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString(buf)
	}
	return hex.EncodeToString(buf)
}
