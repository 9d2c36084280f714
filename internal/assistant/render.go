package assistant

import (
	"encoding/json"
	"fmt"
	"strings"

	"tripplan-go/internal/model"
)

// renderHistoryBlock renders the most recent exchanges as a compact text
// block for the answer-compose prompt (spec §4.K step 6).
func renderHistoryBlock(history []model.Message, maxRounds int) string {
	if len(history) == 0 {
		return ""
	}
	limit := maxRounds * 2
	if limit <= 0 || limit > len(history) {
		limit = len(history)
	}
	recent := history[len(history)-limit:]
	var b strings.Builder
	b.WriteString("recent conversation:\n")
	for _, m := range recent {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func summarizeMemories(items []model.MemoryItem, maxItems int) string {
	if len(items) == 0 {
		return ""
	}
	if maxItems <= 0 {
		maxItems = 5
	}
	if maxItems > len(items) {
		maxItems = len(items)
	}
	var b strings.Builder
	b.WriteString("relevant memories:\n")
	for _, item := range items[:maxItems] {
		fmt.Fprintf(&b, "- [%.2f] %s\n", item.Score, item.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func summarizePoiResults(results []model.PoiResult, maxItems int) string {
	if len(results) == 0 {
		return ""
	}
	if maxItems <= 0 {
		maxItems = 5
	}
	if maxItems > len(results) {
		maxItems = len(results)
	}
	var b strings.Builder
	b.WriteString("nearby points of interest:\n")
	for _, r := range results[:maxItems] {
		dist := ""
		if r.DistanceM > 0 {
			dist = fmt.Sprintf(" (about %.0fm away)", r.DistanceM)
		}
		fmt.Fprintf(&b, "- %s %s%s\n", r.Name, r.Category, dist)
	}
	return strings.TrimRight(b.String(), "\n")
}

func summarizeTripData(tripData model.JSONMap) string {
	if len(tripData) == 0 {
		return ""
	}
	destination, _ := tripData["destination"].(string)
	days, _ := tripData["days"].([]model.JSONMap)
	var b strings.Builder
	fmt.Fprintf(&b, "trip to %s:\n", destination)
	for _, day := range days {
		fmt.Fprintf(&b, "Day %v %v\n", day["day_index"], day["date"])
		subs, _ := day["sub_trips"].([]model.JSONMap)
		for _, sub := range subs {
			fmt.Fprintf(&b, "- %v %v-%v\n", sub["activity"], sub["start_time"], sub["end_time"])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func summarizeToolResult(toolName string, result model.JSONMap) string {
	if toolName == "" {
		toolName = "tool"
	}
	preview, err := json.Marshal(result)
	if err != nil || len(preview) == 0 {
		return fmt.Sprintf("tool %s was executed.", toolName)
	}
	text := string(preview)
	const maxPreviewLen = 400
	if len(text) > maxPreviewLen {
		text = text[:maxPreviewLen] + "…"
	}
	return fmt.Sprintf("tool %s returned: %s", toolName, text)
}

// buildFallbackAnswer composes a deterministic answer from whatever
// context is available when the LLM is unavailable or unnecessary,
// ported from the original's build_fallback_answer.
func buildFallbackAnswer(query, contextText string, hasPoi, hasTool, hasTrip bool, memCount int) string {
	switch {
	case hasPoi:
		return "Nearby places found for your location:\n" + contextText
	case hasTool:
		return "Based on the tool result:\n" + contextText
	case hasTrip:
		return "Here is a brief overview of your trip:\n" + contextText
	case memCount > 0:
		return fmt.Sprintf("Drawing on %d remembered preference(s):\n%s", memCount, contextText)
	default:
		return fmt.Sprintf("I don't have additional context for %q yet; could you share more detail?", query)
	}
}
