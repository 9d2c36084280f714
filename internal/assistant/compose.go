package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tripplan-go/internal/metrics"
	"tripplan-go/internal/model"
	"tripplan-go/pkg/llm"
	"tripplan-go/pkg/log"
)

// composeAnswer implements spec §4.K step 6. It skips the LLM call
// entirely when a successful tool invocation already yields a sufficient
// answer for the intent, otherwise it builds a single prompt and calls
// the LLM once (streamed when onChunk is non-nil).
func (s *Service) composeAnswer(ctx context.Context, state *model.AssistantState, toolName string, toolResult model.JSONMap, onChunk func(model.StreamChunk) error, traceID string) (string, model.JSONMap, model.ToolTrace, error) {
	contextText := s.buildContextText(state, toolName, toolResult)

	if toolResult != nil && state.Intent != model.IntentGeneralQA {
		answer := buildFallbackAnswer(state.Query, contextText, len(state.PoiResults) > 0, true, len(state.TripData) > 0, len(state.Memories))
		if err := emitChunks(answer, onChunk, traceID); err != nil {
			return "", nil, model.ToolTrace{}, err
		}
		trace := model.ToolTrace{Node: "answer_compose", Status: "ok", Detail: model.JSONMap{"used_llm": false}}
		return answer, model.JSONMap{"composer": "deterministic"}, trace, nil
	}

	answer, aiMeta, err := s.llmAnswer(ctx, state, contextText, onChunk, traceID)
	if err != nil {
		return "", nil, model.ToolTrace{}, err
	}
	trace := model.ToolTrace{Node: "answer_compose", Status: "ok", Detail: model.JSONMap{"used_llm": aiMeta["composer"] != "fallback"}}
	return answer, aiMeta, trace, nil
}

func (s *Service) buildContextText(state *model.AssistantState, toolName string, toolResult model.JSONMap) string {
	var blocks []string
	if len(state.TripData) > 0 {
		if b := summarizeTripData(state.TripData); b != "" {
			blocks = append(blocks, b)
		}
	}
	if len(state.Memories) > 0 {
		if b := summarizeMemories(state.Memories, 5); b != "" {
			blocks = append(blocks, b)
		}
	}
	if len(state.PoiResults) > 0 {
		if b := summarizePoiResults(state.PoiResults, 5); b != "" {
			blocks = append(blocks, b)
		}
	}
	if toolResult != nil {
		blocks = append(blocks, summarizeToolResult(toolName, toolResult))
	}
	if historyBlock := renderHistoryBlock(state.History, s.historyMaxRounds); historyBlock != "" {
		blocks = append(blocks, historyBlock)
	}
	if len(blocks) == 0 {
		return "no additional context"
	}
	return strings.Join(blocks, "\n\n")
}

func (s *Service) llmAnswer(ctx context.Context, state *model.AssistantState, contextText string, onChunk func(model.StreamChunk) error, traceID string) (string, model.JSONMap, error) {
	fallback := buildFallbackAnswer(state.Query, contextText, len(state.PoiResults) > 0, false, len(state.TripData) > 0, len(state.Memories))

	systemPrompt, err := s.prompts.Get(ctx, "assistant.answer_compose")
	if err != nil {
		log.Errorf("assistant: prompt lookup failed: %v", err)
		if emitErr := emitChunks(fallback, onChunk, traceID); emitErr != nil {
			return "", nil, emitErr
		}
		return fallback, model.JSONMap{"composer": "fallback", "reason": "prompt_lookup_failed"}, nil
	}

	messages := []llm.Message{{Role: systemPrompt.Role, Content: systemPrompt.Content}}
	messages = append(messages, llm.Message{
		Role:    "user",
		Content: fmt.Sprintf("User question: %s\nAvailable context:\n%s", state.Query, contextText),
	})

	callStart := time.Now()
	if onChunk != nil {
		writer := &chunkWriter{onChunk: onChunk, traceID: traceID}
		if err := s.llmClient.StreamChatMessages(ctx, messages, nil, writer); err != nil {
			log.Errorf("assistant: llm stream failed: %v", err)
			s.recordAICall(callStart, 0, false, "llm_stream_failed")
			if emitErr := emitChunks(fallback, onChunk, traceID); emitErr != nil {
				return "", nil, emitErr
			}
			return fallback, model.JSONMap{"composer": "fallback", "reason": "llm_stream_failed"}, nil
		}
		s.recordAICall(callStart, 0, true, "")
		answer := writer.builder.String()
		if strings.TrimSpace(answer) == "" {
			answer = fallback
		}
		return answer, model.JSONMap{"composer": "llm", "trace_id": traceID}, nil
	}

	content, usage, err := s.llmClient.CompleteWithUsage(ctx, messages, nil)
	if err != nil {
		log.Errorf("assistant: llm complete failed: %v", err)
		s.recordAICall(callStart, 0, false, "llm_complete_failed")
		return fallback, model.JSONMap{"composer": "fallback", "reason": "llm_complete_failed"}, nil
	}
	s.recordAICall(callStart, usage.TotalTokens, true, "")
	if strings.TrimSpace(content) == "" {
		content = fallback
	}
	return content, model.JSONMap{"composer": "llm", "trace_id": traceID}, nil
}

// recordAICall folds the answer-composer's single LLM call into the shared
// "ai" metrics category (spec §4.B), alongside the deep planner's per-day
// calls and the memory service's provider calls.
func (s *Service) recordAICall(start time.Time, tokens int, success bool, errType string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Record(metrics.CallEntry{
		Category:  "ai",
		Label:     "answer_compose",
		LatencyMs: float64(time.Since(start).Milliseconds()),
		Success:   success,
		Error:     errType,
		ErrorType: errType,
		Tokens:    tokens,
	})
}

// chunkWriter adapts llm.MessageWriter to the pipeline's chunk callback,
// accumulating the full answer alongside forwarding each delta.
type chunkWriter struct {
	onChunk func(model.StreamChunk) error
	traceID string
	index   int
	builder strings.Builder
}

func (w *chunkWriter) WriteMessage(_ int, data []byte) error {
	w.builder.Write(data)
	chunk := model.StreamChunk{TraceID: w.traceID, Index: w.index, Delta: string(data), Done: false}
	w.index++
	return w.onChunk(chunk)
}

// emitChunks splits a deterministic answer into word-sized chunks so
// streaming callers still observe incremental delivery even when no LLM
// call was made.
func emitChunks(answer string, onChunk func(model.StreamChunk) error, traceID string) error {
	if onChunk == nil {
		return nil
	}
	words := strings.Fields(answer)
	if len(words) == 0 {
		return nil
	}
	for i, w := range words {
		delta := w
		if i < len(words)-1 {
			delta += " "
		}
		if err := onChunk(model.StreamChunk{TraceID: traceID, Index: i, Delta: delta, Done: false}); err != nil {
			return err
		}
	}
	return nil
}
