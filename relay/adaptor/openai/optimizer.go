package openai

import (
	"time"

	"github.com/Laisky/gemini-balance/common/config"
	relaymodel "github.com/Laisky/gemini-balance/relay/model"
)

// StreamOptimizer smooths streamed text into small timed pieces so the client
// sees steady output instead of bursts. Short texts go out rune by rune, long
// texts in fixed-size groups; the pacing interpolates between MinDelay and
// MaxDelay by text length. Sleep is swappable for tests.
type StreamOptimizer struct {
	MinDelay           time.Duration
	MaxDelay           time.Duration
	ShortTextThreshold int
	LongTextThreshold  int
	ChunkSize          int
	Sleep              func(time.Duration)
}

// NewStreamOptimizer builds an optimizer from the STREAM_* settings.
func NewStreamOptimizer() *StreamOptimizer {
	return &StreamOptimizer{
		MinDelay:           time.Duration(config.StreamMinDelay * float64(time.Second)),
		MaxDelay:           time.Duration(config.StreamMaxDelay * float64(time.Second)),
		ShortTextThreshold: config.StreamShortTextThreshold,
		LongTextThreshold:  config.StreamLongTextThreshold,
		ChunkSize:          config.StreamChunkSize,
		Sleep:              time.Sleep,
	}
}

// delayFor picks the per-piece pause: short texts pace at MaxDelay, long texts
// at MinDelay, lengths in between interpolate linearly.
func (o *StreamOptimizer) delayFor(length int) time.Duration {
	switch {
	case length <= o.ShortTextThreshold:
		return o.MaxDelay
	case length >= o.LongTextThreshold:
		return o.MinDelay
	default:
		span := o.LongTextThreshold - o.ShortTextThreshold
		ratio := float64(length-o.ShortTextThreshold) / float64(span)
		return o.MaxDelay - time.Duration(ratio*float64(o.MaxDelay-o.MinDelay))
	}
}

// Smooth splits text into pieces and calls emit for each, pausing between
// pieces. Text at or past LongTextThreshold is split into ChunkSize rune
// groups; anything shorter goes out one rune at a time. The first emit error
// stops the loop.
func (o *StreamOptimizer) Smooth(text string, emit func(piece string) error) error {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	delay := o.delayFor(len(runes))
	step := 1
	if len(runes) >= o.LongTextThreshold && o.ChunkSize > 0 {
		step = o.ChunkSize
	}

	for i := 0; i < len(runes); i += step {
		end := i + step
		if end > len(runes) {
			end = len(runes)
		}
		if err := emit(string(runes[i:end])); err != nil {
			return err
		}
		o.Sleep(delay)
	}
	return nil
}

// DeltaText returns the plain text of a single-choice content chunk, or ""
// when the chunk carries anything the optimizer must not split (tool calls,
// multiple choices, no content).
func DeltaText(chunk *relaymodel.ChatCompletionsStreamResponse) string {
	if chunk == nil || len(chunk.Choices) != 1 {
		return ""
	}
	choice := chunk.Choices[0]
	if len(choice.Delta.ToolCalls) > 0 {
		return ""
	}
	return choice.Delta.Content
}

// TextStreamChunk builds a content-only chunk for one smoothed piece.
func TextStreamChunk(id string, created int64, model, text string) *relaymodel.ChatCompletionsStreamResponse {
	return &relaymodel.ChatCompletionsStreamResponse{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []relaymodel.ChatCompletionsStreamResponseChoice{{
			Delta: relaymodel.StreamDelta{Content: text},
		}},
	}
}

// StripDeltaText returns a copy of the chunk with its text content removed,
// keeping finish reason and usage, or nil when nothing else remains.
func StripDeltaText(chunk *relaymodel.ChatCompletionsStreamResponse) *relaymodel.ChatCompletionsStreamResponse {
	if chunk == nil || len(chunk.Choices) != 1 {
		return chunk
	}
	if chunk.Choices[0].FinishReason == nil && chunk.Usage == nil {
		return nil
	}
	residual := *chunk
	choice := chunk.Choices[0]
	choice.Delta.Content = ""
	residual.Choices = []relaymodel.ChatCompletionsStreamResponseChoice{choice}
	return &residual
}
