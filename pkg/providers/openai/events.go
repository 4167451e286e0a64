package openai

import "github.com/harunnryd/interpret/pkg/session"

// Client-to-server event types.
const (
	evSessionUpdate      = "session.update"
	evInputAudioAppend   = "input_audio_buffer.append"
	evInputAudioCommit   = "input_audio_buffer.commit"
	evConversationCreate = "conversation.item.create"
	evResponseCreate     = "response.create"
	evResponseCancel     = "response.cancel"
)

// Server-to-client event types.
const (
	evSessionCreated          = "session.created"
	evSessionUpdated          = "session.updated"
	evItemCreated             = "conversation.item.created"
	evAudioTranscriptDelta    = "response.audio_transcript.delta"
	evAudioTranscriptDone     = "response.audio_transcript.done"
	evTextDelta               = "response.text.delta"
	evTextDone                = "response.text.done"
	evAudioDelta              = "response.audio.delta"
	evSpeechStarted           = "input_audio_buffer.speech_started"
	evInputTranscriptionDone  = "conversation.item.input_audio_transcription.completed"
	evResponseDone            = "response.done"
	evServerError             = "error"
)

// sessionUpdatePayload builds the session.update body from the merged
// configuration. Nil-able sections use explicit nulls, which the protocol
// distinguishes from absence.
func sessionUpdatePayload(cfg *session.OpenAIConfig) map[string]any {
	modalities := []string{"text", "audio"}
	if cfg.TextOnly {
		modalities = []string{"text"}
	}

	var maxTokens any
	switch {
	case cfg.MaxTokensUnlimited:
		maxTokens = "inf"
	case cfg.MaxTokens > 0:
		maxTokens = cfg.MaxTokens
	}

	body := map[string]any{
		"modalities":          modalities,
		"voice":               cfg.Voice,
		"instructions":        cfg.Instructions,
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"tool_choice":         "none",
		"tools":               []any{},
		"turn_detection":      turnDetectionPayload(cfg.TurnDetection),
	}
	if cfg.Temperature != 0 {
		body["temperature"] = cfg.Temperature
	}
	if maxTokens != nil {
		body["max_response_output_tokens"] = maxTokens
	}
	if cfg.TranscriptionModel != "" {
		body["input_audio_transcription"] = map[string]any{"model": cfg.TranscriptionModel}
	}
	if cfg.NoiseReductionType != "" {
		body["input_audio_noise_reduction"] = map[string]any{"type": cfg.NoiseReductionType}
	}
	return map[string]any{"session": body}
}

func turnDetectionPayload(td *session.TurnDetection) any {
	if td == nil || td.Type == session.TurnDetectionNone {
		// Explicit null disables server-side turn detection.
		return nil
	}
	out := map[string]any{"type": string(td.Type)}
	switch td.Type {
	case session.TurnDetectionServerVAD:
		if td.Threshold != 0 {
			out["threshold"] = td.Threshold
		}
		if td.PrefixPaddingMs != 0 {
			out["prefix_padding_ms"] = td.PrefixPaddingMs
		}
		if td.SilenceDurationMs != 0 {
			out["silence_duration_ms"] = td.SilenceDurationMs
		}
	case session.TurnDetectionSemanticVAD:
		if td.Eagerness != "" {
			out["eagerness"] = td.Eagerness
		}
	}
	if td.CreateResponse != nil {
		out["create_response"] = *td.CreateResponse
	}
	if td.InterruptResponse != nil {
		out["interrupt_response"] = *td.InterruptResponse
	}
	return out
}
