package volcengine

import (
	"log/slog"

	"github.com/harunnryd/interpret/pkg/adapters"
	"github.com/harunnryd/interpret/pkg/billing"
	"github.com/harunnryd/interpret/pkg/conversation"
	"github.com/harunnryd/interpret/pkg/errorsx"
	"github.com/harunnryd/interpret/pkg/transports"
	"github.com/harunnryd/interpret/pkg/wire/astproto"
)

func (c *ASTClient) readLoop(conn transports.Conn, ready chan struct{}, fail chan error, done chan struct{}) {
	defer close(done)
	readyFired := false

	for msg := range conn.Recv() {
		if msg.Type != transports.BinaryMessage {
			continue
		}
		resp, err := astproto.UnmarshalResponse(msg.Data)
		if err != nil {
			c.log.Warn("undecodable envelope", slog.String("error", err.Error()))
			continue
		}
		if h := c.callbacks(); h.OnRealtimeEvent != nil {
			h.OnRealtimeEvent(adapters.SourceServer, resp.Event.String(), resp)
		}

		if meta := resp.ResponseMeta; meta != nil && !astproto.StatusSuccess(meta.StatusCode) {
			err := errorsx.New(errorsx.ReasonUpstreamStatus, "status %d: %s", meta.StatusCode, meta.Message)
			if !readyFired {
				fail <- err
				return
			}
			c.reportUpstreamError(err)
			continue
		}

		switch resp.Event {
		case astproto.EventSessionStarted:
			if !readyFired {
				readyFired = true
				close(ready)
			}
		case astproto.EventSessionFailed, astproto.EventConnectionFailed:
			err := sessionFailure(resp)
			if !readyFired {
				fail <- err
				return
			}
			c.reportUpstreamError(err)
		default:
			if readyFired {
				c.handleEnvelope(resp)
			}
		}
	}

	err := conn.Err()
	if !readyFired {
		if err == nil {
			err = errorsx.New(errorsx.ReasonTransportClosed, "connection closed before session start")
		}
		fail <- err
		return
	}
	switch c.fsm.State() {
	case adapters.StateClosing, adapters.StateClosed, adapters.StateFailed:
	default:
		c.fsm.Force(adapters.StateClosed)
		if h := c.callbacks(); h.OnClose != nil {
			h.OnClose(err)
		}
	}
}

func sessionFailure(resp *astproto.TranslateResponse) error {
	msg := resp.Event.String()
	if resp.ResponseMeta != nil && resp.ResponseMeta.Message != "" {
		msg = resp.ResponseMeta.Message
	}
	return errorsx.New(errorsx.ReasonUpstreamStatus, "session failed: %s", msg)
}

func (c *ASTClient) reportUpstreamError(err error) {
	c.mu.Lock()
	norm := c.norm
	c.mu.Unlock()
	h := c.callbacks()
	upd := norm.SystemError(err.Error())
	if h.OnConversationUpdated != nil {
		h.OnConversationUpdated(upd)
	}
	if h.OnError != nil {
		h.OnError(err)
	}
}

// playSentence decodes one finished sentence and hands it to the playback
// sink. The sentence decodes as a single buffer: opus pages split across
// chunk boundaries are not valid in isolation.
func (c *ASTClient) playSentence(it conversation.Item) {
	if c.opts.Decoder == nil || c.opts.Sink == nil || len(it.Audio) == 0 {
		return
	}
	samples, err := c.opts.Decoder.Decode(it.Audio)
	if err != nil {
		c.log.Warn("decoding synthesized sentence failed", slog.String("error", err.Error()))
		return
	}
	if err := c.opts.Sink.Write(samples); err != nil {
		c.log.Warn("playback sink rejected sentence", slog.String("error", err.Error()))
	}
}

func (c *ASTClient) handleEnvelope(resp *astproto.TranslateResponse) {
	c.mu.Lock()
	norm := c.norm
	usage := c.usage
	sessionID := c.sessionID
	c.mu.Unlock()
	h := c.callbacks()

	emit := func(upd conversation.Update, changed bool) {
		if changed && h.OnConversationUpdated != nil {
			h.OnConversationUpdated(upd)
		}
	}

	switch resp.Event {
	case astproto.EventTTSSentenceStart:
		id := norm.OpenSegment(conversation.RoleAssistant, conversation.StageSpeech)
		norm.OpenSpeechItem(id, "ogg_opus")

	case astproto.EventTTSResponse:
		if len(resp.Data) > 0 {
			emit(norm.AppendAudio(resp.Data, "ogg_opus"), true)
		}

	case astproto.EventTTSSentenceEnd, astproto.EventTTSEnded:
		if upd, ok := norm.CloseSpeechItem(); ok {
			emit(upd, true)
			c.playSentence(upd.Item)
		}

	case astproto.EventSourceSubtitleStart:
		id := norm.OpenSegment(conversation.RoleUser, conversation.StageTranscription)
		c.mu.Lock()
		c.sourceSegID = id
		c.mu.Unlock()

	case astproto.EventSourceSubtitleResponse, astproto.EventSourceSubtitleEnd:
		c.mu.Lock()
		id := c.sourceSegID
		c.mu.Unlock()
		definite := resp.Event == astproto.EventSourceSubtitleEnd
		upd, ok := norm.UpsertSegment(conversation.Segment{
			ID:          id,
			Role:        conversation.RoleUser,
			Stage:       conversation.StageTranscription,
			Text:        resp.Text,
			Definite:    definite,
			BeginTimeMs: int(resp.StartTime),
			EndTimeMs:   int(resp.EndTime),
		})
		emit(upd, ok)
		if definite {
			c.mu.Lock()
			c.sourceSegID = ""
			c.mu.Unlock()
		}

	case astproto.EventTranslationSubtitleStart:
		id := norm.OpenSegment(conversation.RoleAssistant, conversation.StageTranslation)
		c.mu.Lock()
		c.translationSegID = id
		c.mu.Unlock()

	case astproto.EventTranslationSubtitleResponse, astproto.EventTranslationSubtitleEnd:
		c.mu.Lock()
		id := c.translationSegID
		c.mu.Unlock()
		definite := resp.Event == astproto.EventTranslationSubtitleEnd
		upd, ok := norm.UpsertSegment(conversation.Segment{
			ID:          id,
			Role:        conversation.RoleAssistant,
			Stage:       conversation.StageTranslation,
			Text:        resp.Text,
			Definite:    definite,
			BeginTimeMs: int(resp.StartTime),
			EndTimeMs:   int(resp.EndTime),
		})
		emit(upd, ok)
		if definite {
			c.mu.Lock()
			c.translationSegID = ""
			c.mu.Unlock()
		}

	case astproto.EventUsageResponse:
		if usage == nil || resp.ResponseMeta == nil || resp.ResponseMeta.Billing == nil {
			return
		}
		bl := resp.ResponseMeta.Billing
		usage.Submit(billing.UsageEvent{
			SubjectID:       c.opts.SubjectID,
			Provider:        string(c.Provider()),
			DurationSeconds: float64(bl.DurationMsec) / 1000,
			Modality:        "audio",
			SessionID:       sessionID,
			EventType:       astproto.EventUsageResponse.String(),
		})

	case astproto.EventAudioMuted:
		c.log.Debug("input muted", slog.Int("duration_ms", int(resp.MutedDurationMs)))

	case astproto.EventSessionFinished, astproto.EventConnectionFinished:
		// Close follows on the socket; readLoop handles it.

	default:
		// Unknown events are skipped, never errors.
	}
}
