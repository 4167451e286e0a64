package openai

import (
	"encoding/json"
	"log/slog"

	"github.com/harunnryd/interpret/pkg/adapters"
	"github.com/harunnryd/interpret/pkg/audio"
	"github.com/harunnryd/interpret/pkg/billing"
	"github.com/harunnryd/interpret/pkg/conversation"
	"github.com/harunnryd/interpret/pkg/errorsx"
	"github.com/harunnryd/interpret/pkg/transports"
)

type serverEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	ItemID  string `json:"item_id"`

	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Text       string `json:"text"`

	Item struct {
		ID   string `json:"id"`
		Role string `json:"role"`
		Type string `json:"type"`
	} `json:"item"`

	Response struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Output []struct {
			ID string `json:"id"`
		} `json:"output"`
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"response"`

	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) readLoop(conn transports.Conn, ready chan struct{}, fail chan error, done chan struct{}) {
	defer close(done)
	readyFired := false

	for msg := range conn.Recv() {
		var ev serverEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			c.log.Warn("undecodable server event", slog.String("error", err.Error()))
			continue
		}
		if h := c.callbacks(); h.OnRealtimeEvent != nil {
			var raw map[string]any
			_ = json.Unmarshal(msg.Data, &raw)
			h.OnRealtimeEvent(adapters.SourceServer, ev.Type, raw)
		}
		if ev.Type == evSessionCreated && !readyFired {
			readyFired = true
			close(ready)
			continue
		}
		c.handleServerEvent(&ev)
	}

	err := conn.Err()
	if !readyFired {
		if err == nil {
			err = errorsx.New(errorsx.ReasonTransportClosed, "connection closed before session ack")
		}
		fail <- err
		return
	}
	switch c.fsm.State() {
	case adapters.StateClosing, adapters.StateClosed, adapters.StateFailed:
		// Locally initiated teardown; Disconnect owns the callbacks.
	default:
		c.fsm.Force(adapters.StateClosed)
		if h := c.callbacks(); h.OnClose != nil {
			h.OnClose(err)
		}
	}
}

func (c *Client) handleServerEvent(ev *serverEvent) {
	c.mu.Lock()
	norm := c.norm
	usage := c.usage
	cfg := c.cfg
	sessionID := c.sessionID
	c.mu.Unlock()
	h := c.callbacks()

	emit := func(upd conversation.Update, changed bool) {
		if changed && h.OnConversationUpdated != nil {
			h.OnConversationUpdated(upd)
		}
	}

	switch ev.Type {
	case evSessionUpdated:
		// Acknowledgment only.

	case evItemCreated:
		role := conversation.RoleAssistant
		stage := conversation.StageTranslation
		if ev.Item.Role == "user" {
			role = conversation.RoleUser
			stage = conversation.StageTranscription
		}
		typ := conversation.TypeMessage
		switch ev.Item.Type {
		case "function_call":
			typ = conversation.TypeFunctionCall
		case "function_call_output":
			typ = conversation.TypeFunctionCallOutput
		}
		upd := norm.OpenVendorItem(ev.Item.ID, typ, role, stage)
		if typ == conversation.TypeMessage && role == conversation.RoleAssistant {
			norm.OpenSpeechItem(ev.Item.ID, "pcm16")
		}
		emit(upd, true)

	case evTextDelta, evAudioTranscriptDelta:
		upd, ok := norm.AppendTextDelta(ev.ItemID, conversation.RoleAssistant, conversation.StageTranslation, ev.Delta)
		emit(upd, ok)

	case evTextDone:
		upd, ok := norm.FinalizeItem(ev.ItemID, conversation.StageTranslation, ev.Text)
		emit(upd, ok)

	case evAudioTranscriptDone:
		upd, ok := norm.FinalizeItem(ev.ItemID, conversation.StageTranslation, ev.Transcript)
		emit(upd, ok)

	case evAudioDelta:
		chunk, err := audio.PCM16FromBase64(ev.Delta)
		if err != nil {
			c.log.Warn("undecodable audio delta", slog.String("error", err.Error()))
			return
		}
		if ev.ItemID != "" {
			norm.OpenSpeechItem(ev.ItemID, "pcm16")
		}
		upd := norm.AppendAudio(audio.BytesFromPCM16(chunk), "pcm16")
		emit(upd, true)

	case evSpeechStarted:
		if h.OnConversationInterrupted != nil {
			h.OnConversationInterrupted()
		}

	case evInputTranscriptionDone:
		upd, ok := norm.UpsertSegment(conversation.Segment{
			ID:       ev.ItemID,
			Role:     conversation.RoleUser,
			Stage:    conversation.StageTranscription,
			Text:     ev.Transcript,
			Definite: true,
		})
		emit(upd, ok)

	case evResponseDone:
		aborted := conversation.ItemStatus("")
		switch ev.Response.Status {
		case "cancelled":
			aborted = conversation.StatusCancelled
		case "incomplete":
			aborted = conversation.StatusIncomplete
		}
		for _, out := range ev.Response.Output {
			var (
				upd conversation.Update
				ok  bool
			)
			if aborted != "" {
				upd, ok = norm.AbortItem(out.ID, conversation.StageTranslation, aborted)
			} else {
				upd, ok = norm.FinalizeItem(out.ID, conversation.StageTranslation, "")
			}
			emit(upd, ok)
		}
		if upd, ok := norm.CloseSpeechItem(); ok {
			emit(upd, true)
		}
		if usage != nil && ev.Response.Usage != nil {
			model := ""
			if cfg != nil {
				model = cfg.Model
			}
			usage.Submit(billing.UsageEvent{
				SubjectID:    c.subjectID,
				Provider:     string(c.Provider()),
				Model:        model,
				InputTokens:  ev.Response.Usage.InputTokens,
				OutputTokens: ev.Response.Usage.OutputTokens,
				Modality:     "audio",
				SessionID:    sessionID,
				ResponseID:   ev.Response.ID,
				EventType:    evResponseDone,
			})
		}

	case evServerError:
		msg := "server error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		err := errorsx.New(errorsx.ReasonUpstreamStatus, "%s", msg)
		upd := norm.SystemError(msg)
		emit(upd, true)
		if h.OnError != nil {
			h.OnError(err)
		}

	default:
		// Unrecognized events are mirrored via OnRealtimeEvent and
		// otherwise ignored.
	}
}
