package astproto

import "strconv"

// Event is the control code carried in every envelope.
type Event int32

const (
	EventNone             Event = 0
	EventStartConnection  Event = 1
	EventFinishConnection Event = 2

	EventConnectionStarted  Event = 50
	EventConnectionFailed   Event = 51
	EventConnectionFinished Event = 52

	EventStartSession  Event = 100
	EventCancelSession Event = 101
	EventFinishSession Event = 102

	EventSessionStarted  Event = 150
	EventSessionCanceled Event = 151
	EventSessionFinished Event = 152
	EventSessionFailed   Event = 153
	EventUsageResponse   Event = 154

	EventTaskRequest  Event = 200
	EventUpdateConfig Event = 201
	EventImageRequest Event = 202

	EventAudioMuted Event = 250

	EventSayHello Event = 300

	EventTTSSentenceStart Event = 350
	EventTTSSentenceEnd   Event = 351
	EventTTSResponse      Event = 352
	EventTTSEnded         Event = 359

	EventASRInfo     Event = 450
	EventASRResponse Event = 451
	EventASREnded    Event = 459

	EventSourceSubtitleStart         Event = 650
	EventSourceSubtitleResponse      Event = 651
	EventSourceSubtitleEnd           Event = 652
	EventTranslationSubtitleStart    Event = 653
	EventTranslationSubtitleResponse Event = 654
	EventTranslationSubtitleEnd      Event = 655
)

var eventNames = map[Event]string{
	EventNone:                        "None",
	EventStartConnection:             "StartConnection",
	EventFinishConnection:            "FinishConnection",
	EventConnectionStarted:           "ConnectionStarted",
	EventConnectionFailed:            "ConnectionFailed",
	EventConnectionFinished:          "ConnectionFinished",
	EventStartSession:                "StartSession",
	EventCancelSession:               "CancelSession",
	EventFinishSession:               "FinishSession",
	EventSessionStarted:              "SessionStarted",
	EventSessionCanceled:             "SessionCanceled",
	EventSessionFinished:             "SessionFinished",
	EventSessionFailed:               "SessionFailed",
	EventUsageResponse:               "UsageResponse",
	EventTaskRequest:                 "TaskRequest",
	EventUpdateConfig:                "UpdateConfig",
	EventImageRequest:                "ImageRequest",
	EventAudioMuted:                  "AudioMuted",
	EventSayHello:                    "SayHello",
	EventTTSSentenceStart:            "TTSSentenceStart",
	EventTTSSentenceEnd:              "TTSSentenceEnd",
	EventTTSResponse:                 "TTSResponse",
	EventTTSEnded:                    "TTSEnded",
	EventASRInfo:                     "ASRInfo",
	EventASRResponse:                 "ASRResponse",
	EventASREnded:                    "ASREnded",
	EventSourceSubtitleStart:         "SourceSubtitleStart",
	EventSourceSubtitleResponse:      "SourceSubtitleResponse",
	EventSourceSubtitleEnd:           "SourceSubtitleEnd",
	EventTranslationSubtitleStart:    "TranslationSubtitleStart",
	EventTranslationSubtitleResponse: "TranslationSubtitleResponse",
	EventTranslationSubtitleEnd:      "TranslationSubtitleEnd",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "Event(" + strconv.Itoa(int(e)) + ")"
}

// Known reports whether the event code is part of the published vocabulary.
// Unknown codes are carried through and skipped by consumers, never treated
// as protocol errors.
func (e Event) Known() bool {
	_, ok := eventNames[e]
	return ok
}
