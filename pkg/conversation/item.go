package conversation

// Role identifies who produced a conversation item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Stage identifies which pipeline stage a text segment belongs to.
// Source-language recognition and target-language translation of the same
// utterance are distinct items.
type Stage string

const (
	StageTranscription Stage = "transcription"
	StageTranslation   Stage = "translation"
	StageSpeech        Stage = "speech"
)

// ItemStatus tracks segment lifecycle.
type ItemStatus string

const (
	StatusInProgress ItemStatus = "in_progress"
	StatusCompleted  ItemStatus = "completed"
	StatusIncomplete ItemStatus = "incomplete"
	StatusCancelled  ItemStatus = "cancelled"
)

// ItemType distinguishes conversation messages from tool-call traffic and
// from synthesized error records.
type ItemType string

const (
	TypeMessage            ItemType = "message"
	TypeFunctionCall       ItemType = "function_call"
	TypeFunctionCallOutput ItemType = "function_call_output"
	TypeError              ItemType = "error"
)

// Item is one normalized conversation entry. Items are updated in place
// inside the arena; callers always receive copies.
type Item struct {
	ID       string
	Type     ItemType
	Role     Role
	Stage    Stage
	Status   ItemStatus
	Text     string
	Language string

	// BeginTimeMs/EndTimeMs are vendor-reported utterance boundaries,
	// zero when the vendor does not report them.
	BeginTimeMs int
	EndTimeMs   int

	// Audio holds synthesized output accumulated for this item.
	Audio       []byte
	AudioFormat string

	// Err carries the message for system error items.
	Err string
}

func (it *Item) clone() Item {
	out := *it
	if it.Audio != nil {
		out.Audio = make([]byte, len(it.Audio))
		copy(out.Audio, it.Audio)
	}
	return out
}

// Delta describes what changed in one update.
type Delta struct {
	Text  string
	Audio []byte
}

// Update pairs the item snapshot with the delta that produced it. This is
// the payload delivered to conversation callbacks.
type Update struct {
	Item  Item
	Delta Delta
}
