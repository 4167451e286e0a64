package conversation

import (
	"fmt"
	"sync"
)

// Normalizer reconciles vendor transcript events into the shared item
// arena. Each segment keeps one item id for its whole lifetime: partials
// rewrite the item text, the final freezes it, and anything arriving for a
// finalized segment is dropped.
type Normalizer struct {
	mu        sync.Mutex
	arena     *Arena
	sessionID string

	// segItems maps stage+segment key to the stable item id.
	segItems  map[string]string
	finalized map[string]bool
	counter   int

	// openSpeechItem is the assistant item currently receiving audio.
	openSpeechItem string
}

func NewNormalizer(sessionID string) *Normalizer {
	return &Normalizer{
		arena:     NewArena(),
		sessionID: sessionID,
		segItems:  make(map[string]string),
		finalized: make(map[string]bool),
	}
}

// Segment is one vendor transcript event after protocol decoding.
type Segment struct {
	// ID is the vendor segment id. Empty mints a fresh id for a fresh
	// segment key.
	ID       string
	Role     Role
	Stage    Stage
	Text     string
	Definite bool
	Language string

	BeginTimeMs int
	EndTimeMs   int
}

func segKey(stage Stage, id string) string {
	return string(stage) + ":" + id
}

func (n *Normalizer) mintID(stage Stage) string {
	n.counter++
	return fmt.Sprintf("%s_%s_%d", n.sessionID, stage, n.counter)
}

// UpsertSegment applies one transcript segment. It returns the resulting
// update and whether anything changed; stale partials and duplicate finals
// report false.
func (n *Normalizer) UpsertSegment(seg Segment) (Update, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := segKey(seg.Stage, seg.ID)
	if n.finalized[key] {
		return Update{}, false
	}

	itemID, ok := n.segItems[key]
	if !ok {
		itemID = seg.ID
		if itemID == "" {
			itemID = n.mintID(seg.Stage)
		} else {
			itemID = fmt.Sprintf("%s_%s", seg.ID, seg.Stage)
		}
		n.segItems[key] = itemID
		n.arena.Put(&Item{
			ID:     itemID,
			Type:   TypeMessage,
			Role:   seg.Role,
			Stage:  seg.Stage,
			Status: StatusInProgress,
		})
	}

	snap, _ := n.arena.Mutate(itemID, func(it *Item) {
		it.Text = seg.Text
		it.Language = seg.Language
		if seg.BeginTimeMs != 0 || it.BeginTimeMs == 0 {
			it.BeginTimeMs = seg.BeginTimeMs
		}
		if seg.EndTimeMs != 0 {
			it.EndTimeMs = seg.EndTimeMs
		}
		if seg.Definite {
			it.Status = StatusCompleted
		}
	})
	if seg.Definite {
		n.finalized[key] = true
	}
	return Update{Item: snap, Delta: Delta{Text: seg.Text}}, true
}

// OpenSegment starts a fresh segment for the given stage and returns its
// minted segment id. Vendors that signal explicit segment start frames use
// this so later partials land on the same item.
func (n *Normalizer) OpenSegment(role Role, stage Stage) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.mintID(stage)
	key := segKey(stage, id)
	n.segItems[key] = id
	n.arena.Put(&Item{
		ID:     id,
		Type:   TypeMessage,
		Role:   role,
		Stage:  stage,
		Status: StatusInProgress,
	})
	return id
}

// OpenVendorItem registers an item under a vendor-assigned id, as the
// OpenAI protocols do with conversation.item.created. Empty typ defaults
// to a message item.
func (n *Normalizer) OpenVendorItem(id string, typ ItemType, role Role, stage Stage) Update {
	n.mu.Lock()
	defer n.mu.Unlock()
	if typ == "" {
		typ = TypeMessage
	}
	if snap, ok := n.arena.Get(id); ok {
		return Update{Item: snap}
	}
	it := &Item{ID: id, Type: typ, Role: role, Stage: stage, Status: StatusInProgress}
	n.arena.Put(it)
	return Update{Item: it.clone()}
}

// AppendTextDelta appends streaming text to an open item. Unknown ids mint
// the item so out-of-order deltas are not lost.
func (n *Normalizer) AppendTextDelta(id string, role Role, stage Stage, delta string) (Update, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.finalized[segKey(stage, id)] {
		return Update{}, false
	}
	if _, ok := n.arena.Get(id); !ok {
		n.arena.Put(&Item{ID: id, Type: TypeMessage, Role: role, Stage: stage, Status: StatusInProgress})
	}
	snap, _ := n.arena.Mutate(id, func(it *Item) {
		it.Text += delta
	})
	return Update{Item: snap, Delta: Delta{Text: delta}}, true
}

// FinalizeItem freezes an item with its final text. Empty finalText keeps
// the accumulated text. Duplicate finals are no-ops.
func (n *Normalizer) FinalizeItem(id string, stage Stage, finalText string) (Update, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := segKey(stage, id)
	if n.finalized[key] {
		return Update{}, false
	}
	snap, ok := n.arena.Mutate(id, func(it *Item) {
		if finalText != "" {
			it.Text = finalText
		}
		it.Status = StatusCompleted
	})
	if !ok {
		return Update{}, false
	}
	n.finalized[key] = true
	if n.openSpeechItem == id {
		n.openSpeechItem = ""
	}
	return Update{Item: snap, Delta: Delta{Text: finalText}}, true
}

// AbortItem freezes an item without completing it, marking it cancelled or
// incomplete. The segment is sealed like any final: later partials and
// deltas for it are dropped.
func (n *Normalizer) AbortItem(id string, stage Stage, status ItemStatus) (Update, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := segKey(stage, id)
	if n.finalized[key] {
		return Update{}, false
	}
	snap, ok := n.arena.Mutate(id, func(it *Item) {
		it.Status = status
	})
	if !ok {
		return Update{}, false
	}
	n.finalized[key] = true
	if n.openSpeechItem == id {
		n.openSpeechItem = ""
	}
	return Update{Item: snap}, true
}

// OpenSpeechItem marks the assistant item that should receive audio chunks.
func (n *Normalizer) OpenSpeechItem(id string, format string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.arena.Get(id); !ok {
		n.arena.Put(&Item{ID: id, Type: TypeMessage, Role: RoleAssistant, Stage: StageSpeech, Status: StatusInProgress, AudioFormat: format})
	}
	n.openSpeechItem = id
}

// AppendAudio attaches an audio chunk to the open assistant item, minting
// one when nothing is open. The chunk is copied before retention.
func (n *Normalizer) AppendAudio(chunk []byte, format string) Update {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.openSpeechItem
	if id == "" {
		id = n.mintID(StageSpeech)
		n.arena.Put(&Item{ID: id, Type: TypeMessage, Role: RoleAssistant, Stage: StageSpeech, Status: StatusInProgress, AudioFormat: format})
		n.openSpeechItem = id
	}
	owned := make([]byte, len(chunk))
	copy(owned, chunk)
	snap, _ := n.arena.Mutate(id, func(it *Item) {
		it.Audio = append(it.Audio, owned...)
		if it.AudioFormat == "" {
			it.AudioFormat = format
		}
	})
	return Update{Item: snap, Delta: Delta{Audio: owned}}
}

// CloseSpeechItem completes the open audio item, if any.
func (n *Normalizer) CloseSpeechItem() (Update, bool) {
	n.mu.Lock()
	id := n.openSpeechItem
	n.openSpeechItem = ""
	n.mu.Unlock()
	if id == "" {
		return Update{}, false
	}
	return n.FinalizeItem(id, StageSpeech, "")
}

// SystemError records a system item carrying an upstream error message.
func (n *Normalizer) SystemError(message string) Update {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.mintID("error")
	it := &Item{
		ID:     id,
		Type:   TypeError,
		Role:   RoleSystem,
		Status: StatusCompleted,
		Err:    message,
		Text:   message,
	}
	n.arena.Put(it)
	return Update{Item: it.clone()}
}

// Items returns transcript snapshots in arrival order.
func (n *Normalizer) Items() []Item {
	return n.arena.Items()
}

// Reset clears the transcript and all segment bookkeeping.
func (n *Normalizer) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.arena.Reset()
	n.segItems = make(map[string]string)
	n.finalized = make(map[string]bool)
	n.openSpeechItem = ""
	n.counter = 0
}
