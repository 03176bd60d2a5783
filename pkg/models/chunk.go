package models

import (
	"github.com/google/uuid"
	"time"
)

type ChunkStatus int

const (
	ChunkPending ChunkStatus = iota
	ChunkReady
	ChunkFailed
)

func (s ChunkStatus) String() string {
	switch s {
	case ChunkPending:
		return "pending"
	case ChunkReady:
		return "ready"
	case ChunkFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ChunkRecord tracks one dispatched speakable unit inside a turn.
// Order never changes once assigned; a late merge re-dispatches the record
// under the same Order and bumps Revision so stale synthesis results can be told apart.
type ChunkRecord struct {
	ID       string
	Text     string
	Order    int
	Revision int
	Status   ChunkStatus
	Handle   *AudioData

	// Released is set once the sequencer handed the clip to the output device.
	Released     bool
	DispatchedAt time.Time
}

func NewChunkRecord(text string, order int) *ChunkRecord {
	return &ChunkRecord{
		ID:           uuid.NewString(),
		Text:         text,
		Order:        order,
		Status:       ChunkPending,
		DispatchedAt: time.Now(),
	}
}

// Terminal is true for Ready and Failed.
func (c *ChunkRecord) Terminal() bool {
	return c.Status != ChunkPending
}

type TurnState int

const (
	TurnIdle TurnState = iota
	TurnActive
	TurnDraining
)

func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnActive:
		return "active"
	case TurnDraining:
		return "draining"
	default:
		return "unknown"
	}
}

type ChunkEventKind string

const (
	EventChunkDispatched ChunkEventKind = "dispatched"
	EventChunkMerged     ChunkEventKind = "merged"
	EventChunkReady      ChunkEventKind = "ready"
	EventChunkFailed     ChunkEventKind = "failed"
	EventChunkPlaying    ChunkEventKind = "playing"
	EventChunkPlayed     ChunkEventKind = "played"
	EventTurnState       ChunkEventKind = "turn_state"
)

// ChunkEvent is what the surrounding application (UI) gets to render.
type ChunkEvent struct {
	Kind       ChunkEventKind `json:"kind"`
	TurnID     string         `json:"turn_id"`
	Order      int            `json:"order"`
	Status     string         `json:"status,omitempty"`
	AudioReady bool           `json:"audio_ready"`
	Text       string         `json:"text,omitempty"`
	TurnState  string         `json:"turn_state,omitempty"`
	Busy       bool           `json:"busy"`
}
