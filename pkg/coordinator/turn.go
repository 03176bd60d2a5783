package coordinator

import (
	"fmt"
	"github.com/petrzlen/vocode-streaming/pkg/models"
	"github.com/petrzlen/vocode-streaming/pkg/segmenter"
	"time"
)

// turn is the per-turn state, replaced as a whole when the next turn begins.
// Only accessed with Coordinator.mu held.
type turn struct {
	id    string
	state models.TurnState
	voice string // locked for the whole turn

	seg       *segmenter.Segmenter
	chunks    []*models.ChunkRecord // index == order
	stall     *time.Timer
	stallTick uint64

	// sequencer generation this turn plays in, older sequencer events are stale
	generation uint64
}

func newTurn(id string, voice string, seg *segmenter.Segmenter, generation uint64) *turn {
	return &turn{
		id:         id,
		state:      models.TurnActive,
		voice:      voice,
		seg:        seg,
		generation: generation,
	}
}

// nextOrder is the sequence counter: one per dispatched unit, merges reuse theirs.
func (t *turn) nextOrder() int {
	return len(t.chunks)
}

func (t *turn) chunk(order int) *models.ChunkRecord {
	if order < 0 || order >= len(t.chunks) {
		return nil
	}
	return t.chunks[order]
}

func (t *turn) last() *models.ChunkRecord {
	return t.chunk(len(t.chunks) - 1)
}

func (t *turn) allTerminal() bool {
	for _, c := range t.chunks {
		if !c.Terminal() {
			return false
		}
	}
	return true
}

func (t *turn) anyPending() bool {
	return !t.allTerminal()
}

func (t *turn) stopStallTimer() {
	t.stallTick++
	if t.stall != nil {
		t.stall.Stop()
		t.stall = nil
	}
}

// dispatchKey identifies the synthesis call(s) of one chunk, so a merge can cancel
// exactly the superseded call and a new turn can cancel all of the old turn.
func dispatchKey(turnID string, order int) string {
	return fmt.Sprintf("%s-%d", turnID, order)
}
