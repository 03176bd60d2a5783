// Package playback releases synthesized clips to a single audio output strictly in order.
//
// Synthesis calls finish whenever they finish; the Sequencer holds the clips back until
// the one with the next expected order arrives. Every scheduling decision goes through
// one entry point (attempt), guarded by a "scheduled" flag so there is never more than
// one attempt pending and never more than one clip playing.
//
// Entry lifecycle: Queued -> Playing -> Done, or Queued -> Evicted when a merge replaces it.
package playback

import (
	"context"
	"github.com/petrzlen/vocode-streaming/pkg/metrics"
	"github.com/petrzlen/vocode-streaming/pkg/models"
	"github.com/rs/zerolog/log"
	"sync"
)

// Player plays one clip and blocks until it is done, failed, or ctx got canceled.
type Player interface {
	Play(ctx context.Context, clip *models.AudioData) error
}

type EntryState int

const (
	Queued EntryState = iota
	Playing
	Done
	Evicted
	Skipped
)

func (s EntryState) String() string {
	switch s {
	case Queued:
		return "queued"
	case Playing:
		return "playing"
	case Done:
		return "done"
	case Evicted:
		return "evicted"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Event is emitted (outside of the sequencer lock) when an entry changes state.
// Generation tells apart events from before and after a Reset.
type Event struct {
	Order      int
	State      EntryState
	Err        error // playback error, only with Done
	Generation uint64
}

type Sequencer struct {
	player  Player
	onEvent func(Event)

	mu         sync.Mutex
	queue      map[int]*models.AudioData
	skipped    map[int]bool
	next       int
	playing    bool
	scheduled  bool
	generation uint64
	stop       context.CancelFunc
	playDone   chan struct{} // closed when the latest Player.Play returned, survives Reset
	closed     bool
	wg         sync.WaitGroup
}

// NewSequencer; onEvent may be nil. It must not block for long, and it may call back
// into the Sequencer as it is never invoked with the lock held.
func NewSequencer(player Player, onEvent func(Event)) *Sequencer {
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	return &Sequencer{
		player:  player,
		onEvent: onEvent,
		queue:   make(map[int]*models.AudioData),
		skipped: make(map[int]bool),
	}
}

// Enqueue adds a Ready clip. A clip already queued under the same order is replaced
// (evicted). Clips for orders already released are dropped and false is returned.
func (s *Sequencer) Enqueue(order int, clip *models.AudioData) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if order < s.next {
		log.Warn().Int("order", order).Int("next_expected", s.next).Msg("clip arrived for an order already released, dropping")
		return false
	}
	if _, exists := s.queue[order]; exists {
		log.Debug().Int("order", order).Msg("replacing queued clip")
	}
	delete(s.skipped, order)
	s.queue[order] = clip
	s.scheduleLocked()
	return true
}

// Evict removes a queued (not yet released) clip, used when a merge invalidates it.
func (s *Sequencer) Evict(order int) bool {
	s.mu.Lock()
	_, exists := s.queue[order]
	delete(s.queue, order)
	generation := s.generation
	s.mu.Unlock()

	if exists {
		s.onEvent(Event{Order: order, State: Evicted, Generation: generation})
	}
	return exists
}

// Skip marks order as never coming (e.g. its synthesis failed) so playback moves past it
// instead of waiting forever.
func (s *Sequencer) Skip(order int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || order < s.next {
		return
	}
	if _, queued := s.queue[order]; queued {
		return
	}
	s.skipped[order] = true
	s.scheduleLocked()
}

// Reset forgets everything: the queue, the next expected order (back to 0) and stops
// whatever is playing. Attempts and completions of the previous generation become no-ops.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Sequencer) resetLocked() {
	s.generation++
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	s.queue = make(map[int]*models.AudioData)
	s.skipped = make(map[int]bool)
	s.next = 0
	s.playing = false
	s.scheduled = false
}

// Close resets, refuses further clips and waits for the attempt goroutines to exit.
func (s *Sequencer) Close() {
	s.mu.Lock()
	s.resetLocked()
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Sequencer) NextExpected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

func (s *Sequencer) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Busy is true while something is playing or waiting in the queue.
func (s *Sequencer) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing || len(s.queue) > 0
}

func (s *Sequencer) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// scheduleLocked is idempotent: with an attempt already scheduled or a clip playing it does nothing.
func (s *Sequencer) scheduleLocked() {
	if s.closed || s.playing || s.scheduled {
		return
	}
	s.scheduled = true
	s.wg.Add(1)
	go s.attempt(s.generation)
}

// attempt plays the clip with order == next if it is there, otherwise it just exits;
// the arrival of that clip schedules another attempt.
func (s *Sequencer) attempt(generation uint64) {
	defer s.wg.Done()

	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return
	}
	s.scheduled = false

	var skippedOrders []int
	for s.skipped[s.next] {
		delete(s.skipped, s.next)
		skippedOrders = append(skippedOrders, s.next)
		s.next++
	}

	order := s.next
	clip, ok := s.queue[order]
	if !ok {
		s.mu.Unlock()
		s.emitSkipped(skippedOrders, generation)
		log.Trace().Int("next_expected", order).Msg("next clip not ready yet, deferring playback")
		return
	}
	delete(s.queue, order)
	s.next++
	s.playing = true
	ctx, stop := context.WithCancel(context.Background())
	s.stop = stop
	previous := s.playDone
	done := make(chan struct{})
	s.playDone = done
	s.mu.Unlock()
	defer close(done)

	s.emitSkipped(skippedOrders, generation)

	// A Play of the previous generation may still be unwinding after Reset canceled it.
	if previous != nil {
		<-previous
	}
	if ctx.Err() != nil {
		// Reset while waiting, the clip is stale.
		return
	}

	s.onEvent(Event{Order: order, State: Playing, Generation: generation})
	log.Debug().Int("order", order).Str("text", clip.Text).Msg("playback START")

	err := s.player.Play(ctx, clip)
	stop()

	s.mu.Lock()
	if generation != s.generation {
		// Reset while playing, whatever we have to say is stale.
		s.mu.Unlock()
		return
	}
	s.playing = false
	s.stop = nil
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Int("order", order).Msg("playback failed, moving on to the next clip")
		metrics.RecordPlayback(metrics.StatusError)
	} else {
		log.Debug().Int("order", order).Msg("playback DONE")
		metrics.RecordPlayback(metrics.StatusOK)
	}
	s.onEvent(Event{Order: order, State: Done, Err: err, Generation: generation})

	s.mu.Lock()
	if generation == s.generation {
		s.scheduleLocked()
	}
	s.mu.Unlock()
}

func (s *Sequencer) emitSkipped(orders []int, generation uint64) {
	for _, order := range orders {
		log.Warn().Int("order", order).Msg("skipping order which will never arrive")
		metrics.RecordPlayback(metrics.StatusSkipped)
		s.onEvent(Event{Order: order, State: Skipped, Generation: generation})
	}
}
