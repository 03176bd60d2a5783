// Package coordinator drives one conversation's speech output: it feeds the chat
// completion stream into the segmenter, fans the speakable units out to synthesis,
// and hands the results to the playback sequencer tagged with their order.
//
// Turn lifecycle: Idle -> Active (first delta) -> Draining (stream ended) -> Idle
// (everything dispatched got a terminal status and nothing is left to play).
package coordinator

import (
	"context"
	"github.com/google/uuid"
	"github.com/petrzlen/vocode-streaming/pkg/agent"
	"github.com/petrzlen/vocode-streaming/pkg/metrics"
	"github.com/petrzlen/vocode-streaming/pkg/models"
	"github.com/petrzlen/vocode-streaming/pkg/playback"
	"github.com/petrzlen/vocode-streaming/pkg/segmenter"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"strings"
	"sync"
	"time"
)

var ErrClosed = errors.New("coordinator closed")

const (
	DefaultStallTimeout    = 1200 * time.Millisecond
	DefaultLastResortFloor = 10
)

// Dispatcher is the part of synthesizer.Dispatcher the coordinator needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, key string, text string, voice string) <-chan *models.AudioData
	Cancel(key string)
	CancelAll()
	Close()
}

type Config struct {
	MinUnitLength   int
	NoiseFloor      int
	LastResortFloor int // end of turn remainders shorter than this are dropped if they cannot be merged
	StallTimeout    time.Duration
	Voice           string
	// SkipFailedChunks lets playback move past a chunk whose synthesis failed.
	// Off by default, playback then waits at that order until the next turn.
	SkipFailedChunks bool
}

func DefaultConfig() Config {
	return Config{
		MinUnitLength:   segmenter.DefaultMinLength,
		NoiseFloor:      segmenter.DefaultNoiseFloor,
		LastResortFloor: DefaultLastResortFloor,
		StallTimeout:    DefaultStallTimeout,
		Voice:           "alloy",
	}
}

type Option func(*Coordinator)

// WithEventHook registers the UI callback. Calls are serialized and in order, the hook
// must not block for long nor call back into the Coordinator.
func WithEventHook(hook func(models.ChunkEvent)) Option {
	return func(c *Coordinator) {
		if hook != nil {
			c.hook = hook
		}
	}
}

// WithVoiceSource is consulted once at the start of every turn.
func WithVoiceSource(voice func() string) Option {
	return func(c *Coordinator) { c.voice = voice }
}

type Coordinator struct {
	cfg        Config
	dispatcher Dispatcher
	sequencer  *playback.Sequencer
	voice      func() string
	hook       func(models.ChunkEvent)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	turn   *turn // nil until the first turn
	outbox []models.ChunkEvent
	closed bool

	hookMu sync.Mutex
}

// New takes ownership of dispatcher; Close closes it.
func New(cfg Config, dispatcher Dispatcher, player playback.Player, opts ...Option) *Coordinator {
	if cfg.MinUnitLength <= 0 {
		cfg.MinUnitLength = segmenter.DefaultMinLength
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:        cfg,
		dispatcher: dispatcher,
		ctx:        ctx,
		cancel:     cancel,
		hook:       func(models.ChunkEvent) {},
	}
	c.voice = func() string { return c.cfg.Voice }
	for _, opt := range opts {
		opt(c)
	}
	c.sequencer = playback.NewSequencer(player, c.onPlayback)
	return c
}

// StartTurn tears down whatever the previous turn left behind (in-flight synthesis,
// queued and playing clips) and starts a fresh one with the voice locked.
func (c *Coordinator) StartTurn() (turnID string, err error) {
	turnID = uuid.NewString()
	err = c.startTurn(turnID)
	return
}

func (c *Coordinator) startTurn(turnID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	events := c.startTurnLocked(turnID)
	c.outbox = append(c.outbox, events...)
	c.mu.Unlock()

	c.flush()
	return nil
}

func (c *Coordinator) startTurnLocked(turnID string) []models.ChunkEvent {
	c.teardownLocked()
	c.sequencer.Reset()

	t := newTurn(turnID, c.voice(), segmenter.New(c.cfg.MinUnitLength, c.cfg.NoiseFloor), c.sequencer.Generation())
	c.turn = t
	metrics.RecordTurn()
	log.Info().Str("turn_id", t.id).Str("voice", t.voice).Msg("turn started")
	return []models.ChunkEvent{c.turnStateEventLocked()}
}

// teardownLocked cancels the synthesis calls of the current turn, their late results
// are dropped by the turn id check in onSynthesized.
func (c *Coordinator) teardownLocked() {
	t := c.turn
	if t == nil {
		return
	}
	t.stopStallTimer()
	for _, chunk := range t.chunks {
		if !chunk.Terminal() {
			c.dispatcher.Cancel(dispatchKey(t.id, chunk.Order))
		}
	}
	if t.state != models.TurnIdle {
		log.Debug().Str("turn_id", t.id).Str("state", t.state.String()).Int("chunks", len(t.chunks)).Msg("abandoning unfinished turn")
	}
}

// FeedText segments delta and dispatches every completed unit right away.
// Text arriving while no turn is Active starts a new turn.
func (c *Coordinator) FeedText(delta string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	var events []models.ChunkEvent
	if c.turn == nil || c.turn.state != models.TurnActive {
		events = append(events, c.startTurnLocked(uuid.NewString())...)
	}
	t := c.turn

	for _, unit := range t.seg.Extend(delta) {
		events = append(events, c.dispatchNewLocked(t, unit, "dispatched"))
	}
	c.armStallTimerLocked(t)
	c.outbox = append(c.outbox, events...)
	c.mu.Unlock()

	c.flush()
	return nil
}

func (c *Coordinator) armStallTimerLocked(t *turn) {
	t.stopStallTimer()
	if c.cfg.StallTimeout <= 0 {
		return
	}
	tick := t.stallTick
	turnID := t.id
	t.stall = time.AfterFunc(c.cfg.StallTimeout, func() {
		c.onStall(turnID, tick)
	})
}

// onStall force-flushes the buffered text when the stream went quiet mid-turn.
func (c *Coordinator) onStall(turnID string, tick uint64) {
	c.mu.Lock()
	t := c.turn
	if c.closed || t == nil || t.id != turnID || t.stallTick != tick || t.state != models.TurnActive {
		c.mu.Unlock()
		return
	}
	t.stall = nil

	var events []models.ChunkEvent
	remainder := t.seg.Remainder()
	if n := segmenter.TextLength(remainder); n >= c.cfg.MinUnitLength {
		log.Debug().Str("turn_id", t.id).Int("length", n).Dur("stall_timeout", c.cfg.StallTimeout).Msg("stream stalled, flushing buffer")
		events = append(events, c.dispatchNewLocked(t, t.seg.Flush(), "stall_flush"))
	}
	c.outbox = append(c.outbox, events...)
	c.mu.Unlock()

	c.flush()
}

// EndTurn is called when the upstream stream completed. The remaining text is
// dispatched, merged into the previous chunk, or (if tiny) dropped.
func (c *Coordinator) EndTurn() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	t := c.turn
	if t == nil || t.state != models.TurnActive {
		c.mu.Unlock()
		log.Debug().Msg("EndTurn without an active turn, ignoring")
		return nil
	}
	t.stopStallTimer()
	t.state = models.TurnDraining
	events := []models.ChunkEvent{c.turnStateEventLocked()}

	remainder := t.seg.Flush()
	n := segmenter.TextLength(remainder)
	switch {
	case n == 0:
	case n >= c.cfg.MinUnitLength:
		events = append(events, c.dispatchNewLocked(t, remainder, "dispatched"))
	default:
		if prev := t.last(); prev != nil && c.claimForMergeLocked(prev) {
			events = append(events, c.mergeLocked(t, prev, remainder))
		} else if n >= c.cfg.LastResortFloor {
			log.Debug().Str("turn_id", t.id).Str("text", remainder).Msg("nothing to merge the remainder into, dispatching it standalone")
			events = append(events, c.dispatchNewLocked(t, remainder, "last_resort"))
		} else {
			log.Debug().Str("turn_id", t.id).Str("text", remainder).Msg("discarding tiny remainder")
			metrics.RecordUnit("discarded")
		}
	}
	events = append(events, c.maybeIdleLocked()...)
	c.outbox = append(c.outbox, events...)
	c.mu.Unlock()

	c.flush()
	return nil
}

// claimForMergeLocked reports whether chunk can still be changed, i.e. it was not
// released for playback yet. A queued clip is evicted here so it cannot be released anymore.
func (c *Coordinator) claimForMergeLocked(chunk *models.ChunkRecord) bool {
	if chunk.Released || chunk.Order < c.sequencer.NextExpected() {
		return false
	}
	if chunk.Status == models.ChunkReady {
		return c.sequencer.Evict(chunk.Order)
	}
	return true
}

func (c *Coordinator) mergeLocked(t *turn, chunk *models.ChunkRecord, remainder string) models.ChunkEvent {
	c.dispatcher.Cancel(dispatchKey(t.id, chunk.Order))

	chunk.Text = strings.TrimSpace(chunk.Text + " " + remainder)
	chunk.Revision++
	chunk.Status = models.ChunkPending
	chunk.Handle = nil
	chunk.DispatchedAt = time.Now()
	metrics.RecordUnit("merged")
	log.Debug().Str("turn_id", t.id).Int("order", chunk.Order).Int("revision", chunk.Revision).Str("text", chunk.Text).Msg("merged remainder into previous chunk, re-dispatching")

	c.dispatchLocked(t, chunk)
	return c.chunkEventLocked(models.EventChunkMerged, t, chunk)
}

func (c *Coordinator) dispatchNewLocked(t *turn, text string, action string) models.ChunkEvent {
	chunk := models.NewChunkRecord(text, t.nextOrder())
	t.chunks = append(t.chunks, chunk)
	metrics.RecordUnit(action)
	log.Debug().Str("turn_id", t.id).Int("order", chunk.Order).Str("action", action).Str("text", text).Msg("dispatching unit")

	c.dispatchLocked(t, chunk)
	return c.chunkEventLocked(models.EventChunkDispatched, t, chunk)
}

func (c *Coordinator) dispatchLocked(t *turn, chunk *models.ChunkRecord) {
	future := c.dispatcher.Dispatch(c.ctx, dispatchKey(t.id, chunk.Order), chunk.Text, t.voice)
	turnID, order, revision := t.id, chunk.Order, chunk.Revision

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.onSynthesized(turnID, order, revision, <-future)
	}()
}

// onSynthesized moves the chunk to Ready or Failed, unless the result is stale
// (another turn by now, or the chunk got re-dispatched after a merge).
func (c *Coordinator) onSynthesized(turnID string, order int, revision int, audio *models.AudioData) {
	c.mu.Lock()
	t := c.turn
	if c.closed || t == nil || t.id != turnID {
		c.mu.Unlock()
		log.Debug().Str("turn_id", turnID).Int("order", order).Msg("dropping synthesis result of a stale turn")
		return
	}
	chunk := t.chunk(order)
	if chunk == nil || chunk.Revision != revision {
		c.mu.Unlock()
		log.Debug().Str("turn_id", turnID).Int("order", order).Int("revision", revision).Msg("dropping superseded synthesis result")
		return
	}

	var events []models.ChunkEvent
	if audio == nil {
		chunk.Status = models.ChunkFailed
		log.Warn().Str("turn_id", t.id).Int("order", order).Str("text", chunk.Text).Msg("no audio for chunk")
		if c.cfg.SkipFailedChunks {
			c.sequencer.Skip(order)
		}
		events = append(events, c.chunkEventLocked(models.EventChunkFailed, t, chunk))
	} else {
		chunk.Status = models.ChunkReady
		chunk.Handle = audio
		if !c.sequencer.Enqueue(order, audio) {
			log.Warn().Str("turn_id", t.id).Int("order", order).Msg("sequencer refused clip")
		}
		events = append(events, c.chunkEventLocked(models.EventChunkReady, t, chunk))
	}
	events = append(events, c.maybeIdleLocked()...)
	c.outbox = append(c.outbox, events...)
	c.mu.Unlock()

	c.flush()
}

// onPlayback is the sequencer callback.
func (c *Coordinator) onPlayback(event playback.Event) {
	if event.State == playback.Evicted {
		// Only ever caused by claimForMergeLocked, which runs with c.mu held.
		return
	}

	c.mu.Lock()
	t := c.turn
	if t == nil || event.Generation != t.generation {
		c.mu.Unlock()
		return
	}
	chunk := t.chunk(event.Order)
	if chunk == nil {
		c.mu.Unlock()
		return
	}

	var events []models.ChunkEvent
	switch event.State {
	case playback.Playing:
		chunk.Released = true
		events = append(events, c.chunkEventLocked(models.EventChunkPlaying, t, chunk))
	case playback.Done, playback.Skipped:
		chunk.Released = true
		e := c.chunkEventLocked(models.EventChunkPlayed, t, chunk)
		if event.State == playback.Skipped {
			e.Status = playback.Skipped.String()
		} else if event.Err != nil {
			e.Status = "error"
		}
		events = append(events, e)
	}
	events = append(events, c.maybeIdleLocked()...)
	c.outbox = append(c.outbox, events...)
	c.mu.Unlock()

	c.flush()
}

// maybeIdleLocked finishes a draining turn once nothing is pending, queued or playing.
func (c *Coordinator) maybeIdleLocked() []models.ChunkEvent {
	t := c.turn
	if t == nil || t.state != models.TurnDraining {
		return nil
	}
	if !t.allTerminal() || c.sequencer.Busy() {
		return nil
	}
	t.state = models.TurnIdle
	log.Info().Str("turn_id", t.id).Int("chunks", len(t.chunks)).Msg("turn finished")
	return []models.ChunkEvent{c.turnStateEventLocked()}
}

// ResetAllState cancels everything in flight, stops playback and goes Idle.
func (c *Coordinator) ResetAllState() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.dispatcher.CancelAll()
	c.sequencer.Reset()
	c.turn = nil
	c.outbox = append(c.outbox, models.ChunkEvent{Kind: models.EventTurnState, TurnState: models.TurnIdle.String()})
	c.mu.Unlock()

	c.flush()
}

// Busy is true while any unit is pending synthesis, queued or playing.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busyLocked()
}

func (c *Coordinator) busyLocked() bool {
	if c.closed {
		return false
	}
	return (c.turn != nil && c.turn.anyPending()) || c.sequencer.Busy()
}

func (c *Coordinator) TurnState() models.TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn == nil {
		return models.TurnIdle
	}
	return c.turn.state
}

// Chunks returns copies of the current turn's chunk records, ordered.
func (c *Coordinator) Chunks() []models.ChunkRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn == nil {
		return nil
	}
	result := make([]models.ChunkRecord, len(c.turn.chunks))
	for i, chunk := range c.turn.chunks {
		result[i] = *chunk
	}
	return result
}

// Consume drives the coordinator from a chat agent stream until events is closed or ctx is done.
func (c *Coordinator) Consume(ctx context.Context, events <-chan agent.StreamEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return c.EndTurn()
			}
			var err error
			switch e := event.(type) {
			case agent.TurnStarted:
				err = c.startTurn(e.TurnID)
			case agent.TextDelta:
				err = c.FeedText(e.Text)
			case agent.TurnCompleted:
				if e.Err != nil {
					log.Warn().Err(e.Err).Msg("chat stream ended with an error, speaking what we got")
				}
				err = c.EndTurn()
			default:
				log.Warn().Msgf("unknown stream event %T", event)
			}
			if err != nil {
				return err
			}
		}
	}
}

// Close cancels all synthesis, stops playback and waits for the background goroutines.
// Every later call returns ErrClosed.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.teardownLocked()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.dispatcher.Close()
	c.sequencer.Close()
	c.wg.Wait()
	return nil
}

func (c *Coordinator) chunkEventLocked(kind models.ChunkEventKind, t *turn, chunk *models.ChunkRecord) models.ChunkEvent {
	return models.ChunkEvent{
		Kind:       kind,
		TurnID:     t.id,
		Order:      chunk.Order,
		Status:     chunk.Status.String(),
		AudioReady: chunk.Handle != nil,
		Text:       chunk.Text,
		Busy:       c.busyLocked(),
	}
}

func (c *Coordinator) turnStateEventLocked() models.ChunkEvent {
	return models.ChunkEvent{
		Kind:      models.EventTurnState,
		TurnID:    c.turn.id,
		TurnState: c.turn.state.String(),
		Busy:      c.busyLocked(),
	}
}

// flush delivers queued events in the order they were produced under c.mu.
func (c *Coordinator) flush() {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	for {
		c.mu.Lock()
		events := c.outbox
		c.outbox = nil
		c.mu.Unlock()
		if len(events) == 0 {
			return
		}
		for _, event := range events {
			c.hook(event)
		}
	}
}
