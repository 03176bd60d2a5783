package server

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/google/uuid"
	"github.com/petrzlen/vocode-streaming/pkg/agent"
	"github.com/petrzlen/vocode-streaming/pkg/coordinator"
	"github.com/petrzlen/vocode-streaming/pkg/models"
	"github.com/petrzlen/vocode-streaming/pkg/synthesizer"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"sync"
)

// session is one websocket client: its own conversation, coordinator and playback.
// It implements networking.WebsocketMessageHandler.
type session struct {
	id     string
	deps   *Deps
	log    zerolog.Logger
	reader chan []byte
	writer chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // transcriptions

	mu     sync.Mutex // guards writer against close
	closed bool

	player      *remotePlayer
	coordinator *coordinator.Coordinator

	promptMu     sync.Mutex
	conversation models.Conversation
	promptCancel context.CancelFunc
	promptDone   chan struct{}
}

func newSession(deps *Deps, dispatcherOpts []synthesizer.DispatcherOption) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:     uuid.NewString(),
		deps:   deps,
		reader: make(chan []byte),
		writer: make(chan []byte, 256),
		ctx:    ctx,
		cancel: cancel,
	}
	s.log = deps.Logger.With().Str("session_id", s.id).Logger()
	s.player = newRemotePlayer(s.send, deps.AckTimeout)

	cfg := deps.Config
	dispatcher := synthesizer.NewDispatcher(deps.TTS, cfg.Speech.LastResortFloor, dispatcherOpts...)
	s.coordinator = coordinator.New(cfg.Coordinator(), dispatcher, s.player, coordinator.WithEventHook(s.onEvent))

	s.log.Info().Msg("session started")
	go s.run()
	return s
}

func (s *session) GetReader() chan<- []byte {
	return s.reader
}

func (s *session) GetWriter() <-chan []byte {
	return s.writer
}

func (s *session) run() {
	for msg := range s.reader {
		s.handle(msg)
	}
	s.close()
}

func (s *session) handle(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError(errors.Wrap(err, "invalid message"))
		return
	}

	switch msg.Type {
	case TypePrompt:
		s.startPrompt(msg.Text)
	case TypeAudio:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.transcribeAndPrompt(msg.Audio, msg.Format)
		}()
	case TypePlayed:
		if !s.player.Ack(msg.ClipID) {
			s.log.Debug().Str("clip_id", msg.ClipID).Msg("played ack for a clip no longer playing")
		}
	case TypeReset:
		s.log.Info().Msg("client reset, dropping the current turn")
		s.promptMu.Lock()
		s.stopPromptLocked()
		s.promptMu.Unlock()
		s.coordinator.ResetAllState()
	default:
		s.sendError(errors.Errorf("unknown message type %q", msg.Type))
	}
}

func (s *session) transcribeAndPrompt(audio []byte, format string) {
	if format == "" {
		format = "wav"
	}
	result := s.deps.Transcriber.SendAudio(s.ctx, bytes.NewReader(audio), format, "")
	s.send(ServerMessage{Type: TypeTranscription, Transcription: &result})
	if !result.OK() || result.Transcription == "" {
		return
	}
	s.startPrompt(result.Transcription)
}

// startPrompt interrupts whatever the previous prompt still streams and runs a new one.
// The agent's TurnStarted makes the coordinator drop the previous turn's audio.
func (s *session) startPrompt(text string) {
	if text == "" {
		s.sendError(errors.New("empty prompt"))
		return
	}

	s.promptMu.Lock()
	defer s.promptMu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	s.stopPromptLocked()

	s.conversation.Add("user", text)
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.promptCancel = cancel
	s.promptDone = done

	go func() {
		defer close(done)
		events := make(chan agent.StreamEvent, 64)
		// No shared cancel: a stream broken mid-way still gets spoken up to where it broke.
		var g errgroup.Group
		g.Go(func() error {
			defer close(events)
			return s.deps.Agent.RunPrompt(ctx, s.deps.Quality, &s.conversation, events)
		})
		g.Go(func() error {
			return s.coordinator.Consume(ctx, events)
		})
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, coordinator.ErrClosed) {
			s.log.Error().Err(err).Msg("prompt failed")
			s.sendError(err)
		}
	}()
}

func (s *session) stopPromptLocked() {
	if s.promptCancel == nil {
		return
	}
	s.promptCancel()
	<-s.promptDone
	s.promptCancel = nil
	s.promptDone = nil
}

func (s *session) onEvent(event models.ChunkEvent) {
	s.send(ServerMessage{Type: TypeEvent, Event: &event})
}

func (s *session) sendError(err error) {
	s.send(ServerMessage{Type: TypeError, Error: err.Error()})
}

// send returns false once the session is closing.
func (s *session) send(msg ServerMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Str("type", msg.Type).Msg("cannot marshal message")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.writer <- data:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *session) close() {
	s.cancel()
	s.promptMu.Lock()
	s.stopPromptLocked()
	s.promptMu.Unlock()
	s.wg.Wait()
	if err := s.coordinator.Close(); err != nil {
		s.log.Debug().Err(err).Msg("coordinator close")
	}

	s.mu.Lock()
	s.closed = true
	close(s.writer)
	s.mu.Unlock()
	s.conversation.DebugLog()
	s.log.Info().Msg("session closed")
}
