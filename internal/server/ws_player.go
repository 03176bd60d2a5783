package server

import (
	"context"
	"github.com/google/uuid"
	"github.com/petrzlen/vocode-streaming/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"sync"
	"time"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrAckTimeout    = errors.New("client did not acknowledge the clip")
)

// remotePlayer plays clips in the browser: it ships the audio over the websocket and
// blocks until the client reports the clip as played. Stopping sends TypeStop.
type remotePlayer struct {
	send       func(ServerMessage) bool
	ackTimeout time.Duration

	mu      sync.Mutex
	pending map[string]chan struct{}
}

func newRemotePlayer(send func(ServerMessage) bool, ackTimeout time.Duration) *remotePlayer {
	return &remotePlayer{
		send:       send,
		ackTimeout: ackTimeout,
		pending:    make(map[string]chan struct{}),
	}
}

func (p *remotePlayer) Play(ctx context.Context, clip *models.AudioData) error {
	clipID := uuid.NewString()
	acked := make(chan struct{})
	p.mu.Lock()
	p.pending[clipID] = acked
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, clipID)
		p.mu.Unlock()
	}()

	if !p.send(ServerMessage{Type: TypePlay, ClipID: clipID, Audio: clip.ByteData, Format: clip.Format, Text: clip.Text}) {
		return ErrSessionClosed
	}

	timeout := time.NewTimer(p.ackTimeout)
	defer timeout.Stop()
	select {
	case <-acked:
		return nil
	case <-ctx.Done():
		p.send(ServerMessage{Type: TypeStop, ClipID: clipID})
		return ctx.Err()
	case <-timeout.C:
		log.Warn().Str("clip_id", clipID).Dur("timeout", p.ackTimeout).Msg("no played ack from the client")
		return ErrAckTimeout
	}
}

// Ack returns false for unknown (already finished) clips.
func (p *remotePlayer) Ack(clipID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	acked, ok := p.pending[clipID]
	if !ok {
		return false
	}
	delete(p.pending, clipID)
	close(acked)
	return true
}
