package server

import (
	"github.com/petrzlen/vocode-streaming/pkg/models"
	"github.com/petrzlen/vocode-streaming/pkg/transcriber"
)

// Client -> server message types.
const (
	TypePrompt = "prompt" // Text is the user prompt
	TypeAudio  = "audio"  // Audio is a recording to transcribe and then prompt with
	TypePlayed = "played" // ClipID finished (or was stopped) in the browser
	TypeReset  = "reset"  // barge-in, drop everything of the current turn
)

// Server -> client message types.
const (
	TypeEvent         = "event"
	TypePlay          = "play"
	TypeStop          = "stop"
	TypeTranscription = "transcription"
	TypeError         = "error"
)

type ClientMessage struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Audio  []byte `json:"audio,omitempty"`
	Format string `json:"format,omitempty"`
	ClipID string `json:"clip_id,omitempty"`
}

type ServerMessage struct {
	Type          string              `json:"type"`
	Event         *models.ChunkEvent  `json:"event,omitempty"`
	ClipID        string              `json:"clip_id,omitempty"`
	Audio         []byte              `json:"audio,omitempty"`
	Format        string              `json:"format,omitempty"`
	Text          string              `json:"text,omitempty"`
	Transcription *transcriber.Result `json:"transcription,omitempty"`
	Error         string              `json:"error,omitempty"`
}
