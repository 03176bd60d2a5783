package models

import (
	"github.com/rs/zerolog/log"
	"time"
)

type Trace struct {
	CreatedAt time.Time
	Creator   string

	ReceivedAt time.Time

	ProcessedAt time.Time
	Processor   string
}

func NewTrace(creator string) Trace {
	return Trace{
		CreatedAt: time.Now(),
		Creator:   creator,
	}
}

func (t Trace) Log() {
	log.Trace().Time("created_at", t.CreatedAt).Str("creator", t.Creator).Time("processed_at", t.ProcessedAt).Str("processor", t.Processor).Dur("dur_to_process", t.ProcessedAt.Sub(t.CreatedAt)).Msgf("tracing")
}

// AudioData is a playable clip as returned by a synthesizer (or recorded by a microphone).
// Within the pipeline a *AudioData is the audio handle: once a chunk reaches Ready it
// carries one, and nobody mutates the bytes afterwards.
type AudioData struct {
	ByteData []byte
	Format   string // mp3, flac, wav
	Length   time.Duration
	Text     string // text representation
	Voice    string
	Trace    Trace
}

type Message struct {
	Role       string
	Content    string
	FinishedAt time.Time
}

// Conversation for the Chat API
type Conversation struct {
	StartedAt time.Time
	Messages  []Message
}

func NewConversationSimple(text string) Conversation {
	return Conversation{
		StartedAt: time.Now(),
		Messages: []Message{
			{Role: "user", Content: text, FinishedAt: time.Now()},
		},
	}
}

func (c *Conversation) Add(role string, content string) {
	c.Messages = append(c.Messages, Message{
		Role:       role,
		Content:    content,
		FinishedAt: time.Now(),
	})
}

func (c *Conversation) GetLastPrompt() string {
	if len(c.Messages) == 0 {
		return ""
	}
	return c.Messages[len(c.Messages)-1].Content
}

func (c *Conversation) DebugLog() {
	log.Debug().Msg("DUMPING FULL CONVERSATION")
	for i, message := range c.Messages {
		at := message.FinishedAt.Sub(c.StartedAt)
		log.Debug().Int("i", i).Str("role", message.Role).Dur("since_started", at).Msg(message.Content)
	}
}
