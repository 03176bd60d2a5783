package agent

import (
	"context"
	"github.com/petrzlen/vocode-streaming/pkg/models"
)

type ModelQuality int

const (
	FastAndCheap ModelQuality = iota
	SlowerAndSmarter
)

func (m ModelQuality) String() string {
	names := [...]string{
		"FastAndCheap",
		"SlowerAndSmarter",
	}

	if m < FastAndCheap || m > SlowerAndSmarter {
		return "Unknown"
	}

	return names[m]
}

// StreamEvent is one of TurnStarted, TextDelta, TurnCompleted.
// The agent resolves whatever shape the provider sends into these, consumers never
// have to dig text out of provider specific messages.
type StreamEvent interface {
	isStreamEvent()
}

// TurnStarted is sent once, before the first TextDelta of an assistant response.
type TurnStarted struct {
	TurnID string
}

type TextDelta struct {
	Text string
}

// TurnCompleted is always the last event of a turn, Err is set when the stream broke mid-way.
type TurnCompleted struct {
	Text string // full assistant response
	Err  error
}

func (TurnStarted) isStreamEvent()   {}
func (TextDelta) isStreamEvent()     {}
func (TurnCompleted) isStreamEvent() {}

// ChatAgent streams the assistant answer to conversation into outputChan.
// RunPrompt does NOT close outputChan so one channel can carry several turns.
type ChatAgent interface {
	RunPrompt(ctx context.Context, modelQuality ModelQuality, conversation *models.Conversation, outputChan chan<- StreamEvent) error
}
