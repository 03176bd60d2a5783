package transcriber

import (
	"context"
	"io"
)

// Result is either a Transcription or an Error message, never both.
type Result struct {
	Transcription string `json:"transcription,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (r Result) OK() bool {
	return r.Error == ""
}

type Transcriber interface {
	SendAudio(ctx context.Context, input io.Reader, fileExtension string, prompt string) Result
}
