package synthesizer

import (
	"context"
	"fmt"
	"github.com/petrzlen/vocode-streaming/pkg/models"
	"github.com/pkg/errors"
)

// ErrTextTooShort is what the provider answers (HTTP 400) for inputs below its minimum length.
// Callers treat it as a non-fatal "no audio" result.
var ErrTextTooShort = errors.New("text too short for synthesis")

type Synthesizer interface {
	CreateSpeech(ctx context.Context, text string, voice string, speed float64) (audioOutput models.AudioData, err error)
}

// ProviderError is any other non-200 answer from the synthesis provider.
type ProviderError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("received non-200 status %d from %s: %s", e.StatusCode, e.Endpoint, e.Body)
}
