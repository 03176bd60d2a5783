// Package mock provides a controllable synthesizer.Synthesizer for tests.
//
// By default every CreateSpeech call blocks until the test resolves it with
// Call.Complete or Call.Fail (or until its context is canceled), so tests can finish
// synthesis in any order they like. With AutoComplete set calls return right away.
package mock

import (
	"context"
	"github.com/petrzlen/vocode-streaming/pkg/models"
	"sync"
	"time"
)

// Call is a single CreateSpeech invocation.
type Call struct {
	Text  string
	Voice string
	Speed float64
	Ctx   context.Context

	done chan callResult
	once sync.Once
}

type callResult struct {
	audio models.AudioData
	err   error
}

// Complete resolves the call with fake audio whose bytes are the text itself.
func (c *Call) Complete() {
	c.resolve(callResult{audio: fakeAudio(c.Text, c.Voice)})
}

func (c *Call) Fail(err error) {
	c.resolve(callResult{err: err})
}

func (c *Call) resolve(r callResult) {
	c.once.Do(func() {
		c.done <- r
	})
}

type Synthesizer struct {
	// AutoComplete makes every call return fake audio immediately.
	AutoComplete bool
	// Errors, keyed by text, are returned instead of audio (also in AutoComplete mode).
	Errors map[string]error

	mu     sync.Mutex
	calls  []*Call
	notify chan struct{}
}

func New() *Synthesizer {
	return &Synthesizer{notify: make(chan struct{}, 1)}
}

func NewAutoComplete() *Synthesizer {
	s := New()
	s.AutoComplete = true
	return s
}

func (s *Synthesizer) CreateSpeech(ctx context.Context, text string, voice string, speed float64) (models.AudioData, error) {
	call := &Call{Text: text, Voice: voice, Speed: speed, Ctx: ctx, done: make(chan callResult, 1)}

	s.mu.Lock()
	s.calls = append(s.calls, call)
	err := s.Errors[text]
	auto := s.AutoComplete
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}

	if err != nil {
		return models.AudioData{}, err
	}
	if auto {
		return fakeAudio(text, voice), nil
	}

	select {
	case r := <-call.done:
		return r.audio, r.err
	case <-ctx.Done():
		return models.AudioData{}, ctx.Err()
	}
}

// Calls returns a snapshot of all invocations so far, in arrival order.
func (s *Synthesizer) Calls() []*Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*Call, len(s.calls))
	copy(result, s.calls)
	return result
}

// Texts returns the text of every invocation so far, in arrival order.
func (s *Synthesizer) Texts() []string {
	calls := s.Calls()
	texts := make([]string, len(calls))
	for i, call := range calls {
		texts[i] = call.Text
	}
	return texts
}

// WaitForCalls blocks until at least n calls arrived, returns nil on timeout.
func (s *Synthesizer) WaitForCalls(n int, timeout time.Duration) []*Call {
	deadline := time.After(timeout)
	for {
		if calls := s.Calls(); len(calls) >= n {
			return calls
		}
		select {
		case <-s.notify:
		case <-deadline:
			return nil
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// CallFor returns the latest call with the given text, nil if none.
func (s *Synthesizer) CallFor(text string) *Call {
	calls := s.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Text == text {
			return calls[i]
		}
	}
	return nil
}

func fakeAudio(text string, voice string) models.AudioData {
	return models.AudioData{
		ByteData: []byte(text),
		Format:   "mp3",
		Text:     text,
		Voice:    voice,
		Trace:    models.NewTrace("mock_tts"),
	}
}
