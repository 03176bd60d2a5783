package synthesizer

import (
	"context"
	"fmt"
	"github.com/petrzlen/vocode-streaming/pkg/metrics"
	"github.com/petrzlen/vocode-streaming/pkg/models"
	"github.com/petrzlen/vocode-streaming/pkg/segmenter"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"
	"sync"
	"time"
)

const DefaultMaxInFlight = 4

// Dispatcher fans out speakable units to the Synthesizer, each call in its own goroutine.
// Dispatch never fails loudly: too short text, provider errors and cancellations
// all resolve to a nil handle and a log line, so one bad unit cannot abort a turn.
//
// The only shared state between calls is the cancellation registry (and the semaphore).
type Dispatcher struct {
	tts       Synthesizer
	minLength int
	speed     float64
	sem       *semaphore.Weighted
	debugFs   afero.Fs

	mu       sync.Mutex
	inFlight map[string]map[uint64]context.CancelFunc // key (usually turn id) -> call id -> cancel
	nextID   uint64
	closed   bool
	wg       sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

// WithMaxInFlight bounds concurrent provider calls, extra dispatches wait their turn.
func WithMaxInFlight(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

func WithSpeed(speed float64) DispatcherOption {
	return func(d *Dispatcher) { d.speed = speed }
}

// WithDebugFs dumps every synthesized clip into fs, handy when debugging choppy output.
func WithDebugFs(fs afero.Fs) DispatcherOption {
	return func(d *Dispatcher) { d.debugFs = fs }
}

func NewDispatcher(tts Synthesizer, minLength int, opts ...DispatcherOption) *Dispatcher {
	if minLength <= 0 {
		minLength = segmenter.DefaultMinLength
	}
	d := &Dispatcher{
		tts:       tts,
		minLength: minLength,
		speed:     1.0,
		sem:       semaphore.NewWeighted(DefaultMaxInFlight),
		inFlight:  make(map[string]map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch starts synthesis of text and returns a future: the channel receives exactly one
// value, the clip or nil on any failure, and is then closed.
// Cancel(key) aborts all calls dispatched with key; aborted calls resolve to nil.
func (d *Dispatcher) Dispatch(ctx context.Context, key string, text string, voice string) <-chan *models.AudioData {
	result := make(chan *models.AudioData, 1)

	if n := segmenter.TextLength(text); n < d.minLength {
		// The segmenter should never let this happen, the provider would answer 400 anyway.
		log.Warn().Str("key", key).Int("length", n).Int("min_length", d.minLength).Str("text", text).Msg("refusing to dispatch too short text")
		metrics.RecordSynthesis(metrics.StatusTooShort, 0)
		resolve(result, nil)
		return result
	}

	callCtx, callID, ok := d.register(ctx, key)
	if !ok {
		log.Debug().Str("key", key).Msg("dispatcher closed, not dispatching")
		resolve(result, nil)
		return result
	}

	go func() {
		defer d.wg.Done()
		defer d.unregister(key, callID)
		resolve(result, d.synthesize(callCtx, key, callID, text, voice))
	}()
	return result
}

func (d *Dispatcher) synthesize(ctx context.Context, key string, callID uint64, text string, voice string) *models.AudioData {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		log.Debug().Str("key", key).Uint64("call_id", callID).Msg("synthesis canceled while waiting for a slot")
		metrics.RecordSynthesis(metrics.StatusCanceled, 0)
		return nil
	}
	defer d.sem.Release(1)

	metrics.SynthesisStarted()
	defer metrics.SynthesisFinished()

	startTime := time.Now()
	audioOutput, err := d.tts.CreateSpeech(ctx, text, voice, d.speed)
	elapsed := time.Since(startTime)

	if ctx.Err() != nil {
		log.Debug().Str("key", key).Uint64("call_id", callID).Dur("elapsed", elapsed).Msg("synthesis aborted, dropping result")
		metrics.RecordSynthesis(metrics.StatusCanceled, elapsed)
		return nil
	}
	if err != nil {
		if errors.Is(err, ErrTextTooShort) {
			log.Warn().Err(err).Str("key", key).Str("text", text).Msg("provider rejected text as too short")
			metrics.RecordSynthesis(metrics.StatusTooShort, elapsed)
		} else {
			log.Error().Err(err).Str("key", key).Str("text", text).Msg("synthesis failed, skipping unit")
			metrics.RecordSynthesis(metrics.StatusError, elapsed)
		}
		return nil
	}

	metrics.RecordSynthesis(metrics.StatusOK, elapsed)
	log.Debug().Str("key", key).Uint64("call_id", callID).Dur("elapsed", elapsed).Int("byte_size", len(audioOutput.ByteData)).Msg("synthesis done")
	d.dump(key, callID, audioOutput)
	return &audioOutput
}

func (d *Dispatcher) dump(key string, callID uint64, audioOutput models.AudioData) {
	if d.debugFs == nil {
		return
	}
	filename := fmt.Sprintf("tts-%s-%d.%s", key, callID, audioOutput.Format)
	dbg(afero.WriteFile(d.debugFs, filename, audioOutput.ByteData, 0644))
}

func (d *Dispatcher) register(ctx context.Context, key string) (callCtx context.Context, callID uint64, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, 0, false
	}

	callCtx, cancel := context.WithCancel(ctx)
	d.nextID++
	callID = d.nextID
	calls, exists := d.inFlight[key]
	if !exists {
		calls = make(map[uint64]context.CancelFunc)
		d.inFlight[key] = calls
	}
	calls[callID] = cancel
	d.wg.Add(1)
	return callCtx, callID, true
}

func (d *Dispatcher) unregister(key string, callID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	calls, exists := d.inFlight[key]
	if !exists {
		return
	}
	if cancel, ok := calls[callID]; ok {
		cancel()
		delete(calls, callID)
	}
	if len(calls) == 0 {
		delete(d.inFlight, key)
	}
}

// Cancel aborts every in-flight call dispatched under key.
func (d *Dispatcher) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cancel := range d.inFlight[key] {
		cancel()
	}
	delete(d.inFlight, key)
}

func (d *Dispatcher) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelAllLocked()
}

func (d *Dispatcher) cancelAllLocked() {
	for key, calls := range d.inFlight {
		for _, cancel := range calls {
			cancel()
		}
		delete(d.inFlight, key)
	}
}

// InFlight counts calls that neither finished nor got canceled.
func (d *Dispatcher) InFlight() (count int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, calls := range d.inFlight {
		count += len(calls)
	}
	return
}

// Close cancels everything and waits until all goroutines resolved their futures.
// Later dispatches resolve to nil right away.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.cancelAllLocked()
	d.mu.Unlock()

	d.wg.Wait()
}

func resolve(result chan<- *models.AudioData, audio *models.AudioData) {
	result <- audio
	close(result)
}
