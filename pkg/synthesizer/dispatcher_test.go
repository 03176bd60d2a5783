package synthesizer

import (
	"context"
	"errors"
	"github.com/petrzlen/vocode-streaming/pkg/models"
	"github.com/petrzlen/vocode-streaming/pkg/synthesizer/mock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

const (
	longText1 = "The first sentence is long enough to be spoken."
	longText2 = "The second sentence is also long enough, I promise."
	waitFor   = 2 * time.Second
)

func await(t *testing.T, future <-chan *models.AudioData) *models.AudioData {
	t.Helper()
	select {
	case audio, ok := <-future:
		require.True(t, ok, "future closed without a value")
		return audio
	case <-time.After(waitFor):
		t.Fatal("future did not resolve")
		return nil
	}
}

func TestDispatch_Success(t *testing.T) {
	tts := mock.NewAutoComplete()
	d := NewDispatcher(tts, 28, WithSpeed(1.15))
	defer d.Close()

	audio := await(t, d.Dispatch(context.Background(), "turn-1", longText1, "echo"))

	require.NotNil(t, audio)
	assert.Equal(t, longText1, audio.Text)
	assert.Equal(t, "echo", audio.Voice)
	require.Len(t, tts.Calls(), 1)
	assert.Equal(t, 1.15, tts.Calls()[0].Speed)
}

func TestDispatch_TooShortNeverReachesProvider(t *testing.T) {
	tts := mock.NewAutoComplete()
	d := NewDispatcher(tts, 28)
	defer d.Close()

	assert.Nil(t, await(t, d.Dispatch(context.Background(), "turn-1", "Too short.", "alloy")))
	assert.Empty(t, tts.Calls())
}

func TestDispatch_ProviderErrorsResolveToNil(t *testing.T) {
	tts := mock.NewAutoComplete()
	tts.Errors = map[string]error{
		longText1: ErrTextTooShort,
		longText2: errors.New("connection reset by peer"),
	}
	d := NewDispatcher(tts, 28)
	defer d.Close()

	assert.Nil(t, await(t, d.Dispatch(context.Background(), "turn-1", longText1, "alloy")))
	assert.Nil(t, await(t, d.Dispatch(context.Background(), "turn-1", longText2, "alloy")))
}

func TestDispatch_OutOfOrderCompletion(t *testing.T) {
	tts := mock.New()
	d := NewDispatcher(tts, 28)
	defer d.Close()

	first := d.Dispatch(context.Background(), "turn-1", longText1, "alloy")
	second := d.Dispatch(context.Background(), "turn-1", longText2, "alloy")
	require.NotNil(t, tts.WaitForCalls(2, waitFor))
	assert.Equal(t, 2, d.InFlight())

	tts.CallFor(longText2).Complete()
	assert.Equal(t, longText2, await(t, second).Text)
	tts.CallFor(longText1).Complete()
	assert.Equal(t, longText1, await(t, first).Text)
}

func TestDispatch_CancelByKey(t *testing.T) {
	tts := mock.New()
	d := NewDispatcher(tts, 28)
	defer d.Close()

	stale := d.Dispatch(context.Background(), "turn-1", longText1, "alloy")
	fresh := d.Dispatch(context.Background(), "turn-2", longText2, "alloy")
	require.NotNil(t, tts.WaitForCalls(2, waitFor))

	d.Cancel("turn-1")
	assert.Nil(t, await(t, stale))

	tts.CallFor(longText2).Complete()
	assert.NotNil(t, await(t, fresh))
}

func TestDispatch_LateCompletionAfterCancelIsDropped(t *testing.T) {
	tts := mock.New()
	d := NewDispatcher(tts, 28)
	defer d.Close()

	future := d.Dispatch(context.Background(), "turn-1", longText1, "alloy")
	calls := tts.WaitForCalls(1, waitFor)
	require.NotNil(t, calls)

	d.CancelAll()
	calls[0].Complete()
	assert.Nil(t, await(t, future))
}

func TestDispatch_MaxInFlight(t *testing.T) {
	tts := mock.New()
	d := NewDispatcher(tts, 28, WithMaxInFlight(1))
	defer d.Close()

	first := d.Dispatch(context.Background(), "turn-1", longText1, "alloy")
	second := d.Dispatch(context.Background(), "turn-1", longText2, "alloy")

	calls := tts.WaitForCalls(1, waitFor)
	require.Len(t, calls, 1)
	assert.Nil(t, tts.WaitForCalls(2, 50*time.Millisecond), "second call must wait for a slot")

	calls[0].Complete()
	assert.NotNil(t, await(t, first))

	calls = tts.WaitForCalls(2, waitFor)
	require.Len(t, calls, 2)
	calls[1].Complete()
	assert.NotNil(t, await(t, second))
}

func TestDispatch_AfterCloseResolvesNil(t *testing.T) {
	tts := mock.NewAutoComplete()
	d := NewDispatcher(tts, 28)
	d.Close()

	assert.Nil(t, await(t, d.Dispatch(context.Background(), "turn-1", longText1, "alloy")))
	assert.Empty(t, tts.Calls())
}

func TestDispatch_DebugDump(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := NewDispatcher(mock.NewAutoComplete(), 28, WithDebugFs(fs))
	defer d.Close()

	require.NotNil(t, await(t, d.Dispatch(context.Background(), "turn-1", longText1, "alloy")))

	dumped, err := afero.ReadFile(fs, "tts-turn-1-1.mp3")
	require.NoError(t, err)
	assert.Equal(t, []byte(longText1), dumped)
}
