package server

import (
	"context"
	"encoding/json"
	"github.com/gorilla/websocket"
	"github.com/petrzlen/vocode-streaming/internal/config"
	"github.com/petrzlen/vocode-streaming/pkg/agent"
	"github.com/petrzlen/vocode-streaming/pkg/models"
	"github.com/petrzlen/vocode-streaming/pkg/synthesizer/mock"
	"github.com/petrzlen/vocode-streaming/pkg/transcriber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	sentence1 = "Hello there, this is the first sentence."
	sentence2 = "And this one is the second sentence."
)

// scriptedAgent answers every prompt with the same deltas.
type scriptedAgent struct {
	deltas []string

	mu      sync.Mutex
	prompts []string
}

func (a *scriptedAgent) RunPrompt(ctx context.Context, _ agent.ModelQuality, conversation *models.Conversation, outputChan chan<- agent.StreamEvent) error {
	a.mu.Lock()
	a.prompts = append(a.prompts, conversation.GetLastPrompt())
	a.mu.Unlock()

	send := func(event agent.StreamEvent) error {
		select {
		case outputChan <- event:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := send(agent.TurnStarted{TurnID: "turn-1"}); err != nil {
		return err
	}
	for _, delta := range a.deltas {
		if err := send(agent.TextDelta{Text: delta}); err != nil {
			return err
		}
	}
	full := strings.Join(a.deltas, "")
	conversation.Add("assistant", full)
	return send(agent.TurnCompleted{Text: full})
}

func (a *scriptedAgent) Prompts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.prompts...)
}

type fakeTranscriber struct {
	result transcriber.Result
}

func (f fakeTranscriber) SendAudio(_ context.Context, input io.Reader, fileExtension string, _ string) transcriber.Result {
	_, _ = io.ReadAll(input)
	return f.result
}

func newTestServer(t *testing.T, chatAgent agent.ChatAgent, whisper transcriber.Transcriber) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.OpenAIAPIKey = "sk-test"
	srv, err := New(Deps{
		Config:      cfg,
		Agent:       chatAgent,
		Transcriber: whisper,
		TTS:         mock.NewAutoComplete(),
		AckTimeout:  5 * time.Second,
	})
	require.NoError(t, err)

	httpServer := httptest.NewServer(srv.Handler())
	t.Cleanup(httpServer.Close)
	return httpServer
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialClient(t *testing.T, httpServer *httptest.Server) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpServer.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(msg ClientMessage) {
	data, err := json.Marshal(msg)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, data))
}

func (c *client) read() ServerMessage {
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	var msg ServerMessage
	require.NoError(c.t, json.Unmarshal(data, &msg))
	return msg
}

// playUntilIdle acks every clip like a browser would and returns the played texts.
func (c *client) playUntilIdle() (played []string, transcriptions []transcriber.Result) {
	for {
		msg := c.read()
		switch msg.Type {
		case TypePlay:
			played = append(played, msg.Text)
			assert.Equal(c.t, "mp3", msg.Format)
			assert.Equal(c.t, msg.Text, string(msg.Audio))
			c.send(ClientMessage{Type: TypePlayed, ClipID: msg.ClipID})
		case TypeTranscription:
			transcriptions = append(transcriptions, *msg.Transcription)
		case TypeEvent:
			if msg.Event.Kind == models.EventTurnState && msg.Event.TurnState == models.TurnIdle.String() {
				return
			}
		case TypeError:
			c.t.Fatalf("unexpected error message: %s", msg.Error)
		}
	}
}

func TestSession_PromptPlaysChunksInOrder(t *testing.T) {
	chatAgent := &scriptedAgent{deltas: []string{"Hello there, this is ", "the first sentence. And this one ", "is the second sentence."}}
	c := dialClient(t, newTestServer(t, chatAgent, fakeTranscriber{}))

	c.send(ClientMessage{Type: TypePrompt, Text: "Say two sentences."})
	played, _ := c.playUntilIdle()

	assert.Equal(t, []string{sentence1, sentence2}, played)
	assert.Equal(t, []string{"Say two sentences."}, chatAgent.Prompts())
}

func TestSession_AudioIsTranscribedThenPrompted(t *testing.T) {
	chatAgent := &scriptedAgent{deltas: []string{sentence1}}
	whisper := fakeTranscriber{result: transcriber.Result{Transcription: "Tell me about Bratislava."}}
	c := dialClient(t, newTestServer(t, chatAgent, whisper))

	c.send(ClientMessage{Type: TypeAudio, Audio: []byte("RIFF...."), Format: "wav"})
	played, transcriptions := c.playUntilIdle()

	require.Len(t, transcriptions, 1)
	assert.Equal(t, "Tell me about Bratislava.", transcriptions[0].Transcription)
	assert.Equal(t, []string{sentence1}, played)
	assert.Equal(t, []string{"Tell me about Bratislava."}, chatAgent.Prompts())
}

func TestSession_FailedTranscriptionIsReported(t *testing.T) {
	chatAgent := &scriptedAgent{deltas: []string{sentence1}}
	whisper := fakeTranscriber{result: transcriber.Result{Error: "Audio file is too short"}}
	c := dialClient(t, newTestServer(t, chatAgent, whisper))

	c.send(ClientMessage{Type: TypeAudio, Audio: []byte("RIFF")})
	msg := c.read()

	require.Equal(t, TypeTranscription, msg.Type)
	assert.False(t, msg.Transcription.OK())
	assert.Empty(t, chatAgent.Prompts())
}

func TestSession_InvalidMessages(t *testing.T) {
	c := dialClient(t, newTestServer(t, &scriptedAgent{}, fakeTranscriber{}))

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, TypeError, c.read().Type)

	c.send(ClientMessage{Type: "dance"})
	msg := c.read()
	assert.Equal(t, TypeError, msg.Type)
	assert.Contains(t, msg.Error, "dance")

	c.send(ClientMessage{Type: TypePrompt})
	assert.Equal(t, TypeError, c.read().Type)
}

func TestSession_ResetStopsPlayingClip(t *testing.T) {
	chatAgent := &scriptedAgent{deltas: []string{sentence1}}
	c := dialClient(t, newTestServer(t, chatAgent, fakeTranscriber{}))

	c.send(ClientMessage{Type: TypePrompt, Text: "Talk."})
	var clipID string
	for clipID == "" {
		if msg := c.read(); msg.Type == TypePlay {
			clipID = msg.ClipID
		}
	}

	c.send(ClientMessage{Type: TypeReset})
	for {
		msg := c.read()
		if msg.Type == TypeStop {
			assert.Equal(t, clipID, msg.ClipID)
			return
		}
	}
}

func TestServer_MetricsAndHealth(t *testing.T) {
	httpServer := newTestServer(t, &scriptedAgent{}, fakeTranscriber{})

	resp, err := http.Get(httpServer.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(httpServer.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestRemotePlayer_AckAndCancel(t *testing.T) {
	sent := make(chan ServerMessage, 4)
	player := newRemotePlayer(func(msg ServerMessage) bool { sent <- msg; return true }, time.Second)
	clip := &models.AudioData{ByteData: []byte("abc"), Format: "mp3", Text: "abc"}

	result := make(chan error, 1)
	go func() { result <- player.Play(context.Background(), clip) }()
	play := <-sent
	require.Equal(t, TypePlay, play.Type)
	assert.True(t, player.Ack(play.ClipID))
	assert.NoError(t, <-result)
	assert.False(t, player.Ack(play.ClipID))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { result <- player.Play(ctx, clip) }()
	play = <-sent
	cancel()
	assert.ErrorIs(t, <-result, context.Canceled)
	stop := <-sent
	assert.Equal(t, TypeStop, stop.Type)
	assert.Equal(t, play.ClipID, stop.ClipID)

	closedPlayer := newRemotePlayer(func(ServerMessage) bool { return false }, time.Second)
	assert.ErrorIs(t, closedPlayer.Play(context.Background(), clip), ErrSessionClosed)
}
