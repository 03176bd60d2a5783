package synthesizer

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAITTS_CreateSpeech(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload TTSPayload
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "tts-1-hd", payload.Model)
		assert.Equal(t, "nova", payload.Voice)
		assert.Equal(t, "flac", payload.ResponseFormat)
		assert.Equal(t, 1.15, payload.Speed)

		w.Header().Set("Content-Type", "audio/flac")
		_, _ = w.Write([]byte("fake-flac-bytes"))
	}))
	defer server.Close()

	tts := NewOpenAITTS("test-key", WithBaseURL(server.URL+"/"), WithModel("tts-1-hd"), WithResponseFormat("flac"))
	audio, err := tts.CreateSpeech(context.Background(), "The answer is forty two, obviously.", "nova", 1.15)

	require.NoError(t, err)
	assert.Equal(t, []byte("fake-flac-bytes"), audio.ByteData)
	assert.Equal(t, "flac", audio.Format)
	assert.Equal(t, "nova", audio.Voice)
	assert.Equal(t, "The answer is forty two, obviously.", audio.Text)
}

func TestOpenAITTS_BadRequestIsTextTooShort(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"text too short"}`))
	}))
	defer server.Close()

	tts := NewOpenAITTS("test-key", WithBaseURL(server.URL+"/"))
	_, err := tts.CreateSpeech(context.Background(), "Hi.", "alloy", 1.0)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTextTooShort))
}

func TestOpenAITTS_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("overloaded"))
	}))
	defer server.Close()

	tts := NewOpenAITTS("test-key", WithBaseURL(server.URL+"/"))
	_, err := tts.CreateSpeech(context.Background(), "This one will not make it through.", "alloy", 1.0)

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTextTooShort))
	var providerErr *ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Equal(t, http.StatusServiceUnavailable, providerErr.StatusCode)
	assert.Equal(t, "overloaded", providerErr.Body)
}

func TestOpenAITTS_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tts := NewOpenAITTS("test-key", WithBaseURL(server.URL+"/"))
	_, err := tts.CreateSpeech(ctx, "Nobody is going to hear this sentence.", "alloy", 1.0)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
