package synthesizer

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/petrzlen/vocode-streaming/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"io"
	"net/http"
	"time"
)

const openAIBaseURL = "https://api.openai.com/v1/"

type openAITTS struct {
	apiKey     string
	baseURL    string
	model      string
	format     string
	httpClient *http.Client
}

type OpenAITTSOption func(*openAITTS)

// WithBaseURL points the client to a proxy (or a test server), must end with a slash.
func WithBaseURL(url string) OpenAITTSOption {
	return func(o *openAITTS) { o.baseURL = url }
}

func WithModel(model string) OpenAITTSOption {
	return func(o *openAITTS) { o.model = model }
}

// WithResponseFormat is one of mp3, flac, wav; whatever audio_utils can decode.
func WithResponseFormat(format string) OpenAITTSOption {
	return func(o *openAITTS) { o.format = format }
}

func WithHTTPClient(client *http.Client) OpenAITTSOption {
	return func(o *openAITTS) { o.httpClient = client }
}

func NewOpenAITTS(openAIAPIKey string, opts ...OpenAITTSOption) Synthesizer {
	o := &openAITTS{
		apiKey:     openAIAPIKey,
		baseURL:    openAIBaseURL,
		model:      "tts-1",
		format:     "mp3", // TODO(ux, P1): Opus should be a better format for streaming, oto needs a decoder for it first.
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// TTSPayload for the audio/speech endpoint
type TTSPayload struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

// CreateSpeech goes over plain HTTP as the go-openai version we use does not have the speech endpoint.
func (o *openAITTS) CreateSpeech(ctx context.Context, text string, voice string, speed float64) (audioOutput models.AudioData, err error) {
	log.Debug().Str("input", text).Str("voice", voice).Float64("speed", speed).Msg("sendTTSRequest start")
	trace := models.NewTrace("openai_tts")

	payload := TTSPayload{
		Model:          o.model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: o.format,
		Speed:          speed,
	}
	reqBytes, err := json.Marshal(payload)
	if err != nil {
		err = errors.Wrap(err, "cannot marshal tts payload")
		return
	}
	rawAudioBytes, err := o.sendRequest(ctx, http.MethodPost, "audio/speech", reqBytes)
	if err != nil {
		err = errors.Wrapf(err, "could not do audio/speech for %q", text)
		return
	}

	trace.ProcessedAt = time.Now()
	trace.Processor = "openai_tts"
	audioOutput = models.AudioData{
		ByteData: rawAudioBytes,
		Format:   o.format,
		Text:     text,
		Voice:    voice,
		Trace:    trace,
	}
	return
}

func (o *openAITTS) sendRequest(ctx context.Context, method string, endpoint string, body []byte) (result []byte, err error) {
	requestStart := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Add("Authorization", "Bearer "+o.apiKey)
	req.Header.Add("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return
	}
	defer func() { dbg(resp.Body.Close()) }()

	log.Debug().Dur("request_time", time.Since(requestStart)).Str("method", method).Str("endpoint", endpoint).Int("status_code", resp.StatusCode).Msg("request done")

	if resp.StatusCode != http.StatusOK {
		errMsg, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusBadRequest {
			// The only 400 we know to expect is the minimum input length.
			err = errors.Wrap(ErrTextTooShort, string(errMsg))
			return
		}
		err = &ProviderError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: string(errMsg)}
		return
	}

	readStart := time.Now()
	result, err = io.ReadAll(resp.Body)
	log.Debug().Dur("response_body_read_time", time.Since(readStart)).Int("response_byte_size", len(result)).Str("endpoint", endpoint).Msg("request body read done")
	if err != nil {
		err = errors.Wrap(err, "could not read response")
		return
	}
	return
}

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}
