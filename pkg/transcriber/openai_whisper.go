package transcriber

import (
	"context"
	"fmt"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"io"
	"regexp"
	"strings"
	"time"
)

type openAIWhisper struct {
	client *openai.Client
}

func NewOpenAIWhisper(client *openai.Client) Transcriber {
	return &openAIWhisper{
		client: client,
	}
}

// SendAudio TODO(P1, latency): Figure out by how much mp3 is faster than .WAV
// 3 tests on a 260KB wav vs 67KB mp3 it seems maybe 1100ms vs 1000ms, but there was a run when wav beat mp3 :/
func (o *openAIWhisper) SendAudio(ctx context.Context, input io.Reader, fileExtension string, prompt string) Result {
	startTime := time.Now()
	req := openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   input,
		FilePath: fmt.Sprintf("this-file-does-not-exist-just-needs-extension.%s", fileExtension),
		// NOTE: Giving the model the previous words improves accuracy.
		// Whisper can take up to 244 tokens, if more are passed than only the last are used.
		Prompt: prompt,
	}

	log.Debug().Str("model", req.Model).Str("prompt", prompt).Msg("create transcription request")
	resp, err := o.client.CreateTranscription(ctx, req)
	if err != nil {
		log.Error().Err(err).Dur("time_elapsed", time.Since(startTime)).Msg("cannot create transcription")
		return Result{Error: err.Error()}
	}

	// TODO: Better "silence" detection
	result := removeNonEnglishAndMBC(resp.Text)
	if result != resp.Text {
		log.Info().Str("original_text", resp.Text).Str("processed_text", result).Msg("transcription post-processing removed some text")
	}

	log.Debug().Str("transcription", result).Dur("time_elapsed", time.Since(startTime)).Msg("received transcription")
	return Result{Transcription: result}
}

var nonEnglishRegex = regexp.MustCompile(`[^\x00-\x7F]+`)

// removeNonEnglishAndMBC removes non-English characters and the "MBC" string from the input text.
// TODO: HACK, somewhat "silence" is transcribed with random Chinese characters for example:
// MBC 뉴스 이덕영입니다. Yeah, tell me. a bit about uh, written  in 100 words.  MBC 뉴스 이덕영입니다.
func removeNonEnglishAndMBC(text string) string {
	text = nonEnglishRegex.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "MBC", "")
	return strings.TrimSpace(text)
}
