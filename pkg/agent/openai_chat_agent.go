package agent

import (
	"context"
	"github.com/google/uuid"
	"github.com/petrzlen/vocode-streaming/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"io"
	"strings"
	"time"
)

type openaiChatAgent struct {
	client *openai.Client
	models map[ModelQuality]string
}

func NewOpenAIChatAgent(client *openai.Client) ChatAgent {
	return NewOpenAIChatAgentWithModels(client, "gpt-3.5-turbo", "gpt-4")
}

// NewOpenAIChatAgentWithModels; an empty model name keeps the default for that quality.
func NewOpenAIChatAgentWithModels(client *openai.Client, fastModel string, smartModel string) ChatAgent {
	if fastModel == "" {
		fastModel = "gpt-3.5-turbo"
	}
	if smartModel == "" {
		smartModel = "gpt-4"
	}
	return &openaiChatAgent{
		client: client,
		models: map[ModelQuality]string{
			FastAndCheap:     fastModel,
			SlowerAndSmarter: smartModel,
		},
	}
}

func conversationToOpenAiMessages(conversation *models.Conversation) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(conversation.Messages))
	for i, message := range conversation.Messages {
		result[i].Role = message.Role
		result[i].Content = message.Content
	}
	return result
}

// MessageContent is the only place which knows where the text of a streamed choice lives.
func MessageContent(choice openai.ChatCompletionStreamChoice) string {
	if choice.Delta.Content != "" {
		return choice.Delta.Content
	}
	// Deprecated function calls still stream their arguments, those are not meant to be spoken.
	return ""
}

// RunPrompt streams TurnStarted, TextDelta* and TurnCompleted into outputChan.
// On success the assistant response is appended to the conversation.
func (o *openaiChatAgent) RunPrompt(ctx context.Context, modelQuality ModelQuality, conversation *models.Conversation, outputChan chan<- StreamEvent) (err error) {
	model, ok := o.models[modelQuality]
	if !ok {
		model = o.models[FastAndCheap]
	}

	startTime := time.Now()
	lastDataReceivedPrintoutTime := time.Now()

	chatRequest := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    conversationToOpenAiMessages(conversation),
		Temperature: 0,
		Stream:      true,
	}
	log.Info().Str("prompt", conversation.GetLastPrompt()).Str("model", chatRequest.Model).Float32("temperature", chatRequest.Temperature).Msg("executeChatRequest")

	completionStream, err := o.client.CreateChatCompletionStream(ctx, chatRequest)
	if err != nil {
		err = errors.Wrap(err, "failed to create chat completion stream")
		return
	}
	defer completionStream.Close()

	if !send(ctx, outputChan, TurnStarted{TurnID: uuid.NewString()}) {
		return ctx.Err()
	}

	var contentBuilder strings.Builder
	var debugChunkBuilder strings.Builder

	firstContent := true
	for {
		response, streamRecvErr := completionStream.Recv()
		if firstContent {
			log.Debug().Dur("latency", time.Since(startTime)).Msg("first chat completion received")
			firstContent = false
		}

		for _, choice := range response.Choices {
			content := MessageContent(choice)
			if content == "" {
				continue
			}
			if !send(ctx, outputChan, TextDelta{Text: content}) {
				return ctx.Err()
			}
			contentBuilder.WriteString(content)
			debugChunkBuilder.WriteString(content)

			if time.Since(lastDataReceivedPrintoutTime) >= time.Second {
				lastDataReceivedPrintoutTime = time.Now()
				lastChunk := debugChunkBuilder.String()
				debugChunkBuilder.Reset()
				log.Debug().Float64("time_elapsed", time.Since(startTime).Seconds()).Str("last_content", lastChunk).Msgf("ChatCompletionStream Data Status")
			}
		}

		// We only handle the error at the end - since we can get io.EOF with the last token.
		if streamRecvErr != nil {
			if !errors.Is(streamRecvErr, io.EOF) {
				err = errors.Wrap(streamRecvErr, "error reading from chat completion stream")
			}
			break
		}
	}

	result := contentBuilder.String()
	if err != nil {
		log.Error().Err(err).Str("partial_response", result).Msg("chat completion stream broke")
	} else {
		conversation.Add(openai.ChatMessageRoleAssistant, result)
		log.Info().Dur("time_elapsed", time.Since(startTime)).Str("response", result).Msg("full response received")
	}
	send(ctx, outputChan, TurnCompleted{Text: result, Err: err})
	return
}

func send(ctx context.Context, outputChan chan<- StreamEvent, event StreamEvent) bool {
	select {
	case outputChan <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
