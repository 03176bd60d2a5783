package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"github.com/petrzlen/vocode-streaming/internal/config"
	"github.com/petrzlen/vocode-streaming/internal/utils"
	"github.com/petrzlen/vocode-streaming/pkg/agent"
	"github.com/petrzlen/vocode-streaming/pkg/audioio"
	"github.com/petrzlen/vocode-streaming/pkg/coordinator"
	"github.com/petrzlen/vocode-streaming/pkg/models"
	"github.com/petrzlen/vocode-streaming/pkg/synthesizer"
	"github.com/petrzlen/vocode-streaming/pkg/transcriber"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/afero"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// We use numChannels = 1, to be consistent across the pipeline,
// although we could have nice stereo output, synthesizer and transcriber really care only about 1.
const numChannels = 1

func setupSignalHandler(cleanup func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigs
		log.Info().Msgf("Received signal: %v", sig)

		cleanup()

		os.Exit(1)
	}()
}

// stdinLinesRoutine makes "Enter" usable both for submitting and for interrupting.
func stdinLinesRoutine(lines chan<- struct{}) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lines <- struct{}{}
	}
	utils.Dbg(scanner.Err())
	close(lines)
}

func logEvent(idle chan<- struct{}) func(models.ChunkEvent) {
	return func(event models.ChunkEvent) {
		log.Debug().Str("kind", string(event.Kind)).Str("turn_id", event.TurnID).Int("order", event.Order).
			Str("status", event.Status).Str("turn_state", event.TurnState).Bool("busy", event.Busy).Msg(event.Text)
		if event.Kind == models.EventTurnState && event.TurnState == models.TurnIdle.String() {
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	}
}

func main() {
	setupStart := time.Now()
	cfg, err := config.LoadFromEnv()
	utils.SetupZerolog(cfg.LogLevel)
	ftl(err)

	client := openai.NewClient(cfg.OpenAIAPIKey)
	whisper := transcriber.NewOpenAIWhisper(client)
	chatAgent := agent.NewOpenAIChatAgentWithModels(client, cfg.Chat.FastModel, cfg.Chat.SmartModel)
	tts := synthesizer.NewOpenAITTS(cfg.OpenAIAPIKey, cfg.TTSOptions()...)
	dispatcherOpts, err := cfg.DispatcherOptions()
	ftl(err)

	audioOutput, err := audioio.NewSpeakers(cfg.Audio.SampleRate, numChannels)
	ftl(err)
	player := audioio.NewClipPlayer(audioOutput, cfg.Audio.SampleRate, numChannels)

	idle := make(chan struct{}, 1)
	speech := coordinator.New(
		cfg.Coordinator(),
		synthesizer.NewDispatcher(tts, cfg.Speech.LastResortFloor, dispatcherOpts...),
		player,
		coordinator.WithEventHook(logEvent(idle)),
	)
	setupSignalHandler(func() {
		utils.Dbg(speech.Close())
	})

	var debugFs afero.Fs
	if cfg.DebugDir != "" {
		debugFs = afero.NewBasePathFs(afero.NewOsFs(), cfg.DebugDir)
	}

	lines := make(chan struct{})
	go stdinLinesRoutine(lines)

	log.Debug().Dur("setup_time", time.Since(setupStart)).Msg("setup done")
	// ==== SETUP DONE

	fullConvo := &models.Conversation{StartedAt: time.Now()}
	for i := 1; ; i++ {
		audioInput, err := audioio.NewMicrophone() // About 200ms
		ftl(err)
		ftl(audioInput.StartRecording())

		fmt.Println("Press Enter to submit your input...")
		if _, ok := <-lines; !ok {
			break
		}
		entireWavRecording, err := audioInput.StopRecording()
		if err != nil {
			log.Error().Err(err).Msg("cannot stop recording")
			continue
		}
		if debugFs != nil {
			// For debug purposes write the recording to a real file so we can replay it.
			utils.Dbg(afero.WriteFile(debugFs, fmt.Sprintf("entire-recording-%d.wav", i), entireWavRecording, 0644))
		}

		result := whisper.SendAudio(context.Background(), bytes.NewReader(entireWavRecording), "wav", fullConvo.GetLastPrompt())
		if !result.OK() || result.Transcription == "" {
			log.Warn().Str("error", result.Error).Msg("nothing transcribed, try again")
			continue
		}
		fullConvo.Add("user", result.Transcription)

		// A stale idle from the previous turn must not end this one.
		select {
		case <-idle:
		default:
		}
		if !runTurn(chatAgent, speech, fullConvo, idle, lines) {
			break
		}
		fullConvo.DebugLog()
	}
	utils.Dbg(speech.Close())
}

// runTurn streams the answer into the coordinator and waits until it's spoken or the user
// presses Enter. Returns false once stdin is closed.
func runTurn(chatAgent agent.ChatAgent, speech *coordinator.Coordinator, convo *models.Conversation, idle <-chan struct{}, lines <-chan struct{}) (stdinOpen bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan agent.StreamEvent, 100)
	consumed := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(events)
		if err := chatAgent.RunPrompt(ctx, agent.SlowerAndSmarter, convo, events); err != nil {
			log.Error().Err(err).Msg("chat prompt failed")
		}
	}()
	go func() {
		defer wg.Done()
		defer close(consumed)
		utils.Dbg(speech.Consume(ctx, events))
	}()
	defer wg.Wait()

	fmt.Println("Press Enter to stop output and make new input...")
	stdinOpen = true
	for {
		select {
		case <-consumed:
			consumed = nil
			// The prompt failed before anything was said.
			if speech.TurnState() == models.TurnIdle && !speech.Busy() {
				return
			}
		case <-idle:
			log.Info().Msg("turn fully spoken")
			return
		case _, stdinOpen = <-lines:
			log.Info().Msg("Interrupt received, dropping the rest of the answer")
			cancel()
			speech.ResetAllState()
			return
		}
	}
}

func ftl(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("sth essential failed")
	}
}
