package main

import (
	"context"
	"github.com/petrzlen/vocode-streaming/internal/config"
	"github.com/petrzlen/vocode-streaming/internal/server"
	"github.com/petrzlen/vocode-streaming/internal/utils"
	"github.com/petrzlen/vocode-streaming/pkg/agent"
	"github.com/petrzlen/vocode-streaming/pkg/synthesizer"
	"github.com/petrzlen/vocode-streaming/pkg/transcriber"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.LoadFromEnv()
	utils.SetupZerolog(cfg.LogLevel)
	ftl(err)

	client := openai.NewClient(cfg.OpenAIAPIKey)
	srv, err := server.New(server.Deps{
		Config:      cfg,
		Agent:       agent.NewOpenAIChatAgentWithModels(client, cfg.Chat.FastModel, cfg.Chat.SmartModel),
		Transcriber: transcriber.NewOpenAIWhisper(client),
		TTS:         synthesizer.NewOpenAITTS(cfg.OpenAIAPIKey, cfg.TTSOptions()...),
		Quality:     agent.SlowerAndSmarter,
	})
	ftl(err)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("listening, websocket at /ws, metrics at /metrics")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with an error")
		os.Exit(1)
	}
}

func ftl(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("sth essential failed")
	}
}
