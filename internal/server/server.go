// Package server exposes the speech pipeline to a browser UI over a websocket.
//
// Every connection gets its own conversation and coordinator. The browser receives the
// coordinator's chunk events and the audio clips to play, and acknowledges every clip
// once played so the next one can be sent.
package server

import (
	"github.com/petrzlen/vocode-streaming/internal/config"
	"github.com/petrzlen/vocode-streaming/internal/networking"
	"github.com/petrzlen/vocode-streaming/pkg/agent"
	"github.com/petrzlen/vocode-streaming/pkg/metrics"
	"github.com/petrzlen/vocode-streaming/pkg/synthesizer"
	"github.com/petrzlen/vocode-streaming/pkg/transcriber"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"net/http"
	"time"
)

const DefaultAckTimeout = 2 * time.Minute

type Deps struct {
	Config      config.Config
	Agent       agent.ChatAgent
	Transcriber transcriber.Transcriber
	TTS         synthesizer.Synthesizer
	Quality     agent.ModelQuality
	// AckTimeout bounds how long a clip may take to play in the browser.
	AckTimeout time.Duration
	Logger     *zerolog.Logger // defaults to the global logger
}

type Server struct {
	deps           Deps
	dispatcherOpts []synthesizer.DispatcherOption
	registry       *prometheus.Registry
}

func New(deps Deps) (*Server, error) {
	if deps.AckTimeout <= 0 {
		deps.AckTimeout = DefaultAckTimeout
	}
	if deps.Logger == nil {
		deps.Logger = &log.Logger
	}
	dispatcherOpts, err := deps.Config.DispatcherOptions()
	if err != nil {
		return nil, err
	}
	return &Server{
		deps:           deps,
		dispatcherOpts: dispatcherOpts,
		registry:       metrics.NewRegistry(),
	}, nil
}

// Handler serves /ws (sessions), /metrics and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", networking.NewWebsocketHandlerFunc(func() networking.WebsocketMessageHandler {
		return newSession(&s.deps, s.dispatcherOpts)
	}))
	mux.Handle("/metrics", metrics.Handler(s.registry))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
