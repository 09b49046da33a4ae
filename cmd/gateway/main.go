// Command gateway runs the ACS media lifecycle engine as an HTTP/WebSocket
// server: one Session Controller per inbound call, registered in a
// process-wide registry, exposed behind health/metrics endpoints.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/joho/godotenv"

	"github.com/lokutor-ai/lokutor-orchestrator/gateway/config"
	"github.com/lokutor-ai/lokutor-orchestrator/gateway/logging"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/bridge"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/httpapi"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/outbound"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/reactor"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/recognition"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/registry"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/session"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/turn"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	llmProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/llm"
	ttsProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/tts"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("note: no .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("gateway: failed to load config: %v", err)
	}

	logger := logging.New(cfg.Debug)
	defer logger.Sync()

	reg := registry.New()
	defer reg.Close()

	newSession := newSessionFactory(cfg, logger, reg)
	server := httpapi.New(reg, logger, newSession)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Handler(),
	}

	go func() {
		logger.Info("gateway: listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("gateway: server error", "err", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("gateway: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway: graceful shutdown failed", "err", err)
	}
}

// newSessionFactory builds one fresh Controller per inbound call, wiring
// the Recognition Worker, Turn Pipeline, and Media Reactor together.
func newSessionFactory(cfg config.Config, logger *logging.Logger, reg *registry.Registry) httpapi.NewSessionFunc {
	return func(ctx context.Context, callID, sessionID string, ws *websocket.Conn) *session.Controller {
		conn := outbound.New(ws)

		pipeline := turn.New(turn.Options{
			CallID:                callID,
			Sink:                  conn,
			Orchestrator:          buildOrchestratorClient(callID, logger),
			Logger:                logger,
			QueueCapacity:         cfg.QueueCapacity,
			DirectPlaybackTimeout: cfg.DirectPlaybackTimeout,
		})

		react := reactor.New(reactor.Options{
			CallID:          callID,
			GreetingText:    cfg.GreetingText,
			Turns:           pipeline,
			Canceller:       pipeline,
			Conn:            conn,
			Logger:          logger,
			BargeInDebounce: cfg.BargeInDebounce,
		})

		worker := recognition.New(cfg.AzureSpeechKey, cfg.AzureSpeechRegion, cfg.RecognitionLang, recognition.Callbacks{
			OnPartial: func(text, language string) {
				go react.TriggerBargeIn()
			},
			OnFinal: func(text, language string) {
				pipeline.Enqueue(turn.Event{Kind: turn.KindFinal, Text: text, Language: language, Timestamp: time.Now()})
			},
			OnError: func(message string) {
				pipeline.Enqueue(turn.Event{Kind: turn.KindError, Text: message, Timestamp: time.Now()})
			},
		}, logger)

		react.SetAudioSink(worker)
		react.SetRecognizerStarter(worker.Start)

		return session.New(session.Options{
			CallConnectionID: callID,
			SessionID:        sessionID,
			Logger:           logger,
			Worker:           worker,
			Pipeline:         pipeline,
			Reactor:          react,
			Conn:             conn,
			Registry:         reg,
			Stats:            react,
			QueueDS:          pipeline,
			InflDS:           react,
			WorkerStop:       worker.Stop,
			ShutdownBudget:   cfg.ShutdownBudget,
		})
	}
}

// buildOrchestratorClient picks a real LLM+TTS backed orchestrator when
// provider keys are configured, else the trivial echo default.
func buildOrchestratorClient(callID string, logger *logging.Logger) turn.OrchestratorClient {
	groqKey := os.Getenv("GROQ_API_KEY")
	lokutorKey := os.Getenv("LOKUTOR_API_KEY")
	if groqKey == "" || lokutorKey == "" {
		logger.Debug("gateway: no LLM/TTS provider configured, using echo default", "callId", callID)
		return bridge.NewEcho()
	}

	llm := llmProvider.NewGroqLLM(groqKey, "llama-3.3-70b-versatile")
	tts := ttsProvider.NewLokutorTTS(lokutorKey)

	stt := noopSTT{}
	orchCfg := orchestrator.DefaultConfig()
	orch := orchestrator.NewWithLogger(stt, llm, tts, nil, orchCfg, logger)
	convSession := orch.NewSessionWithDefaults(callID)

	return bridge.New(orch, convSession)
}

// noopSTT satisfies orchestrator.STTProvider for the bridge path, since
// the gateway's own Recognition Worker (not the orchestrator) performs
// transcription; Orchestrator.Transcribe is never called from this path.
type noopSTT struct{}

func (noopSTT) Name() string { return "gateway-recognition-worker" }

func (noopSTT) Transcribe(ctx context.Context, audioPCM []byte, lang orchestrator.Language) (string, error) {
	return "", orchestrator.ErrEmptyTranscription
}
