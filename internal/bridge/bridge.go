// Package bridge adapts the orchestrator package's STT/LLM/TTS pipeline
// to the Turn Pipeline's narrow OrchestratorClient contract, so the
// gateway can drive the same LLM+TTS stack cmd/agent's local demo uses
// instead of only a trivial default.
package bridge

import (
	"context"
	"fmt"

	"github.com/lokutor-ai/lokutor-orchestrator/internal/turn"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// Client adapts an *orchestrator.Orchestrator to turn.OrchestratorClient.
type Client struct {
	orch    *orchestrator.Orchestrator
	session *orchestrator.ConversationSession
}

// New constructs a bridge Client around an already-configured
// Orchestrator and a session (one per call).
func New(orch *orchestrator.Orchestrator, session *orchestrator.ConversationSession) *Client {
	return &Client{orch: orch, session: session}
}

// Handle implements turn.OrchestratorClient: it appends the transcript to
// the conversation, generates a reply, and streams the synthesized audio
// back through the sink. Cancellation of ctx (barge-in) unwinds both the
// LLM call and the TTS stream, since both take ctx directly.
func (c *Client) Handle(ctx context.Context, callID, transcript string, sink turn.OutboundSink) error {
	c.session.AddMessage("user", transcript)

	reply, err := c.orch.GenerateResponse(ctx, c.session)
	if err != nil {
		return fmt.Errorf("bridge: generate response: %w", err)
	}
	c.session.AddMessage("assistant", reply)

	voice := c.session.GetCurrentVoice()
	lang := c.session.GetCurrentLanguage()
	err = c.orch.SynthesizeStream(ctx, reply, voice, lang, func(chunk []byte) error {
		return sink.SendAudio(ctx, chunk)
	})
	if err != nil {
		return fmt.Errorf("bridge: synthesize stream: %w", err)
	}
	return nil
}

// echoClient is the trivial default orchestrator client: when no real
// orchestrator is configured, the transcript is simply spoken back.
type echoClient struct{}

// NewEcho returns the default routing function used when no LLM/TTS
// provider is configured.
func NewEcho() turn.OrchestratorClient {
	return echoClient{}
}

func (echoClient) Handle(ctx context.Context, callID, transcript string, sink turn.OutboundSink) error {
	return sink.SendText(ctx, transcript)
}
