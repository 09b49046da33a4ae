// Package outbound adapts a coder/websocket connection to the telephony
// socket contracts the Turn Pipeline and Media Reactor depend on.
package outbound

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ErrDisconnected is returned by sends attempted after the connection has
// transitioned out of the connected state.
var ErrDisconnected = errors.New("outbound: socket is not connected")

// stopAudioFrame is the exact control frame the ACS media protocol expects.
type stopAudioFrame struct {
	Kind      string      `json:"Kind"`
	AudioData interface{} `json:"AudioData"`
	StopAudio struct{}    `json:"StopAudio"`
}

// Conn wraps a server-accepted WebSocket connection toward the telephony
// peer. All sends gate on the connected flag and return ErrDisconnected once
// it is cleared; a failed send returns its error and leaves the flag as is.
type Conn struct {
	mu    sync.Mutex
	ws    *websocket.Conn
	state int32 // 0 = connected, 1 = disconnected
}

// New wraps ws. The connection starts in the connected state.
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Connected reports whether sends are still permitted.
func (c *Conn) Connected() bool {
	return atomic.LoadInt32(&c.state) == 0
}

// MarkDisconnected transitions the connection out of the connected state.
// Called once the read loop observes the socket closing.
func (c *Conn) MarkDisconnected() {
	atomic.StoreInt32(&c.state, 1)
}

// SendStopAudio sends the StopAudio control frame exactly once per
// barge-in event.
func (c *Conn) SendStopAudio(ctx context.Context) error {
	if !c.Connected() {
		return ErrDisconnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.ws, stopAudioFrame{Kind: "StopAudio"})
}

// SendText dispatches a system-originated utterance (greeting,
// announcement, status update, error message) through the outbound sink.
// Audio framing for the synthesized reply is an external TTS helper's
// concern; this only carries the text the helper is expected to speak.
func (c *Conn) SendText(ctx context.Context, text string) error {
	if !c.Connected() {
		return ErrDisconnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.ws, map[string]any{"Kind": "Speak", "Text": text})
}

// SendAudio forwards one synthesized audio chunk produced by the
// orchestrator's TTS stream.
func (c *Conn) SendAudio(ctx context.Context, chunk []byte) error {
	if !c.Connected() {
		return ErrDisconnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Write(ctx, websocket.MessageBinary, chunk)
}

// Close closes the underlying socket and marks the connection
// disconnected. Safe to call more than once.
func (c *Conn) Close() error {
	c.MarkDisconnected()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
