// Package reactor implements the Media Reactor (C4): it parses inbound
// ACS WebSocket frames, feeds audio into the recognizer, emits the
// greeting, and handles barge-in.
package reactor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/internal/turn"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// bargeInDebounce is the window in which repeated partials coalesce into a
// single StopAudio send.
const bargeInDebounce = 100 * time.Millisecond

// stopAudioSendTimeout bounds how long sending the StopAudio control frame
// may take.
const stopAudioSendTimeout = time.Second

// AudioSink is the Recognition Worker as seen by the reactor.
type AudioSink interface {
	WriteAudio(pcm []byte) error
}

// TurnQueue is the Turn Pipeline's inbound half, as seen by the reactor.
type TurnQueue interface {
	Enqueue(turn.Event)
}

// Canceller is the Turn Pipeline's cancellation entry point.
type Canceller interface {
	CancelCurrent()
}

// OutboundConn is the outbound half of the telephony socket, as seen by
// the reactor.
type OutboundConn interface {
	Connected() bool
	SendStopAudio(ctx context.Context) error
}

// DTMFHandler is an external, optional collaborator for DTMF tones.
type DTMFHandler func(callID, digit string)

// Options configures a Reactor.
type Options struct {
	CallID       string
	GreetingText string
	Turns        TurnQueue
	Canceller    Canceller
	Conn         OutboundConn
	DTMFHandler  DTMFHandler
	Logger       orchestrator.Logger

	// BargeInDebounce overrides the window in which repeated partials
	// coalesce into a single StopAudio send. Zero uses bargeInDebounce.
	BargeInDebounce time.Duration
}

// Reactor implements C4.
type Reactor struct {
	callID          string
	greetingText    string
	turns           TurnQueue
	canceller       Canceller
	conn            OutboundConn
	dtmfHandler     DTMFHandler
	logger          orchestrator.Logger
	bargeInDebounce time.Duration

	mu             sync.Mutex
	metadataSeen   bool
	greetingPlayed bool
	bargeInActive  bool

	audioSink        AudioSink
	recognizerStart  func() error

	inflightMu sync.Mutex
	inflight   map[int64]context.CancelFunc
	nextTaskID int64
}

// New constructs a Reactor. SetAudioSink and SetRecognizerStarter must be
// called before HandleFrame processes an AudioMetadata/AudioData frame,
// since the recognizer and reactor are constructed in a cycle.
func New(opts Options) *Reactor {
	logger := opts.Logger
	if logger == nil {
		logger = orchestrator.NoOpLogger{}
	}
	debounce := opts.BargeInDebounce
	if debounce <= 0 {
		debounce = bargeInDebounce
	}
	return &Reactor{
		callID:          opts.CallID,
		greetingText:    opts.GreetingText,
		turns:           opts.Turns,
		canceller:       opts.Canceller,
		conn:            opts.Conn,
		dtmfHandler:     opts.DTMFHandler,
		logger:          logger,
		bargeInDebounce: debounce,
		inflight:        make(map[int64]context.CancelFunc),
	}
}

// SetAudioSink wires the Recognition Worker's audio sink.
func (r *Reactor) SetAudioSink(sink AudioSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioSink = sink
}

// SetRecognizerStarter wires the function that starts the Recognition
// Worker (called on the first AudioMetadata frame).
func (r *Reactor) SetRecognizerStarter(start func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizerStart = start
}

// HandleFrame parses and dispatches one inbound WebSocket text frame.
func (r *Reactor) HandleFrame(ctx context.Context, raw []byte) {
	var f rawFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		r.logger.Debug("reactor: malformed frame, dropping", "err", err)
		return
	}

	switch f.Kind {
	case kindAudioMetadata:
		r.handleAudioMetadata()
	case kindAudioData:
		r.handleAudioData(ctx, f.audioData())
	case kindDtmfData:
		r.handleDtmf(f.dtmfData())
	default:
		r.logger.Debug("reactor: unknown frame kind, dropping", "kind", f.Kind)
	}
}

func (r *Reactor) handleAudioMetadata() {
	r.mu.Lock()
	if r.metadataSeen {
		r.mu.Unlock()
		r.logger.Debug("reactor: duplicate AudioMetadata frame, ignoring", "callId", r.callID)
		return
	}
	r.metadataSeen = true
	playGreeting := !r.greetingPlayed && r.greetingText != ""
	if playGreeting {
		r.greetingPlayed = true
	}
	start := r.recognizerStart
	r.mu.Unlock()

	if start != nil {
		if err := start(); err != nil {
			r.logger.Error("reactor: failed to start recognizer", "err", err, "callId", r.callID)
			return
		}
	}

	if playGreeting {
		r.turns.Enqueue(turn.Event{
			Kind:      turn.KindGreeting,
			Text:      r.greetingText,
			Timestamp: time.Now(),
		})
	}
}

func (r *Reactor) handleAudioData(ctx context.Context, payload *audioDataPayload) {
	if payload == nil {
		r.logger.Debug("reactor: AudioData frame missing payload", "callId", r.callID)
		return
	}
	if payload.isSilent() {
		return
	}

	decoded, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		r.logger.Debug("reactor: bad base64 audio payload, dropping", "err", err, "callId", r.callID)
		return
	}

	r.mu.Lock()
	sink := r.audioSink
	r.mu.Unlock()
	if sink == nil {
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	r.inflightMu.Lock()
	id := r.nextTaskID
	r.nextTaskID++
	r.inflight[id] = cancel
	r.inflightMu.Unlock()

	go func() {
		defer func() {
			cancel()
			r.inflightMu.Lock()
			delete(r.inflight, id)
			r.inflightMu.Unlock()
		}()
		if taskCtx.Err() != nil {
			return
		}
		if err := sink.WriteAudio(decoded); err != nil {
			r.logger.Warn("reactor: writeAudio failed", "err", err, "callId", r.callID)
		}
	}()
}

func (r *Reactor) handleDtmf(payload *dtmfDataPayload) {
	if payload == nil {
		return
	}
	r.logger.Info("reactor: dtmf tone received", "digit", payload.Data, "callId", r.callID)
	if r.dtmfHandler != nil {
		r.dtmfHandler(r.callID, payload.Data)
	}
}

// TriggerBargeIn is the interruption entry point, invoked from the
// Recognition Worker's partial-result callback. It coalesces repeated
// triggers within the debounce window.
func (r *Reactor) TriggerBargeIn() {
	r.mu.Lock()
	if r.bargeInActive {
		r.mu.Unlock()
		return
	}
	r.bargeInActive = true
	r.mu.Unlock()

	// Cancels whichever turn is currently in flight, an orchestrator
	// invocation streaming audio out or a direct-playback send, and
	// awaits its unwind before the StopAudio frame goes out.
	if r.canceller != nil {
		r.canceller.CancelCurrent()
	}
	r.sendStopAudio()

	time.AfterFunc(r.bargeInDebounce, func() {
		r.mu.Lock()
		r.bargeInActive = false
		r.mu.Unlock()
	})
}

func (r *Reactor) sendStopAudio() {
	if r.conn == nil || !r.conn.Connected() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopAudioSendTimeout)
	defer cancel()

	if err := r.conn.SendStopAudio(ctx); err != nil {
		if !r.conn.Connected() {
			r.logger.Debug("reactor: StopAudio send failed while socket was closing", "err", err)
		} else {
			r.logger.Warn("reactor: failed to send StopAudio control frame", "err", err, "callId", r.callID)
		}
	}
}

// InflightCount reports the number of in-flight audio-ingest tasks, for
// snapshot().
func (r *Reactor) InflightCount() int {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	return len(r.inflight)
}

// GreetingPlayed reports whether the greeting has been claimed for this call.
// The flag is set on the first AudioMetadata frame when greeting text is
// non-empty, before the recognizer starts, and stays set even if that start
// fails and no greeting is enqueued.
func (r *Reactor) GreetingPlayed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.greetingPlayed
}
