// Package turn implements the Turn Pipeline: a single goroutine that
// serializes conversation turns from a bounded speech-event queue,
// dispatching final transcripts to an orchestrator and system-originated
// text to direct playback, with cooperative cancellation for barge-in.
package turn

import (
	"context"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// Kind identifies the discriminator of a SpeechEvent.
type Kind string

const (
	KindPartial      Kind = "partial" // never enters the queue
	KindFinal        Kind = "final"
	KindError        Kind = "error"
	KindGreeting     Kind = "greeting"
	KindAnnouncement Kind = "announcement"
	KindStatusUpdate Kind = "status_update"
	KindErrorMessage Kind = "error_message"
)

// Event is the unit of communication from the Recognition Worker (or the
// Media Reactor, for system-originated kinds) to the Turn Pipeline.
type Event struct {
	Kind      Kind
	Text      string
	Language  string
	SpeakerID string
	Timestamp time.Time
}

const (
	// QueueCapacity is the speech queue's bound.
	QueueCapacity = 10
	// emergencyClearMax bounds how many oldest events an overflow drops.
	emergencyClearMax = 3
	// queueIdleTimeout mirrors queue.get(timeout=1s) in the source design.
	queueIdleTimeout = time.Second
	// directPlaybackTimeout bounds a system-originated utterance.
	directPlaybackTimeout = 8 * time.Second
	// nearCapacityWarnRatio is the queue-depth fraction above which a
	// cancelCurrent() drain is considered noteworthy.
	nearCapacityWarnRatio = 0.8
)

// OutboundSink is the outbound half of the per-call telephony socket, as
// seen by the Turn Pipeline. Audio/text framing beyond this contract is an
// external TTS helper's concern.
type OutboundSink interface {
	Connected() bool
	SendText(ctx context.Context, text string) error
	SendAudio(ctx context.Context, chunk []byte) error
}

// OrchestratorClient is the narrow interface the Turn Pipeline uses to
// invoke the (external, out of scope) AI orchestrator for a Final event.
type OrchestratorClient interface {
	Handle(ctx context.Context, callID, transcript string, sink OutboundSink) error
}

// Broadcaster is the optional, best-effort dashboard broadcast hook.
type Broadcaster func(ctx context.Context, callID, transcript string) error

// Options configures a Pipeline.
type Options struct {
	CallID        string
	Sink          OutboundSink
	Orchestrator  OrchestratorClient
	Broadcast     Broadcaster
	Logger        orchestrator.Logger
	QueueCapacity int

	// DirectPlaybackTimeout overrides how long a system-originated
	// utterance may take. Zero uses directPlaybackTimeout.
	DirectPlaybackTimeout time.Duration
}

// Pipeline owns the single goroutine that drains the speech queue.
type Pipeline struct {
	callID                string
	sink                  OutboundSink
	orch                  OrchestratorClient
	broadcast             Broadcaster
	logger                orchestrator.Logger
	queue                 chan Event
	directPlaybackTimeout time.Duration

	state state

	mu            sync.Mutex
	currentCancel context.CancelFunc
	currentDone   chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Pipeline. Call Run to start its processing loop.
func New(opts Options) *Pipeline {
	capacity := opts.QueueCapacity
	if capacity <= 0 {
		capacity = QueueCapacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = orchestrator.NoOpLogger{}
	}
	playbackTimeout := opts.DirectPlaybackTimeout
	if playbackTimeout <= 0 {
		playbackTimeout = directPlaybackTimeout
	}
	return &Pipeline{
		callID:                opts.CallID,
		sink:                  opts.Sink,
		orch:                  opts.Orchestrator,
		broadcast:             opts.Broadcast,
		logger:                logger,
		queue:                 make(chan Event, capacity),
		directPlaybackTimeout: playbackTimeout,
		stopCh:                make(chan struct{}),
	}
}

// Enqueue admits ev to the speech queue without blocking. On overflow it
// first drops up to min(emergencyClearMax, capacity/2) of the oldest
// entries; if the queue is still full after that, ev is dropped. Partials are
// never enqueued; they only drive barge-in, which is the Media Reactor's
// job.
func (p *Pipeline) Enqueue(ev Event) {
	if ev.Kind == KindPartial {
		return
	}
	select {
	case p.queue <- ev:
		return
	default:
	}

	limit := emergencyClearMax
	if half := cap(p.queue) / 2; half < limit {
		limit = half
	}
	cleared := 0
clearLoop:
	for cleared < limit {
		select {
		case <-p.queue:
			cleared++
		default:
			break clearLoop
		}
	}
	if cleared > 0 {
		p.logger.Warn("turn: speech queue overflow, dropped oldest events", "count", cleared, "callId", p.callID)
	}

	select {
	case p.queue <- ev:
	default:
		p.logger.Warn("turn: speech queue still full after emergency clear, dropping new event", "callId", p.callID)
	}
}

// Run starts the dispatch loop on its own goroutine and returns at once;
// the loop exits once Stop is called or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx)
	}()
}

func (p *Pipeline) loop(ctx context.Context) {
	timer := time.NewTimer(queueIdleTimeout)
	defer timer.Stop()
	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(queueIdleTimeout)

		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case ev := <-p.queue:
			p.dispatch(ctx, ev)
		case <-timer.C:
			continue
		}
	}
}

func (p *Pipeline) dispatch(ctx context.Context, ev Event) {
	select {
	case <-p.stopCh:
		return
	default:
	}

	switch ev.Kind {
	case KindFinal:
		p.orchestrate(ctx, ev)
	case KindGreeting, KindAnnouncement, KindStatusUpdate, KindErrorMessage:
		p.directPlayback(ctx, ev)
	case KindError:
		p.logger.Error("turn: asr reported an error", "text", ev.Text, "callId", p.callID)
	default:
		p.logger.Debug("turn: ignoring unexpected event kind", "kind", ev.Kind)
	}
}

func (p *Pipeline) orchestrate(parent context.Context, ev Event) {
	if p.broadcast != nil {
		if err := p.broadcast(parent, p.callID, ev.Text); err != nil {
			p.logger.Debug("turn: dashboard broadcast failed, ignoring", "err", err)
		}
	}
	if p.orch == nil {
		return
	}

	turnCtx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	p.mu.Lock()
	p.currentCancel = cancel
	p.currentDone = done
	p.mu.Unlock()
	p.state.transition(processing)

	err := p.orch.Handle(turnCtx, p.callID, ev.Text, p.sink)

	p.mu.Lock()
	p.currentCancel = nil
	p.currentDone = nil
	p.mu.Unlock()
	close(done)
	cancel()

	switch {
	case err == nil:
		p.state.transition(done_)
	case turnCtx.Err() != nil:
		p.state.transition(cancelled)
	default:
		p.logger.Error("turn: orchestrator invocation failed", "err", err, "callId", p.callID)
		p.state.transition(failed)
	}
	p.state.transition(idle)
}

func (p *Pipeline) directPlayback(parent context.Context, ev Event) {
	if !p.sink.Connected() {
		p.logger.Debug("turn: skipping direct playback, sink disconnected", "callId", p.callID)
		return
	}

	ctx, cancel := context.WithTimeout(parent, p.directPlaybackTimeout)
	done := make(chan struct{})

	p.mu.Lock()
	p.currentCancel = cancel
	p.currentDone = done
	p.mu.Unlock()
	p.state.transition(processing)

	err := p.sink.SendText(ctx, ev.Text)

	p.mu.Lock()
	p.currentCancel = nil
	p.currentDone = nil
	p.mu.Unlock()
	close(done)
	cancel()

	switch {
	case err == nil:
		p.state.transition(done_)
	case ctx.Err() != nil:
		p.logger.Warn("turn: direct playback cancelled or timed out", "callId", p.callID)
		p.state.transition(cancelled)
	default:
		p.logger.Warn("turn: direct playback failed", "err", err, "callId", p.callID)
		p.state.transition(failed)
	}
	p.state.transition(idle)
}

// CancelCurrent is the interruption entry point: it drains pending queue
// entries and cancels (and awaits) any in-flight turn. Safe to call
// concurrently with the processing loop and re-entrantly from the Media
// Reactor's barge-in path.
func (p *Pipeline) CancelCurrent() {
	cleared := p.drainQueue()
	if cleared > 2 || float64(cleared) >= float64(cap(p.queue))*nearCapacityWarnRatio {
		p.logger.Warn("turn: cleared pending speech events on cancel", "count", cleared, "callId", p.callID)
	}

	p.mu.Lock()
	cancel := p.currentCancel
	done := p.currentDone
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

func (p *Pipeline) drainQueue() int {
	n := 0
	for {
		select {
		case <-p.queue:
			n++
		default:
			return n
		}
	}
}

// Stop idempotently tears the pipeline down: it cancels any in-flight
// turn, stops the loop, and drains whatever remains in the queue.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.CancelCurrent()
		close(p.stopCh)
		p.wg.Wait()
		p.drainQueue()
	})
}

// QueueLen reports the current depth of the speech queue, for snapshot().
func (p *Pipeline) QueueLen() int {
	return len(p.queue)
}
