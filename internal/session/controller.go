// Package session implements the Session Controller (C1): it owns a
// call's lifecycle, wires the Recognition Worker, Turn Pipeline, and
// Media Reactor together, and registers itself in the process-wide
// registry.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/internal/registry"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// shutdownBudget bounds stop() end to end.
const shutdownBudget = 3 * time.Second

// AudioSinkPreparer prepares the ASR audio sink ahead of start, so no
// audio arriving before recognition starts is lost.
type AudioSinkPreparer interface {
	PrepareSink() error
}

// Stoppable is anything with an idempotent Stop.
type Stoppable interface {
	Stop()
}

// FrameHandler is the Media Reactor's inbound half.
type FrameHandler interface {
	HandleFrame(ctx context.Context, raw []byte)
}

// Runnable starts a background processing loop bound to ctx.
type Runnable interface {
	Run(ctx context.Context)
}

// Closer marks a connection disconnected on teardown.
type Closer interface {
	Close() error
}

// Snapshot is the read-only view returned by Snapshot(), for health
// endpoints.
type Snapshot struct {
	CallConnectionID string
	SessionID        string
	Stopped          bool
	GreetingPlayed   bool
	QueueDepth       int
	InflightAudio    int
}

// StatsSource lets the controller ask its sub-components for the counters
// a snapshot reports.
type StatsSource interface {
	GreetingPlayed() bool
}

type QueueDepthSource interface {
	QueueLen() int
}

type InflightSource interface {
	InflightCount() int
}

// Options configures a Controller.
type Options struct {
	CallConnectionID string
	SessionID        string
	Logger           orchestrator.Logger

	Worker   AudioSinkPreparer
	Pipeline interface {
		Stoppable
		Runnable
	}
	Reactor FrameHandler
	Conn    Closer

	Registry *registry.Registry

	// Stats sources, optional; nil entries are reported as zero values.
	Stats   StatsSource
	QueueDS QueueDepthSource
	InflDS  InflightSource

	WorkerStop func()

	// ShutdownBudget overrides how long Stop may take end to end. Zero
	// uses shutdownBudget.
	ShutdownBudget time.Duration
}

// Controller implements C1.
type Controller struct {
	callID    string
	sessionID string
	logger    orchestrator.Logger

	worker     AudioSinkPreparer
	workerStop func()
	pipeline   interface {
		Stoppable
		Runnable
	}
	reactor        FrameHandler
	conn           Closer
	registry       *registry.Registry
	shutdownBudget time.Duration

	stats   StatsSource
	queueDS QueueDepthSource
	inflDS  InflightSource

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	startErr  error

	mu      sync.Mutex
	stopped bool
	stopOnce sync.Once
}

// New constructs a Controller bound to a background context derived from
// context.Background(); callers that need external cancellation can still
// call Stop directly.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = orchestrator.NoOpLogger{}
	}
	budget := opts.ShutdownBudget
	if budget <= 0 {
		budget = shutdownBudget
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		callID:         opts.CallConnectionID,
		sessionID:      opts.SessionID,
		logger:         logger,
		worker:         opts.Worker,
		workerStop:     opts.WorkerStop,
		pipeline:       opts.Pipeline,
		reactor:        opts.Reactor,
		conn:           opts.Conn,
		registry:       opts.Registry,
		shutdownBudget: budget,
		stats:          opts.Stats,
		queueDS:        opts.QueueDS,
		inflDS:         opts.InflDS,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start brings the engine up. Idempotent.
func (c *Controller) Start() error {
	c.startOnce.Do(func() {
		if err := c.worker.PrepareSink(); err != nil {
			c.startErr = err
			return
		}
		c.pipeline.Run(c.ctx)
		if c.registry != nil {
			c.registry.Register(c.callID, c)
		}
	})
	return c.startErr
}

// HandleMedia accepts one inbound frame. Exceptions from the reactor are
// logged and swallowed; the session survives.
func (c *Controller) HandleMedia(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("session: recovered from panic handling media frame", "recover", r, "callId", c.callID)
		}
	}()
	c.reactor.HandleFrame(c.ctx, raw)
}

// Stop tears the engine down within the shutdown budget. Idempotent and
// never raises.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			c.pipeline.Stop()
			if c.workerStop != nil {
				c.workerStop()
			}
			if c.conn != nil {
				_ = c.conn.Close()
			}
			c.cancel()
		}()

		select {
		case <-done:
		case <-time.After(c.shutdownBudget):
			c.logger.Warn("session: stop exceeded shutdown budget, abandoning remaining teardown", "callId", c.callID)
		}

		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()

		if c.registry != nil {
			c.registry.Deregister(c.callID)
		}
	})
}

// Snapshot returns a read-only view for health checks.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()

	s := Snapshot{
		CallConnectionID: c.callID,
		SessionID:        c.sessionID,
		Stopped:          stopped,
	}
	if c.stats != nil {
		s.GreetingPlayed = c.stats.GreetingPlayed()
	}
	if c.queueDS != nil {
		s.QueueDepth = c.queueDS.QueueLen()
	}
	if c.inflDS != nil {
		s.InflightAudio = c.inflDS.InflightCount()
	}
	return s
}
