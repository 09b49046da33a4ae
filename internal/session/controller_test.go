package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/internal/registry"
)

type mockWorker struct {
	prepared int32
}

func (m *mockWorker) PrepareSink() error {
	atomic.AddInt32(&m.prepared, 1)
	return nil
}

type mockPipeline struct {
	mu       sync.Mutex
	running  bool
	stopped  int32
}

func (m *mockPipeline) Run(ctx context.Context) {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
}

func (m *mockPipeline) Stop() {
	atomic.AddInt32(&m.stopped, 1)
}

type mockReactor struct {
	frames int32
}

func (m *mockReactor) HandleFrame(ctx context.Context, raw []byte) {
	atomic.AddInt32(&m.frames, 1)
}

type mockConn struct {
	closed int32
}

func (m *mockConn) Close() error {
	atomic.AddInt32(&m.closed, 1)
	return nil
}

func TestStartIsIdempotent(t *testing.T) {
	worker := &mockWorker{}
	pipeline := &mockPipeline{}
	reg := registry.New()
	defer reg.Close()

	c := New(Options{
		CallConnectionID: "call-1",
		Worker:           worker,
		Pipeline:         pipeline,
		Reactor:          &mockReactor{},
		Conn:             &mockConn{},
		Registry:         reg,
	})

	if err := c.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("unexpected error on second start: %v", err)
	}

	if atomic.LoadInt32(&worker.prepared) != 1 {
		t.Fatalf("expected PrepareSink called exactly once, got %d", worker.prepared)
	}
	if reg.Count() != 1 {
		t.Fatalf("expected session registered exactly once, got count %d", reg.Count())
	}
}

func TestStopIsIdempotentAndDeregisters(t *testing.T) {
	worker := &mockWorker{}
	pipeline := &mockPipeline{}
	conn := &mockConn{}
	reg := registry.New()
	defer reg.Close()

	c := New(Options{
		CallConnectionID: "call-1",
		Worker:           worker,
		Pipeline:         pipeline,
		Reactor:          &mockReactor{},
		Conn:             conn,
		Registry:         reg,
	})
	_ = c.Start()

	c.Stop()
	c.Stop()

	if atomic.LoadInt32(&pipeline.stopped) != 1 {
		t.Fatalf("expected pipeline stopped exactly once, got %d", pipeline.stopped)
	}
	if atomic.LoadInt32(&conn.closed) != 1 {
		t.Fatalf("expected conn closed exactly once, got %d", conn.closed)
	}

	deadline := time.After(time.Second)
	for reg.Count() != 0 {
		select {
		case <-deadline:
			t.Fatalf("expected session deregistered")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	snap := c.Snapshot()
	if !snap.Stopped {
		t.Fatalf("expected snapshot to report stopped")
	}
}

func TestHandleMediaSwallowsPanics(t *testing.T) {
	worker := &mockWorker{}
	c := New(Options{
		CallConnectionID: "call-1",
		Worker:           worker,
		Pipeline:         &mockPipeline{},
		Reactor:          panicReactor{},
		Conn:             &mockConn{},
	})
	_ = c.Start()

	c.HandleMedia([]byte("frame")) // must not panic the test
}

type panicReactor struct{}

func (panicReactor) HandleFrame(ctx context.Context, raw []byte) {
	panic("boom")
}
