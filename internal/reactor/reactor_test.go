package reactor

import (
	"context"
	"encoding/base64"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/internal/turn"
)

type mockAudioSink struct {
	mu    sync.Mutex
	bytes []byte
}

func (m *mockAudioSink) WriteAudio(pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes = append(m.bytes, pcm...)
	return nil
}

func (m *mockAudioSink) received() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.bytes))
	copy(out, m.bytes)
	return out
}

type mockTurnQueue struct {
	mu     sync.Mutex
	events []turn.Event
}

func (m *mockTurnQueue) Enqueue(ev turn.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockTurnQueue) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type mockCanceller struct {
	calls int32
}

func (m *mockCanceller) CancelCurrent() {
	atomic.AddInt32(&m.calls, 1)
}

type mockConn struct {
	connected   bool
	stopAudios  int32
}

func (m *mockConn) Connected() bool { return m.connected }

func (m *mockConn) SendStopAudio(ctx context.Context) error {
	atomic.AddInt32(&m.stopAudios, 1)
	return nil
}

func TestGreetingEnqueuedOnceOnFirstMetadata(t *testing.T) {
	turns := &mockTurnQueue{}
	started := int32(0)
	r := New(Options{
		CallID:       "call-1",
		GreetingText: "hello there",
		Turns:        turns,
	})
	r.SetRecognizerStarter(func() error {
		atomic.AddInt32(&started, 1)
		return nil
	})

	r.HandleFrame(context.Background(), []byte(`{"kind":"AudioMetadata","audioMetadata":{"subscriptionId":"s","encoding":"PCM","sampleRate":16000,"channels":1}}`))
	r.HandleFrame(context.Background(), []byte(`{"kind":"AudioMetadata","audioMetadata":{"subscriptionId":"s","encoding":"PCM","sampleRate":16000,"channels":1}}`))

	if atomic.LoadInt32(&started) != 1 {
		t.Fatalf("expected recognizer start exactly once, got %d", started)
	}
	if turns.count() != 1 {
		t.Fatalf("expected exactly one greeting event, got %d", turns.count())
	}
	if !r.GreetingPlayed() {
		t.Fatalf("expected greetingPlayed to be true")
	}
}

func TestSilentAudioDataIsDropped(t *testing.T) {
	sink := &mockAudioSink{}
	r := New(Options{CallID: "call-1", Turns: &mockTurnQueue{}})
	r.SetAudioSink(sink)

	silent := true
	_ = silent
	r.HandleFrame(context.Background(), []byte(`{"kind":"AudioData","audioData":{"data":"AAAA","silent":true}}`))

	time.Sleep(10 * time.Millisecond)
	if len(sink.received()) != 0 {
		t.Fatalf("expected silent audio to be dropped")
	}
}

func TestNonSilentAudioDataReachesSink(t *testing.T) {
	sink := &mockAudioSink{}
	r := New(Options{CallID: "call-1", Turns: &mockTurnQueue{}})
	r.SetAudioSink(sink)

	payload := make([]byte, 320)
	encoded := base64.StdEncoding.EncodeToString(payload)
	frame := []byte(`{"kind":"AudioData","audioData":{"data":"` + encoded + `","silent":false}}`)
	r.HandleFrame(context.Background(), frame)

	deadline := time.After(time.Second)
	for len(sink.received()) != 320 {
		select {
		case <-deadline:
			t.Fatalf("expected recognizer to receive 320 bytes, got %d", len(sink.received()))
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestBargeInCancelsTurnAndSendsStopAudioOnce(t *testing.T) {
	canceller := &mockCanceller{}
	conn := &mockConn{connected: true}
	r := New(Options{CallID: "call-1", Turns: &mockTurnQueue{}, Canceller: canceller, Conn: conn})

	r.TriggerBargeIn()
	r.TriggerBargeIn() // should coalesce, no additional StopAudio

	if atomic.LoadInt32(&canceller.calls) != 1 {
		t.Fatalf("expected CancelCurrent called once, got %d", canceller.calls)
	}
	if atomic.LoadInt32(&conn.stopAudios) != 1 {
		t.Fatalf("expected exactly one StopAudio frame, got %d", conn.stopAudios)
	}
}

func TestBargeInSkipsSendWhenDisconnected(t *testing.T) {
	canceller := &mockCanceller{}
	conn := &mockConn{connected: false}
	r := New(Options{CallID: "call-1", Turns: &mockTurnQueue{}, Canceller: canceller, Conn: conn})

	r.TriggerBargeIn()

	if atomic.LoadInt32(&conn.stopAudios) != 0 {
		t.Fatalf("expected no StopAudio frame sent while disconnected")
	}
}

func TestMalformedFrameIsDropped(t *testing.T) {
	r := New(Options{CallID: "call-1", Turns: &mockTurnQueue{}})
	r.HandleFrame(context.Background(), []byte(`not json`)) // must not panic
}
