package registry

import (
	"testing"
	"time"
)

type fakeHandle struct {
	stopped bool
}

func (f *fakeHandle) Stop() { f.stopped = true }

func TestRegisterGetCount(t *testing.T) {
	r := New()
	defer r.Close()

	h := &fakeHandle{}
	r.Register("call-1", h)

	got, ok := r.Get("call-1")
	if !ok {
		t.Fatalf("expected call-1 to be registered")
	}
	if got != h {
		t.Fatalf("expected to get back the same handle")
	}
	if r.Count() != 1 {
		t.Fatalf("expected count 1, got %d", r.Count())
	}
	if r.AllocationsTotal() != 1 {
		t.Fatalf("expected allocations total 1, got %d", r.AllocationsTotal())
	}
}

func TestDeregisterEventuallyRemoves(t *testing.T) {
	r := New()
	defer r.Close()

	r.Register("call-1", &fakeHandle{})
	r.Deregister("call-1")

	deadline := time.After(time.Second)
	for {
		if r.Count() == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected call-1 to be removed from the registry")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestForEach(t *testing.T) {
	r := New()
	defer r.Close()

	r.Register("a", &fakeHandle{})
	r.Register("b", &fakeHandle{})

	seen := map[string]bool{}
	r.ForEach(func(id string, handle SessionHandle) {
		seen[id] = true
	})

	if len(seen) != 2 {
		t.Fatalf("expected to visit 2 sessions, visited %d", len(seen))
	}
}
