package recognition

import "testing"

func TestShouldTriggerBargeInBoundary(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"abc", false},  // length exactly 3 -> no barge-in
		{"abcd", true},  // length 4 -> barge-in
		{"", false},
	}
	for _, tc := range cases {
		if got := shouldTriggerBargeIn(tc.text); got != tc.want {
			t.Errorf("shouldTriggerBargeIn(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestShouldEnqueueFinalBoundary(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"a", false},  // length exactly 1 -> discarded
		{"ab", true},  // length 2 -> enqueued
		{"", false},
	}
	for _, tc := range cases {
		if got := shouldEnqueueFinal(tc.text); got != tc.want {
			t.Errorf("shouldEnqueueFinal(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestPrepareSinkBeforeStartRequired(t *testing.T) {
	w := New("dummy-key", "eastus", "en-US", Callbacks{}, nil)
	if err := w.Start(); err != ErrSinkNotPrepared {
		t.Fatalf("expected ErrSinkNotPrepared when Start is called before PrepareSink, got %v", err)
	}
}

func TestWriteAudioBeforePrepareReturnsError(t *testing.T) {
	w := New("dummy-key", "eastus", "en-US", Callbacks{}, nil)
	if err := w.WriteAudio([]byte{1, 2, 3}); err != ErrSinkNotPrepared {
		t.Fatalf("expected ErrSinkNotPrepared, got %v", err)
	}
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	w := New("dummy-key", "eastus", "en-US", Callbacks{}, nil)
	w.Stop() // must not panic
}
