// Package recognition drives a streaming ASR source on its own callback
// thread and fans results out to the rest of the engine without ever
// blocking that thread (the Recognition Worker, C2).
package recognition

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Microsoft/cognitive-services-speech-sdk-go/audio"
	"github.com/Microsoft/cognitive-services-speech-sdk-go/speech"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

const (
	pcmSampleRate        = 16000
	pcmBitsPerSample     = 16
	pcmChannels          = 1
	writeAudioTimeout    = 500 * time.Millisecond
	stopJoinTimeout      = 2 * time.Second
	partialBargeInLength = 3 // trimmed length > this triggers barge-in
	finalMinLength       = 1 // trimmed length > this is enqueued
)

// Callbacks are invoked from the ASR's own callback thread. Implementations
// must not block; they hand results off via non-blocking primitives.
type Callbacks struct {
	OnPartial func(text, language string)
	OnFinal   func(text, language string)
	OnError   func(message string)
}

// Worker wraps an Azure Cognitive Services streaming speech recognizer.
type Worker struct {
	subscriptionKey string
	region          string
	language        string
	cb              Callbacks
	logger          orchestrator.Logger

	mu         sync.Mutex
	stream     *audio.PushAudioInputStream
	recognizer *speech.SpeechRecognizer
	started    bool
	generation int32
}

// New constructs a Worker. Recognition does not begin until Start is
// called.
func New(subscriptionKey, region, language string, cb Callbacks, logger orchestrator.Logger) *Worker {
	if logger == nil {
		logger = orchestrator.NoOpLogger{}
	}
	if language == "" {
		language = "en-US"
	}
	return &Worker{
		subscriptionKey: subscriptionKey,
		region:          region,
		language:        language,
		cb:              cb,
		logger:          logger,
	}
}

// PrepareSink creates the audio input sink ahead of Start, so no audio
// arriving before recognition starts is lost. Safe to call more than once;
// safe to call before Start.
func (w *Worker) PrepareSink() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stream != nil {
		return nil
	}

	format, err := audio.NewAudioStreamFormatUsingPCM(pcmSampleRate, pcmBitsPerSample, pcmChannels)
	if err != nil {
		return fmt.Errorf("recognition: create audio stream format: %w", err)
	}
	defer format.Close()

	stream, err := audio.CreatePushAudioInputStreamFromFormat(format)
	if err != nil {
		return fmt.Errorf("recognition: create push audio input stream: %w", err)
	}
	w.stream = stream
	return nil
}

// Start begins continuous recognition. Idempotent. Must be called after
// the first AudioMetadata frame and before audio is written.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if w.stream == nil {
		return ErrSinkNotPrepared
	}

	audioConfig, err := audio.NewAudioConfigFromStreamInput(w.stream)
	if err != nil {
		return fmt.Errorf("recognition: create audio config: %w", err)
	}
	defer audioConfig.Close()

	speechConfig, err := speech.NewSpeechConfigFromSubscription(w.subscriptionKey, w.region)
	if err != nil {
		return fmt.Errorf("recognition: create speech config: %w", err)
	}
	defer speechConfig.Close()
	speechConfig.SetSpeechRecognitionLanguage(w.language)

	recognizer, err := speech.NewSpeechRecognizerFromConfig(speechConfig, audioConfig)
	if err != nil {
		return fmt.Errorf("recognition: create speech recognizer: %w", err)
	}

	generation := atomic.LoadInt32(&w.generation)
	recognizer.Recognizing(func(event speech.SpeechRecognitionEventArgs) {
		defer event.Close()
		if atomic.LoadInt32(&w.generation) != generation {
			return // stale callback from a superseded session
		}
		text := strings.TrimSpace(event.Result.Text)
		if shouldTriggerBargeIn(text) && w.cb.OnPartial != nil {
			w.cb.OnPartial(text, w.language)
		}
	})
	recognizer.Recognized(func(event speech.SpeechRecognitionEventArgs) {
		defer event.Close()
		if atomic.LoadInt32(&w.generation) != generation {
			return
		}
		text := strings.TrimSpace(event.Result.Text)
		if shouldEnqueueFinal(text) && w.cb.OnFinal != nil {
			w.cb.OnFinal(text, w.language)
		}
	})
	recognizer.Canceled(func(event speech.SpeechRecognitionCanceledEventArgs) {
		defer event.Close()
		if atomic.LoadInt32(&w.generation) != generation {
			return
		}
		if w.cb.OnError != nil {
			w.cb.OnError(event.ErrorDetails)
		}
	})

	recognizer.StartContinuousRecognitionAsync()
	w.recognizer = recognizer
	w.started = true
	return nil
}

// WriteAudio hands raw PCM bytes to the ASR sink, bounded by a 0.5s
// per-chunk timeout; on timeout the chunk is dropped with a warning rather
// than blocking the caller.
func (w *Worker) WriteAudio(pcm []byte) error {
	w.mu.Lock()
	stream := w.stream
	w.mu.Unlock()
	if stream == nil {
		return ErrSinkNotPrepared
	}

	done := make(chan error, 1)
	go func() {
		done <- stream.Write(pcm)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(writeAudioTimeout):
		w.logger.Warn("recognition: writeAudio timed out, dropping chunk", "bytes", len(pcm))
		return nil
	}
}

// Stop halts recognition and joins the recognizer with a bounded timeout.
// Idempotent.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	atomic.AddInt32(&w.generation, 1) // invalidate any in-flight callbacks
	recognizer := w.recognizer
	stream := w.stream
	w.started = false
	w.recognizer = nil
	w.stream = nil
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		if recognizer != nil {
			<-recognizer.StopContinuousRecognitionAsync()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		w.logger.Warn("recognition: stop did not join within timeout")
	}

	if recognizer != nil {
		recognizer.Close()
	}
	if stream != nil {
		stream.CloseStream()
	}
}

// shouldTriggerBargeIn reports whether a partial result is substantial
// enough to interrupt playback: trimmed length must exceed 3 characters to
// avoid spurious interruptions on noise.
func shouldTriggerBargeIn(trimmedText string) bool {
	return len(trimmedText) > partialBargeInLength
}

// shouldEnqueueFinal reports whether a final result is worth routing to
// the turn pipeline rather than discarded as noise.
func shouldEnqueueFinal(trimmedText string) bool {
	return len(trimmedText) > finalMinLength
}
