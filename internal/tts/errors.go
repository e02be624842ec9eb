package tts

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the controller after local recovery (retries,
// voice fallback) is exhausted.
var (
	// ErrInvalidInput reports empty or whitespace-only text, detected
	// before any facility call.
	ErrInvalidInput = errors.New("tts: empty text")

	// ErrVoicesUnavailable reports that the voice inventory did not load
	// within the inventory wait cap.
	ErrVoicesUnavailable = errors.New("tts: voice inventory unavailable")

	// ErrNoVoices reports an inventory that loaded but is empty.
	ErrNoVoices = errors.New("tts: no voices installed")

	// ErrTimeout reports that the adaptive per-utterance timeout elapsed.
	ErrTimeout = errors.New("tts: playback timed out")

	// ErrStartFailed reports a submission the facility accepted but never
	// started.
	ErrStartFailed = errors.New("tts: playback never started")

	// errStopped flows internally when Stop interrupts a playback; Speak
	// converts it to a clean return, never surfacing it to callers.
	errStopped = errors.New("tts: stopped")
)

// FallbackError reports that no speech facility is available. It carries
// the text so a caller can surface it through other means.
type FallbackError struct {
	Text string
}

func (e *FallbackError) Error() string {
	return "tts: speech facility unavailable, fallback required"
}

// SynthesisError carries the facility's error tag for a failed synthesis.
type SynthesisError struct {
	Tag string
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("tts: synthesis failed: %s", e.Tag)
}
