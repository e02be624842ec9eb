// Package speech defines the contract between voxbridge and the host
// text-to-speech facility.
//
// A Facility wraps whatever the platform offers for speech synthesis (a
// local espeak binary, the macOS `say` command, or a test double) behind a
// uniform submit/cancel/pause/resume surface. Submission is asynchronous:
// the facility reports progress through the lifecycle hooks attached to the
// submitted [Utterance].
//
// Implementations must be safe for concurrent use.
package speech

import "errors"

// ErrUnsupported is returned when no speech facility is available on the
// host platform.
var ErrUnsupported = errors.New("speech: no facility available")

// Valid parameter ranges for an [Utterance]. Values outside these ranges
// must be clamped before submission; facilities may refuse out-of-range
// utterances outright.
const (
	RateMin   = 0.1
	RateMax   = 10.0
	PitchMin  = 0.0
	PitchMax  = 2.0
	VolumeMin = 0.0
	VolumeMax = 1.0
)

// Voice describes one entry of the facility's voice inventory. The record
// is owned by the facility; voxbridge references voices only by Name or URI.
type Voice struct {
	// Name is the human-readable voice name (e.g. "Yuna", "ko-KR-Standard-A").
	Name string

	// Lang is the BCP 47 language tag of the voice (e.g. "ko-KR").
	Lang string

	// URI is an opaque facility-specific identifier. May equal Name.
	URI string

	// LocalService reports whether synthesis runs on the local machine.
	LocalService bool

	// Default marks the facility's preferred voice.
	Default bool
}

// Utterance is a one-shot playback handle: text, effective tuning, the
// selected voice, and lifecycle hooks. An Utterance is owned by exactly one
// caller during a single playback and may be pooled between playbacks via
// [Utterance.Reset].
//
// Hooks are invoked by the facility from its own goroutine; any hook may be
// nil. For one submission the facility observes the order
// start, (pause/resume)*, then exactly one of end or error.
type Utterance struct {
	Text string

	// VoiceName selects a voice by name or URI. Empty means the platform
	// default voice.
	VoiceName string

	Rate   float64
	Pitch  float64
	Volume float64
	Lang   string

	OnStart  func()
	OnEnd    func()
	OnError  func(tag string)
	OnPause  func()
	OnResume func()
}

// Reset clears all fields so the Utterance can be returned to a pool
// without retaining text or hook references.
func (u *Utterance) Reset() {
	*u = Utterance{}
}

// Facility is the host speech engine. At most one utterance is speaking at
// a time; submitting while speaking is facility-defined, so callers should
// Cancel first.
type Facility interface {
	// Speak submits u for asynchronous playback. A non-nil error means the
	// submission was refused outright; errors during synthesis are reported
	// through u.OnError.
	Speak(u *Utterance) error

	// Cancel discards the current and any pending utterances.
	Cancel()

	// Pause suspends the current utterance, if any.
	Pause()

	// Resume continues a paused utterance, if any.
	Resume()

	// Voices returns the current voice inventory. May be empty while the
	// facility is still enumerating voices; VoicesChanged signals updates.
	Voices() []Voice

	// VoicesChanged returns a channel that receives a value whenever the
	// voice inventory changes.
	VoicesChanged() <-chan struct{}

	// Speaking reports whether an utterance is currently being synthesised.
	Speaking() bool

	// Pending reports whether an utterance is queued but not yet started.
	Pending() bool

	// Paused reports whether playback is currently paused.
	Paused() bool
}

// ClampRate forces r into [RateMin, RateMax].
func ClampRate(r float64) float64 {
	return clamp(r, RateMin, RateMax)
}

// ClampPitch forces p into [PitchMin, PitchMax].
func ClampPitch(p float64) float64 {
	return clamp(p, PitchMin, PitchMax)
}

// ClampVolume forces v into [VolumeMin, VolumeMax].
func ClampVolume(v float64) float64 {
	return clamp(v, VolumeMin, VolumeMax)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
