// Package mock provides a scriptable test double for the speech.Facility
// interface.
//
// The zero value behaves like a healthy facility with no voices: every
// submission starts almost immediately and ends shortly after. Tests script
// failures through the exported fields:
//
//	f := &mock.Facility{
//	    VoicesResult: []speech.Voice{{Name: "Yuna", Lang: "ko-KR"}},
//	    ErrorTags:    []string{"synthesis-failed", "synthesis-failed", ""},
//	}
//
// The example fails the first two submissions with the given error tag and
// lets the third complete — the shape of a retry-then-succeed test.
package mock

import (
	"sync"
	"time"

	"github.com/dhkwon/voxbridge/pkg/speech"
)

// Facility is a mock implementation of [speech.Facility].
type Facility struct {
	mu sync.Mutex

	// --- Configurable behaviour ---

	// VoicesResult is returned by Voices. Use SetVoices to change it and
	// signal VoicesChanged.
	VoicesResult []speech.Voice

	// SpeakErr, if non-nil, is returned by every call to Speak.
	SpeakErr error

	// ErrorTags scripts per-submission synthesis failures: submission i
	// fires OnError(ErrorTags[i]) instead of OnEnd when the tag is
	// non-empty. Submissions beyond the slice succeed.
	ErrorTags []string

	// NeverStart, when true, accepts submissions but never fires any
	// lifecycle hook — the shape of a start-watchdog test.
	NeverStart bool

	// StartDelay is the time between Speak and OnStart. Default 1ms.
	StartDelay time.Duration

	// Duration is the time between OnStart and OnEnd. Default 5ms.
	Duration time.Duration

	// CancelPanics, when true, makes Cancel panic. Used to verify that
	// stop forces the controller to idle even when the facility misbehaves.
	CancelPanics bool

	// --- Call records ---

	// SpeakCalls records a copy of every submitted utterance in order.
	SpeakCalls []speech.Utterance

	// CancelCalls counts calls to Cancel.
	CancelCalls int

	// --- Internal state ---

	speaking bool
	pending  bool
	paused   bool
	seq      int
	current  chan struct{} // closed on cancel of the active playback

	voicesCh chan struct{}
	initOnce sync.Once
}

// Compile-time interface assertion.
var _ speech.Facility = (*Facility)(nil)

func (f *Facility) init() {
	f.initOnce.Do(func() {
		f.voicesCh = make(chan struct{}, 1)
	})
}

// Speak records the call and, unless scripted otherwise, drives the
// utterance through start and end (or error) on a background goroutine.
func (f *Facility) Speak(u *speech.Utterance) error {
	f.init()
	f.mu.Lock()
	if f.SpeakErr != nil {
		err := f.SpeakErr
		f.mu.Unlock()
		return err
	}
	f.SpeakCalls = append(f.SpeakCalls, *u)
	idx := f.seq
	f.seq++

	var tag string
	if idx < len(f.ErrorTags) {
		tag = f.ErrorTags[idx]
	}
	if f.NeverStart {
		f.pending = true
		f.mu.Unlock()
		return nil
	}

	cancel := make(chan struct{})
	f.current = cancel
	f.pending = true
	startDelay := f.StartDelay
	if startDelay <= 0 {
		startDelay = time.Millisecond
	}
	duration := f.Duration
	if duration <= 0 {
		duration = 5 * time.Millisecond
	}
	f.mu.Unlock()

	// Play against a copy so later resets of the caller's utterance (pool
	// reuse) cannot race with hook delivery.
	cp := *u
	go f.play(&cp, cancel, tag, startDelay, duration)
	return nil
}

func (f *Facility) play(u *speech.Utterance, cancel chan struct{}, tag string, startDelay, duration time.Duration) {
	select {
	case <-cancel:
		f.clear()
		return
	case <-time.After(startDelay):
	}

	f.mu.Lock()
	f.pending = false
	f.speaking = true
	f.mu.Unlock()
	if u.OnStart != nil {
		u.OnStart()
	}

	if tag != "" {
		f.clear()
		if u.OnError != nil {
			u.OnError(tag)
		}
		return
	}

	deadline := time.After(duration)
	for {
		select {
		case <-cancel:
			f.clear()
			return
		case <-deadline:
			f.mu.Lock()
			paused := f.paused
			f.mu.Unlock()
			if paused {
				// Hold completion until resumed.
				deadline = time.After(duration)
				continue
			}
			f.clear()
			if u.OnEnd != nil {
				u.OnEnd()
			}
			return
		}
	}
}

func (f *Facility) clear() {
	f.mu.Lock()
	f.speaking = false
	f.pending = false
	f.paused = false
	f.current = nil
	f.mu.Unlock()
}

// Cancel discards the active playback without firing further hooks.
func (f *Facility) Cancel() {
	f.mu.Lock()
	f.CancelCalls++
	if f.CancelPanics {
		f.mu.Unlock()
		panic("mock facility: cancel")
	}
	current := f.current
	f.current = nil
	f.speaking = false
	f.pending = false
	f.paused = false
	f.mu.Unlock()
	if current != nil {
		close(current)
	}
}

// Pause marks playback paused and fires OnPause of the last submission.
func (f *Facility) Pause() {
	f.mu.Lock()
	var u *speech.Utterance
	if f.speaking && !f.paused {
		f.paused = true
		if n := len(f.SpeakCalls); n > 0 {
			u = &f.SpeakCalls[n-1]
		}
	}
	f.mu.Unlock()
	if u != nil && u.OnPause != nil {
		u.OnPause()
	}
}

// Resume clears the paused flag and fires OnResume of the last submission.
func (f *Facility) Resume() {
	f.mu.Lock()
	var u *speech.Utterance
	if f.paused {
		f.paused = false
		if n := len(f.SpeakCalls); n > 0 {
			u = &f.SpeakCalls[n-1]
		}
	}
	f.mu.Unlock()
	if u != nil && u.OnResume != nil {
		u.OnResume()
	}
}

// Voices returns VoicesResult.
func (f *Facility) Voices() []speech.Voice {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]speech.Voice, len(f.VoicesResult))
	copy(out, f.VoicesResult)
	return out
}

// SetVoices replaces the inventory and signals VoicesChanged.
func (f *Facility) SetVoices(voices []speech.Voice) {
	f.init()
	f.mu.Lock()
	f.VoicesResult = voices
	f.mu.Unlock()
	select {
	case f.voicesCh <- struct{}{}:
	default:
	}
}

// VoicesChanged returns the inventory-change signal channel.
func (f *Facility) VoicesChanged() <-chan struct{} {
	f.init()
	return f.voicesCh
}

// Speaking reports whether a scripted playback is between start and end.
func (f *Facility) Speaking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speaking
}

// Pending reports whether a submission has not yet started.
func (f *Facility) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

// Paused reports whether playback is paused.
func (f *Facility) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

// Reset clears all recorded calls and scripted state. Thread-safe.
func (f *Facility) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SpeakCalls = nil
	f.CancelCalls = 0
	f.seq = 0
	f.speaking = false
	f.pending = false
	f.paused = false
}
