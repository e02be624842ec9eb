// Package surface holds the delivery endpoints registered on the bus: the
// playback surface that owns the speech controller, and the UI surfaces
// that consume broadcasts.
package surface

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dhkwon/voxbridge/internal/bus"
	"github.com/dhkwon/voxbridge/internal/friendly"
	"github.com/dhkwon/voxbridge/internal/tts"
	"github.com/dhkwon/voxbridge/pkg/speech"
)

// PlaybackID is the registration ID of the playback surface.
const PlaybackID = "playback"

// Playback owns the speech controller and executes TTS_*_EXECUTE
// broadcasts. Lifecycle transitions are posted back onto the bus so the
// relay handlers fan them out to UI surfaces.
type Playback struct {
	bus *bus.Bus
	ctl *tts.Controller

	mu        sync.Mutex
	reqSeq    uint64 // bumped on every execute or stop request
	cancelCur context.CancelFunc

	// speakMu serializes playback runs so concurrent execute broadcasts
	// cannot race each other into the controller.
	speakMu sync.Mutex

	ctx context.Context
}

// NewPlayback builds the playback surface and its controller. The
// controller's signal hook is owned by the surface; cfg.Notify is
// overwritten. ctx bounds playback started from broadcasts.
func NewPlayback(ctx context.Context, b *bus.Bus, fac speech.Facility, cfg tts.Config) *Playback {
	s := &Playback{bus: b, ctx: ctx}
	cfg.Notify = s.onSignal
	s.ctl = tts.New(fac, cfg)
	return s
}

// Controller exposes the owned controller, for directed use and tests.
func (s *Playback) Controller() *tts.Controller { return s.ctl }

// ID implements [bus.Surface].
func (s *Playback) ID() string { return PlaybackID }

// Deliver implements [bus.Surface]. Execute messages are acted on; other
// broadcasts are ignored. Speech runs on its own goroutine so delivery
// never blocks the fan-out.
func (s *Playback) Deliver(m bus.Message) error {
	switch m.Type {
	case bus.TypeExecute:
		p, ok := m.Payload.(bus.ExecutePayload)
		if !ok {
			return fmt.Errorf("surface: unexpected payload %T for %s", m.Payload, m.Type)
		}
		ctx, seq := s.supersede()
		go s.speak(ctx, seq, p.Text, p.Options)
	case bus.TypeStopExecute:
		s.supersedeForStop()
		s.ctl.Stop()
		s.post(bus.TypeStopped, bus.PlaybackEvent{})
	case bus.TypePauseExecute:
		s.ctl.Pause()
	case bus.TypeResumeExecute:
		s.ctl.Resume()
	}
	return nil
}

// supersede registers a new playback request: whatever currently holds the
// turn is cancelled and the new request gets its own context and sequence
// number.
func (s *Playback) supersede() (context.Context, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelCur != nil {
		s.cancelCur()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelCur = cancel
	s.reqSeq++
	return ctx, s.reqSeq
}

// supersedeForStop invalidates the current request and any queued one
// without installing a successor.
func (s *Playback) supersedeForStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelCur != nil {
		s.cancelCur()
		s.cancelCur = nil
	}
	s.reqSeq++
}

func (s *Playback) currentReqSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqSeq
}

// speak runs one playback to its terminal state and reports the outcome.
// Runs are serialized; the newest request cancels the holder of the turn,
// so the wait here stays short. A playback ended by a stop or replaced by
// a newer request reports nothing (the stop path posts TTS_STOPPED, the
// replacement reports its own lifecycle).
func (s *Playback) speak(ctx context.Context, seq uint64, text string, opts tts.Options) {
	s.speakMu.Lock()
	defer s.speakMu.Unlock()
	if s.currentReqSeq() != seq {
		return
	}
	// Clear leftover controller state from the run that just yielded.
	s.ctl.Stop()

	err := s.ctl.Speak(ctx, text, opts)
	switch {
	case s.currentReqSeq() != seq:
		// Superseded mid-playback.
	case err == nil:
		s.post(bus.TypeCompleted, bus.PlaybackEvent{Text: text})
	case errors.Is(err, context.Canceled):
		// Shutting down; nothing left to report.
	default:
		slog.Warn("playback failed", "error", err)
		s.post(bus.TypeTTSError, bus.ErrorEvent{
			Text:   text,
			Error:  err.Error(),
			Notice: friendly.ForError(err),
		})
	}
}

// onSignal receives controller signals. Posts happen on a fresh goroutine
// because the hook must not block.
func (s *Playback) onSignal(sig tts.Signal) {
	switch sig.Kind {
	case tts.SignalStarted:
		s.post(bus.TypeStarted, bus.PlaybackEvent{})
	case tts.SignalRetry:
		slog.Debug("playback retry scheduled", "attempt", sig.Attempt, "delay", sig.Delay, "error", sig.Err)
	case tts.SignalVoiceFallback:
		s.post(bus.TypeError, bus.ErrorEvent{
			Error: fmt.Sprintf("voice %q unavailable, using %q", sig.RequestedVoice, sig.ChosenVoice),
			Notice: friendly.Notice{
				Title:       "Voice substituted",
				Description: "The requested voice is not installed; a similar one was used.",
				Action:      "Pick an installed voice in settings to silence this notice.",
			},
		})
	}
}

func (s *Playback) post(t bus.Type, payload any) {
	m := bus.NewMessage(t, payload, PlaybackID)
	go func() {
		if r := s.bus.Post(s.ctx, m); !r.Success {
			slog.Debug("lifecycle post rejected", "type", t, "error", r.Error)
		}
	}()
}

// Dispose stops playback and releases the controller.
func (s *Playback) Dispose() {
	s.ctl.Dispose()
}
