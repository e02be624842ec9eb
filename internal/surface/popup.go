package surface

import (
	"sync"

	"github.com/dhkwon/voxbridge/internal/bus"
)

// popupBuffer bounds the retained broadcast history per UI surface.
const popupBuffer = 64

// Popup is a UI surface: it retains the broadcasts a popup or options
// page would render and exposes them for polling. Consumers that fall
// behind lose the oldest events rather than blocking the bus.
type Popup struct {
	id string

	mu      sync.Mutex
	history []bus.Message
	events  chan bus.Message

	lastRecognition *bus.RecognitionState
	lastError       *bus.ErrorEvent
	playing         bool
}

// NewPopup builds a UI surface with the given registration ID.
func NewPopup(id string) *Popup {
	return &Popup{
		id:     id,
		events: make(chan bus.Message, popupBuffer),
	}
}

// ID implements [bus.Surface].
func (p *Popup) ID() string { return p.id }

// Deliver implements [bus.Surface]. Never blocks.
func (p *Popup) Deliver(m bus.Message) error {
	p.mu.Lock()
	p.history = append(p.history, m)
	if len(p.history) > popupBuffer {
		p.history = p.history[len(p.history)-popupBuffer:]
	}
	switch m.Type {
	case bus.TypeVoiceRecognitionState:
		if state, ok := m.Payload.(bus.RecognitionState); ok {
			p.lastRecognition = &state
		}
	case bus.TypeTTSError, bus.TypeError:
		if ev, ok := m.Payload.(bus.ErrorEvent); ok {
			p.lastError = &ev
		}
	case bus.TypeStarted:
		p.playing = true
	case bus.TypeCompleted, bus.TypeStopped:
		p.playing = false
	}
	p.mu.Unlock()

	select {
	case p.events <- m:
	default:
		// Drop the oldest buffered event to make room.
		select {
		case <-p.events:
		default:
		}
		select {
		case p.events <- m:
		default:
		}
	}
	return nil
}

// Events streams delivered broadcasts, oldest first, lossy on overflow.
func (p *Popup) Events() <-chan bus.Message { return p.events }

// History returns a copy of the retained broadcasts, oldest first.
func (p *Popup) History() []bus.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]bus.Message, len(p.history))
	copy(out, p.history)
	return out
}

// Recognition returns the last listening-state broadcast, if any.
func (p *Popup) Recognition() (bus.RecognitionState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastRecognition == nil {
		return bus.RecognitionState{}, false
	}
	return *p.lastRecognition, true
}

// LastError returns the last error broadcast, if any.
func (p *Popup) LastError() (bus.ErrorEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastError == nil {
		return bus.ErrorEvent{}, false
	}
	return *p.lastError, true
}

// Playing reports whether the last lifecycle broadcast left playback
// running.
func (p *Popup) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}
