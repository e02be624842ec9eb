package tts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dhkwon/voxbridge/pkg/speech"
)

// Voice inventory tuning.
const (
	// voicesWaitCap bounds how long Voices waits for the facility's
	// inventory-changed signal when the first enumeration is empty.
	voicesWaitCap = 5 * time.Second

	minVoicesTTL     = time.Minute
	maxVoicesTTL     = 30 * time.Minute
	defaultVoicesTTL = 5 * time.Minute
)

// Voices returns the facility's voice inventory, cached for the configured
// TTL. When the first enumeration is empty it waits for the facility's
// inventory-changed signal up to five seconds, then fails with
// [ErrVoicesUnavailable] (signal never came) or [ErrNoVoices] (signal came,
// inventory still empty).
func (c *Controller) Voices(ctx context.Context) ([]speech.Voice, error) {
	if c.fac == nil {
		return nil, speech.ErrUnsupported
	}

	c.mu.Lock()
	if c.voices != nil && c.now().Before(c.voicesExpiry) {
		cached := append([]speech.Voice(nil), c.voices...)
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	voices := c.fac.Voices()
	if len(voices) == 0 {
		select {
		case <-c.fac.VoicesChanged():
			voices = c.fac.Voices()
		case <-time.After(voicesWaitCap):
			return nil, ErrVoicesUnavailable
		case <-ctx.Done():
			return nil, fmt.Errorf("tts: load voices: %w", ctx.Err())
		}
		if len(voices) == 0 {
			return nil, ErrNoVoices
		}
	}

	c.mu.Lock()
	c.voices = voices
	c.voicesExpiry = c.now().Add(c.voicesTTL)
	c.mu.Unlock()
	return append([]speech.Voice(nil), voices...), nil
}

// selection levels of the voice fallback ladder.
const (
	matchExact = iota
	matchLanguage
	matchDefault
	matchNone
)

// selectVoice walks the fallback ladder: exact name/URI match, same
// language family, the facility default (else first), then no assignment.
// Returns the chosen voice (nil for no assignment) and the ladder level
// that produced it.
func selectVoice(requested, lang string, voices []speech.Voice) (*speech.Voice, int) {
	if requested != "" {
		for i := range voices {
			if voices[i].Name == requested || voices[i].URI == requested {
				return &voices[i], matchExact
			}
		}
	}

	if family := languageFamily(lang); family != "" {
		for i := range voices {
			if languageFamily(voices[i].Lang) == family {
				return &voices[i], matchLanguage
			}
		}
	}

	for i := range voices {
		if voices[i].Default {
			return &voices[i], matchDefault
		}
	}
	if len(voices) > 0 {
		return &voices[0], matchDefault
	}
	return nil, matchNone
}

// languageFamily returns the primary subtag of a BCP 47 tag ("ko-KR" → "ko").
func languageFamily(lang string) string {
	if lang == "" {
		return ""
	}
	if i := strings.IndexByte(lang, '-'); i >= 0 {
		return strings.ToLower(lang[:i])
	}
	return strings.ToLower(lang)
}
