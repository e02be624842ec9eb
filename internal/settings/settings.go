// Package settings is the single source of truth for user configuration.
//
// The persisted document has three fixed sections (tts, ui, detection).
// Loading always yields a complete [Settings]: missing fields fill in from
// [Defaults] through a schema-driven merge, never from arbitrary input.
// All mutation goes through [Store].
package settings

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// languagePattern is the accepted shape for TTS language codes, a strict
// two-part BCP 47 tag such as "ko-KR".
var languagePattern = regexp.MustCompile(`^[a-z]{2}-[A-Z]{2}$`)

// Themes accepted by Validate.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
	ThemeAuto  = "auto"
)

// Settings is the complete user configuration document.
type Settings struct {
	TTS       TTS       `json:"tts"`
	UI        UI        `json:"ui"`
	Detection Detection `json:"detection"`
}

// TTS holds default playback parameters.
type TTS struct {
	// Voice is the preferred voice name or URI. Empty selects the platform
	// default.
	Voice string `json:"voice"`

	// Rate is the speaking-rate multiplier in [0.1, 10].
	Rate float64 `json:"rate"`

	// Pitch is the pitch multiplier in [0, 2].
	Pitch float64 `json:"pitch"`

	// Volume is the output volume in [0, 1].
	Volume float64 `json:"volume"`

	// Language is a two-part BCP 47 tag such as "ko-KR".
	Language string `json:"language"`
}

// UI holds presentation preferences.
type UI struct {
	// Theme is one of "light", "dark", or "auto".
	Theme string `json:"theme"`

	// Shortcuts maps action names to key chords (e.g. "playTTS" → "Ctrl+Enter").
	Shortcuts map[string]string `json:"shortcuts"`
}

// Detection configures the voice-activity probe.
type Detection struct {
	// EnableAutoDetection toggles in-page listening detection.
	EnableAutoDetection bool `json:"enableAutoDetection"`

	// SupportedSites is the ordered list of hostnames the probe runs on.
	SupportedSites []string `json:"supportedSites"`
}

// Defaults returns the canonical default settings.
func Defaults() Settings {
	return Settings{
		TTS: TTS{
			Voice:    "",
			Rate:     1.0,
			Pitch:    1.0,
			Volume:   0.8,
			Language: "ko-KR",
		},
		UI: UI{
			Theme: ThemeAuto,
			Shortcuts: map[string]string{
				"playTTS":   "Ctrl+Enter",
				"openPopup": "Alt+T",
			},
		},
		Detection: Detection{
			EnableAutoDetection: true,
			SupportedSites:      []string{"chat.openai.com", "www.google.com", "google.com"},
		},
	}
}

// Partial is a sparse settings candidate: nil fields mean "keep the current
// value". It is the input type for validation, merging, and saving.
type Partial struct {
	TTS       *TTSPatch       `json:"tts,omitempty"`
	UI        *UIPatch        `json:"ui,omitempty"`
	Detection *DetectionPatch `json:"detection,omitempty"`
}

// TTSPatch is the sparse form of [TTS].
type TTSPatch struct {
	Voice    *string  `json:"voice,omitempty"`
	Rate     *float64 `json:"rate,omitempty"`
	Pitch    *float64 `json:"pitch,omitempty"`
	Volume   *float64 `json:"volume,omitempty"`
	Language *string  `json:"language,omitempty"`
}

// UIPatch is the sparse form of [UI]. Shortcuts merges key-by-key over the
// existing map rather than replacing it.
type UIPatch struct {
	Theme     *string           `json:"theme,omitempty"`
	Shortcuts map[string]string `json:"shortcuts,omitempty"`
}

// DetectionPatch is the sparse form of [Detection]. SupportedSites, when
// non-nil, replaces the list wholesale (order matters).
type DetectionPatch struct {
	EnableAutoDetection *bool    `json:"enableAutoDetection,omitempty"`
	SupportedSites      []string `json:"supportedSites,omitempty"`
}

// Validate checks every populated field of p and returns one message per
// violation, in document order. An empty slice means p is acceptable.
func Validate(p Partial) []string {
	var errs []string
	if t := p.TTS; t != nil {
		if t.Rate != nil && (*t.Rate < 0.1 || *t.Rate > 10) {
			errs = append(errs, fmt.Sprintf("tts.rate %v is out of range [0.1, 10]", *t.Rate))
		}
		if t.Pitch != nil && (*t.Pitch < 0 || *t.Pitch > 2) {
			errs = append(errs, fmt.Sprintf("tts.pitch %v is out of range [0, 2]", *t.Pitch))
		}
		if t.Volume != nil && (*t.Volume < 0 || *t.Volume > 1) {
			errs = append(errs, fmt.Sprintf("tts.volume %v is out of range [0, 1]", *t.Volume))
		}
		if t.Language != nil && !languagePattern.MatchString(*t.Language) {
			errs = append(errs, fmt.Sprintf("tts.language %q must match ll-CC (e.g. ko-KR)", *t.Language))
		}
	}
	if u := p.UI; u != nil && u.Theme != nil {
		switch *u.Theme {
		case ThemeLight, ThemeDark, ThemeAuto:
		default:
			errs = append(errs, fmt.Sprintf("ui.theme %q is invalid; valid values: light, dark, auto", *u.Theme))
		}
	}
	return errs
}

// Apply overlays the populated fields of p onto base and returns the
// result. Neither input is mutated.
func Apply(base Settings, p Partial) Settings {
	out := base
	out.UI.Shortcuts = make(map[string]string, len(base.UI.Shortcuts))
	for k, v := range base.UI.Shortcuts {
		out.UI.Shortcuts[k] = v
	}
	out.Detection.SupportedSites = append([]string(nil), base.Detection.SupportedSites...)

	if t := p.TTS; t != nil {
		if t.Voice != nil {
			out.TTS.Voice = *t.Voice
		}
		if t.Rate != nil {
			out.TTS.Rate = *t.Rate
		}
		if t.Pitch != nil {
			out.TTS.Pitch = *t.Pitch
		}
		if t.Volume != nil {
			out.TTS.Volume = *t.Volume
		}
		if t.Language != nil {
			out.TTS.Language = *t.Language
		}
	}
	if u := p.UI; u != nil {
		if u.Theme != nil {
			out.UI.Theme = *u.Theme
		}
		for k, v := range u.Shortcuts {
			out.UI.Shortcuts[k] = v
		}
	}
	if d := p.Detection; d != nil {
		if d.EnableAutoDetection != nil {
			out.Detection.EnableAutoDetection = *d.EnableAutoDetection
		}
		if d.SupportedSites != nil {
			out.Detection.SupportedSites = append([]string(nil), d.SupportedSites...)
		}
	}
	return out
}

// MergeWithDefaults deep-merges p over the canonical defaults, section by
// section. Every field of [Defaults] is present in the result.
func MergeWithDefaults(p Partial) Settings {
	return Apply(Defaults(), p)
}

// AsPartial converts a complete Settings into a fully populated Partial,
// so a full document can flow through the same save path as a sparse one.
func AsPartial(s Settings) Partial {
	shortcuts := make(map[string]string, len(s.UI.Shortcuts))
	for k, v := range s.UI.Shortcuts {
		shortcuts[k] = v
	}
	return Partial{
		TTS: &TTSPatch{
			Voice:    &s.TTS.Voice,
			Rate:     &s.TTS.Rate,
			Pitch:    &s.TTS.Pitch,
			Volume:   &s.TTS.Volume,
			Language: &s.TTS.Language,
		},
		UI: &UIPatch{
			Theme:     &s.UI.Theme,
			Shortcuts: shortcuts,
		},
		Detection: &DetectionPatch{
			EnableAutoDetection: &s.Detection.EnableAutoDetection,
			SupportedSites:      append([]string(nil), s.Detection.SupportedSites...),
		},
	}
}

// Encode serialises s as JSON for the persistent store.
func Encode(s Settings) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("settings: encode: %w", err)
	}
	return data, nil
}

// Decode parses persisted bytes into a sparse Partial so unknown history
// (old versions, hand edits) merges cleanly with current defaults.
// Malformed input reports [ErrInvalidJSON].
func Decode(data []byte) (Partial, error) {
	var p Partial
	if err := json.Unmarshal(data, &p); err != nil {
		return Partial{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return p, nil
}
