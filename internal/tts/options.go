package tts

import (
	"github.com/dhkwon/voxbridge/internal/settings"
	"github.com/dhkwon/voxbridge/pkg/speech"
)

// Options are the effective playback parameters for one utterance, derived
// per call by overlaying caller overrides on the user's TTS settings.
type Options struct {
	Voice  string  `json:"voice"`
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
	Volume float64 `json:"volume"`
	Lang   string  `json:"lang"`
}

// Override is a sparse set of caller-supplied playback parameters. Nil
// fields fall through to the user's settings.
type Override struct {
	Voice  *string  `json:"voice,omitempty"`
	Rate   *float64 `json:"rate,omitempty"`
	Pitch  *float64 `json:"pitch,omitempty"`
	Volume *float64 `json:"volume,omitempty"`
	Lang   *string  `json:"lang,omitempty"`
}

// Effective overlays o (which may be nil) on the user's TTS settings.
func Effective(base settings.TTS, o *Override) Options {
	opts := Options{
		Voice:  base.Voice,
		Rate:   base.Rate,
		Pitch:  base.Pitch,
		Volume: base.Volume,
		Lang:   base.Language,
	}
	if o == nil {
		return opts
	}
	if o.Voice != nil {
		opts.Voice = *o.Voice
	}
	if o.Rate != nil {
		opts.Rate = *o.Rate
	}
	if o.Pitch != nil {
		opts.Pitch = *o.Pitch
	}
	if o.Volume != nil {
		opts.Volume = *o.Volume
	}
	if o.Lang != nil {
		opts.Lang = *o.Lang
	}
	return opts
}

// Clamped returns a copy with all numeric fields forced into their valid
// ranges.
func (o Options) Clamped() Options {
	o.Rate = speech.ClampRate(o.Rate)
	o.Pitch = speech.ClampPitch(o.Pitch)
	o.Volume = speech.ClampVolume(o.Volume)
	return o
}
