// Package friendly maps internal playback and settings errors to
// user-presentable notices.
package friendly

import (
	"errors"

	"github.com/dhkwon/voxbridge/internal/settings"
	"github.com/dhkwon/voxbridge/internal/tts"
)

// Notice is a user-presentable rendering of a failure.
type Notice struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Action      string `json:"action"`
}

// ForError classifies err into a notice. Unrecognised errors get a
// generic notice so the UI never shows raw internals.
func ForError(err error) Notice {
	var (
		fallback *tts.FallbackError
		synth    *tts.SynthesisError
		invalid  *settings.InvalidError
	)

	switch {
	case err == nil:
		return Notice{}
	case errors.As(err, &fallback):
		return Notice{
			Title:       "Speech unavailable",
			Description: "This system has no speech output. The text is shown instead.",
			Action:      "Install a speech voice and try again.",
		}
	case errors.Is(err, tts.ErrInvalidInput):
		return Notice{
			Title:       "Nothing to read",
			Description: "The selected text is empty.",
			Action:      "Select some text and try again.",
		}
	case errors.Is(err, tts.ErrNoVoices), errors.Is(err, tts.ErrVoicesUnavailable):
		return Notice{
			Title:       "No voices found",
			Description: "No speech voices are installed or they did not load in time.",
			Action:      "Check the system's speech voices, then retry.",
		}
	case errors.Is(err, tts.ErrTimeout):
		return Notice{
			Title:       "Playback timed out",
			Description: "Speech did not finish in the expected time.",
			Action:      "Try a shorter text or a faster rate.",
		}
	case errors.Is(err, tts.ErrStartFailed):
		return Notice{
			Title:       "Playback did not start",
			Description: "The speech engine accepted the request but never began speaking.",
			Action:      "Stop any other audio and retry.",
		}
	case errors.As(err, &synth):
		return Notice{
			Title:       "Speech failed",
			Description: "The speech engine reported an error: " + synth.Tag + ".",
			Action:      "Retry, or pick a different voice in settings.",
		}
	case errors.As(err, &invalid):
		return Notice{
			Title:       "Invalid settings",
			Description: "Some settings values are out of range.",
			Action:      "Review the highlighted fields and save again.",
		}
	case errors.Is(err, settings.ErrPersistenceFailed):
		return Notice{
			Title:       "Could not save settings",
			Description: "Your changes were not written to storage.",
			Action:      "Check free space and try saving again.",
		}
	default:
		return Notice{
			Title:       "Something went wrong",
			Description: "An unexpected error interrupted the operation.",
			Action:      "Retry; if it keeps happening, restart the service.",
		}
	}
}
