// Package espeak binds the speech.Facility contract to a local espeak-ng
// (or espeak) binary.
//
// One process is spawned per utterance. Rate, pitch and volume multipliers
// are mapped onto espeak's words-per-minute, 0–99 pitch, and 0–200
// amplitude scales. Pause and resume are implemented with SIGSTOP/SIGCONT,
// so they are only effective on platforms that deliver those signals.
package espeak

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/dhkwon/voxbridge/pkg/speech"
)

// espeak's own defaults, used as the 1.0 multiplier anchors.
const (
	baseWPM       = 175
	basePitch     = 50
	baseAmplitude = 200 // amplitude at volume 1.0
)

// Facility drives a local espeak binary. Safe for concurrent use; at most
// one utterance plays at a time, later submissions cancel earlier ones.
type Facility struct {
	binary string

	mu       sync.Mutex
	cmd      *exec.Cmd
	speaking bool
	paused   bool

	voicesOnce sync.Once
	voices     []speech.Voice
	voicesCh   chan struct{}
}

// Compile-time interface assertion.
var _ speech.Facility = (*Facility)(nil)

// New locates an espeak binary and returns a Facility bound to it.
// Returns [speech.ErrUnsupported] when neither espeak-ng nor espeak is
// installed.
func New() (*Facility, error) {
	for _, bin := range []string{"espeak-ng", "espeak"} {
		if path, err := exec.LookPath(bin); err == nil {
			return &Facility{binary: path, voicesCh: make(chan struct{})}, nil
		}
	}
	return nil, fmt.Errorf("espeak: locate binary: %w", speech.ErrUnsupported)
}

// Speak spawns one espeak process for u and reports its lifecycle through
// the utterance hooks.
func (f *Facility) Speak(u *speech.Utterance) error {
	args := []string{
		"-s", strconv.Itoa(int(float64(baseWPM) * speech.ClampRate(u.Rate))),
		"-p", strconv.Itoa(pitchArg(u.Pitch)),
		"-a", strconv.Itoa(int(float64(baseAmplitude) * speech.ClampVolume(u.Volume))),
	}
	switch {
	case u.VoiceName != "":
		args = append(args, "-v", u.VoiceName)
	case u.Lang != "":
		args = append(args, "-v", strings.ToLower(u.Lang))
	}
	args = append(args, "--", u.Text)

	cmd := exec.Command(f.binary, args...)

	f.mu.Lock()
	if f.cmd != nil {
		f.killLocked()
	}
	if err := cmd.Start(); err != nil {
		f.mu.Unlock()
		return fmt.Errorf("espeak: start: %w", err)
	}
	f.cmd = cmd
	f.speaking = true
	f.paused = false
	f.mu.Unlock()

	if u.OnStart != nil {
		u.OnStart()
	}

	go func() {
		err := cmd.Wait()

		f.mu.Lock()
		// Another Speak or Cancel may already have replaced us.
		mine := f.cmd == cmd
		if mine {
			f.cmd = nil
			f.speaking = false
			f.paused = false
		}
		f.mu.Unlock()

		if !mine {
			return
		}
		if err != nil {
			if u.OnError != nil {
				u.OnError("synthesis-failed")
			}
			return
		}
		if u.OnEnd != nil {
			u.OnEnd()
		}
	}()
	return nil
}

// Cancel kills the current espeak process, if any. No further hooks fire
// for the cancelled utterance.
func (f *Facility) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killLocked()
}

// killLocked kills and detaches the current process. Caller holds f.mu.
func (f *Facility) killLocked() {
	if f.cmd == nil {
		return
	}
	if f.cmd.Process != nil {
		_ = f.cmd.Process.Kill()
	}
	f.cmd = nil
	f.speaking = false
	f.paused = false
}

// Pause stops the espeak process with SIGSTOP.
func (f *Facility) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cmd == nil || f.cmd.Process == nil || f.paused {
		return
	}
	if err := f.cmd.Process.Signal(syscall.SIGSTOP); err == nil {
		f.paused = true
	}
}

// Resume continues a paused espeak process with SIGCONT.
func (f *Facility) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cmd == nil || f.cmd.Process == nil || !f.paused {
		return
	}
	if err := f.cmd.Process.Signal(syscall.SIGCONT); err == nil {
		f.paused = false
	}
}

// Voices enumerates the installed espeak voices once and caches the result;
// the inventory of a local install does not change at runtime.
func (f *Facility) Voices() []speech.Voice {
	f.voicesOnce.Do(func() {
		out, err := exec.Command(f.binary, "--voices").Output()
		if err != nil {
			return
		}
		f.voices = parseVoices(out)
	})
	return f.voices
}

// VoicesChanged returns a channel that never fires: the local inventory is
// static.
func (f *Facility) VoicesChanged() <-chan struct{} {
	return f.voicesCh
}

// Speaking reports whether an espeak process is running.
func (f *Facility) Speaking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speaking && !f.paused
}

// Pending always reports false: espeak has no submission queue.
func (f *Facility) Pending() bool { return false }

// Paused reports whether the current process is stopped.
func (f *Facility) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

// pitchArg maps the pitch multiplier onto espeak's 0-99 scale. The 2.0
// multiplier would land on 100, one past the documented maximum.
func pitchArg(pitch float64) int {
	v := int(float64(basePitch) * speech.ClampPitch(pitch))
	if v > 99 {
		v = 99
	}
	return v
}

// parseVoices converts `espeak --voices` tabular output into Voice records.
//
// The format is a header line followed by rows like:
//
//	 5  ko             M  korean               other/ko
func parseVoices(out []byte) []speech.Voice {
	var voices []speech.Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for sc.Scan() {
		if first { // header
			first = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 {
			continue
		}
		voices = append(voices, speech.Voice{
			Name:         fields[3],
			Lang:         fields[1],
			URI:          fields[len(fields)-1],
			LocalService: true,
		})
	}
	return voices
}
