// Package tts wraps the host speech facility with the playback policy of
// voxbridge: voice selection with fallback, retry with exponential backoff,
// adaptive timeouts, a start watchdog, utterance pooling, and a short-text
// option-snapshot cache.
//
// A Controller drives at most one playback at a time; submitting while a
// playback is active cancels it first. All exported methods are safe for
// concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dhkwon/voxbridge/internal/observe"
	"github.com/dhkwon/voxbridge/pkg/speech"
)

// Retry policy bounds.
const (
	minRetries        = 1
	maxRetries        = 10
	defaultRetries    = 3
	minRetryDelay     = 100 * time.Millisecond
	maxRetryDelay     = 5 * time.Second
	defaultRetryDelay = time.Second
	backoffCap        = 5 * time.Second
)

// Playback timing defaults.
const (
	defaultWatchdog = 500 * time.Millisecond
	defaultSettle   = 50 * time.Millisecond
	minSpeakTimeout = 5 * time.Second
	wordsPerMinute  = 150
	cleanupInterval = 5 * time.Minute
)

// State is the controller's playback state.
type State int

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
	StateStopping
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// SignalKind discriminates non-fatal controller signals.
type SignalKind int

const (
	// SignalRetry fires between retry attempts.
	SignalRetry SignalKind = iota

	// SignalVoiceFallback fires when a less-preferred voice was
	// substituted for the requested one.
	SignalVoiceFallback

	// SignalStarted fires when the facility reports audible playback.
	SignalStarted
)

// Signal is a non-fatal notification emitted during playback.
type Signal struct {
	Kind SignalKind

	// Attempt is the 1-based index of the attempt that just failed
	// (SignalRetry only).
	Attempt int

	// Delay is the backoff before the next attempt (SignalRetry only).
	Delay time.Duration

	// Err is the failure that triggered the retry (SignalRetry only).
	Err error

	// RequestedVoice and ChosenVoice describe a voice substitution
	// (SignalVoiceFallback only). ChosenVoice is empty when playback
	// proceeds without a voice assignment.
	RequestedVoice string
	ChosenVoice    string
}

// Config tunes a [Controller]. Zero values select the documented defaults;
// out-of-range values are clamped.
type Config struct {
	// MaxRetries is the maximum number of playback attempts, in [1, 10].
	// Default 3.
	MaxRetries int

	// RetryDelay is the initial backoff between attempts, in
	// [100ms, 5s]. Doubles each attempt, capped at 5s. Default 1s.
	RetryDelay time.Duration

	// MaxPoolSize bounds the utterance free list, in [1, 20]. Default 5.
	MaxPoolSize int

	// TextCacheSize bounds the short-text snapshot cache, in [10, 200].
	// Default 50.
	TextCacheSize int

	// VoicesTTL bounds the voice inventory cache, in [1m, 30m]. Default 5m.
	VoicesTTL time.Duration

	// StartWatchdog is the window in which a submission must report start.
	// Default 500ms; tests use a shorter window.
	StartWatchdog time.Duration

	// SettleDelay is the pause after cancelling a previous playback before
	// submitting the next one. Default 50ms.
	SettleDelay time.Duration

	// Notify receives non-fatal signals (starts, retries, voice
	// fallbacks). May be nil. Must not block.
	Notify func(Signal)

	// Metrics receives playback instrumentation. May be nil.
	Metrics *observe.Metrics
}

// Controller implements the playback policy over a [speech.Facility].
type Controller struct {
	fac speech.Facility

	maxAttempts int
	retryDelay  time.Duration
	watchdog    time.Duration
	settle      time.Duration
	voicesTTL   time.Duration
	notify      func(Signal)
	metrics     *observe.Metrics
	now         func() time.Time

	mu           sync.Mutex
	state        State
	stopCh       chan struct{} // non-nil while a playback is in flight
	gen          uint64        // bumped by Stop to cancel pending retries
	voices       []speech.Voice
	voicesExpiry time.Time

	pool  *utterancePool
	cache *resultCache

	cleanupDone chan struct{}
	disposeOnce sync.Once
}

// New creates a Controller over fac. A nil facility is valid and yields a
// controller that reports unsupported and fails Speak with
// [FallbackError].
func New(fac speech.Facility, cfg Config) *Controller {
	c := &Controller{
		fac:         fac,
		maxAttempts: clampInt(cfg.MaxRetries, minRetries, maxRetries, defaultRetries),
		retryDelay:  clampDur(cfg.RetryDelay, minRetryDelay, maxRetryDelay, defaultRetryDelay),
		watchdog:    cfg.StartWatchdog,
		settle:      cfg.SettleDelay,
		voicesTTL:   clampDur(cfg.VoicesTTL, minVoicesTTL, maxVoicesTTL, defaultVoicesTTL),
		notify:      cfg.Notify,
		metrics:     cfg.Metrics,
		now:         time.Now,
		pool:        newUtterancePool(pickInt(cfg.MaxPoolSize, defaultPoolSize)),
		cleanupDone: make(chan struct{}),
	}
	if c.watchdog <= 0 {
		c.watchdog = defaultWatchdog
	}
	if c.settle <= 0 {
		c.settle = defaultSettle
	}
	c.cache = newResultCache(pickInt(cfg.TextCacheSize, defaultTextCacheSize), c.now)
	go c.cleanupLoop()
	return c
}

// Supported reports whether a speech facility is available.
func (c *Controller) Supported() bool {
	return c.fac != nil
}

// Speak synthesises text and blocks until playback reaches a terminal
// state. Failed attempts are retried with exponential backoff; a Stop
// during playback or backoff makes Speak return nil.
func (c *Controller) Speak(ctx context.Context, text string, opts Options) error {
	if c.fac == nil {
		return &FallbackError{Text: text}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrInvalidInput
	}

	// Reuse a fresh option snapshot for repeated short texts.
	if cached, ok := c.cache.Get(text, opts); ok {
		opts = cached
	} else {
		clamped := opts.Clamped()
		c.cache.Put(text, opts, clamped)
		opts = clamped
	}

	// A new request replaces whatever is playing.
	if c.Active() {
		c.Stop()
	}

	gen := c.generation()
	began := c.now()
	delay := c.retryDelay

	var err error
	for attempt := 1; ; attempt++ {
		err = c.speakOnce(ctx, text, opts)
		if err == nil {
			c.recordPlay(ctx, began, "ok")
			return nil
		}
		if errors.Is(err, errStopped) {
			c.recordPlay(ctx, began, "stopped")
			return nil
		}
		if ctx.Err() != nil || attempt >= c.maxAttempts {
			break
		}

		c.signal(Signal{Kind: SignalRetry, Attempt: attempt, Delay: delay, Err: err})
		if c.metrics != nil {
			c.metrics.Retries.Add(ctx, 1)
		}
		slog.Debug("tts retrying", "attempt", attempt, "delay", delay, "error", err)

		if !sleepCtx(ctx, delay) {
			break
		}
		if c.generation() != gen {
			// Stopped during backoff; do not schedule further attempts.
			c.recordPlay(ctx, began, "stopped")
			return nil
		}
		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
		}
	}

	status := "error"
	if errors.Is(err, ErrTimeout) {
		status = "timeout"
	}
	c.recordPlay(ctx, began, status)
	return err
}

// speakOnce runs a single playback attempt.
func (c *Controller) speakOnce(ctx context.Context, text string, opts Options) error {
	// Clear any current facility activity and let it settle.
	if c.fac.Speaking() || c.fac.Pending() {
		c.cancelFacility()
		if !sleepCtx(ctx, c.settle) {
			return ctx.Err()
		}
	}

	u := c.pool.Get()
	u.Text = text
	u.Rate = opts.Rate
	u.Pitch = opts.Pitch
	u.Volume = opts.Volume
	u.Lang = opts.Lang

	// Voice selection is best-effort: an unavailable inventory walks the
	// ladder down to "no assignment".
	voices, err := c.Voices(ctx)
	if err != nil {
		slog.Debug("tts proceeding without voice inventory", "error", err)
	}
	chosen, level := selectVoice(opts.Voice, opts.Lang, voices)
	if chosen != nil {
		u.VoiceName = chosen.Name
	}
	if opts.Voice != "" && level > matchExact {
		var name string
		if chosen != nil {
			name = chosen.Name
		}
		c.signal(Signal{Kind: SignalVoiceFallback, RequestedVoice: opts.Voice, ChosenVoice: name})
		if c.metrics != nil {
			c.metrics.VoiceFallbacks.Add(ctx, 1)
		}
	}

	started := make(chan struct{}, 1)
	done := make(chan error, 1)
	u.OnStart = func() {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	u.OnEnd = func() {
		select {
		case done <- nil:
		default:
		}
	}
	u.OnError = func(tag string) {
		select {
		case done <- &SynthesisError{Tag: tag}:
		default:
		}
	}
	u.OnPause = func() { c.setState(StatePaused) }
	u.OnResume = func() { c.setState(StatePlaying) }

	stopCh := make(chan struct{})
	c.mu.Lock()
	c.state = StatePlaying
	c.stopCh = stopCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.stopCh == stopCh {
			c.stopCh = nil
		}
		c.state = StateIdle
		c.mu.Unlock()
		c.pool.Put(u)
	}()

	// The facility may have begun another utterance in the meantime.
	if c.fac.Speaking() || c.fac.Pending() {
		c.cancelFacility()
		if !sleepCtx(ctx, c.settle) {
			return ctx.Err()
		}
	}

	if err := c.fac.Speak(u); err != nil {
		return fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	overall := time.NewTimer(adaptiveTimeout(text, opts.Rate))
	defer overall.Stop()
	watchdog := time.NewTimer(c.watchdog)
	defer watchdog.Stop()

	// Await start.
	select {
	case <-started:
		c.signal(Signal{Kind: SignalStarted})
	case err := <-done:
		return err
	case <-watchdog.C:
		c.cancelFacility()
		return ErrStartFailed
	case <-overall.C:
		c.cancelFacility()
		return ErrTimeout
	case <-stopCh:
		return errStopped
	case <-ctx.Done():
		c.cancelFacility()
		return ctx.Err()
	}

	// Await terminal state.
	select {
	case err := <-done:
		return err
	case <-overall.C:
		c.cancelFacility()
		return ErrTimeout
	case <-stopCh:
		return errStopped
	case <-ctx.Done():
		c.cancelFacility()
		return ctx.Err()
	}
}

// Stop cancels the current playback and any pending retries, forcing the
// controller to idle even if the facility misbehaves during cancel.
// Stopping an idle controller is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	// Always invalidate pending retries, even from idle: a stop issued
	// during a backoff sleep must prevent the next attempt.
	c.gen++
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = StateStopping
	stopCh := c.stopCh
	c.stopCh = nil
	c.mu.Unlock()

	c.cancelFacility()
	if stopCh != nil {
		close(stopCh)
	}
	c.setState(StateIdle)
}

// Pause suspends the current playback. No-op unless playing.
func (c *Controller) Pause() {
	c.mu.Lock()
	playing := c.state == StatePlaying
	c.mu.Unlock()
	if !playing {
		return
	}
	c.fac.Pause()
	c.setState(StatePaused)
}

// Resume continues a paused playback. No-op unless paused.
func (c *Controller) Resume() {
	c.mu.Lock()
	paused := c.state == StatePaused
	c.mu.Unlock()
	if !paused {
		return
	}
	c.fac.Resume()
	c.setState(StatePlaying)
}

// Playing reports whether a playback is actively synthesising.
func (c *Controller) Playing() bool { return c.State() == StatePlaying }

// Paused reports whether the current playback is paused.
func (c *Controller) Paused() bool { return c.State() == StatePaused }

// Active reports whether a playback is in flight (playing or paused).
func (c *Controller) Active() bool {
	s := c.State()
	return s == StatePlaying || s == StatePaused
}

// State returns the current playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dispose cancels playback, stops the cleanup loop, and clears all caches.
// The controller must not be used afterwards.
func (c *Controller) Dispose() {
	c.disposeOnce.Do(func() {
		close(c.cleanupDone)
		c.Stop()
		c.cache.Purge()
		c.mu.Lock()
		c.voices = nil
		c.mu.Unlock()
	})
}

// cleanupLoop periodically evicts expired cache state and shrinks the
// utterance pool.
func (c *Controller) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.cleanupDone:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup performs one maintenance pass.
func (c *Controller) cleanup() {
	c.mu.Lock()
	if c.voices != nil && !c.now().Before(c.voicesExpiry) {
		c.voices = nil
	}
	c.mu.Unlock()
	c.pool.Shrink()
}

// cancelFacility cancels the facility, swallowing panics so Stop can force
// idle even when the platform binding misbehaves.
func (c *Controller) cancelFacility() {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("speech facility panicked during cancel", "panic", r)
		}
	}()
	c.fac.Cancel()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Controller) signal(s Signal) {
	if c.notify != nil {
		c.notify(s)
	}
}

func (c *Controller) recordPlay(ctx context.Context, began time.Time, status string) {
	if c.metrics != nil {
		c.metrics.RecordPlay(ctx, c.now().Sub(began).Seconds(), status)
	}
}

// adaptiveTimeout is max(5s, 2 × estimated duration), estimating speech at
// 150 words per minute scaled by rate.
func adaptiveTimeout(text string, rate float64) time.Duration {
	if rate <= 0 {
		rate = 1
	}
	words := len(strings.Fields(text))
	estimate := time.Duration(float64(words) / (wordsPerMinute * rate) * float64(time.Minute))
	if t := 2 * estimate; t > minSpeakTimeout {
		return t
	}
	return minSpeakTimeout
}

// sleepCtx sleeps for d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func clampInt(v, lo, hi, def int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDur(v, lo, hi, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func pickInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
