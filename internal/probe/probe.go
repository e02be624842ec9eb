package probe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dhkwon/voxbridge/internal/observe"
)

// errEvaluation reports a selector evaluation that panicked.
var errEvaluation = errors.New("probe: evaluation failed")

// throttleWindow caps mutation-driven classification to one evaluation per
// window, regardless of mutation volume.
const throttleWindow = 500 * time.Millisecond

// Report is one listening-state edge.
type Report struct {
	IsActive  bool
	Site      SiteClass
	URL       string
	Timestamp time.Time
}

// Probe watches one page and reports listening-state edges.
//
// Run drives the probe on one goroutine; Evaluate may be called
// concurrently for directed checks.
type Probe struct {
	page      Page
	mutations <-chan Mutation
	report    func(Report)

	site SiteClass

	mu       sync.Mutex
	profile  Profile
	failures int  // consecutive evaluation failures
	demoted  bool // permanently on the generic profile after too many failures

	lastEval    time.Time
	lastEmitted *bool

	metrics *observe.Metrics
	now     func() time.Time
}

// Option configures a [Probe].
type Option func(*Probe)

// WithMetrics attaches edge instrumentation.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Probe) { p.metrics = m }
}

// WithClock overrides the wall clock, for throttle tests.
func WithClock(now func() time.Time) Option {
	return func(p *Probe) { p.now = now }
}

// New classifies page and builds a probe over its mutation stream. report
// is invoked once per listening-state edge and must not block.
func New(page Page, mutations <-chan Mutation, report func(Report), opts ...Option) *Probe {
	site := Classify(page.URL())
	p := &Probe{
		page:      page,
		mutations: mutations,
		report:    report,
		site:      site,
		profile:   ProfileFor(site),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Site returns the classified site class.
func (p *Probe) Site() SiteClass { return p.site }

// Run observes the page until ctx ends. Mutations trigger throttled
// evaluations; a poll ticker covers sites that flip state without
// observable mutations. An immediate first evaluation establishes the
// baseline state.
func (p *Probe) Run(ctx context.Context) error {
	p.evaluate()

	interval := p.profile.PollInterval
	if interval <= 0 {
		interval = ProfileFor(SiteGeneric).PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-p.mutations:
			if !ok {
				return nil
			}
			if !relevant(m, p.activeProfile()) {
				continue
			}
			if p.sinceLastEval() < throttleWindow {
				continue
			}
			p.evaluate()
		case <-ticker.C:
			p.evaluate()
		}
	}
}

// Evaluate runs one classification tick. Exposed for directed checks from
// the command bus; Run calls it internally.
func (p *Probe) Evaluate() (isActive bool) {
	return p.evaluate()
}

// evaluate computes the listening state and emits a report on edges.
// Never panics: evaluation faults count against the profile's retry budget
// and fall back to the generic profile.
func (p *Probe) evaluate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastEval = p.now()

	active := p.profile
	if p.demoted {
		active = ProfileFor(SiteGeneric)
	}
	listening, err := p.detect(active)
	if err != nil {
		p.failures++
		if !p.demoted && p.failures > p.profile.Retries {
			slog.Debug("probe demoted to generic profile", "site", p.site, "error", err)
			p.demoted = true
		}
		// Fall back to the generic profile for this tick.
		var genErr error
		listening, genErr = p.detect(ProfileFor(SiteGeneric))
		if genErr != nil {
			// Treat an unreadable page as not listening.
			listening = false
		}
	} else {
		p.failures = 0
	}

	if p.lastEmitted == nil || *p.lastEmitted != listening {
		p.lastEmitted = &listening
		report := Report{
			IsActive:  listening,
			Site:      p.site,
			URL:       p.page.URL(),
			Timestamp: p.now(),
		}
		if p.metrics != nil {
			p.metrics.RecordProbeEdge(context.Background(), string(p.site))
		}
		p.report(report)
	}
	return listening
}

// detect applies one profile: listening is true when any entry selector
// matches, any active-state selector matches, or any marker is present.
func (p *Probe) detect(profile Profile) (found bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("probe evaluation panicked", "site", p.site, "panic", r)
			found, err = false, errEvaluation
		}
	}()

	for _, sel := range profile.EntrySelectors {
		ok, qerr := p.page.Query(sel)
		if qerr != nil {
			return false, qerr
		}
		if ok {
			return true, nil
		}
	}
	for _, sel := range profile.ActiveSelectors {
		ok, qerr := p.page.Query(sel)
		if qerr != nil {
			return false, qerr
		}
		if ok {
			return true, nil
		}
	}
	for _, marker := range profile.Markers {
		if p.page.Contains(marker) {
			return true, nil
		}
	}
	return false, nil
}

func (p *Probe) activeProfile() Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.demoted {
		return ProfileFor(SiteGeneric)
	}
	return p.profile
}

func (p *Probe) sinceLastEval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now().Sub(p.lastEval)
}
