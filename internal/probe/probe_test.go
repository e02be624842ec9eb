package probe_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dhkwon/voxbridge/internal/probe"
)

// fakePage is a scriptable [probe.Page].
type fakePage struct {
	mu      sync.Mutex
	url     string
	active  bool
	queryFn func(selector string) (bool, error)
	markers map[string]bool
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Query(selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queryFn != nil {
		return p.queryFn(selector)
	}
	return p.active, nil
}

func (p *fakePage) Contains(marker string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.markers[marker]
}

func (p *fakePage) setActive(v bool) {
	p.mu.Lock()
	p.active = v
	p.mu.Unlock()
}

// reportSink collects probe reports.
type reportSink struct {
	mu      sync.Mutex
	reports []probe.Report
}

func (s *reportSink) record(r probe.Report) {
	s.mu.Lock()
	s.reports = append(s.reports, r)
	s.mu.Unlock()
}

func (s *reportSink) all() []probe.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]probe.Report, len(s.reports))
	copy(out, s.reports)
	return out
}

// ── Classification ───────────────────────────────────────────────────────

func TestClassify_KnownHosts(t *testing.T) {
	t.Parallel()
	cases := map[string]probe.SiteClass{
		"https://chat.openai.com/c/abc":        probe.SiteChatGPT,
		"https://chatgpt.com/":                 probe.SiteChatGPT,
		"https://www.google.com/search?q=tts":  probe.SiteGoogle,
		"https://papago.naver.com/":            probe.SitePapago,
		"https://search.naver.com/search":      probe.SiteNaver,
		"https://m.youtube.com/watch?v=x":      probe.SiteYouTube,
		"https://example.com/anything":         probe.SiteGeneric,
		"not a url at all ::":                  probe.SiteGeneric,
		"https://chat.openai.com.evil.example": probe.SiteGeneric,
	}
	for url, want := range cases {
		if got := probe.Classify(url); got != want {
			t.Errorf("Classify(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestProfileFor_UnknownFallsBackToGeneric(t *testing.T) {
	t.Parallel()
	p := probe.ProfileFor(probe.SiteClass("nonexistent"))
	if p.PollInterval <= 0 {
		t.Error("expected the generic profile, got a zero profile")
	}
}

// ── Edge-only reporting ──────────────────────────────────────────────────

func TestEvaluate_ReportsOnlyEdges(t *testing.T) {
	t.Parallel()
	page := &fakePage{url: "https://example.com/"}
	sink := &reportSink{}
	p := probe.New(page, nil, sink.record)

	// Baseline: inactive.
	if p.Evaluate() {
		t.Fatal("expected inactive baseline")
	}
	// Same state again: no new report.
	p.Evaluate()
	if got := len(sink.all()); got != 1 {
		t.Fatalf("expected 1 baseline report, got %d", got)
	}

	page.setActive(true)
	if !p.Evaluate() {
		t.Fatal("expected active")
	}
	p.Evaluate()
	page.setActive(false)
	p.Evaluate()

	reports := sink.all()
	if len(reports) != 3 {
		t.Fatalf("expected 3 edge reports, got %d", len(reports))
	}
	if reports[0].IsActive || !reports[1].IsActive || reports[2].IsActive {
		t.Errorf("unexpected edge sequence: %+v", reports)
	}
}

func TestEvaluate_ReportCarriesSiteAndURL(t *testing.T) {
	t.Parallel()
	page := &fakePage{url: "https://papago.naver.com/", active: true}
	sink := &reportSink{}
	p := probe.New(page, nil, sink.record)

	p.Evaluate()
	reports := sink.all()
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	if reports[0].Site != probe.SitePapago {
		t.Errorf("expected site papago, got %q", reports[0].Site)
	}
	if reports[0].URL != "https://papago.naver.com/" {
		t.Errorf("unexpected URL %q", reports[0].URL)
	}
}

// ── Failure demotion ─────────────────────────────────────────────────────

func TestEvaluate_SelectorPanicFallsBackToGeneric(t *testing.T) {
	t.Parallel()
	page := &fakePage{
		url: "https://chat.openai.com/",
		queryFn: func(selector string) (bool, error) {
			panic("broken selector engine")
		},
		markers: map[string]bool{},
	}
	sink := &reportSink{}
	p := probe.New(page, nil, sink.record)

	// Never panics out of the probe; the faulty page reads as inactive.
	if p.Evaluate() {
		t.Error("expected inactive on a broken page")
	}
}

func TestEvaluate_QueryErrorsUseGenericForTheTick(t *testing.T) {
	t.Parallel()
	var calls int
	page := &fakePage{url: "https://www.google.com/"}
	page.queryFn = func(selector string) (bool, error) {
		calls++
		switch {
		case strings.HasPrefix(selector, "div["):
			// The site profile's selectors fail.
			return false, errors.New("detached node")
		case selector == `[class*="listening"]`:
			// The generic profile's active-state selector matches.
			return true, nil
		default:
			return false, nil
		}
	}
	sink := &reportSink{}
	p := probe.New(page, nil, sink.record)

	if !p.Evaluate() {
		t.Error("expected the generic fallback to find the listening state")
	}
	if calls < 2 {
		t.Errorf("expected both profiles to be consulted, got %d queries", calls)
	}
}

func TestEvaluate_RepeatedFailuresDemoteToGeneric(t *testing.T) {
	t.Parallel()
	var siteQueries int
	page := &fakePage{url: "https://papago.naver.com/"}
	page.queryFn = func(selector string) (bool, error) {
		if strings.Contains(selector, "btn_voice") {
			siteQueries++
			return false, errors.New("detached node")
		}
		return false, nil
	}
	sink := &reportSink{}
	p := probe.New(page, nil, sink.record)

	// The papago profile allows 2 retries; the third failure demotes.
	for i := 0; i < 3; i++ {
		p.Evaluate()
	}
	before := siteQueries
	p.Evaluate()
	if siteQueries != before {
		t.Errorf("expected only the generic profile after demotion, site selectors ran %d more times",
			siteQueries-before)
	}
}

// ── Run loop ─────────────────────────────────────────────────────────────

func TestRun_MutationTriggersThrottledEvaluation(t *testing.T) {
	t.Parallel()
	page := &fakePage{url: "https://example.com/"}
	sink := &reportSink{}
	mutations := make(chan probe.Mutation)

	now := time.Now()
	var nowMu sync.Mutex
	clock := func() time.Time {
		nowMu.Lock()
		defer nowMu.Unlock()
		return now
	}

	p := probe.New(page, mutations, sink.record, probe.WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Wait for the baseline report.
	waitReports(t, sink, 1)

	// A relevant mutation inside the throttle window is coalesced away.
	page.setActive(true)
	mutations <- probe.Mutation{Kind: probe.MutationAttribute, Attribute: "class"}

	// Advance past the throttle window; the next mutation evaluates.
	nowMu.Lock()
	now = now.Add(600 * time.Millisecond)
	nowMu.Unlock()
	mutations <- probe.Mutation{Kind: probe.MutationAttribute, Attribute: "class"}

	waitReports(t, sink, 2)
	reports := sink.all()
	if !reports[1].IsActive {
		t.Error("expected the second report to be the active edge")
	}

	cancel()
	<-done
}

func TestRun_IrrelevantMutationsAreIgnored(t *testing.T) {
	t.Parallel()
	page := &fakePage{url: "https://example.com/"}
	sink := &reportSink{}
	mutations := make(chan probe.Mutation)

	p := probe.New(page, mutations, sink.record)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitReports(t, sink, 1)
	page.setActive(true)

	// Unwatched attribute and an unrelated node: neither should evaluate.
	mutations <- probe.Mutation{Kind: probe.MutationAttribute, Attribute: "data-unrelated"}
	mutations <- probe.Mutation{Kind: probe.MutationChildList, Nodes: []probe.NodeSummary{{Text: "shopping cart"}}}

	time.Sleep(50 * time.Millisecond)
	if got := len(sink.all()); got != 1 {
		t.Errorf("expected no evaluation from irrelevant mutations, got %d reports", got)
	}

	cancel()
	<-done
}

func TestRun_VoiceKeywordNodesAreRelevant(t *testing.T) {
	t.Parallel()
	page := &fakePage{url: "https://example.com/"}
	sink := &reportSink{}
	mutations := make(chan probe.Mutation)

	now := time.Now()
	var nowMu sync.Mutex
	p := probe.New(page, mutations, sink.record, probe.WithClock(func() time.Time {
		nowMu.Lock()
		defer nowMu.Unlock()
		return now
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitReports(t, sink, 1)
	page.setActive(true)
	nowMu.Lock()
	now = now.Add(time.Second)
	nowMu.Unlock()

	mutations <- probe.Mutation{
		Kind:  probe.MutationChildList,
		Nodes: []probe.NodeSummary{{AriaLabel: "음성 검색"}},
	}

	waitReports(t, sink, 2)
	cancel()
	<-done
}

func waitReports(t *testing.T, sink *reportSink, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.all()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d reports, have %d", n, len(sink.all()))
}
