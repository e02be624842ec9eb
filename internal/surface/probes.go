package surface

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dhkwon/voxbridge/internal/bus"
	"github.com/dhkwon/voxbridge/internal/probe"
)

// ProbeDirectory tracks the live probe per tab, runs each probe's watch
// loop, and turns listening-state edges into VOICE_DETECTION posts. It
// also answers the bus's directed detection queries.
type ProbeDirectory struct {
	bus *bus.Bus
	ctx context.Context

	mu      sync.Mutex
	probes  map[int]*probeEntry
	focused int
}

type probeEntry struct {
	probe  *probe.Probe
	cancel context.CancelFunc
}

// NewProbeDirectory builds an empty directory. ctx bounds all probe
// loops started through Attach.
func NewProbeDirectory(ctx context.Context, b *bus.Bus) *ProbeDirectory {
	return &ProbeDirectory{
		bus:    b,
		ctx:    ctx,
		probes: make(map[int]*probeEntry),
	}
}

// Attach classifies the page, starts a probe loop for the tab, and
// replaces any previous probe for the same tab. Edges are posted to the
// bus as VOICE_DETECTION reports.
func (d *ProbeDirectory) Attach(tabID int, page probe.Page, mutations <-chan probe.Mutation, opts ...probe.Option) *probe.Probe {
	report := func(r probe.Report) {
		m := bus.NewMessage(bus.TypeVoiceDetection, bus.DetectionReport{
			IsActive: r.IsActive,
			Site:     string(r.Site),
			URL:      r.URL,
			TabID:    tabID,
		}, fmt.Sprintf("probe:%d", tabID))
		go func() {
			if reply := d.bus.Post(d.ctx, m); !reply.Success {
				slog.Debug("detection post rejected", "tab", tabID, "error", reply.Error)
			}
		}()
	}

	p := probe.New(page, mutations, report, opts...)
	ctx, cancel := context.WithCancel(d.ctx)

	d.mu.Lock()
	if prev, ok := d.probes[tabID]; ok {
		prev.cancel()
	}
	d.probes[tabID] = &probeEntry{probe: p, cancel: cancel}
	d.mu.Unlock()

	go func() {
		if err := p.Run(ctx); err != nil {
			slog.Debug("probe loop ended", "tab", tabID, "error", err)
		}
	}()
	return p
}

// Detach stops and forgets the probe for a tab.
func (d *ProbeDirectory) Detach(tabID int) {
	d.mu.Lock()
	if e, ok := d.probes[tabID]; ok {
		e.cancel()
		delete(d.probes, tabID)
	}
	if d.focused == tabID {
		d.focused = 0
	}
	d.mu.Unlock()
}

// Focus marks the tab whose probe answers zero-ID queries.
func (d *ProbeDirectory) Focus(tabID int) {
	d.mu.Lock()
	d.focused = tabID
	d.mu.Unlock()
}

// Query implements [bus.ProbeDirectory]: it evaluates the probe for the
// tab on demand. A zero tabID targets the focused tab.
func (d *ProbeDirectory) Query(ctx context.Context, tabID int) (bus.RecognitionState, error) {
	d.mu.Lock()
	if tabID == 0 {
		tabID = d.focused
	}
	e, ok := d.probes[tabID]
	d.mu.Unlock()

	if !ok {
		return bus.RecognitionState{}, fmt.Errorf("surface: no probe for tab %d", tabID)
	}
	active := e.probe.Evaluate()
	return bus.RecognitionState{
		IsActive: active,
		Site:     string(e.probe.Site()),
		TabID:    tabID,
	}, nil
}

var _ bus.ProbeDirectory = (*ProbeDirectory)(nil)
