package tts

import (
	"sync"

	"github.com/dhkwon/voxbridge/pkg/speech"
)

// Utterance pool bounds.
const (
	minPoolSize     = 1
	maxPoolSize     = 20
	defaultPoolSize = 5
)

// utterancePool is a bounded free list of reusable utterance skeletons.
// Returned utterances are reset (text, voice, hooks cleared) before being
// retained, so the pool never pins caller data.
type utterancePool struct {
	mu   sync.Mutex
	free []*speech.Utterance
	max  int
}

func newUtterancePool(max int) *utterancePool {
	if max < minPoolSize {
		max = minPoolSize
	}
	if max > maxPoolSize {
		max = maxPoolSize
	}
	return &utterancePool{max: max}
}

// Get returns a pooled utterance or a fresh one.
func (p *utterancePool) Get() *speech.Utterance {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		u := p.free[n-1]
		p.free = p.free[:n-1]
		return u
	}
	return &speech.Utterance{}
}

// Put resets u and retains it unless the pool is full.
func (p *utterancePool) Put(u *speech.Utterance) {
	u.Reset()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) < p.max {
		p.free = append(p.free, u)
	}
}

// Shrink drops retained utterances beyond max.
func (p *utterancePool) Shrink() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) > p.max {
		p.free = p.free[:p.max]
	}
}

// Len reports the number of retained utterances.
func (p *utterancePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
