package log

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Progress reports completion of a fixed number of units through the logger,
// at most once per interval plus once on completion. Safe for concurrent use.
type Progress struct {
	mu         sync.Mutex
	name       string
	total      int
	current    int
	startTime  time.Time
	lastUpdate time.Time
	interval   time.Duration
}

// NewProgress creates a progress reporter for total units
func NewProgress(name string, total int, interval time.Duration) *Progress {
	now := time.Now()
	return &Progress{
		name:       name,
		total:      total,
		startTime:  now,
		lastUpdate: now,
		interval:   interval,
	}
}

// Increment marks one unit done
func (p *Progress) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current++
	now := time.Now()
	if p.current < p.total && now.Sub(p.lastUpdate) < p.interval {
		return
	}
	p.lastUpdate = now

	elapsed := now.Sub(p.startTime)
	event := log.Info().
		Str("task", p.name).
		Int("done", p.current).
		Int("total", p.total).
		Float64("pct", p.percent()).
		Dur("elapsed", elapsed)
	if eta, ok := p.eta(elapsed); ok {
		event = event.Dur("eta", eta)
	}
	event.Msg("Progress")
}

// Current returns the number of completed units
func (p *Progress) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Progress) percent() float64 {
	if p.total <= 0 {
		return 100
	}
	return float64(p.current) / float64(p.total) * 100
}

func (p *Progress) eta(elapsed time.Duration) (time.Duration, bool) {
	if p.current == 0 || p.current >= p.total {
		return 0, false
	}
	perUnit := elapsed / time.Duration(p.current)
	return perUnit * time.Duration(p.total-p.current), true
}
