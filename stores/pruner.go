package stores

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner runs a scheduled retention sweep over a message store, deleting
// conversations (and their messages and traces) that have gone stale.
type Pruner struct {
	store    MessageStore
	maxAge   time.Duration
	schedule string
	cron     *cron.Cron
}

// NewPruner creates a pruner that keeps conversations younger than maxAge.
// The schedule is a standard cron expression; by default the sweep runs
// hourly.
func NewPruner(store MessageStore, maxAge time.Duration) *Pruner {
	return &Pruner{
		store:    store,
		maxAge:   maxAge,
		schedule: "@hourly",
	}
}

// WithSchedule overrides the sweep schedule.
func (p *Pruner) WithSchedule(spec string) *Pruner {
	p.schedule = spec
	return p
}

// Start begins the scheduled sweeps. The first sweep happens on schedule,
// not immediately; call RunOnce for an immediate pass.
func (p *Pruner) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(p.schedule, p.sweep); err != nil {
		return err
	}
	p.cron = c
	c.Start()
	return nil
}

// Stop halts scheduled sweeps, waiting for a running sweep to finish.
func (p *Pruner) Stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
}

// RunOnce performs a single retention sweep.
func (p *Pruner) RunOnce() (int64, error) {
	return p.store.PruneOlderThan(time.Now().Add(-p.maxAge))
}

func (p *Pruner) sweep() {
	removed, err := p.RunOnce()
	if err != nil {
		log.Printf("Warning: retention sweep failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("Retention sweep removed %d stale conversations", removed)
	}
}
