// Package poll periodically fetches notifications the viewer has not yet seen
// locally and feeds each one into the ingestion hub. It is the catch-up
// producer backing the push and realtime-channel paths.
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"gatepass/internal/eventbus"
	"gatepass/internal/notify"
	"gatepass/internal/runtime/supervisor"
	"gatepass/internal/storage"
	"gatepass/pkg/logx"
)

// Item is one notification as returned by the remote list endpoint. The
// server-side id is used only for local seen tracking; it is not carried into
// the hub's display model.
type Item struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Type      string `json:"type"`
	RelatedID string `json:"related_id,omitempty"`
}

// Fetcher retrieves the viewer's unseen notifications.
type Fetcher interface {
	Unseen(ctx context.Context, viewerID string) ([]Item, error)
}

type Config struct {
	// Schedule is an interval duration or cron expression (see ParseSchedule).
	Schedule string
	// Timeout bounds a single fetch.
	Timeout time.Duration
	// Retention is how long seen markers are kept before pruning.
	Retention time.Duration
	// PruneEvery is how often the retention pass runs.
	PruneEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = "30s"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.PruneEvery <= 0 {
		c.PruneEvery = time.Hour
	}
	return c
}

// FetchedEvent is the bus payload for eventbus.TopicPollFetched.
type FetchedEvent struct {
	ViewerID  string    `json:"viewer_id"`
	Fetched   int       `json:"fetched"`
	Delivered int       `json:"delivered"`
	At        time.Time `json:"at"`
}

// Poller drives the periodic fetch. Fetch failures are non-fatal and silently
// absorbed; there is no retry beyond the schedule's own next run.
type Poller struct {
	cfg     Config
	fetch   Fetcher
	deliver func(notify.Notification)
	store   storage.Store
	id      notify.Identity
	log     logx.Logger
	bus     eventbus.Bus

	mu      sync.Mutex
	cron    *cron.Cron
	sup     *supervisor.Supervisor
	mem     map[string]time.Time // id -> when marked; pruned with the store
	running bool
}

func New(cfg Config, fetch Fetcher, deliver func(notify.Notification), store storage.Store, id notify.Identity, log logx.Logger, bus eventbus.Bus) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{
		cfg:     cfg.withDefaults(),
		fetch:   fetch,
		deliver: deliver,
		store:   store,
		id:      id,
		log:     log,
		bus:     bus,
		mem:     map[string]time.Time{},
	}
}

// Start is idempotent. The first fetch happens immediately for interval
// schedules; cron schedules wait for their first firing.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	spec, err := ParseSchedule(p.cfg.Schedule)
	if err != nil {
		return err
	}

	p.sup = supervisor.New(ctx,
		supervisor.WithLogger(p.log.With(logx.String("comp", "poll"))))

	switch spec.Kind {
	case SpecCron:
		c := cron.New()
		runCtx := p.sup.Context()
		if _, err := c.AddFunc(spec.Cron, func() { p.runOnce(runCtx) }); err != nil {
			return err
		}
		c.Start()
		p.cron = c
	case SpecInterval:
		every := spec.Every
		p.sup.GoRestart("poll.loop", func(ctx context.Context) error {
			p.runOnce(ctx)
			t := time.NewTicker(every)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-t.C:
					p.runOnce(ctx)
				}
			}
		})
	}

	// Retention pass: seen markers older than the window are dropped from
	// both the persistent store and the in-memory set.
	p.sup.GoRestart("poll.prune", func(ctx context.Context) error {
		t := time.NewTicker(p.cfg.PruneEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				p.pruneOnce(ctx)
			}
		}
	})

	p.running = true
	return nil
}

func (p *Poller) pruneOnce(ctx context.Context) {
	cutoff := time.Now().Add(-p.cfg.Retention)

	p.mu.Lock()
	for id, at := range p.mem {
		if at.Before(cutoff) {
			delete(p.mem, id)
		}
	}
	p.mu.Unlock()

	if p.store != nil {
		n, err := p.store.PruneSeen(ctx, cutoff)
		if err != nil {
			p.log.Debug("seen prune failed", logx.Err(err))
			return
		}
		if n > 0 {
			p.log.Debug("seen markers pruned", logx.Int("removed", n))
		}
	}
}

func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	c := p.cron
	sup := p.sup
	p.cron = nil
	p.sup = nil
	p.running = false
	p.mu.Unlock()

	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}
	if sup != nil {
		return sup.Stop(ctx)
	}
	return nil
}

func (p *Poller) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	viewer, ok := p.id.Viewer()
	if !ok {
		// Nobody signed in; nothing to fetch.
		return
	}

	fctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	items, err := p.fetch.Unseen(fctx, viewer.ID)
	cancel()
	if err != nil {
		// Non-fatal: the next scheduled run is the only retry.
		p.log.Debug("poll fetch failed", logx.String("viewer", viewer.ID), logx.Err(err))
		return
	}

	delivered := 0
	for _, it := range items {
		if it.ID != "" && p.alreadySeen(ctx, it.ID) {
			continue
		}
		if p.deliver != nil {
			p.deliver(notify.Notification{
				Title:  it.Title,
				Body:   it.Body,
				Data:   notify.Data{Type: it.Type, RelatedID: it.RelatedID},
				Source: notify.SourcePolled,
			})
		}
		delivered++
		p.markSeen(ctx, it.ID)
	}

	if p.bus != nil {
		now := time.Now()
		p.bus.Publish(eventbus.Event{
			Type: eventbus.TopicPollFetched,
			Time: now,
			Data: FetchedEvent{ViewerID: viewer.ID, Fetched: len(items), Delivered: delivered, At: now},
		})
	}
}

func (p *Poller) alreadySeen(ctx context.Context, id string) bool {
	p.mu.Lock()
	_, inMem := p.mem[id]
	p.mu.Unlock()
	if inMem {
		return true
	}
	if p.store != nil {
		seen, err := p.store.Seen(ctx, id)
		if err != nil {
			// Treat a failing store as "unseen": an extra banner beats a
			// silently swallowed notification.
			p.log.Debug("seen lookup failed", logx.String("id", id), logx.Err(err))
			return false
		}
		return seen
	}
	return false
}

func (p *Poller) markSeen(ctx context.Context, id string) {
	if id == "" {
		return
	}
	p.mu.Lock()
	p.mem[id] = time.Now()
	p.mu.Unlock()
	if p.store != nil {
		if err := p.store.MarkSeen(ctx, id, time.Now()); err != nil {
			p.log.Debug("seen mark failed", logx.String("id", id), logx.Err(err))
		}
	}
}
