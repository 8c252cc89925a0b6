// Package notify merges notifications from three independent producers (push
// delivery, realtime channel, periodic poll) into one display surface, and
// routes tapped notifications to in-app destinations.
package notify

import (
	"sync"
	"time"

	"gatepass/internal/eventbus"
	"gatepass/pkg/logx"
)

type HubConfig struct {
	// DismissAfter is how long a banner stays up before auto-dismissal.
	DismissAfter time.Duration
}

func (c HubConfig) withDefaults() HubConfig {
	if c.DismissAfter <= 0 {
		c.DismissAfter = 5 * time.Second
	}
	return c
}

// Hub owns the active banner slot: at most one notification is visible at any
// instant, and a new arrival unconditionally replaces the occupant and its
// dismiss timer. There is no queue and no identity-based deduplication; two
// producers reporting the same server-side event both get a display cycle.
//
// Safe for concurrent use.
type Hub struct {
	mu  sync.Mutex
	cfg HubConfig

	log     logx.Logger
	bus     eventbus.Bus
	haptics Haptics
	cache   CacheInvalidator

	slot    *Notification
	dismiss *time.Timer
	// gen bumps on every slot mutation; a dismiss callback that fired before
	// Stop could cancel it compares against this to ignore itself.
	gen uint64

	closed bool
}

func NewHub(cfg HubConfig, haptics Haptics, cache CacheInvalidator, log logx.Logger, bus eventbus.Bus) *Hub {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Hub{
		cfg:     cfg.withDefaults(),
		log:     log,
		bus:     bus,
		haptics: haptics,
		cache:   cache,
	}
}

// Deliver ingests one notification from any producer. Last write wins: the
// current occupant (if any) is displaced regardless of read state or origin.
func (h *Hub) Deliver(n Notification) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if h.dismiss != nil {
		h.dismiss.Stop()
	}
	h.gen++
	gen := h.gen
	cp := n
	h.slot = &cp
	h.dismiss = time.AfterFunc(h.cfg.DismissAfter, func() { h.dismissExpired(gen) })
	h.mu.Unlock()

	h.log.Debug("notification delivered",
		logx.String("source", n.Source.String()),
		logx.String("type", n.Data.Type))

	// Side effects are fire-and-forget; the ports never raise.
	if h.haptics != nil {
		h.haptics.Success()
	}
	if h.cache != nil {
		h.cache.Invalidate(CacheNotificationsList)
		h.cache.Invalidate(CacheViewerStats)
	}
	if h.bus != nil {
		now := time.Now()
		h.bus.Publish(eventbus.Event{
			Type: eventbus.TopicNotifyDelivered,
			Time: now,
			Data: DeliveredEvent{Title: n.Title, Type: n.Data.Type, Source: n.Source.String(), At: now},
		})
	}
}

// Active returns the notification currently occupying the banner slot.
func (h *Hub) Active() (Notification, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.slot == nil {
		return Notification{}, false
	}
	return *h.slot, true
}

// Dismiss clears the slot and cancels the dismiss timer. Used for explicit
// user dismissal and as part of tap handling.
func (h *Hub) Dismiss() {
	h.clear("dismissed", 0)
}

// dismissExpired runs when a dismiss timer fires. gen is the slot generation
// captured when the timer was armed: a newer delivery may have replaced the
// occupant (and this timer) between the firing and acquiring the lock, in
// which case the callback is stale and must not touch the fresh occupant.
func (h *Hub) dismissExpired(gen uint64) {
	h.clear("expired", gen)
}

// clear empties the slot. gen 0 clears unconditionally; a non-zero gen clears
// only while the slot generation still matches.
func (h *Hub) clear(reason string, gen uint64) {
	h.mu.Lock()
	if h.closed || h.slot == nil {
		h.mu.Unlock()
		return
	}
	if gen != 0 && gen != h.gen {
		h.mu.Unlock()
		return
	}
	h.gen++
	h.slot = nil
	if h.dismiss != nil {
		h.dismiss.Stop()
		h.dismiss = nil
	}
	h.mu.Unlock()

	if h.bus != nil {
		now := time.Now()
		h.bus.Publish(eventbus.Event{
			Type: eventbus.TopicNotifyDismissed,
			Time: now,
			Data: RoutedEvent{Reason: reason, At: now},
		})
	}
}

// Close cancels the dismiss timer and rejects further deliveries.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.slot = nil
	if h.dismiss != nil {
		h.dismiss.Stop()
		h.dismiss = nil
	}
}
