// Package connectivity turns the raw, noisy connected/disconnected signal from
// the realtime channel into a debounced status suitable for display.
//
// The monitor applies three smoothing rules:
//   - a startup grace window during which raw signals are recorded but never
//     reported, so a slow first connect doesn't flash "offline";
//   - asymmetric debounce delays (fast to confirm recovery, slow to confirm
//     trouble) so brief reconnect blips never reach the user;
//   - an auto-hide timer for the "back online" banner, while an offline banner
//     stays visible until connectivity actually recovers.
package connectivity

import (
	"sync"
	"time"

	"gatepass/internal/eventbus"
	"gatepass/pkg/logx"
)

type State int

const (
	StateInitializing State = iota
	StateOnline
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// StatusSink receives confirmed status changes for display.
// bannerVisible reports whether the status banner should currently be shown.
type StatusSink interface {
	StatusChanged(st State, bannerVisible bool)
}

// StatusEvent is the bus payload for eventbus.TopicConnectivityStatus.
type StatusEvent struct {
	State  string    `json:"state"`
	Banner bool      `json:"banner"`
	At     time.Time `json:"at"`
}

type Config struct {
	// Grace is the startup window during which observations are recorded but
	// not reported.
	Grace time.Duration
	// OnlineDelay is how long a raw "connected" signal must hold before the
	// monitor reports Online.
	OnlineDelay time.Duration
	// OfflineDelay is how long a raw "disconnected" signal must hold before
	// the monitor reports Offline.
	OfflineDelay time.Duration
	// BannerAutoHide is how long the "back online" banner stays visible.
	BannerAutoHide time.Duration
}

func (c Config) withDefaults() Config {
	if c.Grace <= 0 {
		c.Grace = 3 * time.Second
	}
	if c.OnlineDelay <= 0 {
		c.OnlineDelay = 300 * time.Millisecond
	}
	if c.OfflineDelay <= 0 {
		c.OfflineDelay = 2 * time.Second
	}
	if c.BannerAutoHide <= 0 {
		c.BannerAutoHide = 2500 * time.Millisecond
	}
	return c
}

// Monitor is a timer-driven hysteresis state machine with a single
// pending-timer slot: each Observe either no-ops or atomically
// cancels-and-replaces the pending transition.
//
// It is safe for concurrent use. The monitor never fails; it only reflects
// what the transport reports.
type Monitor struct {
	mu   sync.Mutex
	cfg  Config
	log  logx.Logger
	bus  eventbus.Bus
	sink StatusSink

	state State

	lastRaw     bool
	reported    bool
	hasReported bool

	grace       *time.Timer
	graceActive bool

	pending    *time.Timer
	pendingRaw bool
	hasPending bool
	// pendingGen bumps on every arm; a callback that fired before Stop could
	// cancel it compares against this to ignore itself after a replace.
	pendingGen uint64

	hide          *time.Timer
	bannerVisible bool

	closed bool
}

func NewMonitor(cfg Config, sink StatusSink, log logx.Logger, bus eventbus.Bus) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Monitor{
		cfg:         cfg.withDefaults(),
		log:         log,
		bus:         bus,
		sink:        sink,
		state:       StateInitializing,
		graceActive: true,
	}
	m.grace = time.AfterFunc(m.cfg.Grace, m.graceExpired)
	return m
}

func (m *Monitor) Status() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) BannerVisible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bannerVisible
}

// Observe ingests one raw connect/disconnect signal. It may be called
// arbitrarily often, including with repeated identical values.
func (m *Monitor) Observe(raw bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.lastRaw = raw

	// During the grace window we only record the signal.
	if m.graceActive {
		m.mu.Unlock()
		return
	}

	// A newer observation always supersedes a pending transition.
	if m.hasPending {
		m.pending.Stop()
		m.pending = nil
		m.hasPending = false
	}

	// Duplicate of the reported value: steady state, nothing to schedule.
	if m.hasReported && raw == m.reported {
		m.mu.Unlock()
		return
	}

	delay := m.cfg.OfflineDelay
	if raw {
		delay = m.cfg.OnlineDelay
	}
	m.pendingRaw = raw
	m.hasPending = true
	m.pendingGen++
	gen := m.pendingGen
	m.pending = time.AfterFunc(delay, func() { m.pendingExpired(gen) })
	m.log.Trace("transition pending", logx.Bool("raw", raw), logx.Duration("delay", delay))
	m.mu.Unlock()
}

func (m *Monitor) graceExpired() {
	m.mu.Lock()
	if m.closed || !m.graceActive {
		m.mu.Unlock()
		return
	}
	m.graceActive = false

	raw := m.lastRaw
	m.reported = raw
	m.hasReported = true
	if raw {
		// Viewer started already connected: report Online without a banner.
		m.state = StateOnline
		m.bannerVisible = false
	} else {
		m.state = StateOffline
		m.bannerVisible = true
	}
	st, banner := m.state, m.bannerVisible
	m.mu.Unlock()

	m.emit(st, banner)
}

// pendingExpired runs when the debounce timer fires. gen is the generation
// captured at arm time: an Observe racing with the firing may have replaced
// the timer (cancel-and-replace resets the delay window), and the replaced
// callback must not report the transition early.
func (m *Monitor) pendingExpired(gen uint64) {
	m.mu.Lock()
	if m.closed || !m.hasPending || gen != m.pendingGen {
		m.mu.Unlock()
		return
	}
	raw := m.pendingRaw
	m.pending = nil
	m.hasPending = false

	m.reported = raw
	m.hasReported = true
	m.bannerVisible = true
	if m.hide != nil {
		m.hide.Stop()
		m.hide = nil
	}
	if raw {
		m.state = StateOnline
		m.hide = time.AfterFunc(m.cfg.BannerAutoHide, m.hideExpired)
	} else {
		// The offline banner persists until a later Online transition.
		m.state = StateOffline
	}
	st, banner := m.state, m.bannerVisible
	m.mu.Unlock()

	m.emit(st, banner)
}

func (m *Monitor) hideExpired() {
	m.mu.Lock()
	if m.closed || m.state != StateOnline || !m.bannerVisible {
		m.mu.Unlock()
		return
	}
	m.bannerVisible = false
	m.hide = nil
	st := m.state
	m.mu.Unlock()

	m.emit(st, false)
}

func (m *Monitor) emit(st State, banner bool) {
	m.log.Debug("connection status", logx.String("state", st.String()), logx.Bool("banner", banner))
	if m.sink != nil {
		m.sink.StatusChanged(st, banner)
	}
	if m.bus != nil {
		now := time.Now()
		m.bus.Publish(eventbus.Event{
			Type: eventbus.TopicConnectivityStatus,
			Time: now,
			Data: StatusEvent{State: st.String(), Banner: banner, At: now},
		})
	}
}

// Close cancels all timers. Timers that have not fired yet will never mutate
// state after Close.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.grace != nil {
		m.grace.Stop()
		m.grace = nil
	}
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
		m.hasPending = false
	}
	if m.hide != nil {
		m.hide.Stop()
		m.hide = nil
	}
}
