// Package session binds the realtime channel to the signed-in viewer's
// lifetime: the channel is established when a viewer id becomes available and
// exclusively torn down on sign-out or viewer change. At most one channel per
// session exists at a time; the old one is always closed before a new dial.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"gatepass/internal/connectivity"
	"gatepass/internal/eventbus"
	"gatepass/internal/notify"
	"gatepass/internal/runtime/supervisor"
	"gatepass/pkg/logx"
)

type Config struct {
	// RedialEvery is the minimum spacing between dial attempts.
	RedialEvery time.Duration
	// RedialBurst allows this many immediate attempts before pacing kicks in.
	RedialBurst int
}

func (c Config) withDefaults() Config {
	if c.RedialEvery <= 0 {
		c.RedialEvery = 2 * time.Second
	}
	if c.RedialBurst <= 0 {
		c.RedialBurst = 1
	}
	return c
}

// Event is the bus payload for session sign-in/sign-out topics.
type Event struct {
	SessionID string    `json:"session_id"`
	ViewerID  string    `json:"viewer_id"`
	Role      string    `json:"role"`
	At        time.Time `json:"at"`
}

// Manager owns the realtime channel resource and doubles as the identity
// port: router and poller read the current viewer from here.
//
// Safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	cfg     Config
	dial    Dialer
	monitor *connectivity.Monitor
	deliver func(notify.Notification)
	log     logx.Logger
	bus     eventbus.Bus

	limiter *rate.Limiter
	sup     *supervisor.Supervisor

	viewer    notify.Viewer
	signedIn  bool
	sessionID string
	ch        Channel

	// gen increments on every sign-in/sign-out so stale dials and handler
	// callbacks from a torn-down session are discarded.
	gen uint64
}

func NewManager(ctx context.Context, cfg Config, dial Dialer, monitor *connectivity.Monitor, deliver func(notify.Notification), log logx.Logger, bus eventbus.Bus) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:     cfg,
		dial:    dial,
		monitor: monitor,
		deliver: deliver,
		log:     log,
		bus:     bus,
		limiter: rate.NewLimiter(rate.Every(cfg.RedialEvery), cfg.RedialBurst),
		sup: supervisor.New(ctx,
			supervisor.WithLogger(log.With(logx.String("comp", "session")))),
	}
}

// Viewer implements notify.Identity.
func (m *Manager) Viewer() (notify.Viewer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.signedIn {
		return notify.Viewer{}, false
	}
	return m.viewer, true
}

// SessionID returns the current session's correlation id ("" when signed out).
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// SignIn establishes the channel for the viewer. A repeated sign-in with the
// same viewer id keeps the existing channel (only the role is refreshed); a
// different id tears the old channel down first, then dials.
func (m *Manager) SignIn(v notify.Viewer) {
	m.mu.Lock()
	if m.signedIn && m.viewer.ID == v.ID {
		m.viewer = v
		m.mu.Unlock()
		return
	}

	old := m.teardownLocked()
	m.gen++
	gen := m.gen
	m.viewer = v
	m.signedIn = true
	m.sessionID = uuid.NewString()
	sid := m.sessionID
	m.mu.Unlock()

	// Old channel is closed before any new dial starts.
	if old != nil {
		_ = old.Close()
	}

	m.log.Info("viewer signed in",
		logx.String("session", sid),
		logx.String("viewer", v.ID),
		logx.String("role", string(v.Role)))
	if m.bus != nil {
		now := time.Now()
		m.bus.Publish(eventbus.Event{
			Type: eventbus.TopicSessionSignIn,
			Time: now,
			Data: Event{SessionID: sid, ViewerID: v.ID, Role: string(v.Role), At: now},
		})
	}

	m.sup.Go0("session.dial", func(ctx context.Context) {
		m.dialLoop(ctx, gen, v)
	})
}

// SignOut tears down the channel and detaches handlers. Safe to call when
// already signed out.
func (m *Manager) SignOut() {
	m.mu.Lock()
	if !m.signedIn {
		m.mu.Unlock()
		return
	}
	old := m.teardownLocked()
	m.gen++
	sid := m.sessionID
	vid := m.viewer.ID
	m.viewer = notify.Viewer{}
	m.signedIn = false
	m.sessionID = ""
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	m.log.Info("viewer signed out", logx.String("session", sid), logx.String("viewer", vid))
	if m.bus != nil {
		now := time.Now()
		m.bus.Publish(eventbus.Event{
			Type: eventbus.TopicSessionSignOut,
			Time: now,
			Data: Event{SessionID: sid, ViewerID: vid, At: now},
		})
	}
}

// teardownLocked detaches the current channel (caller closes it outside the
// lock) without touching sign-in state.
func (m *Manager) teardownLocked() Channel {
	old := m.ch
	m.ch = nil
	return old
}

func (m *Manager) dialLoop(ctx context.Context, gen uint64, v notify.Viewer) {
	if m.dial == nil {
		// No realtime transport configured; polling still covers delivery.
		return
	}
	h := Handlers{
		OnConnect: func() {
			if m.currentGen(gen) && m.monitor != nil {
				m.monitor.Observe(true)
			}
		},
		OnDisconnect: func() {
			if m.currentGen(gen) && m.monitor != nil {
				m.monitor.Observe(false)
			}
		},
		OnNotification: func(n notify.Notification) {
			if !m.currentGen(gen) || m.deliver == nil {
				return
			}
			n.Source = notify.SourceChannel
			m.deliver(n)
		},
	}

	for {
		if !m.currentGen(gen) {
			return
		}
		// Pace dial attempts.
		if err := m.limiter.Wait(ctx); err != nil {
			return
		}
		ch, err := m.dial(ctx, v.ID, h)
		if err != nil {
			// Transport errors are non-fatal; keep trying while the session
			// is still current.
			m.log.Debug("channel dial failed", logx.String("viewer", v.ID), logx.Err(err))
			continue
		}

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			// Session superseded while dialing; the fresh channel must not
			// outlive it.
			_ = ch.Close()
			return
		}
		m.ch = ch
		m.mu.Unlock()
		return
	}
}

func (m *Manager) currentGen(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

// Stop signs out and waits for the dial goroutine to finish.
func (m *Manager) Stop(ctx context.Context) error {
	m.SignOut()
	return m.sup.Stop(ctx)
}
