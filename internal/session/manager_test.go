package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gatepass/internal/notify"
	"gatepass/pkg/logx"
)

type fakeChannel struct {
	mu     sync.Mutex
	closed bool
	rec    *recorder
	label  string
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	if !already {
		c.rec.note("close:" + c.label)
	}
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) note(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

type fakeDialer struct {
	rec      *recorder
	mu       sync.Mutex
	handlers map[string]Handlers
	chans    map[string]*fakeChannel
	fails    int // fail this many dials before succeeding
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		rec:      &recorder{},
		handlers: map[string]Handlers{},
		chans:    map[string]*fakeChannel{},
	}
}

func (d *fakeDialer) Dial(ctx context.Context, viewerID string, h Handlers) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fails > 0 {
		d.fails--
		d.rec.note("fail:" + viewerID)
		return nil, errors.New("dial refused")
	}
	d.rec.note("dial:" + viewerID)
	ch := &fakeChannel{rec: d.rec, label: viewerID}
	d.handlers[viewerID] = h
	d.chans[viewerID] = ch
	return ch, nil
}

func (d *fakeDialer) handlersFor(viewerID string) (Handlers, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.handlers[viewerID]
	return h, ok
}

func testConfig() Config {
	return Config{RedialEvery: 10 * time.Millisecond, RedialBurst: 1}
}

func TestSignInDialsChannel(t *testing.T) {
	t.Parallel()
	d := newFakeDialer()
	m := NewManager(context.Background(), testConfig(), d.Dial, nil, nil, logx.Nop(), nil)
	defer m.Stop(context.Background())

	m.SignIn(notify.Viewer{ID: "V1", Role: notify.RoleParticipant})
	waitFor(t, func() bool {
		for _, e := range d.rec.snapshot() {
			if e == "dial:V1" {
				return true
			}
		}
		return false
	})

	v, ok := m.Viewer()
	if !ok || v.ID != "V1" {
		t.Fatalf("Viewer = %+v, %v; want V1 signed in", v, ok)
	}
	if m.SessionID() == "" {
		t.Fatal("expected a session id while signed in")
	}
}

func TestViewerChangeTearsDownBeforeRedial(t *testing.T) {
	t.Parallel()
	d := newFakeDialer()
	m := NewManager(context.Background(), testConfig(), d.Dial, nil, nil, logx.Nop(), nil)
	defer m.Stop(context.Background())

	m.SignIn(notify.Viewer{ID: "V1", Role: notify.RoleParticipant})
	waitFor(t, func() bool { _, ok := d.handlersFor("V1"); return ok })

	m.SignIn(notify.Viewer{ID: "V2", Role: notify.RoleAdmin})
	waitFor(t, func() bool { _, ok := d.handlersFor("V2"); return ok })

	// Only one channel per session: V1's channel closed before V2's dial.
	events := d.rec.snapshot()
	closeIdx, dialIdx := -1, -1
	for i, e := range events {
		switch e {
		case "close:V1":
			closeIdx = i
		case "dial:V2":
			dialIdx = i
		}
	}
	if closeIdx == -1 {
		t.Fatalf("V1 channel never closed: %v", events)
	}
	if dialIdx == -1 || closeIdx > dialIdx {
		t.Fatalf("old channel must be torn down before the new dial: %v", events)
	}
}

func TestSameViewerSignInKeepsChannel(t *testing.T) {
	t.Parallel()
	d := newFakeDialer()
	m := NewManager(context.Background(), testConfig(), d.Dial, nil, nil, logx.Nop(), nil)
	defer m.Stop(context.Background())

	m.SignIn(notify.Viewer{ID: "V1", Role: notify.RoleParticipant})
	waitFor(t, func() bool { _, ok := d.handlersFor("V1"); return ok })
	sid := m.SessionID()

	// Role refresh for the same id neither redials nor changes the session.
	m.SignIn(notify.Viewer{ID: "V1", Role: notify.RoleAdmin})
	time.Sleep(30 * time.Millisecond)

	dials := 0
	for _, e := range d.rec.snapshot() {
		if e == "dial:V1" {
			dials++
		}
	}
	if dials != 1 {
		t.Fatalf("dials = %d, want 1", dials)
	}
	if m.SessionID() != sid {
		t.Fatal("session id changed on same-viewer sign-in")
	}
	v, _ := m.Viewer()
	if v.Role != notify.RoleAdmin {
		t.Fatalf("role = %q, want refreshed admin", v.Role)
	}
}

func TestSignOutDetachesHandlers(t *testing.T) {
	t.Parallel()
	d := newFakeDialer()
	var delivered []notify.Notification
	var dmu sync.Mutex
	deliver := func(n notify.Notification) {
		dmu.Lock()
		delivered = append(delivered, n)
		dmu.Unlock()
	}
	m := NewManager(context.Background(), testConfig(), d.Dial, nil, deliver, logx.Nop(), nil)
	defer m.Stop(context.Background())

	m.SignIn(notify.Viewer{ID: "V1", Role: notify.RoleParticipant})
	waitFor(t, func() bool { _, ok := d.handlersFor("V1"); return ok })
	h, _ := d.handlersFor("V1")

	h.OnNotification(notify.Notification{Title: "live"})
	waitFor(t, func() bool {
		dmu.Lock()
		defer dmu.Unlock()
		return len(delivered) == 1
	})
	dmu.Lock()
	if delivered[0].Source != notify.SourceChannel {
		t.Fatalf("source = %v, want channel", delivered[0].Source)
	}
	dmu.Unlock()

	m.SignOut()
	if _, ok := m.Viewer(); ok {
		t.Fatal("viewer still present after sign-out")
	}

	// A stale callback from the torn-down session is discarded.
	h.OnNotification(notify.Notification{Title: "stale"})
	time.Sleep(30 * time.Millisecond)
	dmu.Lock()
	n := len(delivered)
	dmu.Unlock()
	if n != 1 {
		t.Fatalf("stale handler delivered: %d notifications", n)
	}
}

func TestDialRetriesArePaced(t *testing.T) {
	t.Parallel()
	d := newFakeDialer()
	d.fails = 2
	m := NewManager(context.Background(), testConfig(), d.Dial, nil, nil, logx.Nop(), nil)
	defer m.Stop(context.Background())

	m.SignIn(notify.Viewer{ID: "V1", Role: notify.RoleParticipant})
	waitFor(t, func() bool { _, ok := d.handlersFor("V1"); return ok })

	fails := 0
	for _, e := range d.rec.snapshot() {
		if e == "fail:V1" {
			fails++
		}
	}
	if fails != 2 {
		t.Fatalf("failed attempts = %d, want 2 before success", fails)
	}
}
