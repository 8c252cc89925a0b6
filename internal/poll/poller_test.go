package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gatepass/internal/notify"
	"gatepass/pkg/logx"
)

type fakeFetcher struct {
	mu    sync.Mutex
	items []Item
	err   error
	calls int
}

func (f *fakeFetcher) Unseen(ctx context.Context, viewerID string) ([]Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]Item(nil), f.items...), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type staticIdentity struct {
	viewer notify.Viewer
	signed bool
}

func (s *staticIdentity) Viewer() (notify.Viewer, bool) { return s.viewer, s.signed }

type deliverLog struct {
	mu sync.Mutex
	ns []notify.Notification
}

func (d *deliverLog) deliver(n notify.Notification) {
	d.mu.Lock()
	d.ns = append(d.ns, n)
	d.mu.Unlock()
}

func (d *deliverLog) snapshot() []notify.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Notification(nil), d.ns...)
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

func TestPollerDeliversUnseenOnce(t *testing.T) {
	t.Parallel()
	fetch := &fakeFetcher{items: []Item{
		{ID: "N1", Title: "Approved", Type: "registration_approved", RelatedID: "R9"},
	}}
	id := &staticIdentity{viewer: notify.Viewer{ID: "V1", Role: notify.RoleParticipant}, signed: true}
	dl := &deliverLog{}

	p := New(Config{Schedule: "20ms", Timeout: time.Second}, fetch, dl.deliver, nil, id, logx.Nop(), nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(context.Background())

	// The same item keeps coming back from the server until the next run;
	// the seen set makes sure it reaches the hub exactly once.
	waitFor(t, func() bool { return fetch.callCount() >= 3 })

	got := dl.snapshot()
	if len(got) != 1 {
		t.Fatalf("delivered = %d, want 1", len(got))
	}
	n := got[0]
	if n.Source != notify.SourcePolled {
		t.Fatalf("source = %v, want polled", n.Source)
	}
	if n.Data.Type != "registration_approved" || n.Data.RelatedID != "R9" {
		t.Fatalf("payload = %+v", n.Data)
	}
}

func TestPollerSkipsWhenSignedOut(t *testing.T) {
	t.Parallel()
	fetch := &fakeFetcher{items: []Item{{ID: "N1", Title: "x"}}}
	id := &staticIdentity{signed: false}
	dl := &deliverLog{}

	p := New(Config{Schedule: "15ms", Timeout: time.Second}, fetch, dl.deliver, nil, id, logx.Nop(), nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(context.Background())

	time.Sleep(80 * time.Millisecond)
	if got := fetch.callCount(); got != 0 {
		t.Fatalf("fetch called %d times with nobody signed in", got)
	}
	if got := len(dl.snapshot()); got != 0 {
		t.Fatalf("delivered = %d, want 0", got)
	}
}

func TestPollerAbsorbsFetchErrors(t *testing.T) {
	t.Parallel()
	fetch := &fakeFetcher{err: errors.New("api unreachable")}
	id := &staticIdentity{viewer: notify.Viewer{ID: "V1"}, signed: true}
	dl := &deliverLog{}

	p := New(Config{Schedule: "15ms", Timeout: time.Second}, fetch, dl.deliver, nil, id, logx.Nop(), nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(context.Background())

	// Failures don't kill the loop; the next run keeps trying.
	waitFor(t, func() bool { return fetch.callCount() >= 3 })
	if got := len(dl.snapshot()); got != 0 {
		t.Fatalf("delivered = %d on a failing fetch", got)
	}
}

func TestPollerInvalidSchedule(t *testing.T) {
	t.Parallel()
	p := New(Config{Schedule: "bogus"}, &fakeFetcher{}, nil, nil, &staticIdentity{}, logx.Nop(), nil)
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("expected schedule parse error")
		_ = p.Stop(context.Background())
	}
}

type fakeStore struct {
	mu     sync.Mutex
	marked map[string]time.Time
	prunes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{marked: map[string]time.Time{}}
}

func (s *fakeStore) MarkSeen(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked[id] = at
	return nil
}

func (s *fakeStore) Seen(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.marked[id]
	return ok, nil
}

func (s *fakeStore) PruneSeen(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prunes++
	removed := 0
	for id, at := range s.marked {
		if at.Before(olderThan) {
			delete(s.marked, id)
			removed++
		}
	}
	return removed, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) pruneCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prunes
}

func TestPollerPrunesSeenMarkers(t *testing.T) {
	t.Parallel()
	fetch := &fakeFetcher{items: []Item{{ID: "N1", Title: "x", Type: "broadcast", RelatedID: "E1"}}}
	id := &staticIdentity{viewer: notify.Viewer{ID: "V1"}, signed: true}
	st := newFakeStore()
	dl := &deliverLog{}

	p := New(Config{
		Schedule:   "10ms",
		Timeout:    time.Second,
		Retention:  30 * time.Millisecond,
		PruneEvery: 15 * time.Millisecond,
	}, fetch, dl.deliver, st, id, logx.Nop(), nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(context.Background())

	waitFor(t, func() bool { return len(dl.snapshot()) == 1 })

	// Once the marker ages past the retention window, a prune pass drops it
	// from both the store and the in-memory set, so the id is fetched anew.
	waitFor(t, func() bool {
		if st.pruneCount() == 0 {
			return false
		}
		if ok, _ := st.Seen(context.Background(), "N1"); ok {
			return false
		}
		p.mu.Lock()
		_, inMem := p.mem["N1"]
		p.mu.Unlock()
		return !inMem
	})

	waitFor(t, func() bool { return len(dl.snapshot()) >= 2 })
}

func TestPollerStartIsIdempotent(t *testing.T) {
	t.Parallel()
	fetch := &fakeFetcher{}
	id := &staticIdentity{viewer: notify.Viewer{ID: "V1"}, signed: true}
	p := New(Config{Schedule: "1h", Timeout: time.Second}, fetch, nil, nil, id, logx.Nop(), nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
