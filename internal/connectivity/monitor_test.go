package connectivity

import (
	"sync"
	"testing"
	"time"

	"gatepass/pkg/logx"
)

// Scaled-down timings so tests finish quickly. Ratios mirror production:
// grace >> offline delay > online delay.
func testConfig() Config {
	return Config{
		Grace:          80 * time.Millisecond,
		OnlineDelay:    25 * time.Millisecond,
		OfflineDelay:   100 * time.Millisecond,
		BannerAutoHide: 40 * time.Millisecond,
	}
}

type recordingSink struct {
	mu      sync.Mutex
	changes []change
}

type change struct {
	state  State
	banner bool
}

func (s *recordingSink) StatusChanged(st State, banner bool) {
	s.mu.Lock()
	s.changes = append(s.changes, change{state: st, banner: banner})
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() []change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]change(nil), s.changes...)
}

func TestGracePeriodSuppressesOffline(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	m := NewMonitor(testConfig(), sink, logx.Nop(), nil)
	defer m.Close()

	// Connected the whole time; repeated identical signals are fine.
	for i := 0; i < 3; i++ {
		m.Observe(true)
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(120 * time.Millisecond) // past grace

	if got := m.Status(); got != StateOnline {
		t.Fatalf("Status = %v, want online", got)
	}
	for _, c := range sink.snapshot() {
		if c.state == StateOffline {
			t.Fatalf("offline reported during/after an always-connected grace window")
		}
		if c.banner {
			t.Fatalf("banner shown for a silent online start")
		}
	}
}

func TestGraceExpiryReportsOfflineWithBanner(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	m := NewMonitor(testConfig(), sink, logx.Nop(), nil)
	defer m.Close()

	// No connect signal at all before the grace window ends.
	time.Sleep(140 * time.Millisecond)

	if got := m.Status(); got != StateOffline {
		t.Fatalf("Status = %v, want offline", got)
	}
	changes := sink.snapshot()
	if len(changes) != 1 {
		t.Fatalf("expected exactly one status change, got %d", len(changes))
	}
	if !changes[0].banner {
		t.Fatalf("offline banner should be visible")
	}
	if !m.BannerVisible() {
		t.Fatalf("offline banner should persist (no auto-hide)")
	}
}

func TestDebounceCollapsesFlapping(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	m := NewMonitor(testConfig(), sink, logx.Nop(), nil)
	defer m.Close()

	// Settle Online silently first.
	m.Observe(true)
	time.Sleep(120 * time.Millisecond)
	before := len(sink.snapshot())

	// Rapid flapping, ending disconnected. All within the offline delay.
	m.Observe(false)
	time.Sleep(10 * time.Millisecond)
	m.Observe(true)
	time.Sleep(10 * time.Millisecond)
	m.Observe(false)

	// Let the last pending transition settle uninterrupted.
	time.Sleep(160 * time.Millisecond)

	changes := sink.snapshot()[before:]
	if len(changes) != 1 {
		t.Fatalf("expected exactly one transition from flapping, got %d: %+v", len(changes), changes)
	}
	if changes[0].state != StateOffline {
		t.Fatalf("terminal state = %v, want offline (last raw value)", changes[0].state)
	}
}

func TestOfflineDelayAsymmetry(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	m := NewMonitor(testConfig(), sink, logx.Nop(), nil)
	defer m.Close()

	m.Observe(true)
	time.Sleep(120 * time.Millisecond)

	// Held disconnected for less than the offline delay: no transition.
	m.Observe(false)
	time.Sleep(50 * time.Millisecond)
	m.Observe(true)
	time.Sleep(60 * time.Millisecond)
	if got := m.Status(); got != StateOnline {
		t.Fatalf("short blip produced %v, want online", got)
	}

	// Held disconnected past the offline delay: transition fires.
	m.Observe(false)
	time.Sleep(150 * time.Millisecond)
	if got := m.Status(); got != StateOffline {
		t.Fatalf("sustained disconnect produced %v, want offline", got)
	}
}

func TestOnlineBannerAutoHides(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	m := NewMonitor(testConfig(), sink, logx.Nop(), nil)
	defer m.Close()

	// Start offline so the recovery produces a visible banner.
	time.Sleep(120 * time.Millisecond)
	if got := m.Status(); got != StateOffline {
		t.Fatalf("Status = %v, want offline", got)
	}

	m.Observe(true)
	time.Sleep(50 * time.Millisecond) // past online delay
	if got := m.Status(); got != StateOnline {
		t.Fatalf("Status = %v, want online", got)
	}
	if !m.BannerVisible() {
		t.Fatalf("online banner should be visible right after the transition")
	}

	time.Sleep(80 * time.Millisecond) // past auto-hide
	if m.BannerVisible() {
		t.Fatalf("online banner should have auto-hidden")
	}
	if got := m.Status(); got != StateOnline {
		t.Fatalf("auto-hide changed status to %v, want online", got)
	}
}

func TestDuplicateSignalsAreNoOps(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	m := NewMonitor(testConfig(), sink, logx.Nop(), nil)
	defer m.Close()

	m.Observe(true)
	time.Sleep(120 * time.Millisecond)
	before := len(sink.snapshot())

	for i := 0; i < 5; i++ {
		m.Observe(true)
	}
	time.Sleep(60 * time.Millisecond)

	if got := len(sink.snapshot()); got != before {
		t.Fatalf("duplicate signals caused %d extra transitions", got-before)
	}
}

func TestReplacedPendingTimerIsIgnored(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	m := NewMonitor(testConfig(), sink, logx.Nop(), nil)
	defer m.Close()

	// Settle Online silently.
	m.Observe(true)
	time.Sleep(120 * time.Millisecond)
	before := len(sink.snapshot())

	// First disconnect arms the offline timer; the repeat cancels-and-replaces
	// it, resetting the delay window.
	m.Observe(false)
	m.mu.Lock()
	staleGen := m.pendingGen
	m.mu.Unlock()
	m.Observe(false)

	// The first timer can fire and then lose the race for the lock to the
	// second Observe. Its callback must see it was replaced and report
	// nothing, or the fresh delay window would be cut short.
	m.pendingExpired(staleGen)
	if got := m.Status(); got != StateOnline {
		t.Fatalf("replaced timer reported a transition early: %v", got)
	}
	if got := len(sink.snapshot()); got != before {
		t.Fatalf("replaced timer emitted %d extra changes", got-before)
	}

	// The live timer still confirms the transition after its full delay.
	time.Sleep(160 * time.Millisecond)
	if got := m.Status(); got != StateOffline {
		t.Fatalf("Status = %v, want offline after the full delay", got)
	}
	if got := len(sink.snapshot()); got != before+1 {
		t.Fatalf("transitions = %d, want exactly 1", got-before)
	}
}

func TestCloseCancelsPendingTimers(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	m := NewMonitor(testConfig(), sink, logx.Nop(), nil)

	m.Observe(true)
	time.Sleep(120 * time.Millisecond)
	m.Observe(false) // pending offline transition
	before := len(sink.snapshot())
	m.Close()

	time.Sleep(160 * time.Millisecond)
	if got := len(sink.snapshot()); got != before {
		t.Fatalf("timer fired after Close (%d extra changes)", got-before)
	}
	if got := m.Status(); got != StateOnline {
		t.Fatalf("state mutated after Close: %v", got)
	}
}
