package gateway

import (
	"bytes"
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"artnet2dmx/internal/dmx"
	"artnet2dmx/internal/logger"
	"artnet2dmx/internal/rdm"
)

// silentBus is a transport with no devices attached: every send succeeds and
// nothing ever answers.
type silentBus struct {
	mu    sync.Mutex
	sends [][]byte
}

func (b *silentBus) Send(p []byte) error {
	cp := make([]byte, len(p))
	copy(cp, p)
	b.mu.Lock()
	b.sends = append(b.sends, cp)
	b.mu.Unlock()
	return nil
}

func (b *silentBus) ReadByte() (byte, bool) { return 0, false }
func (b *silentBus) DiscardInput()          {}

func (b *silentBus) Receive(max int, timeout time.Duration, complete func([]byte) bool) []byte {
	return nil
}

func (b *silentBus) sent() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.sends...)
}

func testLogger(t *testing.T) *logger.Log {
	t.Helper()
	log, err := logger.NewLogger("error")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return log
}

func TestModeSwitchReratesScheduler(t *testing.T) {
	g := New(&silentBus{}, Config{DMXRate: 40}, nil, testLogger(t))

	if g.Mode() != ModeDMX {
		t.Fatalf("initial mode = %v, want DMX", g.Mode())
	}
	if got := g.sched.Period(); got != time.Second/40 {
		t.Fatalf("initial period = %v, want %v", got, time.Second/40)
	}

	g.SetMode(ModeRDM)
	if g.Mode() != ModeRDM {
		t.Fatalf("mode = %v, want RDM", g.Mode())
	}
	if got := g.sched.Period(); got != time.Second/dmx.MinRate {
		t.Fatalf("RDM-mode period = %v, want the refresh floor %v", got, time.Second/dmx.MinRate)
	}

	g.SetMode(ModeDMX)
	if got := g.sched.Period(); got != time.Second/40 {
		t.Fatalf("period after switching back = %v, want %v", got, time.Second/40)
	}
}

func TestEnqueueRDMBackpressure(t *testing.T) {
	g := New(&silentBus{}, Config{}, nil, testLogger(t))
	src := netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 0, 42}), 40123)
	req := []byte{0xCC, 0x01, 0x18}

	for i := 0; i < rdm.QueueSlots; i++ {
		if !g.EnqueueRDM(req, src) {
			t.Fatalf("request %d refused with free slots", i)
		}
	}
	if g.EnqueueRDM(req, src) {
		t.Fatal("accepted a request into a full queue")
	}
	if g.QueueLen() != rdm.QueueSlots {
		t.Fatalf("queue length = %d, want %d", g.QueueLen(), rdm.QueueSlots)
	}
}

func TestTODSnapshotClearsLatch(t *testing.T) {
	g := New(&silentBus{}, Config{}, nil, testLogger(t))
	g.tod.Flush() // latch via the empty-table path

	if !g.TODChanged() {
		t.Fatal("flush did not latch the change flag")
	}
	if !g.TODChanged() {
		t.Fatal("peek must not clear the latch")
	}

	uids, n := g.TOD()
	if n != 0 || len(uids) != 0 {
		t.Fatalf("snapshot = %v/%d, want an empty table", uids, n)
	}
	if g.TODChanged() {
		t.Fatal("snapshot did not clear the latch")
	}
}

// TestTickLoopServicesRequest runs the real loop end to end on a silent bus:
// the request must be transmitted and, with nothing answering, fail after the
// bounded retries with a nil-payload callback.
func TestTickLoopServicesRequest(t *testing.T) {
	bus := &silentBus{}
	cfg := Config{
		Engine: rdm.EngineConfig{ResponseTimeout: 5 * time.Millisecond, Retries: 1},
		// Keep background discovery out of the way.
		Discovery: rdm.DiscoveryConfig{Interval: time.Hour, ProbeTimeout: time.Millisecond},
	}
	g := New(bus, cfg, nil, testLogger(t))

	type outcome struct {
		data []byte
		dst  netip.AddrPort
	}
	results := make(chan outcome, 1)
	g.SetResponseCallback(func(data []byte, dst netip.AddrPort) {
		results <- outcome{data: data, dst: dst}
	})

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer g.Stop()

	// Let the initial forced discovery cycle run dry first.
	time.Sleep(50 * time.Millisecond)

	src := netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 0, 42}), 40123)
	req := []byte{0xCC, 0x01, 0x18, 0x04, 0xd5, 0, 0, 0, 1}
	if !g.EnqueueRDM(req, src) {
		t.Fatal("enqueue refused")
	}

	select {
	case got := <-results:
		if got.data != nil {
			t.Fatalf("callback delivered %v, want nil for an unanswered request", got.data)
		}
		if got.dst != src {
			t.Fatalf("callback destination = %v, want the requester %v", got.dst, src)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no callback within the retry window")
	}

	if g.QueueLen() != 0 {
		t.Fatalf("queue length = %d after completion, want 0", g.QueueLen())
	}

	// The request must have hit the wire once per attempt, among the DMX
	// frames and discovery probes the loop interleaves.
	attempts := 0
	for _, p := range bus.sent() {
		if bytes.Equal(p, req) {
			attempts++
		}
	}
	if attempts != 2 {
		t.Fatalf("request transmitted %d times, want 1 try + 1 retry", attempts)
	}
}

func TestStopTerminatesLoop(t *testing.T) {
	g := New(&silentBus{}, Config{Discovery: rdm.DiscoveryConfig{Interval: time.Hour, ProbeTimeout: time.Millisecond}}, nil, testLogger(t))
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		g.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
