package rdm

import (
	"bytes"
	"net/netip"
	"sync"
	"testing"
	"time"

	"artnet2dmx/internal/bus"
	"artnet2dmx/internal/logger"
)

func testLogger(t *testing.T) *logger.Log {
	t.Helper()
	log, err := logger.NewLogger("error")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return log
}

// fakeTransport scripts the bus: every Send records the packet and queues
// whatever respond() returns as receive bytes.
type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	rx      []byte
	respond func(sent []byte) []byte
}

func (f *fakeTransport) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(p))
	copy(cp, p)
	f.sent = append(f.sent, cp)
	if f.respond != nil {
		f.rx = append(f.rx, f.respond(cp)...)
	}
	return nil
}

func (f *fakeTransport) ReadByte() (byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rx) == 0 {
		return 0, false
	}
	b := f.rx[0]
	f.rx = f.rx[1:]
	return b, true
}

func (f *fakeTransport) DiscardInput() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rx = nil
}

func (f *fakeTransport) Receive(max int, timeout time.Duration, complete func([]byte) bool) []byte {
	buf := make([]byte, 0, max)
	for len(buf) < max {
		b, ok := f.ReadByte()
		if !ok {
			break
		}
		buf = append(buf, b)
		if complete != nil && complete(buf) {
			break
		}
	}
	return buf
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type delivery struct {
	data []byte
	dst  netip.AddrPort
}

func newTestEngine(t *testing.T, ft *fakeTransport) (*Engine, *Queue, *bus.Token, *[]delivery) {
	t.Helper()
	q := &Queue{}
	tok := &bus.Token{}
	e := NewEngine(ft, tok, q, EngineConfig{ResponseTimeout: 10 * time.Millisecond, Retries: 2}, testLogger(t))
	var deliveries []delivery
	e.SetCallback(func(data []byte, dst netip.AddrPort) {
		deliveries = append(deliveries, delivery{data: data, dst: dst})
	})
	return e, q, tok, &deliveries
}

func TestEngineValidResponseScenario(t *testing.T) {
	ft := &fakeTransport{respond: func([]byte) []byte { return validResponse() }}
	e, q, tok, deliveries := newTestEngine(t, ft)

	src := netip.MustParseAddrPort("1.2.3.4:6454")
	if !q.Enqueue([]byte{StartCode, SubStartCode, 0x03}, src) {
		t.Fatal("enqueue refused")
	}

	t0 := time.Now()
	e.Tick(t0) // Idle → Sending → WaitingResponse, exactly one transmission
	if ft.sentCount() != 1 {
		t.Fatalf("sent %d packets, want 1", ft.sentCount())
	}
	if !tok.Busy() {
		t.Fatal("bus must be owned during the transaction")
	}
	if e.Idle() {
		t.Fatal("engine must not be idle mid-transaction")
	}

	e.Tick(t0.Add(time.Millisecond)) // response arrived well inside the window

	if len(*deliveries) != 1 {
		t.Fatalf("callbacks = %d, want exactly 1", len(*deliveries))
	}
	got := (*deliveries)[0]
	if !bytes.Equal(got.data, validResponse()) {
		t.Fatalf("delivered %v, want the decoded response", got.data)
	}
	if got.dst != src {
		t.Fatalf("delivered to %s, want %s", got.dst, src)
	}
	if q.Len() != 0 {
		t.Fatalf("queue count = %d after delivery, want 0", q.Len())
	}
	if !e.Idle() || tok.Busy() {
		t.Fatal("engine must return to idle and release the bus")
	}
}

func TestEngineBoundedRetryThenFailure(t *testing.T) {
	ft := &fakeTransport{} // bus stays silent
	e, q, tok, deliveries := newTestEngine(t, ft)

	src := netip.MustParseAddrPort("10.0.0.2:40000")
	q.Enqueue([]byte{StartCode, SubStartCode, 0x03}, src)

	t0 := time.Now()
	e.Tick(t0)                           // attempt 1
	e.Tick(t0.Add(5 * time.Millisecond)) // inside window, keep waiting
	if len(*deliveries) != 0 {
		t.Fatal("delivered before the timeout elapsed")
	}
	e.Tick(t0.Add(11 * time.Millisecond)) // timeout, schedule retry
	e.Tick(t0.Add(12 * time.Millisecond)) // attempt 2
	e.Tick(t0.Add(23 * time.Millisecond)) // timeout, schedule retry
	e.Tick(t0.Add(24 * time.Millisecond)) // attempt 3
	e.Tick(t0.Add(35 * time.Millisecond)) // retries exhausted, fail

	if ft.sentCount() != 3 {
		t.Fatalf("send attempts = %d, want exactly 3 (1 + 2 retries)", ft.sentCount())
	}
	if len(*deliveries) != 1 {
		t.Fatalf("callbacks = %d, want exactly 1", len(*deliveries))
	}
	if got := (*deliveries)[0]; got.data != nil {
		t.Fatalf("terminal failure must deliver nil data, got %v", got.data)
	}
	if got := (*deliveries)[0]; got.dst != src {
		t.Fatalf("failure delivered to %s, want %s", got.dst, src)
	}
	if q.Len() != 0 || !e.Idle() || tok.Busy() {
		t.Fatal("failed transaction must free the slot and the bus")
	}
}

func TestEngineRejectsCorruptChecksum(t *testing.T) {
	ft := &fakeTransport{respond: func([]byte) []byte {
		bad := validResponse()
		bad[len(bad)-1] ^= 0xFF
		return bad
	}}
	e, q, _, deliveries := newTestEngine(t, ft)
	q.Enqueue([]byte{StartCode, SubStartCode, 0x03}, netip.MustParseAddrPort("10.0.0.2:6454"))

	t0 := time.Now()
	step := 12 * time.Millisecond
	now := t0
	for i := 0; i < 8; i++ {
		e.Tick(now)
		now = now.Add(step)
	}

	if ft.sentCount() != 3 {
		t.Fatalf("send attempts = %d, want 3", ft.sentCount())
	}
	if len(*deliveries) != 1 || (*deliveries)[0].data != nil {
		t.Fatal("corrupt responses must end in a terminal failure")
	}
}

func TestEngineStrictArrivalOrder(t *testing.T) {
	ft := &fakeTransport{respond: func([]byte) []byte { return validResponse() }}
	e, q, _, deliveries := newTestEngine(t, ft)

	srcA := netip.MustParseAddrPort("10.0.0.2:5001")
	srcB := netip.MustParseAddrPort("10.0.0.3:5002")
	q.Enqueue([]byte{StartCode, SubStartCode, 0x03, 0xA0}, srcA)
	q.Enqueue([]byte{StartCode, SubStartCode, 0x03, 0xB0}, srcB)

	now := time.Now()
	for i := 0; i < 6 && len(*deliveries) < 2; i++ {
		e.Tick(now)
		now = now.Add(time.Millisecond)
	}

	if len(*deliveries) != 2 {
		t.Fatalf("callbacks = %d, want 2", len(*deliveries))
	}
	if (*deliveries)[0].dst != srcA || (*deliveries)[1].dst != srcB {
		t.Fatal("responses must fire in enqueue order, matched to their requesters")
	}
	if ft.sent[0][3] != 0xA0 || ft.sent[1][3] != 0xB0 {
		t.Fatal("a later request must not start before an earlier one finishes")
	}
}

func TestEngineYieldsWhenBusOwnedElsewhere(t *testing.T) {
	ft := &fakeTransport{}
	e, q, tok, _ := newTestEngine(t, ft)
	q.Enqueue([]byte{StartCode, SubStartCode, 0x03}, netip.MustParseAddrPort("10.0.0.2:6454"))

	tok.TryAcquire() // somebody else transmits
	e.Tick(time.Now())
	if ft.sentCount() != 0 {
		t.Fatal("engine transmitted on a busy bus")
	}

	tok.Release()
	e.Tick(time.Now())
	if ft.sentCount() != 1 {
		t.Fatal("engine must transmit once the bus frees up")
	}
}
