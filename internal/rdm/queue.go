package rdm

import (
	"net/netip"
	"sync"
)

// QueueSlots is the fixed capacity of the pending-request ring. Enqueue is
// refused once all slots are occupied; that refusal is the only
// backpressure point of the gateway.
const QueueSlots = 5

// Request is one queued host request: the raw RDM payload plus the network
// requester the response must be routed back to.
type Request struct {
	Data   [MaxPacketSize]byte
	Length int
	Src    netip.AddrPort
	inUse  bool
}

// Payload returns the raw request bytes.
func (r *Request) Payload() []byte {
	return r.Data[:r.Length]
}

// Queue is a fixed-capacity strict-FIFO ring of pending requests. Enqueue is
// called from the network goroutine, Peek/Pop from the tick loop.
type Queue struct {
	mu    sync.Mutex
	slots [QueueSlots]Request
	head  int // next slot to dequeue
	tail  int // next free slot
	count int
}

// Enqueue copies a request into the next free slot. It fails closed, with no
// state change, when the ring is full, the payload is empty, or the payload
// exceeds the maximum RDM packet size. A false return means refuse silently.
func (q *Queue) Enqueue(p []byte, src netip.AddrPort) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count >= QueueSlots {
		return false
	}
	if len(p) == 0 || len(p) > MaxPacketSize {
		return false
	}
	slot := &q.slots[q.tail]
	copy(slot.Data[:], p)
	slot.Length = len(p)
	slot.Src = src
	slot.inUse = true
	q.tail = (q.tail + 1) % QueueSlots
	q.count++
	return true
}

// Peek returns a copy of the head request without removing it.
func (q *Queue) Peek() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return Request{}, false
	}
	return q.slots[q.head], true
}

// Pop frees the head slot once its response has been delivered.
func (q *Queue) Pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return
	}
	q.slots[q.head].inUse = false
	q.head = (q.head + 1) % QueueSlots
	q.count--
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}
