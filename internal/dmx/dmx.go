// Package dmx implements the DMX-512 output scheduler: it holds the current
// channel frame and retransmits it on the RS-485 line at the configured
// refresh rate, yielding whenever an RDM transaction owns the bus.
package dmx

import (
	"sync/atomic"
	"time"

	"artnet2dmx/internal/bus"
	"artnet2dmx/internal/logger"
)

const (
	// MaxChannels is the DMX-512 channel capacity of one universe.
	MaxChannels = 512
	// StartCode for a null-start DMX frame.
	StartCode = 0x00

	// MinRate and MaxRate bound the refresh rate. 1 Hz is the ESTA floor
	// used while RDM transactions share the wire; 44 Hz is the physical
	// maximum for a full frame at 250 kBd.
	MinRate = 1
	MaxRate = 44
	// DefaultRate is the DMX-only mode target.
	DefaultRate = 40
)

// Frame is one immutable DMX frame: start code plus channel values. A frame
// is fully built before it is published, so a reader never observes a
// partially written buffer.
type Frame struct {
	data     [1 + MaxChannels]byte
	channels int
}

// Bytes returns the wire form: start code followed by the channels in use.
func (f *Frame) Bytes() []byte {
	return f.data[: 1+f.channels : 1+f.channels]
}

// Transmitter sends one framed packet on the bus.
type Transmitter interface {
	Send(p []byte) error
}

// Scheduler transmits the front frame at the configured cadence.
type Scheduler struct {
	log    *logger.Log
	tx     Transmitter
	token  *bus.Token
	front  atomic.Pointer[Frame]
	period atomic.Int64 // nanoseconds
	last   time.Time    // touched only by Tick
}

// NewScheduler builds a scheduler at DefaultRate with an all-zero frame.
func NewScheduler(tx Transmitter, token *bus.Token, log *logger.Log) *Scheduler {
	s := &Scheduler{log: log, tx: tx, token: token}
	s.SetRate(DefaultRate)
	s.front.Store(&Frame{channels: MaxChannels})
	return s
}

// Update publishes a new frame. The inactive buffer is written with a bounds
// clamp to the channel capacity and then swapped in atomically; the frame in
// flight is never mutated.
func (s *Scheduler) Update(data []byte) {
	if len(data) > MaxChannels {
		data = data[:MaxChannels]
	}
	f := &Frame{channels: len(data)}
	f.data[0] = StartCode
	copy(f.data[1:], data)
	s.front.Swap(f)
}

// SetRate reconfigures the refresh period, clamped to [MinRate, MaxRate].
func (s *Scheduler) SetRate(hz int) {
	if hz < MinRate {
		hz = MinRate
	}
	if hz > MaxRate {
		hz = MaxRate
	}
	s.period.Store(int64(time.Second) / int64(hz))
}

// Period returns the current refresh period.
func (s *Scheduler) Period() time.Duration {
	return time.Duration(s.period.Load())
}

// Tick transmits the front frame when the refresh period has elapsed. It is
// a no-op while the bus is owned elsewhere: the scheduler skips its slot
// rather than blocking.
func (s *Scheduler) Tick(now time.Time) {
	if s.token.Busy() {
		return
	}
	if now.Sub(s.last) < s.Period() {
		return
	}
	f := s.front.Load()
	if err := s.tx.Send(f.Bytes()); err != nil {
		s.log.Module("dmx").Errorf("frame transmit failed: %v", err)
	}
	s.last = now
}
