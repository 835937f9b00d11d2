// Package rs485 owns the shared half-duplex serial line used for DMX-512
// output and RDM transactions.
//
// A background pump goroutine plays the role of the receive interrupt: it
// drains the port into a bounded ring and never blocks on a full ring
// (newly arriving bytes are dropped, queued bytes preserved; checksum
// validation upstream tolerates the loss via retry). The tick loop is the
// sole consumer.
package rs485

import (
	"fmt"
	"time"

	"go.bug.st/serial"

	"artnet2dmx/internal/logger"
)

const (
	// DefaultBaud is the DMX-512 line rate.
	DefaultBaud = 250000
	// BreakTime is the break pulse preceding every frame.
	BreakTime = 176 * time.Microsecond
	// MarkAfterBreak is the idle gap between break and the first slot.
	MarkAfterBreak = 12 * time.Microsecond

	// ringSize bounds the receive ring; an RDM packet is at most 257 bytes.
	ringSize = 512
	// echoSettle is how long to wait after TX completion before flushing
	// self-echo captured by the receiver during transmission.
	echoSettle = 50 * time.Microsecond
	// pumpReadTimeout bounds each port read so the pump can notice Close.
	pumpReadTimeout = 50 * time.Millisecond
)

// Port is the subset of the serial port the bus needs. go.bug.st/serial's
// Port satisfies it.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Break(d time.Duration) error
	Drain() error
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Config carries the transmit framing parameters.
type Config struct {
	Device         string
	Baud           int
	BreakTime      time.Duration
	MarkAfterBreak time.Duration
}

// Bus is the serial transport for the RS-485 line.
type Bus struct {
	log  *logger.Log
	port Port
	cfg  Config
	rx   chan byte
	done chan struct{}
}

// Open opens the serial device in DMX framing (250 kBd, 8N2) and starts the
// receive pump.
func Open(cfg Config, log *logger.Log) (*Bus, error) {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.TwoStopBits,
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("rs485: open %s: %w", cfg.Device, err)
	}
	return NewBus(port, cfg, log), nil
}

// NewBus wraps an already-open port. Used directly by tests.
func NewBus(port Port, cfg Config, log *logger.Log) *Bus {
	if cfg.BreakTime == 0 {
		cfg.BreakTime = BreakTime
	}
	if cfg.MarkAfterBreak == 0 {
		cfg.MarkAfterBreak = MarkAfterBreak
	}
	b := &Bus{
		log:  log,
		port: port,
		cfg:  cfg,
		rx:   make(chan byte, ringSize),
		done: make(chan struct{}),
	}
	_ = port.SetReadTimeout(pumpReadTimeout)
	go b.pump()
	return b
}

// pump drains hardware-ready bytes into the ring. Overflow drops the newest
// byte rather than overwriting unread ones.
func (b *Bus) pump() {
	buf := make([]byte, 64)
	for {
		select {
		case <-b.done:
			return
		default:
		}
		n, err := b.port.Read(buf)
		if err != nil {
			select {
			case <-b.done:
			default:
				b.log.Module("rs485").Errorf("receive pump stopped: %v", err)
			}
			return
		}
		for _, c := range buf[:n] {
			select {
			case b.rx <- c:
			default:
				// ring full, drop
			}
		}
	}
}

// Send transmits one framed packet: break pulse, mark-after-break, payload,
// then blocks until the hardware has drained. Direction control is handled
// by the RS-485 transceiver (auto-direction or driver-managed RTS).
func (b *Bus) Send(p []byte) error {
	if err := b.port.Break(b.cfg.BreakTime); err != nil {
		return fmt.Errorf("rs485: break: %w", err)
	}
	time.Sleep(b.cfg.MarkAfterBreak)
	if _, err := b.port.Write(p); err != nil {
		return fmt.Errorf("rs485: write: %w", err)
	}
	if err := b.port.Drain(); err != nil {
		return fmt.Errorf("rs485: drain: %w", err)
	}
	// Flush any self-echo captured while transmitting.
	time.Sleep(echoSettle)
	b.DiscardInput()
	return nil
}

// ReadByte pops one queued byte without blocking.
func (b *Bus) ReadByte() (byte, bool) {
	select {
	case c := <-b.rx:
		return c, true
	default:
		return 0, false
	}
}

// Available returns the number of queued receive bytes.
func (b *Bus) Available() int {
	return len(b.rx)
}

// DiscardInput empties the receive ring and the driver buffer.
func (b *Bus) DiscardInput() {
	for {
		select {
		case <-b.rx:
		default:
			_ = b.port.ResetInputBuffer()
			return
		}
	}
}

// Receive collects bytes until max is reached, the complete predicate
// recognises a structural end of packet, or the timeout elapses. It may
// return zero bytes.
func (b *Bus) Receive(max int, timeout time.Duration, complete func([]byte) bool) []byte {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 0, max)
	for len(buf) < max {
		if time.Now().After(deadline) {
			break
		}
		c, ok := b.ReadByte()
		if !ok {
			time.Sleep(200 * time.Microsecond)
			continue
		}
		buf = append(buf, c)
		if complete != nil && complete(buf) {
			break
		}
	}
	return buf
}

// Close stops the pump and closes the port.
func (b *Bus) Close() error {
	close(b.done)
	return b.port.Close()
}
