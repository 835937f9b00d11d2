package rdm

import (
	"net/netip"
	"time"

	"artnet2dmx/internal/bus"
	"artnet2dmx/internal/logger"
)

// Engine defaults, matching the E1.20 controller timing the node was tuned
// for: a response window of 100 ms and two retries after the first attempt.
const (
	DefaultResponseTimeout = 100 * time.Millisecond
	DefaultRetries         = 2
)

// Callback delivers the outcome of one dequeued request to the network
// layer, addressed to the requester captured at enqueue time. data == nil
// with length 0 denotes terminal failure after all retries were exhausted.
// It is invoked exactly once per dequeued request.
type Callback func(data []byte, dst netip.AddrPort)

type engineState int

const (
	stateIdle engineState = iota
	stateSending
	stateWaiting
)

// EngineConfig carries the retry/timeout tuning.
type EngineConfig struct {
	ResponseTimeout time.Duration
	Retries         int
}

// Engine drains the request queue one transaction at a time:
// Idle → Sending → WaitingResponse → (retry) → deliver → Idle.
type Engine struct {
	log   *logger.Log
	tr    Transport
	token *bus.Token
	queue *Queue
	cfg   EngineConfig
	cb    Callback

	state  engineState
	active Request
	retry  int
	owned  bool
	sentAt time.Time
	resp   []byte
}

// NewEngine builds the transaction engine over the given queue and bus.
func NewEngine(tr Transport, token *bus.Token, queue *Queue, cfg EngineConfig, log *logger.Log) *Engine {
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = DefaultRetries
	}
	return &Engine{
		log:   log,
		tr:    tr,
		token: token,
		queue: queue,
		cfg:   cfg,
		resp:  make([]byte, 0, MaxPacketSize),
	}
}

// SetCallback registers the response sink. Must be called before the tick
// loop starts.
func (e *Engine) SetCallback(cb Callback) {
	e.cb = cb
}

// Idle reports whether no transaction is in flight. Discovery only runs
// while the engine is idle.
func (e *Engine) Idle() bool {
	return e.state == stateIdle
}

// Tick advances the state machine by one step. It is self-bounded: every
// path returns promptly, waiting is done across ticks against the supplied
// clock.
func (e *Engine) Tick(now time.Time) {
	if e.state == stateIdle {
		req, ok := e.queue.Peek()
		if !ok {
			return
		}
		e.active = req
		e.retry = 0
		e.state = stateSending
	}

	switch e.state {
	case stateSending:
		e.send(now)
	case stateWaiting:
		e.wait(now)
	}
}

// send performs exactly one transmission of the active request and moves to
// WaitingResponse.
func (e *Engine) send(now time.Time) {
	if !e.owned {
		if !e.token.TryAcquire() {
			return // bus owned elsewhere, try again next tick
		}
		e.owned = true
	}
	e.tr.DiscardInput()
	if err := e.tr.Send(e.active.Payload()); err != nil {
		e.log.Module("rdm").Errorf("request transmit failed: %v", err)
	}
	e.sentAt = now
	e.resp = e.resp[:0]
	e.state = stateWaiting
}

// wait accumulates response bytes and decides between delivery, retry and
// terminal failure.
func (e *Engine) wait(now time.Time) {
	for len(e.resp) < MaxPacketSize {
		b, ok := e.tr.ReadByte()
		if !ok {
			break
		}
		e.resp = append(e.resp, b)
	}

	valid := ValidateResponse(e.resp)
	if !valid {
		if now.Sub(e.sentAt) < e.cfg.ResponseTimeout {
			return // keep collecting
		}
		if e.retry < e.cfg.Retries {
			e.retry++
			e.state = stateSending
			return // re-send the same request next tick
		}
	}
	e.deliver(valid)
}

// deliver invokes the callback with the outcome, frees the queue slot and
// releases the bus.
func (e *Engine) deliver(valid bool) {
	if e.cb != nil {
		if valid {
			data := make([]byte, len(e.resp))
			copy(data, e.resp)
			e.cb(data, e.active.Src)
		} else {
			e.cb(nil, e.active.Src)
		}
	}
	if !valid {
		e.log.Module("rdm").Debugf("request to %s failed after %d attempts", e.active.Src, e.retry+1)
	}
	e.queue.Pop()
	e.state = stateIdle
	e.token.Release()
	e.owned = false
}
