// Package gateway ties the DMX scheduler, the RDM transaction engine and the
// background discovery into one owned context driven by a single cooperative
// tick loop, and exposes the surface the network-facing layer consumes.
package gateway

import (
	"context"
	"net/netip"
	"sync/atomic"
	"time"

	"artnet2dmx/internal/bus"
	"artnet2dmx/internal/dmx"
	"artnet2dmx/internal/logger"
	"artnet2dmx/internal/rdm"
)

// Mode selects the refresh cadence and whether RDM requests are accepted.
type Mode int32

const (
	// ModeDMX refreshes at the full configured rate; ArtRDM is ignored.
	ModeDMX Mode = iota
	// ModeRDM accepts RDM requests and drops DMX to the ESTA minimum so
	// transactions get bus time.
	ModeRDM
)

func (m Mode) String() string {
	if m == ModeRDM {
		return "RDM"
	}
	return "DMX"
}

// tickInterval paces the cooperative loop. Every step is self-bounded by its
// own elapsed-time check, so a short interval only costs idle wakeups.
const tickInterval = time.Millisecond

// Config tunes the core. Zero values fall back to the package defaults of
// the embedded components.
type Config struct {
	DMXRate   int
	Engine    rdm.EngineConfig
	Discovery rdm.DiscoveryConfig
}

// Gateway is one bus instance: all mutable state (queue, state machine, TOD)
// lives here and is advanced only by this instance's tick loop.
type Gateway struct {
	log   *logger.Log
	token bus.Token
	sched *dmx.Scheduler
	queue *rdm.Queue
	eng   *rdm.Engine
	tod   *rdm.TOD
	disc  *rdm.Discoverer

	mode    atomic.Int32
	dmxRate int

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a gateway over the given transport. notify, when non-nil,
// receives TOD snapshots after discovery cycles that changed the table.
func New(tr rdm.Transport, cfg Config, notify chan<- []rdm.UID, log *logger.Log) *Gateway {
	g := &Gateway{
		log:     log,
		queue:   &rdm.Queue{},
		tod:     &rdm.TOD{},
		dmxRate: cfg.DMXRate,
	}
	if g.dmxRate == 0 {
		g.dmxRate = dmx.DefaultRate
	}
	g.sched = dmx.NewScheduler(tr, &g.token, log)
	g.sched.SetRate(g.dmxRate)
	g.eng = rdm.NewEngine(tr, &g.token, g.queue, cfg.Engine, log)
	g.disc = rdm.NewDiscoverer(tr, &g.token, g.tod, cfg.Discovery, notify, log)
	return g
}

// SetResponseCallback registers the RDM response sink. Must be called before
// Start.
func (g *Gateway) SetResponseCallback(cb rdm.Callback) {
	g.eng.SetCallback(cb)
}

// Start launches the tick loop.
func (g *Gateway) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})
	go g.run(ctx)
	g.log.Module("gateway").Infof("tick loop started (mode=%s, rate=%d Hz)", g.Mode(), g.dmxRate)
	return nil
}

// Stop terminates the tick loop and waits for it to exit.
func (g *Gateway) Stop() {
	if g.cancel == nil {
		return
	}
	g.cancel()
	<-g.done
}

// run dispatches the engine, discovery and scheduler steps in sequence. The
// scheduler reads the clock again after the others: a discovery cycle may
// hold the loop for a while and the frame timestamp must not drift backward.
func (g *Gateway) run(ctx context.Context) {
	defer close(g.done)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			g.eng.Tick(now)
			g.disc.Tick(now, g.eng.Idle())
			g.sched.Tick(time.Now())
		}
	}
}

// EnqueueRDM queues one raw RDM request for transmission. false means the
// ring is full or the payload is oversized; the caller must refuse silently.
func (g *Gateway) EnqueueRDM(p []byte, src netip.AddrPort) bool {
	return g.queue.Enqueue(p, src)
}

// UpdateDMX publishes a new channel frame.
func (g *Gateway) UpdateDMX(data []byte) {
	g.sched.Update(data)
}

// SetMode switches between DMX and RDM operation, re-rating the scheduler.
func (g *Gateway) SetMode(m Mode) {
	g.mode.Store(int32(m))
	if m == ModeRDM {
		g.sched.SetRate(dmx.MinRate)
	} else {
		g.sched.SetRate(g.dmxRate)
	}
	g.log.Module("gateway").Infof("mode set to %s", m)
}

// Mode returns the current operation mode.
func (g *Gateway) Mode() Mode {
	return Mode(g.mode.Load())
}

// TOD returns the Table of Devices and clears the changed latch.
func (g *Gateway) TOD() ([]rdm.UID, int) {
	return g.tod.Snapshot()
}

// TODChanged is the non-destructive peek at the changed latch.
func (g *Gateway) TODChanged() bool {
	return g.tod.Changed()
}

// FlushTOD invalidates the device cache and forces immediate re-discovery.
func (g *Gateway) FlushTOD() {
	g.disc.Flush()
}

// QueueLen reports the number of pending RDM requests.
func (g *Gateway) QueueLen() int {
	return g.queue.Len()
}
