package rdm

import (
	"sync/atomic"
	"time"

	"artnet2dmx/internal/bus"
	"artnet2dmx/internal/logger"
)

// Discovery defaults.
const (
	DefaultDiscoveryInterval = 10 * time.Second
	DefaultProbeTimeout      = 30 * time.Millisecond
	// maxProbes is the attempt ceiling of one cycle; together with the
	// silent-probe exit it guarantees termination on any bus.
	maxProbes = 64
)

// DiscoveryConfig tunes the background discovery cadence.
type DiscoveryConfig struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// Discoverer enumerates the devices sharing the bus with a mute-and-probe
// procedure: broadcast DISC_UNIQUE_BRANCH over the full UID range, decode
// whoever answers, mute it so it stays silent, repeat until a probe goes
// unanswered or the attempt ceiling is reached.
//
// This is a deliberate simplification of the full E1.20 binary-tree search:
// it converges only for devices that stop responding once muted and cannot
// disambiguate two devices answering the same broadcast simultaneously.
type Discoverer struct {
	log   *logger.Log
	tr    Transport
	token *bus.Token
	cfg   DiscoveryConfig
	tod   *TOD

	last   time.Time   // touched only by Tick
	force  atomic.Bool // set by Flush from the network goroutine
	notify chan<- []UID
}

// NewDiscoverer builds the discovery engine over the shared transport.
// notify, when non-nil, receives a snapshot after every cycle that changed
// the table; sends never block.
func NewDiscoverer(tr Transport, token *bus.Token, tod *TOD, cfg DiscoveryConfig, notify chan<- []UID, log *logger.Log) *Discoverer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultDiscoveryInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	d := &Discoverer{
		log:    log,
		tr:     tr,
		token:  token,
		cfg:    cfg,
		tod:    tod,
		notify: notify,
	}
	// Force an initial cycle so the TOD is populated right after startup.
	d.force.Store(true)
	return d
}

// Flush invalidates the TOD cache and schedules an immediate re-discovery on
// the next idle tick.
func (d *Discoverer) Flush() {
	d.tod.Flush()
	d.force.Store(true)
}

// Tick runs one full discovery cycle when due. It only runs while the
// transaction engine is idle, and owns the bus for the whole cycle.
func (d *Discoverer) Tick(now time.Time, engineIdle bool) {
	if !engineIdle {
		return
	}
	if !d.force.Load() && now.Sub(d.last) < d.cfg.Interval {
		return
	}
	if !d.token.TryAcquire() {
		return
	}
	defer d.token.Release()
	d.force.Store(false)

	found := d.runCycle()
	changed := d.tod.commit(found)
	d.last = time.Now()

	d.log.Module("rdm").Debugf("discovery cycle done: %d device(s), changed=%v", len(found), changed)
	if changed && d.notify != nil {
		snapshot := make([]UID, len(found))
		copy(snapshot, found)
		select {
		case d.notify <- snapshot:
		default:
		}
	}
}

// runCycle performs the mute-and-probe enumeration and returns the UIDs in
// discovery order.
func (d *Discoverer) runCycle() []UID {
	var found []UID
	probe := BuildDiscUniqueBranch(UID{}, BroadcastUID)

	for attempt := 0; attempt < maxProbes; attempt++ {
		d.tr.DiscardInput()
		if err := d.tr.Send(probe); err != nil {
			d.log.Module("rdm").Errorf("discovery probe failed: %v", err)
			break
		}
		resp := d.tr.Receive(MaxPacketSize, d.cfg.ProbeTimeout, nil)
		if len(resp) < 7 {
			break // silent bus: no (more) unmuted devices
		}

		// Two unmuted devices answering at once garble the preamble; the
		// decoded UID is then bogus and the mute lands nowhere. Accepted
		// limitation of the mute-and-probe scheme.
		uid, ok := DecodeEUID(resp)
		if !ok {
			d.log.Module("rdm").Debugf("short discovery response (%d bytes)", len(resp))
		}

		mute := BuildDiscMute(uid)
		if err := d.tr.Send(mute); err != nil {
			d.log.Module("rdm").Errorf("mute transmit failed: %v", err)
			break
		}
		d.tr.Receive(MaxPacketSize, d.cfg.ProbeTimeout, PacketComplete) // consume the mute response

		if len(found) < MaxTODDevices {
			found = append(found, uid)
		}
	}
	return found
}
