// Package artnet is the network-facing side of the gateway: a single-port
// Art-Net 4 node on UDP 6454. It parses incoming datagrams, feeds DMX frames
// and RDM requests into the core, and forwards the core's outputs (RDM
// responses, the Table of Devices, node announcements) back onto the
// network.
package artnet

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"artnet2dmx/internal/gateway"
	"artnet2dmx/internal/logger"
	"artnet2dmx/internal/rdm"
)

// nodeMAC is the fixed MAC reported in ArtPollReply.
var nodeMAC = [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}

// Control is the core surface the node drives. *gateway.Gateway satisfies
// it.
type Control interface {
	EnqueueRDM(p []byte, src netip.AddrPort) bool
	UpdateDMX(data []byte)
	SetMode(m gateway.Mode)
	Mode() gateway.Mode
	TOD() ([]rdm.UID, int)
	FlushTOD()
	SetResponseCallback(cb rdm.Callback)
}

// packetConn is the UDP surface the server needs; *net.UDPConn satisfies it.
type packetConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	Close() error
}

// Config carries the node identity.
type Config struct {
	Network   string // CIDR of the interface the node announces itself on
	Universe  uint16
	ShortName string
	LongName  string
}

// Server is the Art-Net node.
type Server struct {
	log  *logger.Log
	gw   Control
	cfg  Config
	ip   [4]byte
	conn packetConn
}

// NewServer builds the node over the given core.
func NewServer(gw Control, cfg Config, log *logger.Log) *Server {
	return &Server{log: log, gw: gw, cfg: cfg}
}

// Start binds the UDP socket, registers the RDM response route and
// announces the node. Must be called before the gateway tick loop starts so
// no response can fire without a route.
func (s *Server) Start(ctx context.Context) error {
	ip, err := FindNodeIP(s.cfg.Network)
	if err != nil {
		return fmt.Errorf("failed to find the node IP: %w", err)
	}
	if ip4 := ip.To4(); ip4 != nil {
		copy(s.ip[:], ip4)
	} else {
		s.log.Module("artnet").Warnf("no interface inside %s, announcing 0.0.0.0", s.cfg.Network)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: Port})
	if err != nil {
		return fmt.Errorf("failed to bind Art-Net socket: %w", err)
	}
	s.conn = conn
	s.gw.SetResponseCallback(s.sendRDMResponse)

	go s.readLoop(ctx)

	// Announce ourselves on the network.
	s.announce()
	s.log.Module("artnet").Infof("node listening on :%d (universe %d, ip %v)", Port, s.cfg.Universe, net.IP(s.ip[:]))
	return nil
}

// Stop closes the socket, terminating the read loop.
func (s *Server) Stop() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func (s *Server) readLoop(ctx context.Context) {
	buf := make([]byte, 1500)
	for {
		n, src, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				s.log.Module("artnet").Errorf("socket read failed: %v", err)
			}
			return
		}
		s.handle(buf[:n], src)
	}
}

// handle dispatches one datagram. Unknown or unsupported opcodes are
// silently discarded.
func (s *Server) handle(p []byte, src netip.AddrPort) {
	opcode, ok := opcodeOf(p)
	if !ok {
		return
	}

	switch opcode {
	case OpPoll:
		s.sendPollReply(withPort(src))

	case OpDMX:
		universe, data, err := parseDMX(p)
		if err != nil {
			s.log.Module("artnet").Debugf("dropping ArtDMX: %v", err)
			return
		}
		if universe != s.cfg.Universe {
			return
		}
		s.gw.UpdateDMX(data)

	case OpCommand:
		cmd, err := parseCommand(p)
		if err != nil {
			return
		}
		s.runCommand(cmd)

	case OpRDM:
		if s.gw.Mode() != gateway.ModeRDM {
			return // RDM requests are only accepted in RDM mode
		}
		if len(p) <= rdmHeaderLen {
			return
		}
		payload := p[rdmHeaderLen:]
		if len(payload) > rdm.MaxPacketSize {
			payload = payload[:rdm.MaxPacketSize]
		}
		if !s.gw.EnqueueRDM(payload, src) {
			// Queue full or payload refused: silent, per protocol.
			s.log.Module("artnet").Debugf("ArtRDM from %s refused", src)
		}

	case OpTodRequest:
		s.sendTodData(withPort(src))

	case OpTodControl:
		if len(p) < 14 {
			return
		}
		if p[13] == 0x01 { // AtcFlush
			s.gw.FlushTOD()
		}
		s.sendTodData(withPort(src))
	}
}

func (s *Server) runCommand(cmd string) {
	switch cmd {
	case "MODE=DMX":
		s.gw.SetMode(gateway.ModeDMX)
		s.announce()
	case "MODE=RDM":
		s.gw.SetMode(gateway.ModeRDM)
		s.announce()
	case "FirmwareUpdate":
		s.log.Module("artnet").Warn("FirmwareUpdate command not supported on this target")
	default:
		s.log.Module("artnet").Debugf("unknown ArtCommand %q", cmd)
	}
}

// announce broadcasts an unsolicited ArtPollReply, done on startup and after
// a mode change.
func (s *Server) announce() {
	s.sendPollReply(netip.AddrPortFrom(netip.AddrFrom4([4]byte{255, 255, 255, 255}), Port))
}

func (s *Server) sendPollReply(dst netip.AddrPort) {
	pkt := buildPollReply(pollReplyInfo{
		IP:        s.ip,
		MAC:       nodeMAC,
		Universe:  s.cfg.Universe,
		ShortName: s.cfg.ShortName,
		LongName:  s.cfg.LongName,
		Mode:      s.gw.Mode().String(),
	})
	s.write(pkt, dst)
}

func (s *Server) sendTodData(dst netip.AddrPort) {
	uids, _ := s.gw.TOD()
	raw := make([][6]byte, len(uids))
	for i, u := range uids {
		raw[i] = u
	}
	s.write(buildTodData(s.cfg.Universe, raw), dst)
}

// sendRDMResponse is the engine's response callback: it wraps the outcome in
// an ArtRDM packet addressed to the requester captured at enqueue time.
func (s *Server) sendRDMResponse(data []byte, dst netip.AddrPort) {
	s.write(buildRDM(data), dst)
}

func (s *Server) write(pkt []byte, dst netip.AddrPort) {
	if s.conn == nil {
		return
	}
	if _, err := s.conn.WriteToUDPAddrPort(pkt, dst); err != nil {
		s.log.Module("artnet").Errorf("send to %s failed: %v", dst, err)
	}
}

// withPort redirects replies to the fixed Art-Net port regardless of the
// ephemeral source port of the request.
func withPort(src netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(src.Addr(), Port)
}
