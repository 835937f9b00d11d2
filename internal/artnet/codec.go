package artnet

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Art-Net 4 wire constants.
const (
	// Port is the fixed Art-Net UDP port.
	Port = 6454
	// ProtocolVersion is the minimum protocol revision we speak.
	ProtocolVersion = 14

	headerLen       = 12 // id (8) + opcode (2) + protocol version (2)
	pollReplyLen    = 239
	todDataHeadLen  = 27
	rdmHeaderLen    = 12
	dmxHeaderLen    = 18
	maxCommandBytes = 512
)

// packetID is the "Art-Net\0" magic every packet starts with.
var packetID = []byte{'A', 'r', 't', '-', 'N', 'e', 't', 0x00}

// Opcodes (little-endian on the wire).
const (
	OpPoll       = 0x2000
	OpPollReply  = 0x2100
	OpCommand    = 0x2400
	OpDMX        = 0x5000
	OpTodRequest = 0x8000
	OpTodData    = 0x8100
	OpTodControl = 0x8200
	OpRDM        = 0x8300
)

// opcodeOf validates the packet magic and extracts the opcode. ok is false
// for anything that is not an Art-Net datagram.
func opcodeOf(p []byte) (uint16, bool) {
	if len(p) < 10 || !bytes.Equal(p[:8], packetID) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(p[8:10]), true
}

// parseDMX extracts universe and channel data from an ArtDMX packet. The
// returned slice aliases p.
func parseDMX(p []byte) (universe uint16, data []byte, err error) {
	if len(p) < dmxHeaderLen {
		return 0, nil, fmt.Errorf("artnet: short ArtDMX packet (%d bytes)", len(p))
	}
	universe = binary.LittleEndian.Uint16(p[14:16])
	length := int(binary.BigEndian.Uint16(p[16:18]))
	if length > 512 {
		length = 512
	}
	if len(p) < dmxHeaderLen+length {
		return 0, nil, fmt.Errorf("artnet: ArtDMX declares %d channels, packet has %d bytes", length, len(p))
	}
	return universe, p[dmxHeaderLen : dmxHeaderLen+length], nil
}

// parseCommand extracts the NUL-terminated command text of an ArtCommand.
func parseCommand(p []byte) (string, error) {
	if len(p) < 14 {
		return "", fmt.Errorf("artnet: short ArtCommand packet (%d bytes)", len(p))
	}
	length := int(binary.BigEndian.Uint16(p[12:14]))
	if length > maxCommandBytes {
		length = maxCommandBytes
	}
	if len(p) < 14+length {
		length = len(p) - 14
	}
	cmd := p[14 : 14+length]
	if i := bytes.IndexByte(cmd, 0); i >= 0 {
		cmd = cmd[:i]
	}
	return string(cmd), nil
}

// pollReplyInfo carries the node identity reported in ArtPollReply.
type pollReplyInfo struct {
	IP        [4]byte
	MAC       [6]byte
	Universe  uint16
	ShortName string
	LongName  string
	Mode      string
}

// buildPollReply renders the node announcement.
func buildPollReply(info pollReplyInfo) []byte {
	p := make([]byte, pollReplyLen)
	copy(p[0:8], packetID)
	binary.LittleEndian.PutUint16(p[8:10], OpPollReply)
	copy(p[10:14], info.IP[:])
	binary.BigEndian.PutUint16(p[14:16], Port)
	binary.BigEndian.PutUint16(p[16:18], 0x0001) // firmware version
	// p[18] net switch, p[19] sub switch: universe 0 block
	// p[20:22] oem, p[22] ubea, p[23] status1: zero
	// p[24:26] ESTA manufacturer code: placeholder
	copyPadded(p[26:44], info.ShortName)
	copyPadded(p[44:108], info.LongName)
	copyPadded(p[108:172], fmt.Sprintf("#0001 [%s] OK", info.Mode))
	binary.BigEndian.PutUint16(p[172:174], 1) // one port
	p[174] = 0x80                             // port type: DMX output
	p[182] = 0x80                             // good output: data being transmitted
	p[190] = byte(info.Universe & 0x0F)       // sw_out
	// p[200] style: StNode
	copy(p[201:207], info.MAC[:])
	copy(p[207:211], info.IP[:]) // bind ip
	p[211] = 1                   // bind index
	p[212] = 0x08                // status2: DHCP capable
	return p
}

// copyPadded copies s into dst, leaving at least one trailing NUL.
func copyPadded(dst []byte, s string) {
	if len(s) >= len(dst) {
		s = s[:len(dst)-1]
	}
	copy(dst, s)
}

// buildTodData renders the Table of Devices for the served universe.
func buildTodData(universe uint16, uids [][6]byte) []byte {
	count := len(uids)
	if count > 255 {
		count = 255
	}
	p := make([]byte, todDataHeadLen+count*6)
	copy(p[0:8], packetID)
	binary.LittleEndian.PutUint16(p[8:10], OpTodData)
	p[11] = ProtocolVersion
	// p[12] rdm version, p[13:20] spare, p[20] net: zero
	// p[21] command response: TOD full
	p[22] = byte(universe & 0x0F)
	binary.BigEndian.PutUint16(p[23:25], uint16(len(uids)))
	// p[25] block count: zero
	p[26] = byte(count)
	for i := 0; i < count; i++ {
		copy(p[todDataHeadLen+i*6:], uids[i][:])
	}
	return p
}

// buildRDM wraps an RDM response payload in an ArtRDM packet. A nil payload
// produces a bare header, the failure marker the host side understands.
func buildRDM(payload []byte) []byte {
	p := make([]byte, rdmHeaderLen+len(payload))
	copy(p[0:8], packetID)
	binary.LittleEndian.PutUint16(p[8:10], OpRDM)
	p[11] = ProtocolVersion
	copy(p[rdmHeaderLen:], payload)
	return p
}
