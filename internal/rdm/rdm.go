// Package rdm implements the E1.20 side of the gateway: the bounded request
// queue, the transaction state machine that drives one RDM request/response
// cycle at a time over the shared RS-485 line, and the background device
// discovery that maintains the Table of Devices.
package rdm

import (
	"fmt"
	"time"
)

// E1.20 packet constants.
const (
	// StartCode is the RDM start code.
	StartCode = 0xCC
	// SubStartCode is the sub-start code of a standard message.
	SubStartCode = 0x01
	// MaxPacketSize is the maximum byte count of an RDM packet.
	MaxPacketSize = 257
)

// Command classes.
const (
	CCDiscCommand         = 0x10
	CCDiscCommandResponse = 0x11
	CCGetCommand          = 0x20
	CCGetCommandResponse  = 0x21
	CCSetCommand          = 0x30
	CCSetCommandResponse  = 0x31
)

// Parameter IDs used during discovery.
const (
	PIDDiscUniqueBranch = 0x0001
	PIDDiscMute         = 0x0002
	PIDDiscUnMute       = 0x0003
	PIDDeviceInfo       = 0x0060
)

// MaxTODDevices bounds the Table of Devices.
const MaxTODDevices = 256

// UID is the unique 6-byte identifier of an RDM device.
type UID [6]byte

// BroadcastUID addresses all devices on the bus.
var BroadcastUID = UID{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// String renders the UID in the conventional manufacturer:device form.
func (u UID) String() string {
	return fmt.Sprintf("%02x%02x:%02x%02x%02x%02x", u[0], u[1], u[2], u[3], u[4], u[5])
}

// Transport is the bus surface the engine and the discoverer consume.
// *rs485.Bus satisfies it.
type Transport interface {
	// Send transmits one framed packet and blocks until it is on the wire.
	Send(p []byte) error
	// ReadByte pops one queued receive byte without blocking.
	ReadByte() (byte, bool)
	// DiscardInput drops stale receive bytes.
	DiscardInput()
	// Receive collects bytes until max, end-of-packet or timeout.
	Receive(max int, timeout time.Duration, complete func([]byte) bool) []byte
}
