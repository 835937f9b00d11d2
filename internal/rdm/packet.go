package rdm

// Checksum computes the 16-bit arithmetic sum of the message bytes
// (E1.20 §3.12).
func Checksum(p []byte) uint16 {
	var sum uint16
	for _, b := range p {
		sum += uint16(b)
	}
	return sum
}

// ValidateResponse checks that p carries a structurally sound RDM response:
// minimum length, start codes, declared message length, and a trailing
// checksum equal to the sum of all preceding declared-length bytes.
func ValidateResponse(p []byte) bool {
	if len(p) < 4 {
		return false
	}
	if p[0] != StartCode || p[1] != SubStartCode {
		return false
	}
	msgLen := int(p[2])
	if len(p) < msgLen+2 {
		return false
	}
	calc := Checksum(p[:msgLen])
	recv := uint16(p[msgLen])<<8 | uint16(p[msgLen+1])
	return calc == recv
}

// PacketComplete reports whether buf holds a full RDM response: start code,
// declared message length, and the two checksum bytes. Used as the
// structural end-of-packet predicate for framed receives.
func PacketComplete(buf []byte) bool {
	if len(buf) < 3 || buf[0] != StartCode || buf[1] != SubStartCode {
		return false
	}
	return len(buf) >= int(buf[2])+2
}

// header writes the fixed 24-byte message header shared by the discovery
// requests and returns the message length so far.
func discHeader(buf []byte, dest UID, pid uint16, pdl byte) int {
	buf[0] = StartCode
	buf[1] = SubStartCode
	buf[2] = 24 + pdl // message length: header incl. PDL byte + parameter data
	copy(buf[3:9], dest[:])
	// Source UID: all zeros, the controller.
	for i := 9; i < 15; i++ {
		buf[i] = 0
	}
	buf[15] = 0 // transaction number
	buf[16] = 0 // port / response type
	buf[17] = 0 // message count
	buf[18] = 0 // sub-device
	buf[19] = 0
	buf[20] = CCDiscCommand
	buf[21] = byte(pid >> 8)
	buf[22] = byte(pid)
	buf[23] = pdl
	return int(buf[2])
}

// appendChecksum seals the message of msgLen bytes and returns the full
// packet length.
func appendChecksum(buf []byte, msgLen int) int {
	chk := Checksum(buf[:msgLen])
	buf[msgLen] = byte(chk >> 8)
	buf[msgLen+1] = byte(chk)
	return msgLen + 2
}

// BuildDiscUniqueBranch builds a DISC_UNIQUE_BRANCH broadcast spanning
// [lower, upper].
func BuildDiscUniqueBranch(lower, upper UID) []byte {
	buf := make([]byte, MaxPacketSize)
	msgLen := discHeader(buf, BroadcastUID, PIDDiscUniqueBranch, 12)
	copy(buf[24:30], lower[:])
	copy(buf[30:36], upper[:])
	return buf[:appendChecksum(buf, msgLen)]
}

// BuildDiscMute builds a DISC_MUTE command addressed to uid.
func BuildDiscMute(uid UID) []byte {
	buf := make([]byte, MaxPacketSize)
	msgLen := discHeader(buf, uid, PIDDiscMute, 0)
	return buf[:appendChecksum(buf, msgLen)]
}

// discResponseMinLen is the minimum DISC_UNIQUE_BRANCH response carrying a
// decodable UID: preamble separator plus twelve encoded UID bytes plus the
// four encoded checksum bytes.
const discResponseMinLen = 17

// DecodeEUID extracts the responding UID from the preamble-coded bytes of a
// DISC_UNIQUE_BRANCH response. Each UID byte arrives as two nibble-coded
// bytes following the preamble separator. Responses shorter than the minimum
// decode to the zero UID with ok=false.
func DecodeEUID(resp []byte) (UID, bool) {
	var uid UID
	if len(resp) < discResponseMinLen {
		return uid, false
	}
	for i := 0; i < 6; i++ {
		uid[i] = resp[1+i*2]&0x0F | (resp[2+i*2]&0x0F)<<4
	}
	return uid, true
}
