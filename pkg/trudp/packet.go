package trudp

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

// PacketType identifies the role a segment plays in the handshake, teardown,
// key-agreement or data-transfer phases of a connection.
type PacketType uint8

const (
	PacketSYN PacketType = iota + 1
	PacketSYNACK
	PacketACK
	PacketData
	PacketFIN
	PacketFINACK
	PacketKeyExchange
	PacketKeyResponse
)

func (t PacketType) String() string {
	switch t {
	case PacketSYN:
		return "SYN"
	case PacketSYNACK:
		return "SYN_ACK"
	case PacketACK:
		return "ACK"
	case PacketData:
		return "DATA"
	case PacketFIN:
		return "FIN"
	case PacketFINACK:
		return "FIN_ACK"
	case PacketKeyExchange:
		return "KEY_EXCHANGE"
	case PacketKeyResponse:
		return "KEY_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// HeaderSize is the fixed portion of every packet on the wire: seq(4) |
// ack(4) | type(1) | window(2) | checksum(4) | timestamp(8).
const HeaderSize = 23

// IVSize is the length of the initialization vector appended after the
// fixed header when the connection is running in confidential mode. It is
// never present on the wire otherwise (spec.md §9 resolves the 23-vs-39-byte
// header-length disagreement this way).
const IVSize = 16

// ErrPacketTooShort is returned by Decode when the input is shorter than the
// header (or header+IV, in confidential mode) requires.
var ErrPacketTooShort = errors.New("trudp: packet shorter than minimum size")

// ErrChecksumMismatch is returned by Decode when the computed checksum does
// not match the one carried on the wire.
var ErrChecksumMismatch = errors.New("trudp: checksum mismatch")

// Packet is the decoded form of one segment. Confidential carries whether
// this packet was encoded/decoded with the 16-byte IV segment; it is not
// itself part of the wire header, it just records which layout Encode/Decode
// used so callers don't have to remember separately.
type Packet struct {
	Seq          uint32
	Ack          uint32
	Type         PacketType
	Window       uint16
	Timestamp    time.Time
	IV           [IVSize]byte
	Confidential bool
	Data         []byte
}

// wireSize returns the serialized length of p given its Confidential flag.
func (p *Packet) wireSize() int {
	n := HeaderSize + len(p.Data)
	if p.Confidential {
		n += IVSize
	}
	return n
}

// Encode serializes p into its wire representation, computing and filling
// in the checksum field.
func (p *Packet) Encode() []byte {
	buf := make([]byte, p.wireSize())
	p.encodeInto(buf, 0)
	checksum := onesComplementChecksum(buf)
	binary.BigEndian.PutUint32(buf[11:15], uint32(checksum))
	return buf
}

// encodeInto writes every field except the checksum (left zero) starting at
// offset, so callers can compute the checksum over the whole buffer first.
func (p *Packet) encodeInto(buf []byte, offset int) {
	binary.BigEndian.PutUint32(buf[offset:], p.Seq)
	binary.BigEndian.PutUint32(buf[offset+4:], p.Ack)
	buf[offset+8] = byte(p.Type)
	binary.BigEndian.PutUint16(buf[offset+9:], p.Window)
	// bytes offset+11..offset+15 are the checksum field, left zero here.
	binary.BigEndian.PutUint64(buf[offset+15:], uint64(p.Timestamp.UnixMicro()))
	pos := offset + HeaderSize
	if p.Confidential {
		copy(buf[pos:pos+IVSize], p.IV[:])
		pos += IVSize
	}
	copy(buf[pos:], p.Data)
}

// Decode parses raw into a Packet. confidential must reflect whether the
// connection that received raw is currently running in confidential mode;
// the wire format carries no self-describing flag for this, so the caller
// (the connection state machine) supplies it from its own negotiated state.
func Decode(raw []byte, confidential bool) (*Packet, error) {
	minSize := HeaderSize
	if confidential {
		minSize += IVSize
	}
	if len(raw) < minSize {
		return nil, ErrPacketTooShort
	}

	wantChecksum := binary.BigEndian.Uint32(raw[11:15])
	check := make([]byte, len(raw))
	copy(check, raw)
	binary.BigEndian.PutUint32(check[11:15], 0)
	gotChecksum := onesComplementChecksum(check)
	if uint32(gotChecksum) != wantChecksum {
		return nil, ErrChecksumMismatch
	}

	p := &Packet{
		Seq:          binary.BigEndian.Uint32(raw[0:4]),
		Ack:          binary.BigEndian.Uint32(raw[4:8]),
		Type:         PacketType(raw[8]),
		Window:       binary.BigEndian.Uint16(raw[9:11]),
		Timestamp:    time.UnixMicro(int64(binary.BigEndian.Uint64(raw[15:23]))),
		Confidential: confidential,
	}
	pos := HeaderSize
	if confidential {
		copy(p.IV[:], raw[pos:pos+IVSize])
		pos += IVSize
	}
	p.Data = append([]byte(nil), raw[pos:]...)
	return p, nil
}

// onesComplementChecksum computes the RFC 1071-style one's-complement sum
// of buf over 16-bit big-endian words, zero-padding an odd trailing byte,
// folding carries back in until they vanish, then returns the one's
// complement of the result. Encode stores it in the low 16 bits of the
// 32-bit checksum field.
func onesComplementChecksum(buf []byte) uint16 {
	var sum uint32
	n := len(buf)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(buf[i])<<8 | uint32(buf[i+1])
	}
	if n%2 == 1 {
		sum += uint32(buf[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}
