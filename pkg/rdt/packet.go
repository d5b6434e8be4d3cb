package rdt

import "fmt"

// Flag bits carried in a packet header. SYN and FIN are mutually exclusive.
const (
	FlagSYN byte = 1 << iota
	FlagFIN
	FlagACK
)

// HeaderSize is the fixed on-wire header length: seq, ack, flags, checksum.
const HeaderSize = 4

// BufferSize is the maximum payload carried by a single data chunk.
const BufferSize = 4096

// Packet is the decoded form of one datagram: a 4-byte header plus payload.
type Packet struct {
	Seq      uint8
	Ack      uint8
	Flags    byte
	Checksum uint8
	Payload  []byte
}

func (p Packet) hasFlag(f byte) bool { return p.Flags&f != 0 }

// IsSYN reports whether the SYN bit is set.
func (p Packet) IsSYN() bool { return p.hasFlag(FlagSYN) }

// IsFIN reports whether the FIN bit is set.
func (p Packet) IsFIN() bool { return p.hasFlag(FlagFIN) }

// IsACK reports whether the ACK bit is set.
func (p Packet) IsACK() bool { return p.hasFlag(FlagACK) }

// IsProtocolViolation reports whether p carries a flag combination the
// protocol never produces and must not act on: SYN and FIN are mutually
// exclusive (spec.md §7 item 3), so a packet with both set is dropped by
// every engine rather than treated as either.
func (p Packet) IsProtocolViolation() bool { return p.IsSYN() && p.IsFIN() }

// checksum computes the weak 8-bit integrity value for payload.
//
// The legacy protocol this module implements computed the checksum over
// the textual repr of the payload bytes, which is not a meaningful
// integrity check and is not reproducible outside that language's string
// formatting. Per the spec's explicit allowance to substitute a stronger
// checksum as long as both peers agree, this is a plain byte-sum mod 256
// over the raw payload.
func checksum(payload []byte) uint8 {
	var sum uint8
	for _, b := range payload {
		sum += b
	}
	return sum
}

// Encode renders a packet to its wire representation: header then payload.
func Encode(seq, ack uint8, flags byte, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = seq
	buf[1] = ack
	buf[2] = flags
	buf[3] = checksum(payload)
	copy(buf[HeaderSize:], payload)
	return buf
}

// ErrMalformedPacket is returned by Decode when the datagram is too short
// to contain a header. It never terminates a connection; the engine logs
// and discards it.
var ErrMalformedPacket = fmt.Errorf("rdt: malformed packet (short header)")

// Decode parses a raw datagram into a Packet. It does not verify the
// checksum — that is a receiver-side policy decision left to the engine,
// which may choose to treat a bad checksum as a dropped packet or, for
// a server tolerating reordering, still answer with a duplicate ACK.
func Decode(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, ErrMalformedPacket
	}
	p := Packet{
		Seq:      b[0],
		Ack:      b[1],
		Flags:    b[2],
		Checksum: b[3],
	}
	if len(b) > HeaderSize {
		p.Payload = append([]byte(nil), b[HeaderSize:]...)
	}
	return p, nil
}

// ChecksumValid reports whether p's stored checksum matches its payload.
func (p Packet) ChecksumValid() bool {
	return p.Checksum == checksum(p.Payload)
}

func (p Packet) String() string {
	var f string
	if p.IsSYN() {
		f += "S"
	}
	if p.IsFIN() {
		f += "F"
	}
	if p.IsACK() {
		f += "A"
	}
	return fmt.Sprintf("seq=%d ack=%d flags=%s len=%d", p.Seq, p.Ack, f, len(p.Payload))
}
