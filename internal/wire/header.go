package wire

import "encoding/binary"

// Header is the fixed 12-byte DNS message header.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Response reports whether QR is set.
func (h Header) Response() bool { return h.Flags&QRFlag != 0 }

// Opcode returns the 4-bit operation code.
func (h Header) Opcode() uint8 { return uint8((h.Flags & OpcodeMask) >> 11) }

// Truncated reports whether TC is set.
func (h Header) Truncated() bool { return h.Flags&TCFlag != 0 }

// RecursionDesired reports whether RD is set.
func (h Header) RecursionDesired() bool { return h.Flags&RDFlag != 0 }

// Rcode returns the 4-bit response code.
func (h Header) Rcode() uint8 { return uint8(h.Flags & RCodeMask) }

func (h Header) appendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, h.ID)
	b = binary.BigEndian.AppendUint16(b, h.Flags)
	b = binary.BigEndian.AppendUint16(b, h.QDCount)
	b = binary.BigEndian.AppendUint16(b, h.ANCount)
	b = binary.BigEndian.AppendUint16(b, h.NSCount)
	return binary.BigEndian.AppendUint16(b, h.ARCount)
}

func parseHeader(msg []byte) (Header, error) {
	if len(msg) < HeaderSize {
		return Header{}, ErrTruncated
	}
	return Header{
		ID:      binary.BigEndian.Uint16(msg[0:2]),
		Flags:   binary.BigEndian.Uint16(msg[2:4]),
		QDCount: binary.BigEndian.Uint16(msg[4:6]),
		ANCount: binary.BigEndian.Uint16(msg[6:8]),
		NSCount: binary.BigEndian.Uint16(msg[8:10]),
		ARCount: binary.BigEndian.Uint16(msg[10:12]),
	}, nil
}

// IsTruncated reports whether a raw message has the TC bit set.
// It does not validate anything else.
func IsTruncated(msg []byte) bool {
	return len(msg) >= 4 && binary.BigEndian.Uint16(msg[2:4])&TCFlag != 0
}

// MessageID returns the transaction ID of a raw message, or false when the
// message is too short to carry one.
func MessageID(msg []byte) (uint16, bool) {
	if len(msg) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(msg[0:2]), true
}
