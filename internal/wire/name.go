package wire

import (
	"fmt"
	"strings"
)

// EncodeName encodes a dot-separated ASCII name to uncompressed wire format:
//
//	"hi.ch.at" -> [2]hi[2]ch[2]at[0]
//
// A single trailing dot is accepted. Labels must be 1-63 bytes and the
// encoded name must not exceed 255 bytes.
func EncodeName(name string) ([]byte, error) {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return []byte{0}, nil
	}

	out := make([]byte, 0, len(name)+2)
	for _, lbl := range strings.Split(name, ".") {
		if lbl == "" {
			return nil, fmt.Errorf("%w: empty label in %q", ErrMalformed, name)
		}
		if len(lbl) > MaxLabelLength {
			return nil, fmt.Errorf("%w: label too long (%d > %d): %q", ErrMalformed, len(lbl), MaxLabelLength, lbl)
		}
		for i := 0; i < len(lbl); i++ {
			if lbl[i] > 0x7F {
				return nil, fmt.Errorf("%w: name must be ASCII: %q", ErrMalformed, name)
			}
		}
		out = append(out, byte(len(lbl)))
		out = append(out, lbl...)
	}
	out = append(out, 0)

	if len(out) > MaxNameLength {
		return nil, fmt.Errorf("%w: encoded name too long (%d > %d)", ErrMalformed, len(out), MaxNameLength)
	}
	return out, nil
}

// DecodeName decodes a possibly-compressed name starting at *off and advances
// *off past the name as it appears at that position (a compression pointer
// counts as two bytes). The result is lowercased, dot-separated, and has no
// trailing dot; the root name decodes to "".
//
// A label length byte with both high bits set (0xC0) is a pointer whose low
// 14 bits are an offset from the start of msg:
//
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	| 1  1|                OFFSET                   |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//
// At most MaxPointerJumps pointers are followed per name.
func DecodeName(msg []byte, off *int) (string, error) {
	var (
		b      strings.Builder
		pos    = *off
		next   = -1 // where the caller resumes once the first pointer is taken
		jumps  int
		wireSz int
	)
	for {
		if pos < 0 || pos >= len(msg) {
			return "", fmt.Errorf("%w: name runs past end of message", ErrTruncated)
		}
		n := msg[pos]
		switch n & 0xC0 {
		case 0x00:
			pos++
			if n == 0 {
				if next < 0 {
					next = pos
				}
				*off = next
				return b.String(), nil
			}
			if pos+int(n) > len(msg) {
				return "", fmt.Errorf("%w: label runs past end of message", ErrTruncated)
			}
			wireSz += 1 + int(n)
			if wireSz+1 > MaxNameLength {
				return "", fmt.Errorf("%w: name exceeds %d bytes", ErrMalformed, MaxNameLength)
			}
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			writeLower(&b, msg[pos:pos+int(n)])
			pos += int(n)

		case 0xC0:
			if pos+1 >= len(msg) {
				return "", fmt.Errorf("%w: compression pointer runs past end of message", ErrTruncated)
			}
			jumps++
			if jumps > MaxPointerJumps {
				return "", fmt.Errorf("%w: more than %d pointers", ErrCompressionLoop, MaxPointerJumps)
			}
			if next < 0 {
				next = pos + 2
			}
			pos = int(n&0x3F)<<8 | int(msg[pos+1])

		default:
			// 0x40 and 0x80 are reserved label types.
			return "", fmt.Errorf("%w: reserved label type 0x%02x", ErrMalformed, n&0xC0)
		}
	}
}

// EqualNames compares two names case-insensitively, ignoring a trailing dot.
func EqualNames(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(a, "."), strings.TrimSuffix(b, "."))
}

func writeLower(b *strings.Builder, lbl []byte) {
	for _, c := range lbl {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
}
