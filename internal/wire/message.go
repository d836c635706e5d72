package wire

import (
	"encoding/binary"
	"fmt"
)

// Question is one entry of the question section.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// ResourceRecord is one answer record. Strings is populated for TXT records:
// each character-string of the RDATA is one element.
type ResourceRecord struct {
	Name    string
	Type    uint16
	Class   uint16
	TTL     uint32
	Data    []byte
	Strings [][]byte
}

// Message is a decoded DNS message. Authority and additional sections are not
// retained; their counts stay visible in Header.
type Message struct {
	Header    Header
	Questions []Question
	Answers   []ResourceRecord
}

// TXTRecord builds a TXT answer for name. Strings longer than 255 bytes are
// split into consecutive character-strings.
func TXTRecord(name string, ttl uint32, strs ...string) ResourceRecord {
	rr := ResourceRecord{Name: name, Type: TypeTXT, Class: ClassIN, TTL: ttl}
	for _, s := range strs {
		for len(s) > MaxStringLength {
			rr.Strings = append(rr.Strings, []byte(s[:MaxStringLength]))
			s = s[MaxStringLength:]
		}
		rr.Strings = append(rr.Strings, []byte(s))
	}
	return rr
}

// TXT returns every character-string of every IN TXT answer, in order.
func (m *Message) TXT() [][]byte {
	var out [][]byte
	for _, rr := range m.Answers {
		if rr.Type == TypeTXT && rr.Class == ClassIN {
			out = append(out, rr.Strings...)
		}
	}
	return out
}

// EncodeQuery returns the wire form of a recursive query for name.
func EncodeQuery(name string, qtype, qclass, id uint16) ([]byte, error) {
	m := Message{
		Header:    Header{ID: id, Flags: RDFlag},
		Questions: []Question{{Name: name, Type: qtype, Class: qclass}},
	}
	return m.Marshal()
}

// NewQuery returns the Message EncodeQuery would produce for the same arguments.
func NewQuery(name string, qtype, qclass, id uint16) *Message {
	return &Message{
		Header:    Header{ID: id, Flags: RDFlag, QDCount: 1},
		Questions: []Question{{Name: name, Type: qtype, Class: qclass}},
	}
}

// Marshal serializes m without name compression. Section counts are derived
// from the slices, not from m.Header.
func (m *Message) Marshal() ([]byte, error) {
	if len(m.Questions) > 0xFFFF || len(m.Answers) > 0xFFFF {
		return nil, fmt.Errorf("%w: too many records", ErrMalformed)
	}
	h := m.Header
	h.QDCount = uint16(len(m.Questions))
	h.ANCount = uint16(len(m.Answers))
	h.NSCount, h.ARCount = 0, 0

	out := make([]byte, 0, 512)
	out = h.appendTo(out)
	for _, q := range m.Questions {
		name, err := EncodeName(q.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, name...)
		out = binary.BigEndian.AppendUint16(out, q.Type)
		out = binary.BigEndian.AppendUint16(out, q.Class)
	}
	for _, rr := range m.Answers {
		var err error
		if out, err = appendRecord(out, rr); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func appendRecord(out []byte, rr ResourceRecord) ([]byte, error) {
	name, err := EncodeName(rr.Name)
	if err != nil {
		return nil, err
	}
	rdata := rr.Data
	if rdata == nil && rr.Type == TypeTXT {
		for _, s := range rr.Strings {
			if len(s) > MaxStringLength {
				return nil, fmt.Errorf("%w: character-string longer than 255 bytes", ErrMalformed)
			}
			rdata = append(rdata, byte(len(s)))
			rdata = append(rdata, s...)
		}
	}
	if len(rdata) > 0xFFFF {
		return nil, fmt.Errorf("%w: rdata too long", ErrMalformed)
	}
	out = append(out, name...)
	out = binary.BigEndian.AppendUint16(out, rr.Type)
	out = binary.BigEndian.AppendUint16(out, rr.Class)
	out = binary.BigEndian.AppendUint32(out, rr.TTL)
	out = binary.BigEndian.AppendUint16(out, uint16(len(rdata)))
	return append(out, rdata...), nil
}

// Decode parses a DNS message.
//
// Reads past the end of msg inside a name fail with ErrTruncated. Header
// counts that promise more records than msg holds, records whose RDLENGTH
// overruns the message, bad TXT character-strings and trailing bytes fail
// with ErrMalformed.
func Decode(msg []byte) (*Message, error) {
	h, err := parseHeader(msg)
	if err != nil {
		return nil, err
	}
	m := &Message{Header: h}
	off := HeaderSize

	m.Questions = make([]Question, 0, min(int(h.QDCount), MaxRecordsPerSection))
	for i := 0; i < int(h.QDCount); i++ {
		if off >= len(msg) {
			return nil, fmt.Errorf("%w: QDCOUNT=%d but only %d questions present", ErrMalformed, h.QDCount, i)
		}
		q, err := parseQuestion(msg, &off)
		if err != nil {
			return nil, err
		}
		m.Questions = append(m.Questions, q)
	}

	m.Answers = make([]ResourceRecord, 0, min(int(h.ANCount), MaxRecordsPerSection))
	for i := 0; i < int(h.ANCount); i++ {
		if off >= len(msg) {
			return nil, fmt.Errorf("%w: ANCOUNT=%d but only %d answers present", ErrMalformed, h.ANCount, i)
		}
		rr, err := parseRecord(msg, &off)
		if err != nil {
			return nil, err
		}
		m.Answers = append(m.Answers, rr)
	}

	// Authority and additional records are validated and dropped.
	rest := int(h.NSCount) + int(h.ARCount)
	for i := 0; i < rest; i++ {
		if off >= len(msg) {
			return nil, fmt.Errorf("%w: NSCOUNT+ARCOUNT=%d but only %d records present", ErrMalformed, rest, i)
		}
		if _, err := parseRecord(msg, &off); err != nil {
			return nil, err
		}
	}

	if off != len(msg) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(msg)-off)
	}
	return m, nil
}

func parseQuestion(msg []byte, off *int) (Question, error) {
	name, err := DecodeName(msg, off)
	if err != nil {
		return Question{}, err
	}
	if *off+4 > len(msg) {
		return Question{}, fmt.Errorf("%w: question runs past end of message", ErrTruncated)
	}
	q := Question{
		Name:  name,
		Type:  binary.BigEndian.Uint16(msg[*off:]),
		Class: binary.BigEndian.Uint16(msg[*off+2:]),
	}
	*off += 4
	return q, nil
}

func parseRecord(msg []byte, off *int) (ResourceRecord, error) {
	name, err := DecodeName(msg, off)
	if err != nil {
		return ResourceRecord{}, err
	}
	if *off+10 > len(msg) {
		return ResourceRecord{}, fmt.Errorf("%w: record header runs past end of message", ErrMalformed)
	}
	rr := ResourceRecord{
		Name:  name,
		Type:  binary.BigEndian.Uint16(msg[*off:]),
		Class: binary.BigEndian.Uint16(msg[*off+2:]),
		TTL:   binary.BigEndian.Uint32(msg[*off+4:]),
	}
	rdlen := int(binary.BigEndian.Uint16(msg[*off+8:]))
	*off += 10
	if *off+rdlen > len(msg) {
		return ResourceRecord{}, fmt.Errorf("%w: RDLENGTH=%d overruns message", ErrMalformed, rdlen)
	}
	rr.Data = append([]byte(nil), msg[*off:*off+rdlen]...)
	*off += rdlen

	if rr.Type == TypeTXT {
		if rr.Strings, err = parseCharacterStrings(rr.Data); err != nil {
			return ResourceRecord{}, err
		}
	}
	return rr, nil
}

// parseCharacterStrings splits TXT RDATA into its length-prefixed strings.
func parseCharacterStrings(rdata []byte) ([][]byte, error) {
	var out [][]byte
	for p := 0; p < len(rdata); {
		n := int(rdata[p])
		p++
		if p+n > len(rdata) {
			return nil, fmt.Errorf("%w: TXT character-string overruns RDATA", ErrMalformed)
		}
		out = append(out, rdata[p:p+n])
		p += n
	}
	return out, nil
}
