package wire

import (
	"encoding/binary"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/suite"

	"github.com/lc/txtchat/internal/dnserr"
)

type WireTestSuite struct {
	suite.Suite
}

func (s *WireTestSuite) TestEncodeDecodeRoundTrip() {
	names := []string{
		"hello.ch.at",
		"what-is-the-meaning-of-life.ch.at",
		"a.b.c.d.e.f",
		"x23456789012345678901234567890123456789012345678901234567890123.llm.pieter.com",
	}
	for _, name := range names {
		s.Run(name, func() {
			b, err := EncodeQuery(name, TypeTXT, ClassIN, 0xBEEF)
			s.Require().NoError(err)

			m, err := Decode(b)
			s.Require().NoError(err)
			s.Equal(uint16(0xBEEF), m.Header.ID)
			s.False(m.Header.Response())
			s.True(m.Header.RecursionDesired())
			s.Require().Len(m.Questions, 1)
			s.Equal(name, m.Questions[0].Name)
			s.Equal(TypeTXT, m.Questions[0].Type)
			s.Equal(ClassIN, m.Questions[0].Class)
		})
	}
}

func (s *WireTestSuite) TestEncodeQueryHeaderLayout() {
	b, err := EncodeQuery("hi.ch.at", TypeTXT, ClassIN, 0x1234)
	s.Require().NoError(err)
	s.Equal([]byte{
		0x12, 0x34, // id
		0x01, 0x00, // RD
		0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		2, 'h', 'i', 2, 'c', 'h', 2, 'a', 't', 0,
		0x00, 0x10, 0x00, 0x01,
	}, b)
	s.Equal(NewQuery("hi.ch.at", TypeTXT, ClassIN, 0x1234).Questions, mustDecode(s, b).Questions)
}

func (s *WireTestSuite) TestEncodeNameErrors() {
	testCases := []struct {
		name string
		in   string
	}{
		{name: "empty label", in: "a..b"},
		{name: "label too long", in: string(make([]byte, 64)) + ".com"},
		{name: "non ascii", in: "héllo.com"},
		{name: "name too long", in: longName(300)},
	}
	for _, tc := range testCases {
		s.Run(tc.name, func() {
			_, err := EncodeName(tc.in)
			s.ErrorIs(err, ErrMalformed)
		})
	}
}

func (s *WireTestSuite) TestDecodeFollowsCompressionPointers() {
	// question "hello.ch.at", answer name points back at offset 12.
	msg := responseHeader(0x0101, 1, 1)
	msg = append(msg, 5, 'H', 'e', 'L', 'L', 'o', 2, 'c', 'h', 2, 'a', 't', 0, 0, 16, 0, 1)
	msg = append(msg, 0xC0, 12, 0, 16, 0, 1, 0, 0, 0, 60, 0, 6, 5, 'w', 'o', 'r', 'l', 'd')

	m, err := Decode(msg)
	s.Require().NoError(err)
	s.Equal("hello.ch.at", m.Questions[0].Name)
	s.Require().Len(m.Answers, 1)
	s.Equal("hello.ch.at", m.Answers[0].Name)
	s.Equal(uint32(60), m.Answers[0].TTL)
	s.Equal([][]byte{[]byte("world")}, m.TXT())
}

func (s *WireTestSuite) TestDecodePointerToSuffix() {
	// second name is "x" + pointer to "ch.at" inside the first name.
	msg := responseHeader(1, 1, 1)
	msg = append(msg, 5, 'h', 'e', 'l', 'l', 'o', 2, 'c', 'h', 2, 'a', 't', 0, 0, 16, 0, 1)
	msg = append(msg, 1, 'x', 0xC0, 18, 0, 16, 0, 1, 0, 0, 0, 0, 0, 0)
	m, err := Decode(msg)
	s.Require().NoError(err)
	s.Equal("x.ch.at", m.Answers[0].Name)
	s.Empty(m.TXT())
}

func (s *WireTestSuite) TestDecodeSelfPointerIsCompressionLoop() {
	msg := responseHeader(1, 1, 0)
	msg = append(msg, 0xC0, 12, 0, 16, 0, 1)
	_, err := Decode(msg)
	s.ErrorIs(err, ErrCompressionLoop)
	s.ErrorIs(err, dnserr.ErrProtocol)
}

func (s *WireTestSuite) TestDecodeMutualPointersIsCompressionLoop() {
	msg := responseHeader(1, 1, 0)
	msg = append(msg, 0xC0, 14, 0xC0, 12, 0, 16, 0, 1)
	_, err := Decode(msg)
	s.ErrorIs(err, ErrCompressionLoop)
}

func (s *WireTestSuite) TestDecodeErrors() {
	question := []byte{2, 'h', 'i', 0, 0, 16, 0, 1}
	testCases := []struct {
		name        string
		msg         []byte
		expectedErr error
	}{
		{name: "short header", msg: []byte{0, 1, 2}, expectedErr: ErrTruncated},
		{name: "label overrun", msg: append(responseHeader(1, 1, 0), 9, 'a', 'b'), expectedErr: ErrTruncated},
		{name: "pointer overrun", msg: append(responseHeader(1, 1, 0), 0xC0), expectedErr: ErrTruncated},
		{name: "pointer out of range", msg: append(responseHeader(1, 1, 0), 0xC0, 0xFF, 0, 16, 0, 1), expectedErr: ErrTruncated},
		{name: "question fields missing", msg: append(responseHeader(1, 1, 0), 2, 'h', 'i', 0, 0), expectedErr: ErrTruncated},
		{name: "reserved label type", msg: append(responseHeader(1, 1, 0), 0x40, 0, 0, 16, 0, 1), expectedErr: ErrMalformed},
		{name: "qdcount too high", msg: append(responseHeader(1, 2, 0), question...), expectedErr: ErrMalformed},
		{name: "ancount too high", msg: append(responseHeader(1, 1, 1), question...), expectedErr: ErrMalformed},
		{
			name:        "rdlength overrun",
			msg:         append(append(responseHeader(1, 1, 1), question...), 0xC0, 12, 0, 16, 0, 1, 0, 0, 0, 1, 0, 50, 1, 'a'),
			expectedErr: ErrMalformed,
		},
		{
			name:        "record header cut short",
			msg:         append(append(responseHeader(1, 1, 1), question...), 0xC0, 12, 0, 16, 0),
			expectedErr: ErrMalformed,
		},
		{
			name:        "bad character-string",
			msg:         append(append(responseHeader(1, 1, 1), question...), 0xC0, 12, 0, 16, 0, 1, 0, 0, 0, 1, 0, 2, 5, 'a'),
			expectedErr: ErrMalformed,
		},
		{name: "trailing garbage", msg: append(append(responseHeader(1, 1, 0), question...), 0xFF), expectedErr: ErrMalformed},
	}
	for _, tc := range testCases {
		s.Run(tc.name, func() {
			_, err := Decode(tc.msg)
			s.Require().Error(err)
			s.ErrorIs(err, tc.expectedErr)
			s.ErrorIs(err, dnserr.ErrProtocol)
		})
	}
}

func (s *WireTestSuite) TestMarshalTXTResponse() {
	m := &Message{
		Header:    Header{ID: 7, Flags: QRFlag | RDFlag | RAFlag},
		Questions: []Question{{Name: "hi.ch.at", Type: TypeTXT, Class: ClassIN}},
		Answers: []ResourceRecord{
			TXTRecord("hi.ch.at", 30, "1/2:Hello ", "2/2:World"),
		},
	}
	b, err := m.Marshal()
	s.Require().NoError(err)

	got := mustDecode(s, b)
	s.Equal(uint16(1), got.Header.ANCount)
	s.Equal([][]byte{[]byte("1/2:Hello "), []byte("2/2:World")}, got.TXT())
}

func (s *WireTestSuite) TestTXTRecordSplitsLongStrings() {
	long := string(make([]byte, 300))
	rr := TXTRecord("a.b", 0, long)
	s.Require().Len(rr.Strings, 2)
	s.Len(rr.Strings[0], 255)
	s.Len(rr.Strings[1], 45)
}

func (s *WireTestSuite) TestInteropWithMiekgDNS() {
	// Our query must be readable by a mainstream implementation...
	b, err := EncodeQuery("interop.ch.at", TypeTXT, ClassIN, 4242)
	s.Require().NoError(err)
	var q dns.Msg
	s.Require().NoError(q.Unpack(b))
	s.Equal(uint16(4242), q.Id)
	s.True(q.RecursionDesired)
	s.Equal("interop.ch.at.", q.Question[0].Name)
	s.Equal(dns.TypeTXT, q.Question[0].Qtype)

	// ...and its compressed responses readable by us.
	resp := new(dns.Msg)
	resp.SetReply(&q)
	resp.Compress = true
	for _, txt := range []string{"1/2:Hello ", "2/2:World"} {
		resp.Answer = append(resp.Answer, &dns.TXT{
			Hdr: dns.RR_Header{Name: "Interop.CH.at.", Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60},
			Txt: []string{txt},
		})
	}
	packed, err := resp.Pack()
	s.Require().NoError(err)

	m, err := Decode(packed)
	s.Require().NoError(err)
	s.Require().NoError(Validate(NewQuery("interop.ch.at", TypeTXT, ClassIN, 4242), m))
	s.Equal([][]byte{[]byte("1/2:Hello "), []byte("2/2:World")}, m.TXT())
	s.Equal("interop.ch.at", m.Answers[1].Name)
}

func (s *WireTestSuite) TestHelpers() {
	b, err := EncodeQuery("a.b", TypeTXT, ClassIN, 99)
	s.Require().NoError(err)
	id, ok := MessageID(b)
	s.True(ok)
	s.Equal(uint16(99), id)
	s.False(IsTruncated(b))

	binary.BigEndian.PutUint16(b[2:], TCFlag)
	s.True(IsTruncated(b))

	_, ok = MessageID([]byte{1})
	s.False(ok)
	s.True(EqualNames("A.B.", "a.b"))
	s.Equal("NXDOMAIN", RcodeName(RcodeNXDomain))
	s.Equal("RCODE9", RcodeName(9))
}

func TestWireSuite(t *testing.T) {
	suite.Run(t, new(WireTestSuite))
}

// responseHeader returns a 12-byte NOERROR response header.
func responseHeader(id, qd, an uint16) []byte {
	h := Header{ID: id, Flags: QRFlag | RDFlag | RAFlag, QDCount: qd, ANCount: an}
	return h.appendTo(nil)
}

func mustDecode(s *WireTestSuite, b []byte) *Message {
	m, err := Decode(b)
	s.Require().NoError(err)
	return m
}

func longName(n int) string {
	out := ""
	for len(out) < n {
		out += "abcdefghij."
	}
	return out + "com"
}
