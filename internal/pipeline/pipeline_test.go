package pipeline

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/time/rate"

	"github.com/lc/txtchat/internal/attemptlog"
	"github.com/lc/txtchat/internal/chain"
	"github.com/lc/txtchat/internal/dnserr"
	"github.com/lc/txtchat/internal/label"
	"github.com/lc/txtchat/internal/log"
	"github.com/lc/txtchat/internal/mocks"
	"github.com/lc/txtchat/internal/query"
	"github.com/lc/txtchat/internal/transport"
	"github.com/lc/txtchat/internal/txt"
	"github.com/lc/txtchat/internal/wire"
)

type PipelineTestSuite struct {
	suite.Suite
	native *mocks.MockTransport
	udp    *mocks.MockTransport
	tcp    *mocks.MockTransport
	sink   *attemptlog.Sink
	p      *Pipeline
	target query.Target
}

func (s *PipelineTestSuite) SetupTest() {
	s.native = mocks.NewMockTransport(transport.Native)
	s.udp = mocks.NewMockTransport(transport.UDP)
	s.tcp = mocks.NewMockTransport(transport.TCP)
	s.sink = attemptlog.New(100, time.Hour)
	s.target = query.Target{Server: "ch.at"}
	s.p = New(Context{Sink: s.sink, Logger: log.Nop()}, Config{
		Composer: query.NewComposer(nil, ""),
		Transports: transport.Set{
			transport.Native: s.native,
			transport.UDP:    s.udp,
			transport.TCP:    s.tcp,
		},
		AttemptTimeout: time.Second,
	})
}

// reply answers the query carried by req; mutate may alter it.
func reply(req transport.Request, mutate func(m *wire.Message), texts ...string) []byte {
	q, err := wire.Decode(req.Query)
	if err != nil {
		panic(err)
	}
	m := &wire.Message{
		Header:    wire.Header{ID: q.Header.ID, Flags: wire.QRFlag | wire.RDFlag | wire.RAFlag},
		Questions: q.Questions,
	}
	for _, t := range texts {
		m.Answers = append(m.Answers, wire.TXTRecord(q.Questions[0].Name, 60, t))
	}
	if mutate != nil {
		mutate(m)
	}
	b, err := m.Marshal()
	if err != nil {
		panic(err)
	}
	return b
}

// answer makes a mocked Send reply with texts after applying mutate.
func answer(m *mocks.MockTransport, mutate func(*wire.Message), texts ...string) {
	m.On("Send", mock.Anything, mock.Anything).Return(func(req transport.Request) []byte {
		return reply(req, mutate, texts...)
	}, nil)
}

func (s *PipelineTestSuite) TestSendQuery() {
	var sent transport.Request
	s.native.On("Send", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(1).(transport.Request)
	}).Return(nil, transport.ErrRefused).Once()
	answer(s.udp, nil, "2/2:World", "1/2:Hello ")

	res, err := s.p.Ask(context.Background(), "Héllo Wörld!", s.target, nil)
	s.Require().NoError(err)
	s.Equal("Hello World", res.Answer)
	s.Equal(query.Name("hello-world.ch.at"), res.Name)
	s.Equal("ch.at", sent.Server)
	s.Require().Len(res.Attempts, 2)
	s.Equal(transport.Native, res.Attempts[0].Variant)
	s.ErrorIs(res.Attempts[0].Err, transport.ErrRefused)
	s.True(res.Attempts[1].OK())
	s.Equal(res.QueryID, res.Attempts[1].QueryID)
	s.tcp.AssertNotCalled(s.T(), "Send", mock.Anything, mock.Anything)
}

func (s *PipelineTestSuite) TestDefaultTarget() {
	answer(s.native, nil, "hi")
	got, err := s.p.SendQuery(context.Background(), "hello", query.Target{}, nil)
	s.Require().NoError(err)
	s.Equal("hi", got)
}

func (s *PipelineTestSuite) TestValidationFailuresFallBack() {
	testCases := []struct {
		name        string
		mutate      func(m *wire.Message)
		expectedErr error
	}{
		{name: "foreign id", mutate: func(m *wire.Message) { m.Header.ID++ }, expectedErr: wire.ErrIDMismatch},
		{name: "truncated", mutate: func(m *wire.Message) { m.Header.Flags |= wire.TCFlag }, expectedErr: wire.ErrTruncatedResponse},
		{name: "other question", mutate: func(m *wire.Message) { m.Questions[0].Name = "evil.ch.at" }, expectedErr: wire.ErrQuestionMismatch},
		{name: "servfail", mutate: func(m *wire.Message) { m.Header.Flags |= uint16(wire.RcodeServFail) }, expectedErr: wire.ErrServer},
	}
	for _, tc := range testCases {
		s.Run(tc.name, func() {
			s.SetupTest()
			answer(s.native, tc.mutate, "wrong")
			answer(s.udp, nil, "right")

			res, err := s.p.Ask(context.Background(), "hello", s.target, nil)
			s.Require().NoError(err)
			s.Equal("right", res.Answer)
			s.Require().Len(res.Attempts, 2)
			s.ErrorIs(res.Attempts[0].Err, tc.expectedErr)
			s.ErrorIs(res.Attempts[0].Err, dnserr.ErrProtocol)
		})
	}
}

func (s *PipelineTestSuite) TestMalformedResponseFallsBack() {
	s.native.On("Send", mock.Anything, mock.Anything).Return([]byte{0xC0, 0x0C}, nil)
	answer(s.udp, nil, "ok")

	res, err := s.p.Ask(context.Background(), "hello", s.target, nil)
	s.Require().NoError(err)
	s.Equal("ok", res.Answer)
	s.ErrorIs(res.Attempts[0].Err, wire.ErrTruncated)
}

func (s *PipelineTestSuite) TestNXDomainIsFinal() {
	answer(s.native, func(m *wire.Message) { m.Header.Flags |= uint16(wire.RcodeNXDomain) })

	_, err := s.p.SendQuery(context.Background(), "hello", s.target, nil)
	s.Require().Error(err)
	s.True(IsDefinitive(err))
	s.Len(s.p.Logs(), 1)
	s.udp.AssertNotCalled(s.T(), "Send", mock.Anything, mock.Anything)
}

func (s *PipelineTestSuite) TestExhausted() {
	s.native.On("Send", mock.Anything, mock.Anything).Return(nil, transport.ErrTimeout)
	s.udp.On("Send", mock.Anything, mock.Anything).Return(nil, transport.ErrPortBlocked)
	s.tcp.On("Send", mock.Anything, mock.Anything).Return(nil, transport.ErrRefused)

	var (
		got string
		err error
	)
	s.NotPanics(func() {
		got, err = s.p.SendQuery(context.Background(), "hello", s.target, nil)
	})
	s.Empty(got)
	var ex *chain.ExhaustedError
	s.Require().ErrorAs(err, &ex)
	s.Len(ex.Attempts, 3)
	s.Equal(Stats{Queries: 1, Failed: 1}, s.p.Stats())
}

func (s *PipelineTestSuite) TestReassemblyErrorsAreFinal() {
	testCases := []struct {
		name        string
		texts       []string
		expectedErr error
	}{
		{name: "no records", expectedErr: txt.ErrEmptyResponse},
		{name: "missing part", texts: []string{"1/3:a", "3/3:c"}, expectedErr: txt.ErrIncompleteMultipart},
		{name: "conflict", texts: []string{"1/2:a", "1/2:b", "2/2:c"}, expectedErr: txt.ErrConflictingPart},
	}
	for _, tc := range testCases {
		s.Run(tc.name, func() {
			s.SetupTest()
			answer(s.native, nil, tc.texts...)

			_, err := s.p.SendQuery(context.Background(), "hello", s.target, nil)
			s.ErrorIs(err, tc.expectedErr)
			s.ErrorIs(err, dnserr.ErrReassembly)
			s.udp.AssertNotCalled(s.T(), "Send", mock.Anything, mock.Anything)
		})
	}
}

func (s *PipelineTestSuite) TestRejectedBeforeIO() {
	testCases := []struct {
		name        string
		raw         string
		target      query.Target
		expectedErr error
	}{
		{name: "empty", raw: "", target: s.target, expectedErr: label.ErrEmptyAfterSanitization},
		{name: "punctuation", raw: "!!!", target: s.target, expectedErr: label.ErrEmptyAfterSanitization},
		{name: "control", raw: "a\x07b", target: s.target, expectedErr: label.ErrInvalidInput},
		{name: "not allowed", raw: "hello", target: query.Target{Server: "example.com"}, expectedErr: query.ErrUnresolvableServer},
		{name: "port", raw: "hello", target: query.Target{Server: "8.8.8.8:53"}, expectedErr: query.ErrUnresolvableServer},
	}
	for _, tc := range testCases {
		s.Run(tc.name, func() {
			_, err := s.p.SendQuery(context.Background(), tc.raw, tc.target, nil)
			s.ErrorIs(err, tc.expectedErr)
			s.ErrorIs(err, dnserr.ErrValidation)
		})
	}
	s.Empty(s.p.Logs())
	s.native.AssertNotCalled(s.T(), "Send", mock.Anything, mock.Anything)
}

func (s *PipelineTestSuite) TestExplicitOrder() {
	answer(s.tcp, nil, "via tcp")
	got, err := s.p.SendQuery(context.Background(), "hello", s.target, []transport.Variant{transport.TCP})
	s.Require().NoError(err)
	s.Equal("via tcp", got)
	s.native.AssertNotCalled(s.T(), "Send", mock.Anything, mock.Anything)
}

func (s *PipelineTestSuite) TestRateLimited() {
	p := New(Context{Sink: s.sink, Logger: log.Nop(), Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)}, Config{
		Transports: transport.Set{transport.Native: s.native},
		Order:      []transport.Variant{transport.Native},
	})
	answer(s.native, nil, "first")

	_, err := p.SendQuery(context.Background(), "one", s.target, nil)
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.SendQuery(ctx, "two", s.target, nil)
	s.ErrorIs(err, ErrRateLimited)
}

func (s *PipelineTestSuite) TestRejectedPromptsKeepRateBudget() {
	p := New(Context{Sink: s.sink, Logger: log.Nop(), Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)}, Config{
		Transports: transport.Set{transport.Native: s.native},
		Order:      []transport.Variant{transport.Native},
	})
	answer(s.native, nil, "still allowed")

	tests := []struct {
		name        string
		raw         string
		target      query.Target
		expectedErr error
	}{
		{name: "empty after sanitization", raw: "!!!", target: s.target, expectedErr: label.ErrEmptyAfterSanitization},
		{name: "blank", raw: "   ", target: s.target, expectedErr: dnserr.ErrValidation},
		{name: "bad zone", raw: "hello", target: query.Target{Server: "ch.at", Zone: "bad..zone"}, expectedErr: query.ErrUnresolvableServer},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_, err := p.SendQuery(ctx, tt.raw, tt.target, nil)
			s.ErrorIs(err, tt.expectedErr)
			s.NotErrorIs(err, ErrRateLimited)
		})
	}

	got, err := p.SendQuery(context.Background(), "hello", s.target, nil)
	s.Require().NoError(err)
	s.Equal("still allowed", got)
}

func (s *PipelineTestSuite) TestSanitize() {
	l, err := s.p.Sanitize("ÁÉÍÓÚ")
	s.Require().NoError(err)
	s.Equal(label.Label("aeiou"), l)
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}

// TestEndToEndFallbackToTCP runs the real transports against a loopback
// server that ignores UDP and answers over TCP.
func TestEndToEndFallbackToTCP(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	ap := netip.MustParseAddrPort(pc.LocalAddr().String())
	l, err := net.Listen("tcp", ap.String())
	require.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		if w.RemoteAddr().Network() != "tcp" {
			return
		}
		m := new(dns.Msg)
		m.SetReply(r)
		for _, part := range []string{"2/2:over tcp", "1/2:answered "} {
			m.Answer = append(m.Answer, &dns.TXT{
				Hdr: dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 1},
				Txt: []string{part},
			})
		}
		_ = w.WriteMsg(m)
	})
	for _, srv := range []*dns.Server{{PacketConn: pc, Handler: handler}, {Listener: l, Handler: handler}} {
		started := make(chan struct{})
		srv.NotifyStartedFunc = func() { close(started) }
		go func() { _ = srv.ActivateAndServe() }()
		<-started
		t.Cleanup(func() { _ = srv.Shutdown() })
	}

	const timeout = 200 * time.Millisecond
	set, err := transport.NewSet(transport.Settings{Timeout: timeout})
	require.NoError(t, err)
	sink := attemptlog.New(10, time.Hour)
	p := New(Context{Sink: sink, Logger: log.Nop()}, Config{
		Composer:       query.NewComposer([]string{"127.0.0.1"}, ""),
		Transports:     set,
		AttemptTimeout: timeout,
		Port:           int(ap.Port()),
	})

	res, err := p.Ask(context.Background(), "Are you there?", query.Target{Server: "127.0.0.1"}, nil)
	require.NoError(t, err)
	require.Equal(t, "answered over tcp", res.Answer)
	require.Equal(t, query.Name("are-you-there.ch.at"), res.Name)

	logs := p.Logs()
	require.Len(t, logs, 3)
	require.Equal(t, []transport.Variant{transport.Native, transport.UDP, transport.TCP},
		[]transport.Variant{logs[0].Variant, logs[1].Variant, logs[2].Variant})
	require.ErrorIs(t, logs[0].Err, transport.ErrTimeout)
	require.ErrorIs(t, logs[1].Err, transport.ErrTimeout)
	require.True(t, logs[2].OK())
	require.False(t, logs[1].StartedAt.Before(logs[0].StartedAt))
	require.False(t, logs[2].StartedAt.Before(logs[1].StartedAt))
}

func TestMockOnlyPipeline(t *testing.T) {
	set, err := transport.NewSet(transport.Settings{MockResponse: "offline answer that is long enough to split", MockPartSize: 8})
	require.NoError(t, err)
	order, err := transport.Available(transport.DefaultOrder, transport.Capabilities{MockOnly: true, MockEnabled: true})
	require.NoError(t, err)

	p := New(Context{Logger: log.Nop()}, Config{Transports: set, Order: order})
	got, err := p.SendQuery(context.Background(), "anything", query.Target{Server: "llm.pieter.com"}, nil)
	require.NoError(t, err)
	require.Equal(t, "offline answer that is long enough to split", got)
	require.Len(t, p.Logs(), 1)
	require.Equal(t, transport.Mock, p.Logs()[0].Variant)
}
