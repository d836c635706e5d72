package transport

import (
	"net"
	"net/netip"
	"sync"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/lc/txtchat/internal/wire"
)

// dnsServer runs github.com/miekg/dns servers on loopback, UDP and TCP on the
// same port.
type dnsServer struct {
	addr netip.AddrPort
	mu   sync.Mutex
	hits map[string]int
}

func (d *dnsServer) request() Request {
	return Request{Server: d.addr.Addr().String(), Port: int(d.addr.Port())}
}

func (d *dnsServer) count(network string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hits[network]
}

// startServer serves h over UDP and TCP. h receives the transport network and
// the per-network hit count (starting at 1).
func startServer(t *testing.T, h func(w dns.ResponseWriter, r *dns.Msg, network string, hit int)) *dnsServer {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	ap := netip.MustParseAddrPort(pc.LocalAddr().String())
	l, err := net.Listen("tcp", ap.String())
	require.NoError(t, err)

	d := &dnsServer{addr: ap, hits: map[string]int{}}
	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		network := w.RemoteAddr().Network()
		d.mu.Lock()
		d.hits[network]++
		hit := d.hits[network]
		d.mu.Unlock()
		h(w, r, network, hit)
	})

	for _, srv := range []*dns.Server{
		{PacketConn: pc, Handler: handler},
		{Listener: l, Handler: handler},
	} {
		started := make(chan struct{})
		srv.NotifyStartedFunc = func() { close(started) }
		go func() { _ = srv.ActivateAndServe() }()
		<-started
		t.Cleanup(func() { _ = srv.Shutdown() })
	}
	return d
}

func txtReply(w dns.ResponseWriter, r *dns.Msg, texts ...string) {
	m := new(dns.Msg)
	m.SetReply(r)
	for _, txt := range texts {
		m.Answer = append(m.Answer, &dns.TXT{
			Hdr: dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60},
			Txt: []string{txt},
		})
	}
	_ = w.WriteMsg(m)
}

func truncatedReply(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Truncated = true
	_ = w.WriteMsg(m)
}

func encodeQuery(t *testing.T, name string, id uint16) []byte {
	t.Helper()
	b, err := wire.EncodeQuery(name, wire.TypeTXT, wire.ClassIN, id)
	require.NoError(t, err)
	return b
}

func decodeTXT(t *testing.T, resp []byte) []string {
	t.Helper()
	m, err := wire.Decode(resp)
	require.NoError(t, err)
	var out []string
	for _, s := range m.TXT() {
		out = append(out, string(s))
	}
	return out
}

// closedPort returns a loopback port nothing listens on.
func closedPort(t *testing.T, network string) int {
	t.Helper()
	switch network {
	case "udp":
		pc, err := net.ListenPacket("udp", "127.0.0.1:0")
		require.NoError(t, err)
		port := pc.LocalAddr().(*net.UDPAddr).Port
		require.NoError(t, pc.Close())
		return port
	default:
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := l.Addr().(*net.TCPAddr).Port
		require.NoError(t, l.Close())
		return port
	}
}
