package transport

import "time"

// Settings configures NewSet.
type Settings struct {
	// Timeout bounds each native client exchange.
	Timeout       time.Duration
	UDPBufferSize int
	// NativeSystemResolver sends native queries to the host's resolver.
	NativeSystemResolver bool
	ResolvConf           string
	MockResponse         string
	MockPartSize         int
	Resolver             HostResolver
}

// NewSet builds every transport variant. The UDP transport upgrades
// truncated replies to the TCP transport of the same set.
func NewSet(s Settings) (Set, error) {
	var opts []Opt
	if s.Resolver != nil {
		opts = append(opts, WithResolver(s.Resolver))
	}

	tcp := NewTCP(opts...)
	native := NewNative(s.Timeout, opts...)
	if s.NativeSystemResolver {
		if err := native.UseSystemResolver(s.ResolvConf); err != nil {
			return nil, err
		}
	}
	mock := NewMock(s.MockResponse)
	mock.PartSize = s.MockPartSize

	return Set{
		Native: native,
		UDP:    NewUDP(s.UDPBufferSize, tcp, opts...),
		TCP:    tcp,
		Mock:   mock,
	}, nil
}
