package transport

import (
	"fmt"
	"net"
)

// Capabilities describes which transports the running process may use.
type Capabilities struct {
	// Network is false on hosts without a usable non-loopback interface.
	Network bool
	// MockEnabled allows the mock transport to appear in an order.
	MockEnabled bool
	// MockOnly forces the mock transport regardless of order.
	MockOnly bool
}

// Probe inspects the host once. Call it at startup, not per query.
func Probe(mockEnabled, mockOnly bool) Capabilities {
	return Capabilities{
		Network:     hasNetwork(),
		MockEnabled: mockEnabled || mockOnly,
		MockOnly:    mockOnly,
	}
}

// Available filters order down to the variants caps allow, keeping order.
// Offline hosts fall back to the mock transport when it is enabled.
func Available(order []Variant, caps Capabilities) ([]Variant, error) {
	if caps.MockOnly {
		return []Variant{Mock}, nil
	}
	if !caps.Network {
		if caps.MockEnabled {
			return []Variant{Mock}, nil
		}
		return nil, fmt.Errorf("%w: no network and mock transport disabled", ErrUnavailable)
	}

	out := make([]Variant, 0, len(order))
	for _, v := range order {
		if v == Mock && !caps.MockEnabled {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty transport order", ErrUnavailable)
	}
	return out, nil
}

func hasNetwork() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if addrs, err := iface.Addrs(); err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}
