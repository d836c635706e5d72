// Package query composes the fully-qualified DNS name that carries a prompt.
package query

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/lc/txtchat/internal/dnserr"
	"github.com/lc/txtchat/internal/label"
	"github.com/lc/txtchat/internal/wire"
)

// DefaultZone is the zone used when the resolver is addressed by IP literal.
const DefaultZone = "ch.at"

// MaxNameLength is the maximum length of an encoded DNS name (RFC 1035 2.3.4).
const MaxNameLength = 255

// ErrUnresolvableServer is returned when the target server is not usable.
var ErrUnresolvableServer = dnserr.New(dnserr.ErrValidation, "unresolvable server")

// DefaultAllowlist lists the resolvers a query may be sent to out of the box.
var DefaultAllowlist = []string{
	"llm.pieter.com",
	"ch.at",
	"8.8.8.8",
	"8.8.4.4",
	"1.1.1.1",
	"1.0.0.1",
}

// Target identifies where a query is sent and which zone it is asked under.
// Zone may be left empty; Compose derives it from Server.
type Target struct {
	Server string `json:"server" yaml:"server"`
	Zone   string `json:"zone,omitempty" yaml:"zone,omitempty"`
}

// Name is a composed query name such as "hello-world.ch.at". It is never
// written with a trailing dot.
type Name string

// String implements fmt.Stringer.
func (n Name) String() string { return string(n) }

// Composer builds query names against a fixed allowlist.
type Composer struct {
	allowed     map[string]struct{}
	defaultZone string
}

// NewComposer returns a Composer accepting the given servers. An empty
// allowlist falls back to DefaultAllowlist; an empty zone to DefaultZone.
func NewComposer(allowlist []string, defaultZone string) *Composer {
	if len(allowlist) == 0 {
		allowlist = DefaultAllowlist
	}
	if defaultZone == "" {
		defaultZone = DefaultZone
	}
	allowed := make(map[string]struct{}, len(allowlist))
	for _, s := range allowlist {
		allowed[NormalizeServer(s)] = struct{}{}
	}
	return &Composer{allowed: allowed, defaultZone: NormalizeServer(defaultZone)}
}

// Compose returns "{label}.{zone}" for the given target.
func (c *Composer) Compose(l label.Label, t Target) (Name, Target, error) {
	lbl := strings.TrimRight(string(l), ". \t\r\n")
	if !label.Valid(lbl) {
		return "", Target{}, fmt.Errorf("%w: %q is not a sanitized label", label.ErrInvalidInput, l)
	}

	resolved, err := c.Resolve(t)
	if err != nil {
		return "", Target{}, err
	}

	name := lbl + "." + resolved.Zone
	if encodedLen(name) > MaxNameLength {
		return "", Target{}, fmt.Errorf("%w: query name exceeds %d bytes", label.ErrInvalidInput, MaxNameLength)
	}
	return Name(name), resolved, nil
}

// Resolve validates t.Server against the allowlist and fills in its zone.
func (c *Composer) Resolve(t Target) (Target, error) {
	server := NormalizeServer(t.Server)
	if server == "" {
		return Target{}, fmt.Errorf("%w: empty server", ErrUnresolvableServer)
	}
	if hasPort(server) {
		return Target{}, fmt.Errorf("%w: %q must not carry a port", ErrUnresolvableServer, t.Server)
	}
	if _, ok := c.allowed[server]; !ok {
		return Target{}, fmt.Errorf("%w: %q is not in the allowlist", ErrUnresolvableServer, t.Server)
	}

	zone := NormalizeServer(t.Zone)
	if zone == "" {
		zone = server
		if IsIPLiteral(server) {
			zone = c.defaultZone
		}
	}
	if strings.ContainsAny(zone, " \t\r\n") {
		return Target{}, fmt.Errorf("%w: zone %q contains whitespace", ErrUnresolvableServer, t.Zone)
	}
	if _, err := wire.EncodeName(zone); err != nil {
		return Target{}, fmt.Errorf("%w: zone %q: %v", ErrUnresolvableServer, t.Zone, err)
	}
	return Target{Server: server, Zone: zone}, nil
}

// Compose builds a query name using DefaultAllowlist and DefaultZone.
func Compose(l label.Label, t Target) (Name, error) {
	name, _, err := NewComposer(nil, "").Compose(l, t)
	return name, err
}

// Allowed returns the normalized allowlist.
func (c *Composer) Allowed() []string {
	out := make([]string, 0, len(c.allowed))
	for s := range c.allowed {
		out = append(out, s)
	}
	return out
}

// NormalizeServer lowercases s and strips surrounding whitespace and trailing dots.
func NormalizeServer(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimRight(s, ".")
}

// IsIPLiteral reports whether s is a bare IPv4 or IPv6 address.
func IsIPLiteral(s string) bool {
	_, err := netip.ParseAddr(strings.Trim(s, "[]"))
	return err == nil
}

func hasPort(s string) bool {
	if _, err := netip.ParseAddrPort(s); err == nil {
		return true
	}
	if IsIPLiteral(s) {
		return false // bare IPv6 contains colons
	}
	return strings.Contains(s, ":")
}

// encodedLen is the wire length of name: one length byte per label plus the root byte.
func encodedLen(name string) int {
	return len(name) + 2
}
