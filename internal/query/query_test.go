package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lc/txtchat/internal/dnserr"
	"github.com/lc/txtchat/internal/label"
)

func TestComposeHostnameServerIsItsOwnZone(t *testing.T) {
	name, err := Compose("hello-world", Target{Server: "CH.AT."})
	require.NoError(t, err)
	assert.Equal(t, Name("hello-world.ch.at"), name)
}

func TestComposeIPLiteralUsesDefaultZone(t *testing.T) {
	c := NewComposer(nil, "")
	name, target, err := c.Compose("hello", Target{Server: "8.8.8.8"})
	require.NoError(t, err)
	assert.Equal(t, Name("hello.ch.at"), name)
	assert.Equal(t, Target{Server: "8.8.8.8", Zone: "ch.at"}, target)
}

func TestComposeIPv6Literal(t *testing.T) {
	c := NewComposer([]string{"2001:4860:4860::8888"}, "example.org")
	name, _, err := c.Compose("hi", Target{Server: "2001:4860:4860::8888"})
	require.NoError(t, err)
	assert.Equal(t, Name("hi.example.org"), name)
}

func TestComposeExplicitZone(t *testing.T) {
	c := NewComposer([]string{"127.0.0.1"}, "")
	name, _, err := c.Compose("ping", Target{Server: "127.0.0.1", Zone: "Test.Local."})
	require.NoError(t, err)
	assert.Equal(t, Name("ping.test.local"), name)
}

func TestComposeTrimsLabel(t *testing.T) {
	name, err := Compose("hello..", Target{Server: "ch.at"})
	require.NoError(t, err)
	assert.Equal(t, Name("hello.ch.at"), name)
}

func TestComposeRejectsServers(t *testing.T) {
	tests := []struct {
		name   string
		server string
	}{
		{"empty", ""},
		{"dots only", "..."},
		{"not allowed", "evil.example.com"},
		{"hostname with port", "ch.at:53"},
		{"ipv4 with port", "8.8.8.8:53"},
		{"ipv6 with port", "[2001:db8::1]:53"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compose("hello", Target{Server: tt.server})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnresolvableServer)
			assert.ErrorIs(t, err, dnserr.ErrValidation)
		})
	}
}

func TestComposeRejectsZones(t *testing.T) {
	tests := []struct {
		name string
		zone string
	}{
		{"empty label", "bad..x"},
		{"whitespace", "bad zone.x"},
		{"label too long", strings.Repeat("z", 64) + ".at"},
		{"non ascii", "zoné.at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compose("hello", Target{Server: "ch.at", Zone: tt.zone})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnresolvableServer)
			assert.ErrorIs(t, err, dnserr.ErrValidation)
		})
	}
}

func TestComposeCustomZone(t *testing.T) {
	name, err := Compose("hello", Target{Server: "8.8.8.8", Zone: "Example.ORG."})
	require.NoError(t, err)
	assert.Equal(t, Name("hello.example.org"), name)
}

func TestComposeRejectsUnsanitizedLabel(t *testing.T) {
	_, err := Compose("Hello World", Target{Server: "ch.at"})
	assert.ErrorIs(t, err, label.ErrInvalidInput)
}

func TestComposeRejectsOverlongName(t *testing.T) {
	long := "a"
	for len(long) < 200 {
		long += ".aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	}
	c := NewComposer([]string{"127.0.0.1"}, "")
	l := label.Label(strings.Repeat("x", label.MaxLength))
	_, _, err := c.Compose(l, Target{Server: "127.0.0.1", Zone: long})
	assert.ErrorIs(t, err, label.ErrInvalidInput)
}

func TestIsIPLiteral(t *testing.T) {
	assert.True(t, IsIPLiteral("1.1.1.1"))
	assert.True(t, IsIPLiteral("::1"))
	assert.False(t, IsIPLiteral("ch.at"))
	assert.False(t, IsIPLiteral("1.1.1.1:53"))
}

func TestAllowedNormalizes(t *testing.T) {
	c := NewComposer([]string{"CH.AT.", " 1.1.1.1 "}, "")
	assert.ElementsMatch(t, []string{"ch.at", "1.1.1.1"}, c.Allowed())
}
