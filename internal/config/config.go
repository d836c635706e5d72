// Package config loads, validates and saves the txtchat configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/lc/txtchat/internal/dnsresolver"
	"github.com/lc/txtchat/internal/filesys"
	"github.com/lc/txtchat/internal/query"
	"github.com/lc/txtchat/internal/transport"
	"github.com/lc/txtchat/internal/wire"
)

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNoConfig is returned when the configuration file is not found.
	ErrNoConfig = errors.New("configuration file not found")
)

const (
	// DefaultSocketPath is the default path for the Unix socket.
	DefaultSocketPath = "/tmp/txtchatd.sock"
	// DefaultConfigPath is the default path of the configuration file, relative to $HOME.
	DefaultConfigPath = ".txtchat/config.yaml"
	// DefaultAttemptTimeout bounds each transport attempt.
	DefaultAttemptTimeout = 10 * time.Second
	// MinAttemptTimeout is the smallest accepted attempt timeout.
	MinAttemptTimeout = 100 * time.Millisecond
	// DefaultBootstrapTimeout bounds the lookup of a hostname server.
	DefaultBootstrapTimeout = 5 * time.Second
	// DefaultLogCapacity is how many attempts the daemon keeps.
	DefaultLogCapacity = 1000
	// DefaultLogRetention is how long the daemon keeps attempts.
	DefaultLogRetention = time.Hour
)

// Config holds the application configuration.
type Config struct {
	Socket    SocketConfig    `yaml:"socket"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Transport TransportConfig `yaml:"transport"`
	Limits    LimitsConfig    `yaml:"limits"`
	Logs      LogsConfig      `yaml:"logs"`
}

// SocketConfig holds socket-related configuration.
type SocketConfig struct {
	Path string `yaml:"path"`
}

// ResolverConfig says which servers may be asked and under which zone.
type ResolverConfig struct {
	AllowedServers []string `yaml:"allowed_servers"`
	DefaultServer  string   `yaml:"default_server"`
	DefaultZone    string   `yaml:"default_zone"`
	// Port is the DNS port of every server; 0 means 53.
	Port int `yaml:"port,omitempty"`
	// BootstrapServers resolve hostname servers to addresses (host:port).
	BootstrapServers []string      `yaml:"bootstrap_servers,omitempty"`
	BootstrapTimeout time.Duration `yaml:"bootstrap_timeout,omitempty"`
}

// TransportConfig selects and tunes the transports.
type TransportConfig struct {
	Order                []string      `yaml:"order"`
	AttemptTimeout       time.Duration `yaml:"attempt_timeout"`
	MockEnabled          bool          `yaml:"mock_enabled"`
	MockOnly             bool          `yaml:"mock_only"`
	MockResponse         string        `yaml:"mock_response,omitempty"`
	MockPartSize         int           `yaml:"mock_part_size,omitempty"`
	UDPBufferSize        int           `yaml:"udp_buffer_size,omitempty"`
	NativeSystemResolver bool          `yaml:"native_system_resolver,omitempty"`
	ResolvConf           string        `yaml:"resolv_conf,omitempty"`
}

// LimitsConfig throttles queries. A zero rate disables throttling.
type LimitsConfig struct {
	QueriesPerSecond float64 `yaml:"queries_per_second"`
	Burst            int     `yaml:"burst"`
}

// LogsConfig bounds the in-memory attempt log.
type LogsConfig struct {
	Capacity  int           `yaml:"capacity"`
	Retention time.Duration `yaml:"retention"`
}

// Provider loads and saves configuration.
type Provider interface {
	Load() (*Config, error)
	Save(cfg *Config) error
	Path() string
}

// FSProvider implements Provider using the local filesystem.
type FSProvider struct {
	fs   filesys.ConfigFS
	path string
}

// Verify FSProvider implements Provider interface.
var _ Provider = (*FSProvider)(nil)

// EnvConfigPath overrides the configuration file path.
const EnvConfigPath = "TXTCHAT_CONFIG"

// New creates a provider for $TXTCHAT_CONFIG, or ~/.txtchat/config.yaml, on
// the OS filesystem. If the home directory cannot be determined, it falls
// back to the current directory.
func New() Provider {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return NewWithPath(filesys.OS(), p)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not determine home directory: %v\n", err)
		home = ""
	}
	return NewWithPath(filesys.OS(), filepath.Join(home, DefaultConfigPath))
}

// NewWithPath creates a provider for path on fs.
func NewWithPath(fs filesys.ConfigFS, path string) Provider {
	return &FSProvider{
		fs:   fs,
		path: path,
	}
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Socket: SocketConfig{
			Path: DefaultSocketPath,
		},
		Resolver: ResolverConfig{
			AllowedServers:   append([]string(nil), query.DefaultAllowlist...),
			DefaultServer:    query.DefaultZone,
			DefaultZone:      query.DefaultZone,
			BootstrapTimeout: DefaultBootstrapTimeout,
		},
		Transport: TransportConfig{
			Order:          transport.Strings(transport.DefaultOrder),
			AttemptTimeout: DefaultAttemptTimeout,
			UDPBufferSize:  transport.DefaultUDPBufferSize,
		},
		Logs: LogsConfig{
			Capacity:  DefaultLogCapacity,
			Retention: DefaultLogRetention,
		},
	}
}

// Path returns the configuration file path.
func (p *FSProvider) Path() string { return p.path }

// Load reads the configuration file. A missing file yields Default().
// Keys absent from the file keep their default values.
func (p *FSProvider) Load() (*Config, error) {
	_ = p.ensureConfigDir()

	cfg, err := p.loadAndParse()
	if err != nil {
		if errors.Is(err, ErrNoConfig) {
			return Default(), nil
		}
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return cfg, nil
}

// Save validates cfg and atomically replaces the configuration file.
func (p *FSProvider) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := p.ensureConfigDir(); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return filesys.AtomicWrite(p.fs, p.path, buf.Bytes(), 0o600)
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Socket.Path) == "" {
		return errors.New("socket path cannot be empty")
	}
	if err := c.Resolver.validate(); err != nil {
		return err
	}
	if err := c.Transport.validate(); err != nil {
		return err
	}
	if c.Limits.QueriesPerSecond < 0 {
		return errors.New("queries per second cannot be negative")
	}
	if c.Limits.QueriesPerSecond > 0 && c.Limits.Burst < 1 {
		return errors.New("burst must be at least 1 when queries are rate limited")
	}
	if c.Logs.Capacity <= 0 {
		return errors.New("log capacity must be positive")
	}
	if c.Logs.Retention <= 0 {
		return errors.New("log retention must be positive")
	}
	return nil
}

func (r ResolverConfig) validate() error {
	if len(r.AllowedServers) == 0 {
		return errors.New("allowed servers cannot be empty")
	}
	composer := query.NewComposer(r.AllowedServers, r.DefaultZone)
	for _, s := range r.AllowedServers {
		if _, err := composer.Resolve(query.Target{Server: s}); err != nil {
			return fmt.Errorf("allowed server: %w", err)
		}
	}
	if _, err := composer.Resolve(query.Target{Server: r.DefaultServer}); err != nil {
		return fmt.Errorf("default server: %w", err)
	}
	zone := query.NormalizeServer(r.DefaultZone)
	if zone == "" {
		return errors.New("default zone cannot be empty")
	}
	if _, err := wire.EncodeName(zone); err != nil {
		return fmt.Errorf("default zone: %w", err)
	}
	if r.Port < 0 || r.Port > 65535 {
		return fmt.Errorf("port %d out of range", r.Port)
	}
	for _, b := range r.BootstrapServers {
		if _, _, err := net.SplitHostPort(b); err != nil {
			return fmt.Errorf("bootstrap server %q: %w", b, err)
		}
	}
	if r.BootstrapTimeout < 0 {
		return errors.New("bootstrap timeout cannot be negative")
	}
	return nil
}

func (t TransportConfig) validate() error {
	order, err := transport.ParseOrder(t.Order)
	if err != nil {
		return fmt.Errorf("transport order: %w", err)
	}
	if len(order) == 0 && !t.MockOnly {
		return errors.New("transport order cannot be empty")
	}
	for _, v := range order {
		if v == transport.Mock && !t.MockEnabled {
			return errors.New("mock transport listed in order but not enabled")
		}
	}
	if t.MockOnly && !t.MockEnabled {
		return errors.New("mock_only requires mock_enabled")
	}
	if t.AttemptTimeout < MinAttemptTimeout {
		return fmt.Errorf("attempt timeout must be at least %v", MinAttemptTimeout)
	}
	if t.UDPBufferSize != 0 && (t.UDPBufferSize < 512 || t.UDPBufferSize > 65535) {
		return errors.New("udp buffer size must be between 512 and 65535")
	}
	if t.MockPartSize < 0 {
		return errors.New("mock part size cannot be negative")
	}
	return nil
}

// Order returns the configured transport order.
func (c *Config) Order() []transport.Variant {
	order, err := transport.ParseOrder(c.Transport.Order)
	if err != nil {
		return transport.DefaultOrder
	}
	return order
}

// Composer returns a query composer for the configured allowlist and zone.
func (c *Config) Composer() *query.Composer {
	return query.NewComposer(c.Resolver.AllowedServers, c.Resolver.DefaultZone)
}

// DefaultTarget returns the target used when a query names no server.
func (c *Config) DefaultTarget() query.Target {
	return query.Target{Server: c.Resolver.DefaultServer}
}

// Limiter returns the configured query limiter, or nil when unlimited.
func (c *Config) Limiter() *rate.Limiter {
	if c.Limits.QueriesPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(c.Limits.QueriesPerSecond), c.Limits.Burst)
}

// TransportSettings returns the settings for transport.NewSet.
func (c *Config) TransportSettings(resolver transport.HostResolver) transport.Settings {
	return transport.Settings{
		Timeout:              c.Transport.AttemptTimeout,
		UDPBufferSize:        c.Transport.UDPBufferSize,
		NativeSystemResolver: c.Transport.NativeSystemResolver,
		ResolvConf:           c.Transport.ResolvConf,
		MockResponse:         c.Transport.MockResponse,
		MockPartSize:         c.Transport.MockPartSize,
		Resolver:             resolver,
	}
}

// HostResolver returns the resolver for hostname servers, or nil when the
// system resolver should be used.
func (c *Config) HostResolver() transport.HostResolver {
	if len(c.Resolver.BootstrapServers) == 0 {
		return nil
	}
	timeout := c.Resolver.BootstrapTimeout
	if timeout <= 0 {
		timeout = DefaultBootstrapTimeout
	}
	return dnsresolver.New(timeout, dnsresolver.WithResolvers(c.Resolver.BootstrapServers))
}

// Capabilities probes the host for the transports this configuration may use.
func (c *Config) Capabilities() transport.Capabilities {
	return transport.Probe(c.Transport.MockEnabled, c.Transport.MockOnly)
}

func (p *FSProvider) ensureConfigDir() error {
	dir := filepath.Dir(p.path)
	if _, err := p.fs.Stat(dir); os.IsNotExist(err) {
		if err := p.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	return nil
}

func (p *FSProvider) loadAndParse() (*Config, error) {
	f, err := p.fs.Open(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfig
		}
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding config file: %w", err)
	}

	return cfg, nil
}
