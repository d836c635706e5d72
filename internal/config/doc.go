// Package config provides configuration management for txtchat.
//
// The package uses a Provider interface to abstract configuration loading, with the
// primary implementation being filesystem-based configuration via YAML files.
//
// # Configuration Structure
//
//	socket:
//	  path: /tmp/txtchatd.sock        # Unix domain socket of the daemon
//	resolver:
//	  allowed_servers: [ch.at]        # servers a query may be sent to
//	  default_server: ch.at           # used when a query names none
//	  default_zone: ch.at             # zone appended for IP literal servers
//	  bootstrap_servers: [1.1.1.1:53] # resolve hostname servers through these
//	transport:
//	  order: [native, udp, tcp]       # fallback order
//	  attempt_timeout: 10s            # per attempt
//	  mock_enabled: false
//	limits:
//	  queries_per_second: 0           # 0 disables throttling
//	  burst: 1
//	logs:
//	  capacity: 1000
//	  retention: 1h
//
// Keys missing from the file keep the values of Default().
//
// # Basic Usage
//
//	provider := config.New()
//	cfg, err := provider.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Save validates before writing and replaces the file atomically.
//
// # Errors
//
//   - ErrInvalidConfig: validation failed
//   - ErrNoConfig: configuration file not found (Load returns defaults)
package config
