// Command `txtchat` asks questions over DNS.
//
// A prompt is sanitized into a DNS label, sent as a TXT query to an
// allowlisted server and the TXT answer is printed. Queries go through the
// txtchatd daemon, or run in-process with --local.
//
// Usage:
//
//	txtchat ask <prompt...>        - Ask a question
//	txtchat sanitize <text...>     - Show the label a text becomes
//	txtchat logs                   - List recorded transport attempts
//	txtchat status                 - Show daemon status
//	txtchat config init            - Write the default configuration
//
// Examples:
//
//	txtchat ask what is the capital of france
//	txtchat ask -s 8.8.8.8 -t udp,tcp --show-attempts hello there
//	txtchat ask --local hi
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lc/txtchat/internal/buildinfo"
	"github.com/lc/txtchat/internal/config"
	"github.com/lc/txtchat/internal/dnserr"
	"github.com/lc/txtchat/internal/socket"
	"github.com/lc/txtchat/pkg/client"
)

// app carries what every command needs.
type app struct {
	provider config.Provider
	cfg      *config.Config
	cli      *client.Client
}

func main() {
	a := &app{provider: config.New()}

	root := &cobra.Command{
		Use:   "txtchat",
		Short: "Chat over DNS TXT queries",
		Long: `txtchat sends short prompts to a DNS server as TXT queries and prints
the text answer. Transports fall back from the native resolver to UDP and TCP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["skipConfig"] == "true" {
				return nil
			}
			cfg, err := a.provider.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			a.cfg = cfg
			a.cli = client.New(cfg.Socket.Path)
			return nil
		},
	}

	// ---- version command ----
	versionCmd := &cobra.Command{
		Use:         "version",
		Short:       "Show version information",
		Annotations: map[string]string{"skipConfig": "true"},
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("version: %s\n", buildinfo.Version)
			fmt.Printf("commit: %s\n", buildinfo.Commit)
		},
	}

	root.AddCommand(
		a.askCmd(),
		a.sanitizeCmd(),
		a.logsCmd(),
		a.statusCmd(),
		a.configCmd(),
		versionCmd,
	)
	if err := root.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

// printError prints err with its category and a hint when the daemon is down.
func printError(err error) {
	category := dnserr.Name(err)
	var apiErr *client.Error
	if errors.As(err, &apiErr) && apiErr.Category() != "" {
		category = apiErr.Category()
	}
	color.New(color.FgHiRed, color.Bold).Fprintf(os.Stderr, "%s error: ", category)
	fmt.Fprintln(os.Stderr, err)
	if errors.Is(err, socket.ErrNotRunning) {
		color.New(color.FgYellow).Fprintln(os.Stderr, "txtchatd is not running; start it or retry with --local")
	}
}
