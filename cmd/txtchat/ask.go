package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/lc/txtchat/internal/engine"
	"github.com/lc/txtchat/internal/label"
	"github.com/lc/txtchat/internal/query"
	"github.com/lc/txtchat/internal/transport"
	"github.com/lc/txtchat/pkg/api"
)

func (a *app) askCmd() *cobra.Command {
	var (
		server       string
		transports   []string
		local        bool
		showAttempts bool
	)

	cmd := &cobra.Command{
		Use:   "ask <prompt...>",
		Short: "Ask a question over DNS",
		Long: `Ask sanitizes the prompt into a DNS label, queries <label>.<zone> for TXT
records and prints the reassembled answer.

Examples:
  txtchat ask what is dns
  txtchat ask --server 1.1.1.1 --transports udp,tcp hello
  txtchat ask --local --show-attempts ping`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.QueryRequest{
				Prompt:     strings.Join(args, " "),
				Server:     server,
				Transports: transports,
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.queryTimeout(len(transports)))
			defer cancel()

			var (
				res api.QueryResponse
				err error
			)
			if local {
				res, err = a.askLocal(ctx, req)
			} else {
				res, err = a.cli.Ask(ctx, req)
			}
			if err != nil {
				return err
			}

			color.New(color.FgHiGreen, color.Bold).Println(res.Answer)
			if showAttempts {
				fmt.Println()
				color.New(color.Bold).Printf("QUERY %s (%s)\n", res.Name, res.QueryID)
				renderAttempts(res.Attempts)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&server, "server", "s", "", "DNS server to ask (must be allowlisted)")
	cmd.Flags().StringSliceVarP(&transports, "transports", "t", nil, "transport order, e.g. udp,tcp")
	cmd.Flags().BoolVar(&local, "local", false, "run the query in-process instead of through txtchatd")
	cmd.Flags().BoolVarP(&showAttempts, "show-attempts", "a", false, "print every transport attempt")
	return cmd
}

func (a *app) sanitizeCmd() *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:     "sanitize <text...>",
		Short:   "Show the DNS label a text becomes",
		Example: `txtchat sanitize "Olá, café com pão"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if local {
				lbl, err := label.Sanitize(text)
				if err != nil {
					return err
				}
				fmt.Println(lbl)
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			lbl, err := a.cli.Sanitize(ctx, text)
			if err != nil {
				return err
			}
			fmt.Println(lbl)
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "sanitize in-process instead of through txtchatd")
	return cmd
}

// queryTimeout covers every attempt of the chain plus the socket startup grace.
func (a *app) queryTimeout(requested int) time.Duration {
	attempts := requested
	if attempts == 0 {
		attempts = len(a.cfg.Order())
	}
	return time.Duration(max(attempts, 1))*a.cfg.Transport.AttemptTimeout + 5*time.Second
}

// askLocal runs req through an in-process engine built from the configuration.
func (a *app) askLocal(ctx context.Context, req api.QueryRequest) (api.QueryResponse, error) {
	order, err := transport.ParseOrder(req.Transports)
	if err != nil {
		return api.QueryResponse{}, err
	}
	eng, err := engine.NewFromConfig(a.cfg)
	if err != nil {
		return api.QueryResponse{}, err
	}
	res, err := eng.Ask(ctx, req.Prompt, query.Target{Server: req.Server}, order)
	if err != nil {
		return api.QueryResponse{}, err
	}
	return api.NewQueryResponse(res), nil
}

func renderAttempts(attempts []api.Attempt) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Transport", "Server", "Started", "Duration", "Result"})
	table.SetHeaderColor(
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiCyanColor},
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiCyanColor},
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiCyanColor},
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiCyanColor},
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiCyanColor},
	)
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, at := range attempts {
		result := color.GreenString("ok")
		if !at.OK {
			result = color.RedString("%s: %s", at.Category, at.Error)
		}
		table.Append([]string{
			at.Transport,
			at.Server,
			at.StartedAt.Local().Format(time.TimeOnly),
			at.Duration.Round(time.Millisecond).String(),
			result,
		})
	}
	table.Render()
}
