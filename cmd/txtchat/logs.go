package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func (a *app) logsCmd() *cobra.Command {
	var (
		queryID string
		prune   bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List recorded transport attempts",
		Long: `List the transport attempts txtchatd has recorded, oldest first.
Attempts older than the configured retention are pruned periodically; --prune
drops them right away.`,
		Example: "txtchat logs --query 5f0c...",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			if prune {
				n, err := a.cli.Prune(ctx)
				if err != nil {
					return err
				}
				color.Green("Pruned %d expired attempts.", n)
			}

			attempts, err := a.cli.Logs(ctx, queryID)
			if err != nil {
				return err
			}
			if len(attempts) == 0 {
				color.Yellow("No attempts recorded.")
				return nil
			}
			color.New(color.Bold).Println("TRANSPORT ATTEMPTS:")
			renderAttempts(attempts)
			return nil
		},
	}
	cmd.Flags().StringVarP(&queryID, "query", "q", "", "only show attempts of this query id")
	cmd.Flags().BoolVar(&prune, "prune", false, "drop expired attempts first")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			st, err := a.cli.Status(ctx)
			if err != nil {
				return err
			}

			bold := color.New(color.Bold)
			bold.Print("daemon:     ")
			fmt.Printf("%s (%s), up %s\n", st.Version, st.Commit, st.Uptime.Round(time.Second))
			bold.Print("transports: ")
			fmt.Println(st.Available)
			bold.Print("queries:    ")
			fmt.Printf("%d (%s ok, %s failed)\n", st.Queries,
				color.GreenString("%d", st.Succeeded), color.RedString("%d", st.Failed))
			bold.Print("attempts:   ")
			fmt.Printf("%d stored, %d recorded\n", st.Stored, st.Recorded)

			names := make([]string, 0, len(st.Transports))
			for name := range st.Transports {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				c := st.Transports[name]
				fmt.Printf("  %-7s %d attempts, %d failed\n", name, c.Attempts, c.Failures)
			}
			return nil
		},
	}
}
