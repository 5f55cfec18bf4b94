package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/koopa0/grounded/internal/vectorstore"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check backend health and index size",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	app, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed)

	healthy := true

	if err := app.registry.PingAll(cmd.Context()); err != nil {
		bad.Fprintf(out, "✗ providers: %v\n", err)
		healthy = false
	} else {
		ok.Fprintln(out, "✓ providers reachable")
	}

	if pinger, isPinger := app.store.(vectorstore.Pinger); isPinger {
		if err := pinger.Ping(cmd.Context()); err != nil {
			bad.Fprintf(out, "✗ store: %v\n", err)
			healthy = false
		} else {
			ok.Fprintln(out, "✓ store reachable")
		}
	}

	if counter, isCounter := app.store.(vectorstore.Counter); isCounter {
		if count, err := counter.Count(cmd.Context()); err == nil {
			fmt.Fprintf(out, "index holds %d chunks\n", count)
		}
	}

	if !healthy {
		return fmt.Errorf("one or more backends are unhealthy")
	}
	return nil
}
