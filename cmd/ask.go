package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/koopa0/grounded/internal/config"
	"github.com/koopa0/grounded/internal/orchestrator"
)

var (
	flagStrategy string
	flagTopK     int
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question",
	Long: `Retrieves context for the question, streams the answer, and prints the
citations that ground it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&flagStrategy, "strategy", "",
		"retrieval strategy for this question (similarity, mmr, hybrid)")
	askCmd.Flags().IntVar(&flagTopK, "top-k", 0,
		"number of chunks to retrieve")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	app, err := buildApp(cmd.Context(), func(c *config.Config) {
		if flagStrategy != "" {
			c.Retrieval.Strategy = flagStrategy
		}
		if flagTopK > 0 {
			c.Retrieval.TopK = flagTopK
			if c.Retrieval.FetchK < flagTopK {
				c.Retrieval.FetchK = flagTopK
			}
		}
	})
	if err != nil {
		return err
	}
	defer app.Close()

	question := strings.Join(args, " ")
	id := app.orch.NewSession()

	ctx, cancel := withTimeout(cmd.Context(), app.cfg.Timeouts.Generate)
	defer cancel()

	events, err := app.orch.HandleTurn(ctx, id, question)
	if err != nil {
		return err
	}

	return printEvents(cmd, events)
}

// printEvents renders a turn's event stream: tokens inline, then citations,
// then a grounding note if applicable.
func printEvents(cmd *cobra.Command, events <-chan orchestrator.AnswerEvent) error {
	out := cmd.OutOrStdout()
	cite := color.New(color.FgCyan)
	warn := color.New(color.FgYellow)

	sawCitations := false
	for ev := range events {
		switch ev.Kind {
		case orchestrator.EventToken:
			fmt.Fprint(out, ev.Token)

		case orchestrator.EventCitation:
			if !sawCitations {
				fmt.Fprintln(out)
				sawCitations = true
			}
			cite.Fprintf(out, "  ↳ %s (score %.2f)\n", ev.Citation.ChunkID, ev.Citation.Score)

		case orchestrator.EventDone:
			if !sawCitations {
				fmt.Fprintln(out)
			}
			if ev.Ungrounded {
				warn.Fprintln(out, "note: answered without retrieved context")
			}

		case orchestrator.EventError:
			fmt.Fprintln(out)
			return ev.Err
		}
	}
	return nil
}
