package cmd

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Opens a conversation that keeps history across questions. Type a
question and press enter; /new starts a fresh session, /history shows
the conversation so far, /quit exits.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	app, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Idle sessions expire in the background for the life of the chat.
	go app.orch.RunSweeper(ctx, time.Minute)

	out := cmd.OutOrStdout()
	prompt := color.New(color.FgGreen, color.Bold)
	dim := color.New(color.Faint)

	id := app.orch.NewSession()
	fmt.Fprintln(out, "grounded chat. /new starts over, /history recaps, /quit exits.")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		prompt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/new":
			if err := app.orch.Expire(id); err != nil {
				dim.Fprintf(out, "expiring old session: %v\n", err)
			}
			id = app.orch.NewSession()
			dim.Fprintln(out, "started a new session")
			continue
		case "/history":
			printHistory(cmd, app, id)
			continue
		}

		turnCtx, turnCancel := withTimeout(ctx, app.cfg.Timeouts.Generate)
		events, err := app.orch.HandleTurn(turnCtx, id, line)
		if err != nil {
			turnCancel()
			dim.Fprintf(out, "turn failed: %v\n", err)
			continue
		}
		if err := printEvents(cmd, events); err != nil {
			dim.Fprintf(out, "turn failed: %v\n", err)
		}
		turnCancel()
	}
}

func printHistory(cmd *cobra.Command, app *app, id uuid.UUID) {
	out := cmd.OutOrStdout()
	dim := color.New(color.Faint)

	info, err := app.orch.Session(id)
	if err != nil {
		dim.Fprintf(out, "history unavailable: %v\n", err)
		return
	}
	if len(info.Turns) == 0 {
		dim.Fprintln(out, "no turns yet")
		return
	}
	for _, turn := range info.Turns {
		fmt.Fprintf(out, "[%s] %s\n", turn.Role, turn.Text)
	}
}
