package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/koopa0/grounded/internal/core"
	"github.com/koopa0/grounded/internal/ingest"
	"github.com/koopa0/grounded/internal/vectorstore"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest documents into the vector store",
	Long: `Reads each file, splits it into chunks, embeds them, and stores them.
The file path becomes the document ID, so re-ingesting a file replaces
its previous chunks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	app, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	failed := 0
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			red.Fprintf(cmd.ErrOrStderr(), "✗ %s: %v\n", path, err)
			failed++
			continue
		}

		doc := core.Document{
			ID:      filepath.ToSlash(path),
			Content: string(content),
			Metadata: map[string]string{
				"source":      filepath.Base(path),
				"ingested_at": time.Now().UTC().Format(time.RFC3339),
			},
		}

		chunks, err := app.pipeline.Ingest(cmd.Context(), doc)
		if err != nil {
			reportIngestFailure(cmd.ErrOrStderr(), path, err)
			failed++
			continue
		}
		green.Fprintf(cmd.OutOrStdout(), "✓ %s: %d chunks\n", path, len(chunks))
	}

	if counter, ok := app.store.(vectorstore.Counter); ok {
		if total, err := counter.Count(cmd.Context()); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "store now holds %d chunks\n", total)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(args))
	}
	return nil
}

// reportIngestFailure prints why a document failed, naming every chunk that
// could not be embedded so the operator knows what is missing from the index.
func reportIngestFailure(w io.Writer, path string, err error) {
	red := color.New(color.FgRed)

	var ingErr *ingest.Error
	if !errors.As(err, &ingErr) {
		red.Fprintf(w, "✗ %s: %v\n", path, err)
		return
	}

	red.Fprintf(w, "✗ %s: %s: %v\n", path, ingErr.Reason, ingErr.Err)
	for _, id := range ingErr.FailedChunkIDs {
		red.Fprintf(w, "    failed chunk %s\n", id)
	}
}
