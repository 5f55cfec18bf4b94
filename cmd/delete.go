package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <document-id>...",
	Short: "Remove documents from the vector store",
	Long: `Deletes every chunk of the named documents. Document IDs are the file
paths used at ingestion time. Deleting an unknown document is a no-op.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	app, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	green := color.New(color.FgGreen)
	for _, id := range args {
		if err := app.pipeline.Delete(cmd.Context(), id); err != nil {
			return err
		}
		green.Fprintf(cmd.OutOrStdout(), "✓ deleted %s\n", id)
	}
	return nil
}
