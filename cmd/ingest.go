package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yungbote/docrag-backend/internal/app"
	"github.com/yungbote/docrag-backend/internal/index"
)

var (
	ingestPrincipals []string
	queryTopK        int
	queryPrincipals  []string
	querySource      string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest one document file synchronously",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, st, err := a.IngestFile(ctx, args[0], ingestPrincipals)
			if err != nil {
				return fmt.Errorf("ingest %s: %w (task %s: %s)", args[0], err, st.TaskID, st.Detail)
			}
			return printJSON(cmd, map[string]any{
				"task_id":     res.TaskID,
				"document_id": res.DocumentID,
				"chunks":      res.Chunks,
				"deleted":     res.Deleted,
				"attempts":    res.Attempts,
				"state":       st.State,
			})
		})
	},
}

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Retrieve the chunks most relevant to a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			var filter *index.Filter
			if querySource != "" {
				f := index.Equal(index.FieldSource, querySource)
				filter = &f
			}
			chunks, err := a.Retrieval.Retrieve(ctx, args[0], queryTopK, queryPrincipals, filter)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"results": chunks})
		})
	},
}

func init() {
	ingestCmd.Flags().StringSliceVar(&ingestPrincipals, "principal", nil, "Principal allowed to read the document (repeatable)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 5, "Number of results")
	queryCmd.Flags().StringSliceVar(&queryPrincipals, "principal", nil, "Caller principal (repeatable)")
	queryCmd.Flags().StringVar(&querySource, "source", "", "Only return chunks from this source")
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
