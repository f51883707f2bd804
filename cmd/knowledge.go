package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raglet/raglet/internal/app"
	"github.com/raglet/raglet/internal/knowledge"
)

var (
	knowledgeSource string
	knowledgeTopK   int32
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage the knowledge base",
}

var knowledgeAddCmd = &cobra.Command{
	Use:   "add <file>...",
	Short: "Embed and store documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			return runKnowledgeAdd(ctx, a, args)
		})
	},
}

var knowledgeSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			return runKnowledgeSearch(ctx, a, strings.Join(args, " "))
		})
	},
}

var knowledgeCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count stored documents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			n, err := a.Knowledge.Count(ctx, nil)
			if err != nil {
				return fmt.Errorf("counting documents: %w", err)
			}
			fmt.Println(n)
			return nil
		})
	},
}

func init() {
	knowledgeAddCmd.Flags().StringVar(&knowledgeSource, "source", "", "source tag stored in document metadata")
	knowledgeSearchCmd.Flags().Int32Var(&knowledgeTopK, "top-k", 5, "number of results")
	knowledgeCmd.AddCommand(knowledgeAddCmd, knowledgeSearchCmd, knowledgeCountCmd)
	rootCmd.AddCommand(knowledgeCmd)
}

func runKnowledgeAdd(ctx context.Context, a *app.App, paths []string) error {
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		metadata := map[string]string{"filename": path}
		if knowledgeSource != "" {
			metadata["source"] = knowledgeSource
		}

		id, err := a.Knowledge.Add(ctx, string(content), metadata)
		if err != nil {
			return fmt.Errorf("adding %s: %w", path, err)
		}
		fmt.Printf("%s -> %s\n", path, id)
	}
	return nil
}

func runKnowledgeSearch(ctx context.Context, a *app.App, query string) error {
	results, err := a.Knowledge.Search(ctx, query, knowledge.WithTopK(knowledgeTopK))
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%d. [%.3f] %s\n", i+1, r.Similarity, firstLine(r.Content))
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
