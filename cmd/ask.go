package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raglet/raglet/internal/app"
	"github.com/raglet/raglet/internal/config"
)

var askStream bool

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a one-shot question without creating a session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().BoolVar(&askStream, "stream", false, "print the answer as it is generated")
	rootCmd.AddCommand(askCmd)
}

func runAsk(ctx context.Context, question string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := app.Setup(ctx, cfg, newLogger())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()

	if askStream {
		for chunk, err := range a.Engine.QueryStream(ctx, question) {
			if err != nil {
				fmt.Println()
				return fmt.Errorf("answering: %w", err)
			}
			fmt.Print(chunk)
		}
		fmt.Println()
		return nil
	}

	answer, err := a.Engine.Query(ctx, question)
	if err != nil {
		return fmt.Errorf("answering: %w", err)
	}
	fmt.Println(answer)
	return nil
}
