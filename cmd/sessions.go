package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/raglet/raglet/internal/app"
	"github.com/raglet/raglet/internal/config"
)

var sessionsOwner string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), runSessionsList)
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show a session's messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			return runSessionsShow(ctx, a, args[0])
		})
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a session and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if err := a.Sessions.Delete(ctx, args[0]); err != nil {
				return fmt.Errorf("deleting session: %w", err)
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		})
	},
}

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsOwner, "owner", "", "filter by owner ID")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// withApp loads config, assembles the application and runs fn against it.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a, err := app.Setup(ctx, cfg, newLogger())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()
	return fn(ctx, a)
}

func runSessionsList(ctx context.Context, a *app.App) error {
	sessions, err := a.Sessions.List(ctx, sessionsOwner, 100)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tTITLE\tCREATED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Key, s.Title, formatTime(s.CreatedAt))
	}
	return w.Flush()
}

func runSessionsShow(ctx context.Context, a *app.App, key string) error {
	chat, err := a.Sessions.ByKey(ctx, key)
	if err != nil {
		return fmt.Errorf("resolving session: %w", err)
	}
	messages, err := a.Sessions.Messages(ctx, chat.ID, config.DefaultMaxHistoryMessages)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}

	fmt.Printf("Key: %s\n", chat.Key)
	fmt.Printf("Title: %s\n", chat.Title)
	fmt.Printf("Created: %s\n", formatTime(chat.CreatedAt))
	fmt.Printf("Messages: %d\n\n", len(messages))

	for _, msg := range messages {
		fmt.Printf("[%s] %s\n\n", msg.Role, msg.Content)
	}
	return nil
}

// formatTime renders a timestamp relative to now for recent values.
func formatTime(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02 15:04")
	}
}
