package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailmind/mailmind-go/internal/models"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List, show, or delete chat sessions",
	Long: `Manage chat sessions stored on the assistant server.

Subcommands:
  list        List sessions (default)
  show <id>   Print a session's conversation
  delete <id> Delete a session and its messages

Examples:
  mailmind sessions
  mailmind sessions show 42
  mailmind sessions delete 42`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a session's conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session and its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	sessions, err := apiClient.ListSessions(cmd.Context())
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions yet.")
		return nil
	}
	for _, s := range sessions {
		fmt.Printf("%-12s %-40s %3d messages  %s\n",
			s.ID, truncate(s.Title, 40), s.MessageCount, s.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	msgs, err := apiClient.ListMessages(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	transcript.Seed(msgs)
	for _, m := range transcript.Messages() {
		label := roleLabel(m.Role)
		if m.Metadata.Pending {
			label += " " + defaultTheme.hintStyle().Render("(pending)")
		}
		fmt.Printf("%s\n%s\n\n", label, m.Content)
		if m.Metadata.Error != "" {
			fmt.Println(defaultTheme.errorStyle().Render("✗ " + m.Metadata.Error))
		}
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	if err := apiClient.DeleteSession(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	fmt.Printf("Session %s deleted.\n", args[0])
	return nil
}

func roleLabel(r models.Role) string {
	switch r {
	case models.RoleUser:
		return defaultTheme.statusStyle().Render("you")
	case models.RoleAssistant:
		return defaultTheme.completedStyle().Render("assistant")
	default:
		return string(r)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
