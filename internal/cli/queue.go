package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailmind/mailmind-go/internal/client"
	"github.com/mailmind/mailmind-go/internal/models"
	"github.com/mailmind/mailmind-go/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or replay the offline queue",
	Long: `Work with messages captured while offline.

Subcommands:
  list    Show queued messages in send order
  replay  Send queued messages, oldest first

Examples:
  mailmind queue list
  mailmind queue replay`,
	RunE: runQueueList,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show queued messages in send order",
	RunE:  runQueueList,
}

var queueReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Send queued messages, oldest first",
	RunE:  runQueueReplay,
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueReplayCmd)
}

// replaySender performs the full exchange path for one queued entry,
// honoring the configured replay mode. Passed to queue.Open.
func replaySender(ctx context.Context, e queue.Entry) (string, error) {
	req := client.SendRequest{
		Message:     e.Message,
		SessionID:   e.SessionID,
		ModelName:   e.ModelName,
		Context:     e.Context,
		MaxDaysBack: cfg.MaxDaysBack,
	}

	user := transcript.Get(e.MessageID)
	if user == nil {
		// Replay in a fresh process: the pending message only exists in
		// the store, not in this transcript. Rebuild it for the send.
		user = &models.Message{
			ID:        e.MessageID,
			SessionID: e.SessionID,
			Role:      models.RoleUser,
			Content:   e.Message,
			Timestamp: e.EnqueuedAt,
			Metadata:  models.Metadata{Pending: true},
		}
		transcript.Append(user)
	}

	mgr := newManager(cfg.Streaming)
	ex, err := mgr.Resend(ctx, transcript, user, req, nil, cfg.ResolveReplayStreaming())
	if err != nil {
		return "", err
	}
	if err := ex.Wait(); err != nil {
		return "", err
	}
	return "", nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	q, err := openQueue()
	if err != nil {
		return err
	}
	entries, err := q.Entries()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}
	for i, e := range entries {
		fmt.Printf("%2d. %s  %s  attempts=%d\n   %s\n",
			i+1, e.EnqueuedAt.Format("2006-01-02 15:04"), e.ID, e.Attempts, truncate(e.Message, 72))
	}
	return nil
}

func runQueueReplay(cmd *cobra.Command, args []string) error {
	q, err := openQueue()
	if err != nil {
		return err
	}
	total, err := q.Len()
	if err != nil {
		return err
	}
	if total == 0 {
		fmt.Println("Queue is empty, nothing to replay.")
		return nil
	}

	q.SetOnline(true)
	return runReplayProgress(cmd.Context(), q, total)
}
