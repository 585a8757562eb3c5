package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mailmind/mailmind-go/internal/client"
	"github.com/mailmind/mailmind-go/internal/models"
)

var (
	chatSession  string
	chatModel    string
	chatEmailID  string
	chatTaskID   string
	chatNoStream bool
	chatOffline  bool
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message to the assistant",
	Long: `Send a message to the assistant and stream the reply.

The answer is printed incrementally as it is generated. Scope the question
to an email or task with --email / --task. With --no-stream a single
request/response round trip is used instead; the result is identical.

If the network is unreachable the message is captured in the offline queue
and replayed automatically on 'mailmind queue replay'.

Examples:
  mailmind chat "Summarize my week"
  mailmind chat "What did Anna ask me to do?" --email msg-4711
  mailmind chat "Draft a reply" --session 42 --model assistant-large`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "session to continue")
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "model to use (default from settings)")
	chatCmd.Flags().StringVar(&chatEmailID, "email", "", "scope the question to an email")
	chatCmd.Flags().StringVar(&chatTaskID, "task", "", "scope the question to a task")
	chatCmd.Flags().BoolVar(&chatNoStream, "no-stream", false, "use the non-streaming path")
	chatCmd.Flags().BoolVar(&chatOffline, "offline", false, "skip the network and queue the message")
}

func runChat(cmd *cobra.Command, args []string) error {
	message := args[0]
	ctx := cmd.Context()

	model := chatModel
	if model == "" {
		model = cfg.ModelName
	}
	mctx := models.Context{EmailID: chatEmailID, TaskID: chatTaskID}

	if chatOffline {
		q, err := openQueue()
		if err != nil {
			return err
		}
		id, err := q.Enqueue(message, chatSession, model, mctx)
		if err != nil {
			return fmt.Errorf("enqueue message: %w", err)
		}
		fmt.Printf("%s message queued (%s); replay with 'mailmind queue replay'\n",
			defaultTheme.hintStyle().Render("⏳"), id)
		return nil
	}

	req := client.SendRequest{
		Message:     message,
		SessionID:   chatSession,
		ModelName:   model,
		Context:     mctx,
		MaxDaysBack: cfg.MaxDaysBack,
	}

	streaming := cfg.Streaming && !chatNoStream
	mgr := newManager(streaming)

	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	printed := 0
	onUpdate := func(content string) {
		if !isTTY {
			return
		}
		// Emit only the delta so the answer grows in place.
		fmt.Print(content[printed:])
		printed = len(content)
	}

	ex, err := mgr.Initiate(ctx, transcript, req, onUpdate)
	if err != nil {
		return err
	}
	werr := ex.Wait()
	if isTTY && printed > 0 {
		fmt.Println()
	}

	if errors.Is(werr, client.ErrOffline) {
		return queueOfflineSend(ex.UserMessage().ID, ex.Message().ID, model, mctx)
	}
	if werr != nil {
		// A failed exchange keeps its partial answer; show it with the
		// error badge instead of discarding it.
		if !isTTY && ex.Content() != "" {
			fmt.Println(ex.Content())
		}
		fmt.Println(defaultTheme.errorStyle().Render("✗ " + werr.Error()))
		return werr
	}

	if !isTTY {
		fmt.Println(ex.Content())
	}
	printResultDetails(ex.Message())

	if verbose {
		printExchangeStats()
	}
	return nil
}

// queueOfflineSend moves a send that failed before any byte went out into
// the offline queue, reusing the already-recorded user message.
func queueOfflineSend(userID, placeholderID, model string, mctx models.Context) error {
	q, err := openQueue()
	if err != nil {
		return err
	}
	msg := transcript.Get(userID)
	if msg == nil {
		return fmt.Errorf("user message %s not found", userID)
	}
	transcript.Remove(placeholderID)
	id, err := q.Adopt(msg, model, mctx)
	if err != nil {
		return fmt.Errorf("enqueue message: %w", err)
	}
	fmt.Printf("%s network unavailable, message queued (%s); replay with 'mailmind queue replay'\n",
		defaultTheme.hintStyle().Render("⏳"), id)
	return nil
}

// printResultDetails shows metadata attached to a completed answer.
func printResultDetails(msg models.Message) {
	if len(msg.Metadata.References) > 0 {
		fmt.Println()
		fmt.Println(defaultTheme.hintStyle().Render("References:"))
		for _, ref := range msg.Metadata.References {
			line := fmt.Sprintf("  • [%s] %s", ref.Type, ref.Title)
			if ref.URL != "" {
				line += " <" + ref.URL + ">"
			}
			fmt.Println(line)
		}
	}
	if len(msg.Metadata.TaskSuggestions) > 0 {
		fmt.Println()
		fmt.Println(defaultTheme.hintStyle().Render("Suggested tasks:"))
		for _, task := range msg.Metadata.TaskSuggestions {
			line := "  • " + task.Title
			if task.DueDate != "" {
				line += " (due " + task.DueDate + ")"
			}
			fmt.Println(line)
		}
	}
	if verbose && msg.Metadata.Model != "" {
		fmt.Printf("\n%s\n", defaultTheme.hintStyle().Render(
			fmt.Sprintf("model=%s generation_time=%.2fs", msg.Metadata.Model, msg.Metadata.GenerationTime)))
	}
}

// printExchangeStats dumps the collector snapshot for this invocation.
func printExchangeStats() {
	snap := stats.Snapshot()
	if snap.Stream != nil {
		fmt.Printf("%s\n", defaultTheme.hintStyle().Render(fmt.Sprintf(
			"stream: %dms, %d chunks, first frame after %.0fms",
			snap.Stream.TotalTimeMs, derefInt64(snap.Stream.TotalChunks), derefFloat(snap.Stream.AvgFirstFrameMs))))
	}
	if snap.Fallback != nil {
		fmt.Printf("%s\n", defaultTheme.hintStyle().Render(fmt.Sprintf(
			"fallback: %dms", snap.Fallback.TotalTimeMs)))
	}
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefFloat(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
