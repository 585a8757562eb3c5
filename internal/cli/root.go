// Package cli provides the command-line interface for mailmind.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mailmind/mailmind-go/internal/client"
	"github.com/mailmind/mailmind-go/internal/config"
	"github.com/mailmind/mailmind-go/internal/exchange"
	"github.com/mailmind/mailmind-go/internal/metrics"
	"github.com/mailmind/mailmind-go/internal/modelinfo"
	"github.com/mailmind/mailmind-go/internal/models"
	"github.com/mailmind/mailmind-go/internal/queue"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config and collaborators
	cfg        config.Config
	logger     *slog.Logger
	logCleanup func() error

	apiClient  *client.Client
	stats      *metrics.Collector
	transcript *models.Transcript
	modelCache *modelinfo.Cache

	// Lazily opened queue store
	sendQueue *queue.Queue
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mailmind",
	Short: "Email assistant client",
	Long: `Mailmind is a command-line client for the Mailmind email assistant.

Ask questions about your mail, stream the answer as it is generated, and
keep working offline: messages sent while disconnected are queued locally
and replayed in order when the network returns.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		logger, logCleanup = config.SetupLogger(cfg)
		slog.SetDefault(logger)

		apiClient = client.New(cfg.ServerURL, client.StaticToken(cfg.APIToken), logger)
		stats = metrics.NewCollector()
		transcript = models.NewTranscript()
		modelCache = modelinfo.NewCache(apiClient, 0, logger)

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if sendQueue != nil {
			if err := sendQueue.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close queue store: %v\n", err)
			}
		}
		if logCleanup != nil {
			if err := logCleanup(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// newManager builds an exchange manager with the configured budgets.
// streaming overrides the configured path for this invocation.
func newManager(streaming bool) *exchange.Manager {
	return exchange.NewManager(exchange.Config{
		ConnectionTimeout: cfg.ConnectionTimeout(),
		ResponseTimeout:   cfg.ResponseTimeout(),
		Streaming:         streaming,
	}, apiClient, exchange.RealClock(), stats, logger)
}

// openQueue opens the durable queue store on first use, wiring the replay
// sender through the configured exchange path.
func openQueue() (*queue.Queue, error) {
	if sendQueue != nil {
		return sendQueue, nil
	}
	q, err := queue.Open(cfg.QueueDir, transcript, replaySender, logger)
	if err != nil {
		return nil, fmt.Errorf("open offline queue: %w", err)
	}
	sendQueue = q
	return q, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(modelsCmd)
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
