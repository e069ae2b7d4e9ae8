package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/remit/am"
	"github.com/teranos/remit/cmd/remit/commands"
	"github.com/teranos/remit/logger"
)

var rootCmd = &cobra.Command{
	Use:   "remit",
	Short: "remit - recurring transfer scheduling and settlement",
	Long: `remit - recurring value-transfer scheduling and settlement.

remit settles recurring payments when they fall due: it computes each
schedule's next occurrence, moves value through an on-chain or bank mover,
retries transient failures and pauses schedules that need a human.

Available commands:
  am        - Show and validate configuration ("I am")
  account   - Register payers and payees
  db        - Manage the remit database
  pulse     - Run the settlement daemon or a single pass
  schedule  - Create and administer schedules
  secret    - Cache or evict payer PINs
  stats     - Show settlement statistics

Examples:
  remit pulse start                   # Settle due schedules every minute
  remit schedule ls --status paused   # List paused schedules
  remit schedule retry <id>           # Retry a failed schedule now
  remit stats                         # Show due, retrying and paused counts`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if cmd.Name() == "start" && verbosity < logger.VerbosityInfo {
			// the daemon reports passes at info level
			verbosity = logger.VerbosityInfo
		}
		jsonLogs := false
		if cfg, err := am.Load(); err == nil {
			jsonLogs = cfg.Log.JSON
		}
		if err := logger.InitializeWithLevel(jsonLogs, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.AccountCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.EventsCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.ScheduleCmd)
	rootCmd.AddCommand(commands.SecretCmd)
	rootCmd.AddCommand(commands.StatsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
