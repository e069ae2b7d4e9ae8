package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/remit/am"
	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/pulse/schedule"
	"github.com/teranos/remit/sym"
)

// StatsCmd summarises the schedule table
var StatsCmd = &cobra.Command{
	Use:   "stats",
	Short: sym.Pulse + " Show settlement statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	now := time.Now().UTC()
	st, err := schedule.NewStore(database).Stats(cmd.Context(), now)
	if err != nil {
		return err
	}

	fmt.Printf("%s Settlement Statistics\n", sym.Pulse)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Active schedules:   %d (%d payers)\n", st.ActiveCount, st.ActivePayerCount)
	fmt.Printf("Due now:            %d\n", st.DueCount)
	fmt.Printf("Awaiting retry:     %d\n", st.RetryCount)
	fmt.Printf("Paused:             %d\n", st.PausedCount)
	fmt.Printf("Next due:           %s\n", formatOptionalTime(st.NextDueAt, now))
	fmt.Printf("Last processed:     %s\n", formatOptionalTime(st.LastProcessedAt, now))
	return nil
}

// formatOptionalTime renders t with its distance from now
func formatOptionalTime(t *time.Time, now time.Time) string {
	if t == nil {
		return "never"
	}
	d := t.Sub(now).Round(time.Second)
	switch {
	case d > 0:
		return fmt.Sprintf("%s (in %v)", t.Format(time.RFC3339), d)
	case d < 0:
		return fmt.Sprintf("%s (%v ago)", t.Format(time.RFC3339), -d)
	}
	return t.Format(time.RFC3339) + " (now)"
}
