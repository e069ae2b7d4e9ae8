package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/ledger"
	"github.com/teranos/remit/pulse/schedule"
	"github.com/teranos/remit/pulse/settle"
	"github.com/teranos/remit/sym"
)

// ScheduleCmd manages recurring transfers
var ScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: sym.Pulse + " Manage recurring transfers",
	Long: sym.Pulse + ` schedule — Manage recurring transfers

Examples:
  remit schedule create --payer P --payee Q --amount 25 --currency USD \
      --frequency monthly --times 09:00 --start 2024-03-01 --pin
  remit schedule create --payer P --payee Q --amount 5 --currency USDC \
      --frequency hourly --interval 4 --window 8-20 --exclude-weekdays sat,sun
  remit schedule ls --status paused
  remit schedule show <id>
  remit schedule pause <id> --reason "card replaced"
  remit schedule resume <id>
  remit schedule retry <id>
  remit schedule window set <id> --from 2024-12-20 --until 2025-01-05`,
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a recurring transfer",
	RunE:  runScheduleCreate,
}

var scheduleLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List schedules by next due time",
	RunE:    runScheduleLs,
}

var scheduleShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a schedule and its recent attempts",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleShow,
}

var schedulePauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause an active schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchedulePause,
}

var scheduleResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused schedule",
	Long: `Resume a paused schedule and reset its retry count.

An occurrence that fell due while paused settles once on the next pass.`,
	Args: cobra.ExactArgs(1),
	RunE: runScheduleResume,
}

var scheduleCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a schedule permanently",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleCancel,
}

var scheduleRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Settle a due schedule now, ignoring its retry delay",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleRetry,
}

var scheduleReceiptsCmd = &cobra.Command{
	Use:   "receipts <id>",
	Short: "List settled occurrences",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleReceipts,
}

var scheduleWindowCmd = &cobra.Command{
	Use:   "window",
	Short: "Manage temporary pause windows",
}

var scheduleWindowSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Suspend settlement between two instants",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleWindowSet,
}

var scheduleWindowClearCmd = &cobra.Command{
	Use:   "clear <id>",
	Short: "Remove a pause window",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleWindowClear,
}

func init() {
	f := scheduleCreateCmd.Flags()
	f.String("payer", "", "Payer ID (required)")
	f.String("payee", "", "Payee ID (required)")
	f.String("amount", "", "Amount per occurrence (required)")
	f.String("currency", "", "Currency code (required)")
	f.String("description", "", "Free-text description")
	f.String("frequency", "monthly", "hourly, daily, weekly, bi-weekly, monthly, quarterly, yearly or custom")
	f.StringSlice("times", nil, "UTC times of day (HH:MM)")
	f.Int("interval", 0, "Hours between occurrences (hourly only)")
	f.String("window", "", "Allowed UTC hours as START-END (hourly only)")
	f.String("start", "", "First occurrence, RFC3339 or YYYY-MM-DD (default now)")
	f.String("end", "", "No occurrence after this instant")
	f.String("channel", "either", "onchain, bank or either")
	f.StringSlice("exclude-weekdays", nil, "Weekdays to skip (e.g. sat,sun)")
	f.IntSlice("exclude-hours", nil, "UTC hours to skip")
	f.StringSlice("exclude-dates", nil, "Dates to skip (YYYY-MM-DD)")
	f.Bool("skip-weekends", false, "Skip Saturdays and Sundays")
	f.Bool("pin", false, "Prompt for the payer's PIN and authorise unattended settlement")
	for _, name := range []string{"payer", "payee", "amount", "currency"} {
		_ = scheduleCreateCmd.MarkFlagRequired(name)
	}

	scheduleLsCmd.Flags().String("status", "", "Filter by status")
	scheduleLsCmd.Flags().String("payer", "", "Filter by payer")
	scheduleLsCmd.Flags().Int("limit", 50, "Maximum rows")

	scheduleShowCmd.Flags().Int("attempts", 10, "Recent attempts to show")
	schedulePauseCmd.Flags().String("reason", "", "Why the schedule is paused")
	scheduleRetryCmd.Flags().String("pin", "", "Payer PIN when none is cached")

	scheduleWindowSetCmd.Flags().String("from", "", "Window start (required)")
	scheduleWindowSetCmd.Flags().String("until", "", "Window end (required)")
	scheduleWindowSetCmd.Flags().String("reason", "", "Shown while the window blocks settlement")
	_ = scheduleWindowSetCmd.MarkFlagRequired("from")
	_ = scheduleWindowSetCmd.MarkFlagRequired("until")

	scheduleWindowCmd.AddCommand(scheduleWindowSetCmd)
	scheduleWindowCmd.AddCommand(scheduleWindowClearCmd)

	ScheduleCmd.AddCommand(scheduleCreateCmd)
	ScheduleCmd.AddCommand(scheduleLsCmd)
	ScheduleCmd.AddCommand(scheduleShowCmd)
	ScheduleCmd.AddCommand(schedulePauseCmd)
	ScheduleCmd.AddCommand(scheduleResumeCmd)
	ScheduleCmd.AddCommand(scheduleCancelCmd)
	ScheduleCmd.AddCommand(scheduleRetryCmd)
	ScheduleCmd.AddCommand(scheduleReceiptsCmd)
	ScheduleCmd.AddCommand(scheduleWindowCmd)
}

// scheduleFromFlags builds an unsaved schedule from create flags
func scheduleFromFlags(cmd *cobra.Command, now time.Time) (*schedule.Schedule, error) {
	f := cmd.Flags()
	str := func(name string) string { v, _ := f.GetString(name); return v }
	strs := func(name string) []string { v, _ := f.GetStringSlice(name); return v }

	amount, err := parseAmount(str("amount"))
	if err != nil {
		return nil, err
	}
	interval, _ := f.GetInt("interval")
	freq, rule, err := buildRule(ruleFlags{
		Frequency: str("frequency"),
		Times:     strs("times"),
		Interval:  interval,
		Window:    str("window"),
	})
	if err != nil {
		return nil, err
	}
	hours, _ := f.GetIntSlice("exclude-hours")
	skipWeekends, _ := f.GetBool("skip-weekends")
	ex, err := buildExclusions(strs("exclude-weekdays"), hours, strs("exclude-dates"), skipWeekends)
	if err != nil {
		return nil, err
	}
	channel, err := ledger.ParseChannel(str("channel"))
	if err != nil {
		return nil, err
	}

	start := now
	if s := str("start"); s != "" {
		if start, err = parseInstant(s); err != nil {
			return nil, err
		}
	}
	sc := &schedule.Schedule{
		PayerID:     str("payer"),
		PayeeID:     str("payee"),
		Amount:      amount,
		Currency:    str("currency"),
		Description: str("description"),
		Channel:     channel,
		Frequency:   freq,
		Rule:        rule,
		Exclusions:  ex,
		StartAt:     start,
	}
	if s := str("end"); s != "" {
		end, err := parseInstant(s)
		if err != nil {
			return nil, err
		}
		sc.EndAt = &end
	}
	return sc, sc.Validate()
}

func runScheduleCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	now := time.Now().UTC()
	sc, err := scheduleFromFlags(cmd, now)
	if err != nil {
		return err
	}

	withPIN, _ := cmd.Flags().GetBool("pin")
	var pin string
	if withPIN {
		if pin, err = readSecret("PIN"); err != nil {
			return err
		}
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.accounts.GetPayer(ctx, sc.PayerID); err != nil {
		return err
	}
	if _, err := a.accounts.GetPayee(ctx, sc.PayeeID); err != nil {
		return err
	}
	if err := a.schedules.Create(ctx, sc); err != nil {
		return err
	}
	pterm.Success.Printf("Created schedule %s\n", sc.ID)

	if withPIN {
		if _, err := authorizePayer(ctx, a.keys, a.accounts, a.schedules, sc.PayerID, pin, now); err != nil {
			pterm.Warning.Println("Schedule created but not verified; run 'remit secret put' to authorise it")
			return err
		}
		pterm.Info.Println("Unattended settlement authorised")
	} else {
		pterm.Warning.Printf("Not verified: run 'remit secret put %s' before it can settle\n", sc.PayerID)
	}
	fmt.Printf("  First due: %s\n", sc.NextDueAt.Format(time.RFC3339))
	return nil
}

func runScheduleLs(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	status, _ := cmd.Flags().GetString("status")
	payer, _ := cmd.Flags().GetString("payer")
	limit, _ := cmd.Flags().GetInt("limit")
	list, err := a.schedules.List(cmd.Context(), schedule.ListOptions{
		Status:  schedule.Status(status),
		PayerID: payer,
		Limit:   limit,
	})
	if err != nil {
		return err
	}
	if len(list) == 0 {
		pterm.Info.Println("No schedules")
		return nil
	}

	data := pterm.TableData{{"ID", "Status", "Amount", "Frequency", "Next due", "Settled", "Failures"}}
	for _, sc := range list {
		data = append(data, []string{
			sc.ID,
			string(sc.Status),
			sc.Amount.String() + " " + sc.Currency,
			string(sc.Frequency),
			sc.NextDueAt.Format(time.RFC3339),
			fmt.Sprint(sc.OccurrenceCount),
			fmt.Sprint(sc.FailureCount),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runScheduleShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sc, err := a.schedules.Get(ctx, args[0])
	if err != nil {
		return err
	}
	printSchedule(sc)

	limit, _ := cmd.Flags().GetInt("attempts")
	attempts, err := a.attempts.ListAttempts(ctx, sc.ID, limit)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		return nil
	}
	fmt.Println()
	data := pterm.TableData{{"Started", "Occurrence", "Status", "Channel", "Receipt / error", "ms"}}
	for _, at := range attempts {
		detail := at.ReceiptRef
		if at.ErrorMessage != "" {
			detail = at.ErrorClass + ": " + at.ErrorMessage
		}
		data = append(data, []string{
			at.StartedAt.Format(time.RFC3339),
			fmt.Sprint(at.Occurrence),
			string(at.Status),
			at.Channel,
			detail,
			fmt.Sprint(at.DurationMS),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func printSchedule(sc *schedule.Schedule) {
	fmt.Printf("%s Schedule %s\n", sym.Pulse, sc.ID)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Status:       %s\n", sc.Status)
	if sc.PausedReason != "" {
		fmt.Printf("Paused:       %s\n", sc.PausedReason)
	}
	fmt.Printf("Payer:        %s\n", sc.PayerID)
	fmt.Printf("Payee:        %s\n", sc.PayeeID)
	fmt.Printf("Amount:       %s %s\n", sc.Amount, sc.Currency)
	fmt.Printf("Frequency:    %s\n", sc.Frequency)
	fmt.Printf("Channel:      %s\n", sc.Channel)
	fmt.Printf("Verified:     %t\n", sc.SecretVerified)
	fmt.Printf("Start:        %s\n", sc.StartAt.Format(time.RFC3339))
	if sc.EndAt != nil {
		fmt.Printf("End:          %s\n", sc.EndAt.Format(time.RFC3339))
	}
	fmt.Printf("Next due:     %s\n", sc.NextDueAt.Format(time.RFC3339))
	fmt.Printf("Settled:      %d occurrence(s)\n", sc.OccurrenceCount)
	if sc.Retry.RetryAt != nil {
		fmt.Printf("Retry:        attempt %d at %s (%s)\n", sc.Retry.AttemptCount, sc.Retry.RetryAt.Format(time.RFC3339), sc.Retry.LastError)
	}
	if p := sc.Pause; p != nil && p.Enabled {
		fmt.Printf("Window:       %s until %s\n", p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339))
	}
}

func runSchedulePause(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	reason, _ := cmd.Flags().GetString("reason")
	sc, err := a.schedules.Pause(cmd.Context(), args[0], reason, time.Now().UTC())
	if err != nil {
		return err
	}
	pterm.Success.Printf("Paused %s: %s\n", sc.ID, sc.PausedReason)
	return nil
}

func runScheduleResume(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	sc, err := a.schedules.Resume(cmd.Context(), args[0], time.Now().UTC())
	if err != nil {
		return err
	}
	pterm.Success.Printf("Resumed %s; next due %s\n", sc.ID, sc.NextDueAt.Format(time.RFC3339))
	return nil
}

func runScheduleCancel(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	sc, err := a.schedules.Cancel(cmd.Context(), args[0], time.Now().UTC())
	if err != nil {
		return err
	}
	pterm.Success.Printf("Cancelled %s after %d occurrence(s)\n", sc.ID, sc.OccurrenceCount)
	return nil
}

func runScheduleRetry(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	pin, _ := cmd.Flags().GetString("pin")
	res, err := a.runner.RetryNow(cmd.Context(), args[0], pin)
	if err != nil {
		return err
	}

	switch res.Outcome {
	case settle.OutcomeSettled:
		pterm.Success.Printf("Settled occurrence %d via %s (%s)\n", res.Occurrence, res.Channel, res.ReceiptRef)
		if res.Completed {
			pterm.Info.Println("Schedule completed")
		} else {
			fmt.Printf("  Next due: %s\n", res.NextDueAt.Format(time.RFC3339))
		}
		return nil
	case settle.OutcomePaused:
		pterm.Warning.Printf("Not settled: %s\n", res.Reason)
		return nil
	}
	if res.Err != nil {
		return res.Err
	}
	return errors.Newf("settlement %s: %s", res.Outcome, res.Reason)
}

func runScheduleReceipts(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	receipts, err := a.schedules.Receipts(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(receipts) == 0 {
		pterm.Info.Println("No settled occurrences")
		return nil
	}
	data := pterm.TableData{{"#", "Settled", "Amount", "Channel", "Receipt"}}
	for _, r := range receipts {
		data = append(data, []string{
			fmt.Sprint(r.Occurrence),
			r.SettledAt.Format(time.RFC3339),
			r.Amount.String() + " " + r.Currency,
			string(r.Channel),
			r.ReceiptRef,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runScheduleWindowSet(cmd *cobra.Command, args []string) error {
	from, _ := cmd.Flags().GetString("from")
	until, _ := cmd.Flags().GetString("until")
	reason, _ := cmd.Flags().GetString("reason")
	start, err := parseInstant(from)
	if err != nil {
		return err
	}
	end, err := parseInstant(until)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	w := &schedule.PauseWindow{Enabled: true, Start: start, End: end, Reason: reason}
	if err := a.schedules.SetPauseWindow(cmd.Context(), args[0], w, time.Now().UTC()); err != nil {
		return err
	}
	pterm.Success.Printf("Settlement suspended from %s until %s\n", start.Format(time.RFC3339), end.Format(time.RFC3339))
	return nil
}

func runScheduleWindowClear(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.schedules.SetPauseWindow(cmd.Context(), args[0], nil, time.Now().UTC()); err != nil {
		return err
	}
	pterm.Success.Printf("Cleared pause window on %s\n", args[0])
	return nil
}
