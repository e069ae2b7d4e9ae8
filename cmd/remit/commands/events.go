package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/teranos/remit/am"
	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/events"
	"github.com/teranos/remit/sym"
)

// EventsCmd groups outcome event commands
var EventsCmd = &cobra.Command{
	Use:   "events",
	Short: sym.Event + " Watch settlement outcome events",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print outcome events published by any pulse daemon",
	Long: `Subscribe to the Redis events channel and print each outcome as it is
published. Requires events.backend = "redis"; with the memory backend use
'remit pulse start --follow' instead.`,
	RunE: runEventsTail,
}

func runEventsTail(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if cfg.Events.Backend != "redis" {
		return errors.WithHint(
			errors.NewInvalidRequestError("events.backend is %q, tail needs \"redis\"", cfg.Events.Backend),
			"use 'remit pulse start --follow' to watch a single daemon")
	}

	r := cfg.Events.Redis
	client := redis.NewClient(&redis.Options{Addr: r.Addr, Password: r.Password, DB: r.DB})
	defer client.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pterm.Info.Printf("Tailing %s on %s (Ctrl+C to stop)\n", cfg.Events.Channel, r.Addr)
	return events.NewRedisPublisher(client, cfg.Events.Channel).Subscribe(ctx, printEvent)
}

// followBus prints bus events until ctx ends. The returned channel closes
// once the printer has drained.
func followBus(ctx context.Context, bus *events.Bus) <-chan struct{} {
	ch, unsub := bus.Subscribe(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				printEvent(e)
			}
		}
	}()
	return done
}

func printEvent(e events.Event) {
	line := formatEvent(e)
	switch e.Type {
	case events.OccurrenceProcessed:
		pterm.Success.Println(line)
	case events.OccurrenceFailed:
		pterm.Warning.Println(line)
	default:
		pterm.Info.Println(line)
	}
}

// formatEvent renders one outcome as a single line
func formatEvent(e events.Event) string {
	head := fmt.Sprintf("%s %s %s %s", e.Time.Format(time.RFC3339), e.ScheduleID, e.Amount, e.Currency)
	switch e.Type {
	case events.OccurrenceProcessed:
		s := fmt.Sprintf("%s settled via %s, receipt %s", head, e.Channel, e.ReceiptRef)
		if e.Completed {
			return s + ", schedule complete"
		}
		if e.NextDueAt != nil {
			s += ", next " + e.NextDueAt.Format(time.RFC3339)
		}
		return s
	case events.OccurrenceFailed:
		s := fmt.Sprintf("%s failed (%s, attempt %d): %s", head, e.ErrorClass, e.Attempt, e.Error)
		if e.WillRetry && e.RetryAt != nil {
			s += ", retry at " + e.RetryAt.Format(time.RFC3339)
		}
		return s
	default:
		return fmt.Sprintf("%s %s: %s", head, e.Type, e.Reason)
	}
}

func init() {
	EventsCmd.AddCommand(eventsTailCmd)
}
