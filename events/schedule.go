package events

import (
	"context"

	"github.com/teranos/remit/logger"
	"github.com/teranos/remit/pulse/schedule"
)

// ForSchedule returns an event of type t carrying sc's parties and amount
// and the run ID from ctx
func ForSchedule(ctx context.Context, t Type, sc *schedule.Schedule) Event {
	return Event{
		Type:       t,
		RunID:      logger.RunIDFromContext(ctx),
		ScheduleID: sc.ID,
		PayerID:    sc.PayerID,
		PayeeID:    sc.PayeeID,
		Amount:     sc.Amount.String(),
		Currency:   sc.Currency,
	}
}
