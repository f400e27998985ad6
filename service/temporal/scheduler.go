package temporal

import (
	"context"
	"time"
)

// Scheduler manages Temporal schedules for self-transfers.
// Each signer gets its own schedule that triggers the SelfTransferWorkflow.
type Scheduler interface {
	// CreateSelfTransferSchedule creates a new schedule for a signer.
	// The schedule will trigger the SelfTransferWorkflow on the given interval.
	CreateSelfTransferSchedule(ctx context.Context, input SelfTransferInput, interval time.Duration) error

	// DeleteSelfTransferSchedule deletes the schedule for a signer.
	// This stops further runs; a run in progress is not interrupted.
	DeleteSelfTransferSchedule(ctx context.Context, signer string) error
}

// ScheduleID returns the Temporal schedule ID for a signer address.
func ScheduleID(signer string) string {
	return "self-transfer-" + signer
}
