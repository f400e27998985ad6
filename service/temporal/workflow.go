package temporal

import (
	"fmt"
	"time"

	"github.com/mvines/burri/service/solana"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// SubmitTimeout bounds one SubmitSelfTransfer activity. It must cover the
// send retries plus the confirmation timeout.
const SubmitTimeout = 5 * time.Minute

// SelfTransferWorkflow is the Temporal workflow that performs one self-transfer.
// It is triggered by a Temporal schedule at a configured interval.
//
// The workflow performs these steps:
// 1. Run the pipeline once (SubmitSelfTransfer activity, never retried)
// 2. Publish the outcome to NATS (PublishOutcome activity, best effort)
// 3. Fail with a non-retryable error typed by status if the run did not confirm
func SelfTransferWorkflow(ctx workflow.Context, input SelfTransferInput) (*solana.Outcome, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("SelfTransferWorkflow started", "signer", input.Signer)

	// A run is a single attempt. The submitter already retries sends
	// internally, and a fresh attempt belongs to the next scheduled run.
	submitCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: SubmitTimeout,
		RetryPolicy: &temporalsdk.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var result *SelfTransferResult
	err := workflow.ExecuteActivity(submitCtx, a.SubmitSelfTransfer, input).Get(ctx, &result)
	if err != nil {
		logger.Error("self-transfer activity failed", "signer", input.Signer, "error", err)
		return nil, fmt.Errorf("self-transfer activity failed: %w", err)
	}
	outcome := result.Outcome

	publishCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	})

	publishInput := PublishOutcomeInput{Outcome: outcome, Endpoint: result.Endpoint}
	if err := workflow.ExecuteActivity(publishCtx, a.PublishOutcome, publishInput).Get(ctx, nil); err != nil {
		// Publishing never changes the run's result.
		logger.Warn("failed to publish outcome", "signer", outcome.Signer, "error", err)
	}

	if outcome.Status != solana.StatusConfirmed {
		logger.Info("SelfTransferWorkflow finished without confirmation",
			"signer", outcome.Signer,
			"status", outcome.Status,
			"reason", outcome.Reason,
		)
		return outcome, temporalsdk.NewNonRetryableApplicationError(outcome.Reason, string(outcome.Status), nil)
	}

	logger.Info("SelfTransferWorkflow completed successfully",
		"signer", outcome.Signer,
		"signature", outcome.Signature,
		"amount", outcome.Amount,
	)
	return outcome, nil
}
