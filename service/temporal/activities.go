package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/mvines/burri/service/metrics"
	natspkg "github.com/mvines/burri/service/nats"
	"github.com/mvines/burri/service/solana"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// SelfTransferInput contains the input parameters for one scheduled run.
type SelfTransferInput struct {
	Signer      string   `json:"signer"`       // Expected public key of the keypair, base58
	KeypairPath string   `json:"keypair_path"` // Read by the worker on every run
	References  []string `json:"references"`   // Read-only reference addresses, base58
}

// SelfTransferResult contains the result of the SubmitSelfTransfer activity.
type SelfTransferResult struct {
	Outcome  *solana.Outcome `json:"outcome"`
	Endpoint string          `json:"endpoint"`
}

// PublishOutcomeInput contains parameters for the PublishOutcome activity.
type PublishOutcomeInput struct {
	Outcome  *solana.Outcome `json:"outcome"`
	Endpoint string          `json:"endpoint"`
}

// RunnerInterface defines the pipeline operation needed by activities.
// This allows for easy mocking in tests.
type RunnerInterface interface {
	Run(ctx context.Context, key solanago.PrivateKey, refs []solanago.PublicKey) (*solana.Outcome, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishOutcome(ctx context.Context, event *natspkg.OutcomeEvent) error
}

// Application error types for failures that retrying cannot fix.
const (
	ErrTypeKeypair         = "KeypairError"
	ErrTypeKeypairMismatch = "KeypairMismatch"
)

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	runner    RunnerInterface
	publisher PublisherInterface
	endpoint  string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// A nil publisher disables outcome events. If metrics is nil, no metrics will be recorded.
func NewActivities(
	runner RunnerInterface,
	publisher PublisherInterface,
	endpoint string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		runner:    runner,
		publisher: publisher,
		endpoint:  endpoint,
		metrics:   m,
		logger:    logger,
	}
}

// SubmitSelfTransfer performs one independent self-transfer attempt.
//
// Pipeline failures (insufficient funds, rejection, timeout, ...) are part of
// the returned outcome rather than activity errors, so the workflow can still
// publish them. Only problems with the run's inputs are returned as
// non-retryable errors.
func (a *Activities) SubmitSelfTransfer(ctx context.Context, input SelfTransferInput) (*SelfTransferResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("SubmitSelfTransfer", time.Since(start).Seconds())
		}
	}()

	key, err := solana.LoadKeypair(input.KeypairPath)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to load keypair",
			"path", input.KeypairPath,
			"error", err,
		)
		return nil, temporalsdk.NewNonRetryableApplicationError("failed to load keypair", ErrTypeKeypair, err)
	}
	signer := key.PublicKey()

	if input.Signer != "" && input.Signer != signer.String() {
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("keypair %s does not match scheduled signer %s", signer, input.Signer),
			ErrTypeKeypairMismatch,
			nil,
		)
	}

	result := &SelfTransferResult{Endpoint: a.endpoint}

	refs, err := solana.ParseReferences(signer, input.References)
	if err != nil {
		now := time.Now().UTC()
		result.Outcome = &solana.Outcome{
			RunID:      uuid.NewString(),
			Signer:     signer.String(),
			References: input.References,
			Status:     solana.StatusFor(err),
			Reason:     err.Error(),
			StartedAt:  now,
			FinishedAt: now,
		}
		a.logger.WarnContext(ctx, "invalid reference addresses", "signer", signer.String(), "error", err)
		return result, nil
	}

	outcome, err := a.runner.Run(ctx, key, refs)
	if err != nil && ctx.Err() != nil {
		// The activity itself was cancelled; there is no outcome worth reporting.
		return nil, err
	}
	result.Outcome = outcome

	a.logger.InfoContext(ctx, "self-transfer run finished",
		"signer", signer.String(),
		"status", outcome.Status,
		"signature", outcome.Signature,
	)
	return result, nil
}

// PublishOutcome publishes a run outcome to NATS and records the run in the
// workflow metrics.
func (a *Activities) PublishOutcome(ctx context.Context, input PublishOutcomeInput) error {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("PublishOutcome", time.Since(start).Seconds())
		}
	}()

	if input.Outcome == nil {
		return temporalsdk.NewNonRetryableApplicationError("no outcome to publish", "InvalidInput", nil)
	}

	if a.metrics != nil {
		a.metrics.RecordWorkflowDuration(
			input.Outcome.Signer,
			string(input.Outcome.Status),
			input.Outcome.FinishedAt.Sub(input.Outcome.StartedAt).Seconds(),
		)
	}

	if a.publisher == nil {
		a.logger.DebugContext(ctx, "no publisher configured, skipping outcome event")
		return nil
	}

	event := natspkg.FromOutcome(input.Outcome, input.Endpoint)
	if err := a.publisher.PublishOutcome(ctx, event); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish outcome",
			"signer", event.Signer,
			"status", event.Status,
			"error", err,
		)
		return fmt.Errorf("failed to publish outcome: %w", err)
	}

	return nil
}
