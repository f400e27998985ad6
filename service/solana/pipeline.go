package solana

import (
	"context"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/mvines/burri/service/metrics"
)

// DefaultFeeLamports is the base fee for a transaction with one signature.
const DefaultFeeLamports = 5000

// RunnerConfig holds the knobs of a single pipeline run.
type RunnerConfig struct {
	// FeeLamports is the fee estimate reserved out of the balance. Zero means DefaultFeeLamports.
	FeeLamports uint64
	// MarginLamports is held back on top of the fee.
	MarginLamports uint64
	// MinAmountLamports is the smallest transfer ever selected.
	MinAmountLamports uint64
	Submitter         SubmitterOptions
}

// Runner executes the whole self-transfer pipeline: select an amount, build
// the transaction, then sign, send and confirm it. A Runner holds no state
// between runs.
type Runner struct {
	client    *Client
	selector  *AmountSelector
	builder   *Builder
	submitter *Submitter
	fee       uint64
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// OnBuilt, if set, is called with the unsigned draft before it is submitted.
	OnBuilt func(*Draft)
}

// NewRunner wires the pipeline components around client. A nil rng uses the
// process-wide random source. If metrics is nil, no metrics will be recorded.
func NewRunner(client *Client, cfg RunnerConfig, rng RandSource, m *metrics.Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FeeLamports == 0 {
		cfg.FeeLamports = DefaultFeeLamports
	}
	builder := NewBuilder(client, logger)
	return &Runner{
		client:    client,
		selector:  NewAmountSelector(cfg.MarginLamports, cfg.MinAmountLamports, rng),
		builder:   builder,
		submitter: NewSubmitter(client, builder, cfg.Submitter, m, logger),
		fee:       cfg.FeeLamports,
		metrics:   m,
		logger:    logger,
	}
}

// Run performs one independent self-transfer attempt for key, naming refs as
// read-only references. The returned Outcome is always non-nil and describes
// how far the run got; the error carries the failure class.
func (r *Runner) Run(ctx context.Context, key solana.PrivateKey, refs []solana.PublicKey) (*Outcome, error) {
	signer := key.PublicKey()
	outcome := &Outcome{
		RunID:      uuid.NewString(),
		Signer:     signer.String(),
		References: make([]string, 0, len(refs)),
		StartedAt:  time.Now().UTC(),
	}
	for _, ref := range refs {
		outcome.References = append(outcome.References, ref.String())
	}

	err := r.run(ctx, key, refs, outcome)

	outcome.FinishedAt = time.Now().UTC()
	outcome.Status = StatusFor(err)
	if err != nil {
		outcome.Reason = err.Error()
	}

	if r.metrics != nil {
		r.metrics.RecordRun(string(outcome.Status), outcome.FinishedAt.Sub(outcome.StartedAt).Seconds())
	}

	logger := r.logger.With(
		"run_id", outcome.RunID,
		"signer", outcome.Signer,
		"status", outcome.Status,
		"amount", outcome.Amount,
		"attempts", outcome.Attempts,
	)
	if err != nil {
		logger.ErrorContext(ctx, "self-transfer failed", "error", err)
	} else {
		logger.InfoContext(ctx, "self-transfer confirmed", "signature", outcome.Signature, "slot", outcome.Slot)
	}

	return outcome, err
}

func (r *Runner) run(ctx context.Context, key solana.PrivateKey, refs []solana.PublicKey, outcome *Outcome) error {
	signer := key.PublicKey()

	// Reference problems are reported before any network call.
	if err := ValidateReferences(signer, refs); err != nil {
		return err
	}

	balance, err := r.client.Balance(ctx, signer)
	if err != nil {
		return err
	}
	outcome.Balance = balance

	amount, err := r.selector.Select(balance, r.fee)
	if err != nil {
		return err
	}
	outcome.Amount = amount
	if r.metrics != nil {
		r.metrics.RecordAmount(amount)
	}

	draft, err := r.builder.Build(ctx, signer, amount, refs)
	if err != nil {
		return err
	}
	if r.OnBuilt != nil {
		r.OnBuilt(draft)
	}

	sub, err := r.submitter.Submit(ctx, draft, key)
	if sub != nil {
		outcome.Attempts = sub.Attempts
		outcome.Slot = sub.Slot
		if sub.Signature != (solana.Signature{}) {
			outcome.Signature = sub.Signature.String()
		}
	}
	return err
}
