package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mvines/burri/service/metrics"
)

// SubmitterOptions tunes retry and confirmation behaviour.
type SubmitterOptions struct {
	// MaxSendRetries is how many times a failed send is retried after the first attempt.
	MaxSendRetries int
	// RetryBackoff is the delay before the first retry; it doubles per retry.
	RetryBackoff time.Duration
	// MaxRetryBackoff caps the retry delay.
	MaxRetryBackoff time.Duration
	// BlockhashValidity is how long a blockhash is trusted before a retry rebuilds the transaction.
	BlockhashValidity time.Duration
	// ConfirmTimeout bounds how long we wait for the configured commitment.
	ConfirmTimeout time.Duration
	// ConfirmPollInterval is the delay between signature status polls.
	ConfirmPollInterval time.Duration
}

// DefaultSubmitterOptions returns conservative settings for public RPC endpoints.
func DefaultSubmitterOptions() SubmitterOptions {
	return SubmitterOptions{
		MaxSendRetries:      3,
		RetryBackoff:        500 * time.Millisecond,
		MaxRetryBackoff:     5 * time.Second,
		BlockhashValidity:   60 * time.Second,
		ConfirmTimeout:      60 * time.Second,
		ConfirmPollInterval: time.Second,
	}
}

// Budget is the time Submit spends waiting on its own schedule: every retry
// backoff plus the confirmation timeout. RPC round trips come on top.
func (o SubmitterOptions) Budget() time.Duration {
	s := Submitter{opts: o}
	var total time.Duration
	for retry := 1; retry <= o.MaxSendRetries; retry++ {
		total += s.backoff(retry)
	}
	return total + o.ConfirmTimeout
}

// Submission is what the submitter learned about a sent transaction.
type Submission struct {
	Signature solana.Signature
	Attempts  int
	Slot      uint64
}

// Submitter signs, sends and confirms self-transfer transactions.
type Submitter struct {
	client  *Client
	builder *Builder
	opts    SubmitterOptions
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewSubmitter creates a Submitter. The builder is used to rebuild a
// transaction whose blockhash went stale between retries.
func NewSubmitter(client *Client, builder *Builder, opts SubmitterOptions, m *metrics.Metrics, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ConfirmPollInterval <= 0 {
		opts.ConfirmPollInterval = time.Second
	}
	if opts.MaxSendRetries < 0 {
		opts.MaxSendRetries = 0
	}
	return &Submitter{
		client:  client,
		builder: builder,
		opts:    opts,
		metrics: m,
		logger:  logger,
	}
}

// Submit signs the draft with key, sends it and waits for confirmation.
// The returned Submission is non-nil whenever at least one send was attempted,
// even if the overall result is an error.
func (s *Submitter) Submit(ctx context.Context, draft *Draft, key solana.PrivateKey) (*Submission, error) {
	if !key.PublicKey().Equals(draft.Signer) {
		return nil, fmt.Errorf("keypair %s does not match signer %s", key.PublicKey(), draft.Signer)
	}
	if err := sign(draft.Tx, key); err != nil {
		return nil, err
	}

	sigs, attempts, err := s.send(ctx, draft, key)
	if s.metrics != nil {
		s.metrics.RecordSendAttempts(attempts)
	}
	result := &Submission{Attempts: attempts}
	if err != nil {
		return result, err
	}
	result.Signature = sigs[len(sigs)-1]

	s.logger.InfoContext(ctx, "transaction sent, awaiting confirmation",
		"signature", result.Signature.String(),
		"attempts", attempts,
		"signatures", len(sigs),
	)

	sig, slot, err := s.confirm(ctx, sigs)
	result.Signature = sig
	result.Slot = slot
	return result, err
}

// sign adds the signer's signature. The transaction has exactly one required signer.
func sign(tx *solana.Transaction, key solana.PrivateKey) error {
	signer := key.PublicKey()
	_, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(signer) {
			return &key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}

// send submits the transaction, retrying transient failures with capped
// exponential backoff. Retries resend the same signed bytes unless the
// blockhash is stale, in which case the transaction is rebuilt and re-signed.
//
// It returns every distinct signature it put on the wire, oldest first. A
// send that failed on our side may still have reached a leader, so a
// rebuilt transaction does not retire the earlier ones.
func (s *Submitter) send(ctx context.Context, draft *Draft, key solana.PrivateKey) ([]solana.Signature, int, error) {
	var (
		lastErr error
		sigs    []solana.Signature
	)
	stale := false
	attempts := 0

	for retry := 0; retry <= s.opts.MaxSendRetries; retry++ {
		if retry > 0 {
			backoff := s.backoff(retry)
			s.logger.WarnContext(ctx, "retrying send",
				"retry", retry,
				"backoff_seconds", backoff.Seconds(),
				"error", lastErr,
			)
			if err := sleepContext(ctx, backoff); err != nil {
				return sigs, attempts, err
			}

			if stale || s.expired(draft) {
				if err := s.rebuild(ctx, draft, key); err != nil {
					if ctx.Err() != nil {
						return sigs, attempts, err
					}
					lastErr = err
					continue
				}
				stale = false
			}
		}

		attempts++
		if len(draft.Tx.Signatures) > 0 {
			sigs = appendDistinct(sigs, draft.Tx.Signatures[0])
		}
		sig, err := s.client.Send(ctx, draft.Tx)
		if err == nil {
			return appendDistinct(sigs, sig), attempts, nil
		}
		lastErr = err

		switch {
		case isAlreadyProcessed(err) && len(sigs) > 0:
			// An earlier attempt landed; the network deduped this one.
			return sigs, attempts, nil
		case isBlockhashNotFound(err):
			stale = true
			s.recordRetry("blockhash_not_found")
		case errors.Is(err, ErrNetworkUnavailable):
			s.recordRetry("transient")
		default:
			return sigs, attempts, err
		}
	}

	return sigs, attempts, fmt.Errorf("send failed after %d attempts: %w", attempts, lastErr)
}

func appendDistinct(sigs []solana.Signature, sig solana.Signature) []solana.Signature {
	if n := len(sigs); n > 0 && sigs[n-1] == sig {
		return sigs
	}
	return append(sigs, sig)
}

// rebuild fetches a new blockhash and re-signs the draft.
func (s *Submitter) rebuild(ctx context.Context, draft *Draft, key solana.PrivateKey) error {
	if err := s.builder.Refresh(ctx, draft); err != nil {
		return err
	}
	if err := sign(draft.Tx, key); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "rebuilt transaction with fresh blockhash",
		"blockhash", draft.Blockhash.Hash.String(),
	)
	return nil
}

func (s *Submitter) expired(draft *Draft) bool {
	if s.opts.BlockhashValidity <= 0 || draft.Blockhash == nil {
		return false
	}
	return time.Since(draft.Blockhash.FetchedAt) > s.opts.BlockhashValidity
}

// backoff returns RetryBackoff * 2^(retry-1), capped at MaxRetryBackoff.
func (s *Submitter) backoff(retry int) time.Duration {
	d := s.opts.RetryBackoff
	for i := 1; i < retry; i++ {
		d *= 2
		if s.opts.MaxRetryBackoff > 0 && d >= s.opts.MaxRetryBackoff {
			return s.opts.MaxRetryBackoff
		}
	}
	if s.opts.MaxRetryBackoff > 0 && d > s.opts.MaxRetryBackoff {
		return s.opts.MaxRetryBackoff
	}
	return d
}

// confirm polls every signature sent during the run until one reaches the
// client's commitment, a transaction fails on chain, or ConfirmTimeout
// elapses. It returns the signature that settled the outcome; on timeout that
// is the newest one. The transactions move the same funds, so at most one of
// them can succeed.
func (s *Submitter) confirm(ctx context.Context, sigs []solana.Signature) (solana.Signature, uint64, error) {
	want := s.client.Commitment()
	newest := sigs[len(sigs)-1]

	confirmCtx := ctx
	if s.opts.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		confirmCtx, cancel = context.WithTimeout(ctx, s.opts.ConfirmTimeout)
		defer cancel()
	}

	for {
		statuses, err := s.client.SignatureStatuses(confirmCtx, sigs...)
		if err != nil && confirmCtx.Err() == nil {
			s.logger.WarnContext(ctx, "signature status poll failed", "signature", newest.String(), "error", err)
		}

		failed := -1
		for i, status := range statuses {
			switch {
			case status == nil:
				// not seen yet
			case status.Err != nil:
				if failed < 0 {
					failed = i
				}
			case commitmentReached(status.ConfirmationStatus, want):
				s.logger.InfoContext(ctx, "transaction confirmed",
					"signature", sigs[i].String(),
					"slot", status.Slot,
					"status", status.ConfirmationStatus,
				)
				return sigs[i], status.Slot, nil
			}
		}
		if failed >= 0 {
			status := statuses[failed]
			return sigs[failed], status.Slot, &RejectedError{Reason: fmt.Sprintf("transaction failed: %v", status.Err)}
		}

		select {
		case <-confirmCtx.Done():
			if err := ctx.Err(); err != nil {
				return newest, 0, err
			}
			return newest, 0, fmt.Errorf("%w: %s not %s within %s", ErrTimedOut, newest, want, s.opts.ConfirmTimeout)
		case <-time.After(s.opts.ConfirmPollInterval):
		}
	}
}

func (s *Submitter) recordRetry(reason string) {
	if s.metrics != nil {
		s.metrics.RecordRPCRetry("SendTransaction", reason)
	}
}

var commitmentRank = map[string]int{
	string(rpc.CommitmentProcessed): 1,
	string(rpc.CommitmentConfirmed): 2,
	string(rpc.CommitmentFinalized): 3,
}

// commitmentReached reports whether a signature status satisfies the wanted commitment.
func commitmentReached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	have := commitmentRank[string(status)]
	need, ok := commitmentRank[string(want)]
	if !ok {
		need = commitmentRank[string(rpc.CommitmentConfirmed)]
	}
	return have > 0 && have >= need
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
