package solana

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mvines/burri/service/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastSubmitterOptions() SubmitterOptions {
	return SubmitterOptions{
		MaxSendRetries:      3,
		RetryBackoff:        time.Millisecond,
		MaxRetryBackoff:     5 * time.Millisecond,
		BlockhashValidity:   time.Minute,
		ConfirmTimeout:      time.Second,
		ConfirmPollInterval: time.Millisecond,
	}
}

// submitFixture builds a draft for a fresh key against mock and returns
// everything needed to submit it.
func submitFixture(t *testing.T, mock *mockRPCClient, opts SubmitterOptions, m *metrics.Metrics) (*Submitter, *Draft, solana.PrivateKey) {
	t.Helper()
	key := newTestKey(t)
	client := newTestClient(mock)
	builder := NewBuilder(client, testLogger())
	draft, err := builder.Build(context.Background(), key.PublicKey(), 1_000, nil)
	require.NoError(t, err)
	return NewSubmitter(client, builder, opts, m, testLogger()), draft, key
}

func TestSubmitter_ConfirmedFirstTry(t *testing.T) {
	mock := &mockRPCClient{statuses: []*rpc.SignatureStatusesResult{nil, confirmedStatus(77)}}
	submitter, draft, key := submitFixture(t, mock, fastSubmitterOptions(), nil)

	sub, err := submitter.Submit(context.Background(), draft, key)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.Attempts)
	assert.Equal(t, uint64(77), sub.Slot)
	assert.Equal(t, draft.Tx.Signatures[0], sub.Signature)
	assert.NoError(t, draft.Tx.VerifySignatures())
}

func TestSubmitter_KeyMustMatchSigner(t *testing.T) {
	mock := &mockRPCClient{}
	submitter, draft, _ := submitFixture(t, mock, fastSubmitterOptions(), nil)

	_, err := submitter.Submit(context.Background(), draft, newTestKey(t))
	require.Error(t, err)
	assert.Equal(t, 0, mock.sentCount())
}

func TestSubmitter_RetriesTransientFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	mock := &mockRPCClient{
		sendErrs: []error{errConnRefused, rpcError(rpcNodeUnhealthy, "Node is unhealthy")},
		statuses: []*rpc.SignatureStatusesResult{confirmedStatus(5)},
	}
	submitter, draft, key := submitFixture(t, mock, fastSubmitterOptions(), m)
	original := draft.Tx

	sub, err := submitter.Submit(context.Background(), draft, key)
	require.NoError(t, err)
	assert.Equal(t, 3, sub.Attempts)

	// Transient retries resend the same signed transaction.
	for _, tx := range mock.sent {
		assert.Same(t, original, tx)
	}
	assert.Equal(t, 1, mock.blockhashCalls)

	count, err := testutil.GatherAndCount(reg, "solana_rpc_retries_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSubmitter_RebuildsOnBlockhashNotFound(t *testing.T) {
	blockhashNotFound := rpcError(-32002, "Transaction simulation failed: Blockhash not found")

	t.Run("fresh blockhash lands", func(t *testing.T) {
		mock := &mockRPCClient{
			blockhashes: []solana.Hash{{1}, {2}},
			sendErrs:    []error{blockhashNotFound},
			statuses:    []*rpc.SignatureStatusesResult{confirmedStatus(9)},
		}
		submitter, draft, key := submitFixture(t, mock, fastSubmitterOptions(), nil)

		sub, err := submitter.Submit(context.Background(), draft, key)
		require.NoError(t, err)
		assert.Equal(t, 2, sub.Attempts)
		require.Len(t, mock.sent, 2)
		assert.Equal(t, solana.Hash{1}, mock.sent[0].Message.RecentBlockhash)
		assert.Equal(t, solana.Hash{2}, mock.sent[1].Message.RecentBlockhash)
		assert.Equal(t, mock.sent[1].Signatures[0], sub.Signature)
		assert.NotEqual(t, mock.sent[0].Signatures[0], sub.Signature)
		assert.NoError(t, mock.sent[1].VerifySignatures())
	})

	t.Run("never lands is rejected after bounded retries", func(t *testing.T) {
		opts := fastSubmitterOptions()
		opts.MaxSendRetries = 2
		mock := &mockRPCClient{
			blockhashes: []solana.Hash{{1}, {2}, {3}},
			sendErrs:    []error{blockhashNotFound, blockhashNotFound, blockhashNotFound, blockhashNotFound},
		}
		submitter, draft, key := submitFixture(t, mock, opts, nil)

		sub, err := submitter.Submit(context.Background(), draft, key)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRejected)
		assert.Equal(t, ExitRejected, ExitCode(err))
		assert.Contains(t, err.Error(), "send failed after 3 attempts")
		assert.Equal(t, 3, sub.Attempts)
		assert.Equal(t, 3, mock.sentCount())
		// initial build + one rebuild per retry
		assert.Equal(t, 3, mock.blockhashCalls)
	})
}

func TestSubmitter_RetriesRateLimitedSend(t *testing.T) {
	tooMany := rpcError(429, "Too many requests for a specific RPC call")

	t.Run("second attempt lands", func(t *testing.T) {
		mock := &mockRPCClient{
			sendErrs: []error{tooMany},
			statuses: []*rpc.SignatureStatusesResult{confirmedStatus(6)},
		}
		submitter, draft, key := submitFixture(t, mock, fastSubmitterOptions(), nil)
		original := draft.Tx

		sub, err := submitter.Submit(context.Background(), draft, key)
		require.NoError(t, err)
		assert.Equal(t, 2, sub.Attempts)
		require.Len(t, mock.sent, 2)
		assert.Same(t, original, mock.sent[1])
		assert.Equal(t, original.Signatures[0], sub.Signature)
	})

	t.Run("persistent throttling is network unavailable", func(t *testing.T) {
		opts := fastSubmitterOptions()
		opts.MaxSendRetries = 1
		mock := &mockRPCClient{sendErrs: []error{tooMany, tooMany}}
		submitter, draft, key := submitFixture(t, mock, opts, nil)

		sub, err := submitter.Submit(context.Background(), draft, key)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNetworkUnavailable)
		assert.NotErrorIs(t, err, ErrRejected)
		assert.Equal(t, ExitNetworkUnavailable, ExitCode(err))
		assert.Equal(t, 2, sub.Attempts)
	})
}

func TestSubmitter_RebuildsAgedBlockhash(t *testing.T) {
	opts := fastSubmitterOptions()
	opts.BlockhashValidity = time.Nanosecond
	mock := &mockRPCClient{
		blockhashes: []solana.Hash{{1}, {2}},
		sendErrs:    []error{errConnRefused},
		statuses:    []*rpc.SignatureStatusesResult{confirmedStatus(21)},
	}
	submitter, draft, key := submitFixture(t, mock, opts, nil)

	sub, err := submitter.Submit(context.Background(), draft, key)
	require.NoError(t, err)
	assert.Equal(t, 2, sub.Attempts)
	assert.Equal(t, 2, mock.blockhashCalls)

	require.Len(t, mock.sent, 2)
	assert.Equal(t, solana.Hash{1}, mock.sent[0].Message.RecentBlockhash)
	assert.Equal(t, solana.Hash{2}, mock.sent[1].Message.RecentBlockhash)
	assert.NoError(t, mock.sent[1].VerifySignatures())
	assert.Equal(t, mock.sent[1].Signatures[0], sub.Signature)
	assert.Equal(t, uint64(21), sub.Slot)
}

func TestSubmitter_ConfirmsAnySentSignature(t *testing.T) {
	onChainFailure := &rpc.SignatureStatusesResult{
		Slot: 31,
		Err:  map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
	}

	t.Run("earlier signature lands after rebuild", func(t *testing.T) {
		// The first send fails on our side but reaches a leader. The retry
		// rebuilds on an aged blockhash and is never seen.
		opts := fastSubmitterOptions()
		opts.BlockhashValidity = time.Nanosecond
		mock := &mockRPCClient{
			blockhashes: []solana.Hash{{1}, {2}},
			sendErrs:    []error{errConnRefused},
		}
		submitter, draft, key := submitFixture(t, mock, opts, nil)
		require.NoError(t, sign(draft.Tx, key))
		first := draft.Tx.Signatures[0]
		mock.statusFor = map[solana.Signature]*rpc.SignatureStatusesResult{
			first: confirmedStatus(30),
		}

		sub, err := submitter.Submit(context.Background(), draft, key)
		require.NoError(t, err)
		require.Len(t, mock.sent, 2)
		assert.NotEqual(t, first, mock.sent[1].Signatures[0])
		assert.Equal(t, first, sub.Signature)
		assert.Equal(t, uint64(30), sub.Slot)
		assert.Equal(t, 2, sub.Attempts)
	})

	t.Run("earlier failure without a success is rejected", func(t *testing.T) {
		opts := fastSubmitterOptions()
		opts.BlockhashValidity = time.Nanosecond
		mock := &mockRPCClient{
			blockhashes: []solana.Hash{{1}, {2}},
			sendErrs:    []error{errConnRefused},
		}
		submitter, draft, key := submitFixture(t, mock, opts, nil)
		require.NoError(t, sign(draft.Tx, key))
		first := draft.Tx.Signatures[0]
		mock.statusFor = map[solana.Signature]*rpc.SignatureStatusesResult{
			first: onChainFailure,
		}

		sub, err := submitter.Submit(context.Background(), draft, key)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRejected)
		assert.Equal(t, first, sub.Signature)
		assert.Equal(t, uint64(31), sub.Slot)
	})
}

func TestSubmitterOptions_Budget(t *testing.T) {
	opts := SubmitterOptions{
		MaxSendRetries:  4,
		RetryBackoff:    time.Second,
		MaxRetryBackoff: 3 * time.Second,
		ConfirmTimeout:  time.Minute,
	}
	// 1s + 2s + 3s + 3s of backoff
	assert.Equal(t, time.Minute+9*time.Second, opts.Budget())

	// 0.5s + 1s + 2s of backoff
	assert.Equal(t, 63500*time.Millisecond, DefaultSubmitterOptions().Budget())

	opts.MaxSendRetries = 0
	assert.Equal(t, time.Minute, opts.Budget())
}

func TestSubmitter_TransientExhaustedIsNetworkUnavailable(t *testing.T) {
	opts := fastSubmitterOptions()
	opts.MaxSendRetries = 1
	mock := &mockRPCClient{sendErrs: []error{errConnRefused, errConnRefused}}
	submitter, draft, key := submitFixture(t, mock, opts, nil)

	sub, err := submitter.Submit(context.Background(), draft, key)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetworkUnavailable)
	assert.Equal(t, 2, sub.Attempts)
}

func TestSubmitter_PreflightRejectionIsTerminal(t *testing.T) {
	mock := &mockRPCClient{
		sendErrs: []error{rpcError(-32002, "Transaction simulation failed: Attempt to debit an account but found no record of a prior credit.")},
	}
	submitter, draft, key := submitFixture(t, mock, fastSubmitterOptions(), nil)

	sub, err := submitter.Submit(context.Background(), draft, key)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "no record of a prior credit")
	assert.Equal(t, 1, sub.Attempts)
	assert.Equal(t, 1, mock.sentCount())
}

func TestSubmitter_AlreadyProcessedCountsAsSent(t *testing.T) {
	mock := &mockRPCClient{
		sendErrs: []error{errConnRefused, rpcError(-32002, "Transaction simulation failed: This transaction has already been processed")},
		statuses: []*rpc.SignatureStatusesResult{confirmedStatus(12)},
	}
	submitter, draft, key := submitFixture(t, mock, fastSubmitterOptions(), nil)

	sub, err := submitter.Submit(context.Background(), draft, key)
	require.NoError(t, err)
	assert.Equal(t, draft.Tx.Signatures[0], sub.Signature)
	assert.Equal(t, uint64(12), sub.Slot)
}

func TestSubmitter_Confirmation(t *testing.T) {
	t.Run("times out within bound", func(t *testing.T) {
		opts := fastSubmitterOptions()
		opts.ConfirmTimeout = 50 * time.Millisecond
		opts.ConfirmPollInterval = 5 * time.Millisecond
		mock := &mockRPCClient{} // signature is never seen
		submitter, draft, key := submitFixture(t, mock, opts, nil)

		start := time.Now()
		sub, err := submitter.Submit(context.Background(), draft, key)
		elapsed := time.Since(start)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTimedOut)
		assert.Equal(t, ExitTimedOut, ExitCode(err))
		assert.Less(t, elapsed, time.Second)
		assert.Equal(t, draft.Tx.Signatures[0], sub.Signature, "signature is still reported")
	})

	t.Run("processed is not enough for confirmed", func(t *testing.T) {
		opts := fastSubmitterOptions()
		opts.ConfirmTimeout = 50 * time.Millisecond
		mock := &mockRPCClient{
			statuses: []*rpc.SignatureStatusesResult{
				{Slot: 3, ConfirmationStatus: rpc.ConfirmationStatusProcessed},
			},
		}
		submitter, draft, key := submitFixture(t, mock, opts, nil)

		_, err := submitter.Submit(context.Background(), draft, key)
		assert.ErrorIs(t, err, ErrTimedOut)
	})

	t.Run("finalized satisfies confirmed", func(t *testing.T) {
		mock := &mockRPCClient{
			statuses: []*rpc.SignatureStatusesResult{
				{Slot: 3, ConfirmationStatus: rpc.ConfirmationStatusProcessed},
				{Slot: 4, ConfirmationStatus: rpc.ConfirmationStatusFinalized},
			},
		}
		submitter, draft, key := submitFixture(t, mock, fastSubmitterOptions(), nil)

		sub, err := submitter.Submit(context.Background(), draft, key)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), sub.Slot)
	})

	t.Run("on-chain failure is rejected", func(t *testing.T) {
		mock := &mockRPCClient{
			statuses: []*rpc.SignatureStatusesResult{
				{Slot: 8, Err: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}, ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
			},
		}
		submitter, draft, key := submitFixture(t, mock, fastSubmitterOptions(), nil)

		_, err := submitter.Submit(context.Background(), draft, key)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRejected)
		assert.Contains(t, err.Error(), "InstructionError")
	})

	t.Run("status poll errors keep polling", func(t *testing.T) {
		opts := fastSubmitterOptions()
		opts.ConfirmTimeout = 30 * time.Millisecond
		mock := &mockRPCClient{statusErr: errConnRefused}
		submitter, draft, key := submitFixture(t, mock, opts, nil)

		_, err := submitter.Submit(context.Background(), draft, key)
		assert.ErrorIs(t, err, ErrTimedOut)
		assert.Greater(t, mock.statusCalls, 1)
	})

	t.Run("caller cancellation is not a timeout", func(t *testing.T) {
		mock := &mockRPCClient{}
		submitter, draft, key := submitFixture(t, mock, fastSubmitterOptions(), nil)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		_, err := submitter.Submit(ctx, draft, key)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrTimedOut)
	})
}

func TestSubmitter_Backoff(t *testing.T) {
	submitter := NewSubmitter(nil, nil, SubmitterOptions{
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: time.Second,
	}, nil, testLogger())

	assert.Equal(t, 100*time.Millisecond, submitter.backoff(1))
	assert.Equal(t, 200*time.Millisecond, submitter.backoff(2))
	assert.Equal(t, 400*time.Millisecond, submitter.backoff(3))
	assert.Equal(t, 800*time.Millisecond, submitter.backoff(4))
	assert.Equal(t, time.Second, submitter.backoff(5))
	assert.Equal(t, time.Second, submitter.backoff(20))
}

func TestCommitmentReached(t *testing.T) {
	tests := []struct {
		status rpc.ConfirmationStatusType
		want   rpc.CommitmentType
		ok     bool
	}{
		{rpc.ConfirmationStatusProcessed, rpc.CommitmentProcessed, true},
		{rpc.ConfirmationStatusProcessed, rpc.CommitmentConfirmed, false},
		{rpc.ConfirmationStatusConfirmed, rpc.CommitmentConfirmed, true},
		{rpc.ConfirmationStatusConfirmed, rpc.CommitmentFinalized, false},
		{rpc.ConfirmationStatusFinalized, rpc.CommitmentConfirmed, true},
		{"", rpc.CommitmentProcessed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, commitmentReached(tt.status, tt.want), "%s vs %s", tt.status, tt.want)
	}
}
