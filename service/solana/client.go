package solana

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mvines/burri/service/metrics"
)

// Client provides the ledger operations the pipeline needs.
// It wraps the RPC client with domain-specific operations, logging and metrics.
type Client struct {
	rpc        RPCClient
	commitment rpc.CommitmentType
	logger     *slog.Logger
	metrics    *metrics.Metrics
	endpoint   string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// An empty commitment defaults to confirmed. If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, commitment rpc.CommitmentType, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &Client{
		rpc:        rpcClient,
		commitment: commitment,
		logger:     logger,
		metrics:    m,
		endpoint:   endpoint,
	}
}

// Commitment returns the commitment level used for reads and confirmation.
func (c *Client) Commitment() rpc.CommitmentType {
	return c.commitment
}

// Balance returns the account balance in lamports.
func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	start := time.Now()
	out, err := c.rpc.GetBalance(ctx, account, c.commitment)
	c.observe("GetBalance", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get balance",
			"account", account.String(),
			"error", err,
		)
		return 0, classifyRPCError(ctx, err)
	}
	if out == nil {
		return 0, classifyRPCError(ctx, errEmptyResponse("GetBalance"))
	}

	c.logger.DebugContext(ctx, "fetched balance",
		"account", account.String(),
		"lamports", out.Value,
	)
	return out.Value, nil
}

// LatestBlockhash fetches a fresh recent blockhash.
func (c *Client) LatestBlockhash(ctx context.Context) (*Blockhash, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	c.observe("GetLatestBlockhash", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get latest blockhash", "error", err)
		return nil, classifyRPCError(ctx, err)
	}
	if out == nil || out.Value == nil {
		return nil, classifyRPCError(ctx, errEmptyResponse("GetLatestBlockhash"))
	}

	bh := &Blockhash{
		Hash:                 out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
		FetchedAt:            time.Now(),
	}
	c.logger.DebugContext(ctx, "fetched latest blockhash",
		"blockhash", bh.Hash.String(),
		"last_valid_block_height", bh.LastValidBlockHeight,
	)
	return bh, nil
}

// Send submits a signed transaction with preflight at the client's commitment.
func (c *Client) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	opts := rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	}

	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, opts)
	c.observe("SendTransaction", start, err)
	if err != nil {
		c.logger.WarnContext(ctx, "send transaction failed", "error", err)
		return solana.Signature{}, classifyRPCError(ctx, err)
	}
	return sig, nil
}

// SignatureStatuses returns one status per signature, in order. A nil entry
// means the network has not seen that signature yet.
func (c *Client) SignatureStatuses(ctx context.Context, sigs ...solana.Signature) ([]*rpc.SignatureStatusesResult, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, false, sigs...)
	c.observe("GetSignatureStatuses", start, err)
	if err != nil {
		return nil, classifyRPCError(ctx, err)
	}
	statuses := make([]*rpc.SignatureStatusesResult, len(sigs))
	if out != nil {
		copy(statuses, out.Value)
	}
	return statuses, nil
}

// observe records metrics for a single RPC call.
func (c *Client) observe(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		if strings.Contains(err.Error(), "429") {
			c.metrics.RecordRateLimitHit(c.endpoint)
		}
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}
