package solana

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// Failure classes for a self-transfer run. Callers match them with errors.Is.
var (
	// ErrInsufficientFunds means the balance cannot cover the fee reserve, the
	// safety margin and the minimum transfer amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNetworkUnavailable is a transient RPC failure (transport error, rate
	// limit, unhealthy node).
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrRejected means the network refused the transaction or it failed on chain.
	ErrRejected = errors.New("transaction rejected")

	// ErrTimedOut means confirmation was not observed within the configured bound.
	ErrTimedOut = errors.New("confirmation timed out")

	// ErrInvalidAddress is a malformed, duplicate or self-referencing reference address.
	ErrInvalidAddress = errors.New("invalid address")
)

// RejectedError carries the network's reason for refusing a transaction.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRejected, e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return ErrRejected
}

// Exit codes reported by the CLI for each terminal state.
const (
	ExitOK                 = 0
	ExitUnexpected         = 1
	ExitInsufficientFunds  = 2
	ExitNetworkUnavailable = 3
	ExitRejected           = 4
	ExitTimedOut           = 5
	ExitInvalidAddress     = 6
)

// ExitCode maps an error from the pipeline to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInsufficientFunds):
		return ExitInsufficientFunds
	case errors.Is(err, ErrNetworkUnavailable):
		return ExitNetworkUnavailable
	case errors.Is(err, ErrRejected):
		return ExitRejected
	case errors.Is(err, ErrTimedOut):
		return ExitTimedOut
	case errors.Is(err, ErrInvalidAddress):
		return ExitInvalidAddress
	default:
		return ExitUnexpected
	}
}

// StatusFor returns the outcome status label for an error.
func StatusFor(err error) Status {
	switch {
	case err == nil:
		return StatusConfirmed
	case errors.Is(err, ErrInsufficientFunds):
		return StatusInsufficientFunds
	case errors.Is(err, ErrNetworkUnavailable):
		return StatusNetworkUnavailable
	case errors.Is(err, ErrRejected):
		return StatusRejected
	case errors.Is(err, ErrTimedOut):
		return StatusTimedOut
	case errors.Is(err, ErrInvalidAddress):
		return StatusInvalidAddress
	default:
		return StatusFailed
	}
}

// JSON-RPC error codes returned by Solana nodes that indicate the node, not
// the transaction, is the problem.
const (
	rpcInternalError            = -32603
	rpcBlockNotAvailable        = -32004
	rpcNodeUnhealthy            = -32005
	rpcMinContextSlotNotReached = -32016

	// Rate limits: public endpoints echo the HTTP status, some providers use -32429.
	rpcTooManyRequests         = http.StatusTooManyRequests
	rpcProviderTooManyRequests = -32429
)

// classifyRPCError sorts an RPC failure into the taxonomy. Transport failures,
// HTTP-level errors, rate limits and node-side problems are transient; any
// other JSON-RPC error is a rejection of the request itself. Context
// cancellation is preserved for the caller.
func classifyRPCError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case rpcInternalError, rpcBlockNotAvailable, rpcNodeUnhealthy, rpcMinContextSlotNotReached,
			rpcTooManyRequests, rpcProviderTooManyRequests:
			return fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
		default:
			return &RejectedError{Reason: rpcErr.Message}
		}
	}

	// Transport errors and *jsonrpc.HTTPError (a 429, 5xx or gateway page
	// without a decodable JSON-RPC body) say nothing about the transaction.
	return fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
}

// isBlockhashNotFound reports whether a rejection was caused by a stale or
// unknown recent blockhash.
func isBlockhashNotFound(err error) bool {
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		return false
	}
	return strings.Contains(strings.ToLower(rejected.Reason), "blockhash not found")
}

func errEmptyResponse(method string) error {
	return fmt.Errorf("empty %s response", method)
}

// isAlreadyProcessed reports whether the network refused a resend because the
// identical transaction already landed.
func isAlreadyProcessed(err error) bool {
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		return false
	}
	return strings.Contains(strings.ToLower(rejected.Reason), "already been processed")
}
