package solana

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Status is the terminal state of one self-transfer run.
type Status string

const (
	StatusConfirmed          Status = "confirmed"
	StatusTimedOut           Status = "timed_out"
	StatusRejected           Status = "rejected"
	StatusInsufficientFunds  Status = "insufficient_funds"
	StatusNetworkUnavailable Status = "network_unavailable"
	StatusInvalidAddress     Status = "invalid_address"
	StatusFailed             Status = "failed"
)

// Blockhash is a recent blockhash plus what we need to judge its freshness.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
	FetchedAt            time.Time
}

// Outcome describes one run of the pipeline.
// This is our domain model, independent of the RPC response format.
type Outcome struct {
	RunID      string    `json:"run_id"`
	Signature  string    `json:"signature,omitempty"`
	Signer     string    `json:"signer"`
	Amount     uint64    `json:"amount"`
	Balance    uint64    `json:"balance"`
	References []string  `json:"references"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Attempts   int       `json:"attempts"`
	Slot       uint64    `json:"slot,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// FormatSOL renders lamports as a SOL amount with full precision.
func FormatSOL(lamports uint64) string {
	return fmt.Sprintf("%d.%09d SOL", lamports/LamportsPerSOL, lamports%LamportsPerSOL)
}
