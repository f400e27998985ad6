package nats

import (
	"time"

	"github.com/mvines/burri/service/solana"
)

// OutcomeEvent represents one self-transfer run published to NATS.
// This is published to the subject "selftx.{signer}" in JetStream.
type OutcomeEvent struct {
	// RunID identifies one run and is the JetStream message ID.
	RunID string `json:"run_id"`

	// Transaction identifiers
	Signature string `json:"signature,omitempty"`
	Slot      uint64 `json:"slot,omitempty"`

	// Account information
	Signer     string   `json:"signer"`
	References []string `json:"references"`
	Endpoint   string   `json:"endpoint"`

	// Run details
	Amount   uint64 `json:"amount"`
	Balance  uint64 `json:"balance"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Attempts int    `json:"attempts"`

	// Timing information
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// FromOutcome converts a run outcome to an OutcomeEvent for publishing.
// endpoint names the RPC endpoint the run used.
func FromOutcome(outcome *solana.Outcome, endpoint string) *OutcomeEvent {
	return &OutcomeEvent{
		RunID:       outcome.RunID,
		Signature:   outcome.Signature,
		Slot:        outcome.Slot,
		Signer:      outcome.Signer,
		References:  outcome.References,
		Endpoint:    endpoint,
		Amount:      outcome.Amount,
		Balance:     outcome.Balance,
		Status:      string(outcome.Status),
		Reason:      outcome.Reason,
		Attempts:    outcome.Attempts,
		StartedAt:   outcome.StartedAt,
		FinishedAt:  outcome.FinishedAt,
		PublishedAt: time.Now().UTC(),
	}
}
