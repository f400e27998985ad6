package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// Draft is an unsigned self-transfer plus the inputs needed to rebuild it
// against a newer blockhash.
type Draft struct {
	Signer     solana.PublicKey
	Amount     uint64
	References []solana.PublicKey
	Blockhash  *Blockhash
	Tx         *solana.Transaction
}

// ParseReferences decodes base58 reference addresses and applies the
// reference policy. It never touches the network.
func ParseReferences(signer solana.PublicKey, addresses []string) ([]solana.PublicKey, error) {
	refs := make([]solana.PublicKey, 0, len(addresses))
	for _, addr := range addresses {
		pk, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, addr, err)
		}
		refs = append(refs, pk)
	}
	if err := ValidateReferences(signer, refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// ValidateReferences rejects duplicate references and references equal to the
// signer, rather than silently changing the transaction's account list.
func ValidateReferences(signer solana.PublicKey, refs []solana.PublicKey) error {
	seen := make(map[solana.PublicKey]struct{}, len(refs))
	for _, ref := range refs {
		if ref.Equals(signer) {
			return fmt.Errorf("%w: %s is the signer's own address", ErrInvalidAddress, ref)
		}
		if _, dup := seen[ref]; dup {
			return fmt.Errorf("%w: %s given more than once", ErrInvalidAddress, ref)
		}
		seen[ref] = struct{}{}
	}
	return nil
}

// NewSelfTransferInstruction builds a System Program transfer from signer to
// itself with every reference appended as a read-only, non-signing account.
// The program ignores the extra accounts; they only make the references show
// up in the transaction's account list.
func NewSelfTransferInstruction(signer solana.PublicKey, lamports uint64, refs []solana.PublicKey) (solana.Instruction, error) {
	transfer, err := system.NewTransferInstruction(lamports, signer, signer).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer instruction: %w", err)
	}
	data, err := transfer.Data()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfer instruction: %w", err)
	}

	accounts := make(solana.AccountMetaSlice, 0, 2+len(refs))
	accounts = append(accounts, transfer.Accounts()...)
	for _, ref := range refs {
		accounts = append(accounts, solana.NewAccountMeta(ref, false, false))
	}

	return solana.NewInstruction(solana.SystemProgramID, accounts, data), nil
}

// Builder assembles unsigned self-transfer transactions.
type Builder struct {
	client *Client
	logger *slog.Logger
}

// NewBuilder creates a Builder that fetches blockhashes through client.
func NewBuilder(client *Client, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{client: client, logger: logger}
}

// Build validates the references and assembles an unsigned transaction with a
// freshly fetched recent blockhash.
func (b *Builder) Build(ctx context.Context, signer solana.PublicKey, amount uint64, refs []solana.PublicKey) (*Draft, error) {
	if amount == 0 {
		return nil, fmt.Errorf("%w: refusing to build a zero-amount transfer", ErrInsufficientFunds)
	}
	if err := ValidateReferences(signer, refs); err != nil {
		return nil, err
	}

	draft := &Draft{
		Signer:     signer,
		Amount:     amount,
		References: refs,
	}
	if err := b.Refresh(ctx, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// Refresh replaces the draft's transaction with an unsigned copy built on a new
// blockhash. Any signatures on the previous transaction are discarded with it.
func (b *Builder) Refresh(ctx context.Context, draft *Draft) error {
	ix, err := NewSelfTransferInstruction(draft.Signer, draft.Amount, draft.References)
	if err != nil {
		return err
	}

	bh, err := b.client.LatestBlockhash(ctx)
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, ErrNetworkUnavailable) {
			err = fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
		}
		return fmt.Errorf("failed to fetch recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		bh.Hash,
		solana.TransactionPayer(draft.Signer),
	)
	if err != nil {
		return fmt.Errorf("failed to assemble transaction: %w", err)
	}

	draft.Blockhash = bh
	draft.Tx = tx

	b.logger.DebugContext(ctx, "built self-transfer",
		"signer", draft.Signer.String(),
		"amount", draft.Amount,
		"references", len(draft.References),
		"blockhash", bh.Hash.String(),
	)
	return nil
}
