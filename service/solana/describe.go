package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// AccountRole is one entry of a message's account list with the flags the
// message header assigns to it.
type AccountRole struct {
	Address  solana.PublicKey
	Signer   bool
	Writable bool
}

// TransferSummary is a decoded view of a self-transfer transaction.
type TransferSummary struct {
	Source          solana.PublicKey
	Destination     solana.PublicKey
	Lamports        uint64
	References      []solana.PublicKey
	Accounts        []AccountRole
	RecentBlockhash solana.Hash
	Instructions    int
}

// Role returns the account list entry for addr.
func (s *TransferSummary) Role(addr solana.PublicKey) (AccountRole, bool) {
	for _, acct := range s.Accounts {
		if acct.Address.Equals(addr) {
			return acct, true
		}
	}
	return AccountRole{}, false
}

// DescribeTransaction decodes the System Program transfer in tx along with
// any extra accounts appended to it.
func DescribeTransaction(tx *solana.Transaction) (*TransferSummary, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction")
	}
	msg := tx.Message
	keys := msg.AccountKeys

	summary := &TransferSummary{
		Accounts:        accountRoles(msg),
		RecentBlockhash: msg.RecentBlockhash,
		Instructions:    len(msg.Instructions),
	}

	for _, instruction := range msg.Instructions {
		if int(instruction.ProgramIDIndex) >= len(keys) {
			return nil, fmt.Errorf("program id index %d out of bounds", instruction.ProgramIDIndex)
		}
		if !keys[instruction.ProgramIDIndex].Equals(solana.SystemProgramID) {
			continue
		}

		lamports, err := parseSystemTransfer(instruction)
		if err != nil {
			continue
		}

		// System Transfer accounts: [from, to, extra...]
		if len(instruction.Accounts) < 2 {
			return nil, fmt.Errorf("transfer instruction has %d accounts, want at least 2", len(instruction.Accounts))
		}
		accounts := make([]solana.PublicKey, 0, len(instruction.Accounts))
		for _, idx := range instruction.Accounts {
			if int(idx) >= len(keys) {
				return nil, fmt.Errorf("account index %d out of bounds", idx)
			}
			accounts = append(accounts, keys[idx])
		}

		summary.Lamports = lamports
		summary.Source = accounts[0]
		summary.Destination = accounts[1]
		summary.References = accounts[2:]
		return summary, nil
	}

	return nil, fmt.Errorf("no system transfer instruction found")
}

// parseSystemTransfer extracts the lamports from a System Program Transfer instruction.
func parseSystemTransfer(instruction solana.CompiledInstruction) (uint64, error) {
	// System Transfer instruction format:
	// [0..4]  = instruction type (u32, should be 2 for Transfer)
	// [4..12] = lamports (u64)
	if len(instruction.Data) < 12 {
		return 0, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}

	instructionType := binary.LittleEndian.Uint32(instruction.Data[0:4])
	if instructionType != SystemProgramTransferInstruction {
		return 0, fmt.Errorf("not a transfer instruction: type %d", instructionType)
	}

	return binary.LittleEndian.Uint64(instruction.Data[4:12]), nil
}

// accountRoles derives signer and writable flags from the message header.
// Keys are ordered: writable signers, read-only signers, writable non-signers,
// read-only non-signers.
func accountRoles(msg solana.Message) []AccountRole {
	n := len(msg.AccountKeys)
	signers := int(msg.Header.NumRequiredSignatures)
	readonlySigned := int(msg.Header.NumReadonlySignedAccounts)
	readonlyUnsigned := int(msg.Header.NumReadonlyUnsignedAccounts)

	roles := make([]AccountRole, 0, n)
	for i, key := range msg.AccountKeys {
		role := AccountRole{Address: key}
		if i < signers {
			role.Signer = true
			role.Writable = i < signers-readonlySigned
		} else {
			role.Writable = i < n-readonlyUnsigned
		}
		roles = append(roles, role)
	}
	return roles
}
