package solana

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// LoadKeypair reads a keypair file in the solana-keygen JSON format.
func LoadKeypair(path string) (solana.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("keypair path is required")
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair %q: %w", path, err)
	}
	return key, nil
}
