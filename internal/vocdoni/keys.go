package vocdoni

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"
)

const (
	keySalt = "swarmbet-wallet-v1"
	keyInfo = "ethereum-key"
)

// DeriveVoterKey deterministically derives a voter's secp256k1 signing key from
// their World ID nullifier hash. The same nullifier always yields the same key.
func DeriveVoterKey(nullifierHash string) (*ecdsa.PrivateKey, error) {
	if nullifierHash == "" {
		return nil, fmt.Errorf("nullifier hash is empty")
	}

	reader := hkdf.New(sha256.New, []byte(nullifierHash), []byte(keySalt), []byte(keyInfo))
	seed := make([]byte, 32)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return nil, fmt.Errorf("derive key material: %w", err)
	}

	key, err := crypto.ToECDSA(seed)
	if err != nil {
		// Astronomically unlikely: seed is zero or >= curve order.
		return nil, fmt.Errorf("derived key is not a valid secp256k1 scalar: %w", err)
	}
	return key, nil
}

// VoterAddress returns the Ethereum address for a derived voter key.
func VoterAddress(nullifierHash string) (common.Address, error) {
	key, err := DeriveVoterKey(nullifierHash)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}
