// Package storage persists the wallet's proofs, keysets and seed.
package storage

import (
	"errors"

	"github.com/scripmint/scrip/crypto"
	"github.com/scripmint/scrip/ecash"
)

var ErrKeysetNotFound = errors.New("keyset not found")

type WalletDB interface {
	SaveMnemonic(string) error
	GetMnemonic() string

	SaveProofs(ecash.Proofs) error
	GetProofs() ecash.Proofs
	GetProofsByKeysetId(string) ecash.Proofs
	DeleteProof(secret string) error

	SaveKeyset(*crypto.WalletKeyset) error
	GetKeysets() []crypto.WalletKeyset
	GetKeyset(id string) *crypto.WalletKeyset

	// ReserveCounter advances the keyset's derivation counter by n and
	// returns the first reserved index. The advance is durable before
	// any derived secret leaves the wallet, so a crash can never cause
	// a secret to be derived twice.
	ReserveCounter(keysetId string, n uint32) (uint32, error)

	Close() error
}
