// Package storage defines the mint's persistence boundary. Every
// swap/mint/melt runs inside exactly one MintTx; nothing is visible
// to other requests until Commit.
package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicateProof is returned when a used proof is inserted
	// twice. Backends must enforce this with a uniqueness constraint
	// on Y so that concurrent check-then-insert cannot both commit.
	ErrDuplicateProof = errors.New("proof already in used ledger")
	ErrDuplicateQuote = errors.New("quote already exists")
)

type MintDB interface {
	Begin(ctx context.Context) (MintTx, error)

	SaveKeyset(DBKeyset) error
	GetKeysets() ([]DBKeyset, error)
	UpdateKeysetActive(keysetId string, active bool) error

	Close() error
}

// MintTx is a single database transaction. Rollback after Commit is a
// no-op, so callers can unconditionally defer it.
type MintTx interface {
	Commit() error
	Rollback() error

	// used-proofs ledger, append-only, keyed by Y = hashToCurve(secret)
	GetProofsUsed(ys []string) ([]DBProof, error)
	AddProofsUsed(proofs []DBProof) error

	AddMintQuote(MintQuote) error
	GetMintQuote(quoteId string) (MintQuote, error)
	UpdateMintQuoteState(quoteId string, state string) error

	AddMeltQuote(MeltQuote) error
	GetMeltQuote(quoteId string) (MeltQuote, error)
	UpdateMeltQuote(quoteId string, txid string, state string) error
}

type DBKeyset struct {
	Id             string
	Unit           string
	Active         bool
	DerivationPath string
}

type DBProof struct {
	Y      string
	Amount uint64
	Id     string
	Secret string
	C      string
}

type MintQuote struct {
	Id        string
	Amount    uint64
	Fee       uint64
	Unit      string
	Reference string
	State     string
	Expiry    uint64
}

type MeltQuote struct {
	Id          string
	Amount      uint64
	Fee         uint64
	Address     string
	Reference   string
	State       string
	Expiry      uint64
	TxId        string
	Description string
}
