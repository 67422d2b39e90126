// Package testutils has an in-memory mint database and helpers that
// play the wallet side of the protocol from inside mint tests.
package testutils

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/scripmint/scrip/crypto"
	"github.com/scripmint/scrip/ecash"
	"github.com/scripmint/scrip/mint/storage"
)

// MemoryMintDB implements storage.MintDB in memory. A transaction
// holds the database lock from Begin until Commit or Rollback, so
// transactions are fully serialized and writes stage against a
// private overlay until committed.
type MemoryMintDB struct {
	mu sync.Mutex

	keysets    map[string]storage.DBKeyset
	proofs     map[string]storage.DBProof
	mintQuotes map[string]storage.MintQuote
	meltQuotes map[string]storage.MeltQuote
}

func NewMemoryMintDB() *MemoryMintDB {
	return &MemoryMintDB{
		keysets:    make(map[string]storage.DBKeyset),
		proofs:     make(map[string]storage.DBProof),
		mintQuotes: make(map[string]storage.MintQuote),
		meltQuotes: make(map[string]storage.MeltQuote),
	}
}

func (db *MemoryMintDB) Close() error { return nil }

// ProofsUsedCount returns the committed size of the used-proofs
// ledger.
func (db *MemoryMintDB) ProofsUsedCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.proofs)
}

func (db *MemoryMintDB) SaveKeyset(keyset storage.DBKeyset) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.keysets[keyset.Id] = keyset
	return nil
}

func (db *MemoryMintDB) GetKeysets() ([]storage.DBKeyset, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	keysets := make([]storage.DBKeyset, 0, len(db.keysets))
	for _, keyset := range db.keysets {
		keysets = append(keysets, keyset)
	}
	return keysets, nil
}

func (db *MemoryMintDB) UpdateKeysetActive(keysetId string, active bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	keyset, ok := db.keysets[keysetId]
	if !ok {
		return storage.ErrNotFound
	}
	keyset.Active = active
	db.keysets[keysetId] = keyset
	return nil
}

func (db *MemoryMintDB) Begin(ctx context.Context) (storage.MintTx, error) {
	db.mu.Lock()
	return &memoryTx{
		db:               db,
		stagedProofs:     make(map[string]storage.DBProof),
		stagedMintQuotes: make(map[string]storage.MintQuote),
		stagedMeltQuotes: make(map[string]storage.MeltQuote),
	}, nil
}

type memoryTx struct {
	db   *MemoryMintDB
	done bool

	stagedProofs     map[string]storage.DBProof
	stagedMintQuotes map[string]storage.MintQuote
	stagedMeltQuotes map[string]storage.MeltQuote
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return nil
	}
	for y, proof := range tx.stagedProofs {
		tx.db.proofs[y] = proof
	}
	for id, quote := range tx.stagedMintQuotes {
		tx.db.mintQuotes[id] = quote
	}
	for id, quote := range tx.stagedMeltQuotes {
		tx.db.meltQuotes[id] = quote
	}
	tx.done = true
	tx.db.mu.Unlock()
	return nil
}

func (tx *memoryTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.db.mu.Unlock()
	return nil
}

func (tx *memoryTx) GetProofsUsed(ys []string) ([]storage.DBProof, error) {
	proofs := []storage.DBProof{}
	for _, y := range ys {
		if proof, ok := tx.stagedProofs[y]; ok {
			proofs = append(proofs, proof)
			continue
		}
		if proof, ok := tx.db.proofs[y]; ok {
			proofs = append(proofs, proof)
		}
	}
	return proofs, nil
}

func (tx *memoryTx) AddProofsUsed(proofs []storage.DBProof) error {
	for _, proof := range proofs {
		if _, ok := tx.db.proofs[proof.Y]; ok {
			return storage.ErrDuplicateProof
		}
		if _, ok := tx.stagedProofs[proof.Y]; ok {
			return storage.ErrDuplicateProof
		}
		tx.stagedProofs[proof.Y] = proof
	}
	return nil
}

func (tx *memoryTx) AddMintQuote(quote storage.MintQuote) error {
	if _, ok := tx.db.mintQuotes[quote.Id]; ok {
		return storage.ErrDuplicateQuote
	}
	tx.stagedMintQuotes[quote.Id] = quote
	return nil
}

func (tx *memoryTx) GetMintQuote(quoteId string) (storage.MintQuote, error) {
	if quote, ok := tx.stagedMintQuotes[quoteId]; ok {
		return quote, nil
	}
	if quote, ok := tx.db.mintQuotes[quoteId]; ok {
		return quote, nil
	}
	return storage.MintQuote{}, storage.ErrNotFound
}

func (tx *memoryTx) UpdateMintQuoteState(quoteId string, state string) error {
	quote, err := tx.GetMintQuote(quoteId)
	if err != nil {
		return err
	}
	quote.State = state
	tx.stagedMintQuotes[quoteId] = quote
	return nil
}

func (tx *memoryTx) AddMeltQuote(quote storage.MeltQuote) error {
	if _, ok := tx.db.meltQuotes[quote.Id]; ok {
		return storage.ErrDuplicateQuote
	}
	tx.stagedMeltQuotes[quote.Id] = quote
	return nil
}

func (tx *memoryTx) GetMeltQuote(quoteId string) (storage.MeltQuote, error) {
	if quote, ok := tx.stagedMeltQuotes[quoteId]; ok {
		return quote, nil
	}
	if quote, ok := tx.db.meltQuotes[quoteId]; ok {
		return quote, nil
	}
	return storage.MeltQuote{}, storage.ErrNotFound
}

func (tx *memoryTx) UpdateMeltQuote(quoteId string, txid string, state string) error {
	quote, err := tx.GetMeltQuote(quoteId)
	if err != nil {
		return err
	}
	quote.TxId = txid
	quote.State = state
	tx.stagedMeltQuotes[quoteId] = quote
	return nil
}

// BlindedOutputs is the wallet-side half of a signing round: the
// messages sent to the mint and the material needed to unblind what
// comes back.
type BlindedOutputs struct {
	Messages ecash.BlindedMessages
	Secrets  []string
	Rs       []*secp256k1.PrivateKey
}

// CreateBlindedOutputs blinds one random secret per split amount.
func CreateBlindedOutputs(amount uint64, keysetId string) (*BlindedOutputs, error) {
	split := ecash.AmountSplit(amount)

	outputs := &BlindedOutputs{
		Messages: make(ecash.BlindedMessages, len(split)),
		Secrets:  make([]string, len(split)),
		Rs:       make([]*secp256k1.PrivateKey, len(split)),
	}

	for i, amt := range split {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return nil, err
		}
		secret := hex.EncodeToString(secretBytes)

		r, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}

		B_, r := crypto.BlindMessage([]byte(secret), r.Serialize())
		outputs.Messages[i] = ecash.NewBlindedMessage(keysetId, amt, B_)
		outputs.Secrets[i] = secret
		outputs.Rs[i] = r
	}

	return outputs, nil
}

// ConstructProofs unblinds signatures into proofs using the keyset's
// public keys.
func ConstructProofs(signatures ecash.BlindedSignatures, outputs *BlindedOutputs,
	publicKeys map[uint64]*secp256k1.PublicKey) (ecash.Proofs, error) {

	if len(signatures) != len(outputs.Secrets) {
		return nil, fmt.Errorf("got %d signatures for %d outputs", len(signatures), len(outputs.Secrets))
	}

	proofs := make(ecash.Proofs, len(signatures))
	for i, signature := range signatures {
		C_bytes, err := hex.DecodeString(signature.C_)
		if err != nil {
			return nil, err
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			return nil, err
		}

		K, ok := publicKeys[signature.Amount]
		if !ok {
			return nil, fmt.Errorf("no key for amount %d", signature.Amount)
		}

		C := crypto.UnblindSignature(C_, outputs.Rs[i], K)
		proofs[i] = ecash.Proof{
			Amount: signature.Amount,
			Id:     signature.Id,
			Secret: outputs.Secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
	}

	return proofs, nil
}
