package mint

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"

	"github.com/scripmint/scrip/crypto"
	"github.com/scripmint/scrip/ecash"
	"github.com/scripmint/scrip/mint/settlement"
	"github.com/scripmint/scrip/mint/storage"
)

// Mint signs blinded messages with its keyset private keys and keeps
// the append-only ledger of spent proofs. All state transitions run
// inside a single storage transaction.
type Mint struct {
	db      storage.MintDB
	settler settlement.Settler
	config  Config
	logger  *slog.Logger

	// all keysets the mint has ever published, active and inactive
	keysets map[string]crypto.Keyset
	// the signing keyset per unit
	activeKeysets map[ecash.CurrencyUnit]crypto.Keyset
}

func New(config Config, db storage.MintDB, settler settlement.Settler, logger *slog.Logger) (*Mint, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	mint := &Mint{
		db:            db,
		settler:       settler,
		config:        config,
		logger:        logger,
		keysets:       make(map[string]crypto.Keyset),
		activeKeysets: make(map[ecash.CurrencyUnit]crypto.Keyset),
	}

	for _, keysetConfig := range config.Keysets {
		keyset := crypto.GenerateKeyset(config.PrivateKey, keysetConfig.DerivationPath, string(keysetConfig.Unit))
		mint.keysets[keyset.Id] = *keyset
		mint.activeKeysets[keysetConfig.Unit] = *keyset

		err := db.SaveKeyset(storage.DBKeyset{
			Id:             keyset.Id,
			Unit:           keyset.Unit,
			Active:         true,
			DerivationPath: keyset.DerivationPath,
		})
		if err != nil {
			return nil, fmt.Errorf("error saving keyset: %v", err)
		}
	}

	// previously published keysets stay loaded so old proofs remain
	// spendable, but only the configured ones keep signing
	storedKeysets, err := db.GetKeysets()
	if err != nil {
		return nil, fmt.Errorf("error reading keysets: %v", err)
	}
	for _, stored := range storedKeysets {
		if _, ok := mint.keysets[stored.Id]; ok {
			continue
		}
		keyset := crypto.GenerateKeyset(config.PrivateKey, stored.DerivationPath, stored.Unit)
		if keyset.Id != stored.Id {
			return nil, fmt.Errorf("stored keyset %v does not derive from master key", stored.Id)
		}
		keyset.Active = false
		mint.keysets[keyset.Id] = *keyset
		if stored.Active {
			if err := db.UpdateKeysetActive(stored.Id, false); err != nil {
				return nil, fmt.Errorf("error deactivating keyset: %v", err)
			}
			logger.Info("deactivated previous keyset", slog.String("keyset", stored.Id))
		}
	}

	return mint, nil
}

// Keysets returns every keyset the mint has published.
func (m *Mint) Keysets() []crypto.Keyset {
	keysets := make([]crypto.Keyset, 0, len(m.keysets))
	for _, keyset := range m.keysets {
		keysets = append(keysets, keyset)
	}
	return keysets
}

// Keyset returns the keyset with the given id.
func (m *Mint) Keyset(id string) (crypto.Keyset, bool) {
	keyset, ok := m.keysets[id]
	return keyset, ok
}

// ActiveKeyset returns the signing keyset for the unit.
func (m *Mint) ActiveKeyset(unit ecash.CurrencyUnit) (crypto.Keyset, bool) {
	keyset, ok := m.activeKeysets[unit]
	return keyset, ok
}

// RequestMintQuote creates a quote to mint tokens for amount. The
// returned quote carries the settlement reference the requester has to
// pay amount plus fee to before tokens can be issued.
func (m *Mint) RequestMintQuote(ctx context.Context, amount uint64, unit ecash.CurrencyUnit) (storage.MintQuote, error) {
	if _, ok := m.activeKeysets[unit]; !ok {
		return storage.MintQuote{}, ecash.UnitNotSupportedErr
	}
	if err := m.checkAmountLimits(amount, m.config.MinMintAmount, m.config.MaxMintAmount); err != nil {
		return storage.MintQuote{}, err
	}

	reference, err := m.settler.NewReference()
	if err != nil {
		m.logger.Error("error creating settlement reference", slog.String("error", err.Error()))
		return storage.MintQuote{}, ecash.StandardErr
	}

	mintQuote := storage.MintQuote{
		Id:        uuid.NewString(),
		Amount:    amount,
		Fee:       QuoteFee(amount),
		Unit:      string(unit),
		Reference: reference,
		State:     string(ecash.Unpaid),
		Expiry:    uint64(time.Now().Add(m.config.QuoteExpiry).Unix()),
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return storage.MintQuote{}, m.dbError(err)
	}
	defer tx.Rollback()

	if err := tx.AddMintQuote(mintQuote); err != nil {
		return storage.MintQuote{}, m.dbError(err)
	}
	if err := tx.Commit(); err != nil {
		return storage.MintQuote{}, m.dbError(err)
	}

	m.logger.Info("created mint quote",
		slog.String("quote", mintQuote.Id),
		slog.Uint64("amount", amount),
		slog.String("unit", string(unit)),
	)

	return mintQuote, nil
}

// GetMintQuote returns the current state of a mint quote. If the quote
// is unpaid it asks the settlement backend whether the payment has
// arrived and transitions the quote to paid, so polling this is how a
// quote becomes mintable.
func (m *Mint) GetMintQuote(ctx context.Context, quoteId string) (storage.MintQuote, error) {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return storage.MintQuote{}, m.dbError(err)
	}
	defer tx.Rollback()

	mintQuote, err := tx.GetMintQuote(quoteId)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.MintQuote{}, ecash.ErrInvalidQuote
		}
		return storage.MintQuote{}, m.dbError(err)
	}

	if mintQuote.State == string(ecash.Unpaid) && !quoteExpired(mintQuote.Expiry) {
		paid, err := m.settler.ConfirmIncomingPayment(ctx, mintQuote.Reference, mintQuote.Amount+mintQuote.Fee)
		if err != nil {
			m.logger.Error("error checking incoming payment", slog.String("error", err.Error()))
			return storage.MintQuote{}, ecash.StandardErr
		}
		if paid {
			mintQuote.State = string(ecash.Paid)
			if err := tx.UpdateMintQuoteState(mintQuote.Id, mintQuote.State); err != nil {
				return storage.MintQuote{}, m.dbError(err)
			}
			if err := tx.Commit(); err != nil {
				return storage.MintQuote{}, m.dbError(err)
			}
			m.logger.Info("mint quote paid", slog.String("quote", mintQuote.Id))
		}
	}

	return mintQuote, nil
}

// MintTokens signs the blinded messages if the quote was paid. The
// messages have to add up to exactly the quoted amount. A quote can
// only be issued once.
func (m *Mint) MintTokens(ctx context.Context, quoteId string, blindedMessages ecash.BlindedMessages) (ecash.BlindedSignatures, error) {
	if len(blindedMessages) == 0 {
		return nil, ecash.ErrInvalidAmount
	}
	if blindedMessages.HasDuplicates() {
		return nil, ecash.ErrSwapDuplicatePromises
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return nil, m.dbError(err)
	}
	defer tx.Rollback()

	mintQuote, err := tx.GetMintQuote(quoteId)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ecash.ErrInvalidQuote
		}
		return nil, m.dbError(err)
	}

	switch mintQuote.State {
	case string(ecash.Issued):
		return nil, ecash.ErrQuoteAlreadyIssued
	case string(ecash.Pending):
		return nil, ecash.ErrQuotePending
	case string(ecash.Unpaid):
		if quoteExpired(mintQuote.Expiry) {
			return nil, ecash.ErrInvalidQuote
		}
		paid, err := m.settler.ConfirmIncomingPayment(ctx, mintQuote.Reference, mintQuote.Amount+mintQuote.Fee)
		if err != nil {
			m.logger.Error("error checking incoming payment", slog.String("error", err.Error()))
			return nil, ecash.StandardErr
		}
		if !paid {
			return nil, ecash.ErrQuoteNotPaid
		}
	}

	messagesAmount, err := blindedMessages.Amount()
	if err != nil {
		return nil, ecash.ErrInvalidAmount
	}
	if uint64(messagesAmount) != mintQuote.Amount {
		return nil, ecash.ErrSwapAmountMismatch
	}

	// tokens have to be issued in the unit the quote was paid in
	for _, msg := range blindedMessages {
		keyset, ok := m.keysets[msg.Id]
		if !ok {
			return nil, ecash.ErrKeysetNotFound
		}
		if keyset.Unit != mintQuote.Unit {
			return nil, ecash.UnitNotSupportedErr
		}
	}

	blindedSignatures, err := m.signBlindedMessages(blindedMessages)
	if err != nil {
		return nil, err
	}

	if err := tx.UpdateMintQuoteState(mintQuote.Id, string(ecash.Issued)); err != nil {
		return nil, m.dbError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, m.dbError(err)
	}

	m.logger.Info("issued tokens for mint quote",
		slog.String("quote", mintQuote.Id),
		slog.Uint64("amount", mintQuote.Amount),
	)

	return blindedSignatures, nil
}

// Swap exchanges valid proofs for new blinded signatures of the same
// total amount. The input proofs are spent atomically with the
// signing: either the whole swap commits or none of it does.
func (m *Mint) Swap(ctx context.Context, proofs ecash.Proofs, blindedMessages ecash.BlindedMessages) (ecash.BlindedSignatures, error) {
	proofsAmount, err := proofs.Amount()
	if err != nil {
		return nil, ecash.ErrInvalidProof
	}
	messagesAmount, err := blindedMessages.Amount()
	if err != nil {
		return nil, ecash.ErrInvalidAmount
	}
	if proofsAmount != messagesAmount {
		return nil, ecash.ErrSwapAmountMismatch
	}
	if blindedMessages.HasDuplicates() {
		return nil, ecash.ErrSwapDuplicatePromises
	}

	if err := m.verifyProofs(proofs); err != nil {
		return nil, err
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return nil, m.dbError(err)
	}
	defer tx.Rollback()

	if err := m.checkProofsUnused(tx, proofs); err != nil {
		return nil, err
	}

	blindedSignatures, err := m.signBlindedMessages(blindedMessages)
	if err != nil {
		return nil, err
	}

	if err := m.invalidateProofs(tx, proofs); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, m.dbError(err)
	}

	m.logger.Info("swap completed", slog.Uint64("amount", uint64(proofsAmount)))

	return blindedSignatures, nil
}

// Exchange is a swap with an explicitly declared amount: the proofs
// and the blinded messages both have to add up to exactly amount.
func (m *Mint) Exchange(ctx context.Context, amount uint64, proofs ecash.Proofs, blindedMessages ecash.BlindedMessages) (ecash.BlindedSignatures, error) {
	proofsAmount, err := proofs.Amount()
	if err != nil {
		return nil, ecash.ErrInvalidProof
	}
	if uint64(proofsAmount) != amount {
		return nil, ecash.ErrSwapAmountMismatch
	}
	return m.Swap(ctx, proofs, blindedMessages)
}

// RequestMeltQuote creates a quote to redeem tokens for an outgoing
// payment to address.
func (m *Mint) RequestMeltQuote(ctx context.Context, amount uint64, address string) (storage.MeltQuote, error) {
	if address == "" {
		return storage.MeltQuote{}, ecash.BuildError("payout address cannot be empty", ecash.StandardErrCode)
	}
	if err := m.checkAmountLimits(amount, m.config.MinMeltAmount, m.config.MaxMeltAmount); err != nil {
		return storage.MeltQuote{}, err
	}

	meltQuote := storage.MeltQuote{
		Id:          uuid.NewString(),
		Amount:      amount,
		Fee:         QuoteFee(amount),
		Address:     address,
		State:       string(ecash.Unpaid),
		Expiry:      uint64(time.Now().Add(m.config.QuoteExpiry).Unix()),
		Description: fmt.Sprintf("payout of %d to %s", amount, address),
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return storage.MeltQuote{}, m.dbError(err)
	}
	defer tx.Rollback()

	if err := tx.AddMeltQuote(meltQuote); err != nil {
		return storage.MeltQuote{}, m.dbError(err)
	}
	if err := tx.Commit(); err != nil {
		return storage.MeltQuote{}, m.dbError(err)
	}

	m.logger.Info("created melt quote",
		slog.String("quote", meltQuote.Id),
		slog.Uint64("amount", amount),
	)

	return meltQuote, nil
}

// GetMeltQuote returns the current state of a melt quote.
func (m *Mint) GetMeltQuote(ctx context.Context, quoteId string) (storage.MeltQuote, error) {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return storage.MeltQuote{}, m.dbError(err)
	}
	defer tx.Rollback()

	meltQuote, err := tx.GetMeltQuote(quoteId)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.MeltQuote{}, ecash.ErrInvalidQuote
		}
		return storage.MeltQuote{}, m.dbError(err)
	}
	return meltQuote, nil
}

// MeltTokens redeems proofs against a melt quote and pays out through
// the settlement backend. Proofs are only spent if the payout
// succeeds: a failed payout rolls everything back and leaves the
// quote payable again.
func (m *Mint) MeltTokens(ctx context.Context, quoteId string, proofs ecash.Proofs) (storage.MeltQuote, error) {
	if err := m.verifyProofs(proofs); err != nil {
		return storage.MeltQuote{}, err
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return storage.MeltQuote{}, m.dbError(err)
	}
	defer tx.Rollback()

	meltQuote, err := tx.GetMeltQuote(quoteId)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.MeltQuote{}, ecash.ErrInvalidQuote
		}
		return storage.MeltQuote{}, m.dbError(err)
	}

	switch meltQuote.State {
	case string(ecash.Paid):
		return storage.MeltQuote{}, ecash.ErrQuoteAlreadyIssued
	case string(ecash.Pending):
		return storage.MeltQuote{}, ecash.ErrQuotePending
	}
	if quoteExpired(meltQuote.Expiry) {
		return storage.MeltQuote{}, ecash.ErrInvalidQuote
	}

	proofsAmount, err := proofs.Amount()
	if err != nil {
		return storage.MeltQuote{}, ecash.ErrInvalidProof
	}
	if uint64(proofsAmount) < meltQuote.Amount {
		return storage.MeltQuote{}, ecash.ErrNotEnoughTokens
	}

	if err := m.checkProofsUnused(tx, proofs); err != nil {
		return storage.MeltQuote{}, err
	}

	// the fee stays with the mint, the payout is net of it
	txid, err := m.settler.ExecutePayout(ctx, meltQuote.Address, meltQuote.Amount-meltQuote.Fee)
	if err != nil {
		m.logger.Error("payout failed",
			slog.String("quote", meltQuote.Id),
			slog.String("error", err.Error()),
		)
		return storage.MeltQuote{}, ecash.BuildError("payout failed", ecash.StandardErrCode)
	}

	meltQuote.State = string(ecash.Paid)
	meltQuote.TxId = txid

	if err := m.invalidateProofs(tx, proofs); err != nil {
		return storage.MeltQuote{}, err
	}
	if err := tx.UpdateMeltQuote(meltQuote.Id, txid, meltQuote.State); err != nil {
		return storage.MeltQuote{}, m.dbError(err)
	}
	if err := tx.Commit(); err != nil {
		return storage.MeltQuote{}, m.dbError(err)
	}

	m.logger.Info("melt quote paid",
		slog.String("quote", meltQuote.Id),
		slog.String("txid", txid),
	)

	return meltQuote, nil
}

// ProofStates reports for each Y whether its proof has been spent.
// PENDING is part of the wire enum but never reported here: proofs are
// only ledgered at commit, so the mint has no in-flight proof state to
// expose.
func (m *Mint) ProofStates(ctx context.Context, ys []string) ([]ecash.ProofStatus, error) {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return nil, m.dbError(err)
	}
	defer tx.Rollback()

	used, err := tx.GetProofsUsed(ys)
	if err != nil {
		return nil, m.dbError(err)
	}

	usedYs := make(map[string]bool, len(used))
	for _, proof := range used {
		usedYs[proof.Y] = true
	}

	states := make([]ecash.ProofStatus, len(ys))
	for i, y := range ys {
		state := ecash.Unspent
		if usedYs[y] {
			state = ecash.Spent
		}
		states[i] = ecash.ProofStatus{Y: y, State: state}
	}
	return states, nil
}

// PayoutAddress returns the settlement backend's receiving address,
// published in the mint info.
func (m *Mint) PayoutAddress() string {
	return m.settler.PayoutAddress()
}

func (m *Mint) checkAmountLimits(amount, min, max uint64) error {
	if amount == 0 {
		return ecash.ErrInvalidAmount
	}
	if amount < min {
		return ecash.BuildError(fmt.Sprintf("amount below minimum of %d", min), ecash.InvalidAmountErrCode)
	}
	if max > 0 && amount > max {
		return ecash.BuildError(fmt.Sprintf("amount above maximum of %d", max), ecash.InvalidAmountErrCode)
	}
	return nil
}

// verifyProofs checks every proof cryptographically: the keyset is
// known, and C is the keyset key's signature over the secret. An empty
// set verifies trivially; Swap turns it into an empty signature set
// and Melt rejects it against the quoted amount.
func (m *Mint) verifyProofs(proofs ecash.Proofs) error {
	if ecash.CheckDuplicateProofs(proofs) {
		return ecash.ErrDuplicateProofs
	}

	for _, proof := range proofs {
		keyset, ok := m.keysets[proof.Id]
		if !ok {
			return ecash.ErrKeysetNotFound
		}
		key, ok := keyset.Keys[proof.Amount]
		if !ok {
			return ecash.ErrInvalidProof
		}

		Cbytes, err := hex.DecodeString(proof.C)
		if err != nil {
			return ecash.ErrInvalidProof
		}
		C, err := secp256k1.ParsePubKey(Cbytes)
		if err != nil {
			return ecash.ErrInvalidProof
		}

		if !crypto.Verify([]byte(proof.Secret), key.PrivateKey, C) {
			return ecash.ErrInvalidProof
		}
	}
	return nil
}

// checkProofsUnused rejects proofs already in the used ledger. The
// ledger's uniqueness constraint backs this up at insert time, so a
// concurrent spend of the same proof cannot slip through.
func (m *Mint) checkProofsUnused(tx storage.MintTx, proofs ecash.Proofs) error {
	used, err := tx.GetProofsUsed(proofs.Ys())
	if err != nil {
		return m.dbError(err)
	}
	if len(used) > 0 {
		return ecash.ErrProofAlreadyUsed
	}
	return nil
}

func (m *Mint) invalidateProofs(tx storage.MintTx, proofs ecash.Proofs) error {
	dbProofs := make([]storage.DBProof, len(proofs))
	for i, proof := range proofs {
		dbProofs[i] = storage.DBProof{
			Y:      proof.Y(),
			Amount: proof.Amount,
			Id:     proof.Id,
			Secret: proof.Secret,
			C:      proof.C,
		}
	}
	if err := tx.AddProofsUsed(dbProofs); err != nil {
		if errors.Is(err, storage.ErrDuplicateProof) {
			return ecash.ErrProofAlreadyUsed
		}
		return m.dbError(err)
	}
	return nil
}

// signBlindedMessages signs each message with the active keyset key
// for its denomination and attaches a DLEQ proof.
func (m *Mint) signBlindedMessages(blindedMessages ecash.BlindedMessages) (ecash.BlindedSignatures, error) {
	blindedSignatures := make(ecash.BlindedSignatures, len(blindedMessages))

	for i, msg := range blindedMessages {
		keyset, ok := m.keysets[msg.Id]
		if !ok {
			return nil, ecash.ErrKeysetNotFound
		}
		if !keyset.Active {
			return nil, ecash.BuildError("keyset is not active", ecash.KeysetNotFoundErrCode)
		}
		key, ok := keyset.Keys[msg.Amount]
		if !ok {
			return nil, ecash.ErrInvalidAmount
		}

		B_bytes, err := hex.DecodeString(msg.B_)
		if err != nil {
			return nil, ecash.BuildError("invalid blinded message", ecash.StandardErrCode)
		}
		B_, err := secp256k1.ParsePubKey(B_bytes)
		if err != nil {
			return nil, ecash.BuildError("invalid blinded message", ecash.StandardErrCode)
		}

		C_ := crypto.SignBlindedMessage(B_, key.PrivateKey)

		e, s, err := crypto.GenerateDLEQ(key.PrivateKey, B_, C_)
		if err != nil {
			return nil, ecash.StandardErr
		}

		blindedSignatures[i] = ecash.BlindedSignature{
			Amount: msg.Amount,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
			Id:     keyset.Id,
			DLEQ: &ecash.DLEQProof{
				E: hex.EncodeToString(e.Serialize()),
				S: hex.EncodeToString(s.Serialize()),
			},
		}
	}

	return blindedSignatures, nil
}

func (m *Mint) dbError(err error) error {
	m.logger.Error("database error", slog.String("error", err.Error()))
	return ecash.StandardErr
}

func quoteExpired(expiry uint64) bool {
	return uint64(time.Now().Unix()) > expiry
}
