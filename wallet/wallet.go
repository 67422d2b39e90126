// Package wallet holds tokens issued by a mint and drives the
// mint/send/receive/melt flows against it.
package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/scripmint/scrip/crypto"
	"github.com/scripmint/scrip/ecash"
	"github.com/scripmint/scrip/wallet/storage"
)

var (
	ErrMintQuoteNotPaid    = errors.New("mint quote has not been paid")
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
)

type Config struct {
	WalletPath string
	MintURL    string
	// Unit the wallet operates in. Defaults to sat.
	Unit ecash.CurrencyUnit
}

type Wallet struct {
	db      storage.WalletDB
	mintURL string
	unit    ecash.CurrencyUnit

	masterKey *hdkeychain.ExtendedKey

	// all keysets of the mint, keyed by id
	keysets map[string]crypto.WalletKeyset
	// the mint's signing keyset in the wallet's unit
	activeKeyset crypto.WalletKeyset
}

func LoadWallet(config Config) (*Wallet, error) {
	db, err := storage.InitBolt(config.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("InitStorage: %v", err)
	}

	unit := config.Unit
	if unit == "" {
		unit = ecash.Sat
	}

	wallet := &Wallet{
		db:      db,
		mintURL: config.MintURL,
		unit:    unit,
		keysets: make(map[string]crypto.WalletKeyset),
	}

	mnemonic := db.GetMnemonic()
	if mnemonic == "" {
		mnemonic, err = crypto.NewMnemonic()
		if err != nil {
			return nil, err
		}
		if err := db.SaveMnemonic(mnemonic); err != nil {
			return nil, err
		}
	}
	wallet.masterKey, err = crypto.MasterKeyFromMnemonic(mnemonic)
	if err != nil {
		return nil, err
	}

	if err := wallet.mintKeysets(); err != nil {
		return nil, err
	}
	activeKeyset, err := wallet.activeKeysetForUnit()
	if err != nil {
		return nil, err
	}
	wallet.activeKeyset = *activeKeyset

	return wallet, nil
}

func (w *Wallet) Shutdown() error {
	return w.db.Close()
}

func (w *Wallet) MintURL() string {
	return w.mintURL
}

// Mnemonic returns the phrase the wallet's secrets derive from.
func (w *Wallet) Mnemonic() string {
	return w.db.GetMnemonic()
}

// Balance returns the total amount of proofs held.
func (w *Wallet) Balance() ecash.Amount {
	balance, _ := w.db.GetProofs().Amount()
	return balance
}

// RequestMint requests a quote to mint amount. The returned quote
// carries the settlement reference to pay.
func (w *Wallet) RequestMint(amount uint64) (*ecash.PostMintQuoteOnchainResponse, error) {
	return PostMintQuoteOnchain(w.mintURL, ecash.PostMintQuoteOnchainRequest{
		Amount: amount,
		Unit:   w.unit,
	})
}

// CheckQuotePaid reports whether the mint has seen the payment for a
// mint quote.
func (w *Wallet) CheckQuotePaid(quoteId string) (bool, error) {
	quoteState, err := GetMintQuoteState(w.mintURL, quoteId)
	if err != nil {
		return false, err
	}
	return quoteState.State == ecash.Paid || quoteState.State == ecash.Issued, nil
}

// MintTokens redeems a paid mint quote for proofs and stores them.
func (w *Wallet) MintTokens(quoteId string, amount uint64) (ecash.Amount, error) {
	blindedMessages, secrets, rs, err := w.createBlindedMessages(ecash.AmountSplit(amount), &w.activeKeyset)
	if err != nil {
		return 0, err
	}

	mintResponse, err := PostMintOnchain(w.mintURL, ecash.PostMintOnchainRequest{
		Quote:   quoteId,
		Outputs: blindedMessages,
	})
	if err != nil {
		var ecashErr ecash.Error
		if errors.As(err, &ecashErr) && ecashErr.Code == ecash.QuoteNotPaidErrCode {
			return 0, ErrMintQuoteNotPaid
		}
		return 0, err
	}

	proofs, err := w.constructProofs(mintResponse.Signatures, secrets, rs, &w.activeKeyset)
	if err != nil {
		return 0, fmt.Errorf("error constructing proofs: %v", err)
	}
	if err := w.db.SaveProofs(proofs); err != nil {
		return 0, fmt.Errorf("error storing proofs: %v", err)
	}

	return proofs.Amount()
}

// Send packages amount into a token. The wallet swaps its selected
// proofs for a fresh set split into the exact send amount plus change,
// keeps the change and returns the serialized token.
func (w *Wallet) Send(amount uint64) (string, error) {
	proofsToSend, changeProofs, err := w.swapToSend(amount)
	if err != nil {
		return "", err
	}

	if err := w.db.SaveProofs(changeProofs); err != nil {
		return "", fmt.Errorf("error storing change proofs: %v", err)
	}

	token, err := ecash.NewTokenV4(proofsToSend, w.mintURL, w.unit, true)
	if err != nil {
		return "", err
	}
	return token.Serialize()
}

// swapToSend turns stored proofs into one set worth exactly amount and
// one set holding the change. The whole keyset balance goes through
// the swap and comes back as fresh proofs; the consumed inputs are
// deleted from the wallet before the new ones are returned.
func (w *Wallet) swapToSend(amount uint64) (ecash.Proofs, ecash.Proofs, error) {
	selected := w.db.GetProofsByKeysetId(w.activeKeyset.Id)

	selectedAmount, err := selected.Amount()
	if err != nil {
		return nil, nil, err
	}
	if uint64(selectedAmount) < amount {
		return nil, nil, ErrInsufficientBalance
	}
	changeAmount := uint64(selectedAmount) - amount

	sendSplit := ecash.AmountSplit(amount)
	changeSplit := ecash.AmountSplit(changeAmount)

	blindedMessages, secrets, rs, err := w.createBlindedMessages(
		append(sendSplit, changeSplit...), &w.activeKeyset)
	if err != nil {
		return nil, nil, err
	}

	swapResponse, err := PostSwap(w.mintURL, ecash.PostSwapRequest{
		Inputs:  selected,
		Outputs: blindedMessages,
	})
	if err != nil {
		return nil, nil, err
	}

	proofs, err := w.constructProofs(swapResponse.Signatures, secrets, rs, &w.activeKeyset)
	if err != nil {
		return nil, nil, fmt.Errorf("error constructing proofs: %v", err)
	}

	proofsToSend := proofs[:len(sendSplit)]
	changeProofs := proofs[len(sendSplit):]

	sendAmount, err := proofsToSend.Amount()
	if err != nil {
		return nil, nil, err
	}
	if uint64(sendAmount) != amount {
		return nil, nil, fmt.Errorf("mint returned signatures totaling %d, expected %d", sendAmount, amount)
	}

	for _, proof := range selected {
		if err := w.db.DeleteProof(proof.Secret); err != nil {
			return nil, nil, err
		}
	}

	return proofsToSend, changeProofs, nil
}

// Receive takes a serialized token, swaps its proofs for fresh ones
// only this wallet can spend, and stores them.
func (w *Wallet) Receive(tokenstr string) (ecash.Amount, error) {
	token, err := ecash.DecodeToken(tokenstr)
	if err != nil {
		return 0, err
	}
	if token.Mint() != w.mintURL {
		return 0, fmt.Errorf("token is from a different mint: %v", token.Mint())
	}

	tokenProofs := token.Proofs()
	if err := w.verifyDLEQs(tokenProofs); err != nil {
		return 0, err
	}

	tokenAmount, err := tokenProofs.Amount()
	if err != nil {
		return 0, err
	}

	blindedMessages, secrets, rs, err := w.createBlindedMessages(
		ecash.AmountSplit(uint64(tokenAmount)), &w.activeKeyset)
	if err != nil {
		return 0, err
	}

	swapResponse, err := PostSwap(w.mintURL, ecash.PostSwapRequest{
		Inputs:  tokenProofs,
		Outputs: blindedMessages,
	})
	if err != nil {
		return 0, err
	}

	proofs, err := w.constructProofs(swapResponse.Signatures, secrets, rs, &w.activeKeyset)
	if err != nil {
		return 0, fmt.Errorf("error constructing proofs: %v", err)
	}
	if err := w.db.SaveProofs(proofs); err != nil {
		return 0, fmt.Errorf("error storing proofs: %v", err)
	}

	return proofs.Amount()
}

// Melt redeems amount of the wallet's balance for a payout to address.
// The mint deducts its quote fee from the payout, so the recipient
// receives amount minus the fee.
func (w *Wallet) Melt(amount uint64, address string) (*ecash.PostMeltOnchainResponse, error) {
	meltQuote, err := PostMeltQuoteOnchain(w.mintURL, ecash.PostMeltQuoteOnchainRequest{
		Amount:  amount,
		Address: address,
	})
	if err != nil {
		return nil, err
	}

	// swap first so the melt inputs are worth exactly the quoted
	// amount and no change is lost
	meltProofs, changeProofs, err := w.swapToSend(meltQuote.Amount)
	if err != nil {
		return nil, err
	}
	if err := w.db.SaveProofs(changeProofs); err != nil {
		return nil, fmt.Errorf("error storing change proofs: %v", err)
	}

	meltResponse, err := PostMeltOnchain(w.mintURL, ecash.PostMeltOnchainRequest{
		Quote:  meltQuote.Quote,
		Inputs: meltProofs,
	})
	if err != nil {
		// payout did not happen, the proofs are still spendable
		if saveErr := w.db.SaveProofs(meltProofs); saveErr != nil {
			return nil, saveErr
		}
		return nil, err
	}

	return meltResponse, nil
}

// CheckProofStates asks the mint which of the wallet's stored proofs
// it has already seen spent, and drops the spent ones.
func (w *Wallet) CheckProofStates() (ecash.Proofs, error) {
	proofs := w.db.GetProofs()
	if len(proofs) == 0 {
		return nil, nil
	}

	stateResponse, err := PostCheckProofState(w.mintURL, ecash.PostCheckStateRequest{Ys: proofs.Ys()})
	if err != nil {
		return nil, err
	}

	spent := ecash.Proofs{}
	for i, status := range stateResponse.States {
		if status.State == ecash.Spent && i < len(proofs) {
			spent = append(spent, proofs[i])
			if err := w.db.DeleteProof(proofs[i].Secret); err != nil {
				return nil, err
			}
		}
	}
	return spent, nil
}

// createBlindedMessages derives one secret and blinding factor per
// split amount from the wallet's seed and blinds them. The keyset
// counter is advanced durably before any message is built.
func (w *Wallet) createBlindedMessages(splitAmounts []uint64, keyset *crypto.WalletKeyset) (
	ecash.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {

	keysetPath, err := crypto.DeriveKeysetPath(w.masterKey, keyset.Id)
	if err != nil {
		return nil, nil, nil, err
	}

	count := uint32(len(splitAmounts))
	start, err := w.db.ReserveCounter(keyset.Id, count)
	if err != nil {
		return nil, nil, nil, err
	}

	derived, err := crypto.DeriveRange(keysetPath, start, count)
	if err != nil {
		return nil, nil, nil, err
	}

	blindedMessages := make(ecash.BlindedMessages, len(splitAmounts))
	secrets := make([]string, len(splitAmounts))
	rs := make([]*secp256k1.PrivateKey, len(splitAmounts))

	for i, amount := range splitAmounts {
		secret := derived[i].Secret
		B_, r := crypto.BlindMessage([]byte(secret), derived[i].BlindingFactor.Serialize())
		blindedMessages[i] = ecash.NewBlindedMessage(keyset.Id, amount, B_)
		secrets[i] = secret
		rs[i] = r
	}

	return blindedMessages, secrets, rs, nil
}

// constructProofs unblinds the mint's signatures into spendable
// proofs, checking each attached DLEQ proof against the mint's
// published key.
func (w *Wallet) constructProofs(signatures ecash.BlindedSignatures,
	secrets []string, rs []*secp256k1.PrivateKey, keyset *crypto.WalletKeyset) (ecash.Proofs, error) {

	if len(signatures) != len(secrets) || len(signatures) != len(rs) {
		return nil, errors.New("signature count does not match requested outputs")
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

		K, ok := keyset.PublicKeys[signature.Amount]
		if !ok {
			return nil, fmt.Errorf("mint has no key for amount %d", signature.Amount)
		}

		// the blinding factor is kept on the proof so whoever receives
		// it can verify the DLEQ themselves
		var dleq *ecash.DLEQProof
		if signature.DLEQ != nil {
			B_, _ := crypto.BlindMessage([]byte(secrets[i]), rs[i].Serialize())
			if !verifyDLEQProof(signature.DLEQ, K, B_, C_) {
				return nil, errors.New("mint returned an invalid DLEQ proof")
			}
			dleq = &ecash.DLEQProof{
				E: signature.DLEQ.E,
				S: signature.DLEQ.S,
				R: hex.EncodeToString(rs[i].Serialize()),
			}
		}

		C := crypto.UnblindSignature(C_, rs[i], K)

		proofs[i] = ecash.Proof{
			Amount: signature.Amount,
			Secret: secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
			Id:     signature.Id,
			DLEQ:   dleq,
		}
	}

	return proofs, nil
}

// verifyDLEQs checks the DLEQ proof on every received proof that
// carries one, using the blinding factor included in the token.
func (w *Wallet) verifyDLEQs(proofs ecash.Proofs) error {
	for _, proof := range proofs {
		if proof.DLEQ == nil || proof.DLEQ.R == "" {
			continue
		}

		keyset, ok := w.keysets[proof.Id]
		if !ok {
			return ecash.ErrKeysetNotFound
		}
		K, ok := keyset.PublicKeys[proof.Amount]
		if !ok {
			return fmt.Errorf("mint has no key for amount %d", proof.Amount)
		}

		rBytes, err := hex.DecodeString(proof.DLEQ.R)
		if err != nil {
			return err
		}
		r := secp256k1.PrivKeyFromBytes(rBytes)

		CBytes, err := hex.DecodeString(proof.C)
		if err != nil {
			return err
		}
		C, err := secp256k1.ParsePubKey(CBytes)
		if err != nil {
			return err
		}

		// reconstruct B_ and C_ from the revealed blinding factor
		B_, _ := crypto.BlindMessage([]byte(proof.Secret), r.Serialize())
		C_ := reblindSignature(C, r, K)

		if !verifyDLEQProof(proof.DLEQ, K, B_, C_) {
			return errors.New("token carries an invalid DLEQ proof")
		}
	}
	return nil
}

func verifyDLEQProof(dleq *ecash.DLEQProof, K, B_, C_ *secp256k1.PublicKey) bool {
	eBytes, err := hex.DecodeString(dleq.E)
	if err != nil {
		return false
	}
	sBytes, err := hex.DecodeString(dleq.S)
	if err != nil {
		return false
	}
	e := secp256k1.PrivKeyFromBytes(eBytes)
	s := secp256k1.PrivKeyFromBytes(sBytes)

	return crypto.VerifyDLEQ(e, s, K, B_, C_)
}

// reblindSignature computes C_ = C + rK, the inverse of unblinding.
func reblindSignature(C *secp256k1.PublicKey, r *secp256k1.PrivateKey,
	K *secp256k1.PublicKey) *secp256k1.PublicKey {

	var KPoint, rK secp256k1.JacobianPoint
	K.AsJacobian(&KPoint)
	secp256k1.ScalarMultNonConst(&r.Key, &KPoint, &rK)

	var CPoint, result secp256k1.JacobianPoint
	C.AsJacobian(&CPoint)
	secp256k1.AddNonConst(&CPoint, &rK, &result)
	result.ToAffine()

	return secp256k1.NewPublicKey(&result.X, &result.Y)
}
