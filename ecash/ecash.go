// Package ecash contains the core types of the blinded e-cash
// protocol shared by the mint and the wallet.
package ecash

import (
	"encoding/hex"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/scripmint/scrip/crypto"
)

// CurrencyUnit is the unit a keyset is denominated in. It serializes
// as a lowercase string on the wire.
type CurrencyUnit string

const (
	USD  CurrencyUnit = "usd"
	MUSD CurrencyUnit = "musd"
	Sat  CurrencyUnit = "sat"
)

func ParseCurrencyUnit(s string) (CurrencyUnit, error) {
	switch CurrencyUnit(s) {
	case USD, MUSD, Sat:
		return CurrencyUnit(s), nil
	}
	return "", ErrInvalidUnit
}

// QuoteState is the lifecycle state of a mint or melt quote.
// Serialized uppercase.
type QuoteState string

const (
	Unpaid  QuoteState = "UNPAID"
	Pending QuoteState = "PENDING"
	Paid    QuoteState = "PAID"
	Issued  QuoteState = "ISSUED"
)

// ProofState reports whether a proof has been consumed by the mint.
type ProofState string

const (
	Unspent      ProofState = "UNSPENT"
	ProofPending ProofState = "PENDING"
	Spent        ProofState = "SPENT"
)

var (
	ErrInvalidUnit = errors.New("invalid unit")
)

// BlindedMessage is a wallet's request for a signature on a hidden
// secret of the given denomination.
type BlindedMessage struct {
	Amount uint64 `json:"amount"`
	B_     string `json:"B_"`
	Id     string `json:"id"`
}

func NewBlindedMessage(id string, amount uint64, B_ *secp256k1.PublicKey) BlindedMessage {
	B_str := hex.EncodeToString(B_.SerializeCompressed())
	return BlindedMessage{Amount: amount, B_: B_str, Id: id}
}

type BlindedMessages []BlindedMessage

func (bm BlindedMessages) Amount() (Amount, error) {
	amounts := make([]uint64, len(bm))
	for i, msg := range bm {
		amounts[i] = msg.Amount
	}
	return sumAmounts(amounts)
}

// HasDuplicates reports whether two messages carry the same blinded
// point.
func (bm BlindedMessages) HasDuplicates() bool {
	seen := make(map[string]bool, len(bm))
	for _, msg := range bm {
		if seen[msg.B_] {
			return true
		}
		seen[msg.B_] = true
	}
	return false
}

// DLEQProof is a non-interactive proof that a blinded signature was
// produced with the private key matching the mint's published public
// key for that denomination.
type DLEQProof struct {
	E string `json:"e"`
	S string `json:"s"`
	R string `json:"r,omitempty"`
}

// BlindedSignature is the mint's signature on a BlindedMessage.
type BlindedSignature struct {
	Amount uint64 `json:"amount"`
	C_     string `json:"C_"`
	Id     string `json:"id"`
	// pointer so that omitempty works
	DLEQ *DLEQProof `json:"dleq,omitempty"`
}

type BlindedSignatures []BlindedSignature

func (bs BlindedSignatures) Amount() (Amount, error) {
	amounts := make([]uint64, len(bs))
	for i, sig := range bs {
		amounts[i] = sig.Amount
	}
	return sumAmounts(amounts)
}

// Proof is a single spendable token fragment. Two proofs are the same
// token iff their secrets match.
type Proof struct {
	Amount uint64 `json:"amount"`
	Id     string `json:"id"`
	Secret string `json:"secret"`
	C      string `json:"C"`
	// optional spending-condition script, opaque to the mint
	Script string `json:"script,omitempty"`
	// pointer so that omitempty works
	DLEQ *DLEQProof `json:"dleq,omitempty"`
}

// Y returns hashToCurve(secret) in compressed hex. It identifies the
// proof in the mint's used-proofs ledger.
func (p Proof) Y() string {
	Y := crypto.HashToCurve([]byte(p.Secret))
	return hex.EncodeToString(Y.SerializeCompressed())
}

type Proofs []Proof

// Amount returns the total amount of the proofs.
func (proofs Proofs) Amount() (Amount, error) {
	amounts := make([]uint64, len(proofs))
	for i, proof := range proofs {
		amounts[i] = proof.Amount
	}
	return sumAmounts(amounts)
}

// Ys returns hashToCurve(secret) for every proof, in order.
func (proofs Proofs) Ys() []string {
	ys := make([]string, len(proofs))
	for i, proof := range proofs {
		ys[i] = proof.Y()
	}
	return ys
}

func (proofs Proofs) FilterByKeyset(id string) Proofs {
	filtered := make(Proofs, 0, len(proofs))
	for _, proof := range proofs {
		if proof.Id == id {
			filtered = append(filtered, proof)
		}
	}
	return filtered
}

func CheckDuplicateProofs(proofs Proofs) bool {
	seen := make(map[string]bool, len(proofs))
	for _, proof := range proofs {
		if seen[proof.Secret] {
			return true
		}
		seen[proof.Secret] = true
	}
	return false
}

// ErrCode is a stable machine-readable error code returned to clients.
type ErrCode int

// Error represents an error to be returned by the mint.
type Error struct {
	Detail string  `json:"detail"`
	Code   ErrCode `json:"code"`
}

func BuildError(detail string, code ErrCode) *Error {
	return &Error{Detail: detail, Code: code}
}

func (e Error) Error() string {
	return e.Detail
}

const (
	StandardErrCode ErrCode = 10000
	// never returned in a response; identifies where an internal
	// error originated so the server can log appropriately
	DBErrCode         ErrCode = 1
	SettlementErrCode ErrCode = 2

	UnitErrCode              ErrCode = 11005
	InvalidAmountErrCode     ErrCode = 11006
	NotEnoughTokensErrCode   ErrCode = 11002
	ProofAlreadyUsedErrCode  ErrCode = 11001
	InvalidProofErrCode      ErrCode = 10003
	DuplicatePromisesErrCode ErrCode = 10002
	AmountMismatchErrCode    ErrCode = 11003

	KeysetNotFoundErrCode     ErrCode = 12001
	PrivateKeyNotFoundErrCode ErrCode = 12002

	InvalidQuoteErrCode       ErrCode = 20009
	QuoteNotPaidErrCode       ErrCode = 20001
	QuoteAlreadyIssuedErrCode ErrCode = 20002
	QuotePendingErrCode       ErrCode = 20005
)

var (
	StandardErr              = Error{Detail: "mint is currently unable to process request", Code: StandardErrCode}
	EmptyBodyErr             = Error{Detail: "request body cannot be empty", Code: StandardErrCode}
	UnitNotSupportedErr      = Error{Detail: "unit not supported", Code: UnitErrCode}
	ErrInvalidAmount         = Error{Detail: "invalid amount", Code: InvalidAmountErrCode}
	ErrNotEnoughTokens       = Error{Detail: "not enough tokens", Code: NotEnoughTokensErrCode}
	ErrProofAlreadyUsed      = Error{Detail: "proof already used", Code: ProofAlreadyUsedErrCode}
	ErrInvalidProof          = Error{Detail: "invalid proof", Code: InvalidProofErrCode}
	ErrDuplicateProofs       = Error{Detail: "duplicate proofs", Code: InvalidProofErrCode}
	ErrSwapDuplicatePromises = Error{Detail: "duplicate promises", Code: DuplicatePromisesErrCode}
	ErrSwapAmountMismatch    = Error{Detail: "swap amount mismatch", Code: AmountMismatchErrCode}
	ErrKeysetNotFound        = Error{Detail: "keyset not found", Code: KeysetNotFoundErrCode}
	ErrPrivateKeyNotFound    = Error{Detail: "private key in keyset not found", Code: PrivateKeyNotFoundErrCode}
	ErrInvalidQuote          = Error{Detail: "invalid quote", Code: InvalidQuoteErrCode}
	ErrQuoteNotPaid          = Error{Detail: "quote request has not been paid", Code: QuoteNotPaidErrCode}
	ErrQuoteAlreadyIssued    = Error{Detail: "quote already issued", Code: QuoteAlreadyIssuedErrCode}
	ErrQuotePending          = Error{Detail: "quote is pending", Code: QuotePendingErrCode}
)
