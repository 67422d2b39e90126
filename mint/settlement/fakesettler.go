package settlement

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
)

// FakeSettler is an in-memory settlement backend for development and
// tests. Incoming payments are confirmed after MarkPaid; payouts
// succeed immediately unless FailPayouts is set.
type FakeSettler struct {
	mu          sync.Mutex
	paid        map[string]uint64
	payouts     []Payout
	FailPayouts bool
}

type Payout struct {
	Address string
	Amount  uint64
	TxId    string
}

func NewFakeSettler() *FakeSettler {
	return &FakeSettler{paid: make(map[string]uint64)}
}

// MarkPaid records an incoming payment for reference.
func (fs *FakeSettler) MarkPaid(reference string, amount uint64) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.paid[reference] += amount
}

func (fs *FakeSettler) ConfirmIncomingPayment(ctx context.Context, reference string, amount uint64) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.paid[reference] >= amount, nil
}

func (fs *FakeSettler) ExecutePayout(ctx context.Context, address string, amount uint64) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.FailPayouts {
		return "", errors.New("payout backend unavailable")
	}

	var random [32]byte
	if _, err := rand.Read(random[:]); err != nil {
		return "", err
	}
	hash := sha256.Sum256(random[:])
	txid := hex.EncodeToString(hash[:])

	fs.payouts = append(fs.payouts, Payout{Address: address, Amount: amount, TxId: txid})
	return txid, nil
}

func (fs *FakeSettler) NewReference() (string, error) {
	var random [16]byte
	if _, err := rand.Read(random[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(random[:]), nil
}

func (fs *FakeSettler) PayoutAddress() string {
	return "fake-settler-address"
}

// Payouts returns the payouts executed so far.
func (fs *FakeSettler) Payouts() []Payout {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	payouts := make([]Payout, len(fs.payouts))
	copy(payouts, fs.payouts)
	return payouts
}
