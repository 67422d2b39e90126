// Package settlement abstracts the external payment rail the mint
// settles against. The mint never assumes a specific chain: it only
// asks whether an incoming payment for a reference has been confirmed
// and requests outgoing payouts.
package settlement

import "context"

type Settler interface {
	// ConfirmIncomingPayment reports whether a payment of at least
	// amount tagged with reference has been confirmed. Re-checking is
	// always safe.
	ConfirmIncomingPayment(ctx context.Context, reference string, amount uint64) (bool, error)

	// ExecutePayout sends amount to address and returns the external
	// transaction id.
	ExecutePayout(ctx context.Context, address string, amount uint64) (string, error)

	// NewReference returns a fresh identifier a payer attaches to an
	// incoming payment so it can be matched to a quote.
	NewReference() (string, error)

	// PayoutAddress is the address wallets pay incoming amounts to.
	PayoutAddress() string
}
