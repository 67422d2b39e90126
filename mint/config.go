package mint

import (
	"errors"
	"time"

	"github.com/scripmint/scrip/ecash"
)

const (
	DefaultQuoteExpiry = 30 * time.Minute

	// quote fee in percent of the quoted amount
	FeePercent = 1
)

type KeysetConfig struct {
	Unit           ecash.CurrencyUnit
	DerivationPath string
}

type Config struct {
	// PrivateKey is the master key all keysets derive from
	PrivateKey string
	Keysets    []KeysetConfig

	MinMintAmount uint64
	MaxMintAmount uint64
	MinMeltAmount uint64
	MaxMeltAmount uint64

	QuoteExpiry time.Duration

	MintInfo MintInfo
}

type MintInfo struct {
	Name    string
	Version string
}

func (c *Config) validate() error {
	if c.PrivateKey == "" {
		return errors.New("mint private key cannot be empty")
	}
	if len(c.Keysets) == 0 {
		return errors.New("at least one keyset must be configured")
	}
	seen := make(map[ecash.CurrencyUnit]bool, len(c.Keysets))
	for _, keysetConfig := range c.Keysets {
		if keysetConfig.DerivationPath == "" {
			return errors.New("keyset derivation path cannot be empty")
		}
		if seen[keysetConfig.Unit] {
			return errors.New("duplicate keyset unit")
		}
		seen[keysetConfig.Unit] = true
	}
	if c.MaxMintAmount > 0 && c.MinMintAmount > c.MaxMintAmount {
		return errors.New("min mint amount cannot exceed max")
	}
	if c.MaxMeltAmount > 0 && c.MinMeltAmount > c.MaxMeltAmount {
		return errors.New("min melt amount cannot exceed max")
	}
	if c.QuoteExpiry == 0 {
		c.QuoteExpiry = DefaultQuoteExpiry
	}
	return nil
}

// QuoteFee returns the fee charged on a quote of the given amount,
// rounded down.
func QuoteFee(amount uint64) uint64 {
	return amount * FeePercent / 100
}
