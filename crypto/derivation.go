package crypto

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"
)

// Wallet secrets and blinding factors are derived from a BIP-39 seed
// along m/129372'/0'/{keysetIdInt}'/{counter}'/{0|1}, so the entire
// proof history is reconstructable from the mnemonic plus the last
// used counter per keyset.

const (
	purposeSecret         = 0
	purposeBlindingFactor = 1
)

// DerivedSecret is one (secret, blinding factor) pair at a counter.
type DerivedSecret struct {
	Counter        uint32
	Secret         string
	BlindingFactor *secp256k1.PrivateKey
}

func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// MasterKeyFromMnemonic derives the BIP-32 master key from a mnemonic
// phrase with an empty passphrase.
func MasterKeyFromMnemonic(mnemonic string) (*hdkeychain.ExtendedKey, error) {
	if _, err := bip39.EntropyFromMnemonic(mnemonic); err != nil {
		return nil, err
	}
	seed := bip39.NewSeed(mnemonic, "")
	return hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
}

// DeriveKeysetPath derives m/129372'/0'/{keysetIdInt}' for a keyset.
func DeriveKeysetPath(master *hdkeychain.ExtendedKey, keysetId string) (*hdkeychain.ExtendedKey, error) {
	keysetIdInt, err := KeysetIdInt(keysetId)
	if err != nil {
		return nil, err
	}

	// m/129372'
	purpose, err := master.Derive(hdkeychain.HardenedKeyStart + 129372)
	if err != nil {
		return nil, err
	}

	// m/129372'/0'
	coinType, err := purpose.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, err
	}

	// m/129372'/0'/{keysetIdInt}'
	keysetPath, err := coinType.Derive(hdkeychain.HardenedKeyStart + keysetIdInt)
	if err != nil {
		return nil, err
	}

	return keysetPath, nil
}

func derivePrivateKey(keysetPath *hdkeychain.ExtendedKey, counter uint32, purpose uint32) (
	*secp256k1.PrivateKey, error) {

	// .../{counter}'
	counterPath, err := keysetPath.Derive(hdkeychain.HardenedKeyStart + counter)
	if err != nil {
		return nil, err
	}

	// .../{counter}'/{purpose}
	purposePath, err := counterPath.Derive(purpose)
	if err != nil {
		return nil, err
	}

	return purposePath.ECPrivKey()
}

// DeriveSecret derives the proof secret at the given counter, as a
// hex string.
func DeriveSecret(keysetPath *hdkeychain.ExtendedKey, counter uint32) (string, error) {
	key, err := derivePrivateKey(keysetPath, counter, purposeSecret)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key.Serialize()), nil
}

// DeriveBlindingFactor derives the blinding factor at the given
// counter.
func DeriveBlindingFactor(keysetPath *hdkeychain.ExtendedKey, counter uint32) (
	*secp256k1.PrivateKey, error) {
	return derivePrivateKey(keysetPath, counter, purposeBlindingFactor)
}

// DeriveRange derives length sequential (secret, blinding factor)
// pairs starting at start, gap-free. Callers must persist the last
// consumed counter before using the derived values.
func DeriveRange(keysetPath *hdkeychain.ExtendedKey, start, length uint32) ([]DerivedSecret, error) {
	derived := make([]DerivedSecret, length)
	for i := uint32(0); i < length; i++ {
		secret, err := DeriveSecret(keysetPath, start+i)
		if err != nil {
			return nil, err
		}
		blindingFactor, err := DeriveBlindingFactor(keysetPath, start+i)
		if err != nil {
			return nil, err
		}
		derived[i] = DerivedSecret{
			Counter:        start + i,
			Secret:         secret,
			BlindingFactor: blindingFactor,
		}
	}
	return derived, nil
}
