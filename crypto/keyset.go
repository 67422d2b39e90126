package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sort"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// MaxOrder is the number of denominations in a keyset: every power of
// two from 1 up to 2^(MaxOrder-1).
const MaxOrder = 64

var ErrInvalidKeysetId = errors.New("invalid keyset id")

type KeyPair struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
}

// Keyset holds one keypair per denomination. It is a pure function of
// the master key and derivation path: derived once at startup and
// never mutated, only superseded.
type Keyset struct {
	Id             string
	Unit           string
	Active         bool
	DerivationPath string
	Keys           map[uint64]KeyPair
}

// GenerateKeyset deterministically derives a keyset from the mint's
// master key and a derivation path. Same inputs always produce the
// same keys and the same id.
func GenerateKeyset(masterKey, derivationPath, unit string) *Keyset {
	keys := make(map[uint64]KeyPair, MaxOrder)

	pubkeys := make(map[uint64]*secp256k1.PublicKey, MaxOrder)
	for i := 0; i < MaxOrder; i++ {
		amount := uint64(1) << i
		hash := sha256.Sum256([]byte(masterKey + derivationPath + strconv.FormatUint(amount, 10)))
		privKey, pubKey := btcec.PrivKeyFromBytes(hash[:])
		keys[amount] = KeyPair{PrivateKey: privKey, PublicKey: pubKey}
		pubkeys[amount] = pubKey
	}

	return &Keyset{
		Id:             DeriveKeysetId(pubkeys),
		Unit:           unit,
		Active:         true,
		DerivationPath: derivationPath,
		Keys:           keys,
	}
}

// DeriveKeysetId computes the stable short identifier of a keyset:
// "00" followed by the first 14 hex chars of the sha256 of the
// public keys concatenated in ascending denomination order.
func DeriveKeysetId(keys map[uint64]*secp256k1.PublicKey) string {
	amounts := make([]uint64, 0, len(keys))
	for amount := range keys {
		amounts = append(amounts, amount)
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i] < amounts[j] })

	pubkeys := make([]byte, 0, len(keys)*33)
	for _, amount := range amounts {
		pubkeys = append(pubkeys, keys[amount].SerializeCompressed()...)
	}
	hash := sha256.Sum256(pubkeys)

	return "00" + hex.EncodeToString(hash[:])[:14]
}

// KeysetIdInt decodes the first 8 bytes of a keyset id as a
// big-endian integer reduced mod 2^31 - 1, for use in hardened
// derivation paths.
func KeysetIdInt(keysetId string) (uint32, error) {
	keysetBytes, err := hex.DecodeString(keysetId)
	if err != nil {
		return 0, ErrInvalidKeysetId
	}
	if len(keysetBytes) < 8 {
		return 0, ErrInvalidKeysetId
	}
	bigEndian := binary.BigEndian.Uint64(keysetBytes[:8])
	return uint32(bigEndian % (1<<31 - 1)), nil
}

// PublicKeys returns the denomination to compressed-hex public key
// map published to wallets.
func (ks *Keyset) PublicKeys() map[uint64]string {
	pubKeys := make(map[uint64]string, len(ks.Keys))
	for amount, key := range ks.Keys {
		pubKeys[amount] = hex.EncodeToString(key.PublicKey.SerializeCompressed())
	}
	return pubKeys
}

// MapPubKeys parses a published denomination to hex key map.
func MapPubKeys(keys map[uint64]string) (map[uint64]*secp256k1.PublicKey, error) {
	parsed := make(map[uint64]*secp256k1.PublicKey, len(keys))
	for amount, hexKey := range keys {
		keyBytes, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, err
		}
		pubkey, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return nil, err
		}
		parsed[amount] = pubkey
	}
	return parsed, nil
}

// WalletKeyset is the wallet's local mirror of a mint keyset: the
// public keys plus the counter guaranteeing secrets are never reused.
type WalletKeyset struct {
	Id      string
	MintURL string
	Unit    string
	Active  bool
	// Counter is the next unused derivation index for this keyset
	Counter    uint32
	PublicKeys map[uint64]*secp256k1.PublicKey
}
