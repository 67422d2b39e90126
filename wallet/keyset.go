package wallet

import (
	"fmt"

	"github.com/scripmint/scrip/crypto"
	"github.com/scripmint/scrip/ecash"
)

// mintKeysets fetches every keyset the mint has published and merges
// it with what the wallet already has stored. Stored keysets keep
// their derivation counter; new ones start at zero.
func (w *Wallet) mintKeysets() error {
	keysetsResponse, err := GetAllKeysets(w.mintURL)
	if err != nil {
		return fmt.Errorf("error getting keysets from mint: %v", err)
	}

	for _, keysetRes := range keysetsResponse.Keysets {
		stored := w.db.GetKeyset(keysetRes.Id)
		if stored != nil {
			if stored.Active != keysetRes.Active {
				stored.Active = keysetRes.Active
				if err := w.db.SaveKeyset(stored); err != nil {
					return err
				}
			}
			w.keysets[stored.Id] = *stored
			continue
		}

		keyset, err := w.fetchKeyset(keysetRes.Id)
		if err != nil {
			return err
		}
		keyset.Active = keysetRes.Active
		if err := w.db.SaveKeyset(keyset); err != nil {
			return err
		}
		w.keysets[keyset.Id] = *keyset
	}

	return nil
}

// fetchKeyset retrieves a keyset's public keys and verifies the
// advertised id actually derives from them.
func (w *Wallet) fetchKeyset(id string) (*crypto.WalletKeyset, error) {
	keysResponse, err := GetKeysetById(w.mintURL, id)
	if err != nil {
		return nil, fmt.Errorf("error getting keyset from mint: %v", err)
	}
	if len(keysResponse.Keysets) == 0 {
		return nil, ecash.ErrKeysetNotFound
	}
	keyResponse := keysResponse.Keysets[0]

	publicKeys, err := crypto.MapPubKeys(keyResponse.Keys)
	if err != nil {
		return nil, fmt.Errorf("invalid keyset keys: %v", err)
	}
	if crypto.DeriveKeysetId(publicKeys) != keyResponse.Id {
		return nil, fmt.Errorf("keyset id %v does not match its keys", keyResponse.Id)
	}

	return &crypto.WalletKeyset{
		Id:         keyResponse.Id,
		MintURL:    w.mintURL,
		Unit:       string(keyResponse.Unit),
		PublicKeys: publicKeys,
	}, nil
}

// activeKeysetForUnit picks the mint's signing keyset in the wallet's
// unit.
func (w *Wallet) activeKeysetForUnit() (*crypto.WalletKeyset, error) {
	for _, keyset := range w.keysets {
		if keyset.Active && keyset.Unit == string(w.unit) {
			k := keyset
			return &k, nil
		}
	}
	return nil, fmt.Errorf("mint has no active keyset for unit %v", w.unit)
}
