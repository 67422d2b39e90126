package storage

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	bolt "go.etcd.io/bbolt"

	"github.com/scripmint/scrip/crypto"
	"github.com/scripmint/scrip/ecash"
)

const (
	keysetsBucket = "keysets"
	proofsBucket  = "proofs"
	seedBucket    = "seed"

	mnemonicKey = "mnemonic"
)

type BoltDB struct {
	bolt *bolt.DB
}

func InitBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(filepath.Join(path, "wallet.db"), 0600,
		&bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("error setting bolt db: %v", err)
	}

	boltdb := &BoltDB{bolt: db}
	if err = boltdb.initWalletBuckets(); err != nil {
		return nil, fmt.Errorf("error setting bolt db: %v", err)
	}

	return boltdb, nil
}

func (db *BoltDB) initWalletBuckets() error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{keysetsBucket, proofsBucket, seedBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) Close() error {
	return db.bolt.Close()
}

func (db *BoltDB) SaveMnemonic(mnemonic string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(seedBucket)).Put([]byte(mnemonicKey), []byte(mnemonic))
	})
}

func (db *BoltDB) GetMnemonic() string {
	var mnemonic string
	db.bolt.View(func(tx *bolt.Tx) error {
		mnemonic = string(tx.Bucket([]byte(seedBucket)).Get([]byte(mnemonicKey)))
		return nil
	})
	return mnemonic
}

func (db *BoltDB) SaveProofs(proofs ecash.Proofs) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))
		for _, proof := range proofs {
			jsonProof, err := json.Marshal(proof)
			if err != nil {
				return fmt.Errorf("invalid proof: %v", err)
			}
			if err := proofsb.Put([]byte(proof.Secret), jsonProof); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) GetProofs() ecash.Proofs {
	proofs := ecash.Proofs{}

	db.bolt.View(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))
		return proofsb.ForEach(func(k, v []byte) error {
			var proof ecash.Proof
			if err := json.Unmarshal(v, &proof); err != nil {
				return err
			}
			proofs = append(proofs, proof)
			return nil
		})
	})

	return proofs
}

func (db *BoltDB) GetProofsByKeysetId(id string) ecash.Proofs {
	return db.GetProofs().FilterByKeyset(id)
}

func (db *BoltDB) DeleteProof(secret string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(proofsBucket)).Delete([]byte(secret))
	})
}

// boltKeyset is the stored form of a WalletKeyset: public keys as
// compressed hex.
type boltKeyset struct {
	Id         string            `json:"id"`
	MintURL    string            `json:"mint_url"`
	Unit       string            `json:"unit"`
	Active     bool              `json:"active"`
	Counter    uint32            `json:"counter"`
	PublicKeys map[uint64]string `json:"public_keys"`
}

func toBoltKeyset(keyset *crypto.WalletKeyset) boltKeyset {
	publicKeys := make(map[uint64]string, len(keyset.PublicKeys))
	for amount, pubkey := range keyset.PublicKeys {
		publicKeys[amount] = hex.EncodeToString(pubkey.SerializeCompressed())
	}
	return boltKeyset{
		Id:         keyset.Id,
		MintURL:    keyset.MintURL,
		Unit:       keyset.Unit,
		Active:     keyset.Active,
		Counter:    keyset.Counter,
		PublicKeys: publicKeys,
	}
}

func (bk boltKeyset) toWalletKeyset() (*crypto.WalletKeyset, error) {
	publicKeys := make(map[uint64]*secp256k1.PublicKey, len(bk.PublicKeys))
	for amount, hexKey := range bk.PublicKeys {
		keyBytes, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, err
		}
		pubkey, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return nil, err
		}
		publicKeys[amount] = pubkey
	}
	return &crypto.WalletKeyset{
		Id:         bk.Id,
		MintURL:    bk.MintURL,
		Unit:       bk.Unit,
		Active:     bk.Active,
		Counter:    bk.Counter,
		PublicKeys: publicKeys,
	}, nil
}

func (db *BoltDB) SaveKeyset(keyset *crypto.WalletKeyset) error {
	jsonKeyset, err := json.Marshal(toBoltKeyset(keyset))
	if err != nil {
		return fmt.Errorf("invalid keyset: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(keysetsBucket)).Put([]byte(keyset.Id), jsonKeyset)
	})
}

func (db *BoltDB) GetKeysets() []crypto.WalletKeyset {
	keysets := []crypto.WalletKeyset{}

	db.bolt.View(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(keysetsBucket))
		return keysetsb.ForEach(func(k, v []byte) error {
			var stored boltKeyset
			if err := json.Unmarshal(v, &stored); err != nil {
				return err
			}
			keyset, err := stored.toWalletKeyset()
			if err != nil {
				return err
			}
			keysets = append(keysets, *keyset)
			return nil
		})
	})

	return keysets
}

func (db *BoltDB) GetKeyset(id string) *crypto.WalletKeyset {
	var keyset *crypto.WalletKeyset

	db.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(keysetsBucket)).Get([]byte(id))
		if v == nil {
			return nil
		}
		var stored boltKeyset
		if err := json.Unmarshal(v, &stored); err != nil {
			return err
		}
		parsed, err := stored.toWalletKeyset()
		if err != nil {
			return err
		}
		keyset = parsed
		return nil
	})

	return keyset
}

func (db *BoltDB) ReserveCounter(keysetId string, n uint32) (uint32, error) {
	var start uint32

	err := db.bolt.Update(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(keysetsBucket))
		v := keysetsb.Get([]byte(keysetId))
		if v == nil {
			return ErrKeysetNotFound
		}

		var stored boltKeyset
		if err := json.Unmarshal(v, &stored); err != nil {
			return err
		}

		start = stored.Counter
		stored.Counter += n

		jsonKeyset, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		return keysetsb.Put([]byte(keysetId), jsonKeyset)
	})
	if err != nil {
		return 0, err
	}

	return start, nil
}
