package storage

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"nftmarketd/native/settlement"
)

var prefixAsset = []byte("asset/")

// AssetBook is a persistent asset ownership registry. It satisfies the
// settlement engine's AssetRegistry collaborator.
type AssetBook struct {
	mu sync.Mutex
	db Database
}

// NewAssetBook binds the registry to a database.
func NewAssetBook(db Database) *AssetBook {
	return &AssetBook{db: db}
}

func assetKey(asset settlement.AssetRef) []byte {
	key := make([]byte, 0, len(prefixAsset)+40+1+8)
	key = append(key, prefixAsset...)
	key = append(key, hex.EncodeToString(asset.Contract[:])...)
	key = append(key, '/')
	var tokenID [8]byte
	binary.BigEndian.PutUint64(tokenID[:], asset.TokenID)
	key = append(key, tokenID[:]...)
	return key
}

// Mint registers a new asset under an owner. Minting over an existing asset
// is rejected.
func (b *AssetBook) Mint(owner [20]byte, asset settlement.AssetRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ok, err := b.db.Has(assetKey(asset)); err != nil {
		return err
	} else if ok {
		return errors.New("assets: already minted")
	}
	data, err := marshalRecord(owner)
	if err != nil {
		return err
	}
	return b.db.Put(assetKey(asset), data)
}

// Owner returns the current owner of an asset.
func (b *AssetBook) Owner(asset settlement.AssetRef) ([20]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.owner(asset)
}

func (b *AssetBook) owner(asset settlement.AssetRef) ([20]byte, error) {
	data, err := b.db.Get(assetKey(asset))
	if errors.Is(err, ErrKeyNotFound) {
		return [20]byte{}, errors.New("assets: unknown asset")
	}
	if err != nil {
		return [20]byte{}, err
	}
	var owner [20]byte
	if err := unmarshalRecord(data, &owner); err != nil {
		return [20]byte{}, err
	}
	return owner, nil
}

// Transfer moves an asset between owners. The sender must currently own it.
func (b *AssetBook) Transfer(from, to [20]byte, asset settlement.AssetRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	owner, err := b.owner(asset)
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("assets: %x does not own token %d", from, asset.TokenID)
	}
	data, err := marshalRecord(to)
	if err != nil {
		return err
	}
	return b.db.Put(assetKey(asset), data)
}
