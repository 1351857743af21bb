package escrow

import (
	"fmt"
	"strconv"
)

var (
	listingPrefix = []byte("escrow/listing/")
	listedIndex   = []byte("escrow/listed")
)

func listingKey(assetID uint64) []byte {
	return append(append([]byte(nil), listingPrefix...), []byte(strconv.FormatUint(assetID, 10))...)
}

func assetIDBytes(assetID uint64) []byte {
	return []byte(strconv.FormatUint(assetID, 10))
}

// loadListing returns the stored listing or an unlisted placeholder.
func (e *Engine) loadListing(assetID uint64) (*Listing, error) {
	var listing Listing
	ok, err := e.state.KVGet(listingKey(assetID), &listing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Listing{AssetID: assetID, State: ListingUnlisted}, nil
	}
	if !listing.State.Valid() {
		return nil, fmt.Errorf("%w: asset %d has unknown listing state %d", errCorruptListing, assetID, uint8(listing.State))
	}
	return listing.Clone(), nil
}

func (e *Engine) storeListing(listing *Listing) error {
	stored := listing.Clone()
	if err := e.state.KVPut(listingKey(stored.AssetID), stored); err != nil {
		return err
	}
	return e.state.KVAppend(listedIndex, assetIDBytes(stored.AssetID))
}

// activeListing loads the listing and fails unless it is Active.
func (e *Engine) activeListing(assetID uint64) (*Listing, error) {
	listing, err := e.loadListing(assetID)
	if err != nil {
		return nil, err
	}
	if !listing.Active() {
		return nil, ErrInvalidState
	}
	return listing, nil
}

func (e *Engine) listedAssets() ([]uint64, error) {
	var raw [][]byte
	if err := e.state.KVGetList(listedIndex, &raw); err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(raw))
	for _, entry := range raw {
		id, err := strconv.ParseUint(string(entry), 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
