// Copyright (c) 2023 BVK Chaitanya

package cmdutil

import (
	"context"
	"fmt"

	"github.com/kucing007/lelang-cli/auction"
	"github.com/kucing007/lelang-cli/credential"
)

// ClientFlags hold the flags needed to talk to the auction service with the
// stored credential.
type ClientFlags struct {
	DataFlags
	APIFlags
}

// NewClient opens the database and returns an auction client using the stored
// credential. Caller must invoke the closer when done.
func (f *ClientFlags) NewClient(ctx context.Context) (*auction.Client, *credential.Store, func(), error) {
	db, closeDB, err := f.OpenDatabase(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := f.CredentialStore(ctx, db)
	if err != nil {
		closeDB()
		return nil, nil, nil, err
	}
	client, err := auction.New(store, f.AuctionOptions())
	if err != nil {
		closeDB()
		return nil, nil, nil, fmt.Errorf("could not create auction client: %w", err)
	}
	closer := func() {
		client.Close()
		closeDB()
	}
	return client, store, closer, nil
}
