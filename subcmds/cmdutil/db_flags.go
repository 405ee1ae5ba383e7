// Copyright (c) 2023 BVK Chaitanya

package cmdutil

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bvkgo/kv"
	"github.com/bvkgo/kvbadger"
	"github.com/dgraph-io/badger/v4"
	"github.com/kucing007/lelang-cli/credential"
	"github.com/kucing007/lelang-cli/kvutil"
)

// DataFlags locate the data directory with the credential database, log files
// and the instance lock file.
type DataFlags struct {
	dataDir string

	credentialName string
}

func (f *DataFlags) SetFlags(fset *flag.FlagSet) {
	fset.StringVar(&f.dataDir, "data-dir", "", "path to the data directory (default $HOME/.lelang)")
	fset.StringVar(&f.credentialName, "credential", "default", "name of the stored credential")
}

// DataDir returns the absolute path to the data directory, creating it when
// necessary.
func (f *DataFlags) DataDir() (string, error) {
	dir := f.dataDir
	if len(dir) == 0 {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".lelang")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("could not create data directory %q: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("could not determine data-dir %q absolute path: %w", dir, err)
	}
	return abs, nil
}

// OpenDatabase opens the badger database in the data directory. Caller must
// invoke the closer when done.
func (f *DataFlags) OpenDatabase(ctx context.Context) (kv.Database, func(), error) {
	dataDir, err := f.DataDir()
	if err != nil {
		return nil, nil, err
	}
	bopts := badger.DefaultOptions(filepath.Join(dataDir, "db"))
	bopts.Logger = nil
	bdb, err := badger.Open(bopts)
	if err != nil {
		return nil, nil, fmt.Errorf("could not open the database (is another instance running?): %w", err)
	}
	db := kvbadger.New(bdb, kvutil.IsGoodKey)
	return db, func() { bdb.Close() }, nil
}

// CredentialStore loads the named credential from the database.
func (f *DataFlags) CredentialStore(ctx context.Context, db kv.Database) (*credential.Store, error) {
	return credential.NewStore(ctx, db, f.credentialName)
}
