package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/apexbio/trials-cli/internal/store"
)

// openStore opens the document store at the configured path and runs
// migrations. Callers own the returned store and must Close it.
func openStore(ctx context.Context) (*store.SQLiteStore, error) {
	if cfg.Store.Path == "" {
		return nil, eris.New("store path is required (TRIALS_STORE_PATH)")
	}
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}
