package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/me/strider/internal/store"
)

// openStore opens the trace database at path, creating its directory
// and schema when needed. An empty path uses the configured one.
func openStore(ctx context.Context, path string) (*store.SQLiteStore, error) {
	if path == "" {
		path = cfg.Store.DBPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
		}
	}
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Debug("database ready", "path", path)
	return st, nil
}
