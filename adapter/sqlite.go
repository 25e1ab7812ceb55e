package adapter

import (
	_ "modernc.org/sqlite"
)

// sqliteDataSource extracts the file path from a sqlite DSN. An empty
// path means an in-memory database.
func sqliteDataSource(cfg Config) string {
	if cfg.Database == "" {
		return ":memory:"
	}
	return cfg.Database
}
