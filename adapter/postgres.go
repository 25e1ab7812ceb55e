package adapter

import (
	_ "github.com/lib/pq"
)

// postgresDataSource passes the URL-form DSN through unchanged; lib/pq
// accepts it natively.
func postgresDataSource(cfg Config) string {
	return cfg.DSN
}
