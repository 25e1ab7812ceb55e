package adapter

import (
	"fmt"

	"github.com/blazeorm/blaze"
	"github.com/blazeorm/blaze/dialect"
)

// dataSourceFor translates a parsed Config into the driver-native data
// source string expected by database/sql.
func dataSourceFor(cfg Config) (string, error) {
	switch cfg.Driver {
	case dialect.SQLite:
		return sqliteDataSource(cfg), nil
	case dialect.Postgres:
		return postgresDataSource(cfg), nil
	case dialect.MySQL:
		return mysqlDataSource(cfg), nil
	}
	return "", blaze.NewConfigurationError(fmt.Sprintf("no data source builder for driver %q", cfg.Driver), nil)
}
