package adapter

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

// mysqlDataSource rewrites the URL-form DSN into the
// "user:pass@tcp(host:port)/db" form the mysql driver expects.
func mysqlDataSource(cfg Config) string {
	var b strings.Builder
	if cfg.Username != "" {
		b.WriteString(cfg.Username)
		if cfg.Password != "" {
			b.WriteString(":")
			b.WriteString(cfg.Password)
		}
		b.WriteString("@")
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	fmt.Fprintf(&b, "tcp(%s:%d)/%s", host, port, cfg.Database)
	if len(cfg.Options) > 0 {
		keys := make([]string, 0, len(cfg.Options))
		for k := range cfg.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sep := "?"
		for _, k := range keys {
			b.WriteString(sep)
			b.WriteString(url.QueryEscape(k))
			b.WriteString("=")
			b.WriteString(url.QueryEscape(cfg.Options[k]))
			sep = "&"
		}
	}
	return b.String()
}
