package store

import "github.com/jmoiron/sqlx"

// sqlxIn expands a "... IN (?)" query against a slice argument, the way
// every multi-value lookup in this package needs to.
func sqlxIn(query string, args ...interface{}) (string, []interface{}, error) {
	return sqlx.In(query, args...)
}
