//go:build cgo_sqlite

// Built with -tags cgo_sqlite, the evaluator runs on mattn/go-sqlite3
// and pragmas are passed as _key=value DSN parameters.

package sqlite

import (
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"

// dsn builds the connection string for path, encoding each pragma
// as _key=value.
func dsn(path string, pragmas [][2]string) string {
	params := make([]string, 0, len(pragmas))
	for _, p := range pragmas {
		params = append(params, "_" + p[0] + "=" + p[1])
	}
	return joinDSN(path, params)
}
