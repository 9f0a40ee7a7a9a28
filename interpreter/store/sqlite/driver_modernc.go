//go:build !cgo_sqlite

// By default the evaluator runs on the pure Go modernc.org/sqlite
// driver, so p4bridge builds without cgo. Pragmas are passed as
// _pragma=key(value) DSN parameters.

package sqlite

import (
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// dsn builds the connection string for path, encoding each pragma
// as _pragma=key(value).
func dsn(path string, pragmas [][2]string) string {
	params := make([]string, 0, len(pragmas))
	for _, p := range pragmas {
		params = append(params, "_pragma=" + p[0] + "(" + p[1] + ")")
	}
	return joinDSN(path, params)
}
