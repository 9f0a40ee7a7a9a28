package sqlite

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, ":memory:", dsn(":memory:", nil), "no pragmas, no query string")

	s := dsn("/run/p4bridge/db/evaluator.db", [][2]string{{"foreign_keys", "1"}, {"journal_mode", "WAL"}})
	path, query, ok := strings.Cut(s, "?")
	assert.True(t, ok)
	assert.Equal(t, "/run/p4bridge/db/evaluator.db", path)
	params := strings.Split(query, "&")
	assert.Len(t, params, 2)
	assert.Contains(t, params[0], "foreign_keys")
	assert.Contains(t, params[1], "journal_mode")
	assert.Contains(t, params[1], "WAL")
}
