// Package sqlite provides a SQLite implementation of the evaluator
// program.
//
// # Program Model
//
// A program is SQL DDL. Every table it creates is a base relation the
// bridge may insert into and delete from; every view is a derived
// relation. Views named as outputs are the relations whose changes are
// reported by Commit, typically the Flow view whose single "flow"
// column holds an ovs-ofctl flow description.
//
// # Deltas
//
// Each output view is materialised into a shadow table when the
// program is loaded. Commit computes
//
//	removed = shadow EXCEPT view   (weight -1)
//	added   = view EXCEPT shadow   (weight +1)
//
// applies both to the shadow inside the same transaction and then
// commits. Removed rows are reported before added rows so that a
// changed flow is deleted before its replacement is added. Because
// EXCEPT has set semantics, a row is reported at most once per
// commit, so every weight is exactly +1 or -1.
//
// # Calling Conventions
//
// Relations are addressed by RelationID, resolved once by name.
// Records carry int64, string or []byte values keyed by column name;
// Insert uses INSERT OR IGNORE and DeleteValue matches every column
// present in the record with IS, so NULL compares equal to NULL.
//
// # Concurrency Model
//
// The manager serialises all access: at most one transaction is open
// and DumpIndex is never called while one is. The database is held to
// a single connection, which is also what keeps an in-memory database
// alive across calls.
//
// # Statements
//
// Statement text depends on the columns a record carries, so
// statements are built per call and executed on the transaction.
// Preparing them against the *sql.DB is not an option: with a single
// connection, the open transaction already holds it.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/frobware/go-p4bridge"
	"github.com/frobware/go-p4bridge/interpreter"
)

// DefaultProgram models multicast group membership and derives one
// replication flow per group.
//
//go:embed program.sql
var DefaultProgram string

// DefaultOutput is the output view of DefaultProgram.
const DefaultOutput = "Flow"

const shadowPrefix = "_shadow_"

// msec formats a duration as milliseconds with 3 decimal places.
func msec(d time.Duration) string {
	return fmt.Sprintf("%.3f", float64(d.Microseconds())/1000)
}

// dbConn abstracts *sql.DB and *sql.Tx for query execution.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type relation struct {
	name    string
	view    bool
	columns []string
}

func (r *relation) hasColumn(c string) bool {
	for _, col := range r.columns {
		if col == c {
			return true
		}
	}
	return false
}

// Options configures a program.
type Options struct {
	// Path is the database file, or ":memory:". An existing file
	// is removed: the evaluator always starts empty.
	Path string

	// Program is the SQL DDL to load. Empty selects DefaultProgram.
	Program string

	// Outputs lists the views whose changes Commit reports. Empty
	// selects DefaultOutput.
	Outputs []string
}

// sqliteProgram implements interpreter.Program using SQLite.
type sqliteProgram struct {
	db     *sql.DB
	logger *slog.Logger

	relations []*relation
	byName    map[string]p4bridge.RelationID
	outputs   []p4bridge.RelationID
}

// New loads a program into a fresh database.
func New(ctx context.Context, opts Options, logger *slog.Logger) (interpreter.Program, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Path == "" {
		opts.Path = ":memory:"
	}
	if opts.Program == "" {
		opts.Program = DefaultProgram
	}
	if len(opts.Outputs) == 0 {
		opts.Outputs = []string{DefaultOutput}
	}
	logger = logger.With("component", "evaluator", "db", opts.Path)

	pragmas := [][2]string{{"foreign_keys", "1"}}
	if opts.Path != ":memory:" {
		if err := removeDatabase(opts.Path); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		pragmas = append(pragmas, [2]string{"journal_mode", "WAL"})
	}

	db, err := sql.Open(driverName, dsn(opts.Path, pragmas))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	p := &sqliteProgram{
		db:     db,
		logger: logger,
		byName: make(map[string]p4bridge.RelationID),
	}
	if err := p.load(ctx, opts.Program, opts.Outputs); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("loaded evaluator program", "relations", len(p.relations), "outputs", opts.Outputs)
	return p, nil
}

// NewInMemory loads a program into an in-memory database.
func NewInMemory(ctx context.Context, program string, outputs []string, logger *slog.Logger) (interpreter.Program, error) {
	return New(ctx, Options{Path: ":memory:", Program: program, Outputs: outputs}, logger)
}

func removeDatabase(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale database: %w", err)
		}
	}
	return nil
}

func (p *sqliteProgram) load(ctx context.Context, program string, outputs []string) error {
	if _, err := p.db.ExecContext(ctx, program); err != nil {
		return fmt.Errorf("failed to execute program: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT name, type FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return fmt.Errorf("failed to list relations: %w", err)
	}
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			rows.Close()
			return err
		}
		if strings.HasPrefix(name, shadowPrefix) {
			rows.Close()
			return fmt.Errorf("relation name %q uses the reserved prefix %q", name, shadowPrefix)
		}
		p.byName[name] = p4bridge.RelationID(len(p.relations))
		p.relations = append(p.relations, &relation{name: name, view: typ == "view"})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range p.relations {
		if r.columns, err = p.columns(ctx, r.name); err != nil {
			return err
		}
	}

	for _, name := range outputs {
		id, ok := p.byName[name]
		if !ok {
			return interpreter.ErrUnknownRelation{Name: name}
		}
		r := p.relations[id]
		p.outputs = append(p.outputs, id)
		shadow := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s WHERE 0", quote(shadowPrefix+r.name), quote(r.name))
		if _, err := p.db.ExecContext(ctx, shadow); err != nil {
			return fmt.Errorf("failed to materialise %s: %w", name, err)
		}
		if _, err := p.db.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s SELECT * FROM %s",
			quote(shadowPrefix+r.name), quote(r.name))); err != nil {
			return fmt.Errorf("failed to materialise %s: %w", name, err)
		}
	}
	return nil
}

func (p *sqliteProgram) columns(ctx context.Context, name string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?) ORDER BY cid", name)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", name, err)
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("relation %s has no columns", name)
	}
	return cols, rows.Err()
}

// Close closes the database connection.
func (p *sqliteProgram) Close() error {
	return p.db.Close()
}

func (p *sqliteProgram) RelationID(name string) (p4bridge.RelationID, error) {
	id, ok := p.byName[name]
	if !ok {
		return 0, interpreter.ErrUnknownRelation{Name: name}
	}
	return id, nil
}

func (p *sqliteProgram) RelationName(id p4bridge.RelationID) string {
	if int(id) < 0 || int(id) >= len(p.relations) {
		return fmt.Sprintf("relation#%d", id)
	}
	return p.relations[id].name
}

func (p *sqliteProgram) relation(id p4bridge.RelationID) (*relation, error) {
	if int(id) < 0 || int(id) >= len(p.relations) {
		return nil, fmt.Errorf("invalid relation id %d", id)
	}
	return p.relations[id], nil
}

func (p *sqliteProgram) DumpIndex(ctx context.Context, id p4bridge.RelationID) ([]p4bridge.Record, error) {
	r, err := p.relation(id)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	recs, err := queryRecords(ctx, p.db, fmt.Sprintf("SELECT * FROM %s ORDER BY %s", quote(r.name), orderBy(r)))
	if err != nil {
		return nil, fmt.Errorf("dump %s: %w", r.name, err)
	}
	p.logger.Debug("dumped relation", "relation", r.name, "rows", len(recs), "duration_ms", msec(time.Since(start)))
	return recs, nil
}

func (p *sqliteProgram) Begin(ctx context.Context) (interpreter.Transaction, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &transaction{p: p, tx: tx}, nil
}

// transaction implements interpreter.Transaction.
type transaction struct {
	p    *sqliteProgram
	tx   *sql.Tx
	done bool
}

func (t *transaction) Insert(ctx context.Context, id p4bridge.RelationID, rec p4bridge.Record) error {
	r, cols, err := t.check(id, rec)
	if err != nil {
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", quote(r.name), quoteAll(cols), placeholders)
	return t.exec(ctx, query, args(rec, cols))
}

func (t *transaction) DeleteValue(ctx context.Context, id p4bridge.RelationID, rec p4bridge.Record) error {
	r, cols, err := t.check(id, rec)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", quote(r.name), matchAll(cols))
	return t.exec(ctx, query, args(rec, cols))
}

func (t *transaction) check(id p4bridge.RelationID, rec p4bridge.Record) (*relation, []string, error) {
	if t.done {
		return nil, nil, sql.ErrTxDone
	}
	r, err := t.p.relation(id)
	if err != nil {
		return nil, nil, err
	}
	if r.view {
		return nil, nil, fmt.Errorf("%s is a derived relation and cannot be updated", r.name)
	}
	cols := rec.Columns()
	if len(cols) == 0 {
		return nil, nil, fmt.Errorf("%s: empty record", r.name)
	}
	for _, c := range cols {
		if !r.hasColumn(c) {
			return nil, nil, fmt.Errorf("%s has no column %q", r.name, c)
		}
	}
	return r, cols, nil
}

func (t *transaction) exec(ctx context.Context, query string, args []any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

func (t *transaction) Commit(ctx context.Context) (p4bridge.Delta, error) {
	if t.done {
		return nil, sql.ErrTxDone
	}
	start := time.Now()
	delta, err := t.delta(ctx)
	if err != nil {
		t.Rollback()
		return nil, err
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return nil, err
	}
	t.p.logger.Debug("committed transaction", "delta", len(delta), "duration_ms", msec(time.Since(start)))
	return delta, nil
}

// delta computes the changes to every output view and applies them to
// the shadow tables.
func (t *transaction) delta(ctx context.Context) (p4bridge.Delta, error) {
	var delta p4bridge.Delta
	for _, id := range t.p.outputs {
		r := t.p.relations[id]
		view, shadow := quote(r.name), quote(shadowPrefix+r.name)
		order := orderBy(r)

		removed, err := queryRecords(ctx, t.tx, fmt.Sprintf("SELECT * FROM %s EXCEPT SELECT * FROM %s ORDER BY %s", shadow, view, order))
		if err != nil {
			return nil, fmt.Errorf("diff %s: %w", r.name, err)
		}
		added, err := queryRecords(ctx, t.tx, fmt.Sprintf("SELECT * FROM %s EXCEPT SELECT * FROM %s ORDER BY %s", view, shadow, order))
		if err != nil {
			return nil, fmt.Errorf("diff %s: %w", r.name, err)
		}

		cols := r.columns
		del := fmt.Sprintf("DELETE FROM %s WHERE %s", shadow, matchAll(cols))
		for _, rec := range removed {
			if err := t.exec(ctx, del, args(rec, cols)); err != nil {
				return nil, fmt.Errorf("sync %s: %w", r.name, err)
			}
			delta = append(delta, p4bridge.DeltaRow{Relation: id, Record: rec, Weight: -1})
		}
		ins := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", shadow, quoteAll(cols),
			strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
		for _, rec := range added {
			if err := t.exec(ctx, ins, args(rec, cols)); err != nil {
				return nil, fmt.Errorf("sync %s: %w", r.name, err)
			}
			delta = append(delta, p4bridge.DeltaRow{Relation: id, Record: rec, Weight: +1})
		}
	}
	return delta, nil
}

func (t *transaction) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

func queryRecords(ctx context.Context, conn dbConn, query string) ([]p4bridge.Record, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var recs []p4bridge.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(p4bridge.Record, len(cols))
		for i, c := range cols {
			rec[c] = vals[i]
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func args(rec p4bridge.Record, cols []string) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = rec[c]
	}
	return out
}

func orderBy(r *relation) string {
	pos := make([]string, len(r.columns))
	for i := range r.columns {
		pos[i] = fmt.Sprint(i + 1)
	}
	return strings.Join(pos, ", ")
}

func matchAll(cols []string) string {
	conds := make([]string, len(cols))
	for i, c := range cols {
		conds[i] = quote(c) + " IS ?"
	}
	return strings.Join(conds, " AND ")
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteAll(idents []string) string {
	q := make([]string, len(idents))
	for i, id := range idents {
		q[i] = quote(id)
	}
	return strings.Join(q, ", ")
}

// joinDSN appends driver query parameters to a database path.
func joinDSN(path string, params []string) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + strings.Join(params, "&")
}
