// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package journal keeps an append-only SQLite record of every program pulse
// issued to a device, so the burned state of a part can be audited later.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/Thermoquad/fusectl/pkg/efuse"
)

// Store is a burn journal backed by a SQLite database
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Entry is one recorded program pulse
type Entry struct {
	ID int64
	At time.Time
	efuse.Burn
}

// Summary counts pulses per device and field
type Summary struct {
	IDCode  uint32
	Variant efuse.Variant
	Field   efuse.Field
	Pulses  int
	Last    time.Time
}

// Filter narrows a Burns query. Zero values match everything.
type Filter struct {
	IDCode uint32
	Field  *efuse.Field
	Limit  int
}

// Open creates or opens the journal at filename
func Open(filename string) (*Store, error) {
	connector, err := (&driver.SQLite{}).OpenConnector("file:" + filepath.Clean(filename) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("error opening journal: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := Init(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

// New wraps an already initialized database
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Init creates the journal tables if they do not already exist
func Init(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS burns
			( id INTEGER PRIMARY KEY AUTOINCREMENT
			, at INTEGER NOT NULL
			, idcode INTEGER NOT NULL
			, variant TEXT NOT NULL
			, field INTEGER NOT NULL
			, page INTEGER NOT NULL
			, row INTEGER NOT NULL
			, bit INTEGER NOT NULL
			, redundant BOOLEAN NOT NULL
			)`,
		`CREATE INDEX IF NOT EXISTS burns_device ON burns(idcode, field)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("error initializing journal: %w", err)
		}
	}
	return nil
}

// Close releases the database
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordBurn appends one pulse. It satisfies efuse.Journal.
func (s *Store) RecordBurn(b efuse.Burn) error {
	return s.Record(context.Background(), b)
}

// Record appends one pulse with an explicit context
func (s *Store) Record(ctx context.Context, b efuse.Burn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO burns (at, idcode, variant, field, page, row, bit, redundant) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.now().UnixMilli(), int64(b.IDCode), b.Variant.String(), int(b.Field),
		int(b.Addr.Page), int(b.Addr.Row), int(b.Addr.Bit), b.Addr.Redundant,
	)
	if err != nil {
		return fmt.Errorf("error recording burn %s: %w", b.Addr, err)
	}
	return nil
}

// Burns lists recorded pulses, oldest first
func (s *Store) Burns(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.IDCode != 0 {
		where = append(where, "idcode = ?")
		args = append(args, int64(f.IDCode))
	}
	if f.Field != nil {
		where = append(where, "field = ?")
		args = append(args, int(*f.Field))
	}

	query := selectBurns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summarize counts pulses per device and field
func (s *Store) Summarize(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idcode, variant, field, COUNT(*), MAX(at) FROM burns GROUP BY idcode, variant, field ORDER BY idcode, field`)
	if err != nil {
		return nil, fmt.Errorf("error summarizing journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Summary
	for rows.Next() {
		var (
			sum        Summary
			idcode, at int64
			variant    string
			field      int
		)
		if err := rows.Scan(&idcode, &variant, &field, &sum.Pulses, &at); err != nil {
			return nil, fmt.Errorf("error scanning journal: %w", err)
		}
		sum.IDCode = uint32(idcode)
		sum.Variant, _ = efuse.ParseVariant(variant)
		sum.Field = efuse.Field(field)
		sum.Last = time.UnixMilli(at)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ErrEmpty is returned by Last when nothing has been recorded
var ErrEmpty = errors.New("journal is empty")

// Last returns the most recent pulse
func (s *Store) Last(ctx context.Context) (Entry, error) {
	row := s.db.QueryRowContext(ctx, selectBurns+` ORDER BY id DESC LIMIT 1`)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrEmpty
	}
	return e, err
}

const selectBurns = `SELECT id, at, idcode, variant, field, page, row, bit, redundant FROM burns`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, error) {
	var (
		e                     Entry
		at, idcode            int64
		variant               string
		field, page, row, bit int
	)
	if err := sc.Scan(&e.ID, &at, &idcode, &variant, &field, &page, &row, &bit, &e.Addr.Redundant); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("error scanning journal: %w", err)
	}
	e.At = time.UnixMilli(at)
	e.IDCode = uint32(idcode)
	e.Variant, _ = efuse.ParseVariant(variant)
	e.Field = efuse.Field(field)
	e.Addr.Page, e.Addr.Row, e.Addr.Bit = uint8(page), uint8(row), uint8(bit)
	return e, nil
}
