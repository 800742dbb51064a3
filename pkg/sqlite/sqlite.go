// Package sqlite stores HAP controller pairings in SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fastybird/hapbridge/pkg/hap"
	_ "github.com/mattn/go-sqlite3"
)

const (
	busyTimeout = 5000 // ms
	pingTimeout = 5 * time.Second
)

const schema = `CREATE TABLE IF NOT EXISTS pairings (
	client_id   TEXT PRIMARY KEY,
	public_key  BLOB NOT NULL,
	permissions INTEGER NOT NULL,
	paired_at   INTEGER NOT NULL
)`

// Pairings implements hap.PairingStore
type Pairings struct {
	db *sql.DB
}

// Open database file (created on first run) with the pairings table.
// Path ":memory:" is useful for tests.
func Open(path string) (*Pairings, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=%d", path, busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// one writer, also keeps single ":memory:" database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if _, err = db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}

	return &Pairings{db: db}, nil
}

func (p *Pairings) Get(clientID string) (*hap.Pairing, error) {
	row := p.db.QueryRow(
		`SELECT client_id, public_key, permissions, paired_at FROM pairings WHERE client_id = ?`, clientID,
	)

	pairing, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, hap.ErrPairingNotFound
	}
	return pairing, err
}

func (p *Pairings) Put(pairing *hap.Pairing) error {
	_, err := p.db.Exec(
		`INSERT INTO pairings (client_id, public_key, permissions, paired_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			public_key = excluded.public_key,
			permissions = excluded.permissions,
			paired_at = excluded.paired_at`,
		pairing.ClientID, pairing.PublicKey, pairing.Permissions, unixNano(pairing.PairedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put pairing: %w", err)
	}
	return nil
}

func (p *Pairings) Delete(clientID string) error {
	res, err := p.db.Exec(`DELETE FROM pairings WHERE client_id = ?`, clientID)
	if err != nil {
		return fmt.Errorf("sqlite: delete pairing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return hap.ErrPairingNotFound
	}
	return nil
}

func (p *Pairings) List() ([]*hap.Pairing, error) {
	rows, err := p.db.Query(
		`SELECT client_id, public_key, permissions, paired_at FROM pairings ORDER BY paired_at, client_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list pairings: %w", err)
	}
	defer rows.Close()

	var pairings []*hap.Pairing
	for rows.Next() {
		pairing, err := scan(rows)
		if err != nil {
			return nil, err
		}
		pairings = append(pairings, pairing)
	}
	return pairings, rows.Err()
}

func (p *Pairings) Close() error {
	return p.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*hap.Pairing, error) {
	var pairing hap.Pairing
	var pairedAt int64
	if err := row.Scan(&pairing.ClientID, &pairing.PublicKey, &pairing.Permissions, &pairedAt); err != nil {
		return nil, err
	}
	if pairedAt != 0 {
		pairing.PairedAt = time.Unix(0, pairedAt)
	}
	return &pairing, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
