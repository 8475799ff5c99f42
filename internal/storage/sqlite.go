// Package storage persists decoded Mode S messages in SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ssrmixer/internal/adsb"
)

// Row is one stored message.
type Row struct {
	ID            int64
	ReceivedAt    time.Time
	ICAO          uint32
	DF            int
	METype        int
	MESub         int
	CRCOK         bool
	CorrectedBits []int
	Flight        string
	Squawk        sql.NullInt64
	Altitude      sql.NullInt64
	RawHex        string
}

// DB wraps a SQLite database connection for message storage.
type DB struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		received_at TEXT NOT NULL,
		icao INTEGER NOT NULL,
		df INTEGER NOT NULL,
		metype INTEGER,
		mesub INTEGER,
		crc_ok INTEGER NOT NULL,
		corrected_bits TEXT,
		flight TEXT,
		squawk INTEGER,
		altitude INTEGER,
		raw_hex TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_icao ON messages(icao);
	CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages(received_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Insert stores a decoded message.
func (d *DB) Insert(mm *adsb.Message, receivedAt time.Time) (int64, error) {
	var squawk, altitude sql.NullInt64
	if mm.Identity != nil {
		squawk = sql.NullInt64{Int64: int64(*mm.Identity), Valid: true}
	}
	if mm.Altitude != nil && mm.Altitude.Valid {
		altitude = sql.NullInt64{Int64: int64(mm.Altitude.Feet), Valid: true}
	}

	result, err := d.db.Exec(`
		INSERT INTO messages (received_at, icao, df, metype, mesub, crc_ok, corrected_bits, flight, squawk, altitude, raw_hex)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		receivedAt.UTC().Format(time.RFC3339Nano),
		int64(mm.ICAO),
		mm.DF,
		mm.METype,
		mm.MESub,
		boolToInt(mm.CRCOK),
		formatBits(mm.CorrectedBits),
		mm.Flight(),
		squawk,
		altitude,
		mm.Hex(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	return result.LastInsertId()
}

// CountByICAO returns how many messages were stored for an address.
func (d *DB) CountByICAO(icao uint32) (int, error) {
	var count int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE icao = ?`, int64(icao)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// Recent returns the newest messages first.
func (d *DB) Recent(limit int) ([]Row, error) {
	rows, err := d.db.Query(`
		SELECT id, received_at, icao, df, metype, mesub, crc_ok, corrected_bits, flight, squawk, altitude, raw_hex
		FROM messages
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r          Row
			receivedAt string
			icao       int64
			crcOK      int
			corrected  sql.NullString
			flight     sql.NullString
		)
		if err := rows.Scan(&r.ID, &receivedAt, &icao, &r.DF, &r.METype, &r.MESub, &crcOK,
			&corrected, &flight, &r.Squawk, &r.Altitude, &r.RawHex); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		r.ReceivedAt, err = time.Parse(time.RFC3339Nano, receivedAt)
		if err != nil {
			return nil, fmt.Errorf("parse received_at %q: %w", receivedAt, err)
		}
		r.ICAO = uint32(icao)
		r.CRCOK = crcOK != 0
		r.Flight = flight.String
		r.CorrectedBits, err = parseBits(corrected.String)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatBits(bits []int) string {
	parts := make([]string, len(bits))
	for i, b := range bits {
		parts[i] = strconv.Itoa(b)
	}
	return strings.Join(parts, ",")
}

func parseBits(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	bits := make([]int, len(parts))
	for i, p := range parts {
		b, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("parse corrected bits %q: %w", s, err)
		}
		bits[i] = b
	}
	return bits, nil
}
