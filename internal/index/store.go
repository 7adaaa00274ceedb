package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"

	"bhoomi/internal/apperr"
)

const (
	FileName      = "index.db"
	formatVersion = 1
)

var ErrNotFound = errors.New("no persisted index")

const schema = `
CREATE TABLE meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE records (
	seq    INTEGER PRIMARY KEY,
	id     TEXT NOT NULL UNIQUE,
	source TEXT NOT NULL,
	page   INTEGER NOT NULL,
	char_offset INTEGER NOT NULL,
	body   TEXT NOT NULL,
	vector BLOB NOT NULL
);`

// Exists reports whether dir holds a persisted index.
func Exists(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil && !info.IsDir()
}

// Persist writes the index to dir/index.db. The file is written next to the
// target and renamed into place, so a crash never leaves a half-written index.
func (x *Index) Persist(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	final := filepath.Join(dir, FileName)
	tmp := final + ".tmp"
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp index: %w", err)
	}

	if err := x.writeSQLite(ctx, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("move index into place: %w", err)
	}
	return nil
}

func (x *Index) writeSQLite(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open index db: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create index schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	meta := map[string]string{
		"format_version": strconv.Itoa(formatVersion),
		"dimension":      strconv.Itoa(x.dim),
		"metric":         string(x.metric),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES(?, ?)`, k, v); err != nil {
			return fmt.Errorf("write index meta: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records(seq, id, source, page, char_offset, body, vector) VALUES(?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for seq, r := range x.Records() {
		if _, err := stmt.ExecContext(ctx, seq, r.ID, r.Chunk.Source, r.Chunk.Page, r.Chunk.Offset, r.Chunk.Text, encodeVector(r.Vector)); err != nil {
			return fmt.Errorf("write record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// Load reads the index persisted in dir. When wantDim is positive the stored
// dimension must match it.
func Load(ctx context.Context, dir string, wantDim int) (*Index, error) {
	path := filepath.Join(dir, FileName)
	if !Exists(dir) {
		return nil, fmt.Errorf("%w at %s", ErrNotFound, path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	defer db.Close()

	meta, err := readMeta(ctx, db)
	if err != nil {
		return nil, err
	}
	if meta["format_version"] != strconv.Itoa(formatVersion) {
		return nil, fmt.Errorf("unsupported index format %q", meta["format_version"])
	}
	dim, err := strconv.Atoi(meta["dimension"])
	if err != nil {
		return nil, fmt.Errorf("invalid index dimension %q: %w", meta["dimension"], err)
	}
	if wantDim > 0 && dim != wantDim {
		return nil, apperr.DimensionMismatch(wantDim, dim)
	}

	x, err := New(dim, Metric(meta["metric"]))
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, source, page, char_offset, body, vector FROM records ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Chunk.Source, &r.Chunk.Page, &r.Chunk.Offset, &r.Chunk.Text, &blob); err != nil {
			return nil, err
		}
		if r.Vector, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("record %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := x.InsertBatch(records); err != nil {
		return nil, err
	}
	return x, nil
}

func readMeta(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("read index meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}
