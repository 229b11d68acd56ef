package deltalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/annel0/craft-world/internal/logging"
	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world"
	"github.com/annel0/craft-world/internal/world/block"
	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// SQLLog журнал правок в реляционной БД (таблица block_edits).
// Одна строка на правку: координаты, материал, флаги и порядковый номер.
type SQLLog struct {
	db      *sql.DB
	dialect string
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS block_edits (
		seq      INTEGER PRIMARY KEY,
		p        INTEGER NOT NULL,
		q        INTEGER NOT NULL,
		x        INTEGER NOT NULL,
		y        INTEGER NOT NULL,
		z        INTEGER NOT NULL,
		material INTEGER NOT NULL,
		flags    INTEGER NOT NULL,
		author   INTEGER NOT NULL,
		at_ns    INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS block_edits_chunk ON block_edits (p, q, seq);`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS block_edits (
		seq      BIGINT UNSIGNED PRIMARY KEY,
		p        BIGINT   NOT NULL,
		q        BIGINT   NOT NULL,
		x        BIGINT   NOT NULL,
		y        BIGINT   NOT NULL,
		z        BIGINT   NOT NULL,
		material TINYINT UNSIGNED NOT NULL,
		flags    TINYINT UNSIGNED NOT NULL,
		author   BIGINT UNSIGNED NOT NULL,
		at_ns    BIGINT   NOT NULL,
		INDEX idx_chunk (p, q, seq)
	) ENGINE=InnoDB`,
}

// OpenSQLite открывает журнал в файле sqlite
func OpenSQLite(path string) (*SQLLog, error) {
	if path == "" {
		return nil, fmt.Errorf("пустой путь к базе sqlite")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return newSQLLog(db, "sqlite", sqliteSchema)
}

// OpenMySQL открывает журнал в MariaDB/MySQL (dsn: user:pass@tcp(host:port)/dbname)
func OpenMySQL(dsn string) (*SQLLog, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}
	return newSQLLog(db, "mysql", mysqlSchema)
}

func newSQLLog(db *sql.DB, dialect string, schema []string) (*SQLLog, error) {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("ошибка создания таблицы block_edits: %w", err)
		}
	}
	logging.GetStorageLogger().Info("Журнал правок %s готов", dialect)
	return &SQLLog{db: db, dialect: dialect}, nil
}

// Append пишет пакет одной транзакцией
func (s *SQLLog) Append(ctx context.Context, edits []world.Edit) error {
	if len(edits) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var last uint64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM block_edits`).Scan(&last); err != nil {
		return err
	}
	if err := checkBatch(last, edits); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO block_edits
		(seq, p, q, x, y, z, material, flags, author, at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range edits {
		cc := e.Chunk()
		_, err := stmt.ExecContext(ctx, e.Seq, cc.P, cc.Q, e.Pos.X, e.Pos.Y, e.Pos.Z,
			uint8(e.Block.Material()), uint8(e.Block.Flags()), e.Author, e.Time.UnixNano())
		if err != nil {
			return fmt.Errorf("ошибка записи правки seq=%d: %w", e.Seq, err)
		}
	}
	return tx.Commit()
}

func (s *SQLLog) LoadEdits(ctx context.Context, cc vec.ChunkCoord) ([]world.Edit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, x, y, z, material, flags, author, at_ns
		FROM block_edits WHERE p = ? AND q = ? ORDER BY seq`, cc.P, cc.Q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows, nil)
}

func (s *SQLLog) LastSeq(ctx context.Context) (uint64, error) {
	var last uint64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM block_edits`).Scan(&last)
	return last, err
}

// Scan обходит правки в порядке seq
func (s *SQLLog) Scan(ctx context.Context, fn func(world.Edit) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, x, y, z, material, flags, author, at_ns
		FROM block_edits ORDER BY seq`)
	if err != nil {
		return err
	}
	defer rows.Close()
	_, err = scanRows(rows, fn)
	return err
}

func scanRows(rows *sql.Rows, fn func(world.Edit) error) ([]world.Edit, error) {
	var out []world.Edit
	for rows.Next() {
		var (
			e              world.Edit
			material, flag uint8
			atNs           int64
		)
		if err := rows.Scan(&e.Seq, &e.Pos.X, &e.Pos.Y, &e.Pos.Z, &material, &flag, &e.Author, &atNs); err != nil {
			return nil, err
		}
		e.Block = block.New(block.Material(material), block.Flags(flag))
		e.Time = time.Unix(0, atNs).UTC()
		if fn != nil {
			if err := fn(e); err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close закрывает соединение с БД
func (s *SQLLog) Close() error {
	return s.db.Close()
}
