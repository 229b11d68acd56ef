package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// SQLPositionRepo таблица player_state в sqlite или MySQL/MariaDB
type SQLPositionRepo struct {
	db     *sql.DB
	upsert string
}

const sqliteStateSchema = `
	CREATE TABLE IF NOT EXISTS player_state (
		name       TEXT PRIMARY KEY,
		x          REAL NOT NULL,
		y          REAL NOT NULL,
		z          REAL NOT NULL,
		rx         REAL NOT NULL,
		ry         REAL NOT NULL,
		updated_ns INTEGER NOT NULL
	)`

const sqliteStateUpsert = `
	INSERT INTO player_state (name, x, y, z, rx, ry, updated_ns)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		x = excluded.x, y = excluded.y, z = excluded.z,
		rx = excluded.rx, ry = excluded.ry, updated_ns = excluded.updated_ns`

const mysqlStateSchema = `
	CREATE TABLE IF NOT EXISTS player_state (
		name       VARCHAR(64) PRIMARY KEY,
		x          DOUBLE NOT NULL,
		y          DOUBLE NOT NULL,
		z          DOUBLE NOT NULL,
		rx         DOUBLE NOT NULL,
		ry         DOUBLE NOT NULL,
		updated_ns BIGINT NOT NULL
	) ENGINE=InnoDB`

const mysqlStateUpsert = `
	INSERT INTO player_state (name, x, y, z, rx, ry, updated_ns)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		x = VALUES(x), y = VALUES(y), z = VALUES(z),
		rx = VALUES(rx), ry = VALUES(ry), updated_ns = VALUES(updated_ns)`

// OpenSQLitePositionRepo открывает таблицу положений в файле sqlite
func OpenSQLitePositionRepo(path string) (*SQLPositionRepo, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: sqlite %s: %w", path, err)
	}
	// одна запись за раз, иначе sqlite отвечает SQLITE_BUSY
	db.SetMaxOpenConns(1)
	return newSQLPositionRepo(db, sqliteStateSchema, sqliteStateUpsert)
}

// OpenMySQLPositionRepo подключается к MySQL/MariaDB
func OpenMySQLPositionRepo(dsn string) (*SQLPositionRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: mysql: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return newSQLPositionRepo(db, mysqlStateSchema, mysqlStateUpsert)
}

func newSQLPositionRepo(db *sql.DB, schema, upsert string) (*SQLPositionRepo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: нет соединения с БД: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ошибка создания таблицы player_state: %w", err)
	}
	return &SQLPositionRepo{db: db, upsert: upsert}, nil
}

func (r *SQLPositionRepo) Save(ctx context.Context, name string, st PlayerState) error {
	if err := checkName(name); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, r.upsert, name,
		st.Pos.X, st.Pos.Y, st.Pos.Z, st.RX, st.RY, st.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("storage: сохранение %s: %w", name, err)
	}
	return nil
}

func (r *SQLPositionRepo) Load(ctx context.Context, name string) (PlayerState, bool, error) {
	if err := checkName(name); err != nil {
		return PlayerState{}, false, err
	}
	var st PlayerState
	var ns int64
	err := r.db.QueryRowContext(ctx,
		`SELECT x, y, z, rx, ry, updated_ns FROM player_state WHERE name = ?`, name).
		Scan(&st.Pos.X, &st.Pos.Y, &st.Pos.Z, &st.RX, &st.RY, &ns)
	if err == sql.ErrNoRows {
		return PlayerState{}, false, nil
	}
	if err != nil {
		return PlayerState{}, false, fmt.Errorf("storage: загрузка %s: %w", name, err)
	}
	st.UpdatedAt = time.Unix(0, ns)
	return st, true, nil
}

func (r *SQLPositionRepo) Delete(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM player_state WHERE name = ?`, name)
	return err
}

func (r *SQLPositionRepo) Close() error {
	return r.db.Close()
}
