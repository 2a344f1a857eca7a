package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"intentbot/internal/intent"
	"intentbot/internal/models"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

var _ ActionJournal = (*SQLiteStore)(nil)
var _ IntentStore = (*SQLiteStore)(nil)
var _ intent.Persister = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS actions (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	time      TEXT NOT NULL,
	exchange  TEXT NOT NULL,
	symbol    TEXT NOT NULL,
	verb      TEXT NOT NULL,
	intent_id TEXT NOT NULL DEFAULT '',
	order_id  TEXT NOT NULL DEFAULT '',
	side      TEXT NOT NULL DEFAULT '',
	type      TEXT NOT NULL DEFAULT '',
	price     REAL NOT NULL DEFAULT 0,
	amount    REAL NOT NULL DEFAULT 0,
	status    TEXT NOT NULL DEFAULT '',
	error     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS actions_pair ON actions (exchange, symbol);
CREATE TABLE IF NOT EXISTS intents (
	exchange   TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	id         TEXT NOT NULL,
	payload    TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (exchange, symbol)
);`

// SQLiteStore implements ActionJournal and IntentStore backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and creates the
// tables it needs.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("Не удалось создать каталог базы %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("Не удалось открыть базу %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("Не удалось создать таблицы: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RecordAction(ctx context.Context, r models.ActionRecord) error {
	if r.Time.IsZero() {
		r.Time = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actions (time, exchange, symbol, verb, intent_id, order_id, side, type, price, amount, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Time.UTC().Format(time.RFC3339Nano), r.Exchange, r.Symbol, r.Verb, r.IntentID, r.OrderID,
		string(r.Side), string(r.Type), r.Price, r.Amount, r.Status, r.Error,
	)
	if err != nil {
		return fmt.Errorf("Не удалось записать действие: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListActions(ctx context.Context, filter ActionFilter) ([]models.ActionRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.Exchange != "" {
		where = append(where, "exchange = ?")
		args = append(args, filter.Exchange)
	}
	if filter.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if filter.IntentID != "" {
		where = append(where, "intent_id = ?")
		args = append(args, filter.IntentID)
	}
	query := `SELECT time, exchange, symbol, verb, intent_id, order_id, side, type, price, amount, status, error FROM actions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Не удалось прочитать журнал: %w", err)
	}
	defer rows.Close()

	var result []models.ActionRecord
	for rows.Next() {
		var (
			r          models.ActionRecord
			at         string
			side, kind string
		)
		if err := rows.Scan(&at, &r.Exchange, &r.Symbol, &r.Verb, &r.IntentID, &r.OrderID, &side, &kind, &r.Price, &r.Amount, &r.Status, &r.Error); err != nil {
			return nil, err
		}
		r.Time, _ = time.Parse(time.RFC3339Nano, at)
		r.Side = models.OrderSide(side)
		r.Type = models.OrderType(kind)
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

func (s *SQLiteStore) SaveIntent(ctx context.Context, state models.PairState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO intents (exchange, symbol, id, payload, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (exchange, symbol) DO UPDATE SET id = excluded.id, payload = excluded.payload, updated_at = excluded.updated_at`,
		state.Exchange, state.Symbol, state.ID, string(payload), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("Не удалось сохранить намерение %s/%s: %w", state.Exchange, state.Symbol, err)
	}
	return nil
}

// DeleteIntent keeps the row when a newer intent has already replaced id.
func (s *SQLiteStore) DeleteIntent(ctx context.Context, exchange, symbol, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM intents WHERE exchange = ? AND symbol = ? AND id = ?`, exchange, symbol, id); err != nil {
		return fmt.Errorf("Не удалось удалить намерение %s/%s: %w", exchange, symbol, err)
	}
	return nil
}

// LoadIntents skips rows that no longer decode instead of failing the restore.
func (s *SQLiteStore) LoadIntents(ctx context.Context) ([]models.PairState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM intents ORDER BY exchange, symbol`)
	if err != nil {
		return nil, fmt.Errorf("Не удалось прочитать намерения: %w", err)
	}
	defer rows.Close()

	var result []models.PairState
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ps models.PairState
		if err := json.Unmarshal([]byte(payload), &ps); err != nil {
			continue
		}
		result = append(result, ps)
	}
	return result, rows.Err()
}
