// Package journal persists the order lifecycle, the sizing audit trail and
// per-account capital snapshots in SQLite.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/betbot/unitrade/internal/domain"
)

var ErrNotFound = errors.New("journal: order not found")

// Record is the current row for one client order id.
type Record struct {
	AccountID     string                      `json:"accountId"`
	ClientOrderID string                      `json:"clientOrderId"`
	Exchange      domain.Exchange             `json:"exchange"`
	Symbol        string                      `json:"symbol"`
	Action        domain.Action               `json:"action"`
	State         domain.OrderState           `json:"state"`
	Request       *domain.UnifiedOrderRequest `json:"request,omitempty"`
	Sizing        *domain.SizingMeta          `json:"sizingMeta,omitempty"`
	Result        *domain.ExchangeOrderResult `json:"result,omitempty"`
	Error         *domain.Error               `json:"error,omitempty"`
	CreatedAt     time.Time                   `json:"createdAt"`
	UpdatedAt     time.Time                   `json:"updatedAt"`
}

// Event is one state transition.
type Event struct {
	State  domain.OrderState `json:"state"`
	Detail string            `json:"detail,omitempty"`
	At     time.Time         `json:"at"`
}

type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and runs Migrate.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is required")
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	j := New(db)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := j.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db, now: time.Now}
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Ping is used by the health check.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

func (j *Journal) Migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS orders (
  account_id TEXT NOT NULL,
  client_order_id TEXT NOT NULL,
  exchange TEXT NOT NULL,
  symbol TEXT NOT NULL,
  action TEXT NOT NULL,
  state TEXT NOT NULL,
  request_json TEXT,
  sizing_json TEXT,
  result_json TEXT,
  error_json TEXT,
  exchange_order_id TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (account_id, client_order_id)
);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_account_updated ON orders(account_id, updated_at DESC);`,
		`
CREATE TABLE IF NOT EXISTS order_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  account_id TEXT NOT NULL,
  client_order_id TEXT NOT NULL,
  state TEXT NOT NULL,
  detail TEXT,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events(account_id, client_order_id, id);`,
		`
CREATE TABLE IF NOT EXISTS account_balances (
  account_id TEXT NOT NULL,
  exchange TEXT NOT NULL,
  available_usd REAL NOT NULL,
  source TEXT NOT NULL,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_account_balances_account_ts ON account_balances(account_id, exchange, ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func marshalOrNull(v any, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// Record upserts the order row and appends a transition event with detail.
func (j *Journal) Record(ctx context.Context, rec Record, detail string) error {
	if rec.AccountID == "" || rec.ClientOrderID == "" {
		return errors.New("journal: account id and client order id are required")
	}
	now := j.now().UTC().Format(time.RFC3339Nano)
	reqJSON, err := marshalOrNull(rec.Request, rec.Request == nil)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	sizingJSON, err := marshalOrNull(rec.Sizing, rec.Sizing == nil)
	if err != nil {
		return fmt.Errorf("encode sizing: %w", err)
	}
	resultJSON, err := marshalOrNull(rec.Result, rec.Result == nil)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	errJSON, err := marshalOrNull(rec.Error, rec.Error == nil)
	if err != nil {
		return fmt.Errorf("encode error: %w", err)
	}
	var exOrderID sql.NullString
	if rec.Result != nil && rec.Result.ExchangeOrderID != "" {
		exOrderID = sql.NullString{String: rec.Result.ExchangeOrderID, Valid: true}
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO orders (account_id, client_order_id, exchange, symbol, action, state,
  request_json, sizing_json, result_json, error_json, exchange_order_id, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(account_id, client_order_id) DO UPDATE SET
  state = excluded.state,
  request_json = COALESCE(excluded.request_json, orders.request_json),
  sizing_json = COALESCE(excluded.sizing_json, orders.sizing_json),
  result_json = COALESCE(excluded.result_json, orders.result_json),
  error_json = excluded.error_json,
  exchange_order_id = COALESCE(excluded.exchange_order_id, orders.exchange_order_id),
  updated_at = excluded.updated_at
`, rec.AccountID, rec.ClientOrderID, string(rec.Exchange), rec.Symbol, string(rec.Action), string(rec.State),
		reqJSON, sizingJSON, resultJSON, errJSON, exOrderID, now, now)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO order_events (account_id, client_order_id, state, detail, ts)
VALUES (?,?,?,?,?)
`, rec.AccountID, rec.ClientOrderID, string(rec.State), detail, now)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

// Lookup returns the current row for (accountID, clientOrderID).
func (j *Journal) Lookup(ctx context.Context, accountID, clientOrderID string) (Record, error) {
	var (
		rec                                      Record
		exchange, action, state                  string
		reqJSON, sizingJSON, resultJSON, errJSON sql.NullString
		createdAt, updatedAt                     string
	)
	err := j.db.QueryRowContext(ctx, `
SELECT account_id, client_order_id, exchange, symbol, action, state,
  request_json, sizing_json, result_json, error_json, created_at, updated_at
FROM orders WHERE account_id = ? AND client_order_id = ?
`, accountID, clientOrderID).Scan(&rec.AccountID, &rec.ClientOrderID, &exchange, &rec.Symbol, &action, &state,
		&reqJSON, &sizingJSON, &resultJSON, &errJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("lookup order: %w", err)
	}
	rec.Exchange = domain.Exchange(exchange)
	rec.Action = domain.Action(action)
	rec.State = domain.OrderState(state)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	if reqJSON.Valid {
		rec.Request = new(domain.UnifiedOrderRequest)
		if err := json.Unmarshal([]byte(reqJSON.String), rec.Request); err != nil {
			return Record{}, fmt.Errorf("decode request: %w", err)
		}
	}
	if sizingJSON.Valid {
		rec.Sizing = new(domain.SizingMeta)
		if err := json.Unmarshal([]byte(sizingJSON.String), rec.Sizing); err != nil {
			return Record{}, fmt.Errorf("decode sizing: %w", err)
		}
	}
	if resultJSON.Valid {
		rec.Result = new(domain.ExchangeOrderResult)
		if err := json.Unmarshal([]byte(resultJSON.String), rec.Result); err != nil {
			return Record{}, fmt.Errorf("decode result: %w", err)
		}
	}
	if errJSON.Valid {
		rec.Error = new(domain.Error)
		if err := json.Unmarshal([]byte(errJSON.String), rec.Error); err != nil {
			return Record{}, fmt.Errorf("decode error: %w", err)
		}
	}
	return rec, nil
}

// Events returns the transitions of one order, oldest first.
func (j *Journal) Events(ctx context.Context, accountID, clientOrderID string) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT state, COALESCE(detail, ''), ts FROM order_events
WHERE account_id = ? AND client_order_id = ?
ORDER BY id ASC
`, accountID, clientOrderID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var state, ts string
		if err := rows.Scan(&state, &ev.Detail, &ts); err != nil {
			return nil, err
		}
		ev.State = domain.OrderState(state)
		ev.At, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// InsertBalance records an available-capital snapshot (quote currency).
func (j *Journal) InsertBalance(ctx context.Context, accountID string, ex domain.Exchange, availableUSD float64, source string) error {
	if availableUSD < 0 {
		return fmt.Errorf("available capital must be >= 0, got %v", availableUSD)
	}
	if source == "" {
		source = "manual"
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO account_balances (account_id, exchange, available_usd, source, ts)
VALUES (?,?,?,?,?)
`, accountID, string(ex), availableUSD, source, j.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert balance: %w", err)
	}
	return nil
}

// AvailableCapital returns the latest snapshot; ok is false when none exists.
func (j *Journal) AvailableCapital(ctx context.Context, accountID string, ex domain.Exchange) (float64, bool, error) {
	var v float64
	err := j.db.QueryRowContext(ctx, `
SELECT available_usd FROM account_balances
WHERE account_id = ? AND exchange = ?
ORDER BY ts DESC, rowid DESC LIMIT 1
`, accountID, string(ex)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query balance: %w", err)
	}
	return v, true, nil
}
