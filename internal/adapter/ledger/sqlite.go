// Package ledger persists settlement history. The active order book never
// consults it; history queries come from the discovery API.
package ledger

import (
	"context"
	"database/sql"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"agora/internal/domain"
)

// SQLiteLedger implements domain.SettlementLedger on a local SQLite file.
type SQLiteLedger struct {
	db *sql.DB

	idMu      sync.Mutex
	idEntropy *ulid.MonotonicEntropy
}

// Open opens (or creates) the ledger database at dbPath and runs the schema
// migration.
func Open(dbPath string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, domain.WrapOp("open ledger db", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, domain.WrapOp("set WAL mode", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, domain.WrapOp("migrate ledger db", err)
	}
	return &SQLiteLedger{
		db:        db,
		idEntropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS settlements (
			id         TEXT PRIMARY KEY,
			order_id   TEXT NOT NULL,
			agent_a    TEXT NOT NULL,
			agent_b    TEXT NOT NULL,
			amount_apt REAL NOT NULL DEFAULT 0,
			tx_hash    TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL DEFAULT '',
			outcome    TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_settlements_agent_a ON settlements(agent_a);
		CREATE INDEX IF NOT EXISTS idx_settlements_agent_b ON settlements(agent_b);
	`)
	return err
}

// Close closes the underlying database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// Record appends one terminal order transition.
func (l *SQLiteLedger) Record(ctx context.Context, e domain.SettlementEntry) error {
	if e.ID == "" {
		e.ID = l.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO settlements (id, order_id, agent_a, agent_b, amount_apt, tx_hash, status, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OrderID, e.AgentA, e.AgentB, e.AmountAPT,
		e.TransactionHash, string(e.Status), string(e.Outcome),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.NewDomainError("Ledger.Record", domain.ErrLedgerWrite, err.Error())
	}
	return nil
}

// ListByAgent returns the most recent settlement entries involving agentID on
// either side of the trade, newest first.
func (l *SQLiteLedger) ListByAgent(ctx context.Context, agentID string, limit int) ([]domain.SettlementEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, order_id, agent_a, agent_b, amount_apt, tx_hash, status, outcome, created_at
		FROM settlements
		WHERE agent_a = ? OR agent_b = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		agentID, agentID, limit,
	)
	if err != nil {
		return nil, domain.NewDomainError("Ledger.ListByAgent", domain.ErrLedgerRead, err.Error())
	}
	defer rows.Close()

	var out []domain.SettlementEntry
	for rows.Next() {
		var e domain.SettlementEntry
		var status, outcome, createdAt string
		if err := rows.Scan(&e.ID, &e.OrderID, &e.AgentA, &e.AgentB, &e.AmountAPT,
			&e.TransactionHash, &status, &outcome, &createdAt); err != nil {
			return nil, domain.NewDomainError("Ledger.ListByAgent", domain.ErrLedgerRead, err.Error())
		}
		e.Status = domain.SettlementStatus(status)
		e.Outcome = domain.OrderState(outcome)
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewDomainError("Ledger.ListByAgent", domain.ErrLedgerRead, err.Error())
	}
	return out, nil
}

func (l *SQLiteLedger) newID() string {
	l.idMu.Lock()
	defer l.idMu.Unlock()
	return ulid.MustNew(ulid.Now(), l.idEntropy).String()
}
