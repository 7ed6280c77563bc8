package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MaxLogEntries is the number of transactions retained in the audit log
const MaxLogEntries = 10000

// TxType classifies a transaction log entry
type TxType string

const (
	TxEarn  TxType = "earn"
	TxSpend TxType = "spend"
)

// Transaction is one entry in the append-only audit trail. The ledger
// document stays authoritative; the log is causal history only.
type Transaction struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Type          TxType    `json:"type"`
	Amount        int64     `json:"amount"` // signed
	BalanceBefore int64     `json:"balance_before"`
	BalanceAfter  int64     `json:"balance_after"`
	ItemID        string    `json:"item_id,omitempty"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"timestamp"`
}

// TxLog is the sqlite-backed transaction log
type TxLog struct {
	db *sql.DB
}

// OpenTxLog opens (and migrates) the transaction log database at the
// given path. ":memory:" is accepted for tests.
func OpenTxLog(dbPath string) (*TxLog, error) {
	path := dbPath
	if path != ":memory:" {
		absPath, err := filepath.Abs(dbPath)
		if err != nil {
			return nil, err
		}
		path = absPath
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	l := &TxLog{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// migrate creates the necessary tables
func (l *TxLog) migrate() error {
	transactionsTable := `
		CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			amount INTEGER NOT NULL,
			balance_before INTEGER NOT NULL,
			balance_after INTEGER NOT NULL,
			item_id TEXT,
			description TEXT,
			created_at DATETIME NOT NULL
		)
	`

	// Indexes for per-user history and cap trimming
	createIndexes := `
		CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id);
		CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at);
	`

	if _, err := l.db.Exec(transactionsTable); err != nil {
		return err
	}
	if _, err := l.db.Exec(createIndexes); err != nil {
		return err
	}
	return nil
}

// Append records a transaction and trims the log to its cap
func (l *TxLog) Append(tx *Transaction) error {
	_, err := l.db.Exec(`
		INSERT INTO transactions (id, user_id, type, amount, balance_before, balance_after, item_id, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tx.ID, tx.UserID, string(tx.Type), tx.Amount, tx.BalanceBefore, tx.BalanceAfter, tx.ItemID, tx.Description, tx.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	// Keep only the most recent entries
	_, err = l.db.Exec(`
		DELETE FROM transactions
		WHERE rowid NOT IN (
			SELECT rowid FROM transactions ORDER BY rowid DESC LIMIT ?
		)
	`, MaxLogEntries)
	if err != nil {
		return fmt.Errorf("failed to trim transaction log: %w", err)
	}
	return nil
}

// History returns the most recent transactions, newest first. An empty
// userID returns entries for all users.
func (l *TxLog) History(userID string, limit int) ([]*Transaction, error) {
	if limit <= 0 || limit > MaxLogEntries {
		limit = 50
	}

	query := `
		SELECT id, user_id, type, amount, balance_before, balance_after, item_id, description, created_at
		FROM transactions
	`
	args := []interface{}{}
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		var tx Transaction
		var itemID, description sql.NullString
		if err := rows.Scan(
			&tx.ID,
			&tx.UserID,
			&tx.Type,
			&tx.Amount,
			&tx.BalanceBefore,
			&tx.BalanceAfter,
			&itemID,
			&description,
			&tx.CreatedAt,
		); err != nil {
			return nil, err
		}
		tx.ItemID = itemID.String
		tx.Description = description.String
		txs = append(txs, &tx)
	}
	return txs, rows.Err()
}

// Count returns the number of retained log entries
func (l *TxLog) Count() (int64, error) {
	var n int64
	err := l.db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&n)
	return n, err
}

// Close closes the underlying database
func (l *TxLog) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}
