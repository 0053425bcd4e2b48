package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	_ "github.com/mattn/go-sqlite3"
)

// Storage is the sqlite account store
type Storage struct {
	db *sql.DB
}

// New creates a new Storage instance and initializes the database
func New(dbPath string) (*Storage, error) {
	// immediate transactions take the write lock on BEGIN, which serializes
	// the read-modify-write in AddAmount.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			address TEXT NOT NULL,
			secret TEXT NOT NULL,
			deposited TEXT NOT NULL DEFAULT '0',
			spent TEXT NOT NULL DEFAULT '0',
			received TEXT NOT NULL DEFAULT '0',
			created_at INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_address ON accounts(address)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// GetAccount returns the account with the given id
func (s *Storage) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, address, secret, deposited, spent, received, created_at
		 FROM accounts WHERE id = ?`, id)

	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

// CreateAccount inserts a new account
func (s *Storage) CreateAccount(ctx context.Context, a *Account) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO accounts (id, address, secret, deposited, spent, received, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Address, a.Secret, decString(a.Deposited), decString(a.Spent), decString(a.Received), a.CreatedAt.Unix(),
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// ListAccounts returns every account ordered by creation
func (s *Storage) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, address, secret, deposited, spent, received, created_at
		 FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}

	return accounts, rows.Err()
}

// AddAmount increments a counter
func (s *Storage) AddAmount(ctx context.Context, id string, field Field, delta *uint256.Int) (*uint256.Int, error) {
	return s.update(ctx, id, field, func(cur *uint256.Int) (*uint256.Int, error) {
		next, overflow := new(uint256.Int).AddOverflow(cur, delta)
		if overflow {
			return nil, ErrOverflow
		}
		return next, nil
	})
}

// SubtractAmount decrements a counter
func (s *Storage) SubtractAmount(ctx context.Context, id string, field Field, delta *uint256.Int) (*uint256.Int, error) {
	return s.update(ctx, id, field, func(cur *uint256.Int) (*uint256.Int, error) {
		next, underflow := new(uint256.Int).SubOverflow(cur, delta)
		if underflow {
			return nil, ErrUnderflow
		}
		return next, nil
	})
}

func (s *Storage) update(ctx context.Context, id string, field Field, apply func(*uint256.Int) (*uint256.Int, error)) (*uint256.Int, error) {
	if !field.valid() {
		return nil, ErrInvalidField
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, "SELECT "+string(field)+" FROM accounts WHERE id = ?", id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotUpdated
	}
	if err != nil {
		return nil, err
	}

	cur, err := parseAmount(raw)
	if err != nil {
		return nil, err
	}
	next, err := apply(cur)
	if err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx, "UPDATE accounts SET "+string(field)+" = ? WHERE id = ?", next.Dec(), id)
	if err != nil {
		return nil, err
	}
	if rows, _ := result.RowsAffected(); rows != 1 {
		return nil, ErrNotUpdated
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*Account, error) {
	var (
		a                          Account
		deposited, spent, received string
		createdAt                  int64
	)
	if err := row.Scan(&a.ID, &a.Address, &a.Secret, &deposited, &spent, &received, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if a.Deposited, err = parseAmount(deposited); err != nil {
		return nil, err
	}
	if a.Spent, err = parseAmount(spent); err != nil {
		return nil, err
	}
	if a.Received, err = parseAmount(received); err != nil {
		return nil, err
	}
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

func decString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

var _ Store = (*Storage)(nil)
