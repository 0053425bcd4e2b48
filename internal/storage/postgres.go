package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the account store for multi-instance deployments. Counter
// updates use the server's atomic increment instead of a read-modify-write.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, pings and migrates.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) init(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL UNIQUE,
		secret TEXT NOT NULL,
		deposited NUMERIC(78,0) NOT NULL DEFAULT 0 CHECK (deposited >= 0),
		spent NUMERIC(78,0) NOT NULL DEFAULT 0 CHECK (spent >= 0),
		received NUMERIC(78,0) NOT NULL DEFAULT 0 CHECK (received >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	return err
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, address, secret, deposited::text, spent::text, received::text, created_at
		 FROM accounts WHERE id = $1`, id)

	a, err := scanPgAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (p *Postgres) CreateAccount(ctx context.Context, a *Account) error {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO accounts (id, address, secret, deposited, spent, received, created_at)
		 VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Address, a.Secret, decString(a.Deposited), decString(a.Spent), decString(a.Received), a.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (p *Postgres) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, address, secret, deposited::text, spent::text, received::text, created_at
		 FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanPgAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (p *Postgres) AddAmount(ctx context.Context, id string, field Field, delta *uint256.Int) (*uint256.Int, error) {
	if !field.valid() {
		return nil, ErrInvalidField
	}
	col := string(field)
	return p.updateReturning(ctx,
		"UPDATE accounts SET "+col+" = "+col+" + $2::numeric WHERE id = $1 RETURNING "+col+"::text",
		id, decString(delta))
}

func (p *Postgres) SubtractAmount(ctx context.Context, id string, field Field, delta *uint256.Int) (*uint256.Int, error) {
	if !field.valid() {
		return nil, ErrInvalidField
	}
	col := string(field)
	v, err := p.updateReturning(ctx,
		"UPDATE accounts SET "+col+" = "+col+" - $2::numeric WHERE id = $1 AND "+col+" >= $2::numeric RETURNING "+col+"::text",
		id, decString(delta))
	if errors.Is(err, ErrNotUpdated) {
		// distinguish a missing account from an underflow
		if _, getErr := p.GetAccount(ctx, id); getErr == nil {
			return nil, ErrUnderflow
		}
	}
	return v, err
}

func (p *Postgres) updateReturning(ctx context.Context, query, id, delta string) (*uint256.Int, error) {
	var raw string
	err := p.pool.QueryRow(ctx, query, id, delta).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotUpdated
	}
	if err != nil {
		return nil, err
	}
	return parseAmount(raw)
}

func scanPgAccount(row pgx.Row) (*Account, error) {
	var (
		a                          Account
		deposited, spent, received string
		createdAt                  time.Time
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
	a.CreatedAt = createdAt
	return &a, nil
}

var _ Store = (*Postgres)(nil)
