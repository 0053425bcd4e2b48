package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrNotUpdated    = errors.New("update did not affect exactly one record")
	ErrUnderflow     = errors.New("counter would go negative")
	ErrOverflow      = errors.New("counter overflow")
	ErrInvalidField  = errors.New("invalid field")
)

// Store persists accounts. Counter updates are atomic per record.
type Store interface {
	GetAccount(ctx context.Context, id string) (*Account, error)
	CreateAccount(ctx context.Context, a *Account) error
	ListAccounts(ctx context.Context) ([]Account, error)
	// AddAmount increments field by delta and returns the new value.
	AddAmount(ctx context.Context, id string, field Field, delta *uint256.Int) (*uint256.Int, error)
	// SubtractAmount decrements field by delta. Only used to compensate a
	// failed transfer; counters are otherwise monotonic.
	SubtractAmount(ctx context.Context, id string, field Field, delta *uint256.Int) (*uint256.Int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open returns the backend selected by driver.
func Open(ctx context.Context, driver, path, url string) (Store, error) {
	switch driver {
	case "", "sqlite", "sqlite3":
		return New(path)
	case "postgres", "pgx":
		return NewPostgres(ctx, url)
	default:
		return nil, fmt.Errorf("unknown db driver %q", driver)
	}
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return v, nil
}
