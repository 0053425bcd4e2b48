package storage

import (
	"time"

	"github.com/holiman/uint256"
)

// Field names one of the monotonic per-account counters.
type Field string

const (
	FieldDeposited Field = "deposited"
	FieldSpent     Field = "spent"
	FieldReceived  Field = "received"
)

func (f Field) valid() bool {
	switch f {
	case FieldDeposited, FieldSpent, FieldReceived:
		return true
	}
	return false
}

// Account is a community member's custodial record. Monetary fields are in
// base units of the chain.
type Account struct {
	ID        string
	Address   string
	Secret    string // hex private key of Address
	Deposited *uint256.Int
	Spent     *uint256.Int
	Received  *uint256.Int
	CreatedAt time.Time
}

// NewAccount returns a fresh record with zeroed counters.
func NewAccount(id, address, secret string) *Account {
	return &Account{
		ID:        id,
		Address:   address,
		Secret:    secret,
		Deposited: new(uint256.Int),
		Spent:     new(uint256.Int),
		Received:  new(uint256.Int),
		CreatedAt: time.Now(),
	}
}
