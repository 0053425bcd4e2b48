// Package transfer moves balance between two members as a debit followed by
// a credit, compensating the debit when the credit cannot be applied.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

var (
	ErrSelfTransfer = errors.New("cannot send to yourself")
	ErrDebitFailed  = errors.New("debit failed")
	ErrCreditFailed = errors.New("credit failed")
)

// Ledger is the subset of the ledger a transfer touches.
type Ledger interface {
	Debit(ctx context.Context, id string, value decimal.Decimal) error
	Credit(ctx context.Context, id string, value decimal.Decimal) error
	ReverseDebit(ctx context.Context, id string, value decimal.Decimal) error
}

type Coordinator struct {
	ledger Ledger
	log    *slog.Logger
}

func NewCoordinator(ledger Ledger, log *slog.Logger) *Coordinator {
	return &Coordinator{ledger: ledger, log: log}
}

// Send debits from and credits to. The amount must already be validated.
func (c *Coordinator) Send(ctx context.Context, from, to string, value decimal.Decimal) error {
	if from == to {
		return ErrSelfTransfer
	}

	if err := c.ledger.Debit(ctx, from, value); err != nil {
		c.log.Warn("debit failed", "from", from, "amount", value, "error", err)
		return fmt.Errorf("%w: %v", ErrDebitFailed, err)
	}

	if err := c.ledger.Credit(ctx, to, value); err != nil {
		c.log.Error("credit failed, reversing debit", "from", from, "to", to, "amount", value, "error", err)
		if revErr := c.ledger.ReverseDebit(ctx, from, value); revErr != nil {
			c.log.Error("debit reversal failed, ledger needs manual repair",
				"from", from, "amount", value, "error", revErr)
		}
		return fmt.Errorf("%w: %v", ErrCreditFailed, err)
	}

	c.log.Info("tip sent", "from", from, "to", to, "amount", value)
	return nil
}
