// Package ledger computes member balances and applies debits and credits.
//
// A member's balance is the on-chain balance of their custodial address plus
// everything already swept from it (deposited) plus tips received, minus
// everything spent. All arithmetic happens in base units.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/suspectuso/tipbot/internal/amount"
	"github.com/suspectuso/tipbot/internal/chain"
	"github.com/suspectuso/tipbot/internal/metrics"
	"github.com/suspectuso/tipbot/internal/pending"
	"github.com/suspectuso/tipbot/internal/storage"
)

var (
	ErrTransferPending = errors.New("transfer already pending")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrBelowFee        = errors.New("amount does not cover the transfer fee")
	ErrDebitAfterSend  = errors.New("transfer sent but debit failed")
)

// Chain is the blockchain client surface the ledger needs.
type Chain interface {
	Balance(ctx context.Context, address string) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Send(ctx context.Context, t chain.Transfer) (string, error)
	Mined(ctx context.Context, hash string) (bool, error)
	TxCost() *big.Int
}

// Ledger owns account balances and custodial secrets.
type Ledger struct {
	store    storage.Store
	chain    Chain
	pending  *pending.Tracker
	operator string // hex key of the pooled wallet
	opAddr   string
	timeout  time.Duration
	locks    *AccountLocks
	log      *slog.Logger
}

// New creates a ledger. operatorKey controls the pooled wallet sweeps land in.
func New(store storage.Store, c Chain, tracker *pending.Tracker, operatorKey string, timeout time.Duration, log *slog.Logger) (*Ledger, error) {
	opAddr, err := chain.AddressOf(operatorKey)
	if err != nil {
		return nil, fmt.Errorf("operator key: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Ledger{
		store:    store,
		chain:    c,
		pending:  tracker,
		operator: operatorKey,
		opAddr:   opAddr,
		timeout:  timeout,
		locks:    NewAccountLocks(),
		log:      log,
	}, nil
}

// OperatorAddress is the pooled wallet address.
func (l *Ledger) OperatorAddress() string {
	return l.opAddr
}

// TxCost is the fixed fee of one on-chain transfer.
func (l *Ledger) TxCost() decimal.Decimal {
	return chain.FromBase(l.chain.TxCost())
}

// LockAccount reserves id's balance until unlock is called. A balance check
// and the debit it guards must run under one lock, otherwise two concurrent
// commands can both pass the check and overdraw the account. Debit itself
// does not take the lock.
func (l *Ledger) LockAccount(id string) (unlock func()) {
	return l.locks.Lock(id)
}

// EnsureAccount looks up id, creating it with a fresh custodial keypair on first sight.
func (l *Ledger) EnsureAccount(ctx context.Context, id string) (*storage.Account, error) {
	a, err := l.store.GetAccount(ctx, id)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get account: %w", err)
	}

	addr, secret, err := chain.NewKeypair()
	if err != nil {
		return nil, err
	}
	a = storage.NewAccount(id, addr, secret)
	if err := l.store.CreateAccount(ctx, a); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// lost a race with another handler
			return l.store.GetAccount(ctx, id)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	l.log.Info("account created", "account_id", id, "address", addr)
	return a, nil
}

// BalanceOf returns id's available balance truncated to display precision.
// When the custodial address holds more than twice the transfer fee it is
// swept into the pooled wallet before returning.
func (l *Ledger) BalanceOf(ctx context.Context, id string) (decimal.Decimal, error) {
	wei, err := l.BalanceWei(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return chain.FromBase(wei).Truncate(amount.Precision), nil
}

// BalanceWei is BalanceOf in base units.
func (l *Ledger) BalanceWei(ctx context.Context, id string) (*big.Int, error) {
	a, err := l.EnsureAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	onChain, block, err := l.observe(ctx, a.Address)
	if err != nil {
		return nil, err
	}

	// A sweep already submitted for this account is counted in deposited.
	// Until it is mined the address still holds the swept coins, so they are
	// taken off the reading. Once mined, whatever is there is a new deposit.
	inFlight := false
	if e, ok := l.pending.InFlight(a.ID, block); ok {
		inFlight = true
		if e.Amount != nil && onChain.Cmp(e.Amount) >= 0 && !l.sweepMined(ctx, a.ID, e.Hash) {
			onChain = new(big.Int).Sub(onChain, e.Amount)
		}
	}

	bal := total(onChain, a)

	if !inFlight && l.sweepable(onChain) {
		if _, err := l.sweep(ctx, a, onChain, block); err != nil && !errors.Is(err, ErrTransferPending) {
			l.log.Warn("opportunistic sweep failed", "account_id", a.ID, "error", err)
		}
	}

	return bal, nil
}

// Credit adds value to id's received counter.
func (l *Ledger) Credit(ctx context.Context, id string, value decimal.Decimal) error {
	return l.add(ctx, id, storage.FieldReceived, value)
}

// Debit adds value to id's spent counter.
func (l *Ledger) Debit(ctx context.Context, id string, value decimal.Decimal) error {
	return l.add(ctx, id, storage.FieldSpent, value)
}

// ReverseDebit undoes a Debit whose matching credit could not be applied.
func (l *Ledger) ReverseDebit(ctx context.Context, id string, value decimal.Decimal) error {
	delta, err := toUnits(value)
	if err != nil {
		return err
	}
	_, err = l.store.SubtractAmount(ctx, id, storage.FieldSpent, delta)
	metrics.LedgerWritesTotal.WithLabelValues("spent_reversal", metrics.Outcome(err)).Inc()
	if err != nil {
		return fmt.Errorf("reverse debit %s: %w", id, err)
	}
	return nil
}

func (l *Ledger) add(ctx context.Context, id string, field storage.Field, value decimal.Decimal) error {
	delta, err := toUnits(value)
	if err != nil {
		return err
	}
	if _, err := l.EnsureAccount(ctx, id); err != nil {
		return err
	}
	_, err = l.store.AddAmount(ctx, id, field, delta)
	metrics.LedgerWritesTotal.WithLabelValues(string(field), metrics.Outcome(err)).Inc()
	if err != nil {
		return fmt.Errorf("update %s of %s: %w", field, id, err)
	}
	return nil
}

// SweepAccount moves the custodial surplus of a into the pooled wallet. It
// returns the value credited to deposited, zero when nothing was worth moving.
func (l *Ledger) SweepAccount(ctx context.Context, a *storage.Account) (decimal.Decimal, error) {
	onChain, block, err := l.observe(ctx, a.Address)
	if err != nil {
		return decimal.Zero, err
	}
	if !l.sweepable(onChain) {
		return decimal.Zero, nil
	}
	value, err := l.sweep(ctx, a, onChain, block)
	if err != nil {
		return decimal.Zero, err
	}
	return chain.FromBase(value), nil
}

func (l *Ledger) sweepable(onChain *big.Int) bool {
	threshold := new(big.Int).Mul(l.chain.TxCost(), big.NewInt(2))
	return onChain.Cmp(threshold) > 0
}

func (l *Ledger) sweep(ctx context.Context, a *storage.Account, onChain *big.Int, block uint64) (*big.Int, error) {
	if !l.pending.TryBegin(a.ID, block) {
		return nil, ErrTransferPending
	}

	value := new(big.Int).Sub(onChain, l.chain.TxCost())

	sendCtx, cancel := context.WithTimeout(ctx, l.timeout)
	hash, err := l.chain.Send(sendCtx, chain.Transfer{Secret: a.Secret, To: l.opAddr, Value: value})
	cancel()
	metrics.ChainTransfersTotal.WithLabelValues("sweep", metrics.Outcome(err)).Inc()
	if err != nil {
		l.pending.Release(a.ID)
		return nil, fmt.Errorf("sweep %s: %w", a.ID, err)
	}
	l.pending.Complete(a.ID, hash, onChain)

	delta, _ := uint256.FromBig(value)
	if _, err := l.store.AddAmount(ctx, a.ID, storage.FieldDeposited, delta); err != nil {
		metrics.LedgerWritesTotal.WithLabelValues(string(storage.FieldDeposited), "error").Inc()
		l.log.Error("sweep sent but deposit not recorded", "account_id", a.ID, "tx", hash, "value", value, "error", err)
		return nil, fmt.Errorf("record deposit %s: %w", a.ID, err)
	}
	metrics.LedgerWritesTotal.WithLabelValues(string(storage.FieldDeposited), "ok").Inc()

	l.log.Info("custodial funds swept", "account_id", a.ID, "tx", hash, "value", chain.FromBase(value))
	return value, nil
}

// Withdraw sends value minus the transfer fee from the pooled wallet to
// dest and debits value from id. Only one withdrawal per destination may be
// in flight.
func (l *Ledger) Withdraw(ctx context.Context, id, dest string, value decimal.Decimal) (string, error) {
	if !chain.IsAddress(dest) {
		return "", ErrInvalidAddress
	}
	gross := chain.ToBase(value)
	net := new(big.Int).Sub(gross, l.chain.TxCost())
	if net.Sign() <= 0 {
		return "", ErrBelowFee
	}

	block, err := l.blockNumber(ctx)
	if err != nil {
		return "", err
	}
	if !l.pending.TryBegin(dest, block) {
		return "", ErrTransferPending
	}

	sendCtx, cancel := context.WithTimeout(ctx, l.timeout)
	hash, err := l.chain.Send(sendCtx, chain.Transfer{Secret: l.operator, To: dest, Value: net})
	cancel()
	metrics.ChainTransfersTotal.WithLabelValues("withdraw", metrics.Outcome(err)).Inc()
	if err != nil {
		l.pending.Release(dest)
		return "", fmt.Errorf("withdraw: %w", err)
	}
	l.pending.Complete(dest, hash, gross)

	if err := l.Debit(ctx, id, value); err != nil {
		l.log.Error("withdrawal sent but not debited", "account_id", id, "tx", hash, "amount", value, "error", err)
		return hash, fmt.Errorf("%w: %v", ErrDebitAfterSend, err)
	}

	l.log.Info("withdrawal sent", "account_id", id, "to", dest, "tx", hash, "amount", value)
	return hash, nil
}

// Accounts lists every account.
func (l *Ledger) Accounts(ctx context.Context) ([]storage.Account, error) {
	return l.store.ListAccounts(ctx)
}

// OperatorBalance returns the pooled wallet's on-chain balance.
func (l *Ledger) OperatorBalance(ctx context.Context) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	bal, err := l.chain.Balance(ctx, l.opAddr)
	if err != nil {
		return decimal.Zero, err
	}
	return chain.FromBase(bal), nil
}

// sweepMined reports whether the sweep hash has a receipt. Lookup failures
// count as not mined, which can briefly under-report a fresh deposit but
// never counts the swept coins twice.
func (l *Ledger) sweepMined(ctx context.Context, accountID, hash string) bool {
	if hash == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	mined, err := l.chain.Mined(ctx, hash)
	if err != nil {
		l.log.Warn("sweep receipt lookup failed", "account_id", accountID, "tx", hash, "error", err)
		return false
	}
	return mined
}

// PurgePending drops expired pending entries and returns how many went.
func (l *Ledger) PurgePending(ctx context.Context) (int, error) {
	block, err := l.blockNumber(ctx)
	if err != nil {
		return 0, err
	}
	return l.pending.Sweep(block), nil
}

func (l *Ledger) observe(ctx context.Context, address string) (*big.Int, uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	bal, err := l.chain.Balance(ctx, address)
	if err != nil {
		return nil, 0, err
	}
	block, err := l.chain.BlockNumber(ctx)
	if err != nil {
		return nil, 0, err
	}
	return bal, block, nil
}

func (l *Ledger) blockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.chain.BlockNumber(ctx)
}

func total(onChain *big.Int, a *storage.Account) *big.Int {
	out := new(big.Int).Set(onChain)
	out.Add(out, a.Deposited.ToBig())
	out.Add(out, a.Received.ToBig())
	out.Sub(out, a.Spent.ToBig())
	return out
}

func toUnits(value decimal.Decimal) (*uint256.Int, error) {
	if value.Sign() <= 0 {
		return nil, amount.ErrNonPositive
	}
	delta, overflow := uint256.FromBig(chain.ToBase(value))
	if overflow {
		return nil, storage.ErrOverflow
	}
	return delta, nil
}
