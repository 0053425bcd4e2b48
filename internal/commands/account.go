package commands

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/tipbot/internal/amount"
	"github.com/suspectuso/tipbot/internal/ledger"
)

func (r *Router) balance(ctx context.Context, req Request) (Response, error) {
	bal, err := r.ledger.BalanceOf(ctx, req.SenderID)
	if err != nil {
		return Response{}, fmt.Errorf("balance: %w", err)
	}

	if len(req.Args) > 1 && r.amounts.IsTicker(req.Args[1]) {
		ticker := strings.ToLower(req.Args[1])
		value, err := r.amounts.ToFiat(ctx, bal, ticker)
		if err != nil {
			r.log.Warn("fiat conversion failed", "ticker", ticker, "error", err)
			return Response{}, replyf("Error getting currency rate for %s", html.EscapeString(ticker))
		}
		return Response{Text: fmt.Sprintf("You have <b>%s %s</b> (%s %s)",
			value.StringFixed(2), strings.ToUpper(ticker), r.fmtAmount(bal), r.symbol())}, nil
	}

	return Response{Text: fmt.Sprintf("You have <b>%s</b> %s", r.fmtAmount(bal), r.symbol())}, nil
}

func (r *Router) deposit(ctx context.Context, req Request) (Response, error) {
	a, err := r.ledger.EnsureAccount(ctx, req.SenderID)
	if err != nil {
		return Response{}, fmt.Errorf("deposit: %w", err)
	}
	return Response{Text: fmt.Sprintf(
		"<b>WARNING: do not stake or forge with this address, your %s is consolidated in the bot!</b>\n\n"+
			"Your deposit address is: <code>%s</code>", r.symbol(), a.Address)}, nil
}

// withdraw <amount> <address>
func (r *Router) withdraw(ctx context.Context, req Request) (Response, error) {
	if len(req.Args) < 3 {
		return Response{}, replyf("Usage: %s withdraw &lt;amount&gt; &lt;address&gt;", r.opts.Command)
	}
	dest := req.Args[2]

	unlock := r.ledger.LockAccount(req.SenderID)
	defer unlock()

	bal, err := r.ledger.BalanceOf(ctx, req.SenderID)
	if err != nil {
		return Response{}, fmt.Errorf("balance: %w", err)
	}
	value, err := r.resolve(ctx, req.Args[1], bal, amount.ModeWithdraw)
	if err != nil {
		return Response{}, err
	}

	hash, err := r.ledger.Withdraw(ctx, req.SenderID, dest, value)
	if err != nil && !(hash != "" && errors.Is(err, ledger.ErrDebitAfterSend)) {
		return Response{}, err
	}

	return Response{Text: fmt.Sprintf("You withdrew <b>%s %s</b> (-%s fee) to <code>%s</code> (%s)",
		r.fmtAmount(value), r.symbol(), r.fmtAmount(r.ledger.TxCost()), html.EscapeString(dest), r.txLink(hash))}, nil
}

// resolve validates an amount token, naming the applicable cap on overflow.
func (r *Router) resolve(ctx context.Context, token string, balance decimal.Decimal, mode amount.Mode) (decimal.Decimal, error) {
	value, err := r.amounts.Resolve(ctx, token, balance, mode)
	if errors.Is(err, amount.ErrOverMaximum) {
		limit := r.amounts.MaxTip()
		if mode == amount.ModePayout {
			limit = r.amounts.MaxPayout()
		}
		return decimal.Zero, replyf("What? Over the maximum of %s %s!", limit.String(), r.symbol())
	}
	return value, err
}

// AccountView is an account as shown to people: the stored record joined
// with a display name and live balance. It is never written back.
type AccountView struct {
	ID      string
	Name    string
	Address string
	Balance decimal.Decimal
}

func (r *Router) view(ctx context.Context, id string) (AccountView, error) {
	a, err := r.ledger.EnsureAccount(ctx, id)
	if err != nil {
		return AccountView{}, err
	}
	bal, err := r.ledger.BalanceOf(ctx, id)
	if err != nil {
		return AccountView{}, err
	}
	return AccountView{ID: a.ID, Name: r.name(id), Address: a.Address, Balance: bal}, nil
}

func (r *Router) name(id string) string {
	if r.members != nil {
		if n := r.members.Name(id); n != "" {
			return html.EscapeString(n)
		}
	}
	return id
}
