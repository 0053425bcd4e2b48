package commands

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/tipbot/internal/amount"
)

var suspendArg = regexp.MustCompile(`^(100|[1-9][0-9]?)$`)

// suspend [minutes]
func (r *Router) suspend(ctx context.Context, req Request) (Response, error) {
	minutes := 0
	if len(req.Args) > 1 {
		if !suspendArg.MatchString(req.Args[1]) {
			return Response{}, replyf("Minutes must be between 1 and 100. Suspend failed.")
		}
		minutes, _ = strconv.Atoi(req.Args[1])
	}

	until, err := r.sweeper.Suspend(minutes)
	if err != nil {
		return Response{}, err
	}

	text := fmt.Sprintf("Scheduled background task suspended until %s UTC.", until.UTC().Format("15:04"))
	r.notify.Audit(ctx, fmt.Sprintf("%s by %s", text, r.senderName(req)))
	return Response{Text: text}, nil
}

// payout <@user> <amount> [message]
func (r *Router) payout(ctx context.Context, req Request) (Response, error) {
	if len(req.Args) < 3 {
		return Response{}, replyf("Usage: %s payout &lt;@user&gt; &lt;amount&gt; [message]", r.opts.Command)
	}

	unlock := r.ledger.LockAccount(req.SenderID)
	defer unlock()

	value, err := r.resolvePayout(ctx, req, req.Args[2])
	if err != nil {
		return Response{}, err
	}

	target, ok := r.lookup(req.Args[1])
	if !ok {
		return Response{}, replyf("I can't find a user in your payout ...")
	}
	if target.ID == req.SenderID {
		return Response{}, replyf("You can't pay yourself ...")
	}

	if err := r.transfers.Send(ctx, req.SenderID, target.ID, value); err != nil {
		return Response{}, err
	}
	unlock()

	msg := message(req.Args, 3)
	r.notifyTip(ctx, req, target, value, msg)
	r.auditPayout(ctx, target, value, msg)

	return Response{Text: fmt.Sprintf("Payout of <b>%s %s</b> sent to %s",
		r.fmtAmount(value), r.symbol(), html.EscapeString(target.Name))}, nil
}

// multipay <amount> <@user...> [message]
func (r *Router) multipay(ctx context.Context, req Request) (Response, error) {
	if len(req.Args) < 3 {
		return Response{}, replyf("Usage: %s multipay &lt;amount&gt; @user1 @user2 ... [message]", r.opts.Command)
	}

	var (
		recipients []Member
		unfound    []string
		idx        = 2
	)
	for ; idx < len(req.Args) && isMention(req.Args[idx]); idx++ {
		m, ok := r.lookup(req.Args[idx])
		if !ok {
			unfound = append(unfound, html.EscapeString(req.Args[idx]))
			continue
		}
		recipients = append(recipients, m)
	}
	if len(unfound) > 0 {
		return Response{}, replyf("Unable to find the following users:\n%s", strings.Join(unfound, "\n"))
	}
	if len(recipients) == 0 {
		return Response{}, replyf("Unable to find any recipients")
	}
	for _, m := range recipients {
		if m.ID == req.SenderID {
			return Response{}, replyf("You can't pay yourself. Please remove %s", html.EscapeString(m.Name))
		}
	}
	msg := message(req.Args, idx)

	unlock := r.ledger.LockAccount(req.SenderID)
	defer unlock()

	value, err := r.resolvePayout(ctx, req, req.Args[1])
	if err != nil {
		return Response{}, err
	}

	bal, err := r.ledger.BalanceOf(ctx, req.SenderID)
	if err != nil {
		return Response{}, fmt.Errorf("balance: %w", err)
	}
	total := value.Mul(decimal.NewFromInt(int64(len(recipients))))
	if total.GreaterThan(bal) {
		return Response{}, replyf("Insufficient funds. %s %s needed.", r.fmtAmount(total.Sub(bal)), r.symbol())
	}

	paid := 0
	for _, m := range recipients {
		if err := r.transfers.Send(ctx, req.SenderID, m.ID, value); err != nil {
			r.log.Error("multipay stopped", "sender", req.SenderID, "recipient", m.ID, "paid", paid, "error", err)
			return Response{}, replyf("Sending to %s failed after %d of %d payouts. Remaining payouts were not sent.",
				html.EscapeString(m.Name), paid, len(recipients))
		}
		paid++
		r.notifyTip(ctx, req, m, value, msg)
		r.auditPayout(ctx, m, value, msg)
	}

	return Response{Text: fmt.Sprintf("Sent <b>%s %s</b> to each of %d users (total %s %s)",
		r.fmtAmount(value), r.symbol(), paid, r.fmtAmount(total), r.symbol())}, nil
}

// resolvePayout validates a payout amount. The requester balance is only
// read when the token needs it.
func (r *Router) resolvePayout(ctx context.Context, req Request, token string) (decimal.Decimal, error) {
	bal := decimal.Zero
	if strings.EqualFold(token, "all") {
		var err error
		if bal, err = r.ledger.BalanceOf(ctx, req.SenderID); err != nil {
			return decimal.Zero, fmt.Errorf("balance: %w", err)
		}
	}
	return r.resolve(ctx, token, bal, amount.ModePayout)
}

func (r *Router) auditPayout(ctx context.Context, target Member, value decimal.Decimal, msg string) {
	text := fmt.Sprintf("payout of %s %s sent to %s (%s)", r.fmtAmount(value), r.symbol(),
		html.EscapeString(target.Name), target.ID)
	if msg != "" {
		text += " " + html.EscapeString(msg)
	}
	r.notify.Audit(ctx, text)
}

// checkbals [list]
func (r *Router) checkbals(ctx context.Context, req Request) (Response, error) {
	list := len(req.Args) > 1 && strings.EqualFold(req.Args[1], "list")

	accounts, err := r.ledger.Accounts(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("list accounts: %w", err)
	}

	usersTotal := decimal.Zero
	var lines []string
	for _, a := range accounts {
		v, err := r.view(ctx, a.ID)
		if err != nil {
			r.log.Warn("checkbals: balance unavailable", "account_id", a.ID, "error", err)
			lines = append(lines, fmt.Sprintf("%s: error", r.name(a.ID)))
			continue
		}
		usersTotal = usersTotal.Add(v.Balance)
		if list {
			lines = append(lines, fmt.Sprintf("%s: %s", v.Name, r.fmtAmount(v.Balance)))
		}
	}

	botBal, err := r.ledger.OperatorBalance(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("operator balance: %w", err)
	}

	text := fmt.Sprintf("Total user balance: <b>%s %s</b>. Bot balance: <b>%s %s</b>.",
		r.fmtAmount(usersTotal), r.symbol(), r.fmtAmount(botBal), r.symbol())
	if diff := botBal.Sub(usersTotal); diff.IsNegative() {
		text += fmt.Sprintf(" Bot needs %s %s to cover all users.", r.fmtAmount(diff.Neg()), r.symbol())
	}
	if len(lines) > 0 {
		text += "\n\nUser balances:\n" + strings.Join(lines, "\n")
	}
	return Response{Text: text}, nil
}
