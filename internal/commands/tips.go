package commands

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/tipbot/internal/amount"
	"github.com/suspectuso/tipbot/internal/packet"
)

// tip: <@user> <amount> [message]
func (r *Router) tip(ctx context.Context, req Request) (Response, error) {
	if len(req.Args) < 2 || !isMention(req.Args[0]) {
		return Response{}, replyf("That is an invalid command. Check with %s help", r.opts.Command)
	}

	unlock := r.ledger.LockAccount(req.SenderID)
	defer unlock()

	bal, err := r.ledger.BalanceOf(ctx, req.SenderID)
	if err != nil {
		return Response{}, fmt.Errorf("balance: %w", err)
	}
	value, err := r.resolve(ctx, req.Args[1], bal, amount.ModeTip)
	if err != nil {
		return Response{}, err
	}

	target, ok := r.lookup(req.Args[0])
	if !ok {
		return Response{}, replyf("I can't find a user in your tip ...")
	}
	if target.ID == req.SenderID {
		return Response{}, replyf("You can't tip yourself ...")
	}

	if err := r.transfers.Send(ctx, req.SenderID, target.ID, value); err != nil {
		return Response{}, err
	}
	unlock()

	msg := message(req.Args, 2)
	r.notifyTip(ctx, req, target, value, msg)

	return Response{Text: fmt.Sprintf("%s sent <b>%s %s</b> to %s",
		r.senderName(req), r.fmtAmount(value), r.symbol(), html.EscapeString(target.Name))}, nil
}

func (r *Router) each(ctx context.Context, req Request) (Response, error) {
	return r.drop(ctx, req, packet.ModeEqual)
}

func (r *Router) luck(ctx context.Context, req Request) (Response, error) {
	return r.drop(ctx, req, packet.ModeRandom)
}

// each|luck <amount> <n> [message]
func (r *Router) drop(ctx context.Context, req Request, mode packet.Mode) (Response, error) {
	if len(req.Args) < 3 {
		return Response{}, replyf("Incomplete command. DM me %s help", r.opts.Command)
	}

	n, err := strconv.Atoi(req.Args[2])
	if err != nil || n < 1 {
		return Response{}, replyf("I don't know how to tip that many people!")
	}
	if n > r.opts.MaxShares {
		return Response{}, replyf("%d people is the maximum per packet!", r.opts.MaxShares)
	}

	bal, err := r.ledger.BalanceOf(ctx, req.SenderID)
	if err != nil {
		return Response{}, fmt.Errorf("balance: %w", err)
	}
	value, err := r.resolve(ctx, req.Args[1], bal, amount.ModeTip)
	if err != nil {
		return Response{}, err
	}

	p, err := r.packets.Create(ctx, packet.CreateRequest{
		ChannelID: req.ChannelID,
		CreatorID: req.SenderID,
		Mode:      mode,
		Total:     value,
		Shares:    n,
		Message:   message(req.Args, 3),
	})
	if err != nil {
		return Response{}, err
	}

	text := fmt.Sprintf("New <code>%s</code> packet created by %s with total <b>%s %s</b>! "+
		"The first %d members can claim a portion with <code>%s open</code>",
		mode, r.senderName(req), r.fmtAmount(p.Total), r.symbol(), len(p.Shares), r.opts.Command)
	if p.Message != "" {
		text += "\n\n" + html.EscapeString(p.Message)
	}
	return Response{Text: text, PacketID: p.ID}, nil
}

func (r *Router) open(ctx context.Context, req Request) (Response, error) {
	c, err := r.packets.Claim(ctx, req.ChannelID, req.SenderID, req.PacketID)
	if err != nil {
		return Response{}, err
	}

	creator := r.name(c.CreatorID)
	claimant := r.senderName(req)
	r.notify.Direct(ctx, c.CreatorID, fmt.Sprintf("%s received your tip (%s %s)!", claimant, r.fmtAmount(c.Amount), r.symbol()))
	r.notify.Direct(ctx, req.SenderID, fmt.Sprintf("%s sent you a <b>%s %s</b> tip!", creator, r.fmtAmount(c.Amount), r.symbol()))

	text := fmt.Sprintf("%s opened <b>%s %s</b> from %s's packet", claimant, r.fmtAmount(c.Amount), r.symbol(), creator)
	if c.Last {
		text += fmt.Sprintf("\nThat was the last piece! The packet from %s is now empty, thank you!", creator)
	} else {
		text += fmt.Sprintf(" (%d left)", c.Remaining)
	}
	return Response{Text: text}, nil
}

func (r *Router) notifyTip(ctx context.Context, req Request, target Member, value decimal.Decimal, msg string) {
	r.notify.Direct(ctx, req.SenderID, fmt.Sprintf("%s received your tip (%s %s)!",
		html.EscapeString(target.Name), r.fmtAmount(value), r.symbol()))

	text := fmt.Sprintf("%s sent you a <b>%s %s</b> tip!", r.senderName(req), r.fmtAmount(value), r.symbol())
	if msg != "" {
		text += " " + html.EscapeString(msg)
	}
	r.notify.Direct(ctx, target.ID, text)
}

func (r *Router) lookup(token string) (Member, bool) {
	if r.members == nil {
		return Member{}, false
	}
	m, ok := r.members.Lookup(token)
	if ok && m.Name == "" {
		m.Name = m.ID
	}
	return m, ok
}

func (r *Router) senderName(req Request) string {
	if req.SenderName != "" {
		return html.EscapeString(req.SenderName)
	}
	return r.name(req.SenderID)
}

func isMention(token string) bool {
	return strings.HasPrefix(token, "<@") || strings.HasPrefix(token, "@")
}

// message joins the free text starting at args[from].
func message(args []string, from int) string {
	if len(args) <= from {
		return ""
	}
	return strings.Join(args[from:], " ")
}
