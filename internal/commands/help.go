package commands

import (
	"context"
	"fmt"
	"html"
	"strings"
)

func (r *Router) help(ctx context.Context, req Request) (Response, error) {
	topic := ""
	if len(req.Args) > 1 {
		topic = strings.ToLower(req.Args[1])
	}

	switch topic {
	case "":
		text := r.userHelp()
		if r.isAdmin(req.SenderID) {
			text += "\n\n" + r.adminHelp()
		}
		return Response{Text: text}, nil
	case "currency":
		return Response{Text: "Supported currencies (fiat and coins):\n\n" + strings.Join(r.tickers.SupportedTickers(), ", ")}, nil
	case "admin":
		if !r.isAdmin(req.SenderID) {
			return Response{}, replyf("That is an invalid command. Check with %s help", r.opts.Command)
		}
		return Response{Text: r.adminHelp()}, nil
	default:
		return Response{}, replyf("Unknown help: %s. Available help: currency", html.EscapeString(topic))
	}
}

func (r *Router) userHelp() string {
	c, s := r.opts.Command, r.symbol()
	minutes := int(r.opts.PacketTTL.Minutes())

	var b strings.Builder
	b.WriteString("Here are the commands you can use for your account and to tip a single user:\n")
	fmt.Fprintf(&b, "<b>%s help</b> : display this message.\n\n", c)
	fmt.Fprintf(&b, "<b>%s deposit</b> : get an address to top up your balance (a transfer fee is taken from each deposit). "+
		"Staking from this address is not possible.\n\n", c)
	fmt.Fprintf(&b, "<b>%s balance [ticker]</b> : get your balance, optionally in another currency. "+
		"If a recent deposit is missing, wait for the next block and check again.\n\n", c)
	fmt.Fprintf(&b, "<b>%s withdraw &lt;amount&gt; &lt;address&gt;</b> : withdraw &lt;amount&gt; (or <code>all</code>) %s "+
		"to your 0x address.\n\n", c, s)
	fmt.Fprintf(&b, "<b>%s &lt;@user&gt; &lt;amount&gt; [message]</b> : tip a user. The maximum tip is %s %s. "+
		"Use <code>random</code> for a random amount below 0.1, or add a ticker such as <code>200czk</code> "+
		"(no space) to tip the equivalent in %s. Supported currencies: %s help currency\n\n",
		c, r.amounts.MaxTip(), s, s, c)
	b.WriteString("Commands for multiple users (one packet per channel, ")
	fmt.Fprintf(&b, "at most %d people, active for %d minutes before it can be replaced):\n", r.opts.MaxShares, minutes)
	fmt.Fprintf(&b, "<b>%s luck &lt;amount&gt; &lt;n&gt; [message]</b> : drop a packet divided <i>randomly</i> between the first n people to open it.\n", c)
	fmt.Fprintf(&b, "<b>%s each &lt;amount&gt; &lt;n&gt; [message]</b> : drop a packet divided <i>equally</i> between the first n people to open it.\n", c)
	fmt.Fprintf(&b, "<b>%s open</b> : open the latest packet dropped in the channel.", c)
	return b.String()
}

func (r *Router) adminHelp() string {
	c, s := r.opts.Command, r.symbol()

	var b strings.Builder
	b.WriteString("These are the <b>admin commands</b> you can use:\n")
	fmt.Fprintf(&b, "<b>%s suspend [minutes]</b> : suspend the scheduled sweep (1 to 100 minutes). "+
		"The chosen duration is kept as the default until restart.\n\n", c)
	fmt.Fprintf(&b, "<b>%s payout &lt;@user&gt; &lt;amount&gt; [message]</b> : pay a user up to %s %s. "+
		"Your balance is not checked, make sure it covers all payouts.\n\n", c, r.amounts.MaxPayout(), s)
	fmt.Fprintf(&b, "<b>%s multipay &lt;amount&gt; @user1 @user2 ... [message]</b> : pay the amount to each listed user. "+
		"Every user and your balance are checked before sending.\n\n", c)
	fmt.Fprintf(&b, "<b>%s checkbals [list]</b> : total of all user balances against the bot balance. "+
		"Add <code>list</code> for each user.", c)
	return b.String()
}
