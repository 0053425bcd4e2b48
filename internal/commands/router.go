// Package commands routes parsed chat commands to the ledger, transfer and
// packet components and renders reply text. It knows nothing about the chat
// platform beyond sender, channel and whether the message was private.
package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/tipbot/internal/amount"
	"github.com/suspectuso/tipbot/internal/metrics"
	"github.com/suspectuso/tipbot/internal/packet"
	"github.com/suspectuso/tipbot/internal/storage"
)

// Request is one inbound command. Args excludes the command prefix.
type Request struct {
	SenderID   string
	SenderName string
	ChannelID  string
	Direct     bool
	Args       []string
	PacketID   string // set when the claim came from a packet button
}

// Response is the reply to post where the command came from.
type Response struct {
	Text     string
	PacketID string // set when the reply announces a new packet
}

// Ledger is the account surface the commands use.
type Ledger interface {
	// LockAccount must be held from the balance read until the debit that
	// depends on it.
	LockAccount(id string) (unlock func())
	EnsureAccount(ctx context.Context, id string) (*storage.Account, error)
	BalanceOf(ctx context.Context, id string) (decimal.Decimal, error)
	Withdraw(ctx context.Context, id, dest string, value decimal.Decimal) (string, error)
	Accounts(ctx context.Context) ([]storage.Account, error)
	OperatorBalance(ctx context.Context) (decimal.Decimal, error)
	TxCost() decimal.Decimal
}

type Transfers interface {
	Send(ctx context.Context, from, to string, value decimal.Decimal) error
}

type Packets interface {
	Create(ctx context.Context, req packet.CreateRequest) (*packet.Packet, error)
	Claim(ctx context.Context, channelID, claimantID, packetID string) (*packet.Claim, error)
}

type Amounts interface {
	Resolve(ctx context.Context, token string, balance decimal.Decimal, mode amount.Mode) (decimal.Decimal, error)
	ToFiat(ctx context.Context, value decimal.Decimal, ticker string) (decimal.Decimal, error)
	IsTicker(s string) bool
	MaxTip() decimal.Decimal
	MaxPayout() decimal.Decimal
}

type Suspender interface {
	Suspend(minutes int) (time.Time, error)
}

type Tickers interface {
	SupportedTickers() []string
}

// Member is a chat user the directory knows about.
type Member struct {
	ID   string
	Name string
}

// Directory resolves mentions and display names.
type Directory interface {
	// Lookup accepts "<@id>" or "@username".
	Lookup(token string) (Member, bool)
	Name(id string) string
}

// Notifier delivers private messages and audit lines. Delivery is best effort.
type Notifier interface {
	Direct(ctx context.Context, userID, text string)
	Audit(ctx context.Context, text string)
}

// Options are the presentation settings of the router.
type Options struct {
	Command     string // e.g. "/tip"
	Symbol      string // display symbol of the base currency
	ExplorerURL string
	MaxShares   int
	PacketTTL   time.Duration
	Admins      map[string]bool
}

type Router struct {
	ledger    Ledger
	transfers Transfers
	packets   Packets
	amounts   Amounts
	sweeper   Suspender
	tickers   Tickers
	members   Directory
	notify    Notifier
	opts      Options
	log       *slog.Logger
}

// Deps groups the collaborators of a Router.
type Deps struct {
	Ledger    Ledger
	Transfers Transfers
	Packets   Packets
	Amounts   Amounts
	Sweeper   Suspender
	Tickers   Tickers
	Members   Directory
	Notifier  Notifier
}

func NewRouter(d Deps, opts Options, log *slog.Logger) *Router {
	if opts.Symbol == "" {
		opts.Symbol = "ZEN"
	}
	return &Router{
		ledger:    d.Ledger,
		transfers: d.Transfers,
		packets:   d.Packets,
		amounts:   d.Amounts,
		sweeper:   d.Sweeper,
		tickers:   d.Tickers,
		members:   d.Members,
		notify:    d.Notifier,
		opts:      opts,
		log:       log,
	}
}

type handlerFunc func(ctx context.Context, req Request) (Response, error)

// scope says where a verb may be used.
type scope int

const (
	anywhere scope = iota
	directOnly
	channelOnly
)

type route struct {
	handle handlerFunc
	scope  scope
	admin  bool
}

func (r *Router) routes() map[string]route {
	return map[string]route{
		"help":      {r.help, directOnly, false},
		"balance":   {r.balance, directOnly, false},
		"deposit":   {r.deposit, directOnly, false},
		"withdraw":  {r.withdraw, directOnly, false},
		"each":      {r.each, channelOnly, false},
		"luck":      {r.luck, channelOnly, false},
		"open":      {r.open, channelOnly, false},
		"suspend":   {r.suspend, anywhere, true},
		"payout":    {r.payout, channelOnly, true},
		"multipay":  {r.multipay, channelOnly, true},
		"checkbals": {r.checkbals, directOnly, true},
	}
}

// Handle runs one command and returns the reply. It never returns an empty
// reply for a recognized command.
func (r *Router) Handle(ctx context.Context, req Request) Response {
	verb := "help"
	if len(req.Args) > 0 {
		verb = strings.ToLower(req.Args[0])
	}

	rt, ok := r.routes()[verb]
	if !ok {
		verb = "tip"
		rt = route{r.tip, channelOnly, false}
	}

	start := time.Now()
	resp, err := r.run(ctx, req, rt)
	metrics.CommandDuration.WithLabelValues(verb).Observe(time.Since(start).Seconds())
	metrics.CommandsTotal.WithLabelValues(verb, outcome(err)).Inc()

	if err != nil {
		resp.Text = r.errorText(verb, req, err)
	}
	return resp
}

func (r *Router) run(ctx context.Context, req Request, rt route) (Response, error) {
	if rt.admin && !r.isAdmin(req.SenderID) {
		return Response{}, replyf("That is an invalid command. Check with %s help", r.opts.Command)
	}
	switch {
	case rt.scope == directOnly && !req.Direct:
		return Response{}, replyf("Send me this command in a direct message!")
	case rt.scope == channelOnly && req.Direct:
		return Response{}, replyf("You can't send me this command in a DM")
	}
	return rt.handle(ctx, req)
}

func (r *Router) isAdmin(id string) bool {
	return r.opts.Admins[id]
}

func (r *Router) symbol() string {
	return r.opts.Symbol
}

func (r *Router) fmtAmount(v decimal.Decimal) string {
	return v.Truncate(amount.Precision).String()
}

func (r *Router) txLink(hash string) string {
	return r.opts.ExplorerURL + "/tx/" + hash
}
