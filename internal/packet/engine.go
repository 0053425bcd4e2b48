package packet

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/tipbot/internal/amount"
	"github.com/suspectuso/tipbot/internal/metrics"
)

// Balances reports a member's spendable balance.
type Balances interface {
	BalanceOf(ctx context.Context, id string) (decimal.Decimal, error)
	// LockAccount holds id's balance between the check and the payment.
	LockAccount(id string) (unlock func())
}

// Payer moves a share from the creator to the claimant.
type Payer interface {
	Send(ctx context.Context, from, to string, value decimal.Decimal) error
}

// CreateRequest describes a drop. Total must already be validated.
type CreateRequest struct {
	ChannelID string
	CreatorID string
	Mode      Mode
	Total     decimal.Decimal
	Shares    int
	Message   string
}

// Claim is the outcome of a successful claim.
type Claim struct {
	PacketID  string
	CreatorID string
	Amount    decimal.Decimal
	Last      bool
	Remaining int
	Message   string
}

type slot struct {
	mu     sync.Mutex
	packet *Packet
}

// Engine owns the active packet of every channel.
type Engine struct {
	balances  Balances
	payer     Payer
	ttl       time.Duration
	maxShares int
	log       *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	slots map[string]*slot

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewEngine(balances Balances, payer Payer, ttl time.Duration, maxShares int, log *slog.Logger) *Engine {
	return &Engine{
		balances:  balances,
		payer:     payer,
		ttl:       ttl,
		maxShares: maxShares,
		log:       log,
		now:       time.Now,
		slots:     make(map[string]*slot),
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// WithClock replaces the time source, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithRand replaces the share generator, for tests.
func (e *Engine) WithRand(rng *rand.Rand) *Engine {
	e.rng = rng
	return e
}

func (e *Engine) slot(channelID string) *slot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.slots[channelID]
	if !ok {
		s = &slot{}
		e.slots[channelID] = s
	}
	return s
}

func (e *Engine) expired(p *Packet) bool {
	return e.now().Sub(p.CreatedAt) >= e.ttl
}

// Create drops a packet in the channel, replacing an expired one.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*Packet, error) {
	if req.Shares < 1 || req.Shares > e.maxShares {
		return nil, fmt.Errorf("%w: must be 1 to %d", ErrInvalidShareCount, e.maxShares)
	}
	total := req.Total.Truncate(amount.Precision)
	if total.Sign() <= 0 {
		return nil, ErrShareTooSmall
	}

	s := e.slot(req.ChannelID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if p := s.packet; p != nil && !e.expired(p) {
		return nil, &InProgressError{
			Claimed:   len(p.ClaimedBy),
			Shares:    len(p.Shares),
			Remaining: e.ttl - e.now().Sub(p.CreatedAt),
		}
	}

	var (
		shares []decimal.Decimal
		err    error
	)
	switch req.Mode {
	case ModeRandom:
		e.rngMu.Lock()
		shares, err = splitRandom(total, req.Shares, e.rng)
		e.rngMu.Unlock()
	default:
		shares, err = splitEqual(total, req.Shares)
	}
	if err != nil {
		return nil, err
	}

	replaced := s.packet != nil
	p := newPacket(req.ChannelID, req.CreatorID, req.Mode, total, shares, req.Message, e.now())
	s.packet = p
	if !replaced {
		metrics.ActivePackets.Inc()
	}

	e.log.Info("packet created",
		"packet_id", p.ID,
		"channel_id", p.ChannelID,
		"creator", p.CreatorID,
		"mode", p.Mode.String(),
		"total", p.Total,
		"shares", len(p.Shares),
		"replaced", replaced,
	)
	return p.clone(), nil
}

// Claim pays the next share of the channel's packet to claimant. A non-empty
// packetID must match the active packet.
func (e *Engine) Claim(ctx context.Context, channelID, claimantID, packetID string) (*Claim, error) {
	s := e.slot(channelID)
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.packet
	if p == nil || (packetID != "" && packetID != p.ID) {
		return nil, ErrNoActivePacket
	}
	if claimantID == p.CreatorID {
		return nil, ErrSelfClaim
	}
	if p.hasClaimed(claimantID) {
		return nil, ErrAlreadyClaimed
	}

	share := p.Shares[len(p.ClaimedBy)]

	// the creator may be paying out of several channels at once
	unlock := e.balances.LockAccount(p.CreatorID)
	defer unlock()

	bal, err := e.balances.BalanceOf(ctx, p.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("creator balance: %w", err)
	}
	if bal.LessThan(share) {
		return nil, ErrCreatorInsufficientFunds
	}

	if err := e.payer.Send(ctx, p.CreatorID, claimantID, share); err != nil {
		return nil, err
	}

	p.ClaimedBy = append(p.ClaimedBy, claimantID)
	c := &Claim{
		PacketID:  p.ID,
		CreatorID: p.CreatorID,
		Amount:    share,
		Remaining: p.remaining(),
		Message:   p.Message,
	}
	if c.Remaining == 0 {
		c.Last = true
		s.packet = nil
		metrics.ActivePackets.Dec()
	}

	e.log.Info("packet claimed",
		"packet_id", p.ID,
		"channel_id", channelID,
		"claimant", claimantID,
		"amount", share,
		"remaining", c.Remaining,
	)
	return c, nil
}

// Active returns a copy of the channel's packet, if any. Expired packets are
// still returned until replaced.
func (e *Engine) Active(channelID string) (*Packet, bool) {
	s := e.slot(channelID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.packet == nil {
		return nil, false
	}
	return s.packet.clone(), true
}
