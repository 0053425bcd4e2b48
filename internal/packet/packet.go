// Package packet manages per-channel tip packets: a pool of funds split into
// shares that distinct members claim one at a time.
package packet

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/suspectuso/tipbot/internal/amount"
)

var (
	ErrPacketInProgress         = errors.New("packet in progress")
	ErrNoActivePacket           = errors.New("no active packet")
	ErrSelfClaim                = errors.New("cannot claim own packet")
	ErrAlreadyClaimed           = errors.New("already claimed")
	ErrCreatorInsufficientFunds = errors.New("creator has insufficient funds")
	ErrInvalidShareCount        = errors.New("invalid share count")
	ErrShareTooSmall            = errors.New("share too small")
)

// InProgressError reports the packet blocking a new drop.
type InProgressError struct {
	Claimed   int
	Shares    int
	Remaining time.Duration
}

func (e *InProgressError) Error() string {
	return fmt.Sprintf("packet in progress: %d of %d claimed, %s left",
		e.Claimed, e.Shares, e.Remaining.Round(time.Second))
}

func (e *InProgressError) Is(target error) bool {
	return target == ErrPacketInProgress
}

// Mode selects how the total is split.
type Mode int

const (
	ModeEqual Mode = iota
	ModeRandom
)

func (m Mode) String() string {
	if m == ModeRandom {
		return "luck"
	}
	return "each"
}

// Packet is one drop. Shares are consumed in order.
type Packet struct {
	ID        string
	ChannelID string
	CreatorID string
	Mode      Mode
	Total     decimal.Decimal
	Shares    []decimal.Decimal
	ClaimedBy []string
	Message   string
	CreatedAt time.Time
}

func (p *Packet) hasClaimed(id string) bool {
	for _, c := range p.ClaimedBy {
		if c == id {
			return true
		}
	}
	return false
}

func (p *Packet) remaining() int {
	return len(p.Shares) - len(p.ClaimedBy)
}

func (p *Packet) clone() *Packet {
	out := *p
	out.Shares = append([]decimal.Decimal(nil), p.Shares...)
	out.ClaimedBy = append([]string(nil), p.ClaimedBy...)
	return &out
}

func newPacket(channelID, creatorID string, mode Mode, total decimal.Decimal, shares []decimal.Decimal, msg string, now time.Time) *Packet {
	return &Packet{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		CreatorID: creatorID,
		Mode:      mode,
		Total:     total,
		Shares:    shares,
		Message:   msg,
		CreatedAt: now,
	}
}

// units is the number of minimal units in one coin.
var units = decimal.New(1, amount.Precision)

// splitEqual gives every share floor(total/n) minimal units.
func splitEqual(total decimal.Decimal, n int) ([]decimal.Decimal, error) {
	t := total.Mul(units).IntPart()
	each := t / int64(n)
	if each <= 0 {
		return nil, ErrShareTooSmall
	}
	share := decimal.New(each, -amount.Precision)

	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = share
	}
	return out, nil
}

// splitRandom draws n-1 shares from (0, total/n) and makes the last one the
// exact remainder, then shuffles so the big share can land anywhere.
func splitRandom(total decimal.Decimal, n int, rng *rand.Rand) ([]decimal.Decimal, error) {
	t := total.Mul(units).IntPart()
	if n == 1 {
		if t <= 0 {
			return nil, ErrShareTooSmall
		}
		return []decimal.Decimal{decimal.New(t, -amount.Precision)}, nil
	}

	q := t / int64(n)
	if q < 2 {
		return nil, ErrShareTooSmall
	}

	draws := make([]int64, n)
	var sum int64
	for i := 0; i < n-1; i++ {
		draws[i] = 1 + rng.Int64N(q-1)
		sum += draws[i]
	}
	draws[n-1] = t - sum

	rng.Shuffle(n, func(i, j int) { draws[i], draws[j] = draws[j], draws[i] })

	out := make([]decimal.Decimal, n)
	for i, d := range draws {
		out[i] = decimal.New(d, -amount.Precision)
	}
	return out, nil
}
