// Package amount turns user supplied amount tokens into base currency quantities.
package amount

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits an amount may carry.
const Precision = 8

var (
	ErrNotANumber          = errors.New("not a number")
	ErrNonPositive         = errors.New("amount must be positive")
	ErrOverMaximum         = errors.New("amount over maximum")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrRateUnavailable     = errors.New("rate unavailable")
)

// Mode selects the cap and balance rule applied to a token.
type Mode int

const (
	// ModeTip caps at the ordinary tip maximum and checks the requester balance.
	ModeTip Mode = iota
	// ModeWithdraw caps explicit amounts at the tip maximum and checks the
	// requester balance. "all" is exempt from the cap so any balance can be
	// taken out in one go.
	ModeWithdraw
	// ModePayout caps at the payout ceiling and skips the balance check.
	ModePayout
)

// RateSource quotes the base currency in other tickers.
type RateSource interface {
	// Rate returns the price of one base unit expressed in ticker.
	Rate(ctx context.Context, ticker string) (decimal.Decimal, error)
	Supports(ticker string) bool
}

// Validator resolves amount tokens.
type Validator struct {
	base      string
	maxTip    decimal.Decimal
	maxPayout decimal.Decimal
	rates     RateSource
	random    func() float64
}

// NewValidator creates a validator for the given base symbol (e.g. "zen").
func NewValidator(base string, maxTip, maxPayout decimal.Decimal, rates RateSource) *Validator {
	return &Validator{
		base:      strings.ToLower(base),
		maxTip:    maxTip,
		maxPayout: maxPayout,
		rates:     rates,
		random:    rand.Float64,
	}
}

// WithRandom replaces the source used for the "random" token.
func (v *Validator) WithRandom(fn func() float64) *Validator {
	v.random = fn
	return v
}

// MaxTip returns the ordinary per-operation cap.
func (v *Validator) MaxTip() decimal.Decimal { return v.maxTip }

// MaxPayout returns the privileged ceiling.
func (v *Validator) MaxPayout() decimal.Decimal { return v.maxPayout }

// Resolve parses token into a base currency amount truncated to Precision digits.
// balance is the requester's available balance.
func (v *Validator) Resolve(ctx context.Context, token string, balance decimal.Decimal, mode Mode) (decimal.Decimal, error) {
	token = strings.ToLower(strings.TrimSpace(token))

	var value decimal.Decimal
	switch token {
	case "all":
		value = balance
	case "random":
		value = decimal.NewFromFloat(v.random() / 10)
	default:
		number, ticker := v.splitTicker(token)
		parsed, err := decimal.NewFromString(number)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %q", ErrNotANumber, token)
		}
		value = parsed
		if ticker != "" {
			if !value.IsPositive() {
				return decimal.Zero, ErrNonPositive
			}
			converted, err := v.convert(ctx, value, ticker)
			if err != nil {
				return decimal.Zero, err
			}
			value = converted
		}
	}

	value = value.Truncate(Precision)

	uncapped := token == "all" && mode == ModeWithdraw
	if !uncapped && value.GreaterThan(v.capFor(mode)) {
		return decimal.Zero, ErrOverMaximum
	}
	if !value.IsPositive() {
		return decimal.Zero, ErrNonPositive
	}
	if mode != ModePayout && value.GreaterThan(balance) {
		return decimal.Zero, ErrInsufficientBalance
	}
	return value, nil
}

// ToFiat converts a base amount into ticker, rounded to cents.
func (v *Validator) ToFiat(ctx context.Context, value decimal.Decimal, ticker string) (decimal.Decimal, error) {
	ticker = strings.ToLower(ticker)
	if !v.rates.Supports(ticker) {
		return decimal.Zero, fmt.Errorf("%w: unsupported ticker %q", ErrRateUnavailable, ticker)
	}
	price, err := v.rates.Rate(ctx, ticker)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	return value.Mul(price).Round(2), nil
}

// IsTicker reports whether s names a currency the rate source can quote.
func (v *Validator) IsTicker(s string) bool {
	return v.rates.Supports(strings.ToLower(s))
}

func (v *Validator) capFor(mode Mode) decimal.Decimal {
	if mode == ModePayout {
		return v.maxPayout
	}
	return v.maxTip
}

// splitTicker separates a trailing currency ticker. The base symbol and its
// plural are stripped but reported as no ticker.
func (v *Validator) splitTicker(token string) (number, ticker string) {
	if strings.HasSuffix(token, v.base+"s") {
		return strings.TrimSuffix(token, v.base+"s"), ""
	}
	if strings.HasSuffix(token, v.base) {
		return strings.TrimSuffix(token, v.base), ""
	}
	if len(token) > 3 {
		suffix := token[len(token)-3:]
		if v.rates != nil && v.rates.Supports(suffix) {
			return token[:len(token)-3], suffix
		}
	}
	return token, ""
}

func (v *Validator) convert(ctx context.Context, value decimal.Decimal, ticker string) (decimal.Decimal, error) {
	price, err := v.rates.Rate(ctx, ticker)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price for %s", ErrRateUnavailable, ticker)
	}
	q, _ := value.QuoRem(price, Precision)
	return q, nil
}
