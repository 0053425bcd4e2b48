package amount

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRates struct {
	prices map[string]decimal.Decimal
	err    error
	calls  int
}

func (f *fakeRates) Rate(_ context.Context, ticker string) (decimal.Decimal, error) {
	f.calls++
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.prices[ticker], nil
}

func (f *fakeRates) Supports(ticker string) bool {
	_, ok := f.prices[ticker]
	return ok
}

func newTestValidator(rates *fakeRates) *Validator {
	return NewValidator("zen", decimal.NewFromInt(1), decimal.NewFromInt(9000), rates)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestResolve_PlainAmount(t *testing.T) {
	v := newTestValidator(&fakeRates{})

	got, err := v.Resolve(context.Background(), "0.123456789", dec("5"), ModeTip)
	require.NoError(t, err)
	assert.Equal(t, "0.12345678", got.String())
}

func TestResolve_BaseSuffixes(t *testing.T) {
	v := newTestValidator(&fakeRates{})

	for _, token := range []string{"0.5zen", "0.5zens", "0.5ZEN"} {
		got, err := v.Resolve(context.Background(), token, dec("5"), ModeTip)
		require.NoError(t, err, token)
		assert.True(t, got.Equal(dec("0.5")), token)
	}
}

func TestResolve_All(t *testing.T) {
	v := newTestValidator(&fakeRates{})

	got, err := v.Resolve(context.Background(), "all", dec("0.75"), ModeTip)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("0.75")))

	_, err = v.Resolve(context.Background(), "all", decimal.Zero, ModeTip)
	assert.ErrorIs(t, err, ErrNonPositive)
}

func TestResolve_Random(t *testing.T) {
	v := newTestValidator(&fakeRates{}).WithRandom(func() float64 { return 0.5 })

	got, err := v.Resolve(context.Background(), "random", dec("1"), ModeTip)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("0.05")))
	assert.True(t, got.LessThan(dec("0.1")))
}

func TestResolve_FiatConversion(t *testing.T) {
	rates := &fakeRates{prices: map[string]decimal.Decimal{"czk": dec("23.5")}}
	v := newTestValidator(rates)

	got, err := v.Resolve(context.Background(), "200czk", dec("100"), ModePayout)
	require.NoError(t, err)
	assert.Equal(t, "8.51063829", got.String())
	assert.Equal(t, 1, rates.calls)
}

func TestResolve_FiatConversionRespectsTipCap(t *testing.T) {
	rates := &fakeRates{prices: map[string]decimal.Decimal{"czk": dec("23.5")}}
	v := newTestValidator(rates)

	_, err := v.Resolve(context.Background(), "200czk", dec("100"), ModeTip)
	assert.ErrorIs(t, err, ErrOverMaximum)
}

func TestResolve_RateFailure(t *testing.T) {
	rates := &fakeRates{prices: map[string]decimal.Decimal{"usd": dec("10")}, err: errors.New("timeout")}
	v := newTestValidator(rates)

	_, err := v.Resolve(context.Background(), "5usd", dec("100"), ModeTip)
	assert.ErrorIs(t, err, ErrRateUnavailable)
}

func TestResolve_Failures(t *testing.T) {
	v := newTestValidator(&fakeRates{})

	tests := []struct {
		name    string
		token   string
		balance string
		mode    Mode
		want    error
	}{
		{"garbage", "abc", "1", ModeTip, ErrNotANumber},
		{"unknown ticker", "5xyz", "10", ModeTip, ErrNotANumber},
		{"zero", "0", "1", ModeTip, ErrNonPositive},
		{"negative", "-1", "1", ModeTip, ErrNonPositive},
		{"below precision", "0.000000001", "1", ModeTip, ErrNonPositive},
		{"over tip cap", "1.5", "10", ModeTip, ErrOverMaximum},
		{"over payout cap", "9001", "10000", ModePayout, ErrOverMaximum},
		{"insufficient", "0.5", "0.1", ModeTip, ErrInsufficientBalance},
		{"insufficient withdraw", "0.8", "0.5", ModeWithdraw, ErrInsufficientBalance},
		{"withdraw over tip cap", "50", "100", ModeWithdraw, ErrOverMaximum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Resolve(context.Background(), tt.token, dec(tt.balance), tt.mode)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestResolve_PayoutSkipsBalance(t *testing.T) {
	v := newTestValidator(&fakeRates{})

	got, err := v.Resolve(context.Background(), "50", decimal.Zero, ModePayout)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("50")))
}

func TestToFiat(t *testing.T) {
	rates := &fakeRates{prices: map[string]decimal.Decimal{"usd": dec("7.345")}}
	v := newTestValidator(rates)

	got, err := v.ToFiat(context.Background(), dec("2"), "USD")
	require.NoError(t, err)
	assert.Equal(t, "14.69", got.StringFixed(2))

	_, err = v.ToFiat(context.Background(), dec("2"), "eur")
	assert.ErrorIs(t, err, ErrRateUnavailable)
}

func TestResolve_WithdrawAllIsUncapped(t *testing.T) {
	v := newTestValidator(&fakeRates{})

	got, err := v.Resolve(context.Background(), "all", dec("50"), ModeWithdraw)
	require.NoError(t, err)
	assert.Equal(t, "50", got.String())

	_, err = v.Resolve(context.Background(), "all", dec("50"), ModeTip)
	assert.ErrorIs(t, err, ErrOverMaximum)

	_, err = v.Resolve(context.Background(), "1", dec("50"), ModeWithdraw)
	assert.NoError(t, err)
}
