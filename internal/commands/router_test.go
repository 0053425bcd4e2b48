package commands

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suspectuso/tipbot/internal/amount"
	"github.com/suspectuso/tipbot/internal/ledger"
	"github.com/suspectuso/tipbot/internal/packet"
	"github.com/suspectuso/tipbot/internal/storage"
	"github.com/suspectuso/tipbot/internal/sweeper"
	"github.com/suspectuso/tipbot/internal/transfer"
)

// FakeLedger keeps balances in memory.
type FakeLedger struct {
	mu        sync.Mutex
	bal       map[string]decimal.Decimal
	withdrawn map[string]decimal.Decimal
	operator  decimal.Decimal
	creditErr error
	locks     *ledger.AccountLocks
	delay     time.Duration // widens the gap between balance read and debit
}

func NewFakeLedger() *FakeLedger {
	return &FakeLedger{
		bal:       map[string]decimal.Decimal{},
		withdrawn: map[string]decimal.Decimal{},
		locks:     ledger.NewAccountLocks(),
	}
}

func (f *FakeLedger) LockAccount(id string) func() {
	return f.locks.Lock(id)
}

func (f *FakeLedger) set(id, v string) {
	f.mu.Lock()
	f.bal[id] = decimal.RequireFromString(v)
	f.mu.Unlock()
}

func (f *FakeLedger) get(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bal[id].String()
}

func (f *FakeLedger) EnsureAccount(ctx context.Context, id string) (*storage.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bal[id]; !ok {
		f.bal[id] = decimal.Zero
	}
	a := storage.NewAccount(id, "0x"+strings.Repeat("a", 38)+"0"+id[len(id)-1:], "secret")
	return a, nil
}

func (f *FakeLedger) BalanceOf(ctx context.Context, id string) (decimal.Decimal, error) {
	f.mu.Lock()
	v := f.bal[id]
	f.mu.Unlock()
	time.Sleep(f.delay)
	return v, nil
}

func (f *FakeLedger) Withdraw(ctx context.Context, id, dest string, v decimal.Decimal) (string, error) {
	if !strings.HasPrefix(dest, "0x") {
		return "", ledger.ErrInvalidAddress
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bal[id] = f.bal[id].Sub(v)
	f.withdrawn[dest] = v
	return "0xhash", nil
}

func (f *FakeLedger) Accounts(ctx context.Context) ([]storage.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Account
	for id := range f.bal {
		out = append(out, storage.Account{ID: id})
	}
	return out, nil
}

func (f *FakeLedger) OperatorBalance(ctx context.Context) (decimal.Decimal, error) {
	return f.operator, nil
}

func (f *FakeLedger) TxCost() decimal.Decimal {
	return decimal.RequireFromString("0.00021")
}

func (f *FakeLedger) Debit(ctx context.Context, id string, v decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bal[id] = f.bal[id].Sub(v)
	return nil
}

func (f *FakeLedger) Credit(ctx context.Context, id string, v decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.creditErr != nil {
		return f.creditErr
	}
	f.bal[id] = f.bal[id].Add(v)
	return nil
}

func (f *FakeLedger) ReverseDebit(ctx context.Context, id string, v decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bal[id] = f.bal[id].Add(v)
	return nil
}

type fakeRates struct{}

func (fakeRates) Rate(ctx context.Context, ticker string) (decimal.Decimal, error) {
	if ticker == "czk" {
		return decimal.RequireFromString("23.5"), nil
	}
	return decimal.Zero, errors.New("no rate")
}

func (fakeRates) Supports(ticker string) bool { return ticker == "czk" || ticker == "usd" }

func (fakeRates) SupportedTickers() []string { return []string{"czk", "usd"} }

type fakeDirectory map[string]Member

func (d fakeDirectory) Lookup(token string) (Member, bool) {
	m, ok := d[token]
	return m, ok
}

func (d fakeDirectory) Name(id string) string {
	for _, m := range d {
		if m.ID == id {
			return m.Name
		}
	}
	return ""
}

type fakeNotifier struct {
	mu     sync.Mutex
	direct map[string][]string
	audit  []string
}

func (n *fakeNotifier) Direct(ctx context.Context, userID, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.direct[userID] = append(n.direct[userID], text)
}

func (n *fakeNotifier) Audit(ctx context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.audit = append(n.audit, text)
}

type fakeSuspender struct {
	minutes []int
}

func (s *fakeSuspender) Suspend(minutes int) (time.Time, error) {
	if minutes < 0 || minutes > 100 {
		return time.Time{}, sweeper.ErrInvalidDuration
	}
	s.minutes = append(s.minutes, minutes)
	return time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC), nil
}

type testEnv struct {
	router  *Router
	ledger  *FakeLedger
	notify  *fakeNotifier
	suspend *fakeSuspender
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	fl := NewFakeLedger()
	coord := transfer.NewCoordinator(fl, log)
	engine := packet.NewEngine(fl, coord, 20*time.Minute, 20, log)
	validator := amount.NewValidator("zen", decimal.NewFromInt(1), decimal.NewFromInt(9000), fakeRates{})
	notify := &fakeNotifier{direct: map[string][]string{}}
	susp := &fakeSuspender{}

	dir := fakeDirectory{
		"<@1>":   {ID: "1", Name: "alice"},
		"@alice": {ID: "1", Name: "alice"},
		"<@2>":   {ID: "2", Name: "bob"},
		"@bob":   {ID: "2", Name: "bob"},
		"<@3>":   {ID: "3", Name: "carol"},
		"@carol": {ID: "3", Name: "carol"},
		"@admin": {ID: "9", Name: "admin"},
	}

	r := NewRouter(Deps{
		Ledger:    fl,
		Transfers: coord,
		Packets:   engine,
		Amounts:   validator,
		Sweeper:   susp,
		Tickers:   fakeRates{},
		Members:   dir,
		Notifier:  notify,
	}, Options{
		Command:     "/tip",
		Symbol:      "ZEN",
		ExplorerURL: "https://explorer.test",
		MaxShares:   20,
		PacketTTL:   20 * time.Minute,
		Admins:      map[string]bool{"9": true},
	}, log)

	return &testEnv{router: r, ledger: fl, notify: notify, suspend: susp}
}

func inChannel(sender, text string) Request {
	return Request{SenderID: sender, SenderName: "user" + sender, ChannelID: "chan", Args: strings.Fields(text)}
}

func inDM(sender, text string) Request {
	return Request{SenderID: sender, SenderName: "user" + sender, ChannelID: "dm" + sender, Direct: true, Args: strings.Fields(text)}
}

func TestRouter_ScopeRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp := env.router.Handle(ctx, inChannel("1", "balance"))
	assert.Contains(t, resp.Text, "direct message")

	resp = env.router.Handle(ctx, inDM("1", "open"))
	assert.Contains(t, resp.Text, "in a DM")

	resp = env.router.Handle(ctx, inDM("1", "checkbals"))
	assert.Contains(t, resp.Text, "invalid command")

	resp = env.router.Handle(ctx, inChannel("1", "suspend"))
	assert.Contains(t, resp.Text, "invalid command")
	assert.Empty(t, env.suspend.minutes)
}

func TestRouter_Balance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ledger.set("1", "2.35")

	resp := env.router.Handle(ctx, inDM("1", "balance"))
	assert.Equal(t, "You have <b>2.35</b> ZEN", resp.Text)

	resp = env.router.Handle(ctx, inDM("1", "balance czk"))
	assert.Equal(t, "You have <b>55.23 CZK</b> (2.35 ZEN)", resp.Text)
}

func TestRouter_Deposit(t *testing.T) {
	env := newTestEnv(t)
	resp := env.router.Handle(context.Background(), inDM("1", "deposit"))
	assert.Contains(t, resp.Text, "WARNING")
	assert.Contains(t, resp.Text, "<code>0x")
}

func TestRouter_Tip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ledger.set("1", "1")

	resp := env.router.Handle(ctx, inChannel("1", "<@2> 0.25 thanks for the help"))
	assert.Contains(t, resp.Text, "sent <b>0.25 ZEN</b> to bob")
	assert.Equal(t, "0.75", env.ledger.get("1"))
	assert.Equal(t, "0.25", env.ledger.get("2"))

	require.Len(t, env.notify.direct["2"], 1)
	assert.Contains(t, env.notify.direct["2"][0], "thanks for the help")
	require.Len(t, env.notify.direct["1"], 1)
	assert.Contains(t, env.notify.direct["1"][0], "bob received your tip")
}

func TestRouter_TipFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ledger.set("1", "0.5")

	cases := []struct {
		text string
		want string
	}{
		{"<@2> 0.6", "balance is too low"},
		{"<@2> 2", "maximum of 1 ZEN"},
		{"<@2> abc", "incorrect amount"},
		{"<@2> 0", "at least"},
		{"<@1> 0.1", "tip yourself"},
		{"<@77> 0.1", "can't find a user"},
		{"hello there", "invalid command"},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			resp := env.router.Handle(ctx, inChannel("1", tc.text))
			assert.Contains(t, resp.Text, tc.want)
		})
	}
	assert.Equal(t, "0.5", env.ledger.get("1"))
}

func TestRouter_TipCreditFailureIsCompensated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ledger.set("1", "1")
	env.ledger.creditErr = errors.New("not updated")

	resp := env.router.Handle(ctx, inChannel("1", "<@2> 0.5"))
	assert.Contains(t, resp.Text, "Sending failed")
	assert.Equal(t, "1", env.ledger.get("1"))
	assert.Empty(t, env.notify.direct)
}

func TestRouter_FiatTip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ledger.set("1", "1")

	resp := env.router.Handle(ctx, inChannel("1", "<@2> 20czk"))
	assert.Contains(t, resp.Text, "0.85106382 ZEN")
	assert.Equal(t, "0.85106382", env.ledger.get("2"))
}

func TestRouter_Withdraw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ledger.set("1", "3")

	resp := env.router.Handle(ctx, inDM("1", "withdraw 0.5 0x52908400098527886E0F7030069857D2E4169EE7"))
	assert.Contains(t, resp.Text, "You withdrew <b>0.5 ZEN</b> (-0.00021 fee)")
	assert.Contains(t, resp.Text, "https://explorer.test/tx/0xhash")
	assert.Equal(t, "2.5", env.ledger.get("1"))

	resp = env.router.Handle(ctx, inDM("1", "withdraw 0.5 zen1notevm"))
	assert.Contains(t, resp.Text, "Invalid withdrawal address")

	resp = env.router.Handle(ctx, inDM("1", "withdraw 0.5"))
	assert.Contains(t, resp.Text, "Usage")
}

func TestRouter_WithdrawCap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ledger.set("1", "50")
	dest := "0x1111111111111111111111111111111111111111"

	resp := env.router.Handle(ctx, inDM("1", "withdraw 2 "+dest))
	assert.Contains(t, resp.Text, "maximum of 1 ZEN")
	assert.Equal(t, "50", env.ledger.get("1"))

	resp = env.router.Handle(ctx, inDM("1", "withdraw all "+dest))
	assert.Contains(t, resp.Text, "You withdrew <b>50 ZEN</b>")
	assert.Equal(t, "0", env.ledger.get("1"))
}

func TestRouter_ConcurrentFullBalanceTips(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ledger.set("1", "1")
	env.ledger.delay = 5 * time.Millisecond

	var (
		mu   sync.Mutex
		sent int
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := env.router.Handle(ctx, inChannel("1", "<@2> 1"))
			if strings.Contains(resp.Text, "sent <b>1 ZEN</b>") {
				mu.Lock()
				sent++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, sent)
	assert.Equal(t, "0", env.ledger.get("1"))
	assert.Equal(t, "1", env.ledger.get("2"))
}

func TestRouter_ConcurrentWithdrawAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ledger.set("1", "3")
	env.ledger.delay = 5 * time.Millisecond

	dests := []string{
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222",
		"0x3333333333333333333333333333333333333333",
	}
	var wg sync.WaitGroup
	for _, d := range dests {
		wg.Add(1)
		go func(d string) {
			defer wg.Done()
			env.router.Handle(ctx, inDM("1", "withdraw all "+d))
		}(d)
	}
	wg.Wait()

	env.ledger.mu.Lock()
	defer env.ledger.mu.Unlock()
	assert.Len(t, env.ledger.withdrawn, 1)
	assert.True(t, env.ledger.bal["1"].IsZero())
}

func TestRouter_PacketFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ledger.set("1", "1")

	resp := env.router.Handle(ctx, inChannel("1", "each 1 2 enjoy"))
	assert.Contains(t, resp.Text, "New <code>each</code> packet")
	assert.NotEmpty(t, resp.PacketID)
	packetID := resp.PacketID

	resp = env.router.Handle(ctx, inChannel("1", "luck 0.5 3"))
	assert.Contains(t, resp.Text, "still in progress")
	assert.Contains(t, resp.Text, "0/2 opened")

	resp = env.router.Handle(ctx, inChannel("1", "open"))
	assert.Contains(t, resp.Text, "own packet")

	claim := inChannel("2", "open")
	claim.PacketID = packetID
	resp = env.router.Handle(ctx, claim)
	assert.Contains(t, resp.Text, "opened <b>0.5 ZEN</b>")
	assert.Contains(t, resp.Text, "1 left")

	resp = env.router.Handle(ctx, inChannel("2", "open"))
	assert.Contains(t, resp.Text, "second time")

	resp = env.router.Handle(ctx, inChannel("3", "open"))
	assert.Contains(t, resp.Text, "last piece")

	resp = env.router.Handle(ctx, inChannel("3", "open"))
	assert.Contains(t, resp.Text, "no packet")

	assert.Equal(t, "0", env.ledger.get("1"))
	assert.Len(t, env.notify.direct["1"], 2)
}

func TestRouter_DropValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ledger.set("1", "1")

	resp := env.router.Handle(ctx, inChannel("1", "each 1 21"))
	assert.Contains(t, resp.Text, "20 people is the maximum")

	resp = env.router.Handle(ctx, inChannel("1", "each 1 zero"))
	assert.Contains(t, resp.Text, "that many people")

	resp = env.router.Handle(ctx, inChannel("1", "luck 1"))
	assert.Contains(t, resp.Text, "Incomplete command")

	resp = env.router.Handle(ctx, inChannel("1", "luck 5 2"))
	assert.Contains(t, resp.Text, "maximum of 1 ZEN")
}

func TestRouter_Suspend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp := env.router.Handle(ctx, inChannel("9", "suspend 30"))
	assert.Contains(t, resp.Text, "suspended until 13:00 UTC")
	resp = env.router.Handle(ctx, inDM("9", "suspend"))
	assert.Contains(t, resp.Text, "suspended")
	assert.Equal(t, []int{30, 0}, env.suspend.minutes)
	assert.Len(t, env.notify.audit, 2)

	for _, arg := range []string{"0", "101", "abc", "-3"} {
		resp = env.router.Handle(ctx, inDM("9", "suspend "+arg))
		assert.Contains(t, resp.Text, "between 1 and 100", arg)
	}
}

func TestRouter_Payout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// payouts skip the balance check and may go above the tip cap
	resp := env.router.Handle(ctx, inChannel("9", "payout <@2> 5 great work"))
	assert.Contains(t, resp.Text, "Payout of <b>5 ZEN</b> sent to bob")
	assert.Equal(t, "5", env.ledger.get("2"))
	assert.Equal(t, "-5", env.ledger.get("9"))
	require.Len(t, env.notify.audit, 1)
	assert.Contains(t, env.notify.audit[0], "great work")

	resp = env.router.Handle(ctx, inChannel("9", "payout <@2> 9001"))
	assert.Contains(t, resp.Text, "maximum of 9000 ZEN")

	resp = env.router.Handle(ctx, inChannel("9", "payout @admin 1"))
	assert.Contains(t, resp.Text, "pay yourself")
}

func TestRouter_Multipay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ledger.set("9", "1")

	resp := env.router.Handle(ctx, inChannel("9", "multipay 0.2 @alice @nobody @bob"))
	assert.Contains(t, resp.Text, "Unable to find the following users")
	assert.Contains(t, resp.Text, "@nobody")

	resp = env.router.Handle(ctx, inChannel("9", "multipay 0.2 @alice @admin"))
	assert.Contains(t, resp.Text, "pay yourself")

	resp = env.router.Handle(ctx, inChannel("9", "multipay 0.4 @alice @bob @carol"))
	assert.Contains(t, resp.Text, "Insufficient funds. 0.2 ZEN needed.")

	resp = env.router.Handle(ctx, inChannel("9", "multipay 0.3 @alice @bob @carol well done"))
	assert.Contains(t, resp.Text, "to each of 3 users")
	assert.Equal(t, "0.1", env.ledger.get("9"))
	for _, id := range []string{"1", "2", "3"} {
		assert.Equal(t, "0.3", env.ledger.get(id))
		require.Len(t, env.notify.direct[id], 1)
		assert.Contains(t, env.notify.direct[id][0], "well done")
	}
	assert.Len(t, env.notify.audit, 3)
}

func TestRouter_Checkbals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ledger.set("1", "1.5")
	env.ledger.set("2", "0.5")
	env.ledger.operator = decimal.RequireFromString("1.25")

	resp := env.router.Handle(ctx, inDM("9", "checkbals"))
	assert.Contains(t, resp.Text, "Total user balance: <b>2 ZEN</b>")
	assert.Contains(t, resp.Text, "Bot needs 0.75 ZEN")
	assert.NotContains(t, resp.Text, "User balances")

	resp = env.router.Handle(ctx, inDM("9", "checkbals list"))
	assert.Contains(t, resp.Text, "alice: 1.5")
	assert.Contains(t, resp.Text, "bob: 0.5")
}

func TestRouter_Help(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp := env.router.Handle(ctx, inDM("1", "help"))
	assert.Contains(t, resp.Text, "/tip withdraw")
	assert.NotContains(t, resp.Text, "admin commands")

	resp = env.router.Handle(ctx, inDM("9", "help"))
	assert.Contains(t, resp.Text, "admin commands")

	resp = env.router.Handle(ctx, inDM("1", "help currency"))
	assert.Contains(t, resp.Text, "czk, usd")

	resp = env.router.Handle(ctx, inDM("1", "help admin"))
	assert.Contains(t, resp.Text, "invalid command")

	resp = env.router.Handle(ctx, inDM("1", "help pizza"))
	assert.Contains(t, resp.Text, "Unknown help: pizza")

	resp = env.router.Handle(ctx, inDM("1", ""))
	assert.Contains(t, resp.Text, "/tip balance")
}
