package service

import (
	"context"
	"math/big"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/gec682416/onchain-random-game/internal/guard"
	"github.com/gec682416/onchain-random-game/internal/ledger"
	"github.com/gec682416/onchain-random-game/internal/ledger/simulated"
	"github.com/gec682416/onchain-random-game/internal/model"
	"github.com/gec682416/onchain-random-game/internal/service/observer"
	"github.com/gec682416/onchain-random-game/internal/wager"
	"github.com/gec682416/onchain-random-game/internal/wallet"
	"github.com/gec682416/onchain-random-game/pkg/cache"
	"github.com/gec682416/onchain-random-game/pkg/database"
	"github.com/gec682416/onchain-random-game/pkg/errno"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

var (
	mainnet = big.NewInt(1)
	sepolia = big.NewInt(11155111)
	native  = common.Address{}
	stake   = big.NewInt(1e14)
)

func sepoliaDef() wallet.ChainDefinition {
	return wallet.ChainDefinition{
		ChainID:           sepolia,
		Name:              "Sepolia",
		Currency:          wallet.NativeCurrency{Name: "Sepolia ETH", Symbol: "ETH", Decimals: 18},
		RPCURLs:           []string{"https://rpc.sepolia.example"},
		BlockExplorerURLs: []string{"https://sepolia.etherscan.io"},
	}
}

type harness struct {
	provider *wallet.LocalProvider
	contract *simulated.Contract
	svc      *WagerService
	db       *gorm.DB
	offset   int64
}

func (h *harness) now() time.Time {
	return time.Now().Add(time.Duration(atomic.LoadInt64(&h.offset)))
}

func (h *harness) advance(d time.Duration) {
	atomic.AddInt64(&h.offset, int64(d))
}

type harnessOpt func(*harnessConfig)

type harnessConfig struct {
	initial *big.Int
	approve bool
	watch   observer.Config
	sqlite  bool
}

func onChain(id *big.Int) harnessOpt { return func(c *harnessConfig) { c.initial = id } }
func rejecting() harnessOpt { return func(c *harnessConfig) { c.approve = false } }
func withWatch(w observer.Config) harnessOpt { return func(c *harnessConfig) { c.watch = w } }
func withDB() harnessOpt { return func(c *harnessConfig) { c.sqlite = true } }

func newHarness(t *testing.T, opts ...harnessOpt) *harness {
	t.Helper()
	cfg := harnessConfig{
		initial: sepolia,
		approve: true,
		watch:   observer.Config{PollInterval: 20 * time.Millisecond, Ceiling: time.Hour, Resubscribe: 20 * time.Millisecond},
	}
	for _, o := range opts {
		o(&cfg)
	}

	provider, err := wallet.NewLocalProviderFromMnemonic(testMnemonic, "", "", 2, cfg.initial,
		wallet.WithKnownChain(sepoliaDef()), wallet.WithAutoApprove(cfg.approve))
	require.NoError(t, err)

	h := &harness{provider: provider}
	h.contract = simulated.New(common.HexToAddress("0x1111111111111111111111111111111111111111"), simulated.WithClock(h.now))
	l := h.contract.BindFunc(func() (common.Address, error) { return provider.Account(context.Background()) })

	ctx := context.Background()
	_, err = l.FundTreasury(ctx, big.NewInt(1e18))
	require.NoError(t, err)
	_, err = l.SetTokenLimits(ctx, native, true, big.NewInt(1e13), big.NewInt(1e17))
	require.NoError(t, err)

	var history *HistoryService
	if cfg.sqlite {
		db, err := database.ConnectSQLite(":memory:")
		require.NoError(t, err)
		require.NoError(t, db.AutoMigrate(model.AllModels()...))
		h.db = db
		history = NewHistoryService(db)
	}

	g := guard.New(provider, sepoliaDef())
	refunds := NewRefundService(l, g, 24*time.Hour, 7*24*time.Hour)
	refunds.now = h.now
	h.svc = NewWagerService(WagerDeps{
		Provider: provider,
		Guard:    g,
		Ledger:   l,
		Status:   NewStatusService(l, h.contract.Address(), native, cache.NewMemoryCache(time.Minute, time.Minute)),
		Refunds:  refunds,
		History:  history,
		Token:    native,
		Watch:    cfg.watch,
	})
	t.Cleanup(h.svc.Close)
	return h
}

func (h *harness) connect(t *testing.T) *wallet.Session {
	t.Helper()
	sess, err := h.svc.Connect(context.Background())
	require.NoError(t, err)
	return sess
}

func (h *harness) waitState(t *testing.T, key wager.Key, want wager.State) wager.Wager {
	t.Helper()
	var got wager.Wager
	require.Eventually(t, func() bool {
		w, err := h.svc.Wager(key)
		got = w
		return err == nil && w.State == want
	}, 2*time.Second, 5*time.Millisecond, "wager %s never reached %s", key, want)
	return got
}

func (h *harness) expectNotice(t *testing.T, level Level, substr string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return hasNotice(h.svc.Board(), level, substr)
	}, 2*time.Second, 5*time.Millisecond, "notice %q never arrived", substr)
}

func hasNotice(b Board, level Level, substr string) bool {
	for _, n := range b.Notices {
		if n.Level == level && strings.Contains(n.Message, substr) {
			return true
		}
	}
	return false
}

func TestPlaceDiceResolvedByEvent(t *testing.T) {
	h := newHarness(t)
	sess := h.connect(t)

	w, err := h.svc.PlaceDice(context.Background(), stake, 50)
	require.NoError(t, err)
	assert.Equal(t, wager.Pending, w.State)
	assert.Equal(t, sess.ID, w.Session)
	assert.Equal(t, sess.Address, w.Player)

	snap, ok := h.svc.Status(context.Background())
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.NextDiceID)
	assert.Equal(t, "0.0002", snap.LockedFunds)

	require.NoError(t, h.contract.FulfillDice(w.ID, big.NewInt(20)))
	got := h.waitState(t, w.Key, wager.Resolved)
	assert.True(t, got.Outcome.Won)
	assert.Equal(t, uint8(21), got.Outcome.Roll)

	h.expectNotice(t, LevelInfo, "Dice #0 submitted")
	h.expectNotice(t, LevelSuccess, "You won 0.0002!")
	assert.Eventually(t, func() bool {
		snap, _ := h.svc.Status(context.Background())
		return snap.LockedFunds == "0"
	}, time.Second, 5*time.Millisecond)
}

func TestInvalidThresholdNeverReachesLedger(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	for _, th := range []uint8{0, 1, 100} {
		_, err := h.svc.PlaceDice(context.Background(), stake, th)
		assert.ErrorIs(t, err, errno.ErrInvalidThreshold)
		_, err = h.svc.QuotePayout(context.Background(), stake, th)
		assert.ErrorIs(t, err, errno.ErrInvalidThreshold)
	}
	next, err := h.contract.Bind(common.Address{}).NextDiceID(context.Background())
	require.NoError(t, err)
	assert.Zero(t, next)
}

func TestWriteRequiresSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.PlaceDice(context.Background(), stake, 50)
	assert.ErrorIs(t, err, errno.ErrNoSession)
	_, err = h.svc.Refundable(context.Background(), ledger.Dice)
	assert.ErrorIs(t, err, errno.ErrNoSession)
}

func TestBusyRejectsSecondAction(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	done, err := h.svc.begin("Dice bet")
	require.NoError(t, err)
	_, err = h.svc.PlaceDice(context.Background(), stake, 50)
	assert.ErrorIs(t, err, errno.ErrBusy)
	assert.Equal(t, "Dice bet", h.svc.Board().Busy)
	done()
	assert.Empty(t, h.svc.Board().Busy)
}

func TestGuardSwitchesNetworkBeforeSubmitting(t *testing.T) {
	h := newHarness(t, onChain(mainnet))
	before := h.connect(t)
	assert.Equal(t, mainnet, before.ChainID)

	w, err := h.svc.PlaceDice(context.Background(), stake, 50)
	require.NoError(t, err)

	sess, ok := h.svc.Session()
	require.True(t, ok)
	assert.NotEqual(t, before.ID, sess.ID, "network change starts a new session")
	assert.Equal(t, 0, sess.ChainID.Cmp(sepolia))
	assert.Equal(t, sess.ID, w.Session)

	require.NoError(t, h.contract.FulfillDice(w.ID, big.NewInt(90)))
	got := h.waitState(t, w.Key, wager.Resolved)
	assert.False(t, got.Outcome.Won)
	h.expectNotice(t, LevelInfo, "rolled 91")
}

func TestGuardRejectionLeavesLedgerUntouched(t *testing.T) {
	h := newHarness(t, onChain(mainnet), rejecting())
	h.connect(t)

	_, err := h.svc.PlaceDice(context.Background(), stake, 50)
	assert.ErrorIs(t, err, errno.ErrChainMismatch)
	h.expectNotice(t, LevelError, "Dice bet failed")
	assert.Empty(t, h.svc.Wagers())

	next, _ := h.contract.Bind(common.Address{}).NextDiceID(context.Background())
	assert.Zero(t, next)
}

func TestSubmissionRejectedIsReported(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	// 超出最大下注
	_, err := h.svc.PlaceDice(context.Background(), big.NewInt(1e18), 50)
	assert.ErrorIs(t, err, errno.ErrSubmissionRejected)
	assert.Empty(t, h.svc.Wagers())
	h.expectNotice(t, LevelError, "Submission rejected")
}

func TestAccountChangeResetsSession(t *testing.T) {
	h := newHarness(t)
	first := h.connect(t)

	w, err := h.svc.PlaceDice(context.Background(), stake, 50)
	require.NoError(t, err)

	require.NoError(t, h.provider.SelectAccount(1))
	require.Eventually(t, func() bool {
		sess, ok := h.svc.Session()
		return ok && sess.ID != first.ID
	}, time.Second, 5*time.Millisecond)

	assert.Empty(t, h.svc.Wagers(), "new session starts with no tracked wagers")

	// 旧会话的结算不会出现在新会话
	require.NoError(t, h.contract.FulfillDice(w.ID, big.NewInt(1)))
	time.Sleep(80 * time.Millisecond)
	b := h.svc.Board()
	assert.False(t, hasNotice(b, LevelSuccess, "Dice #0"))
	for _, n := range b.Notices {
		assert.NotEqual(t, first.ID, n.Session)
	}
}

func TestChainChangeDuringSubmissionNotTracked(t *testing.T) {
	h := newHarness(t)
	old := h.connect(t)

	// 写交易在途时切链，地址不变但会话已换
	next, rotated := h.svc.rotate(old.Address, mainnet, sameChain(mainnet))
	require.True(t, rotated)
	require.NotEqual(t, old.ID, next.ID)

	got := h.svc.track(old, wager.Wager{
		Key:    wager.Key{Game: ledger.Dice, ID: 0},
		Player: old.Address,
		Stake:  stake,
		State:  wager.Submitting,
	})
	assert.Equal(t, wager.Submitted, got.State)
	assert.Equal(t, old.ID, got.Session)
	assert.Empty(t, h.svc.Wagers(), "stale submission must not join the new session")

	sess, ok := h.svc.Session()
	require.True(t, ok)
	assert.Equal(t, next.ID, sess.ID)
}

func TestDisconnectEndsSession(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.provider.Disconnect()
	require.Eventually(t, func() bool {
		_, ok := h.svc.Session()
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestTimeoutThenRefund(t *testing.T) {
	h := newHarness(t, withWatch(observer.Config{PollInterval: 20 * time.Millisecond, Ceiling: 100 * time.Millisecond}))
	h.connect(t)

	w, err := h.svc.PlaceDice(context.Background(), stake, 50)
	require.NoError(t, err)
	h.waitState(t, w.Key, wager.TimedOut)
	h.expectNotice(t, LevelWarning, "still waiting for randomness")

	cands, err := h.svc.Refundable(context.Background(), ledger.Dice)
	require.NoError(t, err)
	assert.Empty(t, cands, "not refundable before 24h")

	h.advance(24*time.Hour + time.Minute)
	cands, err = h.svc.Refundable(context.Background(), ledger.Dice)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, w.Key, cands[0].Key)
	assert.Equal(t, "0.0001", cands[0].Stake)

	got, err := h.svc.Wager(w.Key)
	require.NoError(t, err)
	assert.Equal(t, wager.Stuck, got.State)

	rec, err := h.svc.Refund(context.Background(), w.Key)
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, rec.TxHash)
	h.expectNotice(t, LevelSuccess, "Dice #0 refunded")

	cands, err = h.svc.Refundable(context.Background(), ledger.Dice)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestLotteryRoundFlow(t *testing.T) {
	h := newHarness(t, withDB())
	sess := h.connect(t)
	ctx := context.Background()

	rec, err := h.svc.CreateLottery(ctx, big.NewInt(1e14), 0, time.Hour)
	require.NoError(t, err)
	id := rec.ID

	_, err = h.svc.BuyTickets(ctx, id, 0)
	assert.ErrorIs(t, err, errno.ErrInvalidAmount)
	_, err = h.svc.BuyTickets(ctx, id, 3)
	require.NoError(t, err)

	_, err = h.svc.RequestDraw(ctx, id)
	assert.ErrorIs(t, err, errno.ErrSubmissionRejected, "round still open")

	h.advance(2 * time.Hour)
	w, err := h.svc.RequestDraw(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, wager.Pending, w.State)
	assert.Equal(t, uint32(3), w.TicketCount)

	require.NoError(t, h.contract.FulfillDraw(id, big.NewInt(2)))
	got := h.waitState(t, w.Key, wager.Resolved)
	assert.Equal(t, sess.Address, got.Outcome.Winner)
	h.expectNotice(t, LevelSuccess, "You won")

	require.Eventually(t, func() bool {
		var row model.Wager
		err := h.db.Where("game = ? AND wager_id = ?", "lottery", id).First(&row).Error
		return err == nil && row.State == "resolved"
	}, time.Second, 10*time.Millisecond)

	var outbox int64
	require.NoError(t, h.db.Model(&model.OutboxMessage{}).Count(&outbox).Error)
	assert.GreaterOrEqual(t, outbox, int64(3), "submitted, pending and resolved")

	rows, err := NewHistoryService(h.db).List(ctx, sess.Address.Hex(), 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestAdminWrites(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	ctx := context.Background()

	_, err := h.svc.FundTreasury(ctx, big.NewInt(0))
	assert.ErrorIs(t, err, errno.ErrInvalidAmount)
	_, err = h.svc.FundTreasury(ctx, big.NewInt(1e18))
	require.NoError(t, err)

	_, err = h.svc.SetTokenLimits(ctx, true, big.NewInt(10), big.NewInt(1))
	assert.ErrorIs(t, err, errno.ErrInvalidAmount)
	_, err = h.svc.SetTokenLimits(ctx, true, big.NewInt(1e12), big.NewInt(1e18))
	require.NoError(t, err)

	snap, ok := h.svc.Status(ctx)
	require.True(t, ok)
	assert.Equal(t, "2", snap.Balance)
	assert.Equal(t, "0.000001", snap.MinBet)
	assert.Equal(t, "1", snap.MaxBet)
	assert.True(t, snap.TokenEnabled)
}

func TestExplorerLinkOnNotices(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	_, err := h.svc.PlaceDice(context.Background(), stake, 50)
	require.NoError(t, err)

	var found bool
	for _, n := range h.svc.Board().Notices {
		if strings.HasPrefix(n.TxURL, "https://sepolia.etherscan.io/tx/0x") {
			found = true
		}
	}
	assert.True(t, found)
}
