package simulated

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gec682416/onchain-random-game/internal/ledger"
	"github.com/gec682416/onchain-random-game/pkg/errno"
	"github.com/gec682416/onchain-random-game/pkg/units"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (m *manualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *manualClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

var (
	owner  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	player = common.HexToAddress("0x9858EfFD232B4033E47d90003D41EC34EcaEda94")
	native = common.Address{}
)

func eth(s string) *big.Int {
	wei, err := units.ParseEther(s)
	if err != nil {
		panic(err)
	}
	return wei
}

func setup(t *testing.T) (*Contract, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(common.HexToAddress("0x1111111111111111111111111111111111111111"), WithClock(clock.Now))
	ctx := context.Background()
	_, err := c.Bind(owner).FundTreasury(ctx, eth("10"))
	require.NoError(t, err)
	_, err = c.Bind(owner).SetTokenLimits(ctx, native, true, eth("0.0001"), eth("1"))
	require.NoError(t, err)
	return c, clock
}

func TestQuotePayoutNonIncreasing(t *testing.T) {
	c, _ := setup(t)
	acc := c.Bind(player)
	ctx := context.Background()

	prev, err := acc.QuotePayout(ctx, eth("0.001"), ledger.MinRollUnder)
	require.NoError(t, err)
	for th := ledger.MinRollUnder + 1; th <= ledger.MaxRollUnder; th++ {
		q, err := acc.QuotePayout(ctx, eth("0.001"), th)
		require.NoError(t, err)
		assert.LessOrEqual(t, q.Cmp(prev), 0, "threshold %d", th)
		prev = q
	}

	q, err := acc.QuotePayout(ctx, big.NewInt(1e14), 51)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(196e12), q)

	_, err = acc.QuotePayout(ctx, eth("0.001"), 100)
	assert.ErrorIs(t, err, errno.ErrLedgerCallFailed)
}

func TestPlaceBetAndFulfill(t *testing.T) {
	c, _ := setup(t)
	acc := c.Bind(player)
	ctx := context.Background()

	sink := make(chan ledger.Resolution, 1)
	sub, err := acc.WatchResolutions(ctx, sink)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	rec, err := acc.PlaceBet(ctx, native, big.NewInt(1e14), 51)
	require.NoError(t, err)
	require.True(t, rec.HasID)
	assert.Equal(t, uint64(0), rec.ID)

	locked, err := acc.LockedFunds(ctx, native)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(196e12), locked)
	assert.Len(t, c.PendingRequests(), 1)

	// word 41 -> roll 42 < 51
	require.NoError(t, c.FulfillDice(0, big.NewInt(41)))
	res := <-sink
	assert.Equal(t, ledger.Dice, res.Game)
	assert.Equal(t, player, res.Player)
	assert.True(t, res.Won)
	assert.Equal(t, uint8(42), res.Roll)
	assert.Equal(t, big.NewInt(196e12), res.Payout)

	bet, err := acc.GetBet(ctx, 0)
	require.NoError(t, err)
	assert.True(t, bet.Resolved)
	assert.True(t, bet.Won)

	locked, _ = acc.LockedFunds(ctx, native)
	assert.Zero(t, locked.Sign())
	assert.Empty(t, c.PendingRequests())

	assert.Error(t, c.FulfillDice(0, big.NewInt(1)))
}

func TestPlaceBetRejections(t *testing.T) {
	c, _ := setup(t)
	acc := c.Bind(player)
	ctx := context.Background()

	_, err := acc.PlaceBet(ctx, native, big.NewInt(1e14), 1)
	assert.ErrorIs(t, err, errno.ErrSubmissionRejected)

	_, err = acc.PlaceBet(ctx, native, eth("2"), 50)
	assert.ErrorIs(t, err, errno.ErrSubmissionRejected)

	_, err = acc.PlaceBet(ctx, common.HexToAddress("0x01"), big.NewInt(1e14), 50)
	assert.ErrorIs(t, err, errno.ErrSubmissionRejected)
}

func TestMutedResolutionVisibleToPolling(t *testing.T) {
	c, _ := setup(t)
	acc := c.Bind(player)
	ctx := context.Background()

	sink := make(chan ledger.Resolution, 1)
	sub, _ := acc.WatchResolutions(ctx, sink)
	defer sub.Unsubscribe()

	_, err := acc.PlaceBet(ctx, native, big.NewInt(1e14), 10)
	require.NoError(t, err)

	c.MuteEvents(true)
	require.NoError(t, c.FulfillDice(0, big.NewInt(98)))

	select {
	case <-sink:
		t.Fatal("muted resolution must not be published")
	case <-time.After(50 * time.Millisecond):
	}
	bet, err := acc.GetBet(ctx, 0)
	require.NoError(t, err)
	assert.True(t, bet.Resolved)
	assert.False(t, bet.Won)
	assert.Equal(t, uint8(99), bet.Roll)
}

func TestLotteryLifecycle(t *testing.T) {
	c, clock := setup(t)
	ctx := context.Background()
	acc := c.Bind(player)

	start := clock.Now()
	rec, err := c.Bind(owner).CreateLotteryRound(ctx, native, big.NewInt(1e14), start, start.Add(time.Hour))
	require.NoError(t, err)
	id := rec.ID

	_, err = acc.BuyTickets(ctx, id, 3)
	require.NoError(t, err)

	_, err = acc.RequestDraw(ctx, id)
	assert.ErrorIs(t, err, errno.ErrSubmissionRejected, "draw before end time")

	clock.Advance(time.Hour)
	_, err = acc.BuyTickets(ctx, id, 1)
	assert.ErrorIs(t, err, errno.ErrSubmissionRejected, "round closed")

	rec, err = acc.RequestDraw(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)

	_, err = acc.RequestDraw(ctx, id)
	assert.ErrorIs(t, err, errno.ErrSubmissionRejected)

	require.NoError(t, c.FulfillDraw(id, big.NewInt(7)))
	round, err := acc.GetRound(ctx, id)
	require.NoError(t, err)
	assert.True(t, round.Drawn)
	assert.Equal(t, player, round.Winner)
	assert.Equal(t, uint32(3), round.TicketCount)
	assert.Equal(t, big.NewInt(3e14), round.Pot)
}

func TestDiceRefundWindow(t *testing.T) {
	c, clock := setup(t)
	ctx := context.Background()
	acc := c.Bind(player)

	_, err := acc.PlaceBet(ctx, native, big.NewInt(1e14), 50)
	require.NoError(t, err)

	ids, err := acc.ListRefundableBets(ctx, player)
	require.NoError(t, err)
	assert.Empty(t, ids)
	_, err = acc.RefundStuckBet(ctx, 0)
	assert.ErrorIs(t, err, errno.ErrSubmissionRejected)

	clock.Advance(24 * time.Hour)
	ids, err = acc.ListRefundableBets(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, ids)

	_, err = c.Bind(owner).RefundStuckBet(ctx, 0)
	assert.ErrorIs(t, err, errno.ErrSubmissionRejected, "only the player may refund")

	_, err = acc.RefundStuckBet(ctx, 0)
	require.NoError(t, err)
	ids, _ = acc.ListRefundableBets(ctx, player)
	assert.Empty(t, ids)
	assert.Error(t, c.FulfillDice(0, big.NewInt(1)))
}

func TestLotteryRefundWindow(t *testing.T) {
	c, clock := setup(t)
	ctx := context.Background()
	acc := c.Bind(player)

	start := clock.Now()
	rec, err := c.Bind(owner).CreateLotteryRound(ctx, native, big.NewInt(1e14), start, start.Add(time.Hour))
	require.NoError(t, err)
	_, err = acc.BuyTickets(ctx, rec.ID, 2)
	require.NoError(t, err)

	ids, err := acc.ListActiveRounds(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, []uint64{rec.ID}, ids)

	clock.Advance(time.Hour + 7*24*time.Hour - time.Second)
	_, err = acc.ClaimLotteryRefund(ctx, rec.ID)
	assert.ErrorIs(t, err, errno.ErrSubmissionRejected)

	clock.Advance(time.Second)
	_, err = acc.ClaimLotteryRefund(ctx, rec.ID)
	require.NoError(t, err)

	ids, _ = acc.ListActiveRounds(ctx, player)
	assert.Empty(t, ids)
	_, err = acc.ClaimLotteryRefund(ctx, rec.ID)
	assert.ErrorIs(t, err, errno.ErrSubmissionRejected)
}

func TestReadFault(t *testing.T) {
	c, _ := setup(t)
	c.SetReadFault(func(method string) error {
		if method == "diceBets" {
			return assert.AnError
		}
		return nil
	})
	_, err := c.Bind(player).GetBet(context.Background(), 0)
	assert.ErrorIs(t, err, errno.ErrLedgerCallFailed)
	_, err = c.Bind(player).HouseEdgeBps(context.Background())
	assert.NoError(t, err)
}

func TestAutoFulfill(t *testing.T) {
	clock := &manualClock{now: time.Now()}
	c := New(common.Address{}, WithClock(clock.Now), WithAutoFulfill(10*time.Millisecond))
	ctx := context.Background()
	_, _ = c.Bind(owner).FundTreasury(ctx, eth("1"))
	_, _ = c.Bind(owner).SetTokenLimits(ctx, native, true, big.NewInt(1), eth("1"))

	_, err := c.Bind(player).PlaceBet(ctx, native, big.NewInt(1e14), 50)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		bet, err := c.Bind(player).GetBet(ctx, 0)
		return err == nil && bet.Resolved
	}, time.Second, 10*time.Millisecond)
}
