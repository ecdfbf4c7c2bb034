package simulated

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/gec682416/onchain-random-game/internal/ledger"
	"github.com/gec682416/onchain-random-game/pkg/errno"
)

// Account 以某个发送方调用模拟合约，实现 ledger.Ledger
type Account struct {
	c    *Contract
	from func() (common.Address, error)
}

var _ ledger.Ledger = (*Account)(nil)

func (a *Account) sender() (common.Address, error) {
	from, err := a.from()
	if err != nil {
		return common.Address{}, errno.ErrWalletUnavailable.Wrap(err)
	}
	return from, nil
}

// ---------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------

func (a *Account) TreasuryBalance(ctx context.Context) (*big.Int, error) {
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRead("balance"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.treasury), nil
}

func (a *Account) HouseEdgeBps(ctx context.Context) (uint16, error) {
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRead("houseEdgeBps"); err != nil {
		return 0, err
	}
	return c.edgeBps, nil
}

func (a *Account) TokenConfig(ctx context.Context, token common.Address) (ledger.TokenConfig, error) {
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRead("tokenConfigs"); err != nil {
		return ledger.TokenConfig{}, err
	}
	cfg, ok := c.tokens[token]
	if !ok {
		return ledger.TokenConfig{MinBet: new(big.Int), MaxBet: new(big.Int)}, nil
	}
	return ledger.TokenConfig{Enabled: cfg.Enabled, MinBet: new(big.Int).Set(cfg.MinBet), MaxBet: new(big.Int).Set(cfg.MaxBet)}, nil
}

func (a *Account) LockedFunds(ctx context.Context, token common.Address) (*big.Int, error) {
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRead("lockedFunds"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.lockedOf(token)), nil
}

func (a *Account) NextDiceID(ctx context.Context) (uint64, error) {
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRead("nextDiceId"); err != nil {
		return 0, err
	}
	return uint64(len(c.bets)), nil
}

func (a *Account) NextLotteryID(ctx context.Context) (uint64, error) {
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRead("nextLotteryId"); err != nil {
		return 0, err
	}
	return uint64(len(c.rounds)), nil
}

func (a *Account) VRFConfig(ctx context.Context) (ledger.VRFConfig, error) {
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRead("getVRFConfig"); err != nil {
		return ledger.VRFConfig{}, err
	}
	v := c.vrf
	v.SubscriptionID = new(big.Int).Set(c.vrf.SubscriptionID)
	return v, nil
}

// GetBet 与合约 mapping 一致，不存在的 id 返回零值
func (a *Account) GetBet(ctx context.Context, id uint64) (ledger.DiceBet, error) {
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRead("diceBets"); err != nil {
		return ledger.DiceBet{}, err
	}
	if id >= uint64(len(c.bets)) {
		return ledger.DiceBet{ID: id, Stake: new(big.Int), PotentialPayout: new(big.Int), RequestID: new(big.Int)}, nil
	}
	return copyBet(c.bets[id]), nil
}

func (a *Account) GetRound(ctx context.Context, id uint64) (ledger.LotteryRound, error) {
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRead("lotteries"); err != nil {
		return ledger.LotteryRound{}, err
	}
	if id >= uint64(len(c.rounds)) {
		return ledger.LotteryRound{ID: id, TicketPrice: new(big.Int), Pot: new(big.Int), RequestID: new(big.Int)}, nil
	}
	return copyRound(c.rounds[id]), nil
}

func (a *Account) ListRefundableBets(ctx context.Context, player common.Address) ([]uint64, error) {
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRead("getUserRefundableDiceBets"); err != nil {
		return nil, err
	}
	now := c.now()
	var ids []uint64
	for _, b := range c.bets {
		if b.Player != player || b.Resolved || b.Refunded {
			continue
		}
		if now.Sub(b.CreatedAt) >= c.diceRefundAfter {
			ids = append(ids, b.ID)
		}
	}
	return ids, nil
}

func (a *Account) ListActiveRounds(ctx context.Context, player common.Address) ([]uint64, error) {
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRead("getUserActiveLotteries"); err != nil {
		return nil, err
	}
	var ids []uint64
	for _, r := range c.rounds {
		if r.Drawn || r.refunded[player] {
			continue
		}
		for _, t := range r.tickets {
			if t == player {
				ids = append(ids, r.ID)
				break
			}
		}
	}
	return ids, nil
}

func (a *Account) QuotePayout(ctx context.Context, stake *big.Int, rollUnder uint8) (*big.Int, error) {
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRead("calcDicePayout"); err != nil {
		return nil, err
	}
	if rollUnder < ledger.MinRollUnder || rollUnder > ledger.MaxRollUnder {
		return nil, errno.ErrLedgerCallFailed.Wrapf("calcDicePayout: execution reverted: bad rollUnder")
	}
	return quote(stake, rollUnder, c.edgeBps), nil
}

// ---------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------

func (a *Account) PlaceBet(ctx context.Context, token common.Address, stake *big.Int, rollUnder uint8) (*ledger.Receipt, error) {
	from, err := a.sender()
	if err != nil {
		return nil, err
	}
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if rollUnder < ledger.MinRollUnder || rollUnder > ledger.MaxRollUnder {
		return nil, reverted("bad rollUnder")
	}
	cfg, ok := c.tokens[token]
	if !ok || !cfg.Enabled {
		return nil, reverted("token disabled")
	}
	if stake.Cmp(cfg.MinBet) < 0 || stake.Cmp(cfg.MaxBet) > 0 {
		return nil, reverted("stake out of range")
	}
	payout := quote(stake, rollUnder, c.edgeBps)
	// 押注进入金库后仍需覆盖最大赔付
	avail := c.available(token)
	avail.Add(avail, stake)
	if avail.Cmp(payout) < 0 {
		return nil, reverted("insufficient liquidity")
	}

	id := uint64(len(c.bets))
	c.treasury.Add(c.treasury, stake)
	c.lock(token, payout)
	c.bets = append(c.bets, &ledger.DiceBet{
		ID:              id,
		Player:          from,
		Token:           token,
		Stake:           new(big.Int).Set(stake),
		RollUnder:       rollUnder,
		PotentialPayout: payout,
		CreatedAt:       c.now(),
		RequestID:       c.newRequest(ledger.Dice, id),
	})
	c.scheduleFulfill(ledger.Dice, id)
	return c.receipt("playDice", id, true), nil
}

func (a *Account) SetTokenLimits(ctx context.Context, token common.Address, enabled bool, minBet, maxBet *big.Int) (*ledger.Receipt, error) {
	if _, err := a.sender(); err != nil {
		return nil, err
	}
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if minBet.Sign() < 0 || maxBet.Cmp(minBet) < 0 {
		return nil, reverted("bad limits")
	}
	c.tokens[token] = ledger.TokenConfig{Enabled: enabled, MinBet: new(big.Int).Set(minBet), MaxBet: new(big.Int).Set(maxBet)}
	return c.receipt("setTokenConfig", 0, false), nil
}

func (a *Account) FundTreasury(ctx context.Context, amount *big.Int) (*ledger.Receipt, error) {
	if _, err := a.sender(); err != nil {
		return nil, err
	}
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return nil, reverted("zero amount")
	}
	c.treasury.Add(c.treasury, amount)
	return c.receipt("fundETH", 0, false), nil
}

func (a *Account) CreateLotteryRound(ctx context.Context, token common.Address, ticketPrice *big.Int, start, end time.Time) (*ledger.Receipt, error) {
	if _, err := a.sender(); err != nil {
		return nil, err
	}
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if ticketPrice == nil || ticketPrice.Sign() <= 0 {
		return nil, reverted("bad ticket price")
	}
	if !end.After(start) {
		return nil, reverted("bad time window")
	}
	id := uint64(len(c.rounds))
	c.rounds = append(c.rounds, &round{
		LotteryRound: ledger.LotteryRound{
			ID:          id,
			Token:       token,
			TicketPrice: new(big.Int).Set(ticketPrice),
			StartTime:   start.UTC().Truncate(time.Second),
			EndTime:     end.UTC().Truncate(time.Second),
			Pot:         new(big.Int),
			RequestID:   new(big.Int),
		},
		refunded: make(map[common.Address]bool),
	})
	return c.receipt("createLottery", id, true), nil
}

func (a *Account) BuyTickets(ctx context.Context, id uint64, count uint32) (*ledger.Receipt, error) {
	from, err := a.sender()
	if err != nil {
		return nil, err
	}
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if id >= uint64(len(c.rounds)) {
		return nil, reverted("no lottery")
	}
	r := c.rounds[id]
	now := c.now()
	if now.Before(r.StartTime) || !now.Before(r.EndTime) {
		return nil, reverted("lottery not open")
	}
	if count == 0 {
		return nil, reverted("zero tickets")
	}
	total := new(big.Int).Mul(r.TicketPrice, big.NewInt(int64(count)))
	for i := uint32(0); i < count; i++ {
		r.tickets = append(r.tickets, from)
	}
	r.TicketCount += count
	r.Pot.Add(r.Pot, total)
	c.treasury.Add(c.treasury, total)
	c.lock(r.Token, total)
	return c.receipt("buyTickets", id, false), nil
}

func (a *Account) RequestDraw(ctx context.Context, id uint64) (*ledger.Receipt, error) {
	if _, err := a.sender(); err != nil {
		return nil, err
	}
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if id >= uint64(len(c.rounds)) {
		return nil, reverted("no lottery")
	}
	r := c.rounds[id]
	switch {
	case c.now().Before(r.EndTime):
		return nil, reverted("lottery not ended")
	case r.DrawRequested:
		return nil, reverted("draw already requested")
	case len(r.tickets) == 0:
		return nil, reverted("no tickets")
	}
	r.DrawRequested = true
	r.RequestID = c.newRequest(ledger.Lottery, id)
	c.scheduleFulfill(ledger.Lottery, id)
	return c.receipt("requestLotteryDraw", id, true), nil
}

func (a *Account) RefundStuckBet(ctx context.Context, id uint64) (*ledger.Receipt, error) {
	from, err := a.sender()
	if err != nil {
		return nil, err
	}
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if id >= uint64(len(c.bets)) {
		return nil, reverted("no bet")
	}
	b := c.bets[id]
	switch {
	case b.Player != from:
		return nil, reverted("not player")
	case b.Resolved || b.Refunded:
		return nil, reverted("bet settled")
	case c.now().Sub(b.CreatedAt) < c.diceRefundAfter:
		return nil, reverted("too early")
	}
	b.Refunded = true
	c.treasury.Sub(c.treasury, b.Stake)
	c.unlock(b.Token, b.PotentialPayout)
	delete(c.requests, b.RequestID.String())
	return c.receipt("refundStuckDiceBet", id, false), nil
}

func (a *Account) ClaimLotteryRefund(ctx context.Context, id uint64) (*ledger.Receipt, error) {
	from, err := a.sender()
	if err != nil {
		return nil, err
	}
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if id >= uint64(len(c.rounds)) {
		return nil, reverted("no lottery")
	}
	r := c.rounds[id]
	if r.Drawn {
		return nil, reverted("already drawn")
	}
	if c.now().Before(r.EndTime.Add(c.lotteryRefundAfter)) {
		return nil, reverted("too early")
	}
	if r.refunded[from] {
		return nil, reverted("already refunded")
	}
	var n int64
	for _, t := range r.tickets {
		if t == from {
			n++
		}
	}
	if n == 0 {
		return nil, reverted("no tickets")
	}
	amount := new(big.Int).Mul(r.TicketPrice, big.NewInt(n))
	r.refunded[from] = true
	r.Pot.Sub(r.Pot, amount)
	c.treasury.Sub(c.treasury, amount)
	c.unlock(r.Token, amount)
	if len(r.refunded) > 0 && r.Pot.Sign() == 0 {
		r.Refunded = true
	}
	return c.receipt("claimRefund", id, false), nil
}

// ---------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------

func (a *Account) WatchResolutions(ctx context.Context, sink chan<- ledger.Resolution) (event.Subscription, error) {
	return a.c.watch(ctx, sink), nil
}

func copyBet(b *ledger.DiceBet) ledger.DiceBet {
	out := *b
	out.Stake = new(big.Int).Set(b.Stake)
	out.PotentialPayout = new(big.Int).Set(b.PotentialPayout)
	out.RequestID = new(big.Int).Set(b.RequestID)
	return out
}

func copyRound(r *round) ledger.LotteryRound {
	out := r.LotteryRound
	out.TicketPrice = new(big.Int).Set(r.TicketPrice)
	out.Pot = new(big.Int).Set(r.Pot)
	out.RequestID = new(big.Int).Set(r.RequestID)
	return out
}
