// Package simulated is an in-memory RandomGame contract with the same
// payout, custody and refund rules as the deployed one. Randomness is
// delivered explicitly through FulfillDice / FulfillDraw, or automatically
// after a delay when configured.
package simulated

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"

	"github.com/gec682416/onchain-random-game/internal/ledger"
	"github.com/gec682416/onchain-random-game/pkg/errno"
	"github.com/gec682416/onchain-random-game/pkg/logger"
)

const bpsDenominator = 10000

type round struct {
	ledger.LotteryRound
	tickets  []common.Address
	refunded map[common.Address]bool
}

// Contract 是模拟合约的共享状态，通过 Bind 得到某个账户视角的 ledger.Ledger
type Contract struct {
	mu sync.Mutex

	address  common.Address
	now      func() time.Time
	edgeBps  uint16
	vrf      ledger.VRFConfig
	treasury *big.Int
	tokens   map[common.Address]ledger.TokenConfig
	locked   map[common.Address]*big.Int

	bets        []*ledger.DiceBet
	rounds      []*round
	requests    map[string]ledger.Resolution // requestId -> 待结算的游戏
	nextRequest int64
	block       uint64

	diceRefundAfter    time.Duration
	lotteryRefundAfter time.Duration

	autoFulfill time.Duration
	muted       bool
	readFault   func(method string) error

	feed event.Feed
}

type Option func(*Contract)

func WithClock(now func() time.Time) Option {
	return func(c *Contract) { c.now = now }
}

func WithHouseEdge(bps uint16) Option {
	return func(c *Contract) { c.edgeBps = bps }
}

func WithRefundWindows(dice, lottery time.Duration) Option {
	return func(c *Contract) {
		c.diceRefundAfter = dice
		c.lotteryRefundAfter = lottery
	}
}

// WithAutoFulfill 在请求随机数 delay 之后自动回调
func WithAutoFulfill(delay time.Duration) Option {
	return func(c *Contract) { c.autoFulfill = delay }
}

func New(address common.Address, opts ...Option) *Contract {
	c := &Contract{
		address:  address,
		now:      time.Now,
		edgeBps:  200,
		treasury: new(big.Int),
		tokens:   make(map[common.Address]ledger.TokenConfig),
		locked:   make(map[common.Address]*big.Int),
		requests: make(map[string]ledger.Resolution),
		vrf: ledger.VRFConfig{
			KeyHash:          crypto.Keccak256Hash([]byte("sim-key-hash")),
			SubscriptionID:   big.NewInt(1),
			CallbackGasLimit: 250000,
		},
		diceRefundAfter:    24 * time.Hour,
		lotteryRefundAfter: 7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Contract) Address() common.Address {
	return c.address
}

// MuteEvents 为 true 时结算只写状态不发事件，只能靠轮询发现
func (c *Contract) MuteEvents(muted bool) {
	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()
}

// SetReadFault 让 GetBet / GetRound 等读调用按需失败
func (c *Contract) SetReadFault(fn func(method string) error) {
	c.mu.Lock()
	c.readFault = fn
	c.mu.Unlock()
}

// Bind 返回以 from 为发送方的账户视图
func (c *Contract) Bind(from common.Address) *Account {
	return &Account{c: c, from: func() (common.Address, error) { return from, nil }}
}

// BindFunc 每次写操作时解析发送方，用于账户可切换的钱包
func (c *Contract) BindFunc(from func() (common.Address, error)) *Account {
	return &Account{c: c, from: from}
}

// ---------------------------------------------------------------------
// 随机数回调
// ---------------------------------------------------------------------

// FulfillDice 用随机字 word 结算骰子，roll = word % 100 + 1
func (c *Contract) FulfillDice(id uint64, word *big.Int) error {
	c.mu.Lock()
	if id >= uint64(len(c.bets)) {
		c.mu.Unlock()
		return fmt.Errorf("dice %d not found", id)
	}
	bet := c.bets[id]
	if bet.Resolved || bet.Refunded {
		c.mu.Unlock()
		return fmt.Errorf("dice %d already settled", id)
	}

	roll := uint8(new(big.Int).Mod(word, big.NewInt(100)).Uint64() + 1)
	bet.Resolved = true
	bet.Roll = roll
	bet.Won = roll < bet.RollUnder

	payout := new(big.Int)
	if bet.Won {
		payout.Set(bet.PotentialPayout)
		c.treasury.Sub(c.treasury, payout)
	}
	c.unlock(bet.Token, bet.PotentialPayout)
	delete(c.requests, bet.RequestID.String())
	c.block++

	res := ledger.Resolution{
		Game:        ledger.Dice,
		ID:          id,
		Player:      bet.Player,
		Won:         bet.Won,
		Roll:        roll,
		Payout:      payout,
		TxHash:      c.txHash("fulfillDice", id),
		BlockNumber: c.block,
	}
	muted := c.muted
	c.mu.Unlock()

	if !muted {
		c.feed.Send(res)
	}
	return nil
}

// FulfillDraw 用随机字 word 抽出中奖票
func (c *Contract) FulfillDraw(id uint64, word *big.Int) error {
	c.mu.Lock()
	if id >= uint64(len(c.rounds)) {
		c.mu.Unlock()
		return fmt.Errorf("lottery %d not found", id)
	}
	r := c.rounds[id]
	if !r.DrawRequested || r.Drawn {
		c.mu.Unlock()
		return fmt.Errorf("lottery %d not awaiting draw", id)
	}

	winner := r.tickets[new(big.Int).Mod(word, big.NewInt(int64(len(r.tickets)))).Uint64()]
	payout := new(big.Int).Mul(r.Pot, big.NewInt(int64(bpsDenominator-c.edgeBps)))
	payout.Div(payout, big.NewInt(bpsDenominator))

	r.Drawn = true
	r.Winner = winner
	c.treasury.Sub(c.treasury, payout)
	c.unlock(r.Token, r.Pot)
	delete(c.requests, r.RequestID.String())
	c.block++

	res := ledger.Resolution{
		Game:        ledger.Lottery,
		ID:          id,
		Winner:      winner,
		Payout:      payout,
		TxHash:      c.txHash("fulfillDraw", id),
		BlockNumber: c.block,
	}
	muted := c.muted
	c.mu.Unlock()

	if !muted {
		c.feed.Send(res)
	}
	return nil
}

// PendingRequests 返回尚未回调的请求，按 requestId 排序
func (c *Contract) PendingRequests() []ledger.Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ledger.Resolution, 0, len(c.requests))
	for _, r := range c.requests {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Game != out[j].Game {
			return out[i].Game < out[j].Game
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *Contract) scheduleFulfill(game ledger.Game, id uint64) {
	if c.autoFulfill <= 0 {
		return
	}
	time.AfterFunc(c.autoFulfill, func() {
		var err error
		if game == ledger.Dice {
			err = c.FulfillDice(id, randomWord())
		} else {
			err = c.FulfillDraw(id, randomWord())
		}
		if err != nil {
			logger.Warn("模拟 VRF 回调失败", zap.String("game", game.String()), zap.Uint64("id", id), zap.Error(err))
		}
	})
}

func randomWord() *big.Int {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return new(big.Int).SetUint64(binary.BigEndian.Uint64(b[:]))
}

// ---------------------------------------------------------------------
// 内部记账，调用方持有 c.mu
// ---------------------------------------------------------------------

func (c *Contract) lockedOf(token common.Address) *big.Int {
	v, ok := c.locked[token]
	if !ok {
		v = new(big.Int)
		c.locked[token] = v
	}
	return v
}

func (c *Contract) lock(token common.Address, amount *big.Int) {
	l := c.lockedOf(token)
	l.Add(l, amount)
}

func (c *Contract) unlock(token common.Address, amount *big.Int) {
	l := c.lockedOf(token)
	l.Sub(l, amount)
	if l.Sign() < 0 {
		l.SetInt64(0)
	}
}

func (c *Contract) available(token common.Address) *big.Int {
	return new(big.Int).Sub(c.treasury, c.lockedOf(token))
}

func (c *Contract) newRequest(game ledger.Game, id uint64) *big.Int {
	c.nextRequest++
	reqID := big.NewInt(c.nextRequest)
	c.requests[reqID.String()] = ledger.Resolution{Game: game, ID: id}
	return reqID
}

func (c *Contract) txHash(method string, id uint64) common.Hash {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], c.block)
	binary.BigEndian.PutUint64(buf[8:], id)
	return crypto.Keccak256Hash([]byte(method), buf[:])
}

func (c *Contract) receipt(method string, id uint64, hasID bool) *ledger.Receipt {
	c.block++
	return &ledger.Receipt{
		TxHash:      c.txHash(method, id),
		BlockNumber: c.block,
		GasUsed:     21000,
		ID:          id,
		HasID:       hasID,
	}
}

func quote(stake *big.Int, rollUnder uint8, edgeBps uint16) *big.Int {
	// stake * 100 / (rollUnder-1) * (1 - edge)
	out := new(big.Int).Mul(stake, big.NewInt(100*int64(bpsDenominator-edgeBps)))
	return out.Div(out, big.NewInt(int64(rollUnder-1)*bpsDenominator))
}

func reverted(reason string) error {
	return errno.ErrSubmissionRejected.Wrapf("execution reverted: %s", reason)
}

func (c *Contract) checkRead(method string) error {
	if c.readFault == nil {
		return nil
	}
	if err := c.readFault(method); err != nil {
		return errno.ErrLedgerCallFailed.Wrapf("%s: %w", method, err)
	}
	return nil
}

func (c *Contract) watch(ctx context.Context, sink chan<- ledger.Resolution) event.Subscription {
	return c.feed.Subscribe(sink)
}
