package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// Game 区分两类游戏
type Game uint8

const (
	Dice Game = iota + 1
	Lottery
)

func (g Game) String() string {
	switch g {
	case Dice:
		return "dice"
	case Lottery:
		return "lottery"
	default:
		return "unknown"
	}
}

func (g Game) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

func (g *Game) UnmarshalText(b []byte) error {
	v, err := ParseGame(string(b))
	if err != nil {
		return err
	}
	*g = v
	return nil
}

func ParseGame(s string) (Game, error) {
	switch s {
	case "dice":
		return Dice, nil
	case "lottery":
		return Lottery, nil
	default:
		return 0, fmt.Errorf("unknown game %q", s)
	}
}

// Roll-under 阈值范围，掷出 1..100，roll < threshold 为赢
const (
	MinRollUnder uint8 = 2
	MaxRollUnder uint8 = 99
)

type DiceBet struct {
	ID              uint64         `json:"id"`
	Player          common.Address `json:"player"`
	Token           common.Address `json:"token"`
	Stake           *big.Int       `json:"stake"`
	RollUnder       uint8          `json:"roll_under"`
	PotentialPayout *big.Int       `json:"potential_payout"`
	CreatedAt       time.Time      `json:"created_at"`
	Resolved        bool           `json:"resolved"`
	Won             bool           `json:"won"`
	Roll            uint8          `json:"roll"`
	RequestID       *big.Int       `json:"request_id"`
	Refunded        bool           `json:"refunded"`
}

type LotteryRound struct {
	ID            uint64         `json:"id"`
	Token         common.Address `json:"token"`
	TicketPrice   *big.Int       `json:"ticket_price"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	Pot           *big.Int       `json:"pot"`
	TicketCount   uint32         `json:"ticket_count"`
	Winner        common.Address `json:"winner"`
	DrawRequested bool           `json:"draw_requested"`
	Drawn         bool           `json:"drawn"`
	RequestID     *big.Int       `json:"request_id"`
	Refunded      bool           `json:"refunded"`
}

type TokenConfig struct {
	Enabled bool     `json:"enabled"`
	MinBet  *big.Int `json:"min_bet"`
	MaxBet  *big.Int `json:"max_bet"`
}

type VRFConfig struct {
	KeyHash          common.Hash `json:"key_hash"`
	SubscriptionID   *big.Int    `json:"subscription_id"`
	CallbackGasLimit uint32      `json:"callback_gas_limit"`
}

// Receipt 是已确认的写交易；PlaceBet、CreateLotteryRound、RequestDraw 会从事件里带出 ID
type Receipt struct {
	TxHash      common.Hash `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
	GasUsed     uint64      `json:"gas_used"`
	ID          uint64      `json:"id"`
	HasID       bool        `json:"-"`
}

// Resolution 对应 DiceResolved / LotteryDrawn 事件
type Resolution struct {
	Game        Game           `json:"game"`
	ID          uint64         `json:"id"`
	Player      common.Address `json:"player"` // 仅 dice
	Won         bool           `json:"won"`
	Roll        uint8          `json:"roll"`
	Winner      common.Address `json:"winner"` // 仅 lottery
	Payout      *big.Int       `json:"payout"`
	TxHash      common.Hash    `json:"tx_hash"`
	BlockNumber uint64         `json:"block_number"`
}

// Reader 是只读调用，不需要网络守卫
type Reader interface {
	TreasuryBalance(ctx context.Context) (*big.Int, error)
	HouseEdgeBps(ctx context.Context) (uint16, error)
	TokenConfig(ctx context.Context, token common.Address) (TokenConfig, error)
	LockedFunds(ctx context.Context, token common.Address) (*big.Int, error)
	NextDiceID(ctx context.Context) (uint64, error)
	NextLotteryID(ctx context.Context) (uint64, error)
	VRFConfig(ctx context.Context) (VRFConfig, error)
	GetBet(ctx context.Context, id uint64) (DiceBet, error)
	GetRound(ctx context.Context, id uint64) (LotteryRound, error)
	ListRefundableBets(ctx context.Context, player common.Address) ([]uint64, error)
	ListActiveRounds(ctx context.Context, player common.Address) ([]uint64, error)
	QuotePayout(ctx context.Context, stake *big.Int, rollUnder uint8) (*big.Int, error)
}

// Writer 在交易确认后才返回
type Writer interface {
	PlaceBet(ctx context.Context, token common.Address, stake *big.Int, rollUnder uint8) (*Receipt, error)
	SetTokenLimits(ctx context.Context, token common.Address, enabled bool, minBet, maxBet *big.Int) (*Receipt, error)
	FundTreasury(ctx context.Context, amount *big.Int) (*Receipt, error)
	CreateLotteryRound(ctx context.Context, token common.Address, ticketPrice *big.Int, start, end time.Time) (*Receipt, error)
	// BuyTickets 按 ticketPrice × count 附带价值
	BuyTickets(ctx context.Context, id uint64, count uint32) (*Receipt, error)
	RequestDraw(ctx context.Context, id uint64) (*Receipt, error)
	RefundStuckBet(ctx context.Context, id uint64) (*Receipt, error)
	ClaimLotteryRefund(ctx context.Context, id uint64) (*Receipt, error)
}

// EventSource 推送结算事件直到订阅取消
type EventSource interface {
	WatchResolutions(ctx context.Context, sink chan<- Resolution) (event.Subscription, error)
}

type Ledger interface {
	Reader
	Writer
	EventSource
}
