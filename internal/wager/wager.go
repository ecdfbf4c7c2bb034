// Package wager tracks every wager a session submits through its lifecycle:
//
//	Submitting -> Submitted -> Pending -> Resolved | TimedOut | Stuck
//
// A wager reaches exactly one terminal state. The Registry claims terminal
// transitions with a check-and-set under its lock, so the event listener,
// the poller and the ceiling timer can race without double-reporting.
//
// Refund discovery can also surface a wager this session never tracked. It is
// entered directly as Stuck and its transition reports Discovered as origin.
package wager

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/gec682416/onchain-random-game/internal/ledger"
)

type State uint8

const (
	Submitting State = iota
	Submitted
	Pending
	Resolved
	TimedOut
	Stuck
	// Discovered 只作为 Transition.From 出现，表示退款扫描发现了本会话未跟踪的下注
	Discovered
)

func (s State) String() string {
	switch s {
	case Submitting:
		return "submitting"
	case Submitted:
		return "submitted"
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case TimedOut:
		return "timed_out"
	case Stuck:
		return "stuck"
	case Discovered:
		return "discovered"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal 表示不会再有后续状态。TimedOut 只能再进入 Stuck
func (s State) Terminal() bool {
	return s == Resolved || s == TimedOut || s == Stuck
}

// Channel 是发现结算结果的途径
type Channel string

const (
	ChannelEvent Channel = "event"
	ChannelPoll  Channel = "poll"
)

// Key 在同一 Game 内唯一标识一笔下注
type Key struct {
	Game ledger.Game `json:"game"`
	ID   uint64      `json:"id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s#%d", k.Game, k.ID)
}

type Outcome struct {
	Won        bool           `json:"won"`
	Roll       uint8          `json:"roll,omitempty"`
	Winner     common.Address `json:"winner,omitempty"`
	Payout     *big.Int       `json:"payout"`
	Channel    Channel        `json:"channel"`
	TxHash     common.Hash    `json:"tx_hash,omitempty"`
	ResolvedAt time.Time      `json:"resolved_at"`
}

// OutcomeFromResolution 转换链上事件
func OutcomeFromResolution(res ledger.Resolution, ch Channel, at time.Time) Outcome {
	payout := res.Payout
	if payout == nil {
		payout = new(big.Int)
	}
	return Outcome{
		Won:        res.Won,
		Roll:       res.Roll,
		Winner:     res.Winner,
		Payout:     payout,
		Channel:    ch,
		TxHash:     res.TxHash,
		ResolvedAt: at,
	}
}

type Wager struct {
	Key
	Session     uuid.UUID      `json:"session"`
	Player      common.Address `json:"player"`
	Stake       *big.Int       `json:"stake,omitempty"`
	RollUnder   uint8          `json:"roll_under,omitempty"`
	TicketCount uint32         `json:"ticket_count,omitempty"`
	TicketPrice *big.Int       `json:"ticket_price,omitempty"`
	TxHash      common.Hash    `json:"tx_hash"`
	State       State          `json:"state"`
	Outcome     *Outcome       `json:"outcome,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	PendingAt   time.Time      `json:"pending_at,omitempty"`
	FinishedAt  time.Time      `json:"finished_at,omitempty"`
}

// Transition 在状态变化后交给监听者，Wager 是变化后的快照
type Transition struct {
	From  State
	To    State
	Wager Wager
}
