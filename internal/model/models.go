package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Wager 下注历史表，(game, wager_id, chain_id) 唯一
// 核心设计: 内存中的状态机是真相来源，这里只做落盘和审计
type Wager struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Game        string          `gorm:"type:varchar(16);not null;uniqueIndex:idx_game_wager" json:"game"` // dice, lottery
	WagerID     uint64          `gorm:"not null;uniqueIndex:idx_game_wager" json:"wager_id"`
	ChainID     uint64          `gorm:"not null;uniqueIndex:idx_game_wager" json:"chain_id"`
	SessionID   string          `gorm:"type:varchar(36);not null;index" json:"session_id"`
	Player      string          `gorm:"type:varchar(42);not null;index" json:"player"`
	Stake       decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0" json:"stake"`
	RollUnder   uint8           `gorm:"not null;default:0" json:"roll_under"`
	TicketCount uint32          `gorm:"not null;default:0" json:"ticket_count"`
	TxHash      string          `gorm:"type:varchar(66)" json:"tx_hash"`
	State       string          `gorm:"type:varchar(16);not null;index" json:"state"` // submitted, pending, resolved, timed_out, stuck
	Won         bool            `gorm:"not null;default:false" json:"won"`
	Roll        uint8           `gorm:"not null;default:0" json:"roll"`
	Winner      string          `gorm:"type:varchar(42)" json:"winner,omitempty"`
	Payout      decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0" json:"payout"`
	Channel     string          `gorm:"type:varchar(8)" json:"channel,omitempty"` // event, poll
	Reason      string          `gorm:"type:varchar(255)" json:"reason,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (Wager) TableName() string {
	return "wagers"
}

// Refund 退款交易记录
type Refund struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Game        string    `gorm:"type:varchar(16);not null;index:idx_refund_wager" json:"game"`
	WagerID     uint64    `gorm:"not null;index:idx_refund_wager" json:"wager_id"`
	ChainID     uint64    `gorm:"not null" json:"chain_id"`
	Player      string    `gorm:"type:varchar(42);not null;index" json:"player"`
	TxHash      string    `gorm:"type:varchar(66);not null;unique" json:"tx_hash"`
	BlockNumber uint64    `gorm:"not null" json:"block_number"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Refund) TableName() string {
	return "refunds"
}

// OutboxMessage 本地消息表 (Transactional Outbox)
// DedupeKey 由 blake3(topic|key|payload) 得到，重复写入直接忽略
type OutboxMessage struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Topic     string         `gorm:"type:varchar(255);not null" json:"topic"`
	Key       string         `gorm:"type:varchar(255);not null;default:''" json:"key"`
	DedupeKey string         `gorm:"type:varchar(64);not null;unique" json:"dedupe_key"`
	Payload   []byte         `gorm:"type:text;not null" json:"payload"`
	Status    string         `gorm:"type:varchar(50);not null;default:'PENDING';index" json:"status"` // PENDING, SENT, FAILED
	Attempts  int            `gorm:"not null;default:0" json:"attempts"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (OutboxMessage) TableName() string {
	return "outbox_messages"
}

const (
	OutboxPending = "PENDING"
	OutboxSent    = "SENT"
	OutboxFailed  = "FAILED"
)
