package service

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gec682416/onchain-random-game/internal/ledger"
	"github.com/gec682416/onchain-random-game/internal/model"
	"github.com/gec682416/onchain-random-game/internal/wager"
	"github.com/gec682416/onchain-random-game/pkg/errno"
	"github.com/gec682416/onchain-random-game/pkg/logger"
	"github.com/gec682416/onchain-random-game/pkg/units"
)

// TopicWagerEvents 生命周期事件的 MQ 主题
const TopicWagerEvents = "wager_events"

// WagerEvent 是写入 Outbox 的消息体
type WagerEvent struct {
	Game      string    `json:"game"`
	WagerID   uint64    `json:"wager_id"`
	ChainID   uint64    `json:"chain_id"`
	SessionID string    `json:"session_id"`
	Player    string    `json:"player"`
	From      string    `json:"from"`
	State     string    `json:"state"`
	Won       bool      `json:"won,omitempty"`
	Roll      uint8     `json:"roll,omitempty"`
	Winner    string    `json:"winner,omitempty"`
	Payout    string    `json:"payout,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	TxHash    string    `json:"tx_hash,omitempty"`
	At        time.Time `json:"at"`
}

// HistoryService 把状态迁移落盘，并在同一事务里写 Outbox
// db 为 nil 时所有方法都是空操作
type HistoryService struct {
	db *gorm.DB
}

func NewHistoryService(db *gorm.DB) *HistoryService {
	return &HistoryService{db: db}
}

func (s *HistoryService) enabled() bool {
	return s != nil && s.db != nil
}

// Record 保存一次状态迁移
func (s *HistoryService) Record(ctx context.Context, chainID *big.Int, tr wager.Transition) error {
	if !s.enabled() {
		return nil
	}
	w := tr.Wager
	row := toRecord(chainID, w)
	evt := toEvent(row, tr)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A. Upsert 下注记录
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "game"}, {Name: "wager_id"}, {Name: "chain_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"session_id", "state", "won", "roll", "winner", "payout",
				"channel", "reason", "finished_at", "updated_at",
			}),
		}).Create(&row).Error; err != nil {
			return err
		}

		// B. 写入 Outbox 消息表 (在同一个事务中!)
		_, err := model.CreateOutboxMessage(tx, TopicWagerEvents, w.Key.String(), evt)
		return err
	})
	if err != nil {
		logger.Error("保存下注历史失败", zap.Stringer("wager", w.Key), zap.Error(err))
		return errno.ErrDatabase.Wrap(err)
	}
	return nil
}

// RecordRefund 保存退款交易
func (s *HistoryService) RecordRefund(ctx context.Context, chainID *big.Int, player string, key wager.Key, rec *ledger.Receipt) error {
	if !s.enabled() || rec == nil {
		return nil
	}
	row := model.Refund{
		Game:        key.Game.String(),
		WagerID:     key.ID,
		ChainID:     chainID.Uint64(),
		Player:      player,
		TxHash:      rec.TxHash.Hex(),
		BlockNumber: rec.BlockNumber,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return errno.ErrDatabase.Wrap(err)
	}
	return nil
}

// List 按提交时间倒序返回玩家的历史下注，player 为空返回全部
func (s *HistoryService) List(ctx context.Context, player string, limit int) ([]model.Wager, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("submitted_at DESC").Limit(limit)
	if player != "" {
		q = q.Where("player = ?", player)
	}
	var rows []model.Wager
	if err := q.Find(&rows).Error; err != nil {
		return nil, errno.ErrDatabase.Wrap(err)
	}
	return rows, nil
}

func toRecord(chainID *big.Int, w wager.Wager) model.Wager {
	row := model.Wager{
		Game:        w.Game.String(),
		WagerID:     w.ID,
		ChainID:     chainID.Uint64(),
		SessionID:   w.Session.String(),
		Player:      w.Player.Hex(),
		Stake:       units.ToEther(w.Stake),
		RollUnder:   w.RollUnder,
		TicketCount: w.TicketCount,
		TxHash:      w.TxHash.Hex(),
		State:       w.State.String(),
		Reason:      w.Reason,
		SubmittedAt: w.SubmittedAt,
	}
	if o := w.Outcome; o != nil {
		row.Won = o.Won
		row.Roll = o.Roll
		if o.Winner != (common.Address{}) {
			row.Winner = o.Winner.Hex()
		}
		row.Payout = units.ToEther(o.Payout)
		row.Channel = string(o.Channel)
	}
	if !w.FinishedAt.IsZero() {
		at := w.FinishedAt
		row.FinishedAt = &at
	}
	return row
}

func toEvent(row model.Wager, tr wager.Transition) WagerEvent {
	at := tr.Wager.SubmittedAt
	switch {
	case !tr.Wager.FinishedAt.IsZero():
		at = tr.Wager.FinishedAt
	case tr.To == wager.Pending:
		at = tr.Wager.PendingAt
	}
	evt := WagerEvent{
		Game:      row.Game,
		WagerID:   row.WagerID,
		ChainID:   row.ChainID,
		SessionID: row.SessionID,
		Player:    row.Player,
		From:      tr.From.String(),
		State:     tr.To.String(),
		Won:       row.Won,
		Roll:      row.Roll,
		Winner:    row.Winner,
		Channel:   row.Channel,
		TxHash:    row.TxHash,
		At:        at,
	}
	if tr.Wager.Outcome != nil {
		evt.Payout = row.Payout.String()
	}
	return evt
}
