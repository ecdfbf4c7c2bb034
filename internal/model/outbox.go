package model

import (
	"encoding/hex"
	"encoding/json"

	"lukechampine.com/blake3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateOutboxMessage 在同一个事务中创建业务数据和 Outbox 消息
// 同一条消息重复写入时保持一份，返回 created=false
func CreateOutboxMessage(tx *gorm.DB, topic, key string, payload interface{}) (bool, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}

	msg := OutboxMessage{
		Topic:     topic,
		Key:       key,
		DedupeKey: DedupeKey(topic, key, payloadBytes),
		Payload:   payloadBytes,
		Status:    OutboxPending,
	}

	res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedupe_key"}}, DoNothing: true}).Create(&msg)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func DedupeKey(topic, key string, payload []byte) string {
	h := blake3.New(32, nil)
	_, _ = h.Write([]byte(topic))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(key))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
