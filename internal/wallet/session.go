package wallet

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Session 是一次钱包连接，账户或网络变化后作废
type Session struct {
	ID        uuid.UUID      `json:"id"`
	Address   common.Address `json:"address"`
	ChainID   *big.Int       `json:"chain_id"`
	StartedAt time.Time      `json:"started_at"`
}

func NewSession(addr common.Address, chainID *big.Int) *Session {
	return &Session{
		ID:        uuid.New(),
		Address:   addr,
		ChainID:   new(big.Int).Set(chainID),
		StartedAt: time.Now(),
	}
}

// ShortAddress 返回 0x1234...abcd 形式
func ShortAddress(addr common.Address) string {
	h := addr.Hex()
	return h[:6] + "..." + h[len(h)-4:]
}
