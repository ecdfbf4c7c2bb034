package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gec682416/onchain-random-game/internal/ledger"
	"github.com/gec682416/onchain-random-game/internal/wager"
	"github.com/gec682416/onchain-random-game/pkg/errno"
)

type fakeRefunder struct {
	err  error
	keys []wager.Key
}

func (f *fakeRefunder) Refund(ctx context.Context, key wager.Key) (*ledger.Receipt, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	return &ledger.Receipt{TxHash: common.HexToHash("0xabc")}, nil
}

func TestNewRefundTask(t *testing.T) {
	task, err := NewRefundTask(wager.Key{Game: ledger.Lottery, ID: 4})
	require.NoError(t, err)
	assert.Equal(t, TypeRefundExecute, task.Type())

	var p RefundPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, ledger.Lottery, p.Game)
	assert.Equal(t, uint64(4), p.ID)
	assert.JSONEq(t, `{"game":"lottery","id":4}`, string(task.Payload()))
}

func TestRefundHandler(t *testing.T) {
	task, err := NewRefundTask(wager.Key{Game: ledger.Dice, ID: 9})
	require.NoError(t, err)

	ok := &fakeRefunder{}
	require.NoError(t, NewRefundHandler(ok).ProcessTask(context.Background(), task))
	assert.Equal(t, []wager.Key{{Game: ledger.Dice, ID: 9}}, ok.keys)

	rejected := &fakeRefunder{err: errno.ErrSubmissionRejected.Wrapf("execution reverted: too early")}
	err = NewRefundHandler(rejected).ProcessTask(context.Background(), task)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	busy := &fakeRefunder{err: errno.ErrBusy}
	err = NewRefundHandler(busy).ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry), "busy is retried")

	bad := asynq.NewTask(TypeRefundExecute, []byte("{"))
	err = NewRefundHandler(ok).ProcessTask(context.Background(), bad)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
