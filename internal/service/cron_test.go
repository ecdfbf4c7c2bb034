package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gec682416/onchain-random-game/internal/ledger"
	"github.com/gec682416/onchain-random-game/internal/wager"
	"github.com/gec682416/onchain-random-game/pkg/errno"
	"github.com/gec682416/onchain-random-game/pkg/utils/lock"
)

type fakeSweeper struct {
	byGame map[ledger.Game][]Candidate
	err    error
	calls  []ledger.Game
}

func (f *fakeSweeper) Refundable(ctx context.Context, game ledger.Game) ([]Candidate, error) {
	f.calls = append(f.calls, game)
	if f.err != nil {
		return nil, f.err
	}
	return f.byGame[game], nil
}

type fakeEnqueuer struct {
	keys []wager.Key
	err  error
}

func (f *fakeEnqueuer) EnqueueRefund(key wager.Key) error {
	f.keys = append(f.keys, key)
	return f.err
}

func TestSweepStuckEnqueuesRefunds(t *testing.T) {
	dice := wager.Key{Game: ledger.Dice, ID: 1}
	lottery := wager.Key{Game: ledger.Lottery, ID: 2}
	sw := &fakeSweeper{byGame: map[ledger.Game][]Candidate{
		ledger.Dice:    {{Key: dice}},
		ledger.Lottery: {{Key: lottery}},
	}}
	enq := &fakeEnqueuer{}

	c := NewCronService(lock.NewLocalLock(), sw, enq, "")
	assert.Equal(t, 2, c.SweepStuck(context.Background()))
	assert.Equal(t, []wager.Key{dice, lottery}, enq.keys)
}

func TestSweepStuckWithoutWorkerOnlyMarks(t *testing.T) {
	sw := &fakeSweeper{byGame: map[ledger.Game][]Candidate{ledger.Dice: {{Key: wager.Key{Game: ledger.Dice, ID: 1}}}}}
	c := NewCronService(lock.NewLocalLock(), sw, nil, "@every 1m")
	assert.Equal(t, 1, c.SweepStuck(context.Background()))
	assert.Equal(t, []ledger.Game{ledger.Dice, ledger.Lottery}, sw.calls)
}

func TestSweepStuckSkipsWithoutSession(t *testing.T) {
	sw := &fakeSweeper{err: errno.ErrNoSession}
	c := NewCronService(lock.NewLocalLock(), sw, &fakeEnqueuer{}, "")
	assert.Zero(t, c.SweepStuck(context.Background()))
	assert.Len(t, sw.calls, 1)
}

func TestSweepStuckContinuesAfterReadError(t *testing.T) {
	sw := &fakeSweeper{err: errors.New("rpc down")}
	c := NewCronService(lock.NewLocalLock(), sw, nil, "")
	assert.Zero(t, c.SweepStuck(context.Background()))
	assert.Len(t, sw.calls, 2)
}

func TestSweepStuckRespectsLock(t *testing.T) {
	l := lock.NewLocalLock()
	ok, err := l.Acquire(context.Background(), sweepLockKey, time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)

	sw := &fakeSweeper{}
	c := NewCronService(l, sw, nil, "")
	assert.Zero(t, c.SweepStuck(context.Background()))
	assert.Empty(t, sw.calls)
}

func TestCronRejectsBadSpec(t *testing.T) {
	c := NewCronService(lock.NewLocalLock(), &fakeSweeper{}, nil, "every other tuesday")
	assert.Error(t, c.Start())
}
