package wager

import (
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gec682416/onchain-random-game/internal/ledger"
	"github.com/gec682416/onchain-random-game/pkg/errno"
)

func diceKey(id uint64) Key {
	return Key{Game: ledger.Dice, ID: id}
}

func TestLifecycleOrder(t *testing.T) {
	r := NewRegistry(uuid.New())

	var mu sync.Mutex
	var seen []State
	r.OnTransition(func(tr Transition) {
		mu.Lock()
		seen = append(seen, tr.To)
		mu.Unlock()
		assert.Equal(t, r.Session(), tr.Wager.Session)
	})

	w, err := r.Track(Wager{Key: diceKey(7), Stake: big.NewInt(1e14), RollUnder: 50})
	require.NoError(t, err)
	assert.Equal(t, Submitted, w.State)

	_, err = r.Track(Wager{Key: diceKey(7)})
	assert.Error(t, err, "duplicate id")

	_, ok := r.Resolve(diceKey(7), Outcome{})
	assert.False(t, ok, "Submitted cannot skip Pending")

	_, err = r.MarkPending(diceKey(7))
	require.NoError(t, err)

	got, ok := r.Resolve(diceKey(7), Outcome{Won: true, Roll: 42, Payout: big.NewInt(196e12), Channel: ChannelEvent})
	require.True(t, ok)
	assert.Equal(t, Resolved, got.State)
	assert.Equal(t, uint8(42), got.Outcome.Roll)
	assert.False(t, got.FinishedAt.IsZero())

	assert.Equal(t, []State{Submitted, Pending, Resolved}, seen)
}

func TestTerminalClaimedOnce(t *testing.T) {
	r := NewRegistry(uuid.New())
	var claims int32
	r.OnTransition(func(tr Transition) {
		if tr.To.Terminal() {
			atomic.AddInt32(&claims, 1)
		}
	})

	_, _ = r.Track(Wager{Key: diceKey(1)})
	_, _ = r.MarkPending(diceKey(1))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Resolve(diceKey(1), Outcome{Channel: ChannelPoll})
		}()
		go func() {
			defer wg.Done()
			r.TimeOut(diceKey(1))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&claims))
	st, ok := r.State(diceKey(1))
	require.True(t, ok)
	assert.True(t, st.Terminal())
}

func TestTimedOutNeverResolves(t *testing.T) {
	r := NewRegistry(uuid.New())
	_, _ = r.Track(Wager{Key: diceKey(3)})
	_, _ = r.MarkPending(diceKey(3))

	_, ok := r.TimeOut(diceKey(3))
	require.True(t, ok)
	_, ok = r.Resolve(diceKey(3), Outcome{})
	assert.False(t, ok)

	w, ok := r.MarkStuck(Wager{Key: diceKey(3)}, "unresolved after 24h")
	require.True(t, ok)
	assert.Equal(t, Stuck, w.State)
	assert.Equal(t, "unresolved after 24h", w.Reason)

	_, ok = r.MarkStuck(Wager{Key: diceKey(3)}, "again")
	assert.False(t, ok)
}

func TestMarkStuckUntracked(t *testing.T) {
	r := NewRegistry(uuid.New())
	var from State = Resolved
	r.OnTransition(func(tr Transition) { from = tr.From })

	w, ok := r.MarkStuck(Wager{Key: Key{Game: ledger.Lottery, ID: 2}}, "undrawn")
	require.True(t, ok)
	assert.Equal(t, Stuck, w.State)
	assert.Equal(t, r.Session(), w.Session)
	assert.Equal(t, Discovered, from)
	assert.Equal(t, "discovered", from.String())
	assert.False(t, from.Terminal())

	_, _ = r.Track(Wager{Key: diceKey(5)})
	_, _ = r.MarkPending(diceKey(5))
	_, ok = r.MarkStuck(Wager{Key: diceKey(5)}, "pending")
	assert.False(t, ok, "a pending wager is still being watched")
}

func TestUnknownKey(t *testing.T) {
	r := NewRegistry(uuid.New())
	_, err := r.MarkPending(diceKey(9))
	assert.ErrorIs(t, err, errno.ErrWagerNotFound)
	_, ok := r.Get(diceKey(9))
	assert.False(t, ok)
}

func TestListNewestFirst(t *testing.T) {
	r := NewRegistry(uuid.New())
	_, _ = r.Track(Wager{Key: diceKey(1)})
	_, _ = r.Track(Wager{Key: diceKey(2)})
	_, _ = r.Track(Wager{Key: Key{Game: ledger.Lottery, ID: 1}})

	list := r.List()
	require.Len(t, list, 3)
	for i := 1; i < len(list); i++ {
		assert.False(t, list[i].SubmittedAt.After(list[i-1].SubmittedAt))
	}
}

func TestStateText(t *testing.T) {
	assert.Equal(t, "timed_out", TimedOut.String())
	assert.Equal(t, "dice#4", diceKey(4).String())
	b, err := Pending.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "pending", string(b))
	assert.False(t, Pending.Terminal())
}
