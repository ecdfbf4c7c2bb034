package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gec682416/onchain-random-game/internal/wallet"
	"github.com/gec682416/onchain-random-game/pkg/errno"
)

var (
	contractAddr = common.HexToAddress("0x00000000000000000000000000000000000C0DE5")
	testChainID  = big.NewInt(11155111)
)

// fakeBackend 用 ABI 编码模拟合约返回
type fakeBackend struct {
	mu        sync.Mutex
	views     map[string]func(args []interface{}) []interface{}
	logsFor   func(method string, args []interface{}) []*types.Log
	revert    error
	failed    bool
	sent      []*types.Transaction
	methods   []string
	receipts  map[common.Hash]*types.Receipt
	notFound  map[common.Hash]int
	logStream chan<- types.Log
	subErr    chan error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		views:    make(map[string]func([]interface{}) []interface{}),
		receipts: make(map[common.Hash]*types.Receipt),
		notFound: make(map[common.Hash]int),
		subErr:   make(chan error, 1),
	}
}

func (b *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	m, err := parsedABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := m.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	fn, ok := b.views[m.Name]
	if !ok {
		return nil, errors.New("no view " + m.Name)
	}
	return m.Outputs.Pack(fn(args)...)
}

func (b *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	if b.revert != nil {
		return 0, b.revert
	}
	return 100000, nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.sent)), nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	m, err := parsedABI.MethodById(tx.Data()[:4])
	if err != nil {
		return err
	}
	args, err := m.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	b.methods = append(b.methods, m.Name)

	status := types.ReceiptStatusSuccessful
	if b.failed {
		status = types.ReceiptStatusFailed
	}
	rcpt := &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(int64(100 + len(b.sent))),
		GasUsed:     50000,
	}
	if b.logsFor != nil && status == types.ReceiptStatusSuccessful {
		rcpt.Logs = b.logsFor(m.Name, args)
	}
	b.receipts[tx.Hash()] = rcpt
	b.notFound[tx.Hash()] = 1 // 第一次查询返回 NotFound
	return nil
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.notFound[hash] > 0 {
		b.notFound[hash]--
		return nil, ethereum.NotFound
	}
	rcpt, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return rcpt, nil
}

func (b *fakeBackend) BalanceAt(ctx context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	return big.NewInt(5e15), nil
}

func (b *fakeBackend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	b.mu.Lock()
	b.logStream = ch
	b.mu.Unlock()
	return event.NewSubscription(func(quit <-chan struct{}) error {
		select {
		case err := <-b.subErr:
			return err
		case <-quit:
			return nil
		}
	}), nil
}

func eventLog(t *testing.T, name string, topics []common.Hash, data ...interface{}) *types.Log {
	t.Helper()
	ev := parsedABI.Events[name]
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	require.NoError(t, err)
	return &types.Log{
		Address: contractAddr,
		Topics:  append([]common.Hash{ev.ID}, topics...),
		Data:    packed,
	}
}

func newTestClient(t *testing.T, b *fakeBackend) (*Client, wallet.Signer) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := wallet.NewKeySigner(key)
	c := NewClient(b, contractAddr, testChainID,
		WithSigner(func() (wallet.Signer, error) { return signer, nil }),
		WithConfirmation(5*time.Millisecond, time.Second))
	return c, signer
}

func TestReadsDecodeOutputs(t *testing.T) {
	b := newFakeBackend()
	player := common.HexToAddress("0xabc")
	b.views["houseEdgeBps"] = func([]interface{}) []interface{} { return []interface{}{uint16(200)} }
	b.views["diceBets"] = func(args []interface{}) []interface{} {
		require.Equal(t, int64(7), args[0].(*big.Int).Int64())
		return []interface{}{
			player, common.Address{}, big.NewInt(1e14), uint8(50), big.NewInt(196e12), uint64(1700000000),
			true, true, uint8(42), big.NewInt(99), false,
		}
	}
	b.views["getVRFConfig"] = func([]interface{}) []interface{} {
		return []interface{}{[32]byte{1}, big.NewInt(12), uint32(250000)}
	}
	b.views["getUserRefundableDiceBets"] = func([]interface{}) []interface{} {
		return []interface{}{[]*big.Int{big.NewInt(3), big.NewInt(5)}}
	}

	c, _ := newTestClient(t, b)
	ctx := context.Background()

	edge, err := c.HouseEdgeBps(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(200), edge)

	bet, err := c.GetBet(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, player, bet.Player)
	assert.True(t, bet.Resolved)
	assert.True(t, bet.Won)
	assert.Equal(t, uint8(42), bet.Roll)
	assert.Equal(t, int64(1700000000), bet.CreatedAt.Unix())

	vrf, err := c.VRFConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(250000), vrf.CallbackGasLimit)

	ids, err := c.ListRefundableBets(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 5}, ids)

	bal, err := c.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5e15), bal)

	_, err = c.NextDiceID(ctx)
	assert.True(t, errors.Is(err, errno.ErrLedgerCallFailed))
}

func TestPlaceBetTakesIDFromEvent(t *testing.T) {
	b := newFakeBackend()
	c, signer := newTestClient(t, b)
	b.logsFor = func(method string, args []interface{}) []*types.Log {
		require.Equal(t, "playDice", method)
		return []*types.Log{eventLog(t, "DicePlaced",
			[]common.Hash{common.BigToHash(big.NewInt(41)), common.BytesToHash(signer.Address().Bytes())},
			common.Address{}, args[1], args[2], big.NewInt(777))}
	}

	stake := big.NewInt(1e14)
	rcpt, err := c.PlaceBet(context.Background(), common.Address{}, stake, 50)
	require.NoError(t, err)
	assert.True(t, rcpt.HasID)
	assert.Equal(t, uint64(41), rcpt.ID)

	require.Len(t, b.sent, 1)
	tx := b.sent[0]
	assert.Equal(t, stake, tx.Value())
	assert.Equal(t, uint64(120000), tx.Gas())
	from, err := types.Sender(types.LatestSignerForChainID(testChainID), tx)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)
}

func TestBuyTicketsSendsPriceTimesCount(t *testing.T) {
	b := newFakeBackend()
	b.views["lotteries"] = func([]interface{}) []interface{} {
		return []interface{}{
			common.Address{}, big.NewInt(1e14), uint64(0), uint64(0), big.NewInt(0), uint32(0),
			common.Address{}, false, false, big.NewInt(0), false,
		}
	}
	c, _ := newTestClient(t, b)

	_, err := c.BuyTickets(context.Background(), 2, 3)
	require.NoError(t, err)
	require.Len(t, b.sent, 1)
	assert.Equal(t, big.NewInt(3e14), b.sent[0].Value())
	assert.Equal(t, "buyTickets", b.methods[0])
}

func TestSubmissionRejected(t *testing.T) {
	b := newFakeBackend()
	b.revert = errors.New("execution reverted: lottery not ended")
	c, _ := newTestClient(t, b)

	_, err := c.RequestDraw(context.Background(), 1)
	assert.True(t, errors.Is(err, errno.ErrSubmissionRejected))
	assert.Empty(t, b.sent)

	b.revert = nil
	b.failed = true
	_, err = c.RefundStuckBet(context.Background(), 1)
	assert.True(t, errors.Is(err, errno.ErrSubmissionRejected))
}

func TestMissingEventIsLedgerFailure(t *testing.T) {
	b := newFakeBackend()
	c, _ := newTestClient(t, b)
	_, err := c.CreateLotteryRound(context.Background(), common.Address{}, big.NewInt(1e14), time.Now(), time.Now().Add(time.Hour))
	assert.True(t, errors.Is(err, errno.ErrLedgerCallFailed))
}

func TestWriteWithoutSigner(t *testing.T) {
	c := NewClient(newFakeBackend(), contractAddr, testChainID)
	_, err := c.FundTreasury(context.Background(), big.NewInt(1))
	assert.True(t, errors.Is(err, errno.ErrWalletUnavailable))
}

func TestWatchResolutions(t *testing.T) {
	b := newFakeBackend()
	c, _ := newTestClient(t, b)
	player := common.HexToAddress("0xbeef")
	winner := common.HexToAddress("0xcafe")

	sink := make(chan Resolution, 2)
	sub, err := c.WatchResolutions(context.Background(), sink)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	b.mu.Lock()
	stream := b.logStream
	b.mu.Unlock()

	stream <- *eventLog(t, "DiceResolved",
		[]common.Hash{common.BigToHash(big.NewInt(9)), common.BytesToHash(player.Bytes())},
		true, uint8(42), big.NewInt(196e12))
	stream <- *eventLog(t, "LotteryDrawn",
		[]common.Hash{common.BigToHash(big.NewInt(4)), common.BytesToHash(winner.Bytes())},
		big.NewInt(5e14))

	dice := <-sink
	assert.Equal(t, Dice, dice.Game)
	assert.Equal(t, uint64(9), dice.ID)
	assert.Equal(t, player, dice.Player)
	assert.True(t, dice.Won)
	assert.Equal(t, uint8(42), dice.Roll)

	lot := <-sink
	assert.Equal(t, Lottery, lot.Game)
	assert.Equal(t, uint64(4), lot.ID)
	assert.Equal(t, winner, lot.Winner)
	assert.Equal(t, big.NewInt(5e14), lot.Payout)

	b.subErr <- errors.New("ws closed")
	select {
	case err := <-sub.Err():
		assert.EqualError(t, err, "ws closed")
	case <-time.After(time.Second):
		t.Fatal("订阅错误没有透传")
	}
}
