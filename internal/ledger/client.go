package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"

	"github.com/gec682416/onchain-random-game/internal/wallet"
	"github.com/gec682416/onchain-random-game/pkg/errno"
	"github.com/gec682416/onchain-random-game/pkg/logger"
)

// Backend 是 Client 用到的 RPC 子集，*ethclient.Client 满足该接口
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// SignerSource 每次写操作时取当前账户的签名器
type SignerSource func() (wallet.Signer, error)

// Client 通过 ABI 编码调用 RandomGame 合约
type Client struct {
	backend Backend
	address common.Address
	chainID *big.Int
	abi     abi.ABI
	signer  SignerSource

	confirmPoll   time.Duration
	confirmWithin time.Duration
	gasBufferPct  uint64

	// 串行化 nonce 获取与广播
	sendMu sync.Mutex
}

type Option func(*Client)

func WithSigner(src SignerSource) Option {
	return func(c *Client) { c.signer = src }
}

// WithConfirmation 设置等待回执的轮询间隔和最长等待时间
func WithConfirmation(poll, within time.Duration) Option {
	return func(c *Client) {
		if poll > 0 {
			c.confirmPoll = poll
		}
		if within > 0 {
			c.confirmWithin = within
		}
	}
}

func NewClient(backend Backend, address common.Address, chainID *big.Int, opts ...Option) *Client {
	c := &Client{
		backend:       backend,
		address:       address,
		chainID:       new(big.Int).Set(chainID),
		abi:           parsedABI,
		confirmPoll:   time.Second,
		confirmWithin: 5 * time.Minute,
		gasBufferPct:  20,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Address() common.Address {
	return c.address
}

// ---------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------

func (c *Client) TreasuryBalance(ctx context.Context) (*big.Int, error) {
	bal, err := c.backend.BalanceAt(ctx, c.address, nil)
	if err != nil {
		return nil, errno.ErrLedgerCallFailed.Wrapf("balance of %s: %w", c.address.Hex(), err)
	}
	return bal, nil
}

func (c *Client) HouseEdgeBps(ctx context.Context) (uint16, error) {
	out, err := c.call(ctx, "houseEdgeBps")
	if err != nil {
		return 0, err
	}
	return out[0].(uint16), nil
}

func (c *Client) TokenConfig(ctx context.Context, token common.Address) (TokenConfig, error) {
	out, err := c.call(ctx, "tokenConfigs", token)
	if err != nil {
		return TokenConfig{}, err
	}
	return TokenConfig{
		Enabled: out[0].(bool),
		MinBet:  out[1].(*big.Int),
		MaxBet:  out[2].(*big.Int),
	}, nil
}

func (c *Client) LockedFunds(ctx context.Context, token common.Address) (*big.Int, error) {
	out, err := c.call(ctx, "lockedFunds", token)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (c *Client) NextDiceID(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "nextDiceId")
	if err != nil {
		return 0, err
	}
	return out[0].(*big.Int).Uint64(), nil
}

func (c *Client) NextLotteryID(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "nextLotteryId")
	if err != nil {
		return 0, err
	}
	return out[0].(*big.Int).Uint64(), nil
}

func (c *Client) VRFConfig(ctx context.Context) (VRFConfig, error) {
	out, err := c.call(ctx, "getVRFConfig")
	if err != nil {
		return VRFConfig{}, err
	}
	return VRFConfig{
		KeyHash:          common.Hash(out[0].([32]byte)),
		SubscriptionID:   out[1].(*big.Int),
		CallbackGasLimit: out[2].(uint32),
	}, nil
}

func (c *Client) GetBet(ctx context.Context, id uint64) (DiceBet, error) {
	out, err := c.call(ctx, "diceBets", new(big.Int).SetUint64(id))
	if err != nil {
		return DiceBet{}, err
	}
	return DiceBet{
		ID:              id,
		Player:          out[0].(common.Address),
		Token:           out[1].(common.Address),
		Stake:           out[2].(*big.Int),
		RollUnder:       out[3].(uint8),
		PotentialPayout: out[4].(*big.Int),
		CreatedAt:       time.Unix(int64(out[5].(uint64)), 0).UTC(),
		Resolved:        out[6].(bool),
		Won:             out[7].(bool),
		Roll:            out[8].(uint8),
		RequestID:       out[9].(*big.Int),
		Refunded:        out[10].(bool),
	}, nil
}

func (c *Client) GetRound(ctx context.Context, id uint64) (LotteryRound, error) {
	out, err := c.call(ctx, "lotteries", new(big.Int).SetUint64(id))
	if err != nil {
		return LotteryRound{}, err
	}
	return LotteryRound{
		ID:            id,
		Token:         out[0].(common.Address),
		TicketPrice:   out[1].(*big.Int),
		StartTime:     time.Unix(int64(out[2].(uint64)), 0).UTC(),
		EndTime:       time.Unix(int64(out[3].(uint64)), 0).UTC(),
		Pot:           out[4].(*big.Int),
		TicketCount:   out[5].(uint32),
		Winner:        out[6].(common.Address),
		DrawRequested: out[7].(bool),
		Drawn:         out[8].(bool),
		RequestID:     out[9].(*big.Int),
		Refunded:      out[10].(bool),
	}, nil
}

func (c *Client) ListRefundableBets(ctx context.Context, player common.Address) ([]uint64, error) {
	out, err := c.call(ctx, "getUserRefundableDiceBets", player)
	if err != nil {
		return nil, err
	}
	return toIDs(out[0].([]*big.Int)), nil
}

func (c *Client) ListActiveRounds(ctx context.Context, player common.Address) ([]uint64, error) {
	out, err := c.call(ctx, "getUserActiveLotteries", player)
	if err != nil {
		return nil, err
	}
	return toIDs(out[0].([]*big.Int)), nil
}

func (c *Client) QuotePayout(ctx context.Context, stake *big.Int, rollUnder uint8) (*big.Int, error) {
	out, err := c.call(ctx, "calcDicePayout", stake, rollUnder)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// ---------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------

func (c *Client) PlaceBet(ctx context.Context, token common.Address, stake *big.Int, rollUnder uint8) (*Receipt, error) {
	// 原生币下注时 value 即 stake
	value := new(big.Int)
	if token == (common.Address{}) {
		value.Set(stake)
	}
	rcpt, err := c.transact(ctx, "playDice", value, token, stake, rollUnder)
	if err != nil {
		return nil, err
	}
	return c.withEventID(rcpt, "DicePlaced")
}

func (c *Client) SetTokenLimits(ctx context.Context, token common.Address, enabled bool, minBet, maxBet *big.Int) (*Receipt, error) {
	rcpt, err := c.transact(ctx, "setTokenConfig", nil, token, enabled, minBet, maxBet)
	if err != nil {
		return nil, err
	}
	return toReceipt(rcpt), nil
}

func (c *Client) FundTreasury(ctx context.Context, amount *big.Int) (*Receipt, error) {
	rcpt, err := c.transact(ctx, "fundETH", amount)
	if err != nil {
		return nil, err
	}
	return toReceipt(rcpt), nil
}

func (c *Client) CreateLotteryRound(ctx context.Context, token common.Address, ticketPrice *big.Int, start, end time.Time) (*Receipt, error) {
	rcpt, err := c.transact(ctx, "createLottery", nil, token, ticketPrice, uint64(start.Unix()), uint64(end.Unix()))
	if err != nil {
		return nil, err
	}
	return c.withEventID(rcpt, "LotteryCreated")
}

func (c *Client) BuyTickets(ctx context.Context, id uint64, count uint32) (*Receipt, error) {
	round, err := c.GetRound(ctx, id)
	if err != nil {
		return nil, err
	}
	total := new(big.Int).Mul(round.TicketPrice, new(big.Int).SetUint64(uint64(count)))
	rcpt, err := c.transact(ctx, "buyTickets", total, new(big.Int).SetUint64(id), count)
	if err != nil {
		return nil, err
	}
	return toReceipt(rcpt), nil
}

func (c *Client) RequestDraw(ctx context.Context, id uint64) (*Receipt, error) {
	rcpt, err := c.transact(ctx, "requestLotteryDraw", nil, new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	return c.withEventID(rcpt, "LotteryDrawRequested")
}

func (c *Client) RefundStuckBet(ctx context.Context, id uint64) (*Receipt, error) {
	rcpt, err := c.transact(ctx, "refundStuckDiceBet", nil, new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	return toReceipt(rcpt), nil
}

func (c *Client) ClaimLotteryRefund(ctx context.Context, id uint64) (*Receipt, error) {
	rcpt, err := c.transact(ctx, "claimRefund", nil, new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	return toReceipt(rcpt), nil
}

// ---------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------

// WatchResolutions 订阅 DiceResolved 与 LotteryDrawn
func (c *Client) WatchResolutions(ctx context.Context, sink chan<- Resolution) (event.Subscription, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.address},
		Topics: [][]common.Hash{{
			c.abi.Events["DiceResolved"].ID,
			c.abi.Events["LotteryDrawn"].ID,
		}},
	}
	logs := make(chan types.Log, 16)
	sub, err := c.backend.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, errno.ErrLedgerCallFailed.Wrapf("subscribe resolutions: %w", err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case lg := <-logs:
				res, err := c.DecodeResolution(lg)
				if err != nil {
					logger.Warn("忽略无法解析的日志", zap.String("tx", lg.TxHash.Hex()), zap.Error(err))
					continue
				}
				select {
				case sink <- res:
				case err := <-sub.Err():
					return err
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

// DecodeResolution 解析 DiceResolved / LotteryDrawn 日志
func (c *Client) DecodeResolution(lg types.Log) (Resolution, error) {
	if len(lg.Topics) == 0 {
		return Resolution{}, errors.New("anonymous log")
	}
	ev, err := c.abi.EventByID(lg.Topics[0])
	if err != nil {
		return Resolution{}, err
	}
	fields, err := c.unpackLog(ev, lg)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{TxHash: lg.TxHash, BlockNumber: lg.BlockNumber}
	switch ev.Name {
	case "DiceResolved":
		res.Game = Dice
		res.ID = fields["diceId"].(*big.Int).Uint64()
		res.Player = fields["player"].(common.Address)
		res.Won = fields["win"].(bool)
		res.Roll = fields["roll"].(uint8)
		res.Payout = fields["payout"].(*big.Int)
	case "LotteryDrawn":
		res.Game = Lottery
		res.ID = fields["lotteryId"].(*big.Int).Uint64()
		res.Winner = fields["winner"].(common.Address)
		res.Payout = fields["payout"].(*big.Int)
	default:
		return Resolution{}, fmt.Errorf("unexpected event %s", ev.Name)
	}
	return res, nil
}

// ---------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, errno.ErrLedgerCallFailed.Wrapf("pack %s: %w", method, err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, errno.ErrLedgerCallFailed.Wrapf("%s: %w", method, err)
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, errno.ErrLedgerCallFailed.Wrapf("unpack %s: %w", method, err)
	}
	return out, nil
}

// transact 估算、签名、广播并等待回执；广播前的任何失败都视为提交被拒
func (c *Client) transact(ctx context.Context, method string, value *big.Int, args ...interface{}) (*types.Receipt, error) {
	if c.signer == nil {
		return nil, errno.ErrWalletUnavailable
	}
	signer, err := c.signer()
	if err != nil {
		return nil, errno.ErrWalletUnavailable.Wrap(err)
	}
	if value == nil {
		value = new(big.Int)
	}

	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, errno.ErrSubmissionRejected.Wrapf("pack %s: %w", method, err)
	}
	from := signer.Address()

	c.sendMu.Lock()
	signed, err := c.signAndSend(ctx, signer, from, method, value, data)
	c.sendMu.Unlock()
	if err != nil {
		return nil, err
	}

	logger.Info("交易已广播",
		zap.String("method", method),
		zap.String("tx", signed.Hash().Hex()),
		zap.String("from", from.Hex()))

	rcpt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		return nil, errno.ErrSubmissionRejected.Wrapf("%s: transaction %s reverted", method, signed.Hash().Hex())
	}
	return rcpt, nil
}

func (c *Client) signAndSend(ctx context.Context, signer wallet.Signer, from common.Address, method string, value *big.Int, data []byte) (*types.Transaction, error) {
	msg := ethereum.CallMsg{From: from, To: &c.address, Value: value, Data: data}
	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, errno.ErrSubmissionRejected.Wrapf("%s: %w", method, err)
	}
	gas += gas * c.gasBufferPct / 100

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, errno.ErrLedgerCallFailed.Wrapf("nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errno.ErrLedgerCallFailed.Wrapf("gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &c.address,
		Value:    value,
		Data:     data,
	})
	signed, err := signer.SignTx(tx, c.chainID)
	if err != nil {
		return nil, errno.ErrSubmissionRejected.Wrapf("sign %s: %w", method, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, errno.ErrSubmissionRejected.Wrapf("send %s: %w", method, err)
	}
	return signed, nil
}

func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.confirmWithin)
	defer cancel()

	ticker := time.NewTicker(c.confirmPoll)
	defer ticker.Stop()

	for {
		rcpt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && rcpt != nil {
			return rcpt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			logger.Debug("查询回执失败，稍后重试", zap.String("tx", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, errno.ErrLedgerCallFailed.Wrapf("wait for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// withEventID 从回执中找到本合约发出的 name 事件并取第一个 indexed 参数作为 ID
func (c *Client) withEventID(rcpt *types.Receipt, name string) (*Receipt, error) {
	out := toReceipt(rcpt)
	ev := c.abi.Events[name]
	for _, lg := range rcpt.Logs {
		if lg == nil || lg.Address != c.address || len(lg.Topics) < 2 || lg.Topics[0] != ev.ID {
			continue
		}
		out.ID = new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64()
		out.HasID = true
		return out, nil
	}
	return nil, errno.ErrLedgerCallFailed.Wrapf("%s event missing from %s", name, rcpt.TxHash.Hex())
}

func (c *Client) unpackLog(ev *abi.Event, lg types.Log) (map[string]interface{}, error) {
	fields := make(map[string]interface{})
	if len(lg.Data) > 0 {
		if err := c.abi.UnpackIntoMap(fields, ev.Name, lg.Data); err != nil {
			return nil, err
		}
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
		return nil, err
	}
	return fields, nil
}

func toReceipt(r *types.Receipt) *Receipt {
	out := &Receipt{TxHash: r.TxHash, GasUsed: r.GasUsed}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}

func toIDs(in []*big.Int) []uint64 {
	out := make([]uint64, 0, len(in))
	for _, v := range in {
		out = append(out, v.Uint64())
	}
	return out
}
