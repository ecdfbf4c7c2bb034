package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gec682416/onchain-random-game/internal/ledger"
	"github.com/gec682416/onchain-random-game/internal/service/observer"
	"github.com/gec682416/onchain-random-game/internal/wager"
	"github.com/gec682416/onchain-random-game/internal/wallet"
	"github.com/gec682416/onchain-random-game/pkg/errno"
	"github.com/gec682416/onchain-random-game/pkg/logger"
	"github.com/gec682416/onchain-random-game/pkg/monitor"
	"github.com/gec682416/onchain-random-game/pkg/units"
)

// Guard 是网络守卫，Target 用于生成浏览器链接
type Guard interface {
	NetworkGuard
	Target() wallet.ChainDefinition
}

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice 是面向用户的提示，Session 用于丢弃过期会话的消息
type Notice struct {
	Session uuid.UUID  `json:"session"`
	Level   Level      `json:"level"`
	Message string     `json:"message"`
	Wager   *wager.Key `json:"wager,omitempty"`
	TxURL   string     `json:"tx_url,omitempty"`
	At      time.Time  `json:"at"`
}

// Board 是当前会话的概览
type Board struct {
	Session *wallet.Session `json:"session,omitempty"`
	Busy    string          `json:"busy,omitempty"`
	Message string          `json:"message,omitempty"`
	Active  int             `json:"active_watches"`
	Notices []Notice        `json:"notices"`
}

type WagerDeps struct {
	Provider wallet.Provider
	Guard    Guard
	Ledger   ledger.Ledger
	Status   *StatusService
	Refunds  *RefundService
	History  *HistoryService
	Token    common.Address
	Watch    observer.Config
}

// activeSession 绑定在一个会话上的状态机和观察者
type activeSession struct {
	session  *wallet.Session
	registry *wager.Registry
	watcher  *observer.WatchManager
}

const maxNotices = 50

// WagerService 串起网络守卫、账本、状态机和观察者
// 核心设计:
// 1. 每个会话独占 Registry + WatchManager，账户或网络变化时整体替换
// 2. 同一时间只允许一个写操作 (busy)
// 3. 写操作确认后刷新状态面板
type WagerService struct {
	provider wallet.Provider
	guard    Guard
	ledger   ledger.Ledger
	status   *StatusService
	refunds  *RefundService
	history  *HistoryService
	token    common.Address
	watchCfg observer.Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subOnce   sync.Once
	changeSub event.Subscription

	mu      sync.Mutex
	active  *activeSession
	busy    string
	message string
	notices []Notice

	noticeFeed event.Feed
}

func NewWagerService(deps WagerDeps) *WagerService {
	ctx, cancel := context.WithCancel(context.Background())
	return &WagerService{
		provider: deps.Provider,
		guard:    deps.Guard,
		ledger:   deps.Ledger,
		status:   deps.Status,
		refunds:  deps.Refunds,
		history:  deps.History,
		token:    deps.Token,
		watchCfg: deps.Watch,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ---------------------------------------------------------------------
// 会话
// ---------------------------------------------------------------------

// Connect 以钱包当前账户和网络开启会话
func (s *WagerService) Connect(ctx context.Context) (*wallet.Session, error) {
	if s.provider == nil {
		return nil, errno.ErrWalletUnavailable
	}
	s.subOnce.Do(s.subscribeChanges)

	addr, err := s.provider.Account(ctx)
	if err != nil {
		return nil, errno.ErrWalletUnavailable.Wrap(err)
	}
	chainID, err := s.provider.ChainID(ctx)
	if err != nil {
		return nil, errno.ErrWalletUnavailable.Wrap(err)
	}

	sess := s.startSession(addr, chainID)
	s.notify(sess.ID, LevelInfo, fmt.Sprintf("Connected %s on chain %s.", wallet.ShortAddress(addr), chainID), nil, common.Hash{})
	s.refreshStatus(ctx, sess.ID)
	return sess, nil
}

// Disconnect 结束会话，取消所有观察
func (s *WagerService) Disconnect() {
	s.mu.Lock()
	old := s.active
	s.active = nil
	s.message = ""
	s.notices = nil
	s.mu.Unlock()

	if old != nil {
		_ = old.watcher.Stop()
		logger.Info("会话已结束", zap.String("session", old.session.ID.String()))
	}
}

// Close 结束会话并停止监听钱包
func (s *WagerService) Close() {
	s.Disconnect()
	s.cancel()
	s.wg.Wait()
}

func (s *WagerService) Session() (*wallet.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil, false
	}
	sess := *s.active.session
	return &sess, true
}

func (s *WagerService) current() *activeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *WagerService) startSession(addr common.Address, chainID *big.Int) *wallet.Session {
	sess, _ := s.rotate(addr, chainID, nil)
	return sess
}

// rotate 换成新会话；keep 对当前会话返回 true 时保留当前会话
// 判断和替换在同一把锁里完成，守卫切网和 chainChanged 回调不会各起一个会话
func (s *WagerService) rotate(addr common.Address, chainID *big.Int, keep func(cur *activeSession) bool) (*wallet.Session, bool) {
	s.mu.Lock()
	if keep != nil && s.active != nil && keep(s.active) {
		sess := *s.active.session
		s.mu.Unlock()
		return &sess, false
	}

	sess := wallet.NewSession(addr, chainID)
	reg := wager.NewRegistry(sess.ID)
	wm := observer.NewWatchManager(s.ledger, reg, addr, s.watchCfg)
	reg.OnTransition(func(tr wager.Transition) { s.onTransition(sess, tr) })
	if err := wm.Start(s.ctx); err != nil {
		logger.Error("启动观察者失败", zap.Error(err))
	}

	old := s.active
	s.active = &activeSession{session: sess, registry: reg, watcher: wm}
	s.message = ""
	s.notices = nil
	s.mu.Unlock()

	// 旧会话的监听者会回调 onTransition，必须在锁外停止
	if old != nil {
		_ = old.watcher.Stop()
	}
	logger.Info("会话已开始",
		zap.String("session", sess.ID.String()),
		zap.String("account", addr.Hex()),
		zap.String("chain_id", chainID.String()))
	out := *sess
	return &out, true
}

func (s *WagerService) subscribeChanges() {
	changes := make(chan wallet.Change, 16)
	s.changeSub = s.provider.SubscribeChanges(changes)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.changeSub.Unsubscribe()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-s.changeSub.Err():
				return
			case ch := <-changes:
				s.handleChange(ch)
			}
		}
	}()
}

// handleChange 账户或网络变化都会作废当前会话
func (s *WagerService) handleChange(ch wallet.Change) {
	cur := s.current()
	logger.Info("钱包状态变化", zap.String("kind", ch.Kind.String()))

	switch ch.Kind {
	case wallet.Disconnected:
		s.Disconnect()
	case wallet.AccountChanged:
		chainID, err := s.provider.ChainID(s.ctx)
		if err != nil {
			s.Disconnect()
			return
		}
		sess, changed := s.rotate(ch.Account, chainID, func(a *activeSession) bool {
			return a.session.Address == ch.Account
		})
		if changed {
			s.notify(sess.ID, LevelInfo, fmt.Sprintf("Account changed to %s.", wallet.ShortAddress(ch.Account)), nil, common.Hash{})
		}
	case wallet.ChainChanged:
		if cur == nil {
			return
		}
		sess, changed := s.rotate(cur.session.Address, ch.ChainID, sameChain(ch.ChainID))
		if changed {
			s.notify(sess.ID, LevelInfo, fmt.Sprintf("Network changed to chain %s.", ch.ChainID), nil, common.Hash{})
		}
	}
}

// ---------------------------------------------------------------------
// 写操作
// ---------------------------------------------------------------------

// begin 占用 busy 标记，返回释放函数
func (s *WagerService) begin(action string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy != "" {
		return nil, errno.ErrBusy.WithMessage(fmt.Sprintf("%s is in progress", s.busy))
	}
	s.busy = action
	return func() {
		s.mu.Lock()
		s.busy = ""
		s.mu.Unlock()
	}, nil
}

// write 是所有写操作的公共流程: busy -> 会话 -> 网络守卫 -> 提交 -> 刷新面板
func (s *WagerService) write(ctx context.Context, action string, fn func(sess *wallet.Session) error) error {
	done, err := s.begin(action)
	if err != nil {
		return err
	}
	defer done()

	before, ok := s.Session()
	if !ok {
		return errno.ErrNoSession
	}
	if err := s.guard.EnsureNetwork(ctx); err != nil {
		s.notify(before.ID, LevelError, fmt.Sprintf("%s failed: %s", action, errMessage(err)), nil, common.Hash{})
		return err
	}

	sess, err := s.syncSession(ctx)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		s.notify(sess.ID, LevelError, fmt.Sprintf("%s failed: %s", action, errMessage(err)), nil, common.Hash{})
		return err
	}
	s.refreshStatus(ctx, sess.ID)
	return nil
}

// syncSession 守卫切换网络后立即换成新会话，之后到达的 chainChanged 不再重复重置
func (s *WagerService) syncSession(ctx context.Context) (*wallet.Session, error) {
	cur := s.current()
	if cur == nil {
		return nil, errno.ErrNoSession
	}
	chainID, err := s.provider.ChainID(ctx)
	if err != nil {
		return nil, errno.ErrWalletUnavailable.Wrap(err)
	}
	sess, _ := s.rotate(cur.session.Address, chainID, sameChain(chainID))
	return sess, nil
}

func sameChain(chainID *big.Int) func(*activeSession) bool {
	return func(a *activeSession) bool { return a.session.ChainID.Cmp(chainID) == 0 }
}

// PlaceDice 提交一次骰子下注，rollUnder 必须在 [2, 99]
func (s *WagerService) PlaceDice(ctx context.Context, stake *big.Int, rollUnder uint8) (wager.Wager, error) {
	if rollUnder < ledger.MinRollUnder || rollUnder > ledger.MaxRollUnder {
		return wager.Wager{}, errno.ErrInvalidThreshold
	}
	if stake == nil || stake.Sign() <= 0 {
		return wager.Wager{}, errno.ErrInvalidAmount
	}

	var out wager.Wager
	err := s.write(ctx, "Dice bet", func(sess *wallet.Session) error {
		rec, err := s.ledger.PlaceBet(ctx, s.token, stake, rollUnder)
		if err != nil {
			return err
		}
		out = s.track(sess, wager.Wager{
			Key:       wager.Key{Game: ledger.Dice, ID: rec.ID},
			Player:    sess.Address,
			Stake:     new(big.Int).Set(stake),
			RollUnder: rollUnder,
			TxHash:    rec.TxHash,
		})
		return nil
	})
	return out, err
}

// CreateLottery 创建一轮彩票，startDelay 后开始，持续 duration
func (s *WagerService) CreateLottery(ctx context.Context, ticketPrice *big.Int, startDelay, duration time.Duration) (*ledger.Receipt, error) {
	if ticketPrice == nil || ticketPrice.Sign() <= 0 {
		return nil, errno.ErrInvalidAmount
	}
	if startDelay < 0 || duration <= 0 {
		return nil, errno.ErrBind.WithMessage("start delay must be >= 0 and duration > 0")
	}

	var rec *ledger.Receipt
	err := s.write(ctx, "Create lottery", func(sess *wallet.Session) error {
		start := time.Now().Add(startDelay)
		r, err := s.ledger.CreateLotteryRound(ctx, s.token, ticketPrice, start, start.Add(duration))
		if err != nil {
			return err
		}
		rec = r
		s.notify(sess.ID, LevelSuccess, fmt.Sprintf("Lottery #%d created, ticket price %s.", r.ID, units.FormatEther(ticketPrice)), &wager.Key{Game: ledger.Lottery, ID: r.ID}, r.TxHash)
		return nil
	})
	return rec, err
}

// BuyTickets 购买 count 张票，附带 price × count
func (s *WagerService) BuyTickets(ctx context.Context, id uint64, count uint32) (*ledger.Receipt, error) {
	if count == 0 {
		return nil, errno.ErrInvalidAmount.WithMessage("ticket count must be positive")
	}
	var rec *ledger.Receipt
	err := s.write(ctx, "Buy tickets", func(sess *wallet.Session) error {
		r, err := s.ledger.BuyTickets(ctx, id, count)
		if err != nil {
			return err
		}
		rec = r
		s.notify(sess.ID, LevelSuccess, fmt.Sprintf("Bought %d ticket(s) for lottery #%d.", count, id), &wager.Key{Game: ledger.Lottery, ID: id}, r.TxHash)
		return nil
	})
	return rec, err
}

// RequestDraw 请求开奖并观察结果
func (s *WagerService) RequestDraw(ctx context.Context, id uint64) (wager.Wager, error) {
	var out wager.Wager
	err := s.write(ctx, "Lottery draw", func(sess *wallet.Session) error {
		rec, err := s.ledger.RequestDraw(ctx, id)
		if err != nil {
			return err
		}
		w := wager.Wager{
			Key:    wager.Key{Game: ledger.Lottery, ID: id},
			Player: sess.Address,
			TxHash: rec.TxHash,
		}
		if round, err := s.ledger.GetRound(ctx, id); err == nil {
			w.TicketCount = round.TicketCount
			w.TicketPrice = round.TicketPrice
			w.Stake = round.Pot
		}
		out = s.track(sess, w)
		return nil
	})
	return out, err
}

func (s *WagerService) FundTreasury(ctx context.Context, amount *big.Int) (*ledger.Receipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errno.ErrInvalidAmount
	}
	var rec *ledger.Receipt
	err := s.write(ctx, "Fund treasury", func(sess *wallet.Session) error {
		r, err := s.ledger.FundTreasury(ctx, amount)
		if err != nil {
			return err
		}
		rec = r
		s.notify(sess.ID, LevelSuccess, fmt.Sprintf("Funded treasury with %s.", units.FormatEther(amount)), nil, r.TxHash)
		return nil
	})
	return rec, err
}

func (s *WagerService) SetTokenLimits(ctx context.Context, enabled bool, minBet, maxBet *big.Int) (*ledger.Receipt, error) {
	if minBet == nil || maxBet == nil || minBet.Sign() < 0 || maxBet.Cmp(minBet) < 0 {
		return nil, errno.ErrInvalidAmount.WithMessage("min bet must be <= max bet")
	}
	var rec *ledger.Receipt
	err := s.write(ctx, "Token limits", func(sess *wallet.Session) error {
		r, err := s.ledger.SetTokenLimits(ctx, s.token, enabled, minBet, maxBet)
		if err != nil {
			return err
		}
		rec = r
		s.notify(sess.ID, LevelSuccess, fmt.Sprintf("Bet limits set to %s - %s.", units.FormatEther(minBet), units.FormatEther(maxBet)), nil, r.TxHash)
		return nil
	})
	return rec, err
}

// Refund 退回卡住的下注
func (s *WagerService) Refund(ctx context.Context, key wager.Key) (*ledger.Receipt, error) {
	done, err := s.begin("Refund")
	if err != nil {
		return nil, err
	}
	defer done()

	sess, ok := s.Session()
	if !ok {
		return nil, errno.ErrNoSession
	}
	rec, err := s.refunds.Refund(ctx, key)
	if err != nil {
		s.notify(sess.ID, LevelError, fmt.Sprintf("Refund of %s failed: %s", label(key), errMessage(err)), &key, common.Hash{})
		return nil, err
	}
	if cur, ok := s.Session(); ok {
		sess = cur
	}
	if err := s.history.RecordRefund(ctx, sess.ChainID, sess.Address.Hex(), key, rec); err != nil {
		logger.Warn("保存退款记录失败", zap.Error(err))
	}
	s.notify(sess.ID, LevelSuccess, fmt.Sprintf("%s refunded.", label(key)), &key, rec.TxHash)
	s.refreshStatus(ctx, sess.ID)
	return rec, nil
}

// track 把已确认的提交交给当前会话的状态机，账户已变化时只写历史
func (s *WagerService) track(sess *wallet.Session, w wager.Wager) wager.Wager {
	monitor.Business.Submitted(w.Game.String())
	w.SubmittedAt = time.Now()

	// 账户或链变化后会话 ID 都会更换，旧会话的提交只记历史
	act := s.current()
	if act == nil || act.session.ID != sess.ID {
		w.Session = sess.ID
		w.State = wager.Submitted
		logger.Warn("提交确认时会话已变化，不再观察", zap.Stringer("wager", w.Key))
		_ = s.history.Record(s.ctx, sess.ChainID, wager.Transition{From: wager.Submitting, To: wager.Submitted, Wager: w})
		return w
	}

	tracked, err := act.registry.Track(w)
	if err != nil {
		logger.Error("跟踪下注失败", zap.Stringer("wager", w.Key), zap.Error(err))
		return w
	}
	act.watcher.Watch(tracked.Key)
	if cur, ok := act.registry.Get(tracked.Key); ok {
		return cur
	}
	return tracked
}

// ---------------------------------------------------------------------
// 读操作
// ---------------------------------------------------------------------

// QuotePayout 只读报价，不经过网络守卫
func (s *WagerService) QuotePayout(ctx context.Context, stake *big.Int, rollUnder uint8) (*big.Int, error) {
	if rollUnder < ledger.MinRollUnder || rollUnder > ledger.MaxRollUnder {
		return nil, errno.ErrInvalidThreshold
	}
	if stake == nil || stake.Sign() <= 0 {
		return nil, errno.ErrInvalidAmount
	}
	return s.ledger.QuotePayout(ctx, stake, rollUnder)
}

// Refundable 发现可退款的下注，并在当前会话中标记为 Stuck
func (s *WagerService) Refundable(ctx context.Context, game ledger.Game) ([]Candidate, error) {
	act := s.current()
	if act == nil {
		return nil, errno.ErrNoSession
	}
	cands, err := s.refunds.Discover(ctx, act.session.Address, game)
	if err != nil {
		return nil, err
	}
	for _, c := range cands {
		act.registry.MarkStuck(wager.Wager{Key: c.Key, Player: act.session.Address}, c.Reason)
	}
	return cands, nil
}

func (s *WagerService) Wagers() []wager.Wager {
	act := s.current()
	if act == nil {
		return nil
	}
	return act.registry.List()
}

func (s *WagerService) Wager(key wager.Key) (wager.Wager, error) {
	act := s.current()
	if act == nil {
		return wager.Wager{}, errno.ErrNoSession
	}
	w, ok := act.registry.Get(key)
	if !ok {
		return wager.Wager{}, errno.ErrWagerNotFound
	}
	return w, nil
}

// Status 返回最近一次成功的面板快照
func (s *WagerService) Status(ctx context.Context) (Snapshot, bool) {
	return s.status.Snapshot(ctx)
}

func (s *WagerService) RefreshStatus(ctx context.Context) (Snapshot, error) {
	return s.status.Refresh(ctx)
}

func (s *WagerService) Board() Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := Board{Busy: s.busy, Message: s.message}
	if s.active != nil {
		sess := *s.active.session
		b.Session = &sess
		b.Active = s.active.watcher.Active()
	}
	b.Notices = make([]Notice, len(s.notices))
	copy(b.Notices, s.notices)
	return b
}

// SubscribeNotices 推送之后产生的提示
func (s *WagerService) SubscribeNotices(ch chan<- Notice) event.Subscription {
	return s.noticeFeed.Subscribe(ch)
}

// ---------------------------------------------------------------------
// 状态迁移与提示
// ---------------------------------------------------------------------

func (s *WagerService) onTransition(sess *wallet.Session, tr wager.Transition) {
	if err := s.history.Record(s.ctx, sess.ChainID, tr); err != nil {
		logger.Warn("记录状态迁移失败", zap.Error(err))
	}

	w := tr.Wager
	key := w.Key
	switch tr.To {
	case wager.Submitted:
		msg := fmt.Sprintf("%s submitted. Waiting for VRF...", label(key))
		if key.Game == ledger.Lottery {
			msg = fmt.Sprintf("Draw requested for %s. Waiting for VRF...", label(key))
		}
		s.notify(sess.ID, LevelInfo, msg, &key, w.TxHash)
	case wager.Resolved:
		s.notify(sess.ID, outcomeLevel(sess, w), outcomeMessage(sess, w), &key, w.Outcome.TxHash)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(s.ctx, 15*time.Second)
			defer cancel()
			s.refreshStatus(ctx, sess.ID)
		}()
	case wager.TimedOut:
		s.notify(sess.ID, LevelWarning, fmt.Sprintf("%s is still waiting for randomness. Check the refund list later if it never resolves.", label(key)), &key, common.Hash{})
	case wager.Stuck:
		s.notify(sess.ID, LevelWarning, fmt.Sprintf("%s can be refunded: %s.", label(key), w.Reason), &key, common.Hash{})
	}
}

// notify 记录提示，不属于当前会话的提示直接丢弃
func (s *WagerService) notify(session uuid.UUID, level Level, msg string, key *wager.Key, tx common.Hash) {
	n := Notice{Session: session, Level: level, Message: msg, Wager: key, At: time.Now()}
	if tx != (common.Hash{}) && s.guard != nil {
		n.TxURL = s.guard.Target().ExplorerTxURL(tx)
	}

	s.mu.Lock()
	if s.active == nil || s.active.session.ID != session {
		s.mu.Unlock()
		logger.Debug("丢弃过期会话的提示", zap.String("session", session.String()), zap.String("message", msg))
		return
	}
	s.message = msg
	s.notices = append(s.notices, n)
	if len(s.notices) > maxNotices {
		s.notices = s.notices[len(s.notices)-maxNotices:]
	}
	s.mu.Unlock()

	s.noticeFeed.Send(n)
}

func (s *WagerService) refreshStatus(ctx context.Context, session uuid.UUID) {
	if s.status == nil {
		return
	}
	if _, err := s.status.Refresh(ctx); err != nil {
		s.notify(session, LevelWarning, "Could not refresh contract status: "+errMessage(err), nil, common.Hash{})
	}
}

func label(key wager.Key) string {
	switch key.Game {
	case ledger.Dice:
		return fmt.Sprintf("Dice #%d", key.ID)
	case ledger.Lottery:
		return fmt.Sprintf("Lottery #%d", key.ID)
	default:
		return key.String()
	}
}

func outcomeLevel(sess *wallet.Session, w wager.Wager) Level {
	if w.Game == ledger.Dice && w.Outcome.Won {
		return LevelSuccess
	}
	if w.Game == ledger.Lottery && w.Outcome.Winner == sess.Address {
		return LevelSuccess
	}
	return LevelInfo
}

func outcomeMessage(sess *wallet.Session, w wager.Wager) string {
	o := w.Outcome
	switch w.Game {
	case ledger.Dice:
		if o.Won {
			return fmt.Sprintf("%s: rolled %d under %d. You won %s!", label(w.Key), o.Roll, w.RollUnder, units.FormatEther(o.Payout))
		}
		return fmt.Sprintf("%s: rolled %d, needed under %d. No win this time.", label(w.Key), o.Roll, w.RollUnder)
	default:
		if o.Winner == sess.Address {
			if o.Payout != nil && o.Payout.Sign() > 0 {
				return fmt.Sprintf("%s drawn. You won %s!", label(w.Key), units.FormatEther(o.Payout))
			}
			return fmt.Sprintf("%s drawn. You won!", label(w.Key))
		}
		return fmt.Sprintf("%s drawn. Winner: %s.", label(w.Key), wallet.ShortAddress(o.Winner))
	}
}

func errMessage(err error) string {
	_, msg := errno.Decode(err)
	return msg
}
