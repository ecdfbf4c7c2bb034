package handler

import (
	"io"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/gec682416/onchain-random-game/internal/handler/request"
	"github.com/gec682416/onchain-random-game/internal/handler/response"
	"github.com/gec682416/onchain-random-game/internal/ledger"
	"github.com/gec682416/onchain-random-game/internal/service"
	"github.com/gec682416/onchain-random-game/internal/wager"
	"github.com/gec682416/onchain-random-game/pkg/errno"
	"github.com/gec682416/onchain-random-game/pkg/units"
	"github.com/gec682416/onchain-random-game/pkg/validator"
)

// AccountSelector 是可以切换账户的本地钱包
type AccountSelector interface {
	SelectAccount(index int) error
	Accounts() []common.Address
}

type WagerHandler struct {
	svc      *service.WagerService
	history  *service.HistoryService
	accounts AccountSelector
	explorer func(common.Hash) string
}

func NewWagerHandler(svc *service.WagerService, history *service.HistoryService, accounts AccountSelector, explorer func(common.Hash) string) *WagerHandler {
	return &WagerHandler{svc: svc, history: history, accounts: accounts, explorer: explorer}
}

// OutcomeView 结算结果，金额为 ether 字符串
type OutcomeView struct {
	Won        bool      `json:"won"`
	Roll       uint8     `json:"roll,omitempty"`
	Winner     string    `json:"winner,omitempty"`
	Payout     string    `json:"payout"`
	Channel    string    `json:"channel"`
	TxHash     string    `json:"tx_hash,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

type WagerView struct {
	Key         string       `json:"key"`
	Game        string       `json:"game"`
	ID          uint64       `json:"id"`
	Session     string       `json:"session"`
	Player      string       `json:"player"`
	Stake       string       `json:"stake,omitempty"`
	RollUnder   uint8        `json:"roll_under,omitempty"`
	TicketCount uint32       `json:"ticket_count,omitempty"`
	TicketPrice string       `json:"ticket_price,omitempty"`
	TxHash      string       `json:"tx_hash"`
	TxURL       string       `json:"tx_url,omitempty"`
	State       string       `json:"state"`
	Reason      string       `json:"reason,omitempty"`
	Outcome     *OutcomeView `json:"outcome,omitempty"`
	SubmittedAt time.Time    `json:"submitted_at"`
	PendingAt   *time.Time   `json:"pending_at,omitempty"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
}

type ReceiptView struct {
	TxHash      string `json:"tx_hash"`
	TxURL       string `json:"tx_url,omitempty"`
	BlockNumber uint64 `json:"block_number"`
	ID          uint64 `json:"id,omitempty"`
}

func (h *WagerHandler) wagerView(w wager.Wager) WagerView {
	v := WagerView{
		Key:         w.Key.String(),
		Game:        w.Game.String(),
		ID:          w.ID,
		Session:     w.Session.String(),
		Player:      w.Player.Hex(),
		RollUnder:   w.RollUnder,
		TicketCount: w.TicketCount,
		TxHash:      w.TxHash.Hex(),
		TxURL:       h.txURL(w.TxHash),
		State:       w.State.String(),
		Reason:      w.Reason,
		SubmittedAt: w.SubmittedAt,
	}
	if w.Stake != nil {
		v.Stake = units.FormatEther(w.Stake)
	}
	if w.TicketPrice != nil {
		v.TicketPrice = units.FormatEther(w.TicketPrice)
	}
	if !w.PendingAt.IsZero() {
		at := w.PendingAt
		v.PendingAt = &at
	}
	if !w.FinishedAt.IsZero() {
		at := w.FinishedAt
		v.FinishedAt = &at
	}
	if o := w.Outcome; o != nil {
		ov := &OutcomeView{
			Won:        o.Won,
			Roll:       o.Roll,
			Payout:     units.FormatEther(o.Payout),
			Channel:    string(o.Channel),
			ResolvedAt: o.ResolvedAt,
		}
		if o.Winner != (common.Address{}) {
			ov.Winner = o.Winner.Hex()
		}
		if o.TxHash != (common.Hash{}) {
			ov.TxHash = o.TxHash.Hex()
		}
		v.Outcome = ov
	}
	return v
}

func (h *WagerHandler) receiptView(rec *ledger.Receipt) ReceiptView {
	v := ReceiptView{TxHash: rec.TxHash.Hex(), TxURL: h.txURL(rec.TxHash), BlockNumber: rec.BlockNumber}
	if rec.HasID {
		v.ID = rec.ID
	}
	return v
}

func (h *WagerHandler) txURL(hash common.Hash) string {
	if h.explorer == nil || hash == (common.Hash{}) {
		return ""
	}
	return h.explorer(hash)
}

func bindError(c *gin.Context, err error) {
	response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
}

// mustEther 已通过 ether 规则校验
func mustEther(s string) *big.Int {
	wei, err := units.ParseEther(s)
	if err != nil {
		return new(big.Int)
	}
	return wei
}

// ---------------------------------------------------------------------
// 会话
// ---------------------------------------------------------------------

// Connect 开启会话
// @Summary Connect wallet session
// @Tags Session
// @Produce json
// @Success 200 {object} response.Response
// @Router /session [post]
func (h *WagerHandler) Connect(c *gin.Context) {
	sess, err := h.svc.Connect(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, sess)
}

// Disconnect 结束会话
// @Summary Disconnect wallet session
// @Tags Session
// @Produce json
// @Success 200 {object} response.Response
// @Router /session [delete]
func (h *WagerHandler) Disconnect(c *gin.Context) {
	h.svc.Disconnect()
	response.Success(c, nil)
}

// Board 当前会话、busy 标记和提示
// @Summary Session board
// @Tags Session
// @Produce json
// @Success 200 {object} response.Response
// @Router /session [get]
func (h *WagerHandler) Board(c *gin.Context) {
	response.Success(c, h.svc.Board())
}

// SelectAccount 切换钱包账户，会话随之重置
// @Summary Select wallet account
// @Tags Session
// @Accept json
// @Produce json
// @Param request body request.SelectAccountRequest true "account index"
// @Success 200 {object} response.Response
// @Router /session/account [post]
func (h *WagerHandler) SelectAccount(c *gin.Context) {
	var req request.SelectAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if h.accounts == nil {
		response.Error(c, errno.ErrWalletUnavailable.WithMessage("wallet does not support account selection"))
		return
	}
	if err := h.accounts.SelectAccount(*req.Index); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(err.Error()))
		return
	}
	response.Success(c, gin.H{"address": h.accounts.Accounts()[*req.Index].Hex()})
}

// Notices 以 SSE 推送之后产生的提示
// @Summary Stream notices
// @Tags Session
// @Produce text/event-stream
// @Router /notices/stream [get]
func (h *WagerHandler) Notices(c *gin.Context) {
	ch := make(chan service.Notice, 32)
	sub := h.svc.SubscribeNotices(ch)
	defer sub.Unsubscribe()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-sub.Err():
			return false
		case n := <-ch:
			c.SSEvent(string(n.Level), n)
			return true
		}
	})
}

// ---------------------------------------------------------------------
// 状态
// ---------------------------------------------------------------------

// Status 最近一次成功的合约状态
// @Summary Contract status snapshot
// @Tags Status
// @Produce json
// @Success 200 {object} response.Response{data=service.Snapshot}
// @Router /status [get]
func (h *WagerHandler) Status(c *gin.Context) {
	snap, ok := h.svc.Status(c.Request.Context())
	if ok {
		response.Success(c, snap)
		return
	}
	snap, err := h.svc.RefreshStatus(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, snap)
}

// RefreshStatus 立即重新读取合约状态
// @Summary Refresh contract status
// @Tags Status
// @Produce json
// @Success 200 {object} response.Response{data=service.Snapshot}
// @Router /status/refresh [post]
func (h *WagerHandler) RefreshStatus(c *gin.Context) {
	snap, err := h.svc.RefreshStatus(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, snap)
}

// Quote 骰子赔付报价
// @Summary Quote dice payout
// @Tags Dice
// @Produce json
// @Param stake query string true "stake in ether"
// @Param roll_under query int true "threshold 2-99"
// @Success 200 {object} response.Response
// @Router /quote [get]
func (h *WagerHandler) Quote(c *gin.Context) {
	var q request.QuoteQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, err)
		return
	}
	payout, err := h.svc.QuotePayout(c.Request.Context(), mustEther(q.Stake), q.RollUnder)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"stake": q.Stake, "roll_under": q.RollUnder, "payout": units.FormatEther(payout)})
}

// ---------------------------------------------------------------------
// 下注
// ---------------------------------------------------------------------

// PlaceDice 提交骰子下注，确认后开始观察
// @Summary Place dice bet
// @Tags Dice
// @Accept json
// @Produce json
// @Param request body request.PlaceDiceRequest true "dice bet"
// @Success 200 {object} response.Response{data=WagerView}
// @Router /dice [post]
func (h *WagerHandler) PlaceDice(c *gin.Context) {
	var req request.PlaceDiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	w, err := h.svc.PlaceDice(c.Request.Context(), mustEther(req.Stake), req.RollUnder)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, h.wagerView(w))
}

// CreateLottery 创建彩票轮次
// @Summary Create lottery round
// @Tags Lottery
// @Accept json
// @Produce json
// @Param request body request.CreateLotteryRequest true "round"
// @Success 200 {object} response.Response{data=ReceiptView}
// @Router /lottery [post]
func (h *WagerHandler) CreateLottery(c *gin.Context) {
	var req request.CreateLotteryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	var delay time.Duration
	if req.StartDelay != "" {
		delay, _ = time.ParseDuration(req.StartDelay)
	}
	dur, _ := time.ParseDuration(req.Duration)

	rec, err := h.svc.CreateLottery(c.Request.Context(), mustEther(req.TicketPrice), delay, dur)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, h.receiptView(rec))
}

// BuyTickets 购买彩票
// @Summary Buy lottery tickets
// @Tags Lottery
// @Accept json
// @Produce json
// @Param id path int true "lottery id"
// @Param request body request.BuyTicketsRequest true "tickets"
// @Success 200 {object} response.Response{data=ReceiptView}
// @Router /lottery/{id}/tickets [post]
func (h *WagerHandler) BuyTickets(c *gin.Context) {
	var uri request.LotteryURI
	if err := c.ShouldBindUri(&uri); err != nil {
		bindError(c, err)
		return
	}
	var req request.BuyTicketsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	rec, err := h.svc.BuyTickets(c.Request.Context(), uri.ID, req.Count)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, h.receiptView(rec))
}

// RequestDraw 请求开奖，确认后开始观察
// @Summary Request lottery draw
// @Tags Lottery
// @Produce json
// @Param id path int true "lottery id"
// @Success 200 {object} response.Response{data=WagerView}
// @Router /lottery/{id}/draw [post]
func (h *WagerHandler) RequestDraw(c *gin.Context) {
	var uri request.LotteryURI
	if err := c.ShouldBindUri(&uri); err != nil {
		bindError(c, err)
		return
	}
	w, err := h.svc.RequestDraw(c.Request.Context(), uri.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, h.wagerView(w))
}

// ListWagers 当前会话跟踪的下注，新的在前
// @Summary List tracked wagers
// @Tags Wagers
// @Produce json
// @Success 200 {object} response.Response{data=[]WagerView}
// @Router /wagers [get]
func (h *WagerHandler) ListWagers(c *gin.Context) {
	list := h.svc.Wagers()
	out := make([]WagerView, 0, len(list))
	for _, w := range list {
		out = append(out, h.wagerView(w))
	}
	response.Success(c, out)
}

// GetWager 查询单笔下注
// @Summary Get tracked wager
// @Tags Wagers
// @Produce json
// @Param game path string true "dice or lottery"
// @Param id path int true "wager id"
// @Success 200 {object} response.Response{data=WagerView}
// @Router /wagers/{game}/{id} [get]
func (h *WagerHandler) GetWager(c *gin.Context) {
	key, ok := bindKey(c)
	if !ok {
		return
	}
	w, err := h.svc.Wager(key)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, h.wagerView(w))
}

// History 已落盘的下注历史
// @Summary Wager history
// @Tags Wagers
// @Produce json
// @Param player query string false "player address"
// @Param limit query int false "max rows"
// @Success 200 {object} response.Response
// @Router /history [get]
func (h *WagerHandler) History(c *gin.Context) {
	var q request.HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, err)
		return
	}
	player := q.Player
	if player != "" {
		player = common.HexToAddress(player).Hex()
	}
	rows, err := h.history.List(c.Request.Context(), player, q.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, rows)
}

// ---------------------------------------------------------------------
// 退款
// ---------------------------------------------------------------------

// Refundable 列出可退款的下注，并在会话中标记为 Stuck
// @Summary List refundable wagers
// @Tags Refunds
// @Produce json
// @Param game query string true "dice or lottery"
// @Success 200 {object} response.Response{data=[]service.Candidate}
// @Router /refunds [get]
func (h *WagerHandler) Refundable(c *gin.Context) {
	var q request.RefundableQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, err)
		return
	}
	game, _ := ledger.ParseGame(q.Game)
	cands, err := h.svc.Refundable(c.Request.Context(), game)
	if err != nil {
		response.Error(c, err)
		return
	}
	if cands == nil {
		cands = []service.Candidate{}
	}
	response.Success(c, cands)
}

// Refund 退款
// @Summary Refund stuck wager
// @Tags Refunds
// @Produce json
// @Param game path string true "dice or lottery"
// @Param id path int true "wager id"
// @Success 200 {object} response.Response{data=ReceiptView}
// @Router /refunds/{game}/{id} [post]
func (h *WagerHandler) Refund(c *gin.Context) {
	key, ok := bindKey(c)
	if !ok {
		return
	}
	rec, err := h.svc.Refund(c.Request.Context(), key)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, h.receiptView(rec))
}

// ---------------------------------------------------------------------
// 管理
// ---------------------------------------------------------------------

// FundTreasury 向金库注资
// @Summary Fund treasury
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body request.FundTreasuryRequest true "amount"
// @Success 200 {object} response.Response{data=ReceiptView}
// @Router /admin/fund [post]
func (h *WagerHandler) FundTreasury(c *gin.Context) {
	var req request.FundTreasuryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	rec, err := h.svc.FundTreasury(c.Request.Context(), mustEther(req.Amount))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, h.receiptView(rec))
}

// SetTokenLimits 设置下注上下限
// @Summary Set bet limits
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body request.TokenLimitsRequest true "limits"
// @Success 200 {object} response.Response{data=ReceiptView}
// @Router /admin/token-limits [post]
func (h *WagerHandler) SetTokenLimits(c *gin.Context) {
	var req request.TokenLimitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	rec, err := h.svc.SetTokenLimits(c.Request.Context(), *req.Enabled, mustEther(req.MinBet), mustEther(req.MaxBet))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, h.receiptView(rec))
}

func bindKey(c *gin.Context) (wager.Key, bool) {
	var uri request.WagerURI
	if err := c.ShouldBindUri(&uri); err != nil {
		bindError(c, err)
		return wager.Key{}, false
	}
	game, err := ledger.ParseGame(uri.Game)
	if err != nil {
		response.Error(c, errno.ErrBind.WithMessage(err.Error()))
		return wager.Key{}, false
	}
	return wager.Key{Game: game, ID: uri.ID}, true
}
