package request

// 金额统一使用 ether 十进制字符串，例如 "0.0001"

type PlaceDiceRequest struct {
	Stake     string `json:"stake" binding:"required,ether" example:"0.0001"`
	RollUnder uint8  `json:"roll_under" binding:"required" example:"50"`
}

type QuoteQuery struct {
	Stake     string `form:"stake" binding:"required,ether"`
	RollUnder uint8  `form:"roll_under" binding:"required"`
}

type CreateLotteryRequest struct {
	TicketPrice string `json:"ticket_price" binding:"required,ether" example:"0.001"`
	StartDelay  string `json:"start_delay" binding:"omitempty,duration" example:"0s"`
	Duration    string `json:"duration" binding:"required,duration" example:"1h"`
}

type BuyTicketsRequest struct {
	Count uint32 `json:"count" binding:"required,gte=1,lte=1000" example:"3"`
}

type FundTreasuryRequest struct {
	Amount string `json:"amount" binding:"required,ether" example:"0.5"`
}

type TokenLimitsRequest struct {
	Enabled *bool  `json:"enabled" binding:"required"`
	MinBet  string `json:"min_bet" binding:"required,ether" example:"0.00001"`
	MaxBet  string `json:"max_bet" binding:"required,ether" example:"0.01"`
}

type SelectAccountRequest struct {
	Index *int `json:"index" binding:"required,gte=0"`
}

type HistoryQuery struct {
	Player string `form:"player" binding:"omitempty,eth_addr"`
	Limit  int    `form:"limit" binding:"omitempty,gte=1,lte=200"`
}

type RefundableQuery struct {
	Game string `form:"game" binding:"required,oneof=dice lottery"`
}

// WagerURI 对应 /wagers/:game/:id 和 /refunds/:game/:id
type WagerURI struct {
	Game string `uri:"game" binding:"required,oneof=dice lottery"`
	ID   uint64 `uri:"id"`
}

type LotteryURI struct {
	ID uint64 `uri:"id"`
}
