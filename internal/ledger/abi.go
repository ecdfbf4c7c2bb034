package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// RandomGameABI 是 RandomGame 合约中本服务用到的部分
const RandomGameABI = `[
  {"type":"function","name":"fundETH","stateMutability":"payable","inputs":[],"outputs":[]},
  {"type":"function","name":"setTokenConfig","stateMutability":"nonpayable","inputs":[
    {"name":"token","type":"address"},{"name":"enabled","type":"bool"},
    {"name":"minBet","type":"uint256"},{"name":"maxBet","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"playDice","stateMutability":"payable","inputs":[
    {"name":"token","type":"address"},{"name":"stake","type":"uint256"},{"name":"rollUnder","type":"uint8"}],"outputs":[
    {"name":"diceId","type":"uint256"}]},
  {"type":"function","name":"calcDicePayout","stateMutability":"view","inputs":[
    {"name":"stake","type":"uint256"},{"name":"rollUnder","type":"uint8"}],"outputs":[
    {"name":"payout","type":"uint256"}]},
  {"type":"function","name":"diceBets","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[
    {"name":"player","type":"address"},{"name":"token","type":"address"},{"name":"stake","type":"uint256"},
    {"name":"rollUnder","type":"uint8"},{"name":"potentialPayout","type":"uint256"},{"name":"createdAt","type":"uint64"},
    {"name":"resolved","type":"bool"},{"name":"win","type":"bool"},{"name":"roll","type":"uint8"},
    {"name":"requestId","type":"uint256"},{"name":"refunded","type":"bool"}]},
  {"type":"function","name":"createLottery","stateMutability":"nonpayable","inputs":[
    {"name":"token","type":"address"},{"name":"ticketPrice","type":"uint256"},
    {"name":"startTime","type":"uint64"},{"name":"endTime","type":"uint64"}],"outputs":[
    {"name":"lotteryId","type":"uint256"}]},
  {"type":"function","name":"buyTickets","stateMutability":"payable","inputs":[
    {"name":"lotteryId","type":"uint256"},{"name":"count","type":"uint32"}],"outputs":[]},
  {"type":"function","name":"requestLotteryDraw","stateMutability":"nonpayable","inputs":[
    {"name":"lotteryId","type":"uint256"}],"outputs":[{"name":"requestId","type":"uint256"}]},
  {"type":"function","name":"lotteries","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[
    {"name":"token","type":"address"},{"name":"ticketPrice","type":"uint256"},{"name":"startTime","type":"uint64"},
    {"name":"endTime","type":"uint64"},{"name":"pot","type":"uint256"},{"name":"ticketCount","type":"uint32"},
    {"name":"winner","type":"address"},{"name":"drawRequested","type":"bool"},{"name":"drawn","type":"bool"},
    {"name":"requestId","type":"uint256"},{"name":"refunded","type":"bool"}]},
  {"type":"function","name":"refundStuckDiceBet","stateMutability":"nonpayable","inputs":[
    {"name":"diceId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"claimRefund","stateMutability":"nonpayable","inputs":[
    {"name":"lotteryId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getUserRefundableDiceBets","stateMutability":"view","inputs":[
    {"name":"user","type":"address"}],"outputs":[{"name":"ids","type":"uint256[]"}]},
  {"type":"function","name":"getUserActiveLotteries","stateMutability":"view","inputs":[
    {"name":"user","type":"address"}],"outputs":[{"name":"ids","type":"uint256[]"}]},
  {"type":"function","name":"houseEdgeBps","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint16"}]},
  {"type":"function","name":"tokenConfigs","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[
    {"name":"enabled","type":"bool"},{"name":"minBet","type":"uint256"},{"name":"maxBet","type":"uint256"}]},
  {"type":"function","name":"lockedFunds","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[
    {"name":"","type":"uint256"}]},
  {"type":"function","name":"nextDiceId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"nextLotteryId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getVRFConfig","stateMutability":"view","inputs":[],"outputs":[
    {"name":"keyHash","type":"bytes32"},{"name":"subId","type":"uint256"},{"name":"callbackGasLimit","type":"uint32"}]},

  {"type":"event","name":"DicePlaced","anonymous":false,"inputs":[
    {"name":"diceId","type":"uint256","indexed":true},{"name":"player","type":"address","indexed":true},
    {"name":"token","type":"address","indexed":false},{"name":"stake","type":"uint256","indexed":false},
    {"name":"rollUnder","type":"uint8","indexed":false},{"name":"requestId","type":"uint256","indexed":false}]},
  {"type":"event","name":"DiceResolved","anonymous":false,"inputs":[
    {"name":"diceId","type":"uint256","indexed":true},{"name":"player","type":"address","indexed":true},
    {"name":"win","type":"bool","indexed":false},{"name":"roll","type":"uint8","indexed":false},
    {"name":"payout","type":"uint256","indexed":false}]},
  {"type":"event","name":"LotteryCreated","anonymous":false,"inputs":[
    {"name":"lotteryId","type":"uint256","indexed":true},{"name":"token","type":"address","indexed":false},
    {"name":"ticketPrice","type":"uint256","indexed":false},{"name":"startTime","type":"uint64","indexed":false},
    {"name":"endTime","type":"uint64","indexed":false}]},
  {"type":"event","name":"TicketsBought","anonymous":false,"inputs":[
    {"name":"lotteryId","type":"uint256","indexed":true},{"name":"buyer","type":"address","indexed":true},
    {"name":"count","type":"uint32","indexed":false}]},
  {"type":"event","name":"LotteryDrawRequested","anonymous":false,"inputs":[
    {"name":"lotteryId","type":"uint256","indexed":true},{"name":"requestId","type":"uint256","indexed":false}]},
  {"type":"event","name":"LotteryDrawn","anonymous":false,"inputs":[
    {"name":"lotteryId","type":"uint256","indexed":true},{"name":"winner","type":"address","indexed":true},
    {"name":"payout","type":"uint256","indexed":false}]}
]`

var parsedABI = mustParseABI(RandomGameABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("ledger: invalid RandomGame ABI: " + err.Error())
	}
	return parsed
}

// ABI 返回解析后的合约 ABI
func ABI() abi.ABI {
	return parsedABI
}
