package server

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gec682416/onchain-random-game/internal/guard"
	"github.com/gec682416/onchain-random-game/internal/handler"
	"github.com/gec682416/onchain-random-game/internal/ledger/simulated"
	"github.com/gec682416/onchain-random-game/internal/model"
	"github.com/gec682416/onchain-random-game/internal/service"
	"github.com/gec682416/onchain-random-game/internal/service/observer"
	"github.com/gec682416/onchain-random-game/internal/wallet"
	"github.com/gec682416/onchain-random-game/pkg/cache"
	"github.com/gec682416/onchain-random-game/pkg/database"
	"github.com/gec682416/onchain-random-game/pkg/errno"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type apiFixture struct {
	router   *gin.Engine
	contract *simulated.Contract
	svc      *service.WagerService
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	target := wallet.ChainDefinition{
		ChainID:           big.NewInt(11155111),
		Name:              "Sepolia",
		Currency:          wallet.NativeCurrency{Name: "Sepolia ETH", Symbol: "ETH", Decimals: 18},
		RPCURLs:           []string{"https://rpc.sepolia.example"},
		BlockExplorerURLs: []string{"https://sepolia.etherscan.io"},
	}
	provider, err := wallet.NewLocalProviderFromMnemonic(testMnemonic, "", "", 2, big.NewInt(1))
	require.NoError(t, err)

	contract := simulated.New(common.HexToAddress("0x4444444444444444444444444444444444444444"))
	l := contract.BindFunc(func() (common.Address, error) { return provider.Account(context.Background()) })

	db, err := database.ConnectSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))

	g := guard.New(provider, target)
	history := service.NewHistoryService(db)
	svc := service.NewWagerService(service.WagerDeps{
		Provider: provider,
		Guard:    g,
		Ledger:   l,
		Status:   service.NewStatusService(l, contract.Address(), common.Address{}, cache.NewMemoryCache(time.Minute, time.Minute)),
		Refunds:  service.NewRefundService(l, g, 0, 0),
		History:  history,
		Watch:    observer.Config{PollInterval: 20 * time.Millisecond, Ceiling: time.Hour},
	})
	t.Cleanup(svc.Close)

	h := handler.NewWagerHandler(svc, history, provider, target.ExplorerTxURL)
	return &apiFixture{router: NewHTTPRouter(h), contract: contract, svc: svc}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) envelope {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestHealthAndPing(t *testing.T) {
	f := newAPI(t)
	env := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, 0, env.Code)
	assert.Contains(t, string(env.Data), `"status":"UP"`)

	env = f.do(t, http.MethodGet, "/api/v1/ping", "")
	assert.JSONEq(t, `{"pong":true}`, string(env.Data))
}

func TestWriteWithoutSession(t *testing.T) {
	f := newAPI(t)
	env := f.do(t, http.MethodPost, "/api/v1/dice", `{"stake":"0.0001","roll_under":50}`)
	assert.Equal(t, errno.ErrNoSession.Code, env.Code)
}

func TestDiceFlowOverHTTP(t *testing.T) {
	f := newAPI(t)

	env := f.do(t, http.MethodPost, "/api/v1/session", "")
	require.Equal(t, 0, env.Code, env.Msg)

	env = f.do(t, http.MethodPost, "/api/v1/admin/fund", `{"amount":"1"}`)
	require.Equal(t, 0, env.Code, env.Msg)
	env = f.do(t, http.MethodPost, "/api/v1/admin/token-limits", `{"enabled":true,"min_bet":"0.00001","max_bet":"0.1"}`)
	require.Equal(t, 0, env.Code, env.Msg)

	env = f.do(t, http.MethodGet, "/api/v1/quote?stake=0.0001&roll_under=50", "")
	require.Equal(t, 0, env.Code, env.Msg)
	assert.Contains(t, string(env.Data), `"payout":"0.0002"`)

	env = f.do(t, http.MethodPost, "/api/v1/dice", `{"stake":"0.0001","roll_under":100}`)
	assert.Equal(t, errno.ErrInvalidThreshold.Code, env.Code)

	env = f.do(t, http.MethodPost, "/api/v1/dice", `{"stake":"-1","roll_under":50}`)
	assert.Equal(t, errno.ErrBind.Code, env.Code)

	env = f.do(t, http.MethodPost, "/api/v1/dice", `{"stake":"0.0001","roll_under":50}`)
	require.Equal(t, 0, env.Code, env.Msg)
	var w handler.WagerView
	require.NoError(t, json.Unmarshal(env.Data, &w))
	assert.Equal(t, "dice#0", w.Key)
	assert.Equal(t, "pending", w.State)
	assert.Equal(t, "0.0001", w.Stake)
	assert.True(t, strings.HasPrefix(w.TxURL, "https://sepolia.etherscan.io/tx/"))

	require.NoError(t, f.contract.FulfillDice(0, big.NewInt(41)))
	require.Eventually(t, func() bool {
		env := f.do(t, http.MethodGet, "/api/v1/wagers/dice/0", "")
		return env.Code == 0 && strings.Contains(string(env.Data), `"state":"resolved"`)
	}, 2*time.Second, 10*time.Millisecond)

	env = f.do(t, http.MethodGet, "/api/v1/wagers/dice/0", "")
	require.NoError(t, json.Unmarshal(env.Data, &w))
	require.NotNil(t, w.Outcome)
	assert.True(t, w.Outcome.Won)
	assert.Equal(t, uint8(42), w.Outcome.Roll)

	env = f.do(t, http.MethodGet, "/api/v1/wagers/dice/9", "")
	assert.Equal(t, errno.ErrWagerNotFound.Code, env.Code)

	// 历史和提示在监听者里写入，可能晚于状态可见
	assert.Eventually(t, func() bool {
		env := f.do(t, http.MethodGet, "/api/v1/history?limit=5", "")
		return env.Code == 0 && strings.Contains(string(env.Data), `"state":"resolved"`)
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		env := f.do(t, http.MethodGet, "/api/v1/session", "")
		return strings.Contains(string(env.Data), "rolled 42 under 50")
	}, time.Second, 10*time.Millisecond)

	env = f.do(t, http.MethodGet, "/api/v1/refunds?game=dice", "")
	require.Equal(t, 0, env.Code, env.Msg)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestSelectAccountResetsSession(t *testing.T) {
	f := newAPI(t)
	require.Equal(t, 0, f.do(t, http.MethodPost, "/api/v1/session", "").Code)
	first, ok := f.svc.Session()
	require.True(t, ok)

	env := f.do(t, http.MethodPost, "/api/v1/session/account", `{"index":1}`)
	require.Equal(t, 0, env.Code, env.Msg)

	require.Eventually(t, func() bool {
		sess, ok := f.svc.Session()
		return ok && sess.ID != first.ID && sess.Address != first.Address
	}, time.Second, 10*time.Millisecond)

	env = f.do(t, http.MethodPost, "/api/v1/session/account", `{"index":7}`)
	assert.Equal(t, errno.ErrBind.Code, env.Code)
}

func TestLotteryRoutesValidate(t *testing.T) {
	f := newAPI(t)
	require.Equal(t, 0, f.do(t, http.MethodPost, "/api/v1/session", "").Code)

	env := f.do(t, http.MethodPost, "/api/v1/lottery", `{"ticket_price":"0.001","duration":"soon"}`)
	assert.Equal(t, errno.ErrBind.Code, env.Code)

	env = f.do(t, http.MethodPost, "/api/v1/lottery", `{"ticket_price":"0.001","duration":"1h"}`)
	require.Equal(t, 0, env.Code, env.Msg)

	env = f.do(t, http.MethodPost, "/api/v1/lottery/0/draw", "")
	assert.Equal(t, errno.ErrSubmissionRejected.Code, env.Code)

	env = f.do(t, http.MethodPost, "/api/v1/lottery/0/tickets", `{"count":0}`)
	assert.Equal(t, errno.ErrBind.Code, env.Code)
}
