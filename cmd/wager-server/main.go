package main

import (
	"context"
	"flag"
	"time"

	"go.uber.org/zap"

	"github.com/gec682416/onchain-random-game/internal/bootstrap"
	"github.com/gec682416/onchain-random-game/internal/handler"
	"github.com/gec682416/onchain-random-game/internal/server"
	"github.com/gec682416/onchain-random-game/internal/service"
	"github.com/gec682416/onchain-random-game/internal/worker"
	"github.com/gec682416/onchain-random-game/pkg/config"
	"github.com/gec682416/onchain-random-game/pkg/logger"

	_ "github.com/gec682416/onchain-random-game/docs/swagger"
)

// @title Onchain Random Game API
// @version 1.0
// @description Dice and lottery wager orchestration against a VRF-backed contract
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://www.swagger.io/support
// @contact.email support@swagger.io

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api/v1
func main() {
	configFile := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// 0. 初始化 Config
	config.Init(*configFile)
	cfg := config.Global

	// 1. 初始化 Logger
	logger.InitWithRotation(cfg.App.Env, logger.Rotation{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logger.Sync()

	// 2. 组装依赖 (DB / Redis / MQ / 钱包 / 账本 / 编排服务)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		logger.Fatal("初始化失败", zap.Error(err))
	}
	defer c.Close()

	// 3. 开启会话，失败不致命，可以之后通过 POST /session 重试
	if sess, err := c.Wagers.Connect(ctx); err != nil {
		logger.Warn("启动时连接钱包失败", zap.Error(err))
	} else {
		logger.Info("钱包会话已建立", zap.String("account", sess.Address.Hex()), zap.String("chain_id", sess.ChainID.String()))
	}

	// 4. 启动消息中继服务
	if c.Producer != nil {
		relay := service.NewRelayService(c.DB, c.Producer)
		go relay.Start(ctx)
	}

	// 5. 启动退款 Worker (同进程)
	if c.Worker != nil {
		ws := worker.NewServer(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Worker.Concurrency, c.Wagers)
		ws.Start()
		defer ws.Stop()
	}

	// 6. 启动定时扫描
	var enqueuer service.RefundEnqueuer
	if cfg.Refund.AutoRefund && c.Worker != nil {
		enqueuer = c.Worker
	}
	cronSvc := service.NewCronService(c.Locker, c.Wagers, enqueuer, cfg.Refund.SweepSpec)
	if err := cronSvc.Start(); err != nil {
		logger.Fatal("Cron 启动失败", zap.Error(err))
	}

	// 7. HTTP Router
	h := handler.NewWagerHandler(c.Wagers, c.History, c.Provider, c.Target.ExplorerTxURL)
	r := server.NewHTTPRouter(h)

	// 8. gRPC Server (health + reflection)
	grpcServer, hs := server.NewGRPCServer()
	go watchSessionHealth(ctx, c.Wagers, func(active bool) { server.SetSessionHealth(hs, active) })

	// 9. 启动应用
	app, err := server.New(server.Config{
		HttpPort: cfg.App.HttpPort,
		GrpcPort: cfg.App.GrpcPort,
	}, r, grpcServer)
	if err != nil {
		logger.Fatal("应用启动失败", zap.Error(err))
	}
	app.OnShutdown(cronSvc.Stop)
	app.OnShutdown(cancel)

	// 运行 (阻塞)
	app.Run()
	logger.Info("系统已退出")
}

func watchSessionHealth(ctx context.Context, svc *service.WagerService, set func(bool)) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	last := false
	set(last)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, active := svc.Session()
			if active != last {
				set(active)
				last = active
			}
		}
	}
}
