// Package guard makes sure the wallet is on the target chain before any
// state-changing ledger call.
package guard

import (
	"context"

	"go.uber.org/zap"

	"github.com/gec682416/onchain-random-game/internal/wallet"
	"github.com/gec682416/onchain-random-game/pkg/errno"
	"github.com/gec682416/onchain-random-game/pkg/logger"
	"github.com/gec682416/onchain-random-game/pkg/monitor"
)

type Guard struct {
	provider wallet.Provider
	target   wallet.ChainDefinition
}

func New(provider wallet.Provider, target wallet.ChainDefinition) *Guard {
	return &Guard{provider: provider, target: target}
}

func (g *Guard) Target() wallet.ChainDefinition {
	return g.target
}

// EnsureNetwork 当前已在目标网络时直接返回；否则请求切换，
// 钱包不认识目标网络 (4902) 时先注册再重试一次切换
func (g *Guard) EnsureNetwork(ctx context.Context) error {
	if g.provider == nil {
		return errno.ErrWalletUnavailable
	}

	current, err := g.provider.ChainID(ctx)
	if err != nil {
		return errno.ErrWalletUnavailable.Wrap(err)
	}
	if current.Cmp(g.target.ChainID) == 0 {
		return nil
	}

	logger.Info("钱包不在目标网络，请求切换",
		zap.String("current", current.String()),
		zap.String("target", g.target.ChainID.String()))

	err = g.provider.SwitchChain(ctx, g.target.ChainID)
	if err == nil {
		monitor.Business.NetworkSwitch("switched")
		return nil
	}
	if wallet.ErrorCode(err) != wallet.CodeUnrecognizedChain {
		monitor.Business.NetworkSwitch("rejected")
		return errno.ErrChainMismatch.Wrap(err)
	}

	if err := g.provider.AddChain(ctx, g.target); err != nil {
		monitor.Business.NetworkSwitch("add_rejected")
		return errno.ErrChainUnavailable.Wrap(err)
	}
	if err := g.provider.SwitchChain(ctx, g.target.ChainID); err != nil {
		monitor.Business.NetworkSwitch("rejected")
		return errno.ErrChainMismatch.Wrap(err)
	}

	monitor.Business.NetworkSwitch("added")
	return nil
}
