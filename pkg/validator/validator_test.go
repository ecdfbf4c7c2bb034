package validator

import (
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Stake    string `binding:"required,ether"`
	Duration string `binding:"omitempty,duration"`
	Player   string `binding:"omitempty,eth_addr"`
}

func TestCustomRules(t *testing.T) {
	Init()

	assert.NoError(t, binding.Validator.ValidateStruct(&sample{Stake: "0.0001", Duration: "1h30m"}))

	err := binding.Validator.ValidateStruct(&sample{Stake: "-1"})
	require.Error(t, err)
	assert.Contains(t, GetErrorMsg(err), "Stake 必须是非负的 ether 数量")

	err = binding.Validator.ValidateStruct(&sample{Stake: "1", Duration: "soon"})
	require.Error(t, err)
	assert.Contains(t, GetErrorMsg(err), "Duration 必须是时长")

	err = binding.Validator.ValidateStruct(&sample{Stake: "1", Player: "0x123"})
	require.Error(t, err)
	assert.Contains(t, GetErrorMsg(err), "Player 不是合法的以太坊地址")
}

func TestGetErrorMsgFallback(t *testing.T) {
	assert.Equal(t, "请求参数错误", GetErrorMsg(assert.AnError))
}
