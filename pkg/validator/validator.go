package validator

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/gec682416/onchain-random-game/pkg/units"
)

var once sync.Once

// Init 在 gin 的校验引擎上注册自定义规则
func Init() {
	once.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("ether", validateEther)
			_ = v.RegisterValidation("duration", validateDuration)
		}
	})
}

// validateEther 金额为十进制 ether 字符串，例如 "0.0001"，不允许负数
func validateEther(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	wei, err := units.ParseEther(s)
	return err == nil && wei.Sign() >= 0
}

// validateDuration 形如 "90s"、"1h30m"
func validateDuration(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	d, err := time.ParseDuration(s)
	return err == nil && d >= 0
}

// GetErrorMsg translates validation errors into user-friendly messages
func GetErrorMsg(err error) string {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var errMsgs []string
		for _, e := range validationErrors {
			field := e.Field()
			tag := e.Tag()
			param := e.Param()

			switch tag {
			case "required":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 不能为空", field))
			case "eth_addr":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 不是合法的以太坊地址", field))
			case "ether":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 必须是非负的 ether 数量，例如 0.0001", field))
			case "duration":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 必须是时长，例如 30m 或 1h", field))
			case "gte", "min":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 不能小于 %s", field, param))
			case "lte", "max":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 不能大于 %s", field, param))
			case "oneof":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 必须是 [%s] 之一", field, param))
			default:
				errMsgs = append(errMsgs, fmt.Sprintf("%s 校验失败 (%s)", field, tag))
			}
		}
		return strings.Join(errMsgs, "; ")
	}
	return "请求参数错误"
}
