// Package units converts between wei and decimal ether amounts.
package units

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var weiPerEther = decimal.New(1, 18)

// ParseEther 把 "0.0001" 这样的字符串转换为 wei，超出 18 位小数视为非法
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: negative", s)
	}
	wei := d.Mul(weiPerEther)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("invalid amount %q: more than 18 decimals", s)
	}
	return wei.BigInt(), nil
}

// ToEther 返回 wei 对应的 ether 数量
func ToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -18)
}

// FormatEther 去掉多余的尾零，例如 1e14 wei -> "0.0001"
func FormatEther(wei *big.Int) string {
	return ToEther(wei).String()
}
