// Package hdwallet derives Ethereum signing keys from a BIP-39 mnemonic
// along BIP-44 paths.
package hdwallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// DefaultBasePath 是以太坊账户的 BIP-44 前缀，最后一段为账户索引
const DefaultBasePath = "m/44'/60'/0'/0"

var (
	ErrInvalidMnemonic = errors.New("无效的助记词")
	ErrInvalidSeed     = errors.New("无效的种子")
	ErrInvalidPath     = errors.New("无效的派生路径")
)

// NewMnemonic 生成随机助记词，bitSize 通常为 128 (12 词) 或 256 (24 词)
func NewMnemonic(bitSize int) (string, error) {
	entropy, err := bip39.NewEntropy(bitSize)
	if err != nil {
		return "", fmt.Errorf("生成熵失败: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("生成助记词失败: %w", err)
	}
	return mnemonic, nil
}

func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// Wallet 持有主扩展私钥
type Wallet struct {
	master *hdkeychain.ExtendedKey
}

// FromMnemonic 校验助记词后生成主密钥，passphrase 可为空
func FromMnemonic(mnemonic, passphrase string) (*Wallet, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	return FromSeed(bip39.NewSeed(mnemonic, passphrase))
}

func FromSeed(seed []byte) (*Wallet, error) {
	if len(seed) < hdkeychain.MinSeedBytes || len(seed) > hdkeychain.MaxSeedBytes {
		return nil, ErrInvalidSeed
	}
	// 网络参数只影响 xprv 的序列化前缀，对以太坊派生无影响
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("生成主密钥失败: %w", err)
	}
	return &Wallet{master: master}, nil
}

// Derive 按路径派生私钥，支持 m/44'/60'/0'/0/0 与 m/44h/60h/0h/0/0
func (w *Wallet) Derive(path string) (*ecdsa.PrivateKey, error) {
	indexes, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	key := w.master
	for _, idx := range indexes {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("派生子密钥失败: %w", err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return priv.ToECDSA(), nil
}

// Account 派生 base/index 处的账户
func (w *Wallet) Account(base string, index uint32) (*ecdsa.PrivateKey, common.Address, error) {
	if base == "" {
		base = DefaultBasePath
	}
	key, err := w.Derive(fmt.Sprintf("%s/%d", strings.TrimSuffix(base, "/"), index))
	if err != nil {
		return nil, common.Address{}, err
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

// ParsePath 把路径解析为子索引序列
func ParsePath(path string) ([]uint32, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "m" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "m/") {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}

	segments := strings.Split(path[2:], "/")
	indexes := make([]uint32, 0, len(segments))
	for _, segment := range segments {
		hardened := strings.HasSuffix(segment, "'") || strings.HasSuffix(segment, "h")
		if hardened {
			segment = segment[:len(segment)-1]
		}
		val, err := strconv.ParseUint(segment, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("%w: 段 '%s': %v", ErrInvalidPath, segment, err)
		}
		index := uint32(val)
		if hardened {
			index += hdkeychain.HardenedKeyStart
		}
		indexes = append(indexes, index)
	}
	return indexes, nil
}
