package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	DB       DBConfig       `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Log      LogConfig      `mapstructure:"log"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Contract ContractConfig `mapstructure:"contract"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
	Refund   RefundConfig   `mapstructure:"refund"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	HttpPort string `mapstructure:"http_port"`
	GrpcPort string `mapstructure:"grpc_port"`
}

type DBConfig struct {
	Driver   string `mapstructure:"driver"` // "postgres" or "sqlite"
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Path     string `mapstructure:"path"` // sqlite 文件路径
}

// PostgresDSN 用于 gorm
func (c DBConfig) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.Host, c.User, c.Password, c.Name, c.Port)
}

// MigrateURL 用于 golang-migrate
func (c DBConfig) MigrateURL() string {
	if c.Driver == "sqlite" {
		return "sqlite://" + c.Path
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Name)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	MQType   string `mapstructure:"mq_type"` // "redis" or "kafka"
	Enabled  bool   `mapstructure:"enabled"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LogConfig struct {
	File       string `mapstructure:"file"` // 为空则只输出到控制台
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// ChainConfig 目标网络定义，钱包不认识该网络时用于注册
type ChainConfig struct {
	ID               int64  `mapstructure:"id"`
	Name             string `mapstructure:"name"`
	RpcUrl           string `mapstructure:"rpc_url"`
	WsUrl            string `mapstructure:"ws_url"`
	ExplorerUrl      string `mapstructure:"explorer_url"`
	CurrencyName     string `mapstructure:"currency_name"`
	CurrencySymbol   string `mapstructure:"currency_symbol"`
	CurrencyDecimals uint8  `mapstructure:"currency_decimals"`
}

type ContractConfig struct {
	Mode          string        `mapstructure:"mode"` // "rpc" or "simulated"
	Address       string        `mapstructure:"address"`
	DefaultToken  string        `mapstructure:"default_token"`
	ConfirmPoll   time.Duration `mapstructure:"confirm_poll"`
	ConfirmWithin time.Duration `mapstructure:"confirm_within"`
	AutoFulfill   time.Duration `mapstructure:"auto_fulfill"` // 仅 simulated，0 表示不自动回调
	HouseEdgeBps  uint16        `mapstructure:"house_edge_bps"`
}

type WalletConfig struct {
	Mnemonic       string `mapstructure:"mnemonic"`
	KeystorePath   string `mapstructure:"keystore_path"`
	Password       string `mapstructure:"password"` // 通常通过环境变量 WALLET_PASSWORD 传入
	DerivationPath string `mapstructure:"derivation_path"`
	Accounts       int    `mapstructure:"accounts"` // 派生账户数量，可通过 session/account 切换
	AutoApprove    bool   `mapstructure:"auto_approve"`
}

type WatcherConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Ceiling      time.Duration `mapstructure:"ceiling"`
	PollRPS      float64       `mapstructure:"poll_rps"`
	PollBurst    int           `mapstructure:"poll_burst"`
	Resubscribe  time.Duration `mapstructure:"resubscribe"`
}

type RefundConfig struct {
	DiceAfter    time.Duration `mapstructure:"dice_after"`
	LotteryAfter time.Duration `mapstructure:"lottery_after"`
	SweepSpec    string        `mapstructure:"sweep_spec"`
	AutoRefund   bool          `mapstructure:"auto_refund"`
}

type WorkerConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	Concurrency int  `mapstructure:"concurrency"`
}

var Global Config

// Init 加载配置文件和环境变量，file 为空时按默认路径查找 config.yaml
func Init(file ...string) {
	if len(file) > 0 && file[0] != "" {
		viper.SetConfigFile(file[0])
	} else {
		viper.SetConfigName("config") // name of config file (without extension)
		viper.SetConfigType("yaml")   // REQUIRED if the config file does not have the extension in the name
		viper.AddConfigPath(".")      // optionally look for config in the working directory
		viper.AddConfigPath("./config")
	}

	// 环境变量设置
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 设置默认值
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found, using defaults and environment variables")
		} else {
			log.Fatalf("Fatal error config file: %s \n", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	log.Printf("Configuration loaded successfully. Env: %s, Chain: %d", Global.App.Env, Global.Chain.ID)
}

func setDefaults() {
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.http_port", "8080")
	viper.SetDefault("app.grpc_port", "50051")

	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.path", "wager.db")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.user", "wager_user")
	viper.SetDefault("db.password", "wager_password")
	viper.SetDefault("db.name", "wager_db")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.mq_type", "redis")
	viper.SetDefault("redis.enabled", false)

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "wager_events")

	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 5)
	viper.SetDefault("log.max_age_days", 28)

	// Sepolia
	viper.SetDefault("chain.id", 11155111)
	viper.SetDefault("chain.name", "Sepolia")
	viper.SetDefault("chain.rpc_url", "https://rpc.sepolia.org")
	viper.SetDefault("chain.explorer_url", "https://sepolia.etherscan.io")
	viper.SetDefault("chain.currency_name", "Sepolia ETH")
	viper.SetDefault("chain.currency_symbol", "ETH")
	viper.SetDefault("chain.currency_decimals", 18)

	viper.SetDefault("contract.mode", "rpc")
	viper.SetDefault("contract.default_token", "0x0000000000000000000000000000000000000000")
	viper.SetDefault("contract.confirm_poll", time.Second)
	viper.SetDefault("contract.confirm_within", 5*time.Minute)
	viper.SetDefault("contract.auto_fulfill", 5*time.Second)
	viper.SetDefault("contract.house_edge_bps", 200)

	viper.SetDefault("wallet.keystore_path", "wallet.json")
	viper.SetDefault("wallet.derivation_path", "m/44'/60'/0'/0")
	viper.SetDefault("wallet.accounts", 1)
	viper.SetDefault("wallet.auto_approve", true)

	viper.SetDefault("watcher.poll_interval", 3*time.Second)
	viper.SetDefault("watcher.ceiling", 180*time.Second)
	viper.SetDefault("watcher.poll_rps", 10.0)
	viper.SetDefault("watcher.poll_burst", 5)
	viper.SetDefault("watcher.resubscribe", 5*time.Second)

	viper.SetDefault("refund.dice_after", 24*time.Hour)
	viper.SetDefault("refund.lottery_after", 7*24*time.Hour)
	viper.SetDefault("refund.sweep_spec", "@every 1m")
	viper.SetDefault("refund.auto_refund", false)

	viper.SetDefault("worker.enabled", false)
	viper.SetDefault("worker.concurrency", 4)
}
