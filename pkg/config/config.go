package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	App          AppConfig          `mapstructure:"app"`
	DB           DBConfig           `mapstructure:"db"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Chain        ChainConfig        `mapstructure:"chain"`
	Payment      PaymentConfig      `mapstructure:"payment"`
	Fee          FeeConfig          `mapstructure:"fee"`
	Distribution DistributionConfig `mapstructure:"distribution"`
	Staking      StakingConfig      `mapstructure:"staking"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	HttpPort string `mapstructure:"http_port"`
}

type DBConfig struct {
	Enabled  bool   `mapstructure:"enabled"` // 开启后 DistributionReceipt 落库 (审计用)
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	MQType   string `mapstructure:"mq_type"` // "redis" or "kafka" or "none"
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

type ChainConfig struct {
	RpcUrl          string `mapstructure:"rpc_url"`
	SubmitTimeoutMs int    `mapstructure:"submit_timeout_ms"`
}

// TokenConfig 支持的代币及其转账类型 (native / erc20)
// 在配置加载时解析一次，运行期不再做字符串分支判断
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Kind     string `mapstructure:"kind"`     // "native" or "erc20"
	Contract string `mapstructure:"contract"` // erc20 合约地址
	Decimals int32  `mapstructure:"decimals"`
}

type PaymentConfig struct {
	MaxQueueSize   int                `mapstructure:"max_queue_size"`
	MaxBatchSize   int                `mapstructure:"max_batch_size"`
	BatchTimeoutMs int                `mapstructure:"batch_timeout_ms"`
	WorkerPoolSize int                `mapstructure:"worker_pool_size"`
	IdlePollMs     int                `mapstructure:"idle_poll_ms"`
	PriorityWeight map[string]float64 `mapstructure:"priority_weight"`
}

type FeeConfig struct {
	FeePercentage      float64            `mapstructure:"fee_percentage"` // 基础费率, e.g. 0.003
	MinFee             string             `mapstructure:"min_fee"`        // 最小单位整数, decimal string
	CacheTTLSeconds    int                `mapstructure:"cache_ttl_seconds"`
	GasPriceBaseline   float64            `mapstructure:"gas_price_baseline"` // gwei
	PriorityMultiplier map[string]float64 `mapstructure:"priority_multiplier"`
	SupportedTokens    []TokenConfig      `mapstructure:"supported_tokens"`
}

type DistributionConfig struct {
	BatchSize             int               `mapstructure:"batch_size"`
	MaxRetries            int               `mapstructure:"max_retries"`
	RetryDelayMs          int               `mapstructure:"retry_delay_ms"`
	MinDistributionAmount string            `mapstructure:"min_distribution_amount"`
	MaxPendingAgeHours    int               `mapstructure:"max_pending_age_hours"`
	SweepIntervalSeconds  int               `mapstructure:"sweep_interval_seconds"`
	Recipients            map[string]string `mapstructure:"recipients"` // bucket type -> address
}

type StakingConfig struct {
	PoolAddress       string  `mapstructure:"pool_address"`
	RewardRate        float64 `mapstructure:"reward_rate"`
	LockupPeriodHours int     `mapstructure:"lockup_period_hours"`
}

var Global Config

func Init() {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("./configs")

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

	log.Printf("Configuration loaded successfully. Env: %s", Global.App.Env)
}

func setDefaults() {
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.http_port", "8080")

	viper.SetDefault("db.enabled", false)
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.user", "payment_user")
	viper.SetDefault("db.password", "payment_password")
	viper.SetDefault("db.name", "payment_db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.mq_type", "none")

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})

	viper.SetDefault("chain.rpc_url", "")
	viper.SetDefault("chain.submit_timeout_ms", 30000)

	viper.SetDefault("payment.max_queue_size", 10000)
	viper.SetDefault("payment.max_batch_size", 50)
	viper.SetDefault("payment.batch_timeout_ms", 5000)
	viper.SetDefault("payment.worker_pool_size", 4)
	viper.SetDefault("payment.idle_poll_ms", 100)
	viper.SetDefault("payment.priority_weight", map[string]float64{
		"low":      1,
		"normal":   10,
		"high":     100,
		"critical": 1000,
	})

	viper.SetDefault("fee.fee_percentage", 0.003)
	viper.SetDefault("fee.min_fee", "1000000000000000")
	viper.SetDefault("fee.cache_ttl_seconds", 30)
	viper.SetDefault("fee.gas_price_baseline", 30)
	viper.SetDefault("fee.priority_multiplier", map[string]float64{
		"low":      0.9,
		"normal":   1.0,
		"high":     1.5,
		"critical": 2.0,
	})

	viper.SetDefault("distribution.batch_size", 20)
	viper.SetDefault("distribution.max_retries", 3)
	viper.SetDefault("distribution.retry_delay_ms", 5000)
	viper.SetDefault("distribution.min_distribution_amount", "1000000000000000")
	viper.SetDefault("distribution.max_pending_age_hours", 24)
	viper.SetDefault("distribution.sweep_interval_seconds", 10)

	viper.SetDefault("staking.reward_rate", 0.05)
	viper.SetDefault("staking.lockup_period_hours", 72)
}
