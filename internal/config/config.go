package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Telegram
	BotToken     string
	BotUsername  string
	Command      string
	LogChannelID string

	// Chain
	RPCURL      string
	ChainID     int64
	ExplorerURL string
	OperatorKey string
	GasPriceWei *big.Int

	// Rates
	RatesBaseURL  string
	RatesAPIKey   string
	RatesCoinID   string
	BaseSymbol    string
	RatesCacheTTL time.Duration
	RatesRefresh  time.Duration

	// Database
	DBDriver    string
	DBPath      string
	DatabaseURL string

	// Limits
	MaxTip          decimal.Decimal
	MaxPayout       decimal.Decimal
	PacketTTL       time.Duration
	PacketMaxShares int

	// Sweep
	SweepInterval  time.Duration
	SuspendDefault time.Duration
	SuspendMax     time.Duration

	// Admins
	AdminIDs map[string]bool

	// Misc
	RequestTimeout time.Duration
	HTTPPort       int
	LogLevel       string
	LogFormat      string
}

func Load() (*Config, error) {
	cfg := &Config{
		// Telegram
		BotToken:     getEnv("BOT_TOKEN", ""),
		BotUsername:  getEnv("BOT_USERNAME", "tipbot"),
		Command:      getEnv("COMMAND", "/tip"),
		LogChannelID: getEnv("LOG_CHANNEL_ID", ""),

		// Chain
		RPCURL:      getEnv("RPC_URL", "https://gobi-rpc.horizenlabs.io/ethv1"),
		ChainID:     int64(getEnvInt("CHAIN_ID", 0)),
		ExplorerURL: strings.TrimSuffix(getEnv("EXPLORER_URL", "https://gobi-explorer.horizenlabs.io"), "/"),
		OperatorKey: getEnv("OPERATOR_KEY", ""),
		GasPriceWei: getEnvBig("GAS_PRICE_WEI", big.NewInt(10_000_000_000)),

		// Rates
		RatesBaseURL:  strings.TrimSuffix(getEnv("RATES_BASE_URL", "https://api.coingecko.com/api/v3"), "/"),
		RatesAPIKey:   getEnv("RATES_API_KEY", ""),
		RatesCoinID:   getEnv("RATES_COIN_ID", "zencash"),
		BaseSymbol:    strings.ToLower(getEnv("BASE_SYMBOL", "zen")),
		RatesCacheTTL: getEnvDuration("RATES_CACHE_TTL", time.Minute),
		RatesRefresh:  getEnvDuration("RATES_REFRESH_INTERVAL", 6*time.Hour),

		// Database
		DBDriver:    getEnv("DB_DRIVER", "sqlite"),
		DBPath:      getEnv("DB_PATH", "./tipbot.db"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		// Limits
		MaxTip:          getEnvDecimal("MAX_TIP", decimal.NewFromInt(1)),
		MaxPayout:       getEnvDecimal("MAX_PAYOUT", decimal.NewFromInt(9000)),
		PacketTTL:       getEnvDuration("PACKET_TTL", 20*time.Minute),
		PacketMaxShares: getEnvInt("PACKET_MAX_SHARES", 20),

		// Sweep
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", 24*time.Hour),
		SuspendDefault: time.Duration(getEnvInt("SUSPEND_DEFAULT_MINUTES", 60)) * time.Minute,
		SuspendMax:     time.Duration(getEnvInt("SUSPEND_MAX_MINUTES", 100)) * time.Minute,

		// Misc
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),
		HTTPPort:       getEnvInt("HTTP_PORT", 8080),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
	}

	cfg.AdminIDs = parseIDList(getEnv("ADMIN_IDS", ""))

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !c.MaxTip.IsPositive() {
		return fmt.Errorf("MAX_TIP must be positive")
	}
	if c.MaxPayout.LessThan(c.MaxTip) {
		return fmt.Errorf("MAX_PAYOUT must not be below MAX_TIP")
	}
	if c.PacketMaxShares < 1 {
		return fmt.Errorf("PACKET_MAX_SHARES must be at least 1")
	}
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	if c.OperatorKey == "" {
		return fmt.Errorf("OPERATOR_KEY is required")
	}
	if c.DBDriver == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for DB_DRIVER=postgres")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.SuspendMax < time.Minute || c.SuspendDefault < time.Minute || c.SuspendDefault > c.SuspendMax {
		return fmt.Errorf("suspend durations must satisfy 1m <= default <= max")
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	return nil
}

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// fileConfig mirrors the subset of settings that may live in CONFIG_FILE.
// Zero values leave the environment setting untouched.
type fileConfig struct {
	Command   string   `yaml:"command"`
	MaxTip    string   `yaml:"max_tip"`
	MaxPayout string   `yaml:"max_payout"`
	Admins    []string `yaml:"admins"`
	LogChan   string   `yaml:"log_channel"`
	Sweep     struct {
		Interval       Duration `yaml:"interval"`
		SuspendDefault Duration `yaml:"suspend_default"`
		SuspendMax     Duration `yaml:"suspend_max"`
	} `yaml:"sweep"`
	Packet struct {
		TTL       Duration `yaml:"ttl"`
		MaxShares int      `yaml:"max_shares"`
	} `yaml:"packet"`
	Rates struct {
		BaseURL  string   `yaml:"base_url"`
		CoinID   string   `yaml:"coin_id"`
		CacheTTL Duration `yaml:"cache_ttl"`
		Refresh  Duration `yaml:"refresh"`
	} `yaml:"rates"`
}

func (c *Config) applyFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var fc fileConfig
	if err := yaml.NewDecoder(file).Decode(&fc); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return c.merge(fc)
}

func (c *Config) merge(fc fileConfig) error {
	if fc.Command != "" {
		c.Command = fc.Command
	}
	if fc.MaxTip != "" {
		v, err := decimal.NewFromString(fc.MaxTip)
		if err != nil {
			return fmt.Errorf("max_tip: %w", err)
		}
		c.MaxTip = v
	}
	if fc.MaxPayout != "" {
		v, err := decimal.NewFromString(fc.MaxPayout)
		if err != nil {
			return fmt.Errorf("max_payout: %w", err)
		}
		c.MaxPayout = v
	}
	for _, id := range fc.Admins {
		if id = strings.TrimSpace(id); id != "" {
			c.AdminIDs[id] = true
		}
	}
	if fc.LogChan != "" {
		c.LogChannelID = fc.LogChan
	}
	if fc.Sweep.Interval.Duration > 0 {
		c.SweepInterval = fc.Sweep.Interval.Duration
	}
	if fc.Sweep.SuspendDefault.Duration > 0 {
		c.SuspendDefault = fc.Sweep.SuspendDefault.Duration
	}
	if fc.Sweep.SuspendMax.Duration > 0 {
		c.SuspendMax = fc.Sweep.SuspendMax.Duration
	}
	if fc.Packet.TTL.Duration > 0 {
		c.PacketTTL = fc.Packet.TTL.Duration
	}
	if fc.Packet.MaxShares > 0 {
		c.PacketMaxShares = fc.Packet.MaxShares
	}
	if fc.Rates.BaseURL != "" {
		c.RatesBaseURL = strings.TrimSuffix(fc.Rates.BaseURL, "/")
	}
	if fc.Rates.CoinID != "" {
		c.RatesCoinID = fc.Rates.CoinID
	}
	if fc.Rates.CacheTTL.Duration > 0 {
		c.RatesCacheTTL = fc.Rates.CacheTTL.Duration
	}
	if fc.Rates.Refresh.Duration > 0 {
		c.RatesRefresh = fc.Rates.Refresh.Duration
	}
	return nil
}

func parseIDList(raw string) map[string]bool {
	ids := make(map[string]bool)
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			ids[id] = true
		}
	}
	return ids
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvBig(key string, defaultVal *big.Int) *big.Int {
	if val := os.Getenv(key); val != "" {
		if b, ok := new(big.Int).SetString(val, 10); ok && b.Sign() > 0 {
			return b
		}
	}
	return defaultVal
}
