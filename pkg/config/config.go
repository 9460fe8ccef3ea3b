package config

import (
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// P2P listener
	P2PPort           string
	P2PPublicEndpoint string // advertised in the bot registry
	RateLimitPerSec   float64
	RateLimitBurst    int

	// Identity and protocol domain
	BotPrivateKey   string
	ChainID         int64
	EscrowAddress   string
	CollateralToken string
	ProtocolName    string
	ProtocolVersion string

	// Messages
	MessageExpiryWindow time.Duration

	// Settlement
	CounterRounds      int
	EscalationInterval time.Duration
	PortfolioDir       string

	// Wallet
	CollateralDecimals int
	WalletPollInterval time.Duration

	// Chain RPC
	PrimaryRPCURL   string
	SecondaryRPCURL string
	TxReceiptWait   time.Duration

	// Price source
	PriceSourceURL      string
	PriceStreamURL      string
	PriceCacheFreshness time.Duration

	// Backend mirror
	BackendURL          string
	BackendSyncInterval time.Duration

	// Peer discovery
	DiscoveryCacheTTL     time.Duration
	DiscoveryPollInterval time.Duration

	// Peer transport
	TransportMaxAttempts    int
	TransportBaseDelay      time.Duration
	TransportMaxDelay       time.Duration
	TransportAttemptTimeout time.Duration

	// Circuit breakers
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	// WebSocket price stream
	WSDialTimeout           time.Duration
	WSReconnectInitialDelay time.Duration
	WSReconnectMaxDelay     time.Duration
	WSReconnectBackoffMult  float64

	// Storage
	StorageMode  string // "postgres" or "console"
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		// Application defaults
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		// P2P defaults
		P2PPort:           getEnvOrDefault("P2P_PORT", "9090"),
		P2PPublicEndpoint: os.Getenv("P2P_PUBLIC_ENDPOINT"),
		RateLimitPerSec:   getFloat64OrDefault("RATE_LIMIT_PER_SECOND", 5),
		RateLimitBurst:    getIntOrDefault("RATE_LIMIT_BURST", 10),

		// Identity defaults
		BotPrivateKey:   os.Getenv("BOT_PRIVATE_KEY"),
		ChainID:         getInt64OrDefault("CHAIN_ID", 31337),
		EscrowAddress:   os.Getenv("ESCROW_ADDRESS"),
		CollateralToken: os.Getenv("COLLATERAL_TOKEN_ADDRESS"),
		ProtocolName:    getEnvOrDefault("PROTOCOL_NAME", "BilateralWager"),
		ProtocolVersion: getEnvOrDefault("PROTOCOL_VERSION", "1"),

		MessageExpiryWindow: getDurationOrDefault("MESSAGE_EXPIRY_WINDOW", 5*time.Minute),

		// Settlement defaults
		CounterRounds:      getIntOrDefault("COUNTER_ROUNDS", 1),
		EscalationInterval: getDurationOrDefault("ESCALATION_INTERVAL", time.Minute),
		PortfolioDir:       os.Getenv("PORTFOLIO_DIR"),

		// Wallet defaults
		CollateralDecimals: getIntOrDefault("COLLATERAL_DECIMALS", 6),
		WalletPollInterval: getDurationOrDefault("WALLET_POLL_INTERVAL", time.Minute),

		// RPC defaults
		PrimaryRPCURL:   getEnvOrDefault("PRIMARY_RPC_URL", "http://localhost:8545"),
		SecondaryRPCURL: os.Getenv("SECONDARY_RPC_URL"),
		TxReceiptWait:   getDurationOrDefault("TX_RECEIPT_WAIT", 2*time.Minute),

		// Price source defaults
		PriceSourceURL:      getEnvOrDefault("PRICE_SOURCE_URL", "http://localhost:8000"),
		PriceStreamURL:      os.Getenv("PRICE_STREAM_URL"),
		PriceCacheFreshness: getDurationOrDefault("PRICE_CACHE_FRESHNESS", 30*time.Minute),

		// Backend defaults
		BackendURL:          os.Getenv("BACKEND_URL"),
		BackendSyncInterval: getDurationOrDefault("BACKEND_SYNC_INTERVAL", 30*time.Second),

		// Discovery defaults
		DiscoveryCacheTTL:     getDurationOrDefault("DISCOVERY_CACHE_TTL", 5*time.Minute),
		DiscoveryPollInterval: getDurationOrDefault("DISCOVERY_POLL_INTERVAL", time.Minute),

		// Transport defaults
		TransportMaxAttempts:    getIntOrDefault("TRANSPORT_MAX_ATTEMPTS", 3),
		TransportBaseDelay:      getDurationOrDefault("TRANSPORT_BASE_DELAY", 500*time.Millisecond),
		TransportMaxDelay:       getDurationOrDefault("TRANSPORT_MAX_DELAY", 5*time.Second),
		TransportAttemptTimeout: getDurationOrDefault("TRANSPORT_ATTEMPT_TIMEOUT", 10*time.Second),

		// Breaker defaults
		BreakerFailureThreshold: getIntOrDefault("BREAKER_FAILURE_THRESHOLD", 3),
		BreakerCooldown:         getDurationOrDefault("BREAKER_COOLDOWN", 60*time.Second),

		// WebSocket defaults
		WSDialTimeout:           getDurationOrDefault("WS_DIAL_TIMEOUT", 10*time.Second),
		WSReconnectInitialDelay: getDurationOrDefault("WS_RECONNECT_INITIAL_DELAY", 1*time.Second),
		WSReconnectMaxDelay:     getDurationOrDefault("WS_RECONNECT_MAX_DELAY", 30*time.Second),
		WSReconnectBackoffMult:  getFloat64OrDefault("WS_RECONNECT_BACKOFF_MULTIPLIER", 2.0),

		// Storage defaults
		StorageMode:  getEnvOrDefault("STORAGE_MODE", "console"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "wager"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "wager123"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "p2p_wager"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	if c.P2PPort == "" {
		return fmt.Errorf("P2P_PORT cannot be empty")
	}

	if c.HTTPPort == c.P2PPort {
		return fmt.Errorf("HTTP_PORT and P2P_PORT must differ, both %q", c.HTTPPort)
	}

	if c.EscrowAddress != "" && !common.IsHexAddress(c.EscrowAddress) {
		return fmt.Errorf("ESCROW_ADDRESS is not a valid address: %q", c.EscrowAddress)
	}

	if c.CollateralToken != "" && !common.IsHexAddress(c.CollateralToken) {
		return fmt.Errorf("COLLATERAL_TOKEN_ADDRESS is not a valid address: %q", c.CollateralToken)
	}

	if c.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be positive, got %d", c.ChainID)
	}

	if c.PrimaryRPCURL == "" {
		return fmt.Errorf("PRIMARY_RPC_URL cannot be empty")
	}

	for key, raw := range map[string]string{
		"PRICE_SOURCE_URL":    c.PriceSourceURL,
		"BACKEND_URL":         c.BackendURL,
		"P2P_PUBLIC_ENDPOINT": c.P2PPublicEndpoint,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
		}
	}

	if c.RateLimitPerSec <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_SECOND must be positive, got %f", c.RateLimitPerSec)
	}

	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be positive, got %d", c.RateLimitBurst)
	}

	if c.TransportMaxAttempts < 1 {
		return fmt.Errorf("TRANSPORT_MAX_ATTEMPTS must be at least 1, got %d", c.TransportMaxAttempts)
	}

	if c.TransportBaseDelay > c.TransportMaxDelay {
		return fmt.Errorf("TRANSPORT_BASE_DELAY (%s) exceeds TRANSPORT_MAX_DELAY (%s)", c.TransportBaseDelay, c.TransportMaxDelay)
	}

	if c.TransportAttemptTimeout <= 0 {
		return fmt.Errorf("TRANSPORT_ATTEMPT_TIMEOUT must be positive")
	}

	if c.BreakerFailureThreshold <= 0 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be positive, got %d", c.BreakerFailureThreshold)
	}

	if c.BreakerCooldown <= 0 {
		return fmt.Errorf("BREAKER_COOLDOWN must be positive")
	}

	if c.MessageExpiryWindow <= 0 {
		return fmt.Errorf("MESSAGE_EXPIRY_WINDOW must be positive")
	}

	if c.CounterRounds < 0 {
		return fmt.Errorf("COUNTER_ROUNDS cannot be negative, got %d", c.CounterRounds)
	}

	if c.EscalationInterval <= 0 {
		return fmt.Errorf("ESCALATION_INTERVAL must be positive")
	}

	if c.WalletPollInterval <= 0 {
		return fmt.Errorf("WALLET_POLL_INTERVAL must be positive")
	}

	if c.StorageMode != "console" && c.StorageMode != "postgres" {
		return fmt.Errorf("STORAGE_MODE must be 'console' or 'postgres', got %q", c.StorageMode)
	}

	return nil
}

// RequireIdentity checks the settings needed to sign and submit on-chain.
func (c *Config) RequireIdentity() error {
	if strings.TrimSpace(c.BotPrivateKey) == "" {
		return fmt.Errorf("BOT_PRIVATE_KEY is required")
	}
	if c.EscrowAddress == "" {
		return fmt.Errorf("ESCROW_ADDRESS is required")
	}
	return nil
}

// ChainIDBig returns the chain id as a big.Int.
func (c *Config) ChainIDBig() *big.Int {
	return big.NewInt(c.ChainID)
}

// PostgresDSN renders the lib/pq connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPass, c.PostgresDB, c.PostgresSSL)
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}
