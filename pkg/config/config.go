package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the sidechain node.
type Config struct {
	// Chain identity
	ChainID string

	// Block production
	AutosaveIntervalMS int           // how often the ledger's pending transactions are flushed into a new block
	JSVMTimeout        time.Duration // per-action execution wall-clock bound

	// Networking
	P2PPort      int
	ListenAddr   string
	MetricsAddr  string
	StreamNodes  []string // peer witness endpoints dialed at startup

	// Witness identity (absence of either disables the round coordinator)
	Account          string
	ActiveSigningKey string
	SigningKeyPath   string

	// ActiveBLSKey is optional: when set, the node additionally produces and
	// verifies BLS12-381 companion signatures over round hashes. Absence
	// just disables the companion artifact, not witness participation.
	ActiveBLSKey string

	// Anchor chain submission
	AnchorEndpoints []string
	AnchorAccount   string

	// Database (read-model mirror)
	DBHost            string
	DBPort            int
	DBUser            string
	DBPassword        string
	DBName            string
	DBSSLMode         string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Storage
	DataDir string

	LogLevel string
}

// Load reads configuration from environment variables, following the
// variable names fixed by the external interface: chainId, p2pPort,
// streamNodes, ACCOUNT, ACTIVE_SIGNING_KEY.
func Load() (*Config, error) {
	cfg := &Config{
		ChainID: getEnv("CHAIN_ID", "sidechain-devnet"),

		AutosaveIntervalMS: getEnvInt("AUTOSAVE_INTERVAL_MS", 3000),
		JSVMTimeout:        getEnvDuration("JS_VM_TIMEOUT", 10*time.Second),

		P2PPort:     getEnvInt("P2P_PORT", 5568),
		ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),
		StreamNodes: parseList(getEnv("STREAM_NODES", "")),

		Account:          getEnv("ACCOUNT", ""),
		ActiveSigningKey: getEnv("ACTIVE_SIGNING_KEY", ""),
		SigningKeyPath:   getEnv("SIGNING_KEY_PATH", ""),
		ActiveBLSKey:     getEnv("ACTIVE_BLS_KEY", ""),

		AnchorEndpoints: parseList(getEnv("ANCHOR_ENDPOINTS", "")),
		AnchorAccount:   getEnv("ANCHOR_ACCOUNT", ""),

		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnvInt("DB_PORT", 5432),
		DBUser:            getEnv("DB_USER", "sidechain"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBName:            getEnv("DB_NAME", "sidechain_node"),
		DBSSLMode:         getEnv("DB_SSL_MODE", "require"),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),

		DataDir: getEnv("DATA_DIR", "./data"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate checks that configuration required to run as a full witness is
// present. A node missing Account/ActiveSigningKey can still run as a
// read-only ledger/executor without participating in round agreement.
func (c *Config) Validate() error {
	var errs []string

	if c.ChainID == "" {
		errs = append(errs, "CHAIN_ID is required but not set")
	}

	if c.IsWitness() {
		if len(c.ActiveSigningKey) != 64 {
			errs = append(errs, "ACTIVE_SIGNING_KEY must be a 64-char hex secp256k1 private key")
		}
		if c.ActiveBLSKey != "" && len(c.ActiveBLSKey) != 64 {
			errs = append(errs, "ACTIVE_BLS_KEY, if set, must be a 64-char hex BLS12-381 scalar")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsWitness reports whether this node is configured to participate in round
// agreement rather than run purely as a passive ledger mirror.
func (c *Config) IsWitness() bool {
	return c.Account != "" && c.ActiveSigningKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// parseList parses a comma-separated environment value into a trimmed,
// empty-entry-free slice.
func parseList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
