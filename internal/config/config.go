package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	// Store settings
	DBPath   string
	LogLevel string

	// Sync engine settings
	SyncInterval  time.Duration
	BatchSize     int
	BatchDelay    time.Duration
	ThrottlePause time.Duration
	DefaultFolder string

	// Retry settings
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Notifier settings
	WebhookURL     string
	WebhookTimeout time.Duration

	// Provider error signatures; upstream error text varies by provider so
	// these are configuration, not constants.
	AuthPatterns      []string
	ThrottlePatterns  []string
	NotFoundPatterns  []string
	TransientPatterns []string

	// Accounts seeded into the store at boot
	Accounts []AccountConfig
}

// AccountConfig holds configuration for a single email account
type AccountConfig struct {
	Name         string
	UserID       string
	IMAPHost     string
	IMAPPort     int
	IMAPUsername string
	IMAPPassword string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DBPath:        getEnv("DB_PATH", "/data/mailsync.db"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		SyncInterval:  getEnvDuration("SYNC_INTERVAL", 2*time.Minute),
		BatchSize:     getEnvInt("SYNC_BATCH_SIZE", 50),
		BatchDelay:    getEnvDuration("SYNC_BATCH_DELAY", time.Second),
		ThrottlePause: getEnvDuration("SYNC_THROTTLE_PAUSE", 5*time.Second),
		DefaultFolder: getEnv("SYNC_DEFAULT_FOLDER", "INBOX"),

		MaxRetries: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		BaseDelay:  getEnvDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		MaxDelay:   getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),

		WebhookURL:     getEnv("NOTIFY_WEBHOOK_URL", ""),
		WebhookTimeout: getEnvDuration("NOTIFY_WEBHOOK_TIMEOUT", 10*time.Second),

		AuthPatterns: getEnvList("ERROR_AUTH_PATTERNS", []string{
			"not authenticated",
			"authentication failed",
			"authenticationfailed",
			"invalid credentials",
			"login failed",
			"unauthorized",
		}),
		ThrottlePatterns: getEnvList("ERROR_THROTTLE_PATTERNS", []string{
			"too many requests",
			"rate limit",
			"throttl",
			"try again later",
			"overquota",
		}),
		NotFoundPatterns: getEnvList("ERROR_NOTFOUND_PATTERNS", []string{
			"unknown mailbox",
			"mailbox does not exist",
			"no such mailbox",
			"nonexistent",
		}),
		TransientPatterns: getEnvList("ERROR_TRANSIENT_PATTERNS", []string{
			"connection reset",
			"connection closed",
			"broken pipe",
			"i/o timeout",
			"unexpected eof",
			"use of closed network connection",
		}),
	}

	// Accounts are optional at boot: they may already live in the store,
	// or arrive later through it.
	accounts, err := loadAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	cfg.Accounts = accounts

	return cfg, nil
}

// loadAccounts loads email account configurations from environment variables
func loadAccounts() ([]AccountConfig, error) {
	var accounts []AccountConfig

	// Single account configuration
	if getEnv("IMAP_HOST", "") != "" {
		account, err := loadSingleAccount()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
		return accounts, nil
	}

	// Multiple accounts (ACCOUNT_1_*, ACCOUNT_2_*, etc.)
	accountNum := 1
	for {
		account, err := loadAccountByNumber(accountNum)
		if err != nil {
			break // No more accounts
		}
		accounts = append(accounts, *account)
		accountNum++
	}

	return accounts, nil
}

// loadSingleAccount loads a single account from environment variables
func loadSingleAccount() (*AccountConfig, error) {
	imapHost := getEnv("IMAP_HOST", "")
	imapPort := getEnvInt("IMAP_PORT", 993)
	imapUsername := getEnv("IMAP_USERNAME", "")
	imapPassword := getEnv("IMAP_PASSWORD", "")

	if imapUsername == "" || imapPassword == "" {
		return nil, fmt.Errorf("IMAP_USERNAME and IMAP_PASSWORD are required")
	}

	name := getEnv("ACCOUNT_NAME", "default")

	return &AccountConfig{
		Name:         name,
		UserID:       getEnv("ACCOUNT_USER_ID", ""),
		IMAPHost:     imapHost,
		IMAPPort:     imapPort,
		IMAPUsername: imapUsername,
		IMAPPassword: imapPassword,
	}, nil
}

// loadAccountByNumber loads an account by number (ACCOUNT_1_*, ACCOUNT_2_*, etc.)
func loadAccountByNumber(num int) (*AccountConfig, error) {
	prefix := fmt.Sprintf("ACCOUNT_%d_", num)

	name := getEnv(prefix+"NAME", "")
	if name == "" {
		return nil, fmt.Errorf("account %d: NAME is required", num)
	}

	imapHost := getEnv(prefix+"IMAP_HOST", "")
	imapPort := getEnvInt(prefix+"IMAP_PORT", 993)
	imapUsername := getEnv(prefix+"IMAP_USERNAME", "")
	imapPassword := getEnv(prefix+"IMAP_PASSWORD", "")

	if imapHost == "" {
		return nil, fmt.Errorf("account %d: IMAP_HOST is required", num)
	}
	if imapUsername == "" || imapPassword == "" {
		return nil, fmt.Errorf("account %d: IMAP_USERNAME and IMAP_PASSWORD are required", num)
	}

	return &AccountConfig{
		Name:         name,
		UserID:       getEnv(prefix+"USER_ID", ""),
		IMAPHost:     imapHost,
		IMAPPort:     imapPort,
		IMAPUsername: imapUsername,
		IMAPPassword: imapPassword,
	}, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as a duration or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList gets a comma-separated environment variable as a string slice
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be at least 1")
	}
	if c.SyncInterval < time.Second {
		return fmt.Errorf("SYNC_INTERVAL must be at least 1s")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must not be negative")
	}

	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.IMAPHost == "" {
			return fmt.Errorf("account %s: IMAP_HOST is required", acc.Name)
		}
		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid IMAP_PORT", acc.Name)
		}
	}

	return nil
}
