package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mvines/burri/service/solana"
	"github.com/mvines/burri/service/temporal"
)

// Config holds all worker configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Process configuration
	LogLevel    string
	MetricsAddr string

	// Solana configuration
	SolanaRPCURLs      []string
	Commitment         rpc.CommitmentType
	KeypairPath        string
	ReferenceAddresses []string

	// Amount selection
	FeeLamports          uint64
	SafetyMarginLamports uint64
	MinAmountLamports    uint64

	// Submission tuning
	MaxSendRetries      int
	RetryBackoff        time.Duration
	MaxRetryBackoff     time.Duration
	BlockhashValidity   time.Duration
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration

	// NATS configuration
	NATSURL string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Scheduling
	RunInterval time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")

	// Solana configuration
	cfg.SolanaRPCURLs = parseList("SOLANA_RPC_URLS")
	if len(cfg.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URLS is required"))
	}
	for i, u := range cfg.SolanaRPCURLs {
		cfg.SolanaRPCURLs[i] = NormalizeURLMoniker(u)
	}

	cfg.Commitment = rpc.CommitmentType(getEnvOrDefault("COMMITMENT", string(rpc.CommitmentConfirmed)))

	cfg.KeypairPath = os.Getenv("KEYPAIR_PATH")
	if cfg.KeypairPath == "" {
		errs = append(errs, fmt.Errorf("KEYPAIR_PATH is required"))
	}

	cfg.ReferenceAddresses = parseList("REFERENCE_ADDRESSES")

	// Amount selection
	var err error
	if cfg.FeeLamports, err = parseUint("FEE_LAMPORTS", solana.DefaultFeeLamports); err != nil {
		errs = append(errs, err)
	}
	if cfg.SafetyMarginLamports, err = parseUint("SAFETY_MARGIN_LAMPORTS", 0); err != nil {
		errs = append(errs, err)
	}
	if cfg.MinAmountLamports, err = parseUint("MIN_AMOUNT_LAMPORTS", 1); err != nil {
		errs = append(errs, err)
	}

	// Submission tuning
	defaults := solana.DefaultSubmitterOptions()
	if cfg.MaxSendRetries, err = parseInt("MAX_SEND_RETRIES", defaults.MaxSendRetries); err != nil {
		errs = append(errs, err)
	}
	if cfg.RetryBackoff, err = parseDuration("RETRY_BACKOFF", defaults.RetryBackoff.String()); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxRetryBackoff, err = parseDuration("MAX_RETRY_BACKOFF", defaults.MaxRetryBackoff.String()); err != nil {
		errs = append(errs, err)
	}
	if cfg.BlockhashValidity, err = parseDuration("BLOCKHASH_VALIDITY", defaults.BlockhashValidity.String()); err != nil {
		errs = append(errs, err)
	}
	if cfg.ConfirmTimeout, err = parseDuration("CONFIRM_TIMEOUT", defaults.ConfirmTimeout.String()); err != nil {
		errs = append(errs, err)
	}
	if cfg.ConfirmPollInterval, err = parseDuration("CONFIRM_POLL_INTERVAL", defaults.ConfirmPollInterval.String()); err != nil {
		errs = append(errs, err)
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "burri-self-transfer")

	if cfg.RunInterval, err = parseDuration("RUN_INTERVAL", "10m"); err != nil {
		errs = append(errs, err)
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for worker initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// submitHeadroom is reserved for the RPC round trips of a submission.
const submitHeadroom = time.Minute

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURLs is required"))
	}

	if c.KeypairPath == "" {
		errs = append(errs, fmt.Errorf("KeypairPath is required"))
	}

	switch c.Commitment {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
	default:
		errs = append(errs, fmt.Errorf("Commitment must be processed, confirmed or finalized, got %q", c.Commitment))
	}

	if c.MaxSendRetries < 0 {
		errs = append(errs, fmt.Errorf("MaxSendRetries cannot be negative"))
	}

	if c.RetryBackoff > c.MaxRetryBackoff {
		errs = append(errs, fmt.Errorf("RetryBackoff (%v) cannot be greater than MaxRetryBackoff (%v)",
			c.RetryBackoff, c.MaxRetryBackoff))
	}

	if c.ConfirmTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmTimeout must be positive"))
	}

	if c.ConfirmPollInterval <= 0 || c.ConfirmPollInterval > c.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be positive and no longer than ConfirmTimeout"))
	}

	// The submit activity is not retried, so a budget it cannot finish in
	// turns every slow run into a lost outcome.
	if budget := c.SubmitterOptions().Budget() + submitHeadroom; budget > temporal.SubmitTimeout {
		errs = append(errs, fmt.Errorf("retry backoff plus ConfirmTimeout (%v with headroom) exceeds the %v submit activity timeout",
			budget, temporal.SubmitTimeout))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.RunInterval < time.Second {
		errs = append(errs, fmt.Errorf("RunInterval must be at least 1 second"))
	}

	// A run that can outlive its interval would always be skipped by the schedule.
	if c.RunInterval < c.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("RunInterval (%v) cannot be shorter than ConfirmTimeout (%v)",
			c.RunInterval, c.ConfirmTimeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// SubmitterOptions returns the retry and confirmation settings for the submitter.
func (c *Config) SubmitterOptions() solana.SubmitterOptions {
	return solana.SubmitterOptions{
		MaxSendRetries:      c.MaxSendRetries,
		RetryBackoff:        c.RetryBackoff,
		MaxRetryBackoff:     c.MaxRetryBackoff,
		BlockhashValidity:   c.BlockhashValidity,
		ConfirmTimeout:      c.ConfirmTimeout,
		ConfirmPollInterval: c.ConfirmPollInterval,
	}
}

// RunnerConfig returns the pipeline settings for one run.
func (c *Config) RunnerConfig() solana.RunnerConfig {
	return solana.RunnerConfig{
		FeeLamports:       c.FeeLamports,
		MarginLamports:    c.SafetyMarginLamports,
		MinAmountLamports: c.MinAmountLamports,
		Submitter:         c.SubmitterOptions(),
	}
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseUint parses a lamport amount from an environment variable or uses a default.
func parseUint(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid amount %q: %w", key, value, err)
	}
	return result, nil
}

// parseList splits a comma-separated environment variable, dropping blanks.
func parseList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
