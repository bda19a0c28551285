package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/splindex/service/indexer"
	"github.com/brojonat/splindex/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// USDCMainnetMint is the default token mint.
const USDCMainnetMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// NATS configuration, empty disables publishing
	NATSURL string

	// Solana configuration
	SolanaRPCURLs    []string
	SolanaCommitment rpc.CommitmentType
	TokenMintAddress string

	// RPC client tuning
	RPCRateLimit   float64
	RPCMaxAttempts int
	RPCBackoff     time.Duration

	// Indexing configuration
	MaxSignatures     int
	SignaturePageSize int
	FetchConcurrency  int
	AttributionPolicy indexer.Policy
	EarlyExit         bool
	IndexTimeout      time.Duration

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// WorkerMaxConcurrentActivities bounds concurrent index runs per worker.
	WorkerMaxConcurrentActivities int
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error listing every missing or invalid setting.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.NATSURL = os.Getenv("NATS_URL")

	cfg.SolanaRPCURLs = splitList(os.Getenv("SOLANA_RPC_URLS"))
	if len(cfg.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URLS is required"))
	}
	cfg.SolanaCommitment = rpc.CommitmentType(getEnvOrDefault("SOLANA_COMMITMENT", string(rpc.CommitmentConfirmed)))
	cfg.TokenMintAddress = getEnvOrDefault("TOKEN_MINT_ADDRESS", USDCMainnetMint)

	var err error
	if cfg.RPCRateLimit, err = parseFloat("RPC_RATE_LIMIT", 5); err != nil {
		errs = append(errs, err)
	}
	if cfg.RPCMaxAttempts, err = parseInt("RPC_MAX_ATTEMPTS", 3); err != nil {
		errs = append(errs, err)
	}
	if cfg.RPCBackoff, err = parseDuration("RPC_BACKOFF", "1s"); err != nil {
		errs = append(errs, err)
	}

	if cfg.MaxSignatures, err = parseInt("MAX_SIGNATURES", indexer.DefaultMaxSignatures); err != nil {
		errs = append(errs, err)
	}
	if cfg.SignaturePageSize, err = parseInt("SIGNATURE_PAGE_SIZE", indexer.DefaultPageSize); err != nil {
		errs = append(errs, err)
	}
	if cfg.FetchConcurrency, err = parseInt("FETCH_CONCURRENCY", indexer.DefaultConcurrency); err != nil {
		errs = append(errs, err)
	}
	if cfg.AttributionPolicy, err = indexer.ParsePolicy(os.Getenv("ATTRIBUTION_POLICY")); err != nil {
		errs = append(errs, fmt.Errorf("ATTRIBUTION_POLICY: %w", err))
	}
	if cfg.EarlyExit, err = parseBool("EARLY_EXIT", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.IndexTimeout, err = parseDuration("INDEX_TIMEOUT", "10m"); err != nil {
		errs = append(errs, err)
	}

	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "splindex-indexing")
	if cfg.WorkerMaxConcurrentActivities, err = parseInt("WORKER_MAX_CONCURRENT_ACTIVITIES", 4); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURLs is required"))
	}

	switch c.SolanaCommitment {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
	default:
		errs = append(errs, fmt.Errorf("SolanaCommitment must be processed, confirmed or finalized, got %q", c.SolanaCommitment))
	}

	if _, err := solanago.PublicKeyFromBase58(c.TokenMintAddress); err != nil {
		errs = append(errs, fmt.Errorf("TokenMintAddress %q is not a valid address: %w", c.TokenMintAddress, err))
	}

	if c.RPCRateLimit < 0 {
		errs = append(errs, fmt.Errorf("RPCRateLimit cannot be negative"))
	}
	if c.RPCMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RPCMaxAttempts must be at least 1"))
	}
	if c.RPCBackoff < 0 {
		errs = append(errs, fmt.Errorf("RPCBackoff cannot be negative"))
	}

	if c.MaxSignatures < 1 {
		errs = append(errs, fmt.Errorf("MaxSignatures must be at least 1"))
	}
	if c.SignaturePageSize < 1 || c.SignaturePageSize > solana.MaxSignaturesPerPage {
		errs = append(errs, fmt.Errorf("SignaturePageSize must be between 1 and %d", solana.MaxSignaturesPerPage))
	}
	if c.FetchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("FetchConcurrency must be at least 1"))
	}
	if _, err := indexer.ParsePolicy(string(c.AttributionPolicy)); err != nil {
		errs = append(errs, err)
	}
	if c.IndexTimeout < time.Second {
		errs = append(errs, fmt.Errorf("IndexTimeout must be at least 1 second"))
	}

	if c.WorkerMaxConcurrentActivities < 1 {
		errs = append(errs, fmt.Errorf("WorkerMaxConcurrentActivities must be at least 1"))
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

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// IndexerOptions maps the indexing settings onto indexer.Options.
func (c *Config) IndexerOptions() indexer.Options {
	return indexer.Options{
		MaxSignatures: c.MaxSignatures,
		PageSize:      c.SignaturePageSize,
		Concurrency:   c.FetchConcurrency,
		Policy:        c.AttributionPolicy,
		EarlyExit:     c.EarlyExit,
	}
}

// ClientOptions maps the RPC settings onto solana.ClientOptions.
func (c *Config) ClientOptions() solana.ClientOptions {
	return solana.ClientOptions{
		Commitment:  c.SolanaCommitment,
		RateLimit:   c.RPCRateLimit,
		MaxAttempts: c.RPCMaxAttempts,
		Backoff:     c.RPCBackoff,
	}
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
