package config

import (
	"testing"
	"time"

	"github.com/brojonat/splindex/service/indexer"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment can't leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVER_ADDR", "METRICS_ADDR", "LOG_LEVEL", "NATS_URL",
		"SOLANA_RPC_URLS", "SOLANA_COMMITMENT", "TOKEN_MINT_ADDRESS",
		"RPC_RATE_LIMIT", "RPC_MAX_ATTEMPTS", "RPC_BACKOFF",
		"MAX_SIGNATURES", "SIGNATURE_PAGE_SIZE", "FETCH_CONCURRENCY",
		"ATTRIBUTION_POLICY", "EARLY_EXIT", "INDEX_TIMEOUT",
		"TEMPORAL_HOST", "TEMPORAL_NAMESPACE", "TEMPORAL_TASK_QUEUE",
		"WORKER_MAX_CONCURRENT_ACTIVITIES",
	} {
		t.Setenv(key, "")
	}
}

func validConfig() *Config {
	return &Config{
		SolanaRPCURLs:     []string{"https://api.mainnet-beta.solana.com"},
		SolanaCommitment:  rpc.CommitmentConfirmed,
		TokenMintAddress:  USDCMainnetMint,
		RPCRateLimit:      5,
		RPCMaxAttempts:    3,
		RPCBackoff:        time.Second,
		MaxSignatures:     5000,
		SignaturePageSize: 1000,
		FetchConcurrency:  4,
		AttributionPolicy: indexer.PolicyOwnerOrSigner,
		IndexTimeout:      10 * time.Minute,
		TemporalHost:      "localhost:7233",
		TemporalNamespace: "default",
		TemporalTaskQueue: "splindex-indexing",

		WorkerMaxConcurrentActivities: 4,
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOLANA_RPC_URLS", "https://api.mainnet-beta.solana.com")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, []string{"https://api.mainnet-beta.solana.com"}, cfg.SolanaRPCURLs)
	assert.Equal(t, rpc.CommitmentConfirmed, cfg.SolanaCommitment)
	assert.Equal(t, USDCMainnetMint, cfg.TokenMintAddress)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, 5.0, cfg.RPCRateLimit)
	assert.Equal(t, 3, cfg.RPCMaxAttempts)
	assert.Equal(t, time.Second, cfg.RPCBackoff)
	assert.Equal(t, 5000, cfg.MaxSignatures)
	assert.Equal(t, 1000, cfg.SignaturePageSize)
	assert.Equal(t, 4, cfg.FetchConcurrency)
	assert.Equal(t, indexer.PolicyOwnerOrSigner, cfg.AttributionPolicy)
	assert.False(t, cfg.EarlyExit)
	assert.Equal(t, 10*time.Minute, cfg.IndexTimeout)
	assert.Equal(t, "splindex-indexing", cfg.TemporalTaskQueue)
	assert.Equal(t, 4, cfg.WorkerMaxConcurrentActivities)
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOLANA_RPC_URLS", " https://a.example.com , ,https://b.example.com")
	t.Setenv("SOLANA_COMMITMENT", "finalized")
	t.Setenv("TOKEN_MINT_ADDRESS", "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB")
	t.Setenv("NATS_URL", "nats://nats.example.com:4222")
	t.Setenv("RPC_RATE_LIMIT", "2.5")
	t.Setenv("MAX_SIGNATURES", "200")
	t.Setenv("SIGNATURE_PAGE_SIZE", "100")
	t.Setenv("FETCH_CONCURRENCY", "8")
	t.Setenv("ATTRIBUTION_POLICY", "owner")
	t.Setenv("EARLY_EXIT", "true")
	t.Setenv("INDEX_TIMEOUT", "2m")
	t.Setenv("TEMPORAL_HOST", "temporal.example.com:7233")
	t.Setenv("WORKER_MAX_CONCURRENT_ACTIVITIES", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.SolanaRPCURLs)
	assert.Equal(t, rpc.CommitmentFinalized, cfg.SolanaCommitment)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, 2.5, cfg.RPCRateLimit)
	assert.Equal(t, indexer.PolicyOwner, cfg.AttributionPolicy)
	assert.True(t, cfg.EarlyExit)
	assert.Equal(t, 2*time.Minute, cfg.IndexTimeout)
	assert.Equal(t, "temporal.example.com:7233", cfg.TemporalHost)
	assert.Equal(t, 2, cfg.WorkerMaxConcurrentActivities)

	opts := cfg.IndexerOptions()
	assert.Equal(t, indexer.Options{
		MaxSignatures: 200,
		PageSize:      100,
		Concurrency:   8,
		Policy:        indexer.PolicyOwner,
		EarlyExit:     true,
	}, opts)

	clientOpts := cfg.ClientOptions()
	assert.Equal(t, rpc.CommitmentFinalized, clientOpts.Commitment)
	assert.Equal(t, 2.5, clientOpts.RateLimit)
	assert.Equal(t, 3, clientOpts.MaxAttempts)
}

func TestLoad_MissingRPCURLs(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "SOLANA_RPC_URLS is required")
}

func TestLoad_CollectsAllErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_SIGNATURES", "lots")
	t.Setenv("RPC_BACKOFF", "soon")
	t.Setenv("ATTRIBUTION_POLICY", "signer-only")
	t.Setenv("EARLY_EXIT", "maybe")
	t.Setenv("WORKER_MAX_CONCURRENT_ACTIVITIES", "many")

	_, err := Load()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "SOLANA_RPC_URLS is required")
	assert.Contains(t, msg, "MAX_SIGNATURES: invalid integer")
	assert.Contains(t, msg, "RPC_BACKOFF: invalid duration")
	assert.Contains(t, msg, "ATTRIBUTION_POLICY")
	assert.Contains(t, msg, "EARLY_EXIT: invalid boolean")
	assert.Contains(t, msg, "WORKER_MAX_CONCURRENT_ACTIVITIES: invalid integer")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no rpc urls", mutate: func(c *Config) { c.SolanaRPCURLs = nil }, want: "SolanaRPCURLs is required"},
		{name: "bad commitment", mutate: func(c *Config) { c.SolanaCommitment = "max" }, want: "SolanaCommitment"},
		{name: "bad mint", mutate: func(c *Config) { c.TokenMintAddress = "usdc" }, want: "TokenMintAddress"},
		{name: "page too large", mutate: func(c *Config) { c.SignaturePageSize = 1001 }, want: "SignaturePageSize must be between 1 and 1000"},
		{name: "zero concurrency", mutate: func(c *Config) { c.FetchConcurrency = 0 }, want: "FetchConcurrency must be at least 1"},
		{name: "zero max signatures", mutate: func(c *Config) { c.MaxSignatures = 0 }, want: "MaxSignatures must be at least 1"},
		{name: "zero attempts", mutate: func(c *Config) { c.RPCMaxAttempts = 0 }, want: "RPCMaxAttempts must be at least 1"},
		{name: "unknown policy", mutate: func(c *Config) { c.AttributionPolicy = "anyone" }, want: "unknown attribution policy"},
		{name: "short timeout", mutate: func(c *Config) { c.IndexTimeout = time.Millisecond }, want: "IndexTimeout must be at least 1 second"},
		{name: "zero worker activities", mutate: func(c *Config) { c.WorkerMaxConcurrentActivities = 0 }, want: "WorkerMaxConcurrentActivities must be at least 1"},
		{name: "no task queue", mutate: func(c *Config) { c.TemporalTaskQueue = "" }, want: "TemporalTaskQueue is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMustLoad_Panics(t *testing.T) {
	clearEnv(t)

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOLANA_RPC_URLS", "https://api.mainnet-beta.solana.com")

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}
