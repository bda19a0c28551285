package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/splindex/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"
)

// MaxSignaturesPerPage is the largest limit getSignaturesForAddress accepts.
const MaxSignaturesPerPage = 1000

// ErrTransactionNotFound is returned when the node has no record of a signature.
var ErrTransactionNotFound = errors.New("transaction not found")

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// ClientOptions tunes how the client talks to the RPC node.
type ClientOptions struct {
	Commitment  rpc.CommitmentType
	RateLimit   float64       // requests per second across all callers, 0 disables
	MaxAttempts int           // attempts per call including the first
	Backoff     time.Duration // base delay, doubled per attempt
}

// Client lists signatures and fetches decoded transactions.
// It wraps the RPC client with rate limiting, bounded retries and metrics.
type Client struct {
	rpc         RPCClient
	logger      *slog.Logger
	metrics     *metrics.Metrics
	endpoint    string // RPC endpoint identifier for metrics (e.g., "mainnet", rpc host)
	commitment  rpc.CommitmentType
	limiter     *rate.Limiter
	maxAttempts int
	backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new Solana client.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, opts ClientOptions, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentConfirmed
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return &Client{
		rpc:         rpcClient,
		logger:      logger,
		metrics:     m,
		endpoint:    endpoint,
		commitment:  opts.Commitment,
		limiter:     limiter,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		sleep:       sleepContext,
	}
}

// ListSignatures returns up to limit signatures for address, newest first.
// When before is non-empty the page starts strictly after (older than) that
// signature, which is how callers walk history page by page.
func (c *Client) ListSignatures(ctx context.Context, address string, before string, limit int) ([]SignatureInfo, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}
	if limit <= 0 || limit > MaxSignaturesPerPage {
		limit = MaxSignaturesPerPage
	}

	opts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: c.commitment,
	}
	if before != "" {
		sig, err := solana.SignatureFromBase58(before)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor signature %q: %w", before, err)
		}
		opts.Before = sig
	}

	c.logger.DebugContext(ctx, "calling GetSignaturesForAddress",
		"address", address,
		"limit", limit,
		"before", before,
	)

	var signatures []*rpc.TransactionSignature
	err = c.withRetry(ctx, "GetSignaturesForAddress", func(ctx context.Context) error {
		var callErr error
		signatures, callErr = c.rpc.GetSignaturesForAddress(ctx, pubkey, opts)
		return callErr
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"address", address,
			"error", err,
		)
		return nil, fmt.Errorf("failed to list signatures for %s: %w", address, err)
	}

	if c.metrics != nil {
		c.metrics.RecordRPCSignaturesPerCall(c.endpoint, float64(len(signatures)))
	}

	out := make([]SignatureInfo, 0, len(signatures))
	for _, sig := range signatures {
		if sig == nil {
			continue
		}
		out = append(out, signatureToDomain(sig))
	}

	c.logger.DebugContext(ctx, "fetched transaction signatures",
		"address", address,
		"count", len(out),
	)

	return out, nil
}

// GetTransaction fetches and decodes a transaction by signature, including its
// token balance tables and account keys.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	var result *rpc.GetTransactionResult
	err = c.withRetry(ctx, "GetTransaction", func(ctx context.Context) error {
		var callErr error
		result, callErr = c.rpc.GetTransaction(ctx, sig, opts)
		if isLegacyDecodeError(callErr) {
			c.logger.WarnContext(ctx, "could not parse as versioned tx, retrying as legacy",
				"signature", signature,
			)
			if c.metrics != nil {
				c.metrics.RecordRPCRetry("GetTransaction", retryReasonLegacy)
			}
			legacyOpts := &rpc.GetTransactionOpts{
				Encoding:   solana.EncodingBase64,
				Commitment: c.commitment,
			}
			result, callErr = c.rpc.GetTransaction(ctx, sig, legacyOpts)
		}
		return callErr
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && result == nil) {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, signature)
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get transaction",
			"signature", signature,
			"error", err,
		)
		return nil, fmt.Errorf("failed to get transaction %s: %w", signature, err)
	}

	txn := transactionFromResult(signature, result)
	keys, err := accountKeysFromResult(result)
	if err != nil {
		// Balances are still usable; only signer attribution is lost.
		c.logger.WarnContext(ctx, "failed to decode transaction message, account keys unavailable",
			"signature", signature,
			"error", err,
		)
	} else {
		txn.AccountKeys = keys
	}

	c.logger.DebugContext(ctx, "fetched transaction",
		"signature", signature,
		"slot", txn.Slot,
		"block_time", blockTimeOrZero(txn.BlockTime),
		"has_meta", txn.HasMeta,
		"pre_token_balances", len(txn.PreTokenBalances),
		"post_token_balances", len(txn.PostTokenBalances),
	)

	return txn, nil
}

// withRetry runs call until it succeeds, fails with a non-transient error, or
// runs out of attempts. Every attempt waits on the shared rate limiter.
func (c *Client) withRetry(ctx context.Context, method string, call func(ctx context.Context) error) error {
	var err error
	for attempt := range c.maxAttempts {
		if c.limiter != nil {
			if waitErr := c.limiter.Wait(ctx); waitErr != nil {
				return waitErr
			}
		}

		start := time.Now()
		err = call(ctx)
		duration := time.Since(start).Seconds()

		status := "success"
		if err != nil {
			status = "error"
		}
		if c.metrics != nil {
			c.metrics.RecordRPCCall(method, status, c.endpoint, duration)
		}

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}

		transient, reason := classifyError(err)
		if !transient {
			return err
		}
		if attempt == c.maxAttempts-1 {
			break
		}

		backoff := c.backoff << uint(attempt)
		if reason == retryReasonRateLimit {
			backoff *= 2
			if c.metrics != nil {
				c.metrics.RecordRateLimitHit(c.endpoint)
			}
		}
		c.logger.WarnContext(ctx, "rpc call failed, backing off before retry",
			"method", method,
			"attempt", attempt+1,
			"reason", reason,
			"backoff_seconds", backoff.Seconds(),
			"error", err,
		)
		if c.metrics != nil {
			c.metrics.RecordRPCRetry(method, reason)
		}
		if sleepErr := c.sleep(ctx, backoff); sleepErr != nil {
			return sleepErr
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", method, c.maxAttempts, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
