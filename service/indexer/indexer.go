package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/splindex/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidAddress is returned when the wallet or mint is not a valid
// base58 public key.
var ErrInvalidAddress = errors.New("invalid address")

const (
	DefaultMaxSignatures = 5000
	DefaultPageSize      = solana.MaxSignaturesPerPage
	DefaultConcurrency   = 4
)

// SignatureLister returns one page of an address's signature history, newest
// first, starting after the before cursor when it is non-empty.
type SignatureLister interface {
	ListSignatures(ctx context.Context, address string, before string, limit int) ([]solana.SignatureInfo, error)
}

// TransactionFetcher returns a decoded transaction by signature.
type TransactionFetcher interface {
	GetTransaction(ctx context.Context, signature string) (*solana.Transaction, error)
}

// Options configures an Indexer. Zero values select the defaults.
type Options struct {
	MaxSignatures int    // hard cap on signatures examined per call
	PageSize      int    // signatures requested per list call, at most 1000
	Concurrency   int    // concurrent transaction fetches
	Policy        Policy // attribution policy
	EarlyExit     bool   // stop listing at the first block time before start
}

// Indexer builds transfer ledgers from a wallet's signature history.
type Indexer struct {
	lister  SignatureLister
	fetcher TransactionFetcher
	opts    Options
	obs     Observer
	logger  *slog.Logger
}

// New creates an Indexer. obs and logger may be nil.
func New(lister SignatureLister, fetcher TransactionFetcher, opts Options, obs Observer, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	if obs == nil {
		obs = NopObserver{}
	}
	if opts.MaxSignatures <= 0 {
		opts.MaxSignatures = DefaultMaxSignatures
	}
	if opts.PageSize <= 0 || opts.PageSize > solana.MaxSignaturesPerPage {
		opts.PageSize = DefaultPageSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Policy == "" {
		opts.Policy = DefaultPolicy
	}

	return &Indexer{
		lister:  lister,
		fetcher: fetcher,
		opts:    opts,
		obs:     obs,
		logger:  logger,
	}
}

// Options returns the effective options after defaults were applied.
func (ix *Indexer) Options() Options {
	return ix.opts
}

// candidate is an in-range signature awaiting fetch, at its list position.
type candidate struct {
	signature string
	blockTime time.Time
}

// IndexTransfers returns the transfers of mint attributed to wallet whose
// block time lies in [start, end]. Records are in signature list order,
// newest transaction first. The whole call fails on the first list or fetch
// error; the returned slice is never nil on success.
func (ix *Indexer) IndexTransfers(ctx context.Context, wallet, mint string, start, end time.Time) ([]TransferRecord, error) {
	if _, err := solanago.PublicKeyFromBase58(wallet); err != nil {
		return nil, fmt.Errorf("%w: wallet %q: %v", ErrInvalidAddress, wallet, err)
	}
	if _, err := solanago.PublicKeyFromBase58(mint); err != nil {
		return nil, fmt.Errorf("%w: mint %q: %v", ErrInvalidAddress, mint, err)
	}

	ix.logger.DebugContext(ctx, "indexing transfers",
		"wallet", wallet,
		"mint", mint,
		"start", start,
		"end", end,
		"policy", string(ix.opts.Policy),
	)

	candidates, err := ix.collectCandidates(ctx, wallet, start, end)
	if err != nil {
		return nil, err
	}

	results := make([][]TransferRecord, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tx, err := ix.fetcher.GetTransaction(gctx, c.signature)
			if err != nil {
				return fmt.Errorf("failed to fetch transaction %s: %w", c.signature, err)
			}
			ix.obs.TransactionFetched(wallet, c.signature)

			records := Reconcile(tx, wallet, mint, ix.opts.Policy, ix.obs)
			for j := range records {
				records[j].Timestamp = c.blockTime
			}
			results[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]TransferRecord, 0, len(candidates))
	for _, records := range results {
		out = append(out, records...)
	}

	ix.logger.InfoContext(ctx, "indexed transfers",
		"wallet", wallet,
		"mint", mint,
		"candidates", len(candidates),
		"transfers", len(out),
	)
	return out, nil
}

// collectCandidates walks the signature history page by page and returns the
// signatures whose block time is in the window, in list order.
func (ix *Indexer) collectCandidates(ctx context.Context, wallet string, start, end time.Time) ([]candidate, error) {
	var (
		candidates []candidate
		before     string
		examined   int
	)

	for examined < ix.opts.MaxSignatures {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		limit := min(ix.opts.PageSize, ix.opts.MaxSignatures-examined)
		page, err := ix.lister.ListSignatures(ctx, wallet, before, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list signatures for %s: %w", wallet, err)
		}
		if len(page) > limit {
			page = page[:limit]
		}
		ix.obs.SignaturesListed(wallet, len(page))
		examined += len(page)

		for _, sig := range page {
			if sig.BlockTime == nil {
				ix.obs.SignatureSkipped(wallet, sig.Signature, SkipNoBlockTime)
				continue
			}
			if ix.opts.EarlyExit && sig.BlockTime.Before(start) {
				ix.logger.DebugContext(ctx, "reached signatures older than window start",
					"wallet", wallet,
					"signature", sig.Signature,
				)
				return candidates, nil
			}
			if sig.Err != nil {
				ix.obs.SignatureSkipped(wallet, sig.Signature, SkipFailed)
				continue
			}
			if !InRange(*sig.BlockTime, start, end) {
				ix.obs.SignatureSkipped(wallet, sig.Signature, SkipOutOfWindow)
				continue
			}
			candidates = append(candidates, candidate{
				signature: sig.Signature,
				blockTime: sig.BlockTime.UTC(),
			})
		}

		if len(page) < limit {
			return candidates, nil
		}
		before = page[len(page)-1].Signature
	}

	ix.obs.HistoryTruncated(wallet, ix.opts.MaxSignatures)
	return candidates, nil
}
