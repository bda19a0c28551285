package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/splindex/service/indexer"
	"github.com/brojonat/splindex/service/metrics"
	natspkg "github.com/brojonat/splindex/service/nats"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// ErrTypeInvalidAddress is the application error type for malformed wallet or
// mint input. Retrying it can never succeed.
const ErrTypeInvalidAddress = "InvalidAddress"

// IndexTransfersInput contains parameters for the IndexTransfers activity.
type IndexTransfersInput struct {
	WalletAddress string    `json:"wallet_address"`
	TokenMint     string    `json:"token_mint"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
}

// IndexTransfersResult contains the transfers found for the window.
type IndexTransfersResult struct {
	Transfers []indexer.TransferRecord `json:"transfers"`
}

// PublishTransfersInput contains parameters for the PublishTransfers activity.
type PublishTransfersInput struct {
	WalletAddress string                   `json:"wallet_address"`
	TokenMint     string                   `json:"token_mint"`
	Transfers     []indexer.TransferRecord `json:"transfers"`
}

// PublishTransfersResult contains the result of publishing transfers.
type PublishTransfersResult struct {
	Published int `json:"published"`
}

// TransferIndexer is the indexing operation the activities need.
type TransferIndexer interface {
	IndexTransfers(ctx context.Context, wallet, mint string, start, end time.Time) ([]indexer.TransferRecord, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
type PublisherInterface interface {
	PublishTransferBatch(ctx context.Context, events []*natspkg.TransferEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	indexer   TransferIndexer
	publisher PublisherInterface // nil disables publishing
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// publisher and m may be nil.
func NewActivities(idx TransferIndexer, publisher PublisherInterface, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		indexer:   idx,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// IndexTransfers runs the indexer over the requested window.
func (a *Activities) IndexTransfers(ctx context.Context, input IndexTransfersInput) (*IndexTransfersResult, error) {
	start := time.Now()
	status := "success"
	defer func() {
		if a.metrics != nil {
			elapsed := time.Since(start).Seconds()
			a.metrics.RecordActivityDuration("IndexTransfers", input.WalletAddress, elapsed)
			a.metrics.RecordIndexRun(status, elapsed)
		}
	}()

	a.logger.InfoContext(ctx, "indexing transfers",
		"wallet", input.WalletAddress,
		"mint", input.TokenMint,
		"start", input.Start,
		"end", input.End,
		"attempt", activity.GetInfo(ctx).Attempt,
	)

	records, err := a.indexer.IndexTransfers(ctx, input.WalletAddress, input.TokenMint, input.Start, input.End)
	if err != nil {
		status = "error"
		a.logger.ErrorContext(ctx, "failed to index transfers",
			"wallet", input.WalletAddress,
			"error", err,
		)
		if errors.Is(err, indexer.ErrInvalidAddress) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidAddress, err)
		}
		return nil, fmt.Errorf("failed to index transfers: %w", err)
	}

	a.logger.InfoContext(ctx, "indexed transfers",
		"wallet", input.WalletAddress,
		"count", len(records),
	)
	return &IndexTransfersResult{Transfers: records}, nil
}

// PublishTransfers publishes transfer records to NATS. It is a no-op when no
// publisher is configured.
func (a *Activities) PublishTransfers(ctx context.Context, input PublishTransfersInput) (*PublishTransfersResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("PublishTransfers", input.WalletAddress, time.Since(start).Seconds())
		}
	}()

	if a.publisher == nil {
		a.logger.WarnContext(ctx, "no publisher configured, skipping publish",
			"wallet", input.WalletAddress,
			"count", len(input.Transfers),
		)
		return &PublishTransfersResult{}, nil
	}
	if len(input.Transfers) == 0 {
		return &PublishTransfersResult{}, nil
	}

	events := natspkg.FromTransferRecords(input.WalletAddress, input.TokenMint, input.Transfers)
	if err := a.publisher.PublishTransferBatch(ctx, events); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish transfers",
			"wallet", input.WalletAddress,
			"error", err,
		)
		return nil, fmt.Errorf("failed to publish transfers: %w", err)
	}

	a.logger.InfoContext(ctx, "published transfers",
		"wallet", input.WalletAddress,
		"count", len(events),
	)
	return &PublishTransfersResult{Published: len(events)}, nil
}
