package temporal

import (
	"fmt"
	"time"

	"github.com/brojonat/splindex/service/indexer"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// IndexJobInput describes one indexing job.
type IndexJobInput struct {
	WalletAddress string    `json:"wallet_address"`
	TokenMint     string    `json:"token_mint"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Publish       bool      `json:"publish"`

	// Timeout bounds the index activity. Zero selects DefaultIndexTimeout.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// IndexJobResult is the outcome of IndexTransfersWorkflow.
type IndexJobResult struct {
	WalletAddress string                   `json:"wallet_address"`
	TokenMint     string                   `json:"token_mint"`
	Start         time.Time                `json:"start"`
	End           time.Time                `json:"end"`
	Transfers     []indexer.TransferRecord `json:"transfers"`
	TransferCount int                      `json:"transfer_count"`
	Published     int                      `json:"published"`
	CompletedAt   time.Time                `json:"completed_at"`
}

// DefaultIndexTimeout bounds a single index activity attempt.
const DefaultIndexTimeout = 10 * time.Minute

// IndexTransfersWorkflow indexes a wallet's transfers for one mint and window,
// then optionally publishes them to NATS.
func IndexTransfersWorkflow(ctx workflow.Context, input IndexJobInput) (*IndexJobResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("IndexTransfersWorkflow started",
		"wallet", input.WalletAddress,
		"mint", input.TokenMint,
	)

	if input.End.Before(input.Start) {
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("window end %s is before start %s", input.End, input.Start), "InvalidWindow", nil)
	}

	timeout := input.Timeout
	if timeout <= 0 {
		timeout = DefaultIndexTimeout
	}

	indexCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeInvalidAddress},
		},
	})

	var indexResult *IndexTransfersResult
	err := workflow.ExecuteActivity(indexCtx, a.IndexTransfers, IndexTransfersInput{
		WalletAddress: input.WalletAddress,
		TokenMint:     input.TokenMint,
		Start:         input.Start,
		End:           input.End,
	}).Get(ctx, &indexResult)
	if err != nil {
		logger.Error("failed to index transfers", "wallet", input.WalletAddress, "error", err)
		return nil, fmt.Errorf("failed to index transfers: %w", err)
	}

	result := &IndexJobResult{
		WalletAddress: input.WalletAddress,
		TokenMint:     input.TokenMint,
		Start:         input.Start,
		End:           input.End,
		Transfers:     indexResult.Transfers,
		TransferCount: len(indexResult.Transfers),
	}
	if result.Transfers == nil {
		result.Transfers = []indexer.TransferRecord{}
	}

	if input.Publish && result.TransferCount > 0 {
		publishCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: 2 * time.Minute,
			RetryPolicy: &temporalsdk.RetryPolicy{
				InitialInterval:    time.Second,
				BackoffCoefficient: 2.0,
				MaximumInterval:    30 * time.Second,
				MaximumAttempts:    5,
			},
		})

		var publishResult *PublishTransfersResult
		err = workflow.ExecuteActivity(publishCtx, a.PublishTransfers, PublishTransfersInput{
			WalletAddress: input.WalletAddress,
			TokenMint:     input.TokenMint,
			Transfers:     result.Transfers,
		}).Get(ctx, &publishResult)
		if err != nil {
			logger.Error("failed to publish transfers", "wallet", input.WalletAddress, "error", err)
			return nil, fmt.Errorf("failed to publish transfers: %w", err)
		}
		result.Published = publishResult.Published
	}

	result.CompletedAt = workflow.Now(ctx)
	logger.Info("IndexTransfersWorkflow completed",
		"wallet", input.WalletAddress,
		"transfers", result.TransferCount,
		"published", result.Published,
	)
	return result, nil
}
