package indexer

import (
	"log/slog"

	"github.com/brojonat/splindex/service/metrics"
)

// SkipReason labels why a signature, transaction or balance entry produced
// no record.
type SkipReason string

const (
	SkipNoBlockTime SkipReason = "no_block_time"
	SkipFailed      SkipReason = "failed_transaction"
	SkipOutOfWindow SkipReason = "out_of_window"
	SkipNoMeta      SkipReason = "no_meta"
	SkipNoOwner     SkipReason = "no_owner"
)

// Observer receives diagnostics from the indexing pipeline. Calls are side
// effects only and never change what is produced. Implementations must be
// safe for concurrent use.
type Observer interface {
	SignaturesListed(wallet string, count int)
	SignatureSkipped(wallet, signature string, reason SkipReason)
	HistoryTruncated(wallet string, limit int)
	TransactionFetched(wallet, signature string)
	TransactionSkipped(wallet, signature string, reason SkipReason)
	EntrySkipped(wallet, signature string, accountIndex uint16, reason SkipReason)
	TransferFound(wallet string, record TransferRecord)
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) SignaturesListed(string, int)                    {}
func (NopObserver) SignatureSkipped(string, string, SkipReason)     {}
func (NopObserver) HistoryTruncated(string, int)                    {}
func (NopObserver) TransactionFetched(string, string)               {}
func (NopObserver) TransactionSkipped(string, string, SkipReason)   {}
func (NopObserver) EntrySkipped(string, string, uint16, SkipReason) {}
func (NopObserver) TransferFound(string, TransferRecord)            {}

// LogObserver writes diagnostics to a structured logger and, when metrics
// are configured, to Prometheus.
type LogObserver struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewLogObserver returns an observer backed by logger and m. m may be nil.
func NewLogObserver(logger *slog.Logger, m *metrics.Metrics) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger, metrics: m}
}

func (o *LogObserver) SignaturesListed(wallet string, count int) {
	o.logger.Debug("listed signatures", "wallet", wallet, "count", count)
	if o.metrics != nil {
		o.metrics.RecordSignaturesListed(wallet, count)
	}
}

func (o *LogObserver) SignatureSkipped(wallet, signature string, reason SkipReason) {
	// out of window is the common case, keep it quiet
	if reason == SkipOutOfWindow {
		o.logger.Debug("signature outside window", "wallet", wallet, "signature", signature)
	} else {
		o.logger.Info("skipping signature", "wallet", wallet, "signature", signature, "reason", string(reason))
	}
	if o.metrics != nil {
		o.metrics.RecordSignatureSkipped(wallet, string(reason))
	}
}

func (o *LogObserver) HistoryTruncated(wallet string, limit int) {
	o.logger.Warn("signature history truncated, older transfers were not indexed",
		"wallet", wallet,
		"max_signatures", limit,
	)
	if o.metrics != nil {
		o.metrics.RecordHistoryTruncated(wallet)
	}
}

func (o *LogObserver) TransactionFetched(wallet, signature string) {
	o.logger.Debug("fetched transaction", "wallet", wallet, "signature", signature)
	if o.metrics != nil {
		o.metrics.RecordTransactionFetched(wallet)
	}
}

func (o *LogObserver) TransactionSkipped(wallet, signature string, reason SkipReason) {
	o.logger.Warn("transaction has no usable metadata",
		"wallet", wallet,
		"signature", signature,
		"reason", string(reason),
	)
	if o.metrics != nil {
		o.metrics.RecordBalanceEntrySkipped(wallet, string(reason))
	}
}

func (o *LogObserver) EntrySkipped(wallet, signature string, accountIndex uint16, reason SkipReason) {
	o.logger.Info("skipping token balance entry",
		"wallet", wallet,
		"signature", signature,
		"account_index", accountIndex,
		"reason", string(reason),
	)
	if o.metrics != nil {
		o.metrics.RecordBalanceEntrySkipped(wallet, string(reason))
	}
}

func (o *LogObserver) TransferFound(wallet string, record TransferRecord) {
	o.logger.Debug("transfer found",
		"wallet", wallet,
		"signature", record.Signature,
		"direction", record.Direction.String(),
		"amount", record.Amount.String(),
		"account_index", record.AccountIndex,
	)
	if o.metrics != nil {
		o.metrics.RecordTransferFound(wallet, record.Direction.String())
	}
}
