package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/splindex/service/indexer"
	"github.com/shopspring/decimal"
)

// TransferEvent is a transfer record published to "transfers.{wallet_address}".
type TransferEvent struct {
	Signature     string `json:"signature"`
	WalletAddress string `json:"wallet_address"`
	TokenMint     string `json:"token_mint"`

	Direction    string          `json:"direction"`
	Amount       decimal.Decimal `json:"amount"`
	Counterparty *string         `json:"counterparty,omitempty"`
	AccountIndex uint16          `json:"account_index"`
	TokenAccount string          `json:"token_account,omitempty"`

	BlockTime   time.Time `json:"block_time"`
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the JetStream subject for the event.
func (e *TransferEvent) Subject() string {
	return SubjectPrefix + e.WalletAddress
}

// MsgID identifies the event for JetStream deduplication. Re-indexing the same
// window publishes the same IDs, so duplicates inside the dedup window are dropped.
func (e *TransferEvent) MsgID() string {
	return fmt.Sprintf("%s:%s:%d", e.Signature, e.TokenMint, e.AccountIndex)
}

// FromTransferRecord converts an indexer record into a publishable event.
func FromTransferRecord(wallet, mint string, rec indexer.TransferRecord) *TransferEvent {
	return &TransferEvent{
		Signature:     rec.Signature,
		WalletAddress: wallet,
		TokenMint:     mint,
		Direction:     rec.Direction.String(),
		Amount:        rec.Amount,
		Counterparty:  rec.Counterparty,
		AccountIndex:  rec.AccountIndex,
		TokenAccount:  rec.TokenAccount,
		BlockTime:     rec.Timestamp,
		PublishedAt:   time.Now().UTC(),
	}
}

// FromTransferRecords converts a batch of records, preserving order.
func FromTransferRecords(wallet, mint string, records []indexer.TransferRecord) []*TransferEvent {
	events := make([]*TransferEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, FromTransferRecord(wallet, mint, rec))
	}
	return events
}
