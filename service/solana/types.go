package solana

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignatureInfo is one entry of an address's signature history.
// BlockTime is nil when the node did not report one.
type SignatureInfo struct {
	Signature string
	Slot      uint64
	BlockTime *time.Time
	Err       *string // nil if the transaction succeeded
}

// Transaction represents a decoded Solana transaction.
// This is our domain model, independent of the RPC response format.
type Transaction struct {
	Signature   string
	Slot        uint64
	BlockTime   *time.Time
	Err         *string
	AccountKeys []AccountKey

	// HasMeta is false when the node returned the transaction without status
	// metadata (pruned or malformed ledger entries). The balance tables are
	// empty in that case.
	HasMeta           bool
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// AccountKey is an account referenced by a transaction message, in message order.
// Addresses loaded from lookup tables are appended after the static keys.
type AccountKey struct {
	Address  string
	Signer   bool
	Writable bool
}

// TokenBalance is a token account snapshot captured before or after execution.
type TokenBalance struct {
	AccountIndex uint16
	Mint         string
	Owner        *string         // nil when the node omitted the owner
	Amount       decimal.Decimal // UI units, already scaled by the mint's decimals
}

// IsSigner reports whether address signed the transaction.
func (t *Transaction) IsSigner(address string) bool {
	for _, k := range t.AccountKeys {
		if k.Signer && k.Address == address {
			return true
		}
	}
	return false
}

// AccountAddress returns the account key at index, or "" if out of range.
func (t *Transaction) AccountAddress(index uint16) string {
	if int(index) >= len(t.AccountKeys) {
		return ""
	}
	return t.AccountKeys[index].Address
}
