package solana

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// signatureToDomain converts an RPC TransactionSignature to our domain SignatureInfo.
func signatureToDomain(sig *rpc.TransactionSignature) SignatureInfo {
	info := SignatureInfo{
		Signature: sig.Signature.String(),
		Slot:      sig.Slot,
	}

	if sig.BlockTime != nil {
		t := sig.BlockTime.Time().UTC()
		info.BlockTime = &t
	}

	if sig.Err != nil {
		errMsg := fmt.Sprintf("transaction failed: %v", sig.Err)
		info.Err = &errMsg
	}

	return info
}

// transactionFromResult converts a GetTransactionResult into our domain Transaction.
// Account keys are decoded separately by accountKeysFromResult because the
// message can fail to decode while the status metadata is still usable.
func transactionFromResult(signature string, result *rpc.GetTransactionResult) *Transaction {
	txn := &Transaction{
		Signature: signature,
		Slot:      result.Slot,
	}

	if result.BlockTime != nil {
		t := result.BlockTime.Time().UTC()
		txn.BlockTime = &t
	}

	meta := result.Meta
	if meta == nil {
		return txn
	}

	txn.HasMeta = true
	if meta.Err != nil {
		errMsg := fmt.Sprintf("transaction failed: %v", meta.Err)
		txn.Err = &errMsg
	}
	txn.PreTokenBalances = tokenBalancesToDomain(meta.PreTokenBalances)
	txn.PostTokenBalances = tokenBalancesToDomain(meta.PostTokenBalances)

	return txn
}

// accountKeysFromResult decodes the transaction message and returns its account
// keys with signer and writable flags. Keys loaded from address lookup tables
// follow the static keys, writable before read-only, matching the indexes used
// by the token balance tables.
func accountKeysFromResult(result *rpc.GetTransactionResult) ([]AccountKey, error) {
	if result.Transaction == nil {
		return nil, fmt.Errorf("transaction envelope missing")
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	header := tx.Message.Header
	numSigners := int(header.NumRequiredSignatures)
	numStatic := len(tx.Message.AccountKeys)

	keys := make([]AccountKey, 0, numStatic)
	for i, key := range tx.Message.AccountKeys {
		var writable bool
		if i < numSigners {
			writable = i < numSigners-int(header.NumReadonlySignedAccounts)
		} else {
			writable = i < numStatic-int(header.NumReadonlyUnsignedAccounts)
		}
		keys = append(keys, AccountKey{
			Address:  key.String(),
			Signer:   i < numSigners,
			Writable: writable,
		})
	}

	if result.Meta != nil {
		keys = appendLoaded(keys, result.Meta.LoadedAddresses.Writable, true)
		keys = appendLoaded(keys, result.Meta.LoadedAddresses.ReadOnly, false)
	}

	return keys, nil
}

func appendLoaded(keys []AccountKey, loaded solana.PublicKeySlice, writable bool) []AccountKey {
	for _, key := range loaded {
		keys = append(keys, AccountKey{Address: key.String(), Writable: writable})
	}
	return keys
}

func tokenBalancesToDomain(balances []rpc.TokenBalance) []TokenBalance {
	out := make([]TokenBalance, 0, len(balances))
	for _, b := range balances {
		tb := TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint.String(),
			Amount:       uiAmount(b.UiTokenAmount),
		}
		if b.Owner != nil {
			owner := b.Owner.String()
			tb.Owner = &owner
		}
		out = append(out, tb)
	}
	return out
}

// uiAmount returns the human-scaled amount of a token balance, preferring the
// exact string forms over the float. An absent amount is zero.
func uiAmount(amt *rpc.UiTokenAmount) decimal.Decimal {
	if amt == nil {
		return decimal.Zero
	}
	if amt.UiAmountString != "" {
		if d, err := decimal.NewFromString(amt.UiAmountString); err == nil {
			return d
		}
	}
	if amt.Amount != "" {
		if d, err := decimal.NewFromString(amt.Amount); err == nil {
			return d.Shift(-int32(amt.Decimals))
		}
	}
	if amt.UiAmount != nil {
		return decimal.NewFromFloat(*amt.UiAmount)
	}
	return decimal.Zero
}

// blockTimeOrZero is used for log fields.
func blockTimeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
