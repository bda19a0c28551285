package indexer

import (
	"fmt"
	"strings"

	"github.com/brojonat/splindex/service/solana"
	"github.com/shopspring/decimal"
)

// Policy decides which balance changes are attributed to the indexed wallet.
type Policy string

const (
	// PolicyOwnerOrSigner attributes a change when the token account is owned
	// by the wallet or the wallet signed the transaction.
	PolicyOwnerOrSigner Policy = "owner-or-signer"
	// PolicyOwner attributes a change only when the wallet owns the token
	// account both before and after the transaction.
	PolicyOwner Policy = "owner"
)

// DefaultPolicy is used when no policy is configured.
const DefaultPolicy = PolicyOwnerOrSigner

// ParsePolicy parses a policy name. The empty string selects DefaultPolicy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultPolicy, nil
	case PolicyOwnerOrSigner:
		return PolicyOwnerOrSigner, nil
	case PolicyOwner:
		return PolicyOwner, nil
	default:
		return "", fmt.Errorf("unknown attribution policy %q (want %q or %q)", s, PolicyOwnerOrSigner, PolicyOwner)
	}
}

// negligibleDelta is the smallest balance change that yields a record.
// It matches float64 machine epsilon.
var negligibleDelta = decimal.NewFromFloat(2.220446049250313e-16)

// balanceDelta is the change of one token account of the requested mint.
type balanceDelta struct {
	accountIndex uint16
	preOwner     *string
	postOwner    *string
	closed       bool // present before the transaction, absent after
	delta        decimal.Decimal
}

// owner is the post owner, or the pre owner for closed accounts and for
// post entries the node returned without one.
func (d balanceDelta) owner() *string {
	if d.postOwner != nil {
		return d.postOwner
	}
	return d.preOwner
}

func (d balanceDelta) negligible() bool {
	return d.delta.Abs().LessThan(negligibleDelta)
}

// Reconcile turns the token balance tables of tx into transfer records for
// wallet and mint. Pre and post entries are joined on account index; an
// account created in the transaction has a pre amount of zero and an account
// closed in the transaction has a post amount of zero. Records follow the
// post table order, with closed accounts last.
func Reconcile(tx *solana.Transaction, wallet, mint string, policy Policy, obs Observer) []TransferRecord {
	if obs == nil {
		obs = NopObserver{}
	}
	if tx == nil {
		return nil
	}
	if !tx.HasMeta {
		obs.TransactionSkipped(wallet, tx.Signature, SkipNoMeta)
		return nil
	}

	deltas := balanceDeltas(tx, mint)

	var records []TransferRecord
	for i, d := range deltas {
		if d.negligible() {
			continue
		}
		owner := d.owner()
		if owner == nil || (policy == PolicyOwner && !d.closed && d.postOwner == nil) {
			obs.EntrySkipped(wallet, tx.Signature, d.accountIndex, SkipNoOwner)
			continue
		}
		if !attributable(tx, d, wallet, policy) {
			continue
		}

		record := TransferRecord{
			Signature:    tx.Signature,
			Direction:    Received,
			Amount:       d.delta.Abs(),
			Counterparty: counterparty(deltas, i),
			AccountIndex: d.accountIndex,
			TokenAccount: tx.AccountAddress(d.accountIndex),
		}
		if d.delta.IsNegative() {
			record.Direction = Sent
		}
		if tx.BlockTime != nil {
			record.Timestamp = tx.BlockTime.UTC()
		}

		obs.TransferFound(wallet, record)
		records = append(records, record)
	}
	return records
}

// balanceDeltas joins the pre and post tables of tx for mint.
func balanceDeltas(tx *solana.Transaction, mint string) []balanceDelta {
	pre := make(map[uint16]solana.TokenBalance)
	var preOrder []uint16
	for _, b := range tx.PreTokenBalances {
		if b.Mint != mint {
			continue
		}
		if _, dup := pre[b.AccountIndex]; dup {
			continue
		}
		pre[b.AccountIndex] = b
		preOrder = append(preOrder, b.AccountIndex)
	}

	matched := make(map[uint16]bool, len(pre))
	var deltas []balanceDelta
	for _, post := range tx.PostTokenBalances {
		if post.Mint != mint || matched[post.AccountIndex] {
			continue
		}
		matched[post.AccountIndex] = true

		d := balanceDelta{
			accountIndex: post.AccountIndex,
			postOwner:    post.Owner,
			delta:        post.Amount,
		}
		if before, ok := pre[post.AccountIndex]; ok {
			d.preOwner = before.Owner
			d.delta = post.Amount.Sub(before.Amount)
		}
		deltas = append(deltas, d)
	}

	for _, idx := range preOrder {
		if matched[idx] {
			continue
		}
		before := pre[idx]
		deltas = append(deltas, balanceDelta{
			accountIndex: idx,
			preOwner:     before.Owner,
			closed:       true,
			delta:        before.Amount.Neg(),
		})
	}
	return deltas
}

func attributable(tx *solana.Transaction, d balanceDelta, wallet string, policy Policy) bool {
	switch policy {
	case PolicyOwner:
		if d.closed {
			return d.preOwner != nil && *d.preOwner == wallet
		}
		if d.postOwner == nil || *d.postOwner != wallet {
			return false
		}
		return d.preOwner == nil || *d.preOwner == wallet
	default:
		if owner := d.owner(); owner != nil && *owner == wallet {
			return true
		}
		return tx.IsSigner(wallet)
	}
}

// counterparty returns the owner on the other side of deltas[i]: the single
// distinct owner of all opposite-signed changes in the transaction, or nil
// when there is none or more than one. Changes owned by the same owner as
// deltas[i] are moves between its own accounts and never count.
func counterparty(deltas []balanceDelta, i int) *string {
	self := deltas[i]
	selfOwner := self.owner()
	var found *string
	for j, other := range deltas {
		if j == i || other.negligible() {
			continue
		}
		if other.delta.Sign() == self.delta.Sign() {
			continue
		}
		owner := other.owner()
		if owner == nil || (selfOwner != nil && *owner == *selfOwner) {
			continue
		}
		if found != nil && *found != *owner {
			return nil
		}
		found = owner
	}
	if found == nil {
		return nil
	}
	cp := *found
	return &cp
}
