package indexer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a transfer relative to the indexed wallet.
type Direction int

const (
	Sent Direction = iota + 1
	Received
)

func (d Direction) String() string {
	switch d {
	case Sent:
		return "sent"
	case Received:
		return "received"
	default:
		return "unknown"
	}
}

func (d Direction) MarshalJSON() ([]byte, error) {
	if d != Sent && d != Received {
		return nil, fmt.Errorf("invalid direction %d", int(d))
	}
	return json.Marshal(d.String())
}

func (d *Direction) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDirection(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirection parses "sent" or "received".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "sent":
		return Sent, nil
	case "received":
		return Received, nil
	default:
		return 0, fmt.Errorf("invalid direction %q", s)
	}
}

// TransferRecord is a single token movement attributed to the indexed wallet.
// A transaction may yield several records, one per token account whose
// balance changed.
type TransferRecord struct {
	Signature    string          `json:"signature"`
	Timestamp    time.Time       `json:"timestamp"`
	Direction    Direction       `json:"direction"`
	Amount       decimal.Decimal `json:"amount"`
	Counterparty *string         `json:"counterparty,omitempty"`
	AccountIndex uint16          `json:"account_index"`
	TokenAccount string          `json:"token_account,omitempty"`
}
