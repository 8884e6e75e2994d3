// Package ledger derives money facts from raw treasury operations. Nothing in
// this package performs I/O: balances are always recomputed from operations and
// never read from a stored account field.
package ledger

import (
	"strings"
	"time"
)

// Kind distinguishes money entering an account from money leaving it.
type Kind string

const (
	KindEntree Kind = "entree"
	KindSortie Kind = "sortie"
)

// ParseKind normalises a stored kind. Unknown values yield an empty Kind.
func ParseKind(raw string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindEntree, "entrée", "in":
		return KindEntree
	case KindSortie, "out":
		return KindSortie
	default:
		return ""
	}
}

// Operation is an immutable financial event recorded by upstream flows.
// Amount is expressed in minor currency units.
type Operation struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Kind      Kind      `json:"kind"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// DayKey returns the calendar day of the operation in the timestamp's location.
func (o Operation) DayKey() DayKey {
	return FromTime(o.Timestamp)
}

// signedAmount returns the contribution of the operation to its account
// balance. Negative amounts and unknown kinds are treated as zero.
func (o Operation) signedAmount() int64 {
	amount := o.Amount
	if amount < 0 {
		amount = 0
	}
	switch ParseKind(string(o.Kind)) {
	case KindEntree:
		return amount
	case KindSortie:
		return -amount
	default:
		return 0
	}
}

// Account is a treasury bucket (cash, mobile money, bank...). It has no
// stored balance.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// AccountBalance pairs an account with its derived balance.
type AccountBalance struct {
	Account
	Solde int64 `json:"solde"`
}

// Totals summarises a set of operations.
type Totals struct {
	Entrees int64 `json:"entrees"`
	Sorties int64 `json:"sorties"`
	Balance int64 `json:"balance"`
}

// PeriodBucket holds totals for a day, week, month or year.
type PeriodBucket struct {
	Key        string    `json:"key"`
	Start      time.Time `json:"start"`
	Operations int       `json:"operations"`
	Totals     Totals    `json:"totals"`
}

// DaySummary is the aggregate view of a single day used for closure.
type DaySummary struct {
	Day               DayKey           `json:"day_key"`
	OperationsCount   int              `json:"operations_count"`
	Totals            Totals           `json:"totals"`
	Balances          []AccountBalance `json:"balances"`
	BalancesByAccount map[string]int64 `json:"balances_by_account"`
}
