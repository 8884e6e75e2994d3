package ledger

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func exampleDay() []Operation {
	ts := time.Date(2025, 11, 4, 12, 0, 0, 0, time.UTC)
	return []Operation{
		{ID: "1", AccountID: "caisse", Kind: KindEntree, Amount: 5000, Timestamp: ts},
		{ID: "2", AccountID: "caisse", Kind: KindSortie, Amount: 1200, Timestamp: ts.Add(time.Hour)},
		{ID: "3", AccountID: "momo", Kind: KindEntree, Amount: 3000, Timestamp: ts.Add(2 * time.Hour)},
	}
}

func TestExampleDayBalances(t *testing.T) {
	ops := exampleDay()

	require.Equal(t, int64(3800), ComputeAccountBalance("caisse", ops))
	require.Equal(t, int64(3000), ComputeAccountBalance("momo", ops))
	require.Equal(t, Totals{Entrees: 8000, Sorties: 1200, Balance: 6800}, ComputeTotals(ops))

	accounts := []Account{{ID: "caisse", Name: "Caisse"}, {ID: "momo", Name: "Mobile money"}, {ID: "banque", Name: "Banque"}}
	balances := ComputeBalancesForAccounts(accounts, ops)
	require.Len(t, balances, 3)
	require.Equal(t, int64(3800), balances[0].Solde)
	require.Equal(t, int64(3000), balances[1].Solde)
	require.Equal(t, int64(0), balances[2].Solde)
}

func TestMalformedAmountsCountAsZero(t *testing.T) {
	ts := time.Date(2025, 11, 4, 9, 0, 0, 0, time.UTC)
	ops := []Operation{
		{AccountID: "caisse", Kind: KindEntree, Amount: -50, Timestamp: ts},
		{AccountID: "caisse", Kind: "transfert", Amount: 900, Timestamp: ts},
		{AccountID: "caisse", Kind: "ENTREE", Amount: 100, Timestamp: ts},
	}
	require.Equal(t, int64(100), ComputeAccountBalance("caisse", ops))
	require.Equal(t, Totals{Entrees: 100, Balance: 100}, ComputeTotals(ops))
}

func TestEmptyInputYieldsZero(t *testing.T) {
	require.Equal(t, Totals{}, ComputeTotals(nil))
	require.Equal(t, int64(0), ComputeAccountBalance("caisse", nil))
	require.Empty(t, AggregateByDay(nil))
	summary := SummarizeDay("04112025", []Account{{ID: "caisse"}}, nil)
	require.Equal(t, 0, summary.OperationsCount)
	require.Equal(t, map[string]int64{"caisse": 0}, summary.BalancesByAccount)
}

func TestTotalsAreOrderIndependent(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(42))
	ops := make([]Operation, 200)
	var entrees, sorties int64
	for i := range ops {
		kind := KindEntree
		amount := rng.Int63n(100000)
		if i%3 == 0 {
			kind = KindSortie
			sorties += amount
		} else {
			entrees += amount
		}
		ops[i] = Operation{AccountID: "caisse", Kind: kind, Amount: amount, Timestamp: base.Add(time.Duration(i) * time.Hour)}
	}
	want := ComputeTotals(ops)
	require.Equal(t, entrees-sorties, want.Balance)

	rng.Shuffle(len(ops), func(i, j int) { ops[i], ops[j] = ops[j], ops[i] })
	require.Equal(t, want, ComputeTotals(ops))
	require.Equal(t, want.Balance, ComputeAccountBalance("caisse", ops))
}

func TestSummarizeDayFiltersOtherDays(t *testing.T) {
	ops := exampleDay()
	ops = append(ops, Operation{AccountID: "caisse", Kind: KindEntree, Amount: 999, Timestamp: time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC)})
	ops = append(ops, Operation{AccountID: "orange", Kind: KindSortie, Amount: 10, Timestamp: time.Date(2025, 11, 4, 22, 0, 0, 0, time.UTC)})

	summary := SummarizeDay("04112025", []Account{{ID: "caisse"}, {ID: "momo"}}, ops)
	require.Equal(t, 4, summary.OperationsCount)
	require.Equal(t, Totals{Entrees: 8000, Sorties: 1210, Balance: 6790}, summary.Totals)
	require.Equal(t, map[string]int64{"caisse": 3800, "momo": 3000, "orange": -10}, summary.BalancesByAccount)
	require.Len(t, summary.Balances, 2)
}

func TestFormatterAmount(t *testing.T) {
	f := NewFormatter("en", "XOF")
	require.Equal(t, "6,800 XOF", f.Amount(6800))
	require.Equal(t, "12", NewFormatter("en", "").Amount(12))
}
