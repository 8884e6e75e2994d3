package ledger

// ComputeAccountBalance returns entrees minus sorties for the account.
func ComputeAccountBalance(accountID string, ops []Operation) int64 {
	var solde int64
	for _, op := range ops {
		if op.AccountID != accountID {
			continue
		}
		solde += op.signedAmount()
	}
	return solde
}

// ComputeBalancesForAccounts maps ComputeAccountBalance over accounts,
// preserving their order. Accounts without operations get a zero balance.
func ComputeBalancesForAccounts(accounts []Account, ops []Operation) []AccountBalance {
	byAccount := balancesByAccount(ops)
	out := make([]AccountBalance, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, AccountBalance{Account: acc, Solde: byAccount[acc.ID]})
	}
	return out
}

// ComputeTotals sums entrees and sorties over all operations.
func ComputeTotals(ops []Operation) Totals {
	var t Totals
	for _, op := range ops {
		v := op.signedAmount()
		if v >= 0 {
			t.Entrees += v
		} else {
			t.Sorties -= v
		}
	}
	t.Balance = t.Entrees - t.Sorties
	return t
}

// SummarizeDay builds the closure view of day from ops. Operations dated on
// another day are ignored. Accounts that appear only in operations are still
// reported in BalancesByAccount so no money goes unaccounted.
func SummarizeDay(day DayKey, accounts []Account, ops []Operation) DaySummary {
	dayOps := make([]Operation, 0, len(ops))
	for _, op := range ops {
		if op.DayKey() == day {
			dayOps = append(dayOps, op)
		}
	}
	byAccount := balancesByAccount(dayOps)
	for _, acc := range accounts {
		if _, ok := byAccount[acc.ID]; !ok {
			byAccount[acc.ID] = 0
		}
	}
	return DaySummary{
		Day:               day,
		OperationsCount:   len(dayOps),
		Totals:            ComputeTotals(dayOps),
		Balances:          ComputeBalancesForAccounts(accounts, dayOps),
		BalancesByAccount: byAccount,
	}
}

func balancesByAccount(ops []Operation) map[string]int64 {
	out := make(map[string]int64)
	for _, op := range ops {
		if op.AccountID == "" {
			continue
		}
		out[op.AccountID] += op.signedAmount()
	}
	return out
}
