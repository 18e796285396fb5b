package accounting

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// TrialBalanceRow is one postable account with its movements over the range.
type TrialBalanceRow struct {
	AccountID int64
	Code      string
	Name      string
	Type      AccountType
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	// Balance is signed by the account's normal balance.
	Balance decimal.Decimal
}

// TrialBalanceGroup aggregates rows sharing the top-level code segment.
type TrialBalanceGroup struct {
	Key    string
	Rows   []TrialBalanceRow
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

// TrialBalance is the grouped report.
type TrialBalance struct {
	Groups      []TrialBalanceGroup
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
	// DebitNormal and CreditNormal sum signed balances per side.
	DebitNormal  decimal.Decimal
	CreditNormal decimal.Decimal
}

// Net returns DebitNormal - CreditNormal, which is zero whenever every
// contributing entry is balanced.
func (tb TrialBalance) Net() decimal.Decimal {
	return tb.DebitNormal.Sub(tb.CreditNormal)
}

// Balanced reports whether the report nets to zero.
func (tb TrialBalance) Balanced() bool {
	return tb.TotalDebit.Equal(tb.TotalCredit) && tb.Net().IsZero()
}

func groupKey(code string) string {
	if idx := strings.Index(code, "."); idx > 0 {
		return code[:idx]
	}
	return code
}

// BuildTrialBalance converts account movements into grouped trial balance data.
// Accounts without movements are omitted.
func BuildTrialBalance(accounts []Account, movements map[int64]Movement) TrialBalance {
	groups := make(map[string]*TrialBalanceGroup)
	keys := make([]string, 0)
	tb := TrialBalance{
		TotalDebit:   decimal.Zero,
		TotalCredit:  decimal.Zero,
		DebitNormal:  decimal.Zero,
		CreditNormal: decimal.Zero,
	}
	for _, acc := range accounts {
		mv, ok := movements[acc.ID]
		if !ok {
			continue
		}
		key := groupKey(acc.Code)
		grp, ok := groups[key]
		if !ok {
			grp = &TrialBalanceGroup{Key: key, Debit: decimal.Zero, Credit: decimal.Zero}
			groups[key] = grp
			keys = append(keys, key)
		}
		row := TrialBalanceRow{
			AccountID: acc.ID,
			Code:      acc.Code,
			Name:      acc.Name,
			Type:      acc.Type,
			Debit:     mv.Debit,
			Credit:    mv.Credit,
			Balance:   acc.Type.Signed(mv.Debit, mv.Credit),
		}
		grp.Rows = append(grp.Rows, row)
		grp.Debit = grp.Debit.Add(row.Debit)
		grp.Credit = grp.Credit.Add(row.Credit)
		if acc.Type.NormalBalance() == NormalCredit {
			tb.CreditNormal = tb.CreditNormal.Add(row.Balance)
		} else {
			tb.DebitNormal = tb.DebitNormal.Add(row.Balance)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		grp := groups[key]
		sort.Slice(grp.Rows, func(i, j int) bool {
			return grp.Rows[i].Code < grp.Rows[j].Code
		})
		tb.Groups = append(tb.Groups, *grp)
		tb.TotalDebit = tb.TotalDebit.Add(grp.Debit)
		tb.TotalCredit = tb.TotalCredit.Add(grp.Credit)
	}
	return tb
}
