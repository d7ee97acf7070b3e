package http

import (
	"time"

	"wellbooks/internal/core"
)

// Response bodies render amounts as fixed two-place strings so clients never
// see float rounding.

type accountResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	AccountType    string    `json:"account_type"`
	AccountNumber  string    `json:"account_number,omitempty"`
	BankName       string    `json:"bank_name,omitempty"`
	Description    string    `json:"description,omitempty"`
	Status         string    `json:"status"`
	InitialBalance string    `json:"initial_balance"`
	CreatedAt      time.Time `json:"created_at"`
}

func newAccountResponse(a core.Account) accountResponse {
	return accountResponse{
		ID:             a.ID,
		Name:           a.Name,
		AccountType:    string(a.AccountType),
		AccountNumber:  a.AccountNumber,
		BankName:       a.BankName,
		Description:    a.Description,
		Status:         string(a.Status),
		InitialBalance: core.FormatAmount(a.InitialBalance),
		CreatedAt:      a.CreatedAt.UTC(),
	}
}

type transactionResponse struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Amount      string    `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description,omitempty"`
	PropertyID  string    `json:"property_id,omitempty"`
	CompanyID   string    `json:"company_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func newTransactionResponse(tx core.Transaction) transactionResponse {
	return transactionResponse{
		ID:          tx.ID,
		AccountID:   tx.AccountID,
		Amount:      core.FormatAmount(tx.Amount),
		Timestamp:   tx.Timestamp.UTC(),
		Description: tx.Description,
		PropertyID:  tx.PropertyID,
		CompanyID:   tx.CompanyID,
		CreatedAt:   tx.CreatedAt.UTC(),
	}
}

type recordTransactionResponse struct {
	Transaction          transactionResponse `json:"transaction"`
	InvalidatedSnapshots int                 `json:"invalidated_snapshots"`
}

type snapshotResponse struct {
	AccountID    string    `json:"account_id"`
	SnapshotDate core.Date `json:"snapshot_date"`
	Balance      string    `json:"balance"`
	CreatedAt    time.Time `json:"created_at"`
}

func newSnapshotResponse(s core.BalanceSnapshot) snapshotResponse {
	return snapshotResponse{
		AccountID:    s.AccountID,
		SnapshotDate: s.SnapshotDate,
		Balance:      core.FormatAmount(s.Balance),
		CreatedAt:    s.CreatedAt.UTC(),
	}
}

type balanceResponse struct {
	AccountID string    `json:"account_id"`
	AsOf      core.Date `json:"as_of"`
	Balance   string    `json:"balance"`
}

type accountBalanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
}

type totalBalanceResponse struct {
	AsOf     core.Date                `json:"as_of"`
	Total    string                   `json:"total"`
	Accounts []accountBalanceResponse `json:"accounts"`
}

func newTotalBalanceResponse(t core.BalanceTotal) totalBalanceResponse {
	return totalBalanceResponse{
		AsOf:  t.AsOf,
		Total: core.FormatAmount(t.Total),
		Accounts: mapSlice(t.Accounts, func(ab core.AccountBalance) accountBalanceResponse {
			return accountBalanceResponse{AccountID: ab.AccountID, Balance: core.FormatAmount(ab.Balance)}
		}),
	}
}

type monthAmountResponse struct {
	Month  int    `json:"month"`
	Amount string `json:"amount"`
}

type trendYearResponse struct {
	Year        int                   `json:"year"`
	MonthlyData []monthAmountResponse `json:"monthlyData"`
}

func newTrendYearResponse(ty core.TrendYear) trendYearResponse {
	return trendYearResponse{
		Year: ty.Year,
		MonthlyData: mapSlice(ty.MonthlyData, func(mb core.MonthBalance) monthAmountResponse {
			return monthAmountResponse{Month: mb.Month, Amount: core.FormatAmount(mb.Amount)}
		}),
	}
}

func mapSlice[T, R any](in []T, f func(T) R) []R {
	out := make([]R, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}
