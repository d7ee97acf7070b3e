package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Checking   AccountType = "checking"
	Savings    AccountType = "savings"
	Investment AccountType = "investment"
	Credit     AccountType = "credit"
	Other      AccountType = "other"

	Active   AccountStatus = "active"
	Inactive AccountStatus = "inactive"
)

type (
	AccountType   string
	AccountStatus string

	// Account is a ledger container. InitialBalance and CreatedAt never change
	// after creation: together they are the origin every balance is derived from.
	Account struct {
		ID             string          `json:"id"`
		Name           string          `json:"name"`
		AccountType    AccountType     `json:"account_type"`
		AccountNumber  string          `json:"account_number,omitempty"`
		BankName       string          `json:"bank_name,omitempty"`
		Description    string          `json:"description,omitempty"`
		Status         AccountStatus   `json:"status"`
		InitialBalance decimal.Decimal `json:"initial_balance"`
		CreatedAt      time.Time       `json:"created_at"`
		// Revision increments with every transaction recorded on the account.
		Revision int64 `json:"revision"`
	}

	// Transaction is an immutable ledger entry. Amount is signed.
	Transaction struct {
		ID          string          `json:"id"`
		AccountID   string          `json:"account_id"`
		Amount      decimal.Decimal `json:"amount"`
		Timestamp   time.Time       `json:"timestamp"`
		Description string          `json:"description,omitempty"`
		PropertyID  string          `json:"property_id,omitempty"`
		CompanyID   string          `json:"company_id,omitempty"`
		CreatedAt   time.Time       `json:"created_at"`
	}

	// BalanceSnapshot checkpoints the running balance at the end of SnapshotDate.
	BalanceSnapshot struct {
		AccountID    string          `json:"account_id"`
		SnapshotDate Date            `json:"snapshot_date"`
		Balance      decimal.Decimal `json:"balance"`
		CreatedAt    time.Time       `json:"created_at"`
	}
)

func (t AccountType) IsValid() bool {
	switch t {
	case Checking, Savings, Investment, Credit, Other:
		return true
	default:
		return false
	}
}

func (s AccountStatus) IsValid() bool {
	return s == Active || s == Inactive
}

// CreatedOn returns the calendar day the account was opened.
func (a Account) CreatedOn() Date {
	return DateOf(a.CreatedAt)
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	if len(a.Name) > 200 {
		return errors.Join(ErrValidation, errors.New("name too long (max 200 characters)"))
	}
	if !a.AccountType.IsValid() {
		return ErrInvalidAccountType
	}
	if !a.Status.IsValid() {
		return ErrInvalidStatus
	}
	if a.CreatedAt.IsZero() {
		return ErrZeroTimestamp
	}
	return nil
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrEmptyAccountID
	}
	if t.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if t.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	if len(t.Description) > 500 {
		return errors.Join(ErrValidation, errors.New("description too long (max 500 characters)"))
	}
	return nil
}

// ValidateFor checks the transaction against the account it is posted to.
func (t Transaction) ValidateFor(a Account) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Timestamp.Before(a.CreatedAt) {
		return ErrInvalidRange
	}
	return nil
}

func (s BalanceSnapshot) Validate() error {
	if strings.TrimSpace(s.AccountID) == "" {
		return ErrEmptyAccountID
	}
	if err := s.SnapshotDate.Validate(); err != nil {
		return err
	}
	return nil
}
