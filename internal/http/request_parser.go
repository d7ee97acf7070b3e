// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data:
// query parameters, JSON bodies and the amount and timestamp fields they carry.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"wellbooks/internal/core"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// errMalformed marks input that could not be parsed at all.
var errMalformed = errors.New("malformed request")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errMalformed, fmt.Sprintf(format, args...))
}

// ParseAsOf reads the as_of query parameter. Missing means the current day.
func ParseAsOf(r *http.Request, now time.Time) (core.Date, error) {
	v := strings.TrimSpace(r.URL.Query().Get("as_of"))
	if v == "" {
		return core.DateOf(now), nil
	}
	d, err := core.ParseDate(v)
	if err != nil {
		return core.Date{}, malformed("as_of must be YYYY-MM-DD, got %q", v)
	}
	return d, nil
}

// ParseYears reads the years query parameter. Non-numeric input is
// malformed; numbers outside the menu are left for the service to reject.
func ParseYears(r *http.Request) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get("years"))
	if v == "" {
		return core.DefaultTrendYears, nil
	}
	years, err := strconv.Atoi(v)
	if err != nil {
		return 0, malformed("years must be an integer, got %q", v)
	}
	return years, nil
}

// ParseAccountFilter reads the type, status and bank query parameters.
// Unknown types or statuses are left for the service to reject.
func ParseAccountFilter(r *http.Request) core.AccountFilter {
	q := r.URL.Query()
	return core.AccountFilter{
		Type:     core.AccountType(strings.ToLower(sanitizeInput(q.Get("type")))),
		Status:   core.AccountStatus(strings.ToLower(sanitizeInput(q.Get("status")))),
		BankName: sanitizeInput(q.Get("bank")),
	}
}

// ParseTransactionFilter reads from and to, both inclusive YYYY-MM-DD days,
// plus the property_id and company_id query parameters.
func ParseTransactionFilter(r *http.Request) (core.TransactionFilter, error) {
	q := r.URL.Query()
	var days [2]core.Date
	for i, key := range []string{"from", "to"} {
		v := strings.TrimSpace(q.Get(key))
		if v == "" {
			continue
		}
		d, err := core.ParseDate(v)
		if err != nil {
			return core.TransactionFilter{}, malformed("%s must be YYYY-MM-DD, got %q", key, v)
		}
		days[i] = d
	}
	from, to, err := core.DayRange(days[0], days[1])
	if err != nil {
		return core.TransactionFilter{}, err
	}
	return core.TransactionFilter{
		From:       from,
		To:         to,
		PropertyID: sanitizeInput(q.Get("property_id")),
		CompanyID:  sanitizeInput(q.Get("company_id")),
	}, nil
}

// DecodeJSON reads a single JSON object from the body into dst.
// Unknown fields and trailing data are rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return malformed("content type must be application/json")
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, errMalformed) || core.IsValidation(err) {
			return err
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return malformed("body exceeds %d bytes", maxErr.Limit)
		}
		if errors.Is(err, io.EOF) {
			return malformed("empty body")
		}
		return malformed("%v", err)
	}
	if dec.More() {
		return malformed("body must contain a single JSON object")
	}
	return nil
}

// amountField accepts "12.34", "12,34" or a bare JSON number.
type amountField struct {
	decimal.Decimal
}

func (a *amountField) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	d, err := core.ParseBalance(s)
	if err != nil {
		return err
	}
	a.Decimal = d
	return nil
}

// instantField accepts RFC 3339 timestamps or a bare YYYY-MM-DD, which
// means midnight UTC of that day.
type instantField struct {
	time.Time
}

func (f *instantField) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return malformed("timestamp must be a string")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		f.Time = t.UTC()
		return nil
	}
	d, err := core.ParseDate(s)
	if err != nil {
		return malformed("timestamp must be RFC 3339 or YYYY-MM-DD, got %q", s)
	}
	f.Time = d.Time
	return nil
}

// createAccountRequest is the body of POST /api/accounts.
type createAccountRequest struct {
	Name           string       `json:"name"`
	AccountType    string       `json:"account_type"`
	AccountNumber  string       `json:"account_number"`
	BankName       string       `json:"bank_name"`
	Description    string       `json:"description"`
	InitialBalance amountField  `json:"initial_balance"`
	CreatedAt      instantField `json:"created_at"`
}

func (req createAccountRequest) account() core.Account {
	return core.Account{
		Name:           sanitizeInput(req.Name),
		AccountType:    core.AccountType(strings.ToLower(sanitizeInput(req.AccountType))),
		AccountNumber:  sanitizeInput(req.AccountNumber),
		BankName:       sanitizeInput(req.BankName),
		Description:    sanitizeInput(req.Description),
		InitialBalance: req.InitialBalance.Decimal,
		CreatedAt:      req.CreatedAt.Time,
	}
}

// recordTransactionRequest is the body of POST /api/transactions.
type recordTransactionRequest struct {
	AccountID   string       `json:"account_id"`
	Amount      amountField  `json:"amount"`
	Timestamp   instantField `json:"timestamp"`
	Description string       `json:"description"`
	PropertyID  string       `json:"property_id"`
	CompanyID   string       `json:"company_id"`
}

func (req recordTransactionRequest) transaction() core.Transaction {
	return core.Transaction{
		AccountID:   sanitizeInput(req.AccountID),
		Amount:      req.Amount.Decimal,
		Timestamp:   req.Timestamp.Time,
		Description: sanitizeInput(req.Description),
		PropertyID:  sanitizeInput(req.PropertyID),
		CompanyID:   sanitizeInput(req.CompanyID),
	}
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
