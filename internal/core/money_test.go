package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.0", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"-200", "-200", true},
		{"0.01", "0.01", true},
		{"1.005", "1.01", true}, // half away from zero
		{"-1.005", "-1.01", true},
		{" 2.50 ", "2.5", true},
		{"0", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(tc.out)) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestParseBalanceAcceptsZero(t *testing.T) {
	for _, in := range []string{"", "0", "0.00"} {
		got, err := ParseBalance(in)
		if err != nil || !got.IsZero() {
			t.Fatalf("%q expected zero, got %s (err=%v)", in, got, err)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(decimal.RequireFromString("1300")); got != "1300.00" {
		t.Fatalf("got %s", got)
	}
	if got := FormatAmount(decimal.RequireFromString("-0.5")); got != "-0.50" {
		t.Fatalf("got %s", got)
	}
}

func TestFoldBalance(t *testing.T) {
	acct := Account{
		ID:             "a1",
		InitialBalance: decimal.NewFromInt(1000),
		CreatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	txs := []Transaction{
		{AccountID: "a1", Amount: decimal.NewFromInt(-200), Timestamp: time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC)},
		{AccountID: "a1", Amount: decimal.NewFromInt(500), Timestamp: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)},
		{AccountID: "other", Amount: decimal.NewFromInt(9999), Timestamp: time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)},
		{AccountID: "a1", Amount: decimal.NewFromInt(7), Timestamp: time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)},
	}

	cases := []struct {
		asOf Date
		want int64
	}{
		{NewDate(2024, 1, 1), 1000},
		{NewDate(2024, 1, 15), 1500},
		{NewDate(2024, 1, 31), 1507},
		{NewDate(2024, 2, 10), 1307},
		{NewDate(2024, 2, 29), 1307},
	}
	for _, tc := range cases {
		got := FoldBalance(acct, txs, tc.asOf)
		if !got.Equal(decimal.NewFromInt(tc.want)) {
			t.Errorf("FoldBalance(%s) = %s, want %d", tc.asOf, got, tc.want)
		}
	}
}

func TestSumAmountsWindow(t *testing.T) {
	txs := []Transaction{
		{Amount: decimal.NewFromInt(10), Timestamp: time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)},
		{Amount: decimal.NewFromInt(20), Timestamp: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{Amount: decimal.NewFromInt(40), Timestamp: time.Date(2024, 2, 29, 23, 59, 0, 0, time.UTC)},
		{Amount: decimal.NewFromInt(80), Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	w := Window{From: NewDate(2024, 1, 31).Cutoff(), To: NewDate(2024, 2, 29).Cutoff()}
	if got := SumAmounts(txs, w); !got.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("SumAmounts = %s, want 60", got)
	}
	if got := SumAmounts(nil, w); !got.IsZero() {
		t.Fatalf("empty sum = %s, want 0", got)
	}
}
