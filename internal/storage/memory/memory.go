package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"wellbooks/internal/core"
	"wellbooks/internal/ports"
)

var _ ports.Store = (*Store)(nil)

type Store struct {
	mu        sync.RWMutex
	accounts  map[string]core.Account
	order     []string
	txs       map[string][]core.Transaction
	txIDs     map[string]struct{}
	snapshots map[string]map[string]core.BalanceSnapshot
}

func New() *Store {
	return &Store{
		accounts:  make(map[string]core.Account),
		txs:       make(map[string][]core.Transaction),
		txIDs:     make(map[string]struct{}),
		snapshots: make(map[string]map[string]core.BalanceSnapshot),
	}
}

// NewFromFiles seeds accounts from base/seed_accounts.txt when present. Each
// line is "name|type|initial_balance|YYYY-MM-DD"; blanks and # comments are
// skipped, malformed lines are ignored.
func NewFromFiles(base string) *Store {
	s := New()
	for _, line := range readLines(filepath.Join(base, "seed_accounts.txt")) {
		a, err := parseSeedAccount(line)
		if err != nil {
			continue
		}
		_ = s.CreateAccount(context.Background(), a)
	}
	return s
}

func (s *Store) CreateAccount(_ context.Context, a core.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("account %s: %w", a.ID, core.ErrAlreadyExists)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.Revision = 0
	s.accounts[a.ID] = a
	s.order = append(s.order, a.ID)
	return nil
}

func (s *Store) GetAccount(_ context.Context, id string) (core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return core.Account{}, fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	return a, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Account, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.accounts[id])
	}
	return out, nil
}

func (s *Store) RecordTransaction(_ context.Context, tx core.Transaction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[tx.AccountID]
	if !ok {
		return 0, fmt.Errorf("account %s: %w", tx.AccountID, core.ErrNotFound)
	}
	if err := tx.ValidateFor(a); err != nil {
		return 0, err
	}
	// Transaction IDs are unique across accounts, as in the SQLite schema.
	if _, dup := s.txIDs[tx.ID]; dup {
		return 0, fmt.Errorf("transaction %s: %w", tx.ID, core.ErrAlreadyExists)
	}
	s.txIDs[tx.ID] = struct{}{}
	tx.Timestamp = tx.Timestamp.UTC()

	list := s.txs[tx.AccountID]
	i := sort.Search(len(list), func(i int) bool { return list[i].Timestamp.After(tx.Timestamp) })
	list = append(list, core.Transaction{})
	copy(list[i+1:], list[i:])
	list[i] = tx
	s.txs[tx.AccountID] = list

	day := core.DateOf(tx.Timestamp)
	invalidated := 0
	for key, snap := range s.snapshots[tx.AccountID] {
		if !snap.SnapshotDate.Before(day) {
			delete(s.snapshots[tx.AccountID], key)
			invalidated++
		}
	}

	a.Revision++
	s.accounts[a.ID] = a
	return invalidated, nil
}

func (s *Store) SumAmounts(_ context.Context, accountID string, w core.Window) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.SumAmounts(s.txs[accountID], w), nil
}

func (s *Store) ListTransactions(_ context.Context, accountID string, f core.TransactionFilter) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Transaction, 0, len(s.txs[accountID]))
	for _, tx := range s.txs[accountID] {
		if f.Matches(tx) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *Store) LatestSnapshot(_ context.Context, accountID string, onOrBefore core.Date) (core.BalanceSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  core.BalanceSnapshot
		found bool
	)
	for _, snap := range s.snapshots[accountID] {
		if snap.SnapshotDate.After(onOrBefore) {
			continue
		}
		if !found || snap.SnapshotDate.After(best.SnapshotDate) {
			best, found = snap, true
		}
	}
	return best, found, nil
}

func (s *Store) CreateSnapshotIfAbsent(_ context.Context, snap core.BalanceSnapshot, revision int64) (bool, error) {
	if err := snap.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[snap.AccountID]
	if !ok {
		return false, fmt.Errorf("account %s: %w", snap.AccountID, core.ErrNotFound)
	}
	if a.Revision != revision {
		return false, core.ErrConflict
	}
	byDate := s.snapshots[snap.AccountID]
	if byDate == nil {
		byDate = make(map[string]core.BalanceSnapshot)
		s.snapshots[snap.AccountID] = byDate
	}
	key := snap.SnapshotDate.String()
	if _, exists := byDate[key]; exists {
		return false, nil
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	byDate[key] = snap
	return true, nil
}

func (s *Store) ListSnapshots(_ context.Context, accountID string) ([]core.BalanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.BalanceSnapshot, 0, len(s.snapshots[accountID]))
	for _, snap := range s.snapshots[accountID] {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotDate.Before(out[j].SnapshotDate) })
	return out, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func parseSeedAccount(line string) (core.Account, error) {
	parts := strings.Split(line, "|")
	if len(parts) != 4 {
		return core.Account{}, fmt.Errorf("want 4 fields, got %d", len(parts))
	}
	balance, err := core.ParseBalance(parts[2])
	if err != nil {
		return core.Account{}, err
	}
	created, err := core.ParseDate(parts[3])
	if err != nil {
		return core.Account{}, err
	}
	return core.Account{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(parts[0]),
		AccountType:    core.AccountType(strings.TrimSpace(parts[1])),
		Status:         core.Active,
		InitialBalance: balance,
		CreatedAt:      created.Time,
	}, nil
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
