package http

import (
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"wellbooks/internal/cache"
	"wellbooks/internal/core"
	"wellbooks/internal/log"
)

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.ledger.ListAccounts(r.Context(), ParseAccountFilter(r))
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Body(map[string]any{
		"accounts": mapSlice(accounts, newAccountResponse),
	}).Write(w)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, log.OpParse, err)
		return
	}

	acct, err := s.ledger.CreateAccount(r.Context(), req.account())
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	atomic.AddInt64(&s.metrics.accountsCreated, 1)

	log.FromContext(r.Context()).InfoContext(r.Context(), "Account created",
		log.FieldAccountID, acct.ID,
		log.FieldBalance, core.FormatAmount(acct.InitialBalance))

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/accounts/"+acct.ID).
		Body(newAccountResponse(acct)).
		Write(w)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.ledger.GetAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(newAccountResponse(acct)).Write(w)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	asOf, err := ParseAsOf(r, s.now())
	if err != nil {
		s.writeError(w, r, log.OpParse, err)
		return
	}

	balance, err := s.resolver.BalanceAsOf(r.Context(), id, asOf)
	if err != nil {
		s.writeError(w, r, log.OpBalance, err)
		return
	}

	NewJSONResponse().Body(balanceResponse{
		AccountID: id,
		AsOf:      asOf,
		Balance:   core.FormatAmount(balance),
	}).Write(w)
}

func (s *Server) handleTotalBalance(w http.ResponseWriter, r *http.Request) {
	asOf, err := ParseAsOf(r, s.now())
	if err != nil {
		s.writeError(w, r, log.OpParse, err)
		return
	}

	total, err := s.resolver.TotalBalanceAsOf(r.Context(), asOf, ParseAccountFilter(r))
	if err != nil {
		s.writeError(w, r, log.OpBalance, err)
		return
	}
	NewJSONResponse().Body(newTotalBalanceResponse(total)).Write(w)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	years, err := ParseYears(r)
	if err != nil {
		s.writeError(w, r, log.OpParse, err)
		return
	}

	now := s.now()
	key := cache.TrendKey(id, years, now)
	if s.trendCache != nil {
		if trend, ok := s.trendCache.Get(key); ok {
			atomic.AddInt64(&s.metrics.trendCacheHits, 1)
			log.FromContext(r.Context()).DebugContext(r.Context(), "Trend cache hit",
				log.FieldAccountID, id, log.FieldYears, years)
			NewJSONResponse().Header("X-Cache", "HIT").Body(mapSlice(trend, newTrendYearResponse)).Write(w)
			return
		}
		atomic.AddInt64(&s.metrics.trendCacheMisses, 1)
	}

	trend, err := s.trends.Trend(r.Context(), id, years, now)
	if err != nil {
		s.writeError(w, r, log.OpTrend, err)
		return
	}
	if s.trendCache != nil {
		s.trendCache.Set(key, trend)
	}

	NewJSONResponse().Header("X-Cache", "MISS").Body(mapSlice(trend, newTrendYearResponse)).Write(w)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snaps, err := s.ledger.ListSnapshots(r.Context(), id)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Body(map[string]any{
		"account_id": id,
		"snapshots":  mapSlice(snaps, newSnapshotResponse),
	}).Write(w)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	filter, err := ParseTransactionFilter(r)
	if err != nil {
		s.writeError(w, r, log.OpParse, err)
		return
	}
	txs, err := s.ledger.ListTransactions(r.Context(), id, filter)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}

	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(tx.Amount)
	}
	NewJSONResponse().Body(map[string]any{
		"account_id":   id,
		"transactions": mapSlice(txs, newTransactionResponse),
		"total":        core.FormatAmount(total),
	}).Write(w)
}

func (s *Server) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req recordTransactionRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, log.OpParse, err)
		return
	}
	tx := req.transaction()
	if strings.TrimSpace(tx.AccountID) == "" {
		s.writeError(w, r, log.OpValidate, core.ErrEmptyAccountID)
		return
	}

	recorded, invalidated, err := s.ledger.RecordTransaction(r.Context(), tx)
	if err != nil {
		s.writeError(w, r, log.OpRecord, err)
		return
	}

	atomic.AddInt64(&s.metrics.transactionsRecorded, 1)
	atomic.AddInt64(&s.metrics.snapshotsInvalidated, int64(invalidated))
	s.invalidateTrends(r, recorded.AccountID)
	s.events.LogTransactionRecorded(r.Context(), recorded.ID, recorded.AccountID, core.FormatAmount(recorded.Amount), invalidated)

	NewJSONResponse().
		Status(http.StatusCreated).
		Body(recordTransactionResponse{
			Transaction:          newTransactionResponse(recorded),
			InvalidatedSnapshots: invalidated,
		}).
		Write(w)
}

// invalidateTrends drops every cached trend of accountID.
func (s *Server) invalidateTrends(r *http.Request, accountID string) {
	if s.trendCache == nil {
		return
	}
	if n := s.trendCache.DeletePrefix(cache.AccountPrefix(accountID)); n > 0 {
		log.FromContext(r.Context()).DebugContext(r.Context(), "Trend cache invalidated",
			log.FieldAccountID, accountID, "entries", n)
	}
}
