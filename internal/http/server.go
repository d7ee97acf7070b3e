package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"wellbooks/internal/cache"
	"wellbooks/internal/core"
	"wellbooks/internal/log"
	"wellbooks/internal/middleware/ratelimit"
	"wellbooks/internal/middleware/security"
	"wellbooks/internal/middleware/trace"
	"wellbooks/internal/ports"
	"wellbooks/internal/services"
)

// appMetrics holds counters exposed on /metrics.
type appMetrics struct {
	uptime               time.Time
	accountsCreated      int64
	transactionsRecorded int64
	snapshotsInvalidated int64
	trendCacheHits       int64
	trendCacheMisses     int64
}

type Server struct {
	http.Server

	store    ports.Store
	ledger   *services.LedgerService
	resolver *services.BalanceResolver
	trends   *services.TrendAggregator

	logger  *log.Logger
	events  *log.StructuredLogger
	now     func() time.Time
	metrics *appMetrics

	// trendCache is nil when caching is disabled.
	trendCache   cache.Cache[[]core.TrendYear]
	cacheManager *cache.Manager

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware

	shutdownOnce sync.Once
}

type options struct {
	logger        *log.Logger
	now           func() time.Time
	cacheSize     int
	cacheTTL      time.Duration
	postPerMinute int
}

// Option configures a Server.
type Option func(*options)

// WithLogger sets the request logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock fixes the server's notion of now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTrendCache caches trend responses. A zero size or TTL disables caching.
func WithTrendCache(size int, ttl time.Duration) Option {
	return func(o *options) {
		o.cacheSize = size
		o.cacheTTL = ttl
	}
}

// WithWriteRateLimit caps POST requests per client and minute.
func WithWriteRateLimit(perMinute int) Option {
	return func(o *options) { o.postPerMinute = perMinute }
}

// NewServer wires the ledger services over store and returns a ready-to-run
// http.Server. publisher may be nil.
func NewServer(addr string, store ports.Store, publisher services.EventPublisher, opts ...Option) *Server {
	o := options{
		now:           time.Now,
		cacheSize:     256,
		cacheTTL:      time.Minute,
		postPerMinute: ratelimit.DefaultConfig().RequestsPerMinute,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.New(log.Config{Level: log.LevelFromEnv(), Component: log.ComponentHTTP})
	}

	resolver := services.NewBalanceResolver(store, store, store)
	s := &Server{
		store:            store,
		ledger:           services.NewLedgerService(store, publisher).WithClock(o.now),
		resolver:         resolver,
		trends:           services.NewTrendAggregator(store, resolver),
		logger:           o.logger,
		events:           log.NewStructuredLogger(o.logger),
		now:              o.now,
		metrics:          &appMetrics{uptime: time.Now()},
		cacheManager:     cache.NewManager(),
		rateLimiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: o.postPerMinute}),
		securityDetector: security.NewDetector(),
	}
	s.traceMiddleware = trace.NewMiddleware(s.securityDetector.ExtractClientIP, o.logger.WithComponent(log.ComponentTrace))

	if o.cacheSize > 0 && o.cacheTTL > 0 {
		lru := cache.NewLRUCache[[]core.TrendYear](o.cacheSize, o.cacheTTL)
		s.trendCache = lru
		s.cacheManager.Register(lru)
		s.cacheManager.StartCleanup(10 * time.Minute)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /api/accounts", s.handleListAccounts)
	mux.HandleFunc("POST /api/accounts", s.handleCreateAccount)
	mux.HandleFunc("GET /api/accounts/{id}", s.handleGetAccount)
	mux.HandleFunc("GET /api/balances", s.handleTotalBalance)
	mux.HandleFunc("GET /api/accounts/{id}/balance", s.handleBalance)
	mux.HandleFunc("GET /api/accounts/{id}/trends", s.handleTrend)
	mux.HandleFunc("GET /api/accounts/{id}/snapshots", s.handleListSnapshots)
	mux.HandleFunc("GET /api/accounts/{id}/transactions", s.handleListTransactions)
	mux.HandleFunc("POST /api/transactions", s.handleRecordTransaction)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.chain(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// chain wraps the mux, outermost first: security headers, tracing, request
// logger, scanner detection, write rate limiting.
func (s *Server) chain(h http.Handler) http.Handler {
	onLimit := func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, s.securityDetector.ExtractClientIP(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		TooManyRequestsError().Write(w)
	}

	h = s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, onLimit, http.MethodPost)(h)
	h = s.securityDetector.Middleware(h)
	h = log.RequestIDMiddleware(trace.RequestID)(h)
	h = log.Middleware(s.logger)(h)
	h = s.traceMiddleware.Middleware(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	return h
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Close releases background goroutines without serving; used by tests and
// by mains that fail before ListenAndServe.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := ErrorFromDomain(err)
	status := statusFor(err)
	fields := log.NewFields().WithError(err)
	if errors.Is(err, errMalformed) {
		fields.WithErrorType(log.ErrorTypeValidation)
	}

	logger := log.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.LogError(r.Context(), "Request failed", err, op, fields)
	} else {
		fields[log.FieldStatusCode] = status
		logger.DebugContext(r.Context(), "Request rejected", fields.WithOperation(op).ToSlice()...)
	}
	resp.Write(w)
}
