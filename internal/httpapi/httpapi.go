package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"mercado/backend/internal/domain"
	"mercado/backend/internal/service"
	"mercado/backend/internal/store"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadBody = 10 << 20
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		logger:        logger,
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(a.recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After", "X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(securityHeaders)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Get("/products", a.handleListProducts)
			r.Get("/products/{id}/movements", a.handleProductMovements)
			r.Get("/categories", a.handleListCategories)
			r.Get("/suppliers", a.handleListSuppliers)
			r.Get("/customers", a.handleListCustomers)
			r.Post("/customers", a.handleCreateCustomer)
			r.Get("/payment-methods", a.handleListPaymentMethods)

			r.Route("/cash", func(r chi.Router) {
				r.Post("/open", a.handleCashOpen)
				r.Post("/movements", a.handleCashMovement)
				r.Post("/close", a.handleCashClose)
				r.Get("/status", a.handleCashStatus)
				r.Get("/sessions/{id}/report", a.handleCashReport)
			})

			r.Get("/sales", a.handleListSales)
			r.Post("/sales", a.handleCreateSale)
			r.Get("/sales/{id}", a.handleGetSale)

			r.Route("/purchases", func(r chi.Router) {
				r.Get("/", a.handleListPurchases)
				r.Post("/", a.handleCreatePurchase)
				r.Post("/drafts", a.handleCreateDraftPurchase)
				r.Post("/documents", a.handleCreatePurchaseFromDocument)
				r.Get("/suggestions", a.handlePurchaseSuggestions)
				r.Get("/{id}", a.handleGetPurchase)
				r.Post("/{id}/receive", a.handleReceivePurchase)
			})

			r.Post("/discards", a.handleCreateDiscard)
			r.Get("/discards", a.handleListDiscards)

			r.Route("/inventory", func(r chi.Router) {
				r.Get("/expiring", a.handleExpiringProducts)
				r.Post("/sessions", a.handleStartInventory)
				r.Get("/sessions/{id}", a.handleGetInventory)
				r.Post("/sessions/{id}/counts", a.handleSubmitCount)
				r.Post("/sessions/{id}/counts/import", a.handleImportCounts)
				r.Post("/sessions/{id}/finalize", a.handleFinalizeInventory)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(domain.RoleAdmin))

				r.Post("/products", a.handleCreateProduct)
				r.Patch("/products/{id}/active", a.handleSetProductActive)
				r.Post("/categories", a.handleCreateCategory)
				r.Post("/suppliers", a.handleCreateSupplier)
				r.Post("/payment-methods/seed", a.handleSeedPaymentMethods)
				r.Get("/users/cashiers", a.handleListCashiers)
				r.Post("/users/cashiers", a.handleCreateCashier)
				r.Patch("/users/{id}", a.handleUpdateUser)
			})
		})
	})

	return r
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, r, fmt.Errorf("%w: missing bearer token", store.ErrUnauthenticated))
			return
		}

		actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err == nil {
			actor, err = a.auth.Authorize(actor)
		}
		if err != nil {
			a.writeError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := service.ActorFromContext(r.Context())
			if !ok || !isRoleAllowed(actor.Role, roles) {
				writeErrorBody(w, http.StatusForbidden, store.Kind(store.ErrForbidden), store.ErrForbidden.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(startedAt)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.Stack("stack"),
				)
				writeErrorBody(w, http.StatusInternalServerError, "internal", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return store.Invalid("body", fmt.Sprintf("exceeds %d bytes", tooLarge.Limit))
		}
		return store.Invalid("body", err.Error())
	}
	return nil
}

func parsePositiveInt(raw string, fallback int) int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

// parseDateParam accepts RFC 3339 or a plain date. With endOfDay a plain date
// covers the whole day.
func parseDateParam(field string, raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, store.Invalid(field, "must be YYYY-MM-DD or RFC 3339")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// dateRange reads the from/to query parameters; a plain to date covers the
// whole day.
func dateRange(query url.Values) (*time.Time, *time.Time, error) {
	from, err := parseDateParam("from", query.Get("from"), false)
	if err != nil {
		return nil, nil, err
	}
	to, err := parseDateParam("to", query.Get("to"), true)
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrSessionAlreadyOpen),
		errors.Is(err, store.ErrNoOpenSession),
		errors.Is(err, store.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnjustifiedDiscrepancy):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	kind := store.Kind(err)
	msg := err.Error()
	if status >= 500 {
		a.logger.Error("request failed",
			zap.Int("status", status),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		msg = "internal server error"
		if status == http.StatusServiceUnavailable {
			msg = "service temporarily unavailable, retry the request"
			w.Header().Set("Retry-After", "1")
		}
	}

	body := map[string]any{"error": msg, "kind": kind}
	var stockErr *store.InsufficientStockError
	var discrepancy *store.DiscrepancyError
	var invalid *store.ValidationError
	switch {
	case errors.As(err, &stockErr):
		body["product_id"] = stockErr.ProductID
		body["available"] = stockErr.Available
		body["requested"] = stockErr.Requested
	case errors.As(err, &discrepancy):
		body["expected"] = discrepancy.Expected
		body["counted"] = discrepancy.Counted
		body["difference"] = discrepancy.Difference
	case errors.As(err, &invalid) && invalid.Field != "":
		body["field"] = invalid.Field
	}
	writeJSON(w, status, body)
}

func writeErrorBody(w http.ResponseWriter, status int, kind string, msg string) {
	writeJSON(w, status, map[string]any{"error": msg, "kind": kind})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
