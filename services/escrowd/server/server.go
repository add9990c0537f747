// Package server exposes the escrow engine over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"p2pescrow/native/escrow"
	"p2pescrow/services/escrowd/api"
	"p2pescrow/services/escrowd/auth"
	"p2pescrow/services/escrowd/index"
	"p2pescrow/services/escrowd/journal"
)

const maxRequestBody = 64 << 10

// Engine is the escrow surface served over HTTP.
type Engine interface {
	CreateOrder(caller [20]byte, t escrow.OrderType, value *uint256.Int) (uint64, error)
	AcceptOrder(caller [20]byte, id uint64) error
	AcceptBuyOrder(caller [20]byte, id uint64, value *uint256.Int) error
	ConfirmPaymentSent(caller [20]byte, id uint64) error
	CompleteOrder(caller [20]byte, id uint64) error
	CancelOrder(caller [20]byte, id uint64) error
	CreateDispute(caller [20]byte, id uint64) error
	ResolveDispute(caller [20]byte, id uint64, favorBuyer bool) error
	RetryPayout(caller [20]byte, id uint64) error
	Pause(caller [20]byte) error
	Unpause(caller [20]byte) error
	GetOrder(id uint64) (*escrow.Order, bool)
	PendingPayouts(id uint64) (*escrow.PendingPayout, bool)
	IsPaused() bool
	Balance() *uint256.Int
	Owner() [20]byte
	FeeBps() uint32
	LastOrderID() uint64
}

// Accounts reads and credits participant balances.
type Accounts interface {
	AccountBalance(addr [20]byte) (*uint256.Int, error)
	Credit(addr [20]byte, amount *uint256.Int) (*uint256.Int, error)
}

// OrderIndex serves listings from the read model.
type OrderIndex interface {
	List(ctx context.Context, f index.Filter) ([]index.OrderRow, error)
	ExportParquet(ctx context.Context, w io.Writer, f index.Filter) (int, error)
}

// Journal serves the event log and idempotency cache.
type Journal interface {
	List(after uint64, limit int) ([]journal.Entry, error)
	Subscribe(ctx context.Context, buffer int) (<-chan journal.Entry, func(), error)
	ReserveIdempotency(scope, key, fingerprint string, lease time.Duration) (*journal.IdempotencyRecord, error)
	ReleaseIdempotency(scope, key string) error
	SaveIdempotency(scope, key, fingerprint string, status int, body []byte, ttl time.Duration) error
}

// Config wires the server dependencies.
type Config struct {
	Engine         Engine
	Accounts       Accounts
	Index          OrderIndex
	Journal        Journal
	Verifier       *auth.Verifier
	RateLimit      RateLimit
	IdempotencyTTL time.Duration
	DevFaucet      bool
	Logger         *slog.Logger
}

// Server routes HTTP requests to the engine.
type Server struct {
	engine         Engine
	accounts       Accounts
	index          OrderIndex
	journal        Journal
	callers        *CallerResolver
	limiter        *RateLimiter
	idempotencyTTL time.Duration
	devFaucet      bool
	logger         *slog.Logger
	nowFn          func() time.Time
}

// New constructs a server from cfg.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:         cfg.Engine,
		accounts:       cfg.Accounts,
		index:          cfg.Index,
		journal:        cfg.Journal,
		callers:        NewCallerResolver(cfg.Verifier),
		limiter:        NewRateLimiter(cfg.RateLimit, logger),
		idempotencyTTL: cfg.IdempotencyTTL,
		devFaucet:      cfg.DevFaucet,
		logger:         logger,
		nowFn:          time.Now,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer, s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/orders", s.handleListOrders)
		r.Get("/orders/export", s.handleExportOrders)
		r.Get("/orders/{id}", s.handleGetOrder)
		r.Get("/accounts/{addr}", s.handleGetAccount)
		r.Get("/events", s.handleListEvents)
		r.Get("/events/stream", s.handleStreamEvents)

		r.Group(func(r chi.Router) {
			r.Use(s.callers.Middleware, s.limiter.Middleware)
			r.Group(func(r chi.Router) {
				r.Use(s.pauseGate, s.idempotent)
				r.Post("/orders", s.handleCreateOrder)
				r.Post("/orders/{id}/accept", s.orderAction("accept", s.engine.AcceptOrder))
				r.Post("/orders/{id}/accept-buy", s.handleAcceptBuy)
				r.Post("/orders/{id}/payment-sent", s.orderAction("payment_sent", s.engine.ConfirmPaymentSent))
				r.Post("/orders/{id}/complete", s.orderAction("complete", s.engine.CompleteOrder))
				r.Post("/orders/{id}/cancel", s.orderAction("cancel", s.engine.CancelOrder))
				r.Post("/orders/{id}/dispute", s.orderAction("dispute", s.engine.CreateDispute))
				r.Post("/orders/{id}/resolve", s.handleResolve)
				r.Post("/orders/{id}/payouts/retry", s.orderAction("retry_payout", s.engine.RetryPayout))
			})
			r.Group(func(r chi.Router) {
				r.Use(s.idempotent)
				r.Post("/admin/pause", s.adminAction("pause", s.engine.Pause))
				r.Post("/admin/unpause", s.adminAction("unpause", s.engine.Unpause))
				if s.devFaucet {
					r.Post("/accounts/{addr}/credit", s.handleCredit)
				}
			})
		})
	})
	return r
}

func readRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBody {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func decodeBody(r *http.Request, out interface{}) error {
	data, err := readRequestBody(r)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return badRequest("invalid JSON payload: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) orderView(id uint64) *api.Order {
	order, ok := s.engine.GetOrder(id)
	if !ok {
		return nil
	}
	view := api.FromOrder(order)
	if pending, ok := s.engine.PendingPayouts(id); ok {
		view.PendingPayout = api.FromPendingPayout(pending)
	}
	return view
}
