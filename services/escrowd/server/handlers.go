package server

import (
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"p2pescrow/crypto"
	"p2pescrow/native/escrow"
	"p2pescrow/observability"
	"p2pescrow/observability/otel"
	"p2pescrow/services/escrowd/api"
	"p2pescrow/services/escrowd/index"
)

// run executes one engine operation inside a span and records its outcome.
func (s *Server) run(r *http.Request, op string, orderID uint64, fn func() error) error {
	_, span := otel.StartOperation(r.Context(), op, orderID)
	start := s.nowFn()
	err := fn()
	outcome := "ok"
	if err != nil {
		outcome = escrow.Code(err)
		if outcome == "" {
			outcome = "error"
		}
	}
	otel.EndOperation(span, outcome, err)
	observability.Escrow().ObserveOperation(op, outcome, s.nowFn().Sub(start))
	if err == nil || outcome == "TRANSFER_FAILED" {
		observability.Escrow().SetCustodyBalance(amountFloat(s.engine.Balance()))
	}
	return err
}

func amountFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}

func parseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	v, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, badRequest("invalid amount %q", raw)
	}
	return v, nil
}

func orderIDParam(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, badRequest("invalid order id %q", raw)
	}
	return id, nil
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	var req api.CreateOrderRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeFailure(w, r, err, 0)
		return
	}
	orderType, err := escrow.ParseOrderType(req.Type)
	if err != nil {
		s.writeFailure(w, r, err, 0)
		return
	}
	value, err := parseAmount(req.Value)
	if err != nil {
		s.writeFailure(w, r, err, 0)
		return
	}
	var id uint64
	err = s.run(r, "create", 0, func() error {
		var createErr error
		id, createErr = s.engine.CreateOrder(caller, orderType, value)
		return createErr
	})
	if err != nil {
		s.writeFailure(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusCreated, api.CreateOrderResponse{ID: id, Order: s.orderView(id)})
}

// orderAction adapts a caller+id engine operation into a handler.
func (s *Server) orderAction(op string, fn func(caller [20]byte, id uint64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := callerFrom(r.Context())
		id, err := orderIDParam(r)
		if err != nil {
			s.writeFailure(w, r, err, 0)
			return
		}
		if err := s.run(r, op, id, func() error { return fn(caller, id) }); err != nil {
			s.writeFailure(w, r, err, id)
			return
		}
		writeJSON(w, http.StatusOK, s.orderView(id))
	}
}

func (s *Server) handleAcceptBuy(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	id, err := orderIDParam(r)
	if err != nil {
		s.writeFailure(w, r, err, 0)
		return
	}
	var req api.AcceptBuyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeFailure(w, r, err, 0)
		return
	}
	value, err := parseAmount(req.Value)
	if err != nil {
		s.writeFailure(w, r, err, 0)
		return
	}
	if err := s.run(r, "accept_buy", id, func() error { return s.engine.AcceptBuyOrder(caller, id, value) }); err != nil {
		s.writeFailure(w, r, err, id)
		return
	}
	writeJSON(w, http.StatusOK, s.orderView(id))
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	id, err := orderIDParam(r)
	if err != nil {
		s.writeFailure(w, r, err, 0)
		return
	}
	var req api.ResolveRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeFailure(w, r, err, 0)
		return
	}
	if err := s.run(r, "resolve", id, func() error { return s.engine.ResolveDispute(caller, id, req.FavorBuyer) }); err != nil {
		s.writeFailure(w, r, err, id)
		return
	}
	writeJSON(w, http.StatusOK, s.orderView(id))
}

func (s *Server) adminAction(op string, fn func(caller [20]byte) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := callerFrom(r.Context())
		if err := s.run(r, op, 0, func() error { return fn(caller) }); err != nil {
			s.writeFailure(w, r, err, 0)
			return
		}
		writeJSON(w, http.StatusOK, s.status())
	}
}

func (s *Server) status() api.Status {
	return api.Status{
		Paused:      s.engine.IsPaused(),
		Balance:     s.engine.Balance().Dec(),
		Owner:       crypto.FormatAddress(s.engine.Owner()),
		FeeBps:      s.engine.FeeBps(),
		LastOrderID: s.engine.LastOrderID(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDParam(r)
	if err != nil {
		s.writeFailure(w, r, err, 0)
		return
	}
	view := s.orderView(id)
	if view == nil {
		s.writeFailure(w, r, fmt.Errorf("%w: %d", escrow.ErrOrderNotFound, id), 0)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func filterFrom(r *http.Request) (index.Filter, error) {
	q := r.URL.Query()
	f := index.Filter{
		Status: q.Get("status"),
		Type:   q.Get("type"),
		Buyer:  q.Get("buyer"),
		Seller: q.Get("seller"),
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, badRequest("invalid %s %q", name, raw)
		}
		*dst = n
	}
	return f, nil
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "order index disabled")
		return
	}
	f, err := filterFrom(r)
	if err != nil {
		s.writeFailure(w, r, err, 0)
		return
	}
	rows, err := s.index.List(r.Context(), f)
	if err != nil {
		s.writeFailure(w, r, badRequest("%v", err), 0)
		return
	}
	out := api.OrderList{Orders: make([]api.Order, 0, len(rows)), Limit: f.Limit, Offset: f.Offset}
	for _, row := range rows {
		out.Orders = append(out.Orders, api.Order{
			ID:            row.ID,
			Type:          row.Type,
			Status:        row.Status,
			Buyer:         row.Buyer,
			Seller:        row.Seller,
			Amount:        row.Amount,
			LPFee:         row.LPFee,
			CreatedAt:     row.CreatedUnix,
			AcceptedAt:    row.AcceptedUnix,
			PaymentSentAt: row.PaymentSentUnix,
			ClosedAt:      row.ClosedUnix,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExportOrders(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "order index disabled")
		return
	}
	f, err := filterFrom(r)
	if err != nil {
		s.writeFailure(w, r, err, 0)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition", `attachment; filename="orders.parquet"`)
	n, err := s.index.ExportParquet(r.Context(), w, f)
	if err != nil {
		s.logger.Error("parquet export failed", "requestId", requestID(r), "rows", n, "error", err)
	}
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeFailure(w, r, badRequest("%v", err), 0)
		return
	}
	bal, err := s.accounts.AccountBalance(addr)
	if err != nil {
		s.writeFailure(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, api.Account{Address: crypto.FormatAddress(addr), Balance: bal.Dec()})
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeFailure(w, r, badRequest("%v", err), 0)
		return
	}
	var req api.CreditRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeFailure(w, r, err, 0)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeFailure(w, r, err, 0)
		return
	}
	if amount == nil || amount.IsZero() {
		s.writeFailure(w, r, badRequest("amount must be positive"), 0)
		return
	}
	bal, err := s.accounts.Credit(addr, amount)
	if err != nil {
		s.writeFailure(w, r, err, 0)
		return
	}
	s.logger.Info("dev faucet credit", "address", crypto.FormatAddress(addr), "amount", amount.Dec())
	writeJSON(w, http.StatusOK, api.Account{Address: crypto.FormatAddress(addr), Balance: bal.Dec()})
}
