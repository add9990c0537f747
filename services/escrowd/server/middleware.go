package server

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"lukechampine.com/blake3"

	"p2pescrow/crypto"
	"p2pescrow/native/escrow"
	"p2pescrow/observability"
	"p2pescrow/observability/logging"
	"p2pescrow/services/escrowd/journal"
)

// HeaderIdempotencyKey opts a mutation into replay protection.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
)

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.nowFn()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		elapsed := s.nowFn().Sub(start)
		observability.HTTP().Observe(route, status, elapsed)
		s.logger.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"requestId", requestID(r),
			"durationMs", float64(elapsed)/float64(time.Millisecond))
	})
}

func hashRequest(method, path string, caller [20]byte, body []byte) string {
	sum := blake3.Sum256([]byte(strings.Join([]string{
		strings.ToUpper(method), path, crypto.FormatAddress(caller), string(body),
	}, "\n")))
	return hex.EncodeToString(sum[:])
}

// cacheable reports whether a response reflects a committed outcome worth
// replaying. A 502 is a committed order whose payout failed.
func cacheable(status int) bool {
	return (status >= 200 && status < 300) || status == http.StatusBadGateway
}

// pauseGate rejects order mutations while the engine is paused, ahead of any
// request parsing.
func (s *Server) pauseGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.engine.IsPaused() {
			s.writeFailure(w, r, escrow.ErrContractPaused, 0)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// idempotencyLease bounds how long a reservation survives a request that
// never finishes.
const idempotencyLease = time.Minute

// idempotent replays the stored response when a request repeats an
// Idempotency-Key with the same fingerprint. The key is reserved before the
// handler runs, so a concurrent duplicate gets 409 instead of a second
// execution. Requests without a key pass through.
func (s *Server) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		if key == "" || s.journal == nil {
			next.ServeHTTP(w, r)
			return
		}
		caller, _ := callerFrom(r.Context())
		body, err := readRequestBody(r)
		if err != nil {
			s.writeFailure(w, r, err, 0)
			return
		}
		scope := crypto.FormatAddress(caller)
		fingerprint := hashRequest(r.Method, r.URL.Path, caller, body)
		cached, err := s.journal.ReserveIdempotency(scope, key, fingerprint, idempotencyLease)
		switch {
		case errors.Is(err, journal.ErrIdempotencyMismatch):
			writeError(w, http.StatusConflict, codeIdempotencyMismatch, err.Error())
			return
		case errors.Is(err, journal.ErrIdempotencyInFlight):
			writeError(w, http.StatusConflict, codeIdempotencyInFlight, err.Error())
			return
		case err != nil:
			s.writeFailure(w, r, err, 0)
			return
		}
		if cached != nil {
			s.logger.Debug("idempotent replay",
				"requestId", requestID(r),
				logging.MaskField("idempotencyKey", key),
				"status", cached.StatusCode)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(headerReplayed, "true")
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		}

		committed := false
		defer func() {
			if committed {
				return
			}
			if err := s.journal.ReleaseIdempotency(scope, key); err != nil {
				s.logger.Warn("idempotency release failed",
					"requestId", requestID(r),
					"idempotencyKey", logging.MaskToken(key),
					"error", err)
			}
		}()

		r.Body = io.NopCloser(bytes.NewReader(body))
		var captured bytes.Buffer
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&captured)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if !cacheable(status) {
			return
		}
		// A failed save keeps the reservation until the lease lapses.
		committed = true
		if err := s.journal.SaveIdempotency(scope, key, fingerprint, status, captured.Bytes(), s.idempotencyTTL); err != nil {
			s.logger.Warn("idempotency save failed",
				"requestId", requestID(r),
				"idempotencyKey", logging.MaskToken(key),
				"error", err)
		}
	})
}
