package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"p2pescrow/crypto"
	"p2pescrow/services/escrowd/auth"
)

// HeaderCaller names the caller when no token secret is configured.
const HeaderCaller = "X-Escrow-Caller"

var errNoCaller = errors.New("caller identity required")

type callerKey struct{}

// CallerResolver extracts the acting address from a request. With a verifier
// only bearer tokens are accepted; without one the caller header is trusted.
type CallerResolver struct {
	verifier *auth.Verifier
}

// NewCallerResolver returns a resolver. A nil verifier selects header mode.
func NewCallerResolver(verifier *auth.Verifier) *CallerResolver {
	return &CallerResolver{verifier: verifier}
}

// Resolve returns the caller of r.
func (c *CallerResolver) Resolve(r *http.Request) ([20]byte, error) {
	if c.verifier != nil {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(header, "Bearer ") {
			return [20]byte{}, errNoCaller
		}
		return c.verifier.Verify(strings.TrimPrefix(header, "Bearer "))
	}
	raw := strings.TrimSpace(r.Header.Get(HeaderCaller))
	if raw == "" {
		return [20]byte{}, errNoCaller
	}
	return crypto.ParseAddress(raw)
}

// Middleware rejects requests without a resolvable caller.
func (c *CallerResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := c.Resolve(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, codeUnauthenticated, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

func callerFrom(ctx context.Context) ([20]byte, bool) {
	caller, ok := ctx.Value(callerKey{}).([20]byte)
	return caller, ok
}

func requestID(r *http.Request) string {
	return chimw.GetReqID(r.Context())
}
