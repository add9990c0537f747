package server

import (
	"errors"
	"fmt"
	"net/http"

	"p2pescrow/native/escrow"
	"p2pescrow/services/escrowd/api"
)

// Codes for failures raised by the HTTP layer itself. Engine failures use
// escrow.Code.
const (
	codeBadRequest          = "BAD_REQUEST"
	codeUnauthenticated     = "UNAUTHENTICATED"
	codeRateLimited         = "RATE_LIMITED"
	codeIdempotencyMismatch = "IDEMPOTENCY_MISMATCH"
	codeIdempotencyInFlight = "IDEMPOTENCY_IN_FLIGHT"
	codeNotFound            = "NOT_FOUND"
	codeUnavailable         = "UNAVAILABLE"
	codeInternal            = "INTERNAL"
)

var errBodyTooLarge = fmt.Errorf("request body exceeds %d bytes", maxRequestBody)

type requestError struct {
	status int
	code   string
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...interface{}) error {
	return &requestError{status: http.StatusBadRequest, code: codeBadRequest, msg: fmt.Sprintf(format, args...)}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, api.ErrorBody{Error: api.ErrorDetail{Code: code, Message: msg}})
}

// statusFor maps an error to its HTTP status and stable code.
func statusFor(err error) (int, string) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return reqErr.status, reqErr.code
	}
	if errors.Is(err, errBodyTooLarge) {
		return http.StatusRequestEntityTooLarge, codeBadRequest
	}
	code := escrow.Code(err)
	switch {
	case errors.Is(err, escrow.ErrContractPaused):
		return http.StatusServiceUnavailable, code
	case errors.Is(err, escrow.ErrOrderNotFound):
		return http.StatusNotFound, code
	case errors.Is(err, escrow.ErrUnauthorized):
		return http.StatusForbidden, code
	case errors.Is(err, escrow.ErrInvalidStatus):
		return http.StatusConflict, code
	case errors.Is(err, escrow.ErrInsufficientBalance),
		errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidOrderType),
		errors.Is(err, escrow.ErrInvalidFeeRate):
		return http.StatusBadRequest, code
	case errors.Is(err, escrow.ErrTransferFailed):
		return http.StatusBadGateway, code
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// writeFailure renders err. A transfer failure still reports the committed
// order so callers can see its terminal state.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error, orderID uint64) {
	status, code := statusFor(err)
	body := api.ErrorBody{Error: api.ErrorDetail{Code: code, Message: err.Error()}}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "requestId", requestID(r), "error", err)
		body.Error.Message = http.StatusText(status)
	}
	if status == http.StatusBadGateway && orderID != 0 {
		body.Order = s.orderView(orderID)
	}
	writeJSON(w, status, body)
}
