package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/embedkit/internal/issuance"
	"github.com/nextlevelbuilder/embedkit/internal/ratelimit"
	"github.com/nextlevelbuilder/embedkit/internal/store"
	"github.com/nextlevelbuilder/embedkit/pkg/protocol"
)

// maxRequestBodySize bounds every JSON request body.
const maxRequestBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, e *protocol.Error) {
	writeJSON(w, e.Status(), protocol.ErrorResponse{Error: e.Shape()})
}

// toProtocolError maps internal errors to the client-facing contract.
// Anything unrecognized becomes a generic STORE_ERROR with no internal detail.
func toProtocolError(err error) *protocol.Error {
	var pe *protocol.Error
	var upErr *issuance.UpstreamError
	switch {
	case errors.As(err, &pe):
		return pe
	case errors.Is(err, issuance.ErrMissingCredential):
		return protocol.NewError(protocol.ErrMissingCredential, "API key not configured. Please add it in the dashboard.")
	case errors.Is(err, issuance.ErrMissingWorkflow):
		return protocol.NewError(protocol.ErrMissingWorkflow, "No workflow ID found for this site")
	case errors.As(err, &upErr):
		return protocol.NewError(protocol.ErrUpstream, upErr.Message)
	case errors.Is(err, store.ErrInvalidBot):
		return protocol.NewError(protocol.ErrValidation, validationMessage(err))
	case errors.Is(err, store.ErrDuplicateSiteID):
		return protocol.NewError(protocol.ErrStore, "Each bot must have a unique site ID")
	default:
		return protocol.NewError(protocol.ErrStore, "Failed to access configuration")
	}
}

// validationMessage strips the sentinel prefix; the remainder only names fields.
func validationMessage(err error) string {
	msg := err.Error()
	if _, rest, ok := strings.Cut(msg, store.ErrInvalidBot.Error()+": "); ok {
		return rest
	}
	return msg
}

// admit applies limiter to the caller and writes a 429 when the budget is spent.
func admit(l ratelimit.Limiter, w http.ResponseWriter, r *http.Request, trustProxy bool) bool {
	if l == nil {
		return true
	}
	res := l.Allow(r.Context(), clientKey(r, trustProxy))
	if res.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	}
	if res.Allowed {
		return true
	}

	retry := res.RetryAfter(time.Now())
	w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
	shape := &protocol.ErrorShape{
		Code:         protocol.ErrRateLimited,
		Message:      "Too many requests. Please try again later.",
		RetryAfterMs: int(retry / time.Millisecond),
	}
	writeJSON(w, http.StatusTooManyRequests, protocol.ErrorResponse{Error: shape})
	return false
}

// decodeBody reads a size-limited JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) *protocol.Error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return protocol.NewError(protocol.ErrValidation, fmt.Sprintf("Request body exceeds %d bytes", maxErr.Limit))
		}
		return protocol.NewError(protocol.ErrValidation, "Invalid JSON body")
	}
	return nil
}

func logServerError(op string, err error) {
	slog.Error("http."+op+"_failed", "error", err)
}
