package http

import (
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/embedkit/internal/guard"
	"github.com/nextlevelbuilder/embedkit/internal/ratelimit"
	"github.com/nextlevelbuilder/embedkit/pkg/protocol"
)

// AuthHandler lets the dashboard discover whether a password is required and verify one.
type AuthHandler struct {
	guard      *guard.Guard
	limiter    ratelimit.Limiter
	trustProxy bool
}

func NewAuthHandler(g *guard.Guard, trustProxy bool) *AuthHandler {
	return &AuthHandler{guard: g, trustProxy: trustProxy}
}

// SetRateLimiter limits password attempts (nil = no limit).
func (h *AuthHandler) SetRateLimiter(l ratelimit.Limiter) {
	h.limiter = l
}

func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/auth/verify", h.handleStatus)
	mux.HandleFunc("POST /api/auth/verify", h.handleVerify)
}

func (h *AuthHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.AuthStatus{RequiresAuth: h.guard.Required()})
}

func (h *AuthHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	if !admit(h.limiter, w, r, h.trustProxy) {
		return
	}

	var req protocol.AuthVerifyRequest
	if perr := decodeBody(w, r, &req); perr != nil {
		writeError(w, perr)
		return
	}
	password := req.Password
	if password == "" {
		password = extractBearerToken(r)
	}

	if !h.guard.Check(password) {
		slog.Warn("security.dashboard_login_failed", "remote", r.RemoteAddr)
		writeError(w, protocol.NewError(protocol.ErrUnauthorized, "Invalid password"))
		return
	}
	writeJSON(w, http.StatusOK, protocol.SuccessResponse{Success: true})
}
