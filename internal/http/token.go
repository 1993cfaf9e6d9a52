package http

import (
	"context"
	"net/http"

	"github.com/nextlevelbuilder/embedkit/internal/issuance"
	"github.com/nextlevelbuilder/embedkit/internal/ratelimit"
	"github.com/nextlevelbuilder/embedkit/pkg/protocol"
)

// TokenIssuer issues a client secret for an embed request.
type TokenIssuer interface {
	IssueToken(ctx context.Context, req issuance.Request) (string, error)
}

// TokenHandler serves POST /api/token. It is called by untrusted embed pages,
// so it carries no auth and relies on the issuance-class limiter.
type TokenHandler struct {
	issuer     TokenIssuer
	limiter    ratelimit.Limiter
	trustProxy bool
}

func NewTokenHandler(issuer TokenIssuer, trustProxy bool) *TokenHandler {
	return &TokenHandler{issuer: issuer, trustProxy: trustProxy}
}

// SetRateLimiter sets the issuance-class limiter (nil = no limit).
func (h *TokenHandler) SetRateLimiter(l ratelimit.Limiter) {
	h.limiter = l
}

func (h *TokenHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/token", h.handleIssue)
}

func (h *TokenHandler) handleIssue(w http.ResponseWriter, r *http.Request) {
	if !admit(h.limiter, w, r, h.trustProxy) {
		return
	}

	var req protocol.TokenRequest
	if perr := decodeBody(w, r, &req); perr != nil {
		writeError(w, perr)
		return
	}

	secret, err := h.issuer.IssueToken(r.Context(), issuance.Request{
		SiteID:     req.SiteID,
		WorkflowID: req.WorkflowID,
	})
	if err != nil {
		perr := toProtocolError(err)
		if perr.Code == protocol.ErrStore {
			logServerError("token_resolve", err)
		}
		writeError(w, perr)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, protocol.TokenResponse{ClientSecret: secret, ClientSecretLegacy: secret})
}
