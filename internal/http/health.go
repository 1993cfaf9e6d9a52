package http

import (
	"net/http"
	"time"

	"github.com/nextlevelbuilder/embedkit/internal/store"
	"github.com/nextlevelbuilder/embedkit/pkg/protocol"
)

// HealthHandler serves GET /api/health: read-only, no auth.
type HealthHandler struct {
	store store.ConfigStore
	now   func() time.Time
}

func NewHealthHandler(s store.ConfigStore) *HealthHandler {
	return &HealthHandler{store: s, now: time.Now}
}

func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.handleHealth)
}

func (h *HealthHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ts := h.now().UTC().Format(time.RFC3339)

	cfg, err := h.store.Read(r.Context())
	if err != nil {
		logServerError("health", err)
		writeJSON(w, http.StatusInternalServerError, protocol.HealthResponse{
			Status:    "error",
			Backend:   h.store.Backend(),
			Error:     "config store unreachable",
			Timestamp: ts,
		})
		return
	}

	writeJSON(w, http.StatusOK, protocol.HealthResponse{
		Status:              "ok",
		Backend:             h.store.Backend(),
		Encrypted:           true,
		HasBots:             len(cfg.Bots) > 0,
		BotCount:            len(cfg.Bots),
		HasGlobalCredential: cfg.Credential != "",
		Timestamp:           ts,
	})
}
