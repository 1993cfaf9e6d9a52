package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/embedkit/internal/guard"
	"github.com/nextlevelbuilder/embedkit/internal/idgen"
	"github.com/nextlevelbuilder/embedkit/internal/ratelimit"
	"github.com/nextlevelbuilder/embedkit/internal/store"
	"github.com/nextlevelbuilder/embedkit/pkg/protocol"
)

// ConfigHandler serves GET/POST /api/config.
type ConfigHandler struct {
	store      store.ConfigStore
	guard      *guard.Guard
	limiter    ratelimit.Limiter
	trustProxy bool
}

// NewConfigHandler creates a handler for the config endpoints.
func NewConfigHandler(s store.ConfigStore, g *guard.Guard, trustProxy bool) *ConfigHandler {
	return &ConfigHandler{store: s, guard: g, trustProxy: trustProxy}
}

// SetRateLimiter sets the mutation-class limiter (nil = no limit).
func (h *ConfigHandler) SetRateLimiter(l ratelimit.Limiter) {
	h.limiter = l
}

// RegisterRoutes registers the config routes on mux.
func (h *ConfigHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/config", h.handleGet)
	mux.HandleFunc("POST /api/config", h.handleUpdate)
}

// handleGet returns the masked summary. Secrets never leave the process, so
// no auth is required here.
func (h *ConfigHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.Read(r.Context())
	if err != nil {
		logServerError("config_read", err)
		writeError(w, toProtocolError(err))
		return
	}
	writeJSON(w, http.StatusOK, store.Mask(cfg))
}

type botPayload struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	SiteID     string  `json:"siteId"`
	WorkflowID string  `json:"workflowId"`
	Credential *string `json:"credential"`
	APIKey     *string `json:"apiKey"`
	Color      string  `json:"color"`
	Title      string  `json:"title"`
	Position   string  `json:"position"`
}

func (h *ConfigHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if !requireDashboard(h.guard, h.limiter, w, r, h.trustProxy) {
		return
	}
	if !admit(h.limiter, w, r, h.trustProxy) {
		return
	}

	var raw map[string]json.RawMessage
	if perr := decodeBody(w, r, &raw); perr != nil {
		writeError(w, perr)
		return
	}
	update, inputs, perr := parseUpdate(raw)
	if perr != nil {
		writeError(w, perr)
		return
	}

	if inputs != nil {
		bots := inputs
		needsMerge := false
		for i := range bots {
			if bots[i].ID == "" {
				bots[i].ID = idgen.BotID()
			}
			if !bots[i].CredentialSet {
				needsMerge = true
			}
		}
		var existing []store.Bot
		if needsMerge {
			cfg, err := h.store.Read(r.Context())
			if err != nil {
				logServerError("config_read", err)
				writeError(w, toProtocolError(err))
				return
			}
			existing = cfg.Bots
		}
		merged := store.MergeBots(existing, bots)
		update.Bots = &merged
	}

	if err := h.store.Write(r.Context(), update); err != nil {
		logServerError("config_write", err)
		writeError(w, toProtocolError(err))
		return
	}
	writeJSON(w, http.StatusOK, protocol.SuccessResponse{Success: true})
}

// parseUpdate validates the request shape: credential must be a string and
// bots an array of objects with string fields. "apiKey" is accepted as an alias
// of "credential" for dashboards built against the earlier API.
func parseUpdate(raw map[string]json.RawMessage) (store.Update, []store.BotInput, *protocol.Error) {
	var u store.Update

	credRaw, ok := raw["credential"]
	if !ok {
		credRaw, ok = raw["apiKey"]
	}
	if ok {
		var cred string
		if err := json.Unmarshal(credRaw, &cred); err != nil || isNull(credRaw) {
			return u, nil, protocol.NewError(protocol.ErrValidation, "credential must be a string")
		}
		u.Credential = &cred
	}

	botsRaw, ok := raw["bots"]
	if !ok {
		return u, nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(botsRaw, &items); err != nil || isNull(botsRaw) {
		return u, nil, protocol.NewError(protocol.ErrValidation, "bots must be an array")
	}

	inputs := make([]store.BotInput, 0, len(items))
	for i, item := range items {
		var p botPayload
		if err := json.Unmarshal(item, &p); err != nil || isNull(item) {
			return u, nil, protocol.NewError(protocol.ErrValidation, fmt.Sprintf("bots[%d] must be an object with string fields", i))
		}
		in := store.BotInput{Bot: store.Bot{
			ID:         p.ID,
			Name:       p.Name,
			SiteID:     p.SiteID,
			WorkflowID: p.WorkflowID,
			Color:      p.Color,
			Title:      p.Title,
			Position:   p.Position,
		}}
		cred := p.Credential
		if cred == nil {
			cred = p.APIKey
		}
		if cred != nil {
			in.Credential, in.CredentialSet = *cred, true
		}
		inputs = append(inputs, in)
	}
	if len(inputs) == 0 {
		// Distinguish "clear all bots" from "bots not submitted".
		inputs = []store.BotInput{}
	}
	slog.Debug("config.update_parsed", "credential", u.Credential != nil, "bots", len(inputs))
	return u, inputs, nil
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}
