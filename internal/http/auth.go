package http

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/embedkit/internal/guard"
	"github.com/nextlevelbuilder/embedkit/internal/ratelimit"
	"github.com/nextlevelbuilder/embedkit/pkg/protocol"
)

// extractBearerToken extracts a bearer token from the Authorization header.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// clientKey identifies the caller for rate limiting. X-Forwarded-For is only
// honored behind a trusted proxy; otherwise any client could pick its own key.
func clientKey(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
		}
		if real := r.Header.Get("X-Real-IP"); real != "" {
			return strings.TrimSpace(real)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requireDashboard rejects the request with 401 unless the guard authorizes its
// bearer secret. A rejected attempt still consumes a slot of l, so guessing the
// secret is throttled like any other mutation; once l is exhausted the caller
// gets 429 instead of 401.
func requireDashboard(g *guard.Guard, l ratelimit.Limiter, w http.ResponseWriter, r *http.Request, trustProxy bool) bool {
	if g.Check(extractBearerToken(r)) {
		return true
	}
	slog.Warn("security.unauthorized", "path", r.URL.Path, "remote", r.RemoteAddr)
	if !admit(l, w, r, trustProxy) {
		return false
	}
	writeError(w, protocol.NewError(protocol.ErrUnauthorized, "Unauthorized"))
	return false
}
