// Package protocol defines the JSON wire format of the embedkit HTTP API.
// It is importable by dashboard and embed clients.
package protocol

// ErrorShape describes an API error.
type ErrorShape struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RetryAfterMs int    `json:"retryAfterMs,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error *ErrorShape `json:"error"`
}

// TokenRequest is the body of POST /api/token. Both fields are optional.
type TokenRequest struct {
	WorkflowID string `json:"workflowId,omitempty"`
	SiteID     string `json:"siteId,omitempty"`
}

// TokenResponse carries the upstream client secret. Both spellings are sent;
// the embed renderer reads client_secret.
type TokenResponse struct {
	ClientSecret       string `json:"clientSecret"`
	ClientSecretLegacy string `json:"client_secret"`
}

// SuccessResponse acknowledges a mutation.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status              string `json:"status"`
	Backend             string `json:"backend,omitempty"`
	Encrypted           bool   `json:"encrypted"`
	HasBots             bool   `json:"hasBots"`
	BotCount            int    `json:"botCount"`
	HasGlobalCredential bool   `json:"hasGlobalCredential"`
	Timestamp           string `json:"timestamp"`
	Error               string `json:"error,omitempty"`
}

// AuthStatus is the body of GET /api/auth/verify.
type AuthStatus struct {
	RequiresAuth bool `json:"requiresAuth"`
}

// AuthVerifyRequest is the body of POST /api/auth/verify.
type AuthVerifyRequest struct {
	Password string `json:"password"`
}
