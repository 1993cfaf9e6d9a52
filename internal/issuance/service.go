// Package issuance exchanges a site id for a short-lived upstream client secret.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/embedkit/internal/chatkit"
	"github.com/nextlevelbuilder/embedkit/internal/idgen"
	"github.com/nextlevelbuilder/embedkit/internal/resolver"
)

var (
	ErrMissingCredential = errors.New("no credential configured")
	ErrMissingWorkflow   = errors.New("no workflow id for this site")
)

// UpstreamError wraps any failure of the upstream call: HTTP errors, timeouts,
// transport errors and an open circuit.
type UpstreamError struct {
	// Message is safe to show to callers.
	Message string
	Err     error
}

func (e *UpstreamError) Error() string { return "upstream: " + e.Message }
func (e *UpstreamError) Unwrap() error { return e.Err }

// Resolver resolves a site id to a credential/workflow pair.
type Resolver interface {
	Resolve(ctx context.Context, siteID string) (resolver.Resolution, error)
}

// SessionCreator creates one upstream session.
type SessionCreator interface {
	CreateSession(ctx context.Context, req chatkit.SessionRequest) (*chatkit.Session, error)
}

// Request is an inbound token request. Both fields are optional.
type Request struct {
	SiteID     string
	WorkflowID string
}

// Service is stateless between calls.
type Service struct {
	resolver Resolver
	upstream SessionCreator
	userID   func() (string, error)
}

func NewService(r Resolver, upstream SessionCreator) *Service {
	return &Service{resolver: r, upstream: upstream, userID: idgen.UserID}
}

// IssueToken resolves the credential and workflow for req and creates one
// upstream session. An explicitly requested workflow wins over the resolved one.
func (s *Service) IssueToken(ctx context.Context, req Request) (string, error) {
	ctx, span := otel.Tracer("embedkit/issuance").Start(ctx, "issuance.issue_token")
	defer span.End()
	span.SetAttributes(attribute.String("embed.site_id", req.SiteID))

	res, err := s.resolver.Resolve(ctx, req.SiteID)
	if err != nil {
		span.SetStatus(codes.Error, "resolve")
		return "", fmt.Errorf("resolve credential: %w", err)
	}

	workflowID := res.WorkflowID
	if req.WorkflowID != "" {
		workflowID = req.WorkflowID
	}

	if res.Credential == "" {
		slog.Warn("issuance.missing_credential", "site_id", req.SiteID)
		span.SetStatus(codes.Error, "missing credential")
		return "", ErrMissingCredential
	}
	if workflowID == "" {
		span.SetStatus(codes.Error, "missing workflow")
		return "", ErrMissingWorkflow
	}
	span.SetAttributes(
		attribute.String("embed.credential_source", res.Source),
		attribute.String("embed.workflow_id", workflowID),
	)

	user, err := s.userID()
	if err != nil {
		return "", fmt.Errorf("generate user id: %w", err)
	}

	session, err := s.upstream.CreateSession(ctx, chatkit.SessionRequest{
		Credential: res.Credential,
		WorkflowID: workflowID,
		User:       user,
	})
	if err != nil {
		slog.Warn("issuance.upstream_failed", "site_id", req.SiteID, "workflow_id", workflowID, "error", err)
		span.SetStatus(codes.Error, "upstream")
		return "", &UpstreamError{Message: upstreamMessage(err), Err: err}
	}

	slog.Info("issuance.session_created",
		"site_id", req.SiteID,
		"workflow_id", workflowID,
		"credential_source", res.Source,
	)
	return session.ClientSecret, nil
}

func upstreamMessage(err error) string {
	var apiErr *chatkit.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Message
	case errors.Is(err, context.DeadlineExceeded):
		return "Upstream session API timed out"
	case errors.Is(err, chatkit.ErrCircuitOpen):
		return chatkit.ErrCircuitOpen.Error()
	default:
		return "Failed to generate token"
	}
}
