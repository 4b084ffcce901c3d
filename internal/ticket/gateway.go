// Package ticket implements the gateway to the external ticket API.
//
// Every call to the ticket store goes through the Gateway, which attaches
// cached session tokens, applies the bounded refresh-and-retry policy on
// unauthorized responses, and translates HTTP failures into typed outcomes.
package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nocdesk/helpdeskbot/internal/models"
)

// Outcome classifies the result of a gateway call.
type Outcome string

const (
	// OutcomeOK is a successful (2xx) response.
	OutcomeOK Outcome = "ok"
	// OutcomeUnauthorized is a 401 that survived the refresh-and-retry policy.
	OutcomeUnauthorized Outcome = "unauthorized"
	// OutcomeConflict is a 409; passed through untouched to the caller.
	OutcomeConflict Outcome = "conflict"
	// OutcomeNotFound is a 404.
	OutcomeNotFound Outcome = "not_found"
	// OutcomeError is any other transport or HTTP failure; never retried automatically.
	OutcomeError Outcome = "error"
)

// maxAuthAttempts bounds the unauthorized retry policy: the original call
// plus one retry after a token refresh. A second 401 is fatal for the call.
const maxAuthAttempts = 2

// DefaultHTTPTimeout bounds a single request to the external API.
const DefaultHTTPTimeout = 30 * time.Second

// TokenSource provides cached session tokens for privileged calls.
type TokenSource interface {
	GetToken(ctx context.Context, operator string) (string, error)
	Invalidate(operator string) error
}

// Opts holds configuration options for the ticket gateway.
type Opts struct {
	BaseURL    string
	Username   string
	Password   string
	HTTPClient *http.Client
}

// Option defines a configuration option for the ticket gateway.
type Option func(*Opts)

// WithBaseURL sets the external ticket API base URL, e.g. "http://localhost:8001/api".
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithCredentials sets the bot credential used for login calls.
func WithCredentials(username, password string) Option {
	return func(o *Opts) {
		o.Username = username
		o.Password = password
	}
}

// WithHTTPClient overrides the HTTP client (used in tests).
func WithHTTPClient(client *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = client }
}

// Gateway is the single choke point for all calls to the external ticket API.
type Gateway struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	tokens   TokenSource
}

// NewGateway creates a gateway from the provided options. A token source must
// be attached with SetTokenSource before privileged calls are issued.
func NewGateway(opts ...Option) *Gateway {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	slog.Debug("Creating ticket Gateway", "base_url", cfg.BaseURL, "credentials_set", cfg.Username != "")
	return &Gateway{
		baseURL:  cfg.BaseURL,
		username: cfg.Username,
		password: cfg.Password,
		client:   client,
	}
}

// SetTokenSource attaches the credential cache. Separate from construction
// because the cache's login function is the gateway's own Login method.
func (g *Gateway) SetTokenSource(ts TokenSource) {
	g.tokens = ts
}

// apiError is the error body shape returned by the external API.
type apiError struct {
	Detail string `json:"detail"`
}

// call issues a single logical request. A non-empty operator marks the call
// as privileged: the cached token is attached and a 401 triggers one
// invalidate-and-retry cycle before being surfaced as fatal.
func (g *Gateway) call(ctx context.Context, method, path string, body interface{}, operator string) ([]byte, Outcome, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, OutcomeError, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	for attempt := 1; attempt <= maxAuthAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, OutcomeError, fmt.Errorf("failed to build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		if operator != "" {
			token, err := g.tokens.GetToken(ctx, operator)
			if err != nil {
				slog.Error("Gateway token acquisition failed", "error", err, "method", method, "path", path, "operator", operator)
				return nil, OutcomeError, fmt.Errorf("failed to acquire token: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			slog.Error("Gateway request failed", "error", err, "method", method, "path", path)
			return nil, OutcomeError, fmt.Errorf("request %s %s failed: %w", method, path, err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			slog.Error("Gateway response read failed", "error", err, "method", method, "path", path)
			return nil, OutcomeError, fmt.Errorf("failed to read response for %s %s: %w", method, path, err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			slog.Debug("Gateway call succeeded", "method", method, "path", path, "status", resp.StatusCode, "attempt", attempt)
			return respBody, OutcomeOK, nil
		}

		switch resp.StatusCode {
		case http.StatusUnauthorized:
			if operator != "" && attempt < maxAuthAttempts {
				// Refresh once and retry the original call once.
				slog.Warn("Gateway unauthorized, refreshing token", "method", method, "path", path, "operator", operator)
				if err := g.tokens.Invalidate(operator); err != nil {
					return nil, OutcomeError, fmt.Errorf("failed to invalidate token: %w", err)
				}
				continue
			}
			slog.Error("Gateway unauthorized after token refresh", "method", method, "path", path, "operator", operator)
			return respBody, OutcomeUnauthorized, models.ErrUnauthorized
		case http.StatusConflict:
			detail := decodeAPIError(respBody)
			slog.Info("Gateway conflict", "method", method, "path", path, "detail", detail)
			return respBody, OutcomeConflict, fmt.Errorf("%w: %s", models.ErrClaimConflict, detail)
		case http.StatusNotFound:
			slog.Debug("Gateway not found", "method", method, "path", path)
			return respBody, OutcomeNotFound, fmt.Errorf("%s %s: not found", method, path)
		default:
			slog.Error("Gateway call failed", "method", method, "path", path, "status", resp.StatusCode, "detail", decodeAPIError(respBody))
			return respBody, OutcomeError, fmt.Errorf("%s %s returned status %d", method, path, resp.StatusCode)
		}
	}
	// Unreachable: the loop always returns.
	return nil, OutcomeError, fmt.Errorf("%s %s: retry loop exhausted", method, path)
}

func decodeAPIError(body []byte) string {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Detail == "" {
		return string(body)
	}
	return apiErr.Detail
}

// Login authenticates with the configured bot credential and returns a fresh
// access token. Used by the credential cache; never retried here.
func (g *Gateway) Login(ctx context.Context) (string, error) {
	creds := map[string]string{"username": g.username, "password": g.password}
	body, outcome, err := g.call(ctx, http.MethodPost, "/auth/login", creds, "")
	if err != nil {
		return "", err
	}
	if outcome != OutcomeOK {
		return "", fmt.Errorf("login returned outcome %s", outcome)
	}
	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("login response missing access token")
	}
	return result.AccessToken, nil
}

// CreateTicket submits a confirmed ticket draft through the intake endpoint.
func (g *Gateway) CreateTicket(ctx context.Context, create models.TicketCreate) (*models.Ticket, Outcome, error) {
	body, outcome, err := g.call(ctx, http.MethodPost, "/webhook/telegram", create, "")
	if err != nil {
		return nil, outcome, err
	}
	var ticket models.Ticket
	if err := json.Unmarshal(body, &ticket); err != nil {
		return nil, OutcomeError, fmt.Errorf("failed to decode created ticket: %w", err)
	}
	return &ticket, outcome, nil
}

// GetTicket fetches a single ticket by ID.
func (g *Gateway) GetTicket(ctx context.Context, ticketID, operator string) (*models.Ticket, Outcome, error) {
	body, outcome, err := g.call(ctx, http.MethodGet, "/tickets/"+ticketID, nil, operator)
	if err != nil {
		return nil, outcome, err
	}
	var ticket models.Ticket
	if err := json.Unmarshal(body, &ticket); err != nil {
		return nil, OutcomeError, fmt.Errorf("failed to decode ticket: %w", err)
	}
	return &ticket, outcome, nil
}

// ListTickets fetches all tickets visible to the operator.
func (g *Gateway) ListTickets(ctx context.Context, operator string) ([]models.Ticket, Outcome, error) {
	body, outcome, err := g.call(ctx, http.MethodGet, "/tickets", nil, operator)
	if err != nil {
		return nil, outcome, err
	}
	var tickets []models.Ticket
	if err := json.Unmarshal(body, &tickets); err != nil {
		return nil, OutcomeError, fmt.Errorf("failed to decode ticket list: %w", err)
	}
	return tickets, outcome, nil
}

// ListOpenTickets fetches open tickets available for claiming.
func (g *Gateway) ListOpenTickets(ctx context.Context, operator string) ([]models.Ticket, Outcome, error) {
	body, outcome, err := g.call(ctx, http.MethodGet, "/tickets/open/available", nil, operator)
	if err != nil {
		return nil, outcome, err
	}
	var tickets []models.Ticket
	if err := json.Unmarshal(body, &tickets); err != nil {
		return nil, OutcomeError, fmt.Errorf("failed to decode open ticket list: %w", err)
	}
	return tickets, outcome, nil
}

// FindTicketByNumber resolves a ticket by its human-facing ticket number.
// The external API keys tickets by ID, so this scans the ticket list.
func (g *Gateway) FindTicketByNumber(ctx context.Context, ticketNumber, operator string) (*models.Ticket, Outcome, error) {
	tickets, outcome, err := g.ListTickets(ctx, operator)
	if err != nil {
		return nil, outcome, err
	}
	for i := range tickets {
		if tickets[i].TicketNumber == ticketNumber {
			return &tickets[i], OutcomeOK, nil
		}
	}
	return nil, OutcomeNotFound, fmt.Errorf("ticket %s not found", ticketNumber)
}

// UpdateTicket issues a partial update (claim or close). A conflict outcome
// is passed through untouched so the caller can translate it.
func (g *Gateway) UpdateTicket(ctx context.Context, ticketID string, update models.TicketUpdate, operator string) (Outcome, error) {
	_, outcome, err := g.call(ctx, http.MethodPut, "/tickets/"+ticketID, update, operator)
	return outcome, err
}

// CreateComment forwards a user chat reply as a ticket comment through the
// bot comment endpoint.
func (g *Gateway) CreateComment(ctx context.Context, comment models.CommentCreate, operator string) (Outcome, error) {
	_, outcome, err := g.call(ctx, http.MethodPost, "/bot/comments", comment, operator)
	return outcome, err
}

// PendingComments fetches operator replies queued for chat delivery.
func (g *Gateway) PendingComments(ctx context.Context, operator string) ([]models.PendingComment, Outcome, error) {
	body, outcome, err := g.call(ctx, http.MethodGet, "/comments/pending-telegram", nil, operator)
	if err != nil {
		return nil, outcome, err
	}
	var comments []models.PendingComment
	if err := json.Unmarshal(body, &comments); err != nil {
		return nil, OutcomeError, fmt.Errorf("failed to decode pending comments: %w", err)
	}
	return comments, outcome, nil
}

// MarkCommentSent acknowledges a delivered comment so it is not redelivered
// on the next relay tick. The server-side flag is idempotent.
func (g *Gateway) MarkCommentSent(ctx context.Context, commentID, operator string) (Outcome, error) {
	_, outcome, err := g.call(ctx, http.MethodPut, "/comments/"+commentID+"/mark-sent", nil, operator)
	return outcome, err
}
