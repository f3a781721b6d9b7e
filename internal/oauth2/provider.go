// Package oauth2 keeps OAuth2 mail queues authenticated: it refreshes
// expiring access tokens and builds XOAUTH2 credentials for IMAP.
package oauth2

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	xoauth2 "golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/peppermint-lab/peppermint/internal/email/inbound"
	"github.com/peppermint-lab/peppermint/internal/models"
)

// GmailScope grants full IMAP access to a Gmail mailbox.
const GmailScope = "https://mail.google.com/"

const defaultExpirySkew = 60 * time.Second

// TokenRepository persists refreshed grants on the queue row.
type TokenRepository interface {
	UpdateQueueTokens(ctx context.Context, queueID string, tokens models.QueueTokens) error
}

// ClientDefaults supplies client credentials for queues that store none.
type ClientDefaults struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Provider hands out valid access tokens for OAuth2 mail queues.
type Provider struct {
	tokenRepo  TokenRepository
	endpoint   xoauth2.Endpoint
	scopes     []string
	defaults   ClientDefaults
	expirySkew time.Duration
	httpClient *http.Client
	now        func() time.Time
	logger     *zap.Logger
}

// Option customizes a Provider.
type Option func(*Provider)

// WithEndpoint overrides the token endpoint (Google by default).
func WithEndpoint(endpoint xoauth2.Endpoint) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithClientDefaults sets fallback client credentials.
func WithClientDefaults(d ClientDefaults) Option {
	return func(p *Provider) {
		p.defaults = d
	}
}

// WithExpirySkew sets how long before expiry a token is refreshed.
func WithExpirySkew(skew time.Duration) Option {
	return func(p *Provider) {
		if skew >= 0 {
			p.expirySkew = skew
		}
	}
}

// WithHTTPClient sets the client used for token requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithClock overrides the wall clock, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the provider logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProvider creates a token provider persisting refreshes through repo.
func NewProvider(repo TokenRepository, opts ...Option) *Provider {
	p := &Provider{
		tokenRepo:  repo,
		endpoint:   google.Endpoint,
		scopes:     []string{GmailScope},
		expirySkew: defaultExpirySkew,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// GetValidAccessToken returns the queue's access token, refreshing and
// persisting it first when it expires within the skew window. The queue is
// updated in place with the new grant.
func (p *Provider) GetValidAccessToken(ctx context.Context, queue *models.EmailQueue) (string, error) {
	if queue == nil {
		return "", &inbound.ConfigurationError{Reason: "nil mail queue"}
	}
	current := deref(queue.AccessToken)
	expiry := queue.TokenExpiry()
	if current != "" && !expiry.IsZero() && expiry.After(p.now().Add(p.expirySkew)) {
		return current, nil
	}

	refresh := deref(queue.RefreshToken)
	if refresh == "" {
		return "", &inbound.ConfigurationError{QueueID: queue.ID, Reason: "oauth2 queue has no refresh token"}
	}
	cfg := p.configFor(queue)
	if cfg.ClientID == "" {
		return "", &inbound.ConfigurationError{QueueID: queue.ID, Reason: "oauth2 queue has no client id"}
	}

	if p.httpClient != nil {
		ctx = context.WithValue(ctx, xoauth2.HTTPClient, p.httpClient)
	}
	// a non-zero expiry in the past forces the source to hit the endpoint
	stale := &xoauth2.Token{RefreshToken: refresh, AccessToken: current, Expiry: time.Unix(1, 0)}
	tok, err := cfg.TokenSource(ctx, stale).Token()
	if err != nil {
		return "", &inbound.ConnectionError{QueueID: queue.ID, Op: "oauth2 refresh", Err: err}
	}

	tokens := models.QueueTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refresh
	}
	if tokens.ExpiresAt.IsZero() {
		tokens.ExpiresAt = p.now().Add(time.Hour)
	}
	if p.tokenRepo != nil {
		if err := p.tokenRepo.UpdateQueueTokens(ctx, queue.ID, tokens); err != nil {
			return "", &inbound.PersistenceError{Op: "update queue tokens", Err: err}
		}
	}
	applyTokens(queue, tokens)

	p.logger.Info("refreshed oauth2 access token",
		zap.String("queue_id", queue.ID),
		zap.Time("expires_at", tokens.ExpiresAt),
	)
	return tokens.AccessToken, nil
}

func (p *Provider) configFor(queue *models.EmailQueue) *xoauth2.Config {
	cfg := &xoauth2.Config{
		ClientID:     firstNonEmpty(deref(queue.ClientID), p.defaults.ClientID),
		ClientSecret: firstNonEmpty(deref(queue.ClientSecret), p.defaults.ClientSecret),
		RedirectURL:  firstNonEmpty(deref(queue.RedirectURI), p.defaults.RedirectURL),
		Endpoint:     p.endpoint,
		Scopes:       p.scopes,
	}
	return cfg
}

func applyTokens(queue *models.EmailQueue, tokens models.QueueTokens) {
	access := tokens.AccessToken
	refresh := tokens.RefreshToken
	expires := tokens.ExpiresAt.UnixMilli()
	queue.AccessToken = &access
	queue.RefreshToken = &refresh
	queue.ExpiresIn = &expires
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
