package erp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/erp/ordersync/internal/domain/ordersync"
)

// ---------------------------------------------------------------------------
// Static token
// ---------------------------------------------------------------------------

// StaticTokenProvider returns a preconfigured token.
type StaticTokenProvider struct {
	token ordersync.Token
}

// NewStaticTokenProvider creates a provider for a fixed bearer token.
func NewStaticTokenProvider(accessToken, baseURL string) *StaticTokenProvider {
	return &StaticTokenProvider{token: ordersync.Token{AccessToken: accessToken, BaseURL: baseURL}}
}

// Token returns the configured token.
func (p *StaticTokenProvider) Token(ctx context.Context) (ordersync.Token, error) {
	if p.token.AccessToken == "" {
		return ordersync.Token{}, fmt.Errorf("%w: no static token configured", ordersync.ErrTokenUnavailable)
	}
	return p.token, nil
}

// ---------------------------------------------------------------------------
// Password grant
// ---------------------------------------------------------------------------

// PasswordGrantConfig holds the OAuth2 resource-owner credentials of the ERP.
type PasswordGrantConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Scope        string
}

// Errors for token configuration
var (
	ErrTokenConfigMissingBaseURL     = errors.New("erp: token base url is required")
	ErrTokenConfigMissingClientID    = errors.New("erp: token client id is required")
	ErrTokenConfigMissingCredentials = errors.New("erp: token username and password are required")
)

// Validate validates the grant configuration.
func (c *PasswordGrantConfig) Validate() error {
	if c.BaseURL == "" {
		return ErrTokenConfigMissingBaseURL
	}
	if c.ClientID == "" {
		return ErrTokenConfigMissingClientID
	}
	if c.Username == "" || c.Password == "" {
		return ErrTokenConfigMissingCredentials
	}
	if c.Scope == "" {
		c.Scope = "api"
	}
	return nil
}

const (
	tokenPath          = "/identity/connect/token"
	tokenRefreshMargin = 30 * time.Second
	tokenDefaultTTL    = 30 * time.Minute
	maxTokenResponse   = 1 << 20
)

// PasswordTokenProvider obtains tokens with the password grant and caches
// them until shortly before expiry.
type PasswordTokenProvider struct {
	cfg        PasswordGrantConfig
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	mu     sync.Mutex
	cached ordersync.Token
}

// NewPasswordTokenProvider creates a password grant provider.
func NewPasswordTokenProvider(cfg PasswordGrantConfig, httpClient *http.Client, logger *zap.Logger) (*PasswordTokenProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PasswordTokenProvider{cfg: cfg, httpClient: httpClient, logger: logger, now: time.Now}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Token returns the cached token or requests a new one.
func (p *PasswordTokenProvider) Token(ctx context.Context) (ordersync.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached.AccessToken != "" && p.now().Add(tokenRefreshMargin).Before(p.cached.ExpiresAt) {
		return p.cached, nil
	}

	tok, err := p.request(ctx)
	if err != nil {
		return ordersync.Token{}, fmt.Errorf("%w: %v", ordersync.ErrTokenUnavailable, err)
	}
	p.cached = tok
	p.logger.Debug("Obtained ERP token", zap.Time("expires_at", tok.ExpiresAt))
	return tok, nil
}

func (p *PasswordTokenProvider) request(ctx context.Context) (ordersync.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)
	form.Set("username", p.cfg.Username)
	form.Set("password", p.cfg.Password)
	form.Set("scope", p.cfg.Scope)

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + tokenPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return ordersync.Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ordersync.Token{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return ordersync.Token{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return ordersync.Token{}, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return ordersync.Token{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return ordersync.Token{}, errors.New("token response without access_token")
	}

	return ordersync.Token{
		AccessToken: tr.AccessToken,
		BaseURL:     p.cfg.BaseURL,
		ExpiresAt:   p.expiry(tr),
	}, nil
}

// expiry prefers expires_in, then the JWT exp claim, then a default lifetime.
func (p *PasswordTokenProvider) expiry(tr tokenResponse) time.Time {
	now := p.now()
	if tr.ExpiresIn > 0 {
		return now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	if exp, ok := JWTExpiry(tr.AccessToken); ok {
		return exp
	}
	return now.Add(tokenDefaultTTL)
}

// JWTExpiry reads the exp claim of a JWT without verifying its signature.
// The token is only inspected for caching, never trusted.
func JWTExpiry(raw string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

var (
	_ ordersync.TokenProvider = (*StaticTokenProvider)(nil)
	_ ordersync.TokenProvider = (*PasswordTokenProvider)(nil)
)
