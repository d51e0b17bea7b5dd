package sdk

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/hashjosh/meshauth/internal/auth"
)

const (
	defaultAccessCookie  = "ACCESS_TOKEN"
	defaultRefreshCookie = "REFRESH_TOKEN"

	authPath = "/api/v1/{service}/auth"
)

// Client talks to the auth API of one service on behalf of an end user.
// It keeps the tokens returned by Login and picks up rotated tokens whenever
// a response renews the session in band.
type Client struct {
	rc            *resty.Client
	service       string
	accessCookie  string
	refreshCookie string
	creds         credentialStore
}

// ClientOptions configures SDK client construction.
type ClientOptions struct {
	HTTPClient    *http.Client
	Credentials   *Credentials
	AccessCookie  string
	RefreshCookie string
	Logger        zerolog.Logger
}

// ClientOption mutates ClientOptions.
type ClientOption func(*ClientOptions)

// WithHTTPClient overrides the HTTP client used for API calls. The client is
// copied; its transport is reused.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(opts *ClientOptions) {
		opts.HTTPClient = client
	}
}

// WithCredentials seeds the client with previously stored tokens.
func WithCredentials(creds Credentials) ClientOption {
	return func(opts *ClientOptions) {
		opts.Credentials = &creds
	}
}

// WithCookieNames overrides the cookie names used to detect rotated tokens.
func WithCookieNames(access, refresh string) ClientOption {
	return func(opts *ClientOptions) {
		opts.AccessCookie = access
		opts.RefreshCookie = refresh
	}
}

// WithLogger logs every request at debug level.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(opts *ClientOptions) {
		opts.Logger = log
	}
}

func buildOptions(optFns []ClientOption) ClientOptions {
	opts := ClientOptions{Logger: zerolog.Nop()}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.AccessCookie == "" {
		opts.AccessCookie = defaultAccessCookie
	}
	if opts.RefreshCookie == "" {
		opts.RefreshCookie = defaultRefreshCookie
	}
	return opts
}

// NewClient creates a client for the service mounted at
// {baseURL}/api/v1/{service}/auth.
func NewClient(baseURL, service string, optFns ...ClientOption) *Client {
	opts := buildOptions(optFns)
	c := &Client{
		rc:            newRestyClient(baseURL, "auth", opts),
		service:       service,
		accessCookie:  opts.AccessCookie,
		refreshCookie: opts.RefreshCookie,
	}
	c.rc.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		c.captureRotation(resp.Cookies())
		return nil
	})
	if opts.Credentials != nil {
		c.creds.set(*opts.Credentials)
	}
	return c
}

// APIError is a non-2xx response from the auth API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("meshauth: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("meshauth: %d %s", e.StatusCode, e.Message)
}

// User is the account returned by Login.
type User struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	FirstName   string   `json:"firstName,omitempty"`
	LastName    string   `json:"lastName,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// Principal is the caller identity as seen by the service.
type Principal struct {
	Kind        string   `json:"kind"`
	Subject     string   `json:"subject"`
	UserID      string   `json:"userId,omitempty"`
	ServiceID   string   `json:"serviceId,omitempty"`
	FirstName   string   `json:"firstName,omitempty"`
	LastName    string   `json:"lastName,omitempty"`
	Email       string   `json:"email,omitempty"`
	PhoneNumber string   `json:"phoneNumber,omitempty"`
	Authorities []string `json:"authorities"`
}

type loginResponse struct {
	User                  User   `json:"user"`
	AccessTokenExpiresAt  int64  `json:"accessTokenExpiresAt"`
	RefreshToken          string `json:"refreshToken"`
	RefreshTokenExpiresAt int64  `json:"refreshTokenExpiresAt"`
	WebSocketToken        string `json:"websocketToken"`
	RememberMe            bool   `json:"rememberMe"`
}

type wsTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

type refreshResponse struct {
	AccessTokenExpiresAt  int64  `json:"accessTokenExpiresAt"`
	RefreshToken          string `json:"refreshToken"`
	RefreshTokenExpiresAt int64  `json:"refreshTokenExpiresAt"`
}

// Credentials returns a copy of the tokens currently held by the client.
func (c *Client) Credentials() Credentials {
	return c.creds.get()
}

// Login exchanges a username and password for a token pair. The access token
// is read from the Set-Cookie header of the response.
func (c *Client) Login(ctx context.Context, username, password string, rememberMe bool) (*User, error) {
	var out loginResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("service", c.service).
		SetBody(map[string]any{"username": username, "password": password, "rememberMe": rememberMe}).
		SetResult(&out).
		Post(authPath + "/login")
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}

	creds := Credentials{
		AccessExpiresAt:  time.UnixMilli(out.AccessTokenExpiresAt),
		RefreshToken:     out.RefreshToken,
		RefreshExpiresAt: time.UnixMilli(out.RefreshTokenExpiresAt),
		WebSocketToken:   out.WebSocketToken,
	}
	for _, cookie := range resp.Cookies() {
		if cookie.Name == c.accessCookie {
			creds.AccessToken = cookie.Value
		}
	}
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("login response carried no %s cookie", c.accessCookie)
	}
	c.creds.set(creds)
	return &out.User, nil
}

// Me returns the Principal the service resolved for the current credentials.
func (c *Client) Me(ctx context.Context) (*Principal, error) {
	var out Principal
	resp, err := c.R(ctx).SetResult(&out).Get(authPath + "/me")
	if err != nil {
		return nil, fmt.Errorf("me: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// Refresh rotates the held refresh token without waiting for the access
// token to expire.
func (c *Client) Refresh(ctx context.Context) error {
	var out refreshResponse
	resp, err := c.R(ctx).SetResult(&out).Post(authPath + "/refresh")
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	if resp.IsError() {
		return apiError(resp)
	}
	// Cookies already rotated the tokens; the body carries the expiries.
	creds := c.creds.get()
	creds.RefreshToken = out.RefreshToken
	creds.AccessExpiresAt = time.UnixMilli(out.AccessTokenExpiresAt)
	creds.RefreshExpiresAt = time.UnixMilli(out.RefreshTokenExpiresAt)
	c.creds.set(creds)
	return nil
}

// WebSocketToken fetches a short-lived token for the realtime handshake.
func (c *Client) WebSocketToken(ctx context.Context) (string, time.Time, error) {
	var out wsTokenResponse
	resp, err := c.R(ctx).SetResult(&out).Post(authPath + "/ws-token")
	if err != nil {
		return "", time.Time{}, fmt.Errorf("websocket token: %w", err)
	}
	if resp.IsError() {
		return "", time.Time{}, apiError(resp)
	}
	return out.Token, time.UnixMilli(out.ExpiresAt), nil
}

// Logout closes the current session and forgets the held tokens.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.R(ctx).Post(authPath + "/logout")
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if resp.IsError() {
		return apiError(resp)
	}
	c.creds.set(Credentials{})
	return nil
}

// R starts a request carrying the held credentials, with the {service} path
// parameter bound. The refresh token rides along in X-Refresh-Token so an
// expired access token is renewed in band; rotated tokens are captured from
// the response cookies.
func (c *Client) R(ctx context.Context) *resty.Request {
	req := c.rc.R().SetContext(ctx).SetPathParam("service", c.service)
	creds := c.creds.get()
	if creds.AccessToken != "" {
		req.SetAuthToken(creds.AccessToken)
	}
	if creds.RefreshToken != "" {
		req.SetHeader(auth.HeaderRefreshToken, creds.RefreshToken)
	}
	return req
}

func (c *Client) captureRotation(cookies []*http.Cookie) {
	var access, refresh string
	var refreshExpires time.Time
	for _, cookie := range cookies {
		if cookie.MaxAge < 0 {
			continue
		}
		switch cookie.Name {
		case c.accessCookie:
			access = cookie.Value
		case c.refreshCookie:
			refresh = cookie.Value
			refreshExpires = cookie.Expires
		}
	}
	if access == "" && refresh == "" {
		return
	}
	c.creds.rotate(access, refresh, refreshExpires)
}
