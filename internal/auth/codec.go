package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrTokenExpired is returned by Verify for a correctly signed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers malformed tokens, bad signatures, and unexpected algorithms.
	ErrTokenInvalid = errors.New("token invalid")
)

// TokenCodec signs and verifies HS256 access tokens shared across the mesh.
// It is safe for concurrent use.
type TokenCodec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// CodecOption customises a TokenCodec.
type CodecOption func(*TokenCodec)

// WithIssuer sets the iss claim written into, and required from, tokens.
func WithIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) {
		c.issuer = issuer
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTokenCodec creates a codec keyed by the shared HMAC secret.
func NewTokenCodec(secret string, opts ...CodecOption) (*TokenCodec, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("signing secret must be at least 32 bytes, got %d", len(secret))
	}
	c := &TokenCodec{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Now reports the codec's clock, the same instant Issue stamps into iat.
func (c *TokenCodec) Now() time.Time {
	return c.now()
}

// Issue signs a token for subject carrying claims, valid for ttl.
// claims.Subject, IssuedAt, and ExpiresAt are ignored in favour of the arguments.
func (c *TokenCodec) Issue(subject string, claims ClaimSet, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("issue token: subject is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("issue token: ttl must be positive")
	}

	now := c.now()
	mc := jwt.MapClaims(claims.toMap())
	mc["sub"] = subject
	mc["iat"] = jwt.NewNumericDate(now)
	mc["exp"] = jwt.NewNumericDate(now.Add(ttl))
	mc["jti"] = uuid.NewString()
	if c.issuer != "" {
		mc["iss"] = c.issuer
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer, and expiry.
// A correctly signed but expired token yields ErrTokenExpired; anything else ErrTokenInvalid.
func (c *TokenCodec) Verify(token string) (*ClaimSet, error) {
	parsed, err := jwt.Parse(token, c.keyFunc, c.parserOptions(jwt.WithExpirationRequired())...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return c.claimsOf(parsed)
}

// ClaimsAllowingExpired verifies the signature but not the time-based claims.
// It exists only to read the owner of an expired token when driving renewal.
func (c *TokenCodec) ClaimsAllowingExpired(token string) (*ClaimSet, error) {
	parsed, err := jwt.Parse(token, c.keyFunc, c.parserOptions(jwt.WithoutClaimsValidation())...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if c.issuer != "" {
		if iss, _ := parsed.Claims.GetIssuer(); iss != c.issuer {
			return nil, fmt.Errorf("%w: unexpected issuer", ErrTokenInvalid)
		}
	}
	return c.claimsOf(parsed)
}

func (c *TokenCodec) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	return c.secret, nil
}

func (c *TokenCodec) parserOptions(extra ...jwt.ParserOption) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	return append(opts, extra...)
}

func (c *TokenCodec) claimsOf(parsed *jwt.Token) (*ClaimSet, error) {
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrTokenInvalid)
	}
	cs, err := claimSetFromMap(mc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		cs.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		cs.IssuedAt = iat.Time
	}
	return &cs, nil
}
