package sdk

import (
	"context"
	"errors"
	"net/http"

	"github.com/hashjosh/meshauth/internal/auth"
)

type actingUserKey struct{}

// WithActingUser names the user a trusted service call is made on behalf of.
// TrustTransport forwards it as X-User-Id.
func WithActingUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actingUserKey{}, userID)
}

func actingUser(ctx context.Context) string {
	userID, _ := ctx.Value(actingUserKey{}).(string)
	return userID
}

// TrustTransport authenticates service-to-service calls with the
// X-Internal-Service header. The target service must list ServiceID in its
// trust configuration. End-user credentials on the request are removed.
type TrustTransport struct {
	ServiceID string
	Base      http.RoundTripper
}

// NewTrustClient returns an http.Client whose requests carry serviceID as a trusted caller.
func NewTrustClient(serviceID string, base *http.Client) *http.Client {
	client := &http.Client{}
	if base != nil {
		*client = *base
	}
	client.Transport = &TrustTransport{ServiceID: serviceID, Base: client.Transport}
	return client
}

// RoundTrip implements http.RoundTripper.
func (t *TrustTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.ServiceID == "" {
		return nil, errors.New("trust transport: service id is required")
	}
	out := req.Clone(req.Context())
	out.Header.Del("Authorization")
	out.Header.Del(auth.HeaderRefreshToken)
	out.Header.Set(auth.HeaderInternalService, t.ServiceID)
	if userID := actingUser(req.Context()); userID != "" {
		out.Header.Set(auth.HeaderUserID, userID)
	} else {
		out.Header.Del(auth.HeaderUserID)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(out)
}
