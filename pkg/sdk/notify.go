package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// ServiceClient makes trusted service-to-service calls. Every request carries
// X-Internal-Service and, when the context names one, the acting user.
type ServiceClient struct {
	rc *resty.Client
}

// NewServiceClient returns a ServiceClient identifying itself as serviceID.
func NewServiceClient(baseURL, serviceID string, optFns ...ClientOption) *ServiceClient {
	rc := newRestyClient(baseURL, serviceID, buildOptions(optFns))
	rc.SetTransport(&TrustTransport{ServiceID: serviceID, Base: rc.GetClient().Transport})
	return &ServiceClient{rc: rc}
}

// Notification is a message addressed to one user's queue on the realtime service.
type Notification struct {
	Recipient   string          `json:"recipient"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// NotificationResult reports whether the notification reached a live
// connection or was held in the offline buffer.
type NotificationResult struct {
	Delivered int  `json:"delivered"`
	Buffered  bool `json:"buffered"`
}

// RevokeResult is returned by RevokeUserSessions.
type RevokeResult struct {
	Revoked int64 `json:"revoked"`
}

// Notify posts n to the realtime service's internal notification endpoint.
func (c *ServiceClient) Notify(ctx context.Context, n Notification) (*NotificationResult, error) {
	if n.Recipient == "" {
		return nil, errors.New("recipient is required")
	}
	var out NotificationResult
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(n).
		SetResult(&out).
		Post("/internal/notifications")
	if err != nil {
		return nil, fmt.Errorf("notify %s: %w", n.Recipient, err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// RevokeUserSessions deletes every refresh session of userID on the named service.
func (c *ServiceClient) RevokeUserSessions(ctx context.Context, service, userID string) (*RevokeResult, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	var out RevokeResult
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"service": service, "userID": userID}).
		SetResult(&out).
		Delete(authPath + "/users/{userID}/sessions")
	if err != nil {
		return nil, fmt.Errorf("revoke sessions of %s: %w", userID, err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}
