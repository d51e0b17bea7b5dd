package auth

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Claim keys carried in access tokens. They are shared by every service of the mesh.
const (
	ClaimSubject     = "sub"
	ClaimUserID      = "userId"
	ClaimFirstName   = "firstname"
	ClaimLastName    = "lastname"
	ClaimEmail       = "email"
	ClaimPhoneNumber = "phoneNumber"
	ClaimRoles       = "roles"
	ClaimPermissions = "permissions"
)

// ClaimSet is the payload proven by a verified access token.
type ClaimSet struct {
	Subject     string   `mapstructure:"sub"`
	UserID      string   `mapstructure:"userId"`
	FirstName   string   `mapstructure:"firstname"`
	LastName    string   `mapstructure:"lastname"`
	Email       string   `mapstructure:"email"`
	PhoneNumber string   `mapstructure:"phoneNumber"`
	Roles       []string `mapstructure:"roles"`
	Permissions []string `mapstructure:"permissions"`

	// Set by the codec from the registered iat/exp claims.
	IssuedAt  time.Time `mapstructure:"-"`
	ExpiresAt time.Time `mapstructure:"-"`
}

// OwnerRef returns the reference refresh sessions are keyed by:
// the user-id claim when present, the subject otherwise.
func (c ClaimSet) OwnerRef() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// toMap renders the private claims. Registered claims (sub, exp, iat, iss, jti)
// are set by the codec.
func (c ClaimSet) toMap() map[string]any {
	m := map[string]any{
		ClaimRoles:       nonNil(c.Roles),
		ClaimPermissions: nonNil(c.Permissions),
	}
	optional := map[string]string{
		ClaimUserID:      c.UserID,
		ClaimFirstName:   c.FirstName,
		ClaimLastName:    c.LastName,
		ClaimEmail:       c.Email,
		ClaimPhoneNumber: c.PhoneNumber,
	}
	for k, v := range optional {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

// claimSetFromMap decodes a verified claim map. Unknown claims are ignored.
func claimSetFromMap(raw map[string]any) (ClaimSet, error) {
	var cs ClaimSet
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cs,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return ClaimSet{}, fmt.Errorf("build claims decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return ClaimSet{}, fmt.Errorf("decode claims: %w", err)
	}
	if cs.Subject == "" {
		return ClaimSet{}, fmt.Errorf("token missing %s claim", ClaimSubject)
	}
	return cs, nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
