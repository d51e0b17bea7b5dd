package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// StringList is a JSON-encoded list of names (roles, permission slugs).
type StringList []string

// Scan implements sql.Scanner for reading from database
func (l *StringList) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*l = StringList{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to scan StringList: expected []byte or string, got %T", value)
	}
	if len(raw) == 0 {
		*l = StringList{}
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

// Value implements driver.Valuer for writing to database
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	bytes, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// User is a locally provisioned identity able to log in with a password.
// Roles and Permissions feed the claims of every access token issued to the user.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           string     `bun:"id,pk,type:uuid"`
	Username     string     `bun:"username,notnull,unique"`
	Email        string     `bun:"email,notnull,unique"`
	FirstName    string     `bun:"first_name"`
	LastName     string     `bun:"last_name"`
	PhoneNumber  string     `bun:"phone_number"`
	PasswordHash string     `bun:"password_hash,notnull"` // bcrypt hash
	Roles        StringList `bun:"roles,type:jsonb,notnull"`
	Permissions  StringList `bun:"permissions,type:jsonb,notnull"`
	CreatedAt    time.Time  `bun:"created_at,notnull"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull"`
	LastLoginAt  *time.Time `bun:"last_login_at"`
	DisabledAt   *time.Time `bun:"disabled_at"`
}

// IsDisabled reports whether the account has been disabled.
func (u *User) IsDisabled() bool {
	return u != nil && u.DisabledAt != nil
}

// RefreshSession is one live refresh token. Only the SHA-256 hash of the
// token is stored; a row is consumed exactly once when rotated.
type RefreshSession struct {
	bun.BaseModel `bun:"table:refresh_sessions,alias:rs"`

	ID         string    `bun:"id,pk,type:uuid"`
	TokenHash  string    `bun:"token_hash,notnull,unique"` // SHA256 hash of refresh token
	UserRef    string    `bun:"user_ref,notnull"`          // userId claim, or subject when absent
	ClientIP   string    `bun:"client_ip"`
	UserAgent  string    `bun:"user_agent"`
	RememberMe bool      `bun:"remember_me,notnull"`
	ExpiresAt  time.Time `bun:"expires_at,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}
