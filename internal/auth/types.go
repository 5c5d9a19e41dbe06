package auth

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// JSONMap handles JSON database columns.
type JSONMap map[string]interface{}

// Scan implements sql.Scanner.
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Value implements driver.Valuer.
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	return json.Marshal(j)
}

// User is an account that can run interviews.
type User struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	Username     string     `json:"username" db:"username"`
	PasswordHash string     `json:"-" db:"password_hash"`
	FullName     string     `json:"full_name" db:"full_name"`
	Role         string     `json:"role" db:"role"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	LastLogin    *time.Time `json:"last_login,omitempty" db:"last_login"`
	Metadata     JSONMap    `json:"metadata,omitempty" db:"metadata"`
}

// APIKey grants programmatic access.
type APIKey struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	KeyHash     string         `json:"-" db:"key_hash"`
	KeyPrefix   string         `json:"key_prefix" db:"key_prefix"`
	UserID      uuid.UUID      `json:"user_id" db:"user_id"`
	Name        string         `json:"name" db:"name"`
	Description string         `json:"description" db:"description"`
	Scopes      pq.StringArray `json:"scopes" db:"scopes"`
	LastUsed    *time.Time     `json:"last_used,omitempty" db:"last_used"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty" db:"expires_at"`
	IsActive    bool           `json:"is_active" db:"is_active"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// RefreshToken is a stored, hashed refresh token.
type RefreshToken struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	TokenHash string     `json:"-" db:"token_hash"`
	UserID    uuid.UUID  `json:"user_id" db:"user_id"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	Revoked   bool       `json:"revoked" db:"revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// UserContext is the authenticated identity attached to a request.
type UserContext struct {
	UserID    string   `json:"user_id"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Role      string   `json:"role"`
	Scopes    []string `json:"scopes"`
	IsAPIKey  bool     `json:"is_api_key"`
	TokenType string   `json:"token_type"`
}

// HasScope reports whether the context carries a scope.
func (uc *UserContext) HasScope(scope string) bool {
	for _, s := range uc.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// LoginRequest is a login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is a registration payload.
type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// CreateAPIKeyRequest is an API key creation payload.
type CreateAPIKeyRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Scopes      []string   `json:"scopes"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Audit event types.
const (
	AuditEventLogin          = "login"
	AuditEventLoginFailed    = "login_failed"
	AuditEventTokenRefresh   = "token_refresh"
	AuditEventAPIKeyCreated  = "api_key_created"
	AuditEventAPIKeyRevoked  = "api_key_revoked"
	AuditEventAPIKeyUsed     = "api_key_used"
	AuditEventAccountCreated = "account_created"
)

// Authorization scopes.
const (
	ScopeInterviewsRead  = "interviews:read"
	ScopeInterviewsWrite = "interviews:write"
	ScopeSessionsRead    = "sessions:read"
	ScopeSessionsWrite   = "sessions:write"
	ScopeReportsRead     = "reports:read"
	ScopeAPIKeysManage   = "api_keys:manage"
	ScopeUsersManage     = "users:manage"
)

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
