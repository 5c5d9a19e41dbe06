package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// apiKeyPrefix starts every issued key; the first eight characters are
// stored in clear for indexed lookup.
const apiKeyPrefix = "dk_"

// Service handles account and credential operations.
type Service struct {
	db         *sqlx.DB
	logger     *zap.Logger
	jwtManager *JWTManager
}

// NewService creates an authentication service.
func NewService(db *sqlx.DB, logger *zap.Logger, jwtSecret string, accessExpiry, refreshExpiry time.Duration) *Service {
	return &Service{
		db:         db,
		logger:     logger,
		jwtManager: NewJWTManager(jwtSecret, accessExpiry, refreshExpiry),
	}
}

// JWTManager exposes the token manager for middleware wiring.
func (s *Service) JWTManager() *JWTManager {
	return s.jwtManager
}

// Register creates a new user account.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	if req.Email == "" || req.Username == "" {
		return nil, fmt.Errorf("email and username are required")
	}
	if len(req.Password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)", req.Email)
	if err != nil {
		return nil, fmt.Errorf("check email existence: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("email already registered")
	}

	err = s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)", req.Username)
	if err != nil {
		return nil, fmt.Errorf("check username existence: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("username already taken")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &User{
		ID:           uuid.New(),
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: string(hashedPassword),
		FullName:     req.FullName,
		Role:         RoleUser,
		IsActive:     true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	query := `
		INSERT INTO users (id, email, username, password_hash, full_name, role, is_active)
		VALUES (:id, :email, :username, :password_hash, :full_name, :role, :is_active)
	`
	if _, err := s.db.NamedExecContext(ctx, query, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logAuditEvent(ctx, AuditEventAccountCreated, user.ID, nil)
	s.logger.Info("User registered",
		zap.String("user_id", user.ID.String()),
		zap.String("email", user.Email))
	return user, nil
}

// Login authenticates a user and returns a token pair.
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*TokenPair, error) {
	var user User
	err := s.db.GetContext(ctx, &user,
		"SELECT * FROM users WHERE email = $1 AND is_active = true", req.Email)
	if err != nil {
		if err == sql.ErrNoRows {
			s.logAuditEvent(ctx, AuditEventLoginFailed, uuid.Nil,
				map[string]interface{}{"email": req.Email})
			return nil, fmt.Errorf("invalid email or password")
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.logAuditEvent(ctx, AuditEventLoginFailed, user.ID, nil)
		return nil, fmt.Errorf("invalid email or password")
	}

	tokens, refreshTokenHash, err := s.jwtManager.GenerateTokenPair(&user)
	if err != nil {
		return nil, fmt.Errorf("generate tokens: %w", err)
	}
	if err := s.storeRefreshToken(ctx, user.ID, refreshTokenHash); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE users SET last_login = NOW() WHERE id = $1", user.ID); err != nil {
		s.logger.Warn("Cannot update last login", zap.Error(err))
	}

	s.logAuditEvent(ctx, AuditEventLogin, user.ID, nil)
	s.logger.Info("User logged in",
		zap.String("user_id", user.ID.String()),
		zap.String("email", user.Email))
	return tokens, nil
}

// Refresh exchanges a valid refresh token for a new token pair. The used
// token is revoked so each refresh token works exactly once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	tokenHash := hashToken(refreshToken)

	var stored RefreshToken
	err := s.db.GetContext(ctx, &stored,
		"SELECT * FROM refresh_tokens WHERE token_hash = $1 AND revoked = false", tokenHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("invalid refresh token")
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	if stored.ExpiresAt.Before(time.Now()) {
		return nil, fmt.Errorf("refresh token expired")
	}

	var user User
	err = s.db.GetContext(ctx, &user,
		"SELECT * FROM users WHERE id = $1 AND is_active = true", stored.UserID)
	if err != nil {
		return nil, fmt.Errorf("find user for refresh token: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = true, revoked_at = NOW() WHERE id = $1",
		stored.ID); err != nil {
		return nil, fmt.Errorf("revoke refresh token: %w", err)
	}

	tokens, newHash, err := s.jwtManager.GenerateTokenPair(&user)
	if err != nil {
		return nil, fmt.Errorf("generate tokens: %w", err)
	}
	if err := s.storeRefreshToken(ctx, user.ID, newHash); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	s.logAuditEvent(ctx, AuditEventTokenRefresh, user.ID, nil)
	return tokens, nil
}

// ValidateAPIKey validates an API key and returns its user context.
func (s *Service) ValidateAPIKey(ctx context.Context, apiKey string) (*UserContext, error) {
	if len(apiKey) < 8 {
		return nil, fmt.Errorf("invalid API key format")
	}
	keyPrefix := apiKey[:8]
	keyHash := hashToken(apiKey)

	var keys []APIKey
	err := s.db.SelectContext(ctx, &keys,
		"SELECT * FROM api_keys WHERE key_prefix = $1 AND is_active = true", keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("query api keys: %w", err)
	}

	var key *APIKey
	for i := range keys {
		if compareTokenHash(keys[i].KeyHash, keyHash) {
			key = &keys[i]
			break
		}
	}
	if key == nil {
		return nil, fmt.Errorf("invalid API key")
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return nil, fmt.Errorf("API key expired")
	}

	go func() {
		if _, err := s.db.Exec(
			"UPDATE api_keys SET last_used = NOW() WHERE id = $1", key.ID); err != nil {
			s.logger.Warn("Cannot update API key last used", zap.Error(err))
		}
	}()

	var user User
	err = s.db.GetContext(ctx, &user,
		"SELECT * FROM users WHERE id = $1 AND is_active = true", key.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user for API key: %w", err)
	}

	s.logAuditEvent(ctx, AuditEventAPIKeyUsed, user.ID,
		map[string]interface{}{"api_key_id": key.ID.String()})

	return &UserContext{
		UserID:    user.ID.String(),
		Username:  user.Username,
		Email:     user.Email,
		Role:      user.Role,
		Scopes:    key.Scopes,
		IsAPIKey:  true,
		TokenType: "api_key",
	}, nil
}

// CreateAPIKey mints a new API key. The clear-text key is returned exactly
// once; only the hash is stored.
func (s *Service) CreateAPIKey(ctx context.Context, userID uuid.UUID, req *CreateAPIKeyRequest) (string, *APIKey, error) {
	var user User
	err := s.db.GetContext(ctx, &user,
		"SELECT * FROM users WHERE id = $1", userID)
	if err != nil {
		return "", nil, fmt.Errorf("get user: %w", err)
	}

	apiKey, keyHash, keyPrefix, err := generateAPIKey()
	if err != nil {
		return "", nil, fmt.Errorf("generate api key: %w", err)
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = ScopesForRole(user.Role)
	}

	key := &APIKey{
		ID:          uuid.New(),
		KeyHash:     keyHash,
		KeyPrefix:   keyPrefix,
		UserID:      userID,
		Name:        req.Name,
		Description: req.Description,
		Scopes:      scopes,
		ExpiresAt:   req.ExpiresAt,
		IsActive:    true,
		CreatedAt:   time.Now(),
	}

	query := `
		INSERT INTO api_keys (id, key_hash, key_prefix, user_id, name, description, scopes, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := s.db.ExecContext(ctx, query,
		key.ID, key.KeyHash, key.KeyPrefix, key.UserID,
		key.Name, key.Description, key.Scopes, key.ExpiresAt); err != nil {
		return "", nil, fmt.Errorf("create api key: %w", err)
	}

	s.logAuditEvent(ctx, AuditEventAPIKeyCreated, userID,
		map[string]interface{}{"api_key_id": key.ID.String(), "name": key.Name})
	s.logger.Info("API key created",
		zap.String("key_id", key.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("name", key.Name))
	return apiKey, key, nil
}

// RevokeAPIKey deactivates one of the user's API keys.
func (s *Service) RevokeAPIKey(ctx context.Context, userID, keyID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET is_active = false WHERE id = $1 AND user_id = $2",
		keyID, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("api key not found")
	}
	s.logAuditEvent(ctx, AuditEventAPIKeyRevoked, userID,
		map[string]interface{}{"api_key_id": keyID.String()})
	return nil
}

func (s *Service) storeRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token_hash, expires_at) VALUES ($1, $2, $3)",
		userID, tokenHash, time.Now().Add(s.jwtManager.RefreshTokenExpiry()))
	return err
}

func (s *Service) logAuditEvent(ctx context.Context, eventType string, userID uuid.UUID, details map[string]interface{}) {
	var userIDPtr *uuid.UUID
	if userID != uuid.Nil {
		userIDPtr = &userID
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO audit_logs (event_type, user_id, details) VALUES ($1, $2, $3)",
		eventType, userIDPtr, JSONMap(details))
	if err != nil {
		s.logger.Warn("Cannot log audit event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func generateAPIKey() (key, hash, prefix string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", fmt.Errorf("generate random bytes: %w", err)
	}
	key = apiKeyPrefix + hex.EncodeToString(b)
	return key, hashToken(key), key[:8], nil
}
