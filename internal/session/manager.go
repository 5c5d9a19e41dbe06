// Package session keeps the per-user interview registry in Redis with a
// small local cache. A session outlives individual interviews and carries
// the full human interaction log for resumption and reporting.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/designdrill/orchestrator/internal/auth"
	"github.com/designdrill/orchestrator/internal/circuitbreaker"
	"github.com/designdrill/orchestrator/internal/metrics"
)

const (
	defaultTTL        = 30 * 24 * time.Hour
	defaultCacheSize  = 1024
	defaultMaxHistory = 500
)

// Manager handles session storage with a Redis backend.
type Manager struct {
	client     *circuitbreaker.RedisWrapper
	logger     *zap.Logger
	ttl        time.Duration
	maxHistory int

	mu          sync.RWMutex
	localCache  map[string]*Session
	cacheAccess map[string]time.Time
	maxCached   int
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets the session lifetime.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithCacheSize caps the local session cache.
func WithCacheSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxCached = n
		}
	}
}

// WithMaxHistory caps the interaction log length per session.
func WithMaxHistory(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxHistory = n
		}
	}
}

// NewManager connects to Redis and verifies the connection.
func NewManager(addr, password string, logger *zap.Logger, opts ...Option) (*Manager, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	client := circuitbreaker.NewRedisWrapper(redisClient, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	m := &Manager{
		client:      client,
		logger:      logger,
		ttl:         defaultTTL,
		maxHistory:  defaultMaxHistory,
		localCache:  make(map[string]*Session),
		cacheAccess: make(map[string]time.Time),
		maxCached:   defaultCacheSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateSession creates a new session for a user.
func (m *Manager) CreateSession(ctx context.Context, userID string, metadata map[string]interface{}) (*Session, error) {
	return m.createSession(ctx, uuid.New().String(), userID, metadata)
}

// CreateSessionWithID creates a session under a client-chosen ID. If the ID
// already belongs to another user a fresh ID is generated instead, so a
// guessed session ID can never be taken over.
func (m *Manager) CreateSessionWithID(ctx context.Context, sessionID, userID string, metadata map[string]interface{}) (*Session, error) {
	existing, err := m.GetSession(ctx, sessionID)
	if err == nil && existing != nil {
		if existing.UserID != userID {
			m.logger.Warn("Session ID reuse across users, generating new ID",
				zap.String("requested_session_id", sessionID),
				zap.String("requesting_user", userID))
			return m.CreateSession(ctx, userID, metadata)
		}
		return existing, nil
	}
	return m.createSession(ctx, sessionID, userID, metadata)
}

func (m *Manager) createSession(ctx context.Context, sessionID, userID string, metadata map[string]interface{}) (*Session, error) {
	now := time.Now()
	session := &Session{
		ID:         sessionID,
		UserID:     userID,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
		Metadata:   metadata,
		Interviews: make([]InterviewRef, 0),
		History:    make([]Interaction, 0),
	}

	if err := m.saveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	m.cachePut(session)

	m.logger.Info("Created session",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID))
	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Inc()
	return session, nil
}

// GetSession retrieves a session by ID. When an authenticated user is on the
// context, sessions owned by someone else read as not found.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	cached, ok := m.localCache[sessionID]
	m.mu.RUnlock()
	if ok {
		metrics.SessionCacheHits.Inc()
		if cached.IsExpired() {
			_ = m.DeleteSession(ctx, sessionID)
			return nil, ErrSessionExpired
		}
		if !ownedByCaller(ctx, cached) {
			return nil, ErrSessionNotFound
		}
		m.mu.Lock()
		m.cacheAccess[sessionID] = time.Now()
		m.mu.Unlock()
		return cached, nil
	}
	metrics.SessionCacheMisses.Inc()

	data, err := m.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if session.IsExpired() {
		_ = m.DeleteSession(ctx, sessionID)
		return nil, ErrSessionExpired
	}
	if !ownedByCaller(ctx, &session) {
		return nil, ErrSessionNotFound
	}

	m.cachePut(&session)
	return &session, nil
}

// UpdateSession persists session changes.
func (m *Manager) UpdateSession(ctx context.Context, session *Session) error {
	if session == nil {
		return fmt.Errorf("session is nil")
	}
	session.UpdatedAt = time.Now()
	if err := m.saveSession(ctx, session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	m.mu.Lock()
	m.localCache[session.ID] = session
	m.mu.Unlock()
	return nil
}

// DeleteSession removes a session.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	if err := m.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	m.mu.Lock()
	if _, ok := m.localCache[sessionID]; ok {
		delete(m.localCache, sessionID)
		delete(m.cacheAccess, sessionID)
	}
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()
	metrics.SessionsActive.Dec()

	m.logger.Info("Deleted session", zap.String("session_id", sessionID))
	return nil
}

// ExtendSession pushes out the session expiry.
func (m *Manager) ExtendSession(ctx context.Context, sessionID string, duration time.Duration) error {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	session.ExpiresAt = time.Now().Add(duration)
	return m.UpdateSession(ctx, session)
}

// AttachInterview registers a started interview on the session.
func (m *Manager) AttachInterview(ctx context.Context, sessionID string, ref InterviewRef) error {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if ref.StartedAt.IsZero() {
		ref.StartedAt = time.Now()
	}
	if ref.Status == "" {
		ref.Status = "running"
	}
	session.Interviews = append(session.Interviews, ref)
	return m.UpdateSession(ctx, session)
}

// CompleteInterview marks an attached interview with its terminal status.
func (m *Manager) CompleteInterview(ctx context.Context, sessionID, interviewID, status string) error {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	for i := range session.Interviews {
		if session.Interviews[i].InterviewID == interviewID {
			now := time.Now()
			session.Interviews[i].Status = status
			session.Interviews[i].CompletedAt = &now
			return m.UpdateSession(ctx, session)
		}
	}
	return fmt.Errorf("interview %s not attached to session %s", interviewID, sessionID)
}

// RecordInteraction appends to the session's interaction log, trimming the
// oldest entries past the history cap.
func (m *Manager) RecordInteraction(ctx context.Context, sessionID string, in Interaction) error {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}
	session.History = append(session.History, in)
	if len(session.History) > m.maxHistory {
		session.History = session.History[len(session.History)-m.maxHistory:]
	}
	return m.UpdateSession(ctx, session)
}

// RecordTokenUsage accumulates token spend onto the session.
func (m *Manager) RecordTokenUsage(ctx context.Context, sessionID string, tokens int) error {
	if tokens <= 0 {
		return nil
	}
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	session.AddTokens(tokens)
	return m.UpdateSession(ctx, session)
}

// UserSessions lists live sessions belonging to a user.
func (m *Manager) UserSessions(ctx context.Context, userID string) ([]*Session, error) {
	keys, err := m.client.Keys(ctx, "session:*").Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var sessions []*Session
	for _, key := range keys {
		data, err := m.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var session Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		if session.UserID == userID && !session.IsExpired() {
			sessions = append(sessions, &session)
		}
	}
	return sessions, nil
}

// CleanupExpired removes sessions whose payload expiry passed before the
// Redis key TTL caught up, which happens after ExtendSession shrinks a
// session's lifetime.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	keys, err := m.client.Keys(ctx, "session:*").Result()
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	cleaned := 0
	for _, key := range keys {
		data, err := m.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var session Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		if session.IsExpired() {
			if err := m.client.Del(ctx, key).Err(); err == nil {
				cleaned++
			}
		}
	}

	if cleaned > 0 {
		m.logger.Info("Cleaned up expired sessions", zap.Int("count", cleaned))
	}
	return cleaned, nil
}

// Redis exposes the wrapped client for health checks.
func (m *Manager) Redis() *circuitbreaker.RedisWrapper {
	return m.client
}

// Close closes the Redis connection.
func (m *Manager) Close() error {
	return m.client.Close()
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

func (m *Manager) saveSession(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = m.ttl
	}
	return m.client.Set(ctx, sessionKey(session.ID), data, ttl).Err()
}

func (m *Manager) cachePut(session *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localCache[session.ID] = session
	m.cacheAccess[session.ID] = time.Now()
	m.evictOldest()
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
}

// evictOldest drops the least recently used half once the cache overflows.
// Caller holds the lock.
func (m *Manager) evictOldest() {
	if len(m.localCache) <= m.maxCached {
		return
	}
	type entry struct {
		id     string
		access time.Time
	}
	entries := make([]entry, 0, len(m.localCache))
	for id := range m.localCache {
		entries = append(entries, entry{id: id, access: m.cacheAccess[id]})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].access.Before(entries[j].access)
	})
	toRemove := m.maxCached / 2
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(m.localCache, entries[i].id)
		delete(m.cacheAccess, entries[i].id)
		metrics.SessionCacheEvictions.Inc()
	}
}

// ownedByCaller enforces per-user isolation when an authenticated user is on
// the context. Anonymous access (worker internals, tests) sees everything.
func ownedByCaller(ctx context.Context, session *Session) bool {
	uc, err := auth.GetUserContext(ctx)
	if err != nil || uc == nil || uc.UserID == "" {
		return true
	}
	return session.UserID == "" || session.UserID == uc.UserID
}
