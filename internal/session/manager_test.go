package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap/zaptest"

	"github.com/designdrill/orchestrator/internal/auth"
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)

	mgr, err := NewManager(mr.Addr(), "", zaptest.NewLogger(t), opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	return mgr, mr
}

func TestCreateAndGetSession(t *testing.T) {
	mgr, mr := newTestManager(t)
	ctx := context.Background()

	s, err := mgr.CreateSession(ctx, "alice", map[string]interface{}{"locale": "en"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.ID == "" || s.UserID != "alice" {
		t.Fatalf("unexpected session: %+v", s)
	}

	got, err := mgr.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession from cache: %v", err)
	}
	if got.ID != s.ID {
		t.Errorf("cache hit returned wrong session: %s", got.ID)
	}

	// a second manager sharing the store exercises the Redis path
	fresh, err := NewManager(mr.Addr(), "", zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer fresh.Close()

	got, err = fresh.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession from redis: %v", err)
	}
	if got.UserID != "alice" || got.Metadata["locale"] != "en" {
		t.Errorf("redis round trip lost data: %+v", got)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.GetSession(context.Background(), "nope")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	mgr, _ := newTestManager(t, WithTTL(10*time.Millisecond))
	ctx := context.Background()

	s, err := mgr.CreateSession(ctx, "alice", nil)
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(30 * time.Millisecond)

	_, err = mgr.GetSession(ctx, s.ID)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestCreateSessionWithIDGuardsOwnership(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	original, err := mgr.CreateSessionWithID(ctx, "shared-id", "alice", nil)
	if err != nil {
		t.Fatal(err)
	}
	if original.ID != "shared-id" {
		t.Fatalf("expected requested ID, got %s", original.ID)
	}

	// same user gets the existing session back
	again, err := mgr.CreateSessionWithID(ctx, "shared-id", "alice", nil)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != "shared-id" {
		t.Errorf("same-user recreate should return the session, got %s", again.ID)
	}

	// a different user must not take the ID over
	hijack, err := mgr.CreateSessionWithID(ctx, "shared-id", "mallory", nil)
	if err != nil {
		t.Fatal(err)
	}
	if hijack.ID == "shared-id" {
		t.Error("session ID was taken over by another user")
	}
	if hijack.UserID != "mallory" {
		t.Errorf("new session has wrong owner: %s", hijack.UserID)
	}

	kept, err := mgr.GetSession(ctx, "shared-id")
	if err != nil {
		t.Fatal(err)
	}
	if kept.UserID != "alice" {
		t.Errorf("original session owner changed: %s", kept.UserID)
	}
}

func TestOwnerIsolation(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	s, err := mgr.CreateSession(ctx, "alice", nil)
	if err != nil {
		t.Fatal(err)
	}

	bobCtx := auth.ContextWithUser(ctx, &auth.UserContext{UserID: "bob"})
	if _, err := mgr.GetSession(bobCtx, s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("foreign user should see not found, got %v", err)
	}

	aliceCtx := auth.ContextWithUser(ctx, &auth.UserContext{UserID: "alice"})
	if _, err := mgr.GetSession(aliceCtx, s.ID); err != nil {
		t.Fatalf("owner should read their session: %v", err)
	}
}

func TestAttachAndCompleteInterview(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	s, err := mgr.CreateSession(ctx, "alice", nil)
	if err != nil {
		t.Fatal(err)
	}

	err = mgr.AttachInterview(ctx, s.ID, InterviewRef{
		InterviewID: "interview-1",
		Problem:     "Design a URL shortener",
	})
	if err != nil {
		t.Fatalf("AttachInterview: %v", err)
	}

	got, err := mgr.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	ref, ok := got.FindInterview("interview-1")
	if !ok {
		t.Fatal("interview not attached")
	}
	if ref.Status != "running" || ref.StartedAt.IsZero() {
		t.Errorf("unexpected ref defaults: %+v", ref)
	}

	if err := mgr.CompleteInterview(ctx, s.ID, "interview-1", "completed"); err != nil {
		t.Fatalf("CompleteInterview: %v", err)
	}
	got, _ = mgr.GetSession(ctx, s.ID)
	ref, _ = got.FindInterview("interview-1")
	if ref.Status != "completed" || ref.CompletedAt == nil {
		t.Errorf("completion not recorded: %+v", ref)
	}

	if err := mgr.CompleteInterview(ctx, s.ID, "missing", "completed"); err == nil {
		t.Error("completing an unattached interview should fail")
	}
}

func TestRecordInteractionCapsHistory(t *testing.T) {
	mgr, _ := newTestManager(t, WithMaxHistory(3))
	ctx := context.Background()

	s, err := mgr.CreateSession(ctx, "alice", nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		err := mgr.RecordInteraction(ctx, s.ID, Interaction{
			Kind:    InteractionAnswer,
			Content: fmt.Sprintf("answer %d", i),
		})
		if err != nil {
			t.Fatalf("RecordInteraction %d: %v", i, err)
		}
	}

	got, err := mgr.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.History) != 3 {
		t.Fatalf("history length = %d", len(got.History))
	}
	if got.History[0].Content != "answer 2" || got.History[2].Content != "answer 4" {
		t.Errorf("wrong entries retained: %+v", got.History)
	}
	if got.History[0].ID == "" || got.History[0].Timestamp.IsZero() {
		t.Error("interaction defaults not filled")
	}
}

func TestRecordTokenUsage(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	s, err := mgr.CreateSession(ctx, "alice", nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := mgr.RecordTokenUsage(ctx, s.ID, 100); err != nil {
		t.Fatal(err)
	}
	if err := mgr.RecordTokenUsage(ctx, s.ID, 50); err != nil {
		t.Fatal(err)
	}
	if err := mgr.RecordTokenUsage(ctx, s.ID, 0); err != nil {
		t.Fatal(err)
	}

	got, _ := mgr.GetSession(ctx, s.ID)
	if got.TotalTokensUsed != 150 {
		t.Errorf("total tokens = %d", got.TotalTokensUsed)
	}
}

func TestUserSessions(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.CreateSession(ctx, "alice", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.CreateSession(ctx, "alice", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.CreateSession(ctx, "bob", nil); err != nil {
		t.Fatal(err)
	}

	sessions, err := mgr.UserSessions(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Errorf("alice sessions = %d", len(sessions))
	}
}

func TestCleanupExpired(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	keep, err := mgr.CreateSession(ctx, "alice", nil)
	if err != nil {
		t.Fatal(err)
	}
	doomed, err := mgr.CreateSession(ctx, "alice", nil)
	if err != nil {
		t.Fatal(err)
	}

	// shrink one session's lifetime so its payload expires ahead of the key
	if err := mgr.ExtendSession(ctx, doomed.ID, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	// drop local cache so cleanup reads stored payloads
	mgr.mu.Lock()
	mgr.localCache = make(map[string]*Session)
	mgr.cacheAccess = make(map[string]time.Time)
	mgr.mu.Unlock()

	cleaned, err := mgr.CleanupExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cleaned != 1 {
		t.Errorf("cleaned = %d", cleaned)
	}
	if _, err := mgr.GetSession(ctx, keep.ID); err != nil {
		t.Errorf("live session removed: %v", err)
	}
}

func TestCacheEviction(t *testing.T) {
	mgr, _ := newTestManager(t, WithCacheSize(2))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := mgr.CreateSession(ctx, "alice", nil); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mgr.mu.RLock()
	size := len(mgr.localCache)
	mgr.mu.RUnlock()
	if size > 2 {
		t.Errorf("cache size = %d, want <= 2", size)
	}
}
