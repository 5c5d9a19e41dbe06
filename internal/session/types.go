package session

import (
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session has expired.
	ErrSessionExpired = errors.New("session expired")
)

// Interaction kinds recorded in a session's history.
const (
	InteractionQuestion = "question"
	InteractionAnswer   = "answer"
	InteractionGuidance = "guidance"
	InteractionDecision = "decision"
	InteractionSystem   = "system"
)

// Session ties a user's interviews together across API calls. It carries
// the interview registry, the human interaction log, and token accounting.
type Session struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	ExpiresAt time.Time              `json:"expires_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	Interviews []InterviewRef `json:"interviews"`
	History    []Interaction  `json:"history"`

	TotalTokensUsed int `json:"total_tokens_used"`
}

// InterviewRef records one interview started within the session.
type InterviewRef struct {
	InterviewID string     `json:"interview_id"`
	Problem     string     `json:"problem"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Interaction is one entry in the human-in-the-loop exchange log.
type Interaction struct {
	ID          string                 `json:"id"`
	InterviewID string                 `json:"interview_id,omitempty"`
	Kind        string                 `json:"kind"`
	Node        string                 `json:"node,omitempty"`
	Content     string                 `json:"content"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// IsExpired checks if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// LatestInterview returns the most recently started interview, if any.
func (s *Session) LatestInterview() (InterviewRef, bool) {
	if len(s.Interviews) == 0 {
		return InterviewRef{}, false
	}
	return s.Interviews[len(s.Interviews)-1], true
}

// FindInterview returns the ref for an interview ID.
func (s *Session) FindInterview(interviewID string) (InterviewRef, bool) {
	for _, ref := range s.Interviews {
		if ref.InterviewID == interviewID {
			return ref, true
		}
	}
	return InterviewRef{}, false
}

// RecentHistory returns the most recent interactions, oldest first.
func (s *Session) RecentHistory(count int) []Interaction {
	if count <= 0 {
		return nil
	}
	if len(s.History) <= count {
		return s.History
	}
	return s.History[len(s.History)-count:]
}

// AddTokens accumulates token usage onto the session.
func (s *Session) AddTokens(tokens int) {
	if tokens <= 0 {
		return
	}
	s.TotalTokensUsed += tokens
	s.UpdatedAt = time.Now()
}
