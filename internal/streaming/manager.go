// Package streaming fans interview lifecycle events out to API subscribers.
// Events are kept in a per-interview ring buffer for Last-Event-ID replay
// and optionally mirrored to Redis streams so a fresh process can still
// serve history for long-running interviews.
package streaming

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/designdrill/orchestrator/internal/metrics"
)

const (
	defaultRingCapacity = 256
	defaultEventTTL     = 24 * time.Hour
	mirrorQueueSize     = 1024
	mirrorWriteTimeout  = 2 * time.Second
)

// streamKey names the Redis stream holding an interview's mirrored events.
func streamKey(interviewID string) string {
	return "interview:events:" + interviewID
}

// Manager provides in-memory pub/sub with bounded replay history.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
	eventTTL    time.Duration

	mirror   *redis.Client
	mirrorCh chan Event
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRingCapacity sets the per-interview replay buffer size.
func WithRingCapacity(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// WithEventTTL sets how long mirrored streams outlive their interview.
func WithEventTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.eventTTL = d
		}
	}
}

// WithMirror enables mirroring events to Redis streams.
func WithMirror(client *redis.Client) Option {
	return func(m *Manager) {
		m.mirror = client
	}
}

// NewManager creates an event manager. A nil mirror client keeps the
// manager purely in-memory.
func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    defaultRingCapacity,
		eventTTL:    defaultEventTTL,
		stopCh:      make(chan struct{}),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.mirror != nil {
		m.mirrorCh = make(chan Event, mirrorQueueSize)
		go m.mirrorLoop()
	}
	return m
}

// Subscribe adds a subscriber channel for an interview. The caller must
// drain the channel and call Unsubscribe when done.
func (m *Manager) Subscribe(interviewID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[interviewID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[interviewID] = subs
	}
	subs[ch] = struct{}{}
	metrics.StreamSubscribers.Inc()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (m *Manager) Unsubscribe(interviewID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs, ok := m.subscribers[interviewID]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	metrics.StreamSubscribers.Dec()
	if len(subs) == 0 {
		delete(m.subscribers, interviewID)
	}
}

// Publish assigns a sequence number, records the event for replay, fans it
// out to subscribers without blocking, and queues the mirror write.
func (m *Manager) Publish(interviewID string, evt Event) {
	if evt.InterviewID == "" {
		evt.InterviewID = interviewID
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	rg := m.history[interviewID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[interviewID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)
	subs := m.subscribers[interviewID]
	m.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(evt.Type).Inc()

	for ch := range subs {
		select {
		case ch <- evt:
		default:
			// slow subscriber, it can catch up via ReplaySince
		}
	}

	if m.mirrorCh != nil {
		select {
		case m.mirrorCh <- evt:
		default:
			m.logger.Warn("Event mirror queue full, dropping event",
				zap.String("interview_id", interviewID),
				zap.String("type", evt.Type))
		}
	}
}

// ReplaySince returns buffered events with Seq > since, oldest first.
func (m *Manager) ReplaySince(interviewID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[interviewID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// ReplayMirror reads an interview's mirrored events from Redis. It serves
// subscribers that connect after a restart emptied the local ring.
func (m *Manager) ReplayMirror(ctx context.Context, interviewID string, since uint64) ([]Event, error) {
	if m.mirror == nil {
		return nil, nil
	}
	msgs, err := m.mirror.XRange(ctx, streamKey(interviewID), "-", "+").Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		payload, ok := msg.Values["payload"].(string)
		if !ok {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			m.logger.Warn("Dropping unreadable mirrored event",
				zap.String("interview_id", interviewID),
				zap.Error(err))
			continue
		}
		if evt.Seq > since {
			out = append(out, evt)
		}
	}
	return out, nil
}

// CloseStreams ends distribution for a finished interview: subscribers are
// closed, the replay ring is dropped, and the mirrored stream is left to
// expire so late readers can still fetch history.
func (m *Manager) CloseStreams(interviewID string) {
	m.mu.Lock()
	if subs, ok := m.subscribers[interviewID]; ok {
		n := len(subs)
		for ch := range subs {
			close(ch)
		}
		delete(m.subscribers, interviewID)
		metrics.StreamSubscribers.Sub(float64(n))
	}
	delete(m.history, interviewID)
	m.mu.Unlock()

	if m.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
		defer cancel()
		if err := m.mirror.Expire(ctx, streamKey(interviewID), m.eventTTL).Err(); err != nil {
			m.logger.Warn("Cannot set TTL on mirrored stream",
				zap.String("interview_id", interviewID),
				zap.Error(err))
		}
	}
}

// Close drains pending mirror writes and stops the mirror worker.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

// mirrorLoop writes queued events to Redis in publish order.
func (m *Manager) mirrorLoop() {
	for {
		select {
		case evt := <-m.mirrorCh:
			m.writeMirror(evt)
		case <-m.stopCh:
			for {
				select {
				case evt := <-m.mirrorCh:
					m.writeMirror(evt)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) writeMirror(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
	defer cancel()
	key := streamKey(evt.InterviewID)
	err := m.mirror.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: int64(m.capacity) * 4,
		Approx: true,
		Values: map[string]interface{}{"payload": string(evt.Marshal())},
	}).Err()
	if err != nil {
		m.logger.Warn("Event mirror write failed",
			zap.String("interview_id", evt.InterviewID),
			zap.Error(err))
		return
	}
	m.mirror.Expire(ctx, key, m.eventTTL)
}

// ring is a fixed-capacity buffer of recent events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
