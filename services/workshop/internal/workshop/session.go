package workshop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/workshopkit/workshop/services/workshop/internal/jobcard"
)

const (
	DefaultSessionTTL = 2 * time.Hour
	maxQueuedNotices  = 50
	streamBuffer      = 16
)

var ErrSessionNotFound = errors.New("session not found")

// Message is one server-sent event for a session stream.
type Message struct {
	Event string
	Data  interface{}
}

// Session hosts one mounted job card engine and its activity feed for an
// operator. It is the engine's notifier: notices are queued and streamed.
type Session struct {
	ID        string
	OwnerID   string
	Engine    *jobcard.Engine
	CreatedAt time.Time

	mu          sync.Mutex
	expiresAt   time.Time
	feed        *jobcard.Feed
	notices     []jobcard.Notice
	subscribers map[string]chan Message
	closed      bool
}

func newSession(ownerID string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		CreatedAt:   now,
		expiresAt:   now.Add(ttl),
		subscribers: make(map[string]chan Message),
	}
}

func (s *Session) Notify(n jobcard.Notice) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	s.mu.Lock()
	s.notices = append(s.notices, n)
	if len(s.notices) > maxQueuedNotices {
		s.notices = s.notices[len(s.notices)-maxQueuedNotices:]
	}
	s.mu.Unlock()
	s.broadcast(Message{Event: "notice", Data: n})
}

// DrainNotices returns the queued notices and empties the queue.
func (s *Session) DrainNotices() []jobcard.Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.notices
	s.notices = nil
	if out == nil {
		out = []jobcard.Notice{}
	}
	return out
}

func (s *Session) Feed() *jobcard.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feed
}

// attachFeed replaces the session feed, stopping the previous one.
func (s *Session) attachFeed(feed *jobcard.Feed) {
	s.mu.Lock()
	previous := s.feed
	s.feed = feed
	s.mu.Unlock()
	if previous != nil {
		_ = previous.Stop()
	}
	if feed != nil {
		feed.OnChange(func(entries []jobcard.FeedEntry) {
			s.broadcast(Message{Event: "feed", Data: entries})
		})
	}
}

func (s *Session) Subscribe(subscriberID string) <-chan Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Message, streamBuffer)
	if s.closed {
		close(ch)
		return ch
	}
	s.subscribers[subscriberID] = ch
	return ch
}

func (s *Session) Unsubscribe(subscriberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[subscriberID]; ok {
		delete(s.subscribers, subscriberID)
		close(ch)
	}
}

// broadcast drops the message for subscribers whose buffer is full.
func (s *Session) broadcast(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (s *Session) touch(ttl time.Duration) {
	s.mu.Lock()
	s.expiresAt = time.Now().Add(ttl)
	s.mu.Unlock()
}

func (s *Session) expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.After(s.expiresAt)
}

func (s *Session) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	feed := s.feed
	s.feed = nil
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	s.mu.Unlock()
	if feed != nil {
		return feed.Stop()
	}
	return nil
}

// sessionReconciler refreshes the engine and streams the new job snapshot.
type sessionReconciler struct {
	session *Session
}

func (r sessionReconciler) Reconcile(ctx context.Context) error {
	if err := r.session.Engine.Reconcile(ctx); err != nil {
		return err
	}
	r.session.broadcast(Message{Event: "job", Data: r.session.Engine.Job()})
	return nil
}

func (r sessionReconciler) Origin() string {
	return r.session.Engine.Origin()
}

type SessionStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	ttl      time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	store := &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		done:     make(chan struct{}),
	}

	go store.cleanup()

	return store
}

func (s *SessionStore) Save(session *Session) error {
	if session == nil {
		return errors.New("session is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = session
	return nil
}

// Get returns a live session and extends its lifetime. Expired sessions
// report jobcard.ErrSessionExpired.
func (s *SessionStore) Get(sessionID string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	if session.expired(time.Now()) {
		s.Delete(sessionID)
		return nil, jobcard.ErrSessionExpired
	}

	session.touch(s.ttl)
	return session, nil
}

func (s *SessionStore) Delete(sessionID string) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if ok {
		_ = session.close()
	}
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Stop ends the cleanup loop and closes every session.
func (s *SessionStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
	for _, session := range sessions {
		_ = session.close()
	}
}

func (s *SessionStore) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.evictExpired(time.Now())
		}
	}
}

func (s *SessionStore) evictExpired(now time.Time) {
	s.mu.Lock()
	var expired []*Session
	for id, session := range s.sessions {
		if session.expired(now) {
			delete(s.sessions, id)
			expired = append(expired, session)
		}
	}
	s.mu.Unlock()

	for _, session := range expired {
		_ = session.close()
	}
}
