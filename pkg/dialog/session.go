package dialog

import (
	"sync"
	"time"
)

// Session is the transient per-user state of one reminder dialogue.
// Fields fill in as the user advances; ReminderID is set only on the
// edit path.
type Session struct {
	UserID     string
	Step       Step
	Medicine   string
	StartDate  string
	EndDate    string
	ReminderID int64
	UpdatedAt  time.Time
}

// SessionStore holds in-flight dialogue sessions keyed by user id.
// The controller consumes events from a single goroutine, but the store
// is also read by the console and debug paths, so access stays locked.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
	}
}

// Begin creates (or resets) the session for a user at the given step.
func (ss *SessionStore) Begin(userID string, step Step) *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	sess := &Session{
		UserID:    userID,
		Step:      step,
		UpdatedAt: time.Now(),
	}
	ss.sessions[userID] = sess
	return sess
}

func (ss *SessionStore) Get(userID string) (*Session, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	sess, ok := ss.sessions[userID]
	return sess, ok
}

func (ss *SessionStore) Clear(userID string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.sessions, userID)
}

// Touch records progress on a session.
func (ss *SessionStore) Touch(sess *Session) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	sess.UpdatedAt = time.Now()
}

func (ss *SessionStore) Len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.sessions)
}
