package oauth

import (
	"net/http"
	"sync"

	"github.com/wadahiro/authtester/internal/protocol"
)

// SessionCookieName is the browser cookie that keys a Session.
const SessionCookieName = "user_session"

// Session holds the access token obtained by the last successful callback.
type Session struct {
	AccessToken string
}

// SessionStore is an in-memory session store keyed by the session cookie.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates a new session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
	}
}

// Get retrieves the session named by the request's session cookie.
func (s *SessionStore) Get(r *http.Request) *Session {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil
	}
	return s.GetByID(cookie.Value)
}

// GetByID retrieves a session by ID.
func (s *SessionStore) GetByID(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// Set stores a session with the given ID.
func (s *SessionStore) Set(id string, session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = session
}

// Delete removes a session by ID.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Create stores session under a fresh ID and sets the session cookie,
// replacing any session the request already had.
func (s *SessionStore) Create(w http.ResponseWriter, r *http.Request, session *Session) error {
	id, err := protocol.RandomHex(32)
	if err != nil {
		return err
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		s.Delete(cookie.Value)
	}
	s.Set(id, session)

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear removes the request's session and expires the cookie.
func (s *SessionStore) Clear(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		s.Delete(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name: SessionCookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true,
	})
}
