package rtc

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/anomous/webclient/xmpp"
)

// SessionRegistry maps peer full JIDs to active sessions.
//
// At most one session may exist per full JID; registering a second one is
// rejected and the existing session kept. The registry's emptiness drives
// local-stream teardown: the shared capture is released exactly when the
// registry transitions from non-empty to empty.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*Session),
	}
}

// Register stores the session under the peer's full JID. It fails with
// ErrDuplicateSession if an entry already exists; the existing session is
// kept.
func (r *SessionRegistry) Register(peerFullID string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[peerFullID]; exists {
		logrus.WithFields(logrus.Fields{
			"function": "Register",
			"peer":     peerFullID,
		}).Error("Rejecting duplicate session registration")
		return fmt.Errorf("%w: %s", ErrDuplicateSession, peerFullID)
	}
	r.sessions[peerFullID] = s

	logrus.WithFields(logrus.Fields{
		"function":   "Register",
		"peer":       peerFullID,
		"session_id": s.ID(),
		"active":     len(r.sessions),
	}).Debug("Session registered")

	return nil
}

// Unregister removes the session for the peer. Removing a peer with no
// session is a no-op.
func (r *SessionRegistry) Unregister(peerFullID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[peerFullID]; !exists {
		return
	}
	delete(r.sessions, peerFullID)

	logrus.WithFields(logrus.Fields{
		"function": "Unregister",
		"peer":     peerFullID,
		"active":   len(r.sessions),
	}).Debug("Session unregistered")
}

// Get returns the session for the peer's full JID.
func (r *SessionRegistry) Get(peerFullID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[peerFullID]
	return s, ok
}

// AllForBare returns every session whose peer shares the given bare JID.
// Used when a presence-unavailable or hangup-by-bare-JID event must affect
// every resource of a peer.
func (r *SessionRegistry) AllForBare(bareID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for peer, s := range r.sessions {
		if xmpp.SameBare(peer, bareID) {
			out = append(out, s)
		}
	}
	return out
}

// All returns every registered session.
func (r *SessionRegistry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Empty reports whether no session is registered.
func (r *SessionRegistry) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions) == 0
}

// Len returns the number of registered sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
