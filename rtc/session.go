package rtc

import "sync"

// Session is one registered call with a peer.
//
// The engine owns the session's negotiation internals; this type owns the
// registration bookkeeping: the local stream clone, its release token, the
// remote stream handle once negotiated, and a MutedState per direction.
type Session struct {
	id   string
	peer string

	engine       EngineSession
	localStream  *MediaStream
	releaseToken ReleaseToken

	localMuted  *MutedState
	remoteMuted *MutedState

	mu           sync.RWMutex
	remoteStream *MediaStream
	ended        bool
}

func newSession(id, peer string, engine EngineSession, local *MediaStream, token ReleaseToken, localMuted *MutedState) *Session {
	return &Session{
		id:           id,
		peer:         peer,
		engine:       engine,
		localStream:  local,
		releaseToken: token,
		localMuted:   localMuted,
		remoteMuted:  NewMutedState(false, false),
	}
}

// ID returns the session identifier, shared with the call id on the wire.
func (s *Session) ID() string { return s.id }

// Peer returns the peer's full JID.
func (s *Session) Peer() string { return s.peer }

// LocalStream returns this side's clone of the shared capture.
func (s *Session) LocalStream() *MediaStream { return s.localStream }

// RemoteStream returns the peer's media, or nil before negotiation
// completes.
func (s *Session) RemoteStream() *MediaStream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remoteStream
}

func (s *Session) setRemoteStream(stream *MediaStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteStream = stream
}

func (s *Session) clearRemoteStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteStream = nil
}

// LocalMuted returns the muted state of this side's tracks.
func (s *Session) LocalMuted() *MutedState { return s.localMuted }

// RemoteMuted returns the muted state reported by the peer. It is
// authoritative for the remote side only and never reconciled against
// local track flags.
func (s *Session) RemoteMuted() *MutedState { return s.remoteMuted }

// Engine returns the underlying engine session.
func (s *Session) Engine() EngineSession { return s.engine }

// markEnded flips the session to ended exactly once and reports whether
// this call did the flip. Guards cleanup against racing end paths.
func (s *Session) markEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	return true
}

// Ended reports whether the session has terminated.
func (s *Session) Ended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ended
}

// setLocalMute toggles the clone's tracks of one kind and recomputes the
// local muted state from the resulting track flags.
func (s *Session) setLocalMute(kind TrackKind, muted bool) {
	for _, t := range s.localStream.TracksOfKind(kind) {
		t.SetEnabled(!muted)
	}
	s.localMuted.Recompute(s.localStream)
}
