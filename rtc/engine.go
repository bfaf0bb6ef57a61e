package rtc

// Engine is the external media-negotiation collaborator. ICE/SDP exchange
// and codec selection happen entirely behind this interface; the
// orchestration layer only starts, answers and terminates sessions and
// observes their lifecycle callbacks.
type Engine interface {
	// Initiate opens an outgoing media session with an accepted peer.
	// The stream is this side's clone of the shared local capture; muted
	// is the negotiated local muted state.
	Initiate(peerFullID, selfID string, stream *MediaStream, muted *MutedState) (EngineSession, error)

	// Answer opens the media session for an accepted incoming call.
	Answer(peerFullID, selfID string, stream *MediaStream, muted *MutedState) (EngineSession, error)
}

// EngineSession is one opaque media session owned by the engine. Callbacks
// may be delivered asynchronously but are treated as running on the same
// cooperative event queue as transport handlers; observers re-check state
// before acting.
type EngineSession interface {
	// ID returns the engine's session identifier.
	ID() string

	// Peer returns the peer's full JID.
	Peer() string

	// Terminate ends the session without waiting for peer acknowledgment.
	Terminate(reason string) error

	// OnRemoteStream registers the observer for negotiated remote media.
	OnRemoteStream(fn func(stream *MediaStream))

	// OnTerminated registers the observer for session end, whether caused
	// by the peer, the engine or an error. It does not fire for
	// Terminate calls made by this side.
	OnTerminated(fn func(reason, text string))

	// OnProtocolTimeout registers the observer for signaling exchanges
	// that received no answer within the engine's deadline.
	OnProtocolTimeout(fn func(source string))

	// OnProtocolError registers the observer for explicit error stanzas
	// from the peer. packet carries the offending payload.
	OnProtocolError(fn func(source string, packet []byte))
}
