package rtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/anomous/webclient/xmpp"
)

// Manager is the orchestrating facade. It owns the session registry and the
// local stream registry, drives the invitation protocol and the incoming
// call handler, re-emits all state transitions as observable events, and
// reacts to transport connectivity and presence changes.
type Manager struct {
	selfID    string
	transport Transport
	engine    Engine
	cfg       Config
	tp        TimeProvider

	emitter  *Emitter
	local    *LocalStreamRegistry
	sessions *SessionRegistry

	mu                sync.Mutex
	running           bool
	invites           map[string]*Invitation
	relay             []ICEServer
	presenceInstalled bool
	requestTok        HandlerToken
	muteTok           HandlerToken
}

// NewManager creates the orchestration facade.
//
// selfID must be the local user's full JID. transport and engine are the
// external collaborators; device is the local capture seam handed to the
// stream registry.
func NewManager(selfID string, transport Transport, engine Engine, device CaptureDevice, cfg Config) (*Manager, error) {
	logrus.WithFields(logrus.Fields{
		"function": "NewManager",
		"self":     selfID,
	}).Info("Creating rtc manager")

	if transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	if engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	if device == nil {
		return nil, errors.New("capture device cannot be nil")
	}
	j, err := xmpp.Parse(selfID)
	if err != nil {
		return nil, fmt.Errorf("invalid self jid: %w", err)
	}
	if j.IsBare() {
		return nil, errors.New("self jid must carry a resource")
	}

	cfg = cfg.withDefaults()

	m := &Manager{
		selfID:    selfID,
		transport: transport,
		engine:    engine,
		cfg:       cfg,
		tp:        RealTimeProvider{},
		emitter:   NewEmitter(),
		local:     NewLocalStreamRegistry(device, cfg.IndependentTrackMute),
		sessions:  NewSessionRegistry(),
		invites:   make(map[string]*Invitation),
		relay:     cfg.ICEServers,
	}

	m.local.OnTeardown(func(stream *MediaStream) {
		m.emitter.Emit(EventLocalStreamClosing, LocalStreamEvent{Stream: stream})
	})
	transport.OnConnState(m.handleConnState)

	return m, nil
}

// SetTimeProvider injects a time source for deterministic testing.
// A nil provider restores the system clock.
func (m *Manager) SetTimeProvider(tp TimeProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tp = getTimeProvider(tp)
}

// timeProvider returns the current time source. Handlers read it without
// holding m.mu, so the swap in SetTimeProvider must be synchronized here.
func (m *Manager) timeProvider() TimeProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tp
}

// On subscribes fn to an event and returns an unsubscribe function.
func (m *Manager) On(ev Event, fn func(payload any)) (off func()) {
	return m.emitter.On(ev, fn)
}

// Start arms the incoming-call and mute-info handlers.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyRunning
	}
	m.requestTok = m.transport.AddHandler(matchType(StanzaCallRequest), m.handleCallRequest)
	m.muteTok = m.transport.AddHandler(matchType(StanzaMuteInfo), m.handleMuteInfo)
	m.running = true

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"self":     m.selfID,
	}).Info("rtc manager started")

	return nil
}

// Stop cancels pending invitations, terminates every session and disarms
// the transport handlers. Stopping a stopped manager is a no-op.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	pending := make([]*Invitation, 0, len(m.invites))
	for _, inv := range m.invites {
		pending = append(pending, inv)
	}
	requestTok, muteTok := m.requestTok, m.muteTok
	m.requestTok, m.muteTok = 0, 0
	m.mu.Unlock()

	for _, inv := range pending {
		inv.Cancel()
	}
	m.endAll("shutdown", "", true)

	m.transport.RemoveHandler(requestTok)
	m.transport.RemoveHandler(muteTok)

	logrus.WithFields(logrus.Fields{
		"function": "Stop",
	}).Info("rtc manager stopped")

	return nil
}

// StartCall sends a call invitation to target, which may be a full JID or a
// bare JID. A bare target broadcasts the request to every connected
// resource of that peer; the first responder wins.
//
// Local media is acquired before anything is sent: if the device fails, no
// protocol message goes out, EventLocalMediaFail fires and the error is
// returned as *MediaAcquisitionError.
func (m *Manager) StartCall(target string, media Constraints) (*Invitation, error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil, ErrNotRunning
	}
	for _, inv := range m.invites {
		if xmpp.SameBare(inv.target, target) {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrInvitePending, target)
		}
	}
	m.mu.Unlock()

	if !xmpp.IsBare(target) {
		if _, exists := m.sessions.Get(target); exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, target)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "StartCall",
		"target":    target,
		"broadcast": xmpp.IsBare(target),
		"audio":     media.Audio,
		"video":     media.Video,
	}).Info("Starting call")

	stream, token, err := m.local.Acquire(media)
	if err != nil {
		m.emitter.Emit(EventLocalMediaFail, LocalMediaFailEvent{Err: err})
		return nil, err
	}
	m.emitter.Emit(EventLocalStream, LocalStreamEvent{Stream: stream})

	inv := &Invitation{
		m:         m,
		id:        uuid.NewString(),
		target:    target,
		broadcast: xmpp.IsBare(target),
		media:     media,
		stream:    stream,
		token:     token,
	}
	inv.arm()

	m.mu.Lock()
	m.invites[inv.id] = inv
	m.mu.Unlock()

	if err := m.send(StanzaCallRequest, target, CallRequestPayload{
		CallID: inv.id,
		Media:  media,
	}); err != nil {
		// The invite never reached the wire; fold it up again.
		if inv.resolve(InviteCanceled) {
			m.dropInvitation(inv.id)
			m.local.Release(token)
		}
		return nil, fmt.Errorf("failed to send call request: %w", err)
	}

	return inv, nil
}

// EndCall terminates the session(s) for peer. A full JID ends exactly one
// session; a bare JID ends the sessions of every resource of that peer.
func (m *Manager) EndCall(peer, reason, text string) error {
	var targets []*Session
	if xmpp.IsBare(peer) {
		targets = m.sessions.AllForBare(peer)
	} else if s, ok := m.sessions.Get(peer); ok {
		targets = []*Session{s}
	}
	if len(targets) == 0 {
		return fmt.Errorf("%w: %s", ErrNoSuchSession, peer)
	}
	for _, s := range targets {
		m.terminateSession(s, reason, text, true)
	}
	return nil
}

// Mute applies a mute or unmute to the sessions resolved from peer: every
// session when peer is empty, otherwise every resource of peer's bare JID.
// It reports false when no session matched.
func (m *Manager) Mute(peer string, kind TrackKind, muted bool) bool {
	var targets []*Session
	if peer == "" {
		targets = m.sessions.All()
	} else {
		targets = m.sessions.AllForBare(xmpp.Bare(peer))
	}
	if len(targets) == 0 {
		return false
	}

	for _, s := range targets {
		s.setLocalMute(kind, muted)
		if err := m.send(StanzaMuteInfo, s.Peer(), MuteInfoPayload{
			CallID: s.ID(),
			Kind:   kind,
			Muted:  muted,
		}); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Mute",
				"peer":     s.Peer(),
				"error":    err.Error(),
			}).Warn("Failed to notify peer of mute change")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Mute",
		"peer":     peer,
		"kind":     string(kind),
		"muted":    muted,
		"sessions": len(targets),
	}).Info("Applied mute fan-out")

	return true
}

// handleMuteInfo applies a remote peer's mute notification to the matching
// session's remote muted state and re-emits it as an event. Local track
// flags are never touched.
func (m *Manager) handleMuteInfo(st *Stanza) {
	s, ok := m.sessions.Get(st.From)
	if !ok {
		return
	}
	var payload MuteInfoPayload
	if err := DecodePayload(st, &payload); err != nil || payload.CallID != s.ID() {
		return
	}

	s.RemoteMuted().Set(payload.Kind, payload.Muted)

	ev := EventUnmuted
	if payload.Muted {
		ev = EventMuted
	}
	m.emitter.Emit(ev, MuteEvent{
		Peer:    s.Peer(),
		Kind:    payload.Kind,
		Info:    s.RemoteMuted().Snapshot(),
		Session: s,
	})
}

// handleConnState reacts to transport connectivity changes. Connection loss
// overrides normal refcounting: every session dies immediately and the
// capture is force-released.
func (m *Manager) handleConnState(state ConnState) {
	logrus.WithFields(logrus.Fields{
		"function": "handleConnState",
		"state":    state.String(),
	}).Info("Transport connection state changed")

	switch state {
	case ConnConnected:
		m.installPresenceHandler()
		m.refreshRelayCredentials()

	case ConnDisconnecting, ConnDisconnected, ConnFailed:
		m.abortInvitations()
		m.endAll("connection", state.String(), false)
		m.local.ForceRelease()
	}
}

// abortInvitations resolves every pending invitation in place, disarming
// their handlers and timers without touching the wire. Used on connection
// loss: a cancel cannot be delivered anyway, and a late answer arriving
// after reconnect must not resurrect a call on the torn-down capture.
func (m *Manager) abortInvitations() {
	m.mu.Lock()
	pending := make([]*Invitation, 0, len(m.invites))
	for _, inv := range m.invites {
		pending = append(pending, inv)
	}
	m.mu.Unlock()

	for _, inv := range pending {
		if inv.resolve(InviteCanceled) {
			m.dropInvitation(inv.id)
			logrus.WithFields(logrus.Fields{
				"function": "abortInvitations",
				"invite":   inv.id,
				"target":   inv.target,
			}).Info("Aborted pending invitation on connection loss")
		}
	}
}

// installPresenceHandler arms the presence-unavailable reaction once.
func (m *Manager) installPresenceHandler() {
	m.mu.Lock()
	if m.presenceInstalled {
		m.mu.Unlock()
		return
	}
	m.presenceInstalled = true
	m.mu.Unlock()

	m.transport.OnPresenceUnavailable(func(from string) {
		bare := xmpp.Bare(from)
		for _, s := range m.sessions.AllForBare(bare) {
			logrus.WithFields(logrus.Fields{
				"function": "presenceUnavailable",
				"peer":     s.Peer(),
			}).Info("Terminating session of unavailable peer")
			m.terminateSession(s, "gone", "peer went offline", false)
		}
	})
}

// refreshRelayCredentials fetches fresh relay/traversal credentials from
// the transport. A failed fetch keeps the previous list.
func (m *Manager) refreshRelayCredentials() {
	servers, err := m.transport.RelayCredentials()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "refreshRelayCredentials",
			"error":    err.Error(),
		}).Warn("Relay credential fetch failed")
		return
	}
	m.mu.Lock()
	m.relay = servers
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "refreshRelayCredentials",
		"servers":  len(servers),
	}).Debug("Relay credentials refreshed")
}

// RelayServers returns the current relay/traversal server list: the last
// fetched credentials, or the configured static list before any fetch.
// An empty list disables NAT traversal.
func (m *Manager) RelayServers() []ICEServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ICEServer, len(m.relay))
	copy(out, m.relay)
	return out
}

// establishSession opens the engine session, registers it and wires its
// lifecycle callbacks into the event surface.
func (m *Manager) establishSession(callID, peerFullID string, stream *MediaStream, token ReleaseToken, muted *MutedState, outgoing bool) (*Session, error) {
	var (
		es  EngineSession
		err error
	)
	if outgoing {
		es, err = m.engine.Initiate(peerFullID, m.selfID, stream, muted)
	} else {
		es, err = m.engine.Answer(peerFullID, m.selfID, stream, muted)
	}
	if err != nil {
		return nil, fmt.Errorf("media engine failed: %w", err)
	}

	s := newSession(callID, peerFullID, es, stream, token, muted)
	if err := m.sessions.Register(peerFullID, s); err != nil {
		if terr := es.Terminate(ReasonError); terr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "establishSession",
				"peer":     peerFullID,
				"error":    terr.Error(),
			}).Warn("Failed to terminate rejected duplicate session")
		}
		return nil, err
	}

	es.OnRemoteStream(func(remote *MediaStream) {
		if s.Ended() {
			return
		}
		s.setRemoteStream(remote)
		m.emitter.Emit(EventRemoteStream, RemoteStreamEvent{
			Peer:    peerFullID,
			Stream:  remote,
			Session: s,
		})
	})
	es.OnTerminated(func(reason, text string) {
		m.terminateSession(s, reason, text, false)
	})
	es.OnProtocolTimeout(func(source string) {
		m.emitter.Emit(EventProtocolTimeout, ProtocolTimeoutEvent{Source: source, Session: s})
		m.terminateSession(s, "timeout", source, true)
	})
	es.OnProtocolError(func(source string, packet []byte) {
		m.emitter.Emit(EventProtocolError, ProtocolErrorEvent{Source: source, Session: s, Packet: packet})
		m.terminateSession(s, ReasonError, source, true)
	})

	logrus.WithFields(logrus.Fields{
		"function":   "establishSession",
		"peer":       peerFullID,
		"session_id": s.ID(),
		"outgoing":   outgoing,
	}).Info("Session established")

	m.emitter.Emit(EventCallInit, CallInitEvent{Peer: peerFullID, Session: s})
	return s, nil
}

// terminateSession runs the single cleanup path for a session. Racing end
// paths (remote hangup vs. local, connection loss vs. engine callback) are
// collapsed by the session's one-shot ended flag.
func (m *Manager) terminateSession(s *Session, reason, text string, notifyEngine bool) {
	if !s.markEnded() {
		return
	}

	if notifyEngine {
		if err := s.Engine().Terminate(reason); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "terminateSession",
				"peer":     s.Peer(),
				"error":    err.Error(),
			}).Warn("Engine terminate failed")
		}
	}

	// The clone's flags are exclusive to this session only when the
	// platform supports independent track state; in the degraded global
	// mode stopping them would kill every other call's media.
	if m.cfg.IndependentTrackMute {
		s.LocalStream().StopAll()
	}
	s.clearRemoteStream()
	m.sessions.Unregister(s.Peer())
	m.local.Release(s.releaseToken)

	logrus.WithFields(logrus.Fields{
		"function": "terminateSession",
		"peer":     s.Peer(),
		"reason":   reason,
	}).Info("Session terminated")

	m.emitter.Emit(EventCallEnded, CallEndedEvent{
		Peer:    s.Peer(),
		Session: s,
		Reason:  reason,
		Text:    text,
	})
}

// endAll terminates every registered session.
func (m *Manager) endAll(reason, text string, notifyEngine bool) {
	for _, s := range m.sessions.All() {
		m.terminateSession(s, reason, text, notifyEngine)
	}
}

// dropInvitation removes a resolved invitation from the pending map.
func (m *Manager) dropInvitation(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.invites, id)
}

// notifyHandled tells the other resources of a broadcast target that the
// invitation was resolved, so they stop ringing.
func (m *Manager) notifyHandled(inv *Invitation, by string, accepted bool) {
	if err := m.send(StanzaCallHandled, xmpp.Bare(inv.target), CallHandledPayload{
		CallID:   inv.id,
		By:       by,
		Accepted: accepted,
	}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "notifyHandled",
			"target":   inv.target,
			"error":    err.Error(),
		}).Warn("Failed to notify other resources")
	}
}

// sendCancel withdraws an invitation towards every resource of the target.
func (m *Manager) sendCancel(inv *Invitation) {
	if err := m.send(StanzaCallCancel, xmpp.Bare(inv.target), CallCancelPayload{
		CallID: inv.id,
	}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sendCancel",
			"target":   inv.target,
			"error":    err.Error(),
		}).Warn("Failed to send cancel")
	}
}

// sendDecline answers a call request negatively.
func (m *Manager) sendDecline(to, callID, reason, text string) {
	if err := m.send(StanzaCallDecline, to, CallDeclinePayload{
		CallID: callID,
		Reason: reason,
		Text:   text,
	}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sendDecline",
			"to":       to,
			"error":    err.Error(),
		}).Warn("Failed to send decline")
	}
}

// send builds and delivers one stanza.
func (m *Manager) send(stanzaType, to string, payload any) error {
	body, err := EncodePayload(payload)
	if err != nil {
		return err
	}
	return m.transport.Send(&Stanza{
		ID:      uuid.NewString(),
		Type:    stanzaType,
		From:    m.selfID,
		To:      to,
		Payload: body,
	})
}

// SessionCount returns the number of active sessions.
func (m *Manager) SessionCount() int {
	return m.sessions.Len()
}

// Session returns the active session for a peer's full JID.
func (m *Manager) Session(peerFullID string) (*Session, bool) {
	return m.sessions.Get(peerFullID)
}

// Sessions returns every active session.
func (m *Manager) Sessions() []*Session {
	return m.sessions.All()
}

// SelfID returns the local user's full JID.
func (m *Manager) SelfID() string {
	return m.selfID
}
