// Package pion implements the rtc media-engine collaborator on top of
// pion/webrtc. ICE/SDP negotiation stays inside this package; the
// orchestration layer only sees the rtc.Engine and rtc.EngineSession
// contracts. The embedding application pumps session descriptions and ICE
// candidates between two Sessions over whatever side channel it owns.
package pion

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/anomous/webclient/rtc"
)

// Engine builds pion peer connections configured with the relay/traversal
// servers handed down from the orchestration layer.
type Engine struct {
	mu      sync.Mutex
	servers []rtc.ICEServer
}

// New creates an engine. An empty server list disables NAT traversal.
func New(servers []rtc.ICEServer) *Engine {
	return &Engine{servers: servers}
}

// SetServers replaces the relay/traversal server list for future sessions.
// Existing sessions keep the configuration they were built with.
func (e *Engine) SetServers(servers []rtc.ICEServer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.servers = servers
}

func (e *Engine) configuration() webrtc.Configuration {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg := webrtc.Configuration{}
	for _, s := range e.servers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return cfg
}

// Initiate opens the offering side of a media session.
func (e *Engine) Initiate(peerFullID, selfID string, stream *rtc.MediaStream, muted *rtc.MutedState) (rtc.EngineSession, error) {
	s, err := e.newSession(peerFullID, stream)
	if err != nil {
		return nil, err
	}
	if err := s.createOffer(); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// Answer opens the answering side of a media session. The answer SDP is
// produced once the remote offer arrives via ApplyOffer.
func (e *Engine) Answer(peerFullID, selfID string, stream *rtc.MediaStream, muted *rtc.MutedState) (rtc.EngineSession, error) {
	return e.newSession(peerFullID, stream)
}

func (e *Engine) newSession(peerFullID string, stream *rtc.MediaStream) (*Session, error) {
	pc, err := webrtc.NewPeerConnection(e.configuration())
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:   stream.ID(),
		peer: peerFullID,
		pc:   pc,
	}

	if stream.HasAudio() {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
			s.close()
			return nil, err
		}
	}
	if stream.HasVideo() {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo); err != nil {
			s.close()
			return nil, err
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logrus.WithFields(logrus.Fields{
			"function": "OnTrack",
			"peer":     peerFullID,
			"kind":     track.Kind().String(),
			"track_id": track.ID(),
		}).Info("Remote track arrived")
		s.addRemoteTrack(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logrus.WithFields(logrus.Fields{
			"function": "OnConnectionStateChange",
			"peer":     peerFullID,
			"state":    state.String(),
		}).Debug("Peer connection state changed")

		if state == webrtc.PeerConnectionStateFailed {
			s.fireTerminated("error", "peer connection failed")
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		s.mu.Lock()
		fn := s.onCandidate
		s.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	return s, nil
}

// Session is one pion-backed media session.
type Session struct {
	id   string
	peer string
	pc   *webrtc.PeerConnection

	mu             sync.Mutex
	closed         bool
	terminated     bool
	remoteTracks   []*rtc.MediaTrack
	remoteStream   *rtc.MediaStream
	onRemote       func(*rtc.MediaStream)
	onTerminated   func(reason, text string)
	onProtoTimeout func(source string)
	onProtoError   func(source string, packet []byte)
	onCandidate    func(webrtc.ICECandidateInit)
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Peer returns the peer's full JID.
func (s *Session) Peer() string { return s.peer }

// Terminate closes the peer connection without waiting for the peer.
func (s *Session) Terminate(reason string) error {
	logrus.WithFields(logrus.Fields{
		"function": "Terminate",
		"peer":     s.peer,
		"reason":   reason,
	}).Info("Terminating media session")
	return s.close()
}

func (s *Session) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.pc.Close()
}

// OnRemoteStream registers the remote media observer.
func (s *Session) OnRemoteStream(fn func(*rtc.MediaStream)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemote = fn
}

// OnTerminated registers the session-end observer.
func (s *Session) OnTerminated(fn func(reason, text string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTerminated = fn
}

// OnProtocolTimeout registers the negotiation-timeout observer.
func (s *Session) OnProtocolTimeout(fn func(source string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onProtoTimeout = fn
}

// OnProtocolError registers the peer-error observer.
func (s *Session) OnProtocolError(fn func(source string, packet []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onProtoError = fn
}

// OnICECandidate registers the outbound candidate observer for the
// application's negotiation side channel.
func (s *Session) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCandidate = fn
}

func (s *Session) fireTerminated(reason, text string) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	fn := s.onTerminated
	s.mu.Unlock()

	if fn != nil {
		fn(reason, text)
	}
}

// addRemoteTrack folds arriving remote tracks into one remote stream and
// notifies the observer on every addition, so late tracks still surface.
func (s *Session) addRemoteTrack(track *webrtc.TrackRemote) {
	kind := rtc.TrackAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = rtc.TrackVideo
	}

	s.mu.Lock()
	s.remoteTracks = append(s.remoteTracks, rtc.NewMediaTrack(kind))
	s.remoteStream = rtc.NewMediaStream(s.remoteTracks...)
	stream := s.remoteStream
	fn := s.onRemote
	s.mu.Unlock()

	if fn != nil {
		fn(stream)
	}
}

// createOffer produces and installs the local offer. The application reads
// it via LocalDescription once ICE gathering settles.
func (s *Session) createOffer() error {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	return s.pc.SetLocalDescription(offer)
}

// LocalDescription returns the current local SDP, or nil before one exists.
func (s *Session) LocalDescription() *webrtc.SessionDescription {
	return s.pc.LocalDescription()
}

// ApplyOffer installs the remote offer and returns the local answer with
// ICE candidates gathered.
func (s *Session) ApplyOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	<-gatherComplete

	return s.pc.LocalDescription(), nil
}

// ApplyAnswer installs the remote answer on the offering side.
func (s *Session) ApplyAnswer(answer webrtc.SessionDescription) error {
	return s.pc.SetRemoteDescription(answer)
}

// AddICECandidate feeds a remote candidate from the side channel.
func (s *Session) AddICECandidate(cand webrtc.ICECandidateInit) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("session is closed")
	}
	return s.pc.AddICECandidate(cand)
}
