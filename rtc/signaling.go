package rtc

import (
	"encoding/json"
	"errors"
)

// Signaling stanzas exchanged over the message transport.
//
// The transport itself (connection, delivery, presence subscription) is an
// external collaborator; this file only defines the call-signaling message
// shapes and their codecs. Payload bodies are JSON, which is what the
// surrounding stanza stream carries.

// Stanza types used by the call protocol.
const (
	StanzaCallRequest = "call-request"
	StanzaCallAccept  = "call-accept"
	StanzaCallDecline = "call-decline"
	StanzaCallCancel  = "call-cancel"
	StanzaCallHandled = "call-handled"
	StanzaMuteInfo    = "call-mute-info"
)

// Decline reasons. ReasonBusy is the default when the peer supplies none;
// ReasonError marks a decline caused by local media failure.
const (
	ReasonBusy  = "busy"
	ReasonError = "error"
)

// Stanza is one signaling message on the wire.
type Stanza struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HandlerToken identifies one registered stanza handler. The zero value is
// never a valid token.
type HandlerToken uint64

// ConnState is the transport connection status.
type ConnState int

const (
	// ConnDisconnected is the idle, not-connected state.
	ConnDisconnected ConnState = iota
	// ConnConnected indicates the stream is established.
	ConnConnected
	// ConnDisconnecting indicates an orderly shutdown is in progress.
	ConnDisconnecting
	// ConnFailed indicates the connection was lost or could not be made.
	ConnFailed
)

// String returns a readable name for logging.
func (s ConnState) String() string {
	switch s {
	case ConnConnected:
		return "connected"
	case ConnDisconnecting:
		return "disconnecting"
	case ConnFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// ICEServer describes one relay/traversal server handed to the media engine.
type ICEServer struct {
	URLs       []string `json:"urls" mapstructure:"urls"`
	Username   string   `json:"username,omitempty" mapstructure:"username"`
	Credential string   `json:"credential,omitempty" mapstructure:"credential"`
}

// Transport is the black-box message transport the orchestration layer sits
// on. Implementations deliver stanzas, report connection status changes and
// presence-unavailable events, and answer relay-credential queries.
type Transport interface {
	// Send delivers a stanza to its To address. Sending to a bare JID
	// broadcasts to every connected resource of that peer.
	Send(st *Stanza) error

	// AddHandler registers fn for every incoming stanza matched by the
	// predicate and returns a token for deregistration.
	AddHandler(match func(*Stanza) bool, fn func(*Stanza)) HandlerToken

	// RemoveHandler deregisters a handler. Removing an unknown or already
	// removed token is a no-op.
	RemoveHandler(token HandlerToken)

	// OnConnState registers a connection status observer.
	OnConnState(fn func(ConnState))

	// OnPresenceUnavailable registers an observer for peers going offline.
	// The callback receives the full JID of the vanished resource.
	OnPresenceUnavailable(fn func(from string))

	// RelayCredentials fetches fresh relay/traversal server credentials.
	// An empty list disables NAT traversal.
	RelayCredentials() ([]ICEServer, error)
}

// CallRequestPayload asks the target to join a call.
type CallRequestPayload struct {
	CallID string      `json:"callId"`
	Media  Constraints `json:"media"`
}

// CallAcceptPayload answers a call request positively.
type CallAcceptPayload struct {
	CallID string      `json:"callId"`
	Media  Constraints `json:"media"`
}

// CallDeclinePayload answers a call request negatively. Reason is a machine
// token; Text is an optional free-text explanation.
type CallDeclinePayload struct {
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
	Text   string `json:"text,omitempty"`
}

// CallCancelPayload withdraws a pending call request.
type CallCancelPayload struct {
	CallID string `json:"callId"`
}

// CallHandledPayload tells the other resources of a broadcast target that
// the invitation was resolved elsewhere, so they can stop ringing.
type CallHandledPayload struct {
	CallID   string `json:"callId"`
	By       string `json:"by"`
	Accepted bool   `json:"accepted"`
}

// MuteInfoPayload notifies the peer of a local mute-state change.
type MuteInfoPayload struct {
	CallID string    `json:"callId"`
	Kind   TrackKind `json:"kind"`
	Muted  bool      `json:"muted"`
}

// EncodePayload serializes a stanza payload body.
func EncodePayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, errors.New("stanza payload is nil")
	}
	return json.Marshal(v)
}

// DecodePayload deserializes a stanza payload body into v.
func DecodePayload(st *Stanza, v any) error {
	if st == nil || len(st.Payload) == 0 {
		return errors.New("stanza payload is empty")
	}
	return json.Unmarshal(st.Payload, v)
}

// matchType returns a predicate matching stanzas of one type.
func matchType(stanzaType string) func(*Stanza) bool {
	return func(st *Stanza) bool {
		return st != nil && st.Type == stanzaType
	}
}
