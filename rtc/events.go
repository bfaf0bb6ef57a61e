package rtc

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Event names emitted by the Manager. UI collaborators subscribe to these
// and render passively; nothing in this package depends on a subscriber
// being present.
type Event string

const (
	// EventCallIncoming fires for a validated incoming call request.
	// Payload: IncomingCallEvent.
	EventCallIncoming Event = "call-incoming-request"
	// EventCallInit fires when a media-engine session has been initiated
	// and registered. Payload: CallInitEvent.
	EventCallInit Event = "call-init"
	// EventCallAnswered fires when an outgoing invitation is accepted.
	// Payload: CallAnsweredEvent.
	EventCallAnswered Event = "call-answered"
	// EventCallDeclined fires when an outgoing invitation is declined.
	// Payload: CallDeclinedEvent.
	EventCallDeclined Event = "call-declined"
	// EventCallAnswerTimeout fires when the answer deadline elapses.
	// Payload: CallTimeoutEvent.
	EventCallAnswerTimeout Event = "call-answer-timeout"
	// EventCallEnded fires when a session terminates for any reason.
	// Payload: CallEndedEvent.
	EventCallEnded Event = "call-ended"
	// EventLocalMediaFail fires when the capture device is denied or
	// unavailable. Payload: LocalMediaFailEvent.
	EventLocalMediaFail Event = "local-media-fail"
	// EventLocalStream fires when local media has been obtained.
	// Payload: LocalStreamEvent.
	EventLocalStream Event = "local-stream-obtained"
	// EventLocalStreamClosing fires synchronously while the shared local
	// stream is still valid, just before it is freed.
	// Payload: LocalStreamEvent.
	EventLocalStreamClosing Event = "local-stream-closing"
	// EventRemoteStream fires when the peer's media arrives.
	// Payload: RemoteStreamEvent.
	EventRemoteStream Event = "remote-stream-added"
	// EventMuted and EventUnmuted fire on remote mute-state changes.
	// Payload: MuteEvent.
	EventMuted   Event = "muted"
	EventUnmuted Event = "unmuted"
	// EventProtocolTimeout fires when a signaling exchange gets no answer
	// within its deadline. Payload: ProtocolTimeoutEvent.
	EventProtocolTimeout Event = "protocol-timeout"
	// EventProtocolError fires when the peer returns an explicit error
	// stanza. Payload: ProtocolErrorEvent.
	EventProtocolError Event = "protocol-error"
)

// AnswerOptions configures a respond call on an incoming invitation.
type AnswerOptions struct {
	// Media selects which channels to answer with. Ignored on decline.
	Media Constraints
	// Reason is the machine decline reason; defaults to busy.
	Reason string
	// Text is an optional free-text explanation for a decline.
	Text string
}

// IncomingCallEvent is the payload of EventCallIncoming.
type IncomingCallEvent struct {
	// Peer is the inviter's full JID.
	Peer string
	// Valid reports whether the invitation can still be answered. It is
	// live: it flips to false the moment the inviter cancels or the
	// invitation expires.
	Valid func() bool
	// Answer resolves the invitation. It reports false if the invitation
	// had already expired or been canceled.
	Answer func(accept bool, opts AnswerOptions) bool
}

// CallInitEvent is the payload of EventCallInit.
type CallInitEvent struct {
	Peer    string
	Session *Session
}

// CallAnsweredEvent is the payload of EventCallAnswered. By names the
// resource that accepted, which for a broadcast invitation may differ from
// the dialed identity.
type CallAnsweredEvent struct {
	Peer string
	By   string
}

// CallDeclinedEvent is the payload of EventCallDeclined.
type CallDeclinedEvent struct {
	Peer   string
	Reason string
	Text   string
}

// CallTimeoutEvent is the payload of EventCallAnswerTimeout.
type CallTimeoutEvent struct {
	Peer string
}

// CallEndedEvent is the payload of EventCallEnded.
type CallEndedEvent struct {
	Peer    string
	Session *Session
	Reason  string
	Text    string
}

// LocalMediaFailEvent is the payload of EventLocalMediaFail.
type LocalMediaFailEvent struct {
	Err error
}

// LocalStreamEvent is the payload of EventLocalStream and
// EventLocalStreamClosing.
type LocalStreamEvent struct {
	Stream *MediaStream
}

// RemoteStreamEvent is the payload of EventRemoteStream.
type RemoteStreamEvent struct {
	Peer    string
	Stream  *MediaStream
	Session *Session
}

// MuteEvent is the payload of EventMuted and EventUnmuted.
type MuteEvent struct {
	Peer    string
	Kind    TrackKind
	Info    MutedSnapshot
	Session *Session
}

// ProtocolTimeoutEvent is the payload of EventProtocolTimeout.
type ProtocolTimeoutEvent struct {
	Source  string
	Session *Session
}

// ProtocolErrorEvent is the payload of EventProtocolError.
type ProtocolErrorEvent struct {
	Source  string
	Session *Session
	Packet  []byte
}

// Emitter is a synchronous multi-subscriber event fan-out. Handlers run on
// the emitting goroutine; a handler must not block.
type Emitter struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[Event]map[uint64]func(payload any)
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{
		next:     1,
		handlers: make(map[Event]map[uint64]func(any)),
	}
}

// On subscribes fn to an event and returns an unsubscribe function.
func (e *Emitter) On(ev Event, fn func(payload any)) (off func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.next
	e.next++
	if e.handlers[ev] == nil {
		e.handlers[ev] = make(map[uint64]func(any))
	}
	e.handlers[ev][id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers[ev], id)
	}
}

// Emit delivers payload to every subscriber of ev.
func (e *Emitter) Emit(ev Event, payload any) {
	e.mu.RLock()
	fns := make([]func(any), 0, len(e.handlers[ev]))
	for _, fn := range e.handlers[ev] {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()

	if len(fns) > 0 {
		logrus.WithFields(logrus.Fields{
			"function":    "Emit",
			"event":       string(ev),
			"subscribers": len(fns),
		}).Trace("Dispatching event")
	}

	for _, fn := range fns {
		fn(payload)
	}
}
