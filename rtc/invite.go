package rtc

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/anomous/webclient/xmpp"
)

// InviteState is the outgoing invitation state machine position.
type InviteState int32

const (
	// InviteIdle is the pre-start state.
	InviteIdle InviteState = iota
	// InviteAwaitingAnswer means the request was sent and handlers armed.
	InviteAwaitingAnswer
	// InviteAccepted, InviteDeclined, InviteCanceled and InviteTimedOut
	// are the four mutually exclusive terminal states.
	InviteAccepted
	InviteDeclined
	InviteCanceled
	InviteTimedOut
)

// String returns a readable name for logging.
func (s InviteState) String() string {
	switch s {
	case InviteIdle:
		return "idle"
	case InviteAwaitingAnswer:
		return "awaiting-answer"
	case InviteAccepted:
		return "accepted"
	case InviteDeclined:
		return "declined"
	case InviteCanceled:
		return "canceled"
	case InviteTimedOut:
		return "timed-out"
	}
	return "unknown"
}

// Invitation is one outgoing call request awaiting resolution.
//
// Exactly one of accept, decline, cancel or timeout resolves it; the single
// resolution point deregisters the other three triggers before the resolving
// path continues, so a handler or timer firing after resolution is detected
// and ignored rather than acted on.
type Invitation struct {
	m *Manager

	id        string
	target    string
	broadcast bool
	media     Constraints

	stream *MediaStream
	token  ReleaseToken

	mu         sync.Mutex
	state      InviteState
	acceptTok  HandlerToken
	declineTok HandlerToken
	timer      Timer
}

// ID returns the invitation (and future session) identifier.
func (inv *Invitation) ID() string { return inv.id }

// Target returns the dialed identity, full or bare.
func (inv *Invitation) Target() string { return inv.target }

// Broadcast reports whether the target was a bare JID, making this an
// invitation broadcast to every connected resource.
func (inv *Invitation) Broadcast() bool { return inv.broadcast }

// State returns the current state machine position.
func (inv *Invitation) State() InviteState {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.state
}

// arm registers the accept/decline handlers and the deadline timer. Called
// by the manager after local media was acquired and the request sent.
func (inv *Invitation) arm() {
	matchAnswer := func(stanzaType string) func(*Stanza) bool {
		return func(st *Stanza) bool {
			// Any resource of the target's bare JID may answer.
			return st != nil && st.Type == stanzaType && xmpp.SameBare(st.From, inv.target)
		}
	}

	tp := inv.m.timeProvider()

	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.state = InviteAwaitingAnswer
	inv.acceptTok = inv.m.transport.AddHandler(matchAnswer(StanzaCallAccept), inv.handleAccept)
	inv.declineTok = inv.m.transport.AddHandler(matchAnswer(StanzaCallDecline), inv.handleDecline)
	inv.timer = tp.AfterFunc(inv.m.cfg.AnswerTimeout, inv.handleTimeout)
}

// resolve moves the machine from AwaitingAnswer to a terminal state and
// deregisters the other pending triggers. It reports false if the
// invitation had already resolved, in which case the caller must back off.
func (inv *Invitation) resolve(to InviteState) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.state != InviteAwaitingAnswer {
		logrus.WithFields(logrus.Fields{
			"function": "resolve",
			"invite":   inv.id,
			"state":    inv.state.String(),
			"wanted":   to.String(),
		}).Debug("Ignoring stale invitation trigger")
		return false
	}
	inv.state = to

	inv.m.transport.RemoveHandler(inv.acceptTok)
	inv.m.transport.RemoveHandler(inv.declineTok)
	inv.acceptTok, inv.declineTok = 0, 0
	if inv.timer != nil {
		inv.timer.Stop()
		inv.timer = nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "resolve",
		"invite":   inv.id,
		"target":   inv.target,
		"state":    to.String(),
	}).Info("Invitation resolved")

	return true
}

// handleAccept processes the first accept from any resource of the target.
func (inv *Invitation) handleAccept(st *Stanza) {
	var payload CallAcceptPayload
	if err := DecodePayload(st, &payload); err != nil || payload.CallID != inv.id {
		return
	}
	if !inv.resolve(InviteAccepted) {
		return
	}
	inv.m.dropInvitation(inv.id)

	if inv.broadcast {
		inv.m.notifyHandled(inv, st.From, true)
	}

	muted := NegotiatedMuted(inv.stream, inv.media)
	sess, err := inv.m.establishSession(inv.id, st.From, inv.stream, inv.token, muted, true)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleAccept",
			"invite":   inv.id,
			"peer":     st.From,
			"error":    err.Error(),
		}).Error("Session initiation after accept failed")
		inv.m.local.Release(inv.token)
		inv.m.emitter.Emit(EventCallEnded, CallEndedEvent{
			Peer:   st.From,
			Reason: ReasonError,
			Text:   err.Error(),
		})
		return
	}

	inv.m.emitter.Emit(EventCallAnswered, CallAnsweredEvent{
		Peer: inv.target,
		By:   sess.Peer(),
	})
}

// handleDecline processes the first decline from any resource of the target.
func (inv *Invitation) handleDecline(st *Stanza) {
	var payload CallDeclinePayload
	if err := DecodePayload(st, &payload); err != nil || payload.CallID != inv.id {
		return
	}
	if !inv.resolve(InviteDeclined) {
		return
	}
	inv.m.dropInvitation(inv.id)

	inv.m.local.Release(inv.token)
	if inv.broadcast {
		inv.m.notifyHandled(inv, st.From, false)
	}

	reason := payload.Reason
	if reason == "" {
		reason = ReasonBusy
	}
	inv.m.emitter.Emit(EventCallDeclined, CallDeclinedEvent{
		Peer:   st.From,
		Reason: reason,
		Text:   payload.Text,
	})
}

// handleTimeout withdraws the invitation after the answer deadline.
func (inv *Invitation) handleTimeout() {
	if !inv.resolve(InviteTimedOut) {
		return
	}
	inv.m.dropInvitation(inv.id)

	inv.m.sendCancel(inv)
	inv.m.local.Release(inv.token)
	inv.m.emitter.Emit(EventCallAnswerTimeout, CallTimeoutEvent{Peer: inv.target})
}

// Cancel withdraws the invitation on the caller's initiative. It reports
// false if the invitation had already resolved by accept, decline or
// timeout: caller-initiated cancel is best-effort and can lose that race.
func (inv *Invitation) Cancel() bool {
	if !inv.resolve(InviteCanceled) {
		return false
	}
	inv.m.dropInvitation(inv.id)

	inv.m.sendCancel(inv)
	inv.m.local.Release(inv.token)
	return true
}
