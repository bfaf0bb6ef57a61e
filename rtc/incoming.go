package rtc

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/anomous/webclient/xmpp"
)

// incomingInvitation bridges a received call request to the observer that
// answers it. Validity is live state, not a snapshot: the inviter canceling,
// another of our resources handling the call, or the local deadline all flip
// it before any cached view could be consulted.
type incomingInvitation struct {
	m *Manager

	id    string
	from  string
	media Constraints

	mu        sync.Mutex
	valid     bool
	cancelTok HandlerToken
	timer     Timer
}

// handleCallRequest validates an incoming call request and surfaces it to
// observers with a live validity predicate and a respond function.
func (m *Manager) handleCallRequest(st *Stanza) {
	var payload CallRequestPayload
	if err := DecodePayload(st, &payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleCallRequest",
			"from":     st.From,
			"error":    err.Error(),
		}).Warn("Discarding malformed call request")
		return
	}
	if xmpp.IsBare(st.From) {
		logrus.WithFields(logrus.Fields{
			"function": "handleCallRequest",
			"from":     st.From,
		}).Warn("Discarding call request without sender resource")
		return
	}

	// One session per full JID. A second request from a peer we already
	// have a session with is answered busy without disturbing the
	// existing session.
	if _, exists := m.sessions.Get(st.From); exists {
		logrus.WithFields(logrus.Fields{
			"function": "handleCallRequest",
			"from":     st.From,
			"call_id":  payload.CallID,
		}).Warn("Declining call request from peer with active session")
		m.sendDecline(st.From, payload.CallID, ReasonBusy, "")
		return
	}

	inc := &incomingInvitation{
		m:     m,
		id:    payload.CallID,
		from:  st.From,
		media: payload.Media,
		valid: true,
	}

	// The invitation dies when the inviter cancels it or when another of
	// our resources answers it first.
	inc.cancelTok = m.transport.AddHandler(func(in *Stanza) bool {
		if in == nil || !xmpp.SameBare(in.From, inc.from) {
			return false
		}
		return in.Type == StanzaCallCancel || in.Type == StanzaCallHandled
	}, inc.handleWithdrawn)

	inc.timer = m.timeProvider().AfterFunc(m.cfg.AnswerTimeout, func() {
		inc.expire("deadline elapsed")
	})

	logrus.WithFields(logrus.Fields{
		"function": "handleCallRequest",
		"from":     st.From,
		"call_id":  payload.CallID,
		"audio":    payload.Media.Audio,
		"video":    payload.Media.Video,
	}).Info("Incoming call request")

	m.emitter.Emit(EventCallIncoming, IncomingCallEvent{
		Peer:   inc.from,
		Valid:  inc.isValid,
		Answer: inc.respond,
	})
}

// isValid is the live validity predicate handed to observers.
func (inc *incomingInvitation) isValid() bool {
	inc.mu.Lock()
	defer inc.mu.Unlock()
	return inc.valid
}

// handleWithdrawn reacts to the inviter canceling or to another resource
// of ours having handled the call.
func (inc *incomingInvitation) handleWithdrawn(st *Stanza) {
	switch st.Type {
	case StanzaCallCancel:
		var payload CallCancelPayload
		if err := DecodePayload(st, &payload); err != nil || payload.CallID != inc.id {
			return
		}
		inc.expire("canceled by inviter")

	case StanzaCallHandled:
		var payload CallHandledPayload
		if err := DecodePayload(st, &payload); err != nil || payload.CallID != inc.id {
			return
		}
		if payload.By == inc.m.selfID {
			return
		}
		inc.expire("handled by other resource")
	}
}

// expire invalidates the invitation. Repeated expiry is a no-op.
func (inc *incomingInvitation) expire(why string) {
	inc.mu.Lock()
	if !inc.valid {
		inc.mu.Unlock()
		return
	}
	inc.valid = false
	cancelTok, timer := inc.cancelTok, inc.timer
	inc.cancelTok, inc.timer = 0, nil
	inc.mu.Unlock()

	inc.m.transport.RemoveHandler(cancelTok)
	if timer != nil {
		timer.Stop()
	}

	logrus.WithFields(logrus.Fields{
		"function": "expire",
		"from":     inc.from,
		"call_id":  inc.id,
		"why":      why,
	}).Info("Incoming invitation expired")
}

// respond resolves the invitation. It reports false if the invitation had
// already expired or been canceled, checked against the live state under
// the same lock that withdrawal takes.
func (inc *incomingInvitation) respond(accept bool, opts AnswerOptions) bool {
	inc.mu.Lock()
	if !inc.valid {
		inc.mu.Unlock()
		return false
	}
	inc.valid = false
	cancelTok, timer := inc.cancelTok, inc.timer
	inc.cancelTok, inc.timer = 0, nil
	inc.mu.Unlock()

	inc.m.transport.RemoveHandler(cancelTok)
	if timer != nil {
		timer.Stop()
	}

	if !accept {
		reason := opts.Reason
		if reason == "" {
			reason = ReasonBusy
		}
		inc.m.sendDecline(inc.from, inc.id, reason, opts.Text)
		return true
	}

	inc.accept(opts)
	return true
}

// accept acquires local media and completes the handshake. A media failure
// replies as if declined, with the device error as explanation.
func (inc *incomingInvitation) accept(opts AnswerOptions) {
	m := inc.m

	stream, token, err := m.local.Acquire(opts.Media)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "accept",
			"from":     inc.from,
			"call_id":  inc.id,
			"error":    err.Error(),
		}).Error("Local media acquisition for answer failed")
		m.emitter.Emit(EventLocalMediaFail, LocalMediaFailEvent{Err: err})
		m.sendDecline(inc.from, inc.id, ReasonError, err.Error())
		return
	}
	m.emitter.Emit(EventLocalStream, LocalStreamEvent{Stream: stream})

	// Muted state is negotiated from what was asked for against what the
	// device actually produced: a requested channel with no track is not
	// muted, an unrequested channel with a track is.
	muted := NegotiatedMuted(stream, opts.Media)

	granted := Constraints{
		Audio: opts.Media.Audio && stream.HasAudio(),
		Video: opts.Media.Video && stream.HasVideo(),
	}
	if err := m.send(StanzaCallAccept, inc.from, CallAcceptPayload{
		CallID: inc.id,
		Media:  granted,
	}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "accept",
			"from":     inc.from,
			"call_id":  inc.id,
			"error":    err.Error(),
		}).Error("Failed to send call accept")
		m.local.Release(token)
		return
	}

	if _, err := m.establishSession(inc.id, inc.from, stream, token, muted, false); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "accept",
			"from":     inc.from,
			"call_id":  inc.id,
			"error":    err.Error(),
		}).Error("Session answer failed")
		m.local.Release(token)
		m.emitter.Emit(EventCallEnded, CallEndedEvent{
			Peer:   inc.from,
			Reason: ReasonError,
			Text:   err.Error(),
		})
	}
}
