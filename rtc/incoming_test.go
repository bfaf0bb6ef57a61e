package rtc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ringIn delivers a call request and returns the surfaced incoming event.
func ringIn(t *testing.T, m *Manager, tr *mockTransport, from, callID string, media Constraints) IncomingCallEvent {
	t.Helper()

	var events []IncomingCallEvent
	off := m.On(EventCallIncoming, func(p any) { events = append(events, p.(IncomingCallEvent)) })
	defer off()

	tr.deliver(testStanza(t, StanzaCallRequest, from, CallRequestPayload{
		CallID: callID,
		Media:  media,
	}))

	require.Len(t, events, 1)
	return events[0]
}

func TestIncomingCallSurfaced(t *testing.T) {
	m, tr, _, _, _ := newTestManager(t)

	ev := ringIn(t, m, tr, "bob@example.org/desk", "call-1", Constraints{Audio: true})

	assert.Equal(t, "bob@example.org/desk", ev.Peer)
	assert.True(t, ev.Valid())
}

func TestIncomingCallRequiresSenderResource(t *testing.T) {
	m, tr, _, _, _ := newTestManager(t)

	var events int
	m.On(EventCallIncoming, func(any) { events++ })

	tr.deliver(testStanza(t, StanzaCallRequest, "bob@example.org", CallRequestPayload{
		CallID: "call-1",
		Media:  Constraints{Audio: true},
	}))

	assert.Zero(t, events)
	assert.Empty(t, tr.sent)
}

func TestIncomingCallBusyWhenSessionExists(t *testing.T) {
	m, tr, _, _, _ := newTestManager(t)
	acceptCall(t, m, tr, "bob@example.org", "bob@example.org/desk")

	var events int
	m.On(EventCallIncoming, func(any) { events++ })

	tr.deliver(testStanza(t, StanzaCallRequest, "bob@example.org/desk", CallRequestPayload{
		CallID: "call-2",
		Media:  Constraints{Audio: true},
	}))

	assert.Zero(t, events)
	declines := tr.sentOfType(StanzaCallDecline)
	require.Len(t, declines, 1)
	var dp CallDeclinePayload
	require.NoError(t, DecodePayload(declines[0], &dp))
	assert.Equal(t, "call-2", dp.CallID)
	assert.Equal(t, ReasonBusy, dp.Reason)

	// The existing session is untouched.
	assert.Equal(t, 1, m.SessionCount())
}

func TestIncomingCallAccept(t *testing.T) {
	m, tr, dev, _, _ := newTestManager(t)

	var inits []CallInitEvent
	m.On(EventCallInit, func(p any) { inits = append(inits, p.(CallInitEvent)) })

	ev := ringIn(t, m, tr, "bob@example.org/desk", "call-1", Constraints{Audio: true, Video: true})
	require.True(t, ev.Answer(true, AnswerOptions{Media: Constraints{Audio: true, Video: true}}))

	accepts := tr.sentOfType(StanzaCallAccept)
	require.Len(t, accepts, 1)
	assert.Equal(t, "bob@example.org/desk", accepts[0].To)
	var ap CallAcceptPayload
	require.NoError(t, DecodePayload(accepts[0], &ap))
	assert.Equal(t, "call-1", ap.CallID)
	assert.True(t, ap.Media.Audio)
	assert.True(t, ap.Media.Video)

	s, ok := m.Session("bob@example.org/desk")
	require.True(t, ok)
	assert.Equal(t, "call-1", s.ID())
	assert.Equal(t, 1, dev.openCount())
	require.Len(t, inits, 1)
	assert.Same(t, s, inits[0].Session)

	// The invitation resolved; a second answer is refused.
	assert.False(t, ev.Valid())
	assert.False(t, ev.Answer(true, AnswerOptions{}))
}

func TestIncomingCallAcceptNegotiatedMute(t *testing.T) {
	m, tr, _, _, _ := newTestManager(t)

	ev := ringIn(t, m, tr, "bob@example.org/desk", "call-1", Constraints{Audio: true, Video: true})
	require.True(t, ev.Answer(true, AnswerOptions{Media: Constraints{Audio: false, Video: true}}))

	// The device captures both channels; answering video-only mutes
	// audio instead of dropping its track.
	s, ok := m.Session("bob@example.org/desk")
	require.True(t, ok)
	assert.True(t, s.LocalMuted().AudioMuted())
	assert.False(t, s.LocalMuted().VideoMuted())

	accepts := tr.sentOfType(StanzaCallAccept)
	require.Len(t, accepts, 1)
	var ap CallAcceptPayload
	require.NoError(t, DecodePayload(accepts[0], &ap))
	assert.False(t, ap.Media.Audio)
	assert.True(t, ap.Media.Video)
}

func TestIncomingCallDecline(t *testing.T) {
	m, tr, dev, _, _ := newTestManager(t)

	ev := ringIn(t, m, tr, "bob@example.org/desk", "call-1", Constraints{Audio: true})
	require.True(t, ev.Answer(false, AnswerOptions{Reason: "away", Text: "try later"}))

	declines := tr.sentOfType(StanzaCallDecline)
	require.Len(t, declines, 1)
	var dp CallDeclinePayload
	require.NoError(t, DecodePayload(declines[0], &dp))
	assert.Equal(t, "call-1", dp.CallID)
	assert.Equal(t, "away", dp.Reason)
	assert.Equal(t, "try later", dp.Text)

	// Declining never touches the capture device.
	assert.Equal(t, 0, dev.openCount())
	assert.False(t, ev.Valid())
}

func TestIncomingCallDeclineDefaultsToBusy(t *testing.T) {
	m, tr, _, _, _ := newTestManager(t)

	ev := ringIn(t, m, tr, "bob@example.org/desk", "call-1", Constraints{Audio: true})
	require.True(t, ev.Answer(false, AnswerOptions{}))

	declines := tr.sentOfType(StanzaCallDecline)
	require.Len(t, declines, 1)
	var dp CallDeclinePayload
	require.NoError(t, DecodePayload(declines[0], &dp))
	assert.Equal(t, ReasonBusy, dp.Reason)
}

func TestIncomingCallCanceledByInviter(t *testing.T) {
	m, tr, _, _, _ := newTestManager(t)

	ev := ringIn(t, m, tr, "bob@example.org/desk", "call-1", Constraints{Audio: true})

	tr.deliver(testStanza(t, StanzaCallCancel, "bob@example.org/desk", CallCancelPayload{
		CallID: "call-1",
	}))

	assert.False(t, ev.Valid())
	assert.False(t, ev.Answer(true, AnswerOptions{Media: Constraints{Audio: true}}))
	assert.Empty(t, tr.sentOfType(StanzaCallAccept))
	assert.Equal(t, 0, m.SessionCount())
}

func TestIncomingCallCancelWrongIDIgnored(t *testing.T) {
	m, tr, _, _, _ := newTestManager(t)

	ev := ringIn(t, m, tr, "bob@example.org/desk", "call-1", Constraints{Audio: true})

	tr.deliver(testStanza(t, StanzaCallCancel, "bob@example.org/desk", CallCancelPayload{
		CallID: "some-other-call",
	}))

	assert.True(t, ev.Valid())
}

func TestIncomingCallHandledByOtherResource(t *testing.T) {
	m, tr, _, _, _ := newTestManager(t)

	ev := ringIn(t, m, tr, "bob@example.org/desk", "call-1", Constraints{Audio: true})

	// The inviter reports that our tablet took the call.
	tr.deliver(testStanza(t, StanzaCallHandled, "bob@example.org/desk", CallHandledPayload{
		CallID:   "call-1",
		By:       "alice@example.org/tablet",
		Accepted: true,
	}))

	assert.False(t, ev.Valid())
	assert.False(t, ev.Answer(true, AnswerOptions{Media: Constraints{Audio: true}}))
}

func TestIncomingCallHandledBySelfIgnored(t *testing.T) {
	m, tr, _, _, _ := newTestManager(t)

	ev := ringIn(t, m, tr, "bob@example.org/desk", "call-1", Constraints{Audio: true})

	// The broadcast echo naming ourselves must not kill the invitation
	// we just answered.
	tr.deliver(testStanza(t, StanzaCallHandled, "bob@example.org/desk", CallHandledPayload{
		CallID:   "call-1",
		By:       testSelfID,
		Accepted: true,
	}))

	assert.True(t, ev.Valid())
}

func TestIncomingCallExpiry(t *testing.T) {
	m, tr, _, _, tp := newTestManager(t)

	ev := ringIn(t, m, tr, "bob@example.org/desk", "call-1", Constraints{Audio: true})
	require.True(t, ev.Valid())

	tp.fireAll()

	assert.False(t, ev.Valid())
	assert.False(t, ev.Answer(true, AnswerOptions{Media: Constraints{Audio: true}}))
}

func TestIncomingCallAcceptMediaFailure(t *testing.T) {
	m, tr, dev, _, _ := newTestManager(t)
	dev.err = errors.New("microphone unavailable")

	var failures []LocalMediaFailEvent
	m.On(EventLocalMediaFail, func(p any) { failures = append(failures, p.(LocalMediaFailEvent)) })

	ev := ringIn(t, m, tr, "bob@example.org/desk", "call-1", Constraints{Audio: true})
	assert.True(t, ev.Answer(true, AnswerOptions{Media: Constraints{Audio: true}}))

	require.Len(t, failures, 1)
	assert.Empty(t, tr.sentOfType(StanzaCallAccept))

	// The peer sees a decline explaining the failure.
	declines := tr.sentOfType(StanzaCallDecline)
	require.Len(t, declines, 1)
	var dp CallDeclinePayload
	require.NoError(t, DecodePayload(declines[0], &dp))
	assert.Equal(t, ReasonError, dp.Reason)
	assert.Contains(t, dp.Text, "microphone unavailable")

	assert.Equal(t, 0, m.SessionCount())
	assert.False(t, m.local.Active())
}

func TestIncomingCallAcceptEngineFailure(t *testing.T) {
	m, tr, _, eng, _ := newTestManager(t)
	eng.answerErr = errors.New("codec mismatch")

	var ended []CallEndedEvent
	m.On(EventCallEnded, func(p any) { ended = append(ended, p.(CallEndedEvent)) })

	ev := ringIn(t, m, tr, "bob@example.org/desk", "call-1", Constraints{Audio: true})
	assert.True(t, ev.Answer(true, AnswerOptions{Media: Constraints{Audio: true}}))

	// The accept already went out; the failure surfaces as an ended call
	// and the capture reference is returned.
	assert.Len(t, tr.sentOfType(StanzaCallAccept), 1)
	require.Len(t, ended, 1)
	assert.Equal(t, ReasonError, ended[0].Reason)
	assert.Equal(t, 0, m.local.Count())
	assert.Equal(t, 0, m.SessionCount())
}
