// Package wsjson carries the signaling stanza stream over a WebSocket
// gateway, implementing the rtc.Transport contract with JSON frames.
//
// All incoming traffic is dispatched synchronously on the single read
// goroutine, which is the cooperative event queue the rtc layer assumes.
package wsjson

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/anomous/webclient/rtc"
)

// relayTimeout bounds a relay-credential round trip.
const relayTimeout = 10 * time.Second

// Frame kinds on the wire.
const (
	kindStanza              = "stanza"
	kindPresenceUnavailable = "presence-unavailable"
	kindRelayRequest        = "relay-credentials-request"
	kindRelayResponse       = "relay-credentials"
)

type envelope struct {
	Kind       string          `json:"kind"`
	Stanza     *rtc.Stanza     `json:"stanza,omitempty"`
	From       string          `json:"from,omitempty"`
	ICEServers []rtc.ICEServer `json:"iceServers,omitempty"`
}

type handlerEntry struct {
	match func(*rtc.Stanza) bool
	fn    func(*rtc.Stanza)
}

// Transport is a WebSocket-backed rtc.Transport.
type Transport struct {
	url    string
	header http.Header

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu          sync.RWMutex
	handlers    map[rtc.HandlerToken]handlerEntry
	nextToken   rtc.HandlerToken
	connCbs     []func(rtc.ConnState)
	presenceCbs []func(string)
	closing     bool
	relayWait   chan []rtc.ICEServer
}

// New creates a transport for the given gateway URL. No connection is made
// until Connect, so observers registered in between see every transition.
func New(url string, header http.Header) *Transport {
	return &Transport{
		url:       url,
		header:    header,
		handlers:  make(map[rtc.HandlerToken]handlerEntry),
		nextToken: 1,
	}
}

// Connect dials the gateway, starts the read loop and reports
// rtc.ConnConnected to observers.
func (t *Transport) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(t.url, t.header)
	if err != nil {
		t.fireConnState(rtc.ConnFailed)
		return err
	}

	t.writeMu.Lock()
	t.conn = conn
	t.writeMu.Unlock()

	t.mu.Lock()
	t.closing = false
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Connect",
		"url":      t.url,
	}).Info("Signaling gateway connected")

	go t.readLoop(conn)
	t.fireConnState(rtc.ConnConnected)
	return nil
}

// Close performs an orderly shutdown.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	t.mu.Unlock()

	t.fireConnState(rtc.ConnDisconnecting)

	t.writeMu.Lock()
	conn := t.conn
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	t.writeMu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	t.fireConnState(rtc.ConnDisconnected)
	return err
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.mu.RLock()
			closing := t.closing
			t.mu.RUnlock()
			if !closing {
				logrus.WithFields(logrus.Fields{
					"function": "readLoop",
					"error":    err.Error(),
				}).Error("Signaling stream lost")
				t.fireConnState(rtc.ConnFailed)
			}
			return
		}
		t.dispatch(&env)
	}
}

func (t *Transport) dispatch(env *envelope) {
	switch env.Kind {
	case kindStanza:
		if env.Stanza == nil {
			return
		}
		t.mu.RLock()
		entries := make([]handlerEntry, 0, len(t.handlers))
		for _, e := range t.handlers {
			entries = append(entries, e)
		}
		t.mu.RUnlock()

		for _, e := range entries {
			if e.match(env.Stanza) {
				e.fn(env.Stanza)
			}
		}

	case kindPresenceUnavailable:
		t.mu.RLock()
		cbs := append([]func(string){}, t.presenceCbs...)
		t.mu.RUnlock()
		for _, fn := range cbs {
			fn(env.From)
		}

	case kindRelayResponse:
		t.mu.Lock()
		wait := t.relayWait
		t.relayWait = nil
		t.mu.Unlock()
		if wait != nil {
			wait <- env.ICEServers
		}

	default:
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"kind":     env.Kind,
		}).Debug("Ignoring unknown frame kind")
	}
}

// Send delivers one stanza to the gateway.
func (t *Transport) Send(st *rtc.Stanza) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.conn == nil {
		return errors.New("transport is not connected")
	}
	return t.conn.WriteJSON(&envelope{Kind: kindStanza, Stanza: st})
}

// AddHandler registers a stanza handler.
func (t *Transport) AddHandler(match func(*rtc.Stanza) bool, fn func(*rtc.Stanza)) rtc.HandlerToken {
	t.mu.Lock()
	defer t.mu.Unlock()

	token := t.nextToken
	t.nextToken++
	t.handlers[token] = handlerEntry{match: match, fn: fn}
	return token
}

// RemoveHandler deregisters a stanza handler; unknown tokens are ignored.
func (t *Transport) RemoveHandler(token rtc.HandlerToken) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, token)
}

// OnConnState registers a connection status observer.
func (t *Transport) OnConnState(fn func(rtc.ConnState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connCbs = append(t.connCbs, fn)
}

// OnPresenceUnavailable registers a presence observer.
func (t *Transport) OnPresenceUnavailable(fn func(string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.presenceCbs = append(t.presenceCbs, fn)
}

func (t *Transport) fireConnState(state rtc.ConnState) {
	t.mu.RLock()
	cbs := append([]func(rtc.ConnState){}, t.connCbs...)
	t.mu.RUnlock()
	for _, fn := range cbs {
		fn(state)
	}
}

// RelayCredentials asks the gateway for fresh relay/traversal credentials
// and waits for its answer.
func (t *Transport) RelayCredentials() ([]rtc.ICEServer, error) {
	wait := make(chan []rtc.ICEServer, 1)

	t.mu.Lock()
	if t.relayWait != nil {
		t.mu.Unlock()
		return nil, errors.New("relay credential request already in flight")
	}
	t.relayWait = wait
	t.mu.Unlock()

	t.writeMu.Lock()
	conn := t.conn
	var err error
	if conn == nil {
		err = errors.New("transport is not connected")
	} else {
		err = conn.WriteJSON(&envelope{Kind: kindRelayRequest})
	}
	t.writeMu.Unlock()

	if err != nil {
		t.mu.Lock()
		t.relayWait = nil
		t.mu.Unlock()
		return nil, err
	}

	select {
	case servers := <-wait:
		return servers, nil
	case <-time.After(relayTimeout):
		t.mu.Lock()
		t.relayWait = nil
		t.mu.Unlock()
		return nil, errors.New("relay credential request timed out")
	}
}
