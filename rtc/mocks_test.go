package rtc

import (
	"sync"
	"time"
)

// mockTransport implements Transport with recorded sends and manual stanza
// injection, mirroring how real stanzas would arrive on the event queue.
type mockTransport struct {
	mu          sync.Mutex
	sent        []*Stanza
	sendErr     error
	handlers    map[HandlerToken]mockHandler
	next        HandlerToken
	connCbs     []func(ConnState)
	presenceCbs []func(string)
	relay       []ICEServer
	relayErr    error
	relayCalls  int
}

type mockHandler struct {
	match func(*Stanza) bool
	fn    func(*Stanza)
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		handlers: make(map[HandlerToken]mockHandler),
		next:     1,
	}
}

func (t *mockTransport) Send(st *Stanza) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, st)
	return nil
}

func (t *mockTransport) AddHandler(match func(*Stanza) bool, fn func(*Stanza)) HandlerToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	token := t.next
	t.next++
	t.handlers[token] = mockHandler{match: match, fn: fn}
	return token
}

func (t *mockTransport) RemoveHandler(token HandlerToken) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, token)
}

func (t *mockTransport) OnConnState(fn func(ConnState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connCbs = append(t.connCbs, fn)
}

func (t *mockTransport) OnPresenceUnavailable(fn func(string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.presenceCbs = append(t.presenceCbs, fn)
}

func (t *mockTransport) RelayCredentials() ([]ICEServer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.relayCalls++
	return t.relay, t.relayErr
}

// deliver injects an incoming stanza through every matching handler.
func (t *mockTransport) deliver(st *Stanza) {
	t.mu.Lock()
	entries := make([]mockHandler, 0, len(t.handlers))
	for _, e := range t.handlers {
		entries = append(entries, e)
	}
	t.mu.Unlock()

	for _, e := range entries {
		if e.match(st) {
			e.fn(st)
		}
	}
}

func (t *mockTransport) fireConnState(state ConnState) {
	t.mu.Lock()
	cbs := append([]func(ConnState){}, t.connCbs...)
	t.mu.Unlock()
	for _, fn := range cbs {
		fn(state)
	}
}

func (t *mockTransport) firePresenceUnavailable(from string) {
	t.mu.Lock()
	cbs := append([]func(string){}, t.presenceCbs...)
	t.mu.Unlock()
	for _, fn := range cbs {
		fn(from)
	}
}

func (t *mockTransport) sentOfType(stanzaType string) []*Stanza {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Stanza
	for _, st := range t.sent {
		if st.Type == stanzaType {
			out = append(out, st)
		}
	}
	return out
}

func (t *mockTransport) handlerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handlers)
}

// mockDevice implements CaptureDevice with configurable hardware.
type mockDevice struct {
	mu    sync.Mutex
	kinds []TrackKind
	err   error
	opens int
}

func newMockDevice(kinds ...TrackKind) *mockDevice {
	return &mockDevice{kinds: kinds}
}

func (d *mockDevice) Open(c Constraints) (*MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.opens++
	tracks := make([]*MediaTrack, 0, len(d.kinds))
	for _, k := range d.kinds {
		tracks = append(tracks, NewMediaTrack(k))
	}
	return NewMediaStream(tracks...), nil
}

func (d *mockDevice) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// mockEngine implements Engine and hands out recorded sessions.
type mockEngine struct {
	mu        sync.Mutex
	initErr   error
	answerErr error
	sessions  []*mockEngineSession
}

func newMockEngine() *mockEngine {
	return &mockEngine{}
}

func (e *mockEngine) Initiate(peer, self string, stream *MediaStream, muted *MutedState) (EngineSession, error) {
	return e.open(peer, stream, muted, e.initErr, true)
}

func (e *mockEngine) Answer(peer, self string, stream *MediaStream, muted *MutedState) (EngineSession, error) {
	return e.open(peer, stream, muted, e.answerErr, false)
}

func (e *mockEngine) open(peer string, stream *MediaStream, muted *MutedState, err error, outgoing bool) (EngineSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s := &mockEngineSession{peer: peer, stream: stream, muted: muted, outgoing: outgoing}
	e.sessions = append(e.sessions, s)
	return s, nil
}

func (e *mockEngine) last() *mockEngineSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sessions) == 0 {
		return nil
	}
	return e.sessions[len(e.sessions)-1]
}

type mockEngineSession struct {
	mu       sync.Mutex
	peer     string
	stream   *MediaStream
	muted    *MutedState
	outgoing bool

	terminated   []string
	onRemote     func(*MediaStream)
	onTerminated func(reason, text string)
	onTimeout    func(source string)
	onError      func(source string, packet []byte)
}

func (s *mockEngineSession) ID() string   { return "engine-" + s.peer }
func (s *mockEngineSession) Peer() string { return s.peer }

func (s *mockEngineSession) Terminate(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated = append(s.terminated, reason)
	return nil
}

func (s *mockEngineSession) OnRemoteStream(fn func(*MediaStream)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemote = fn
}

func (s *mockEngineSession) OnTerminated(fn func(reason, text string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTerminated = fn
}

func (s *mockEngineSession) OnProtocolTimeout(fn func(source string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTimeout = fn
}

func (s *mockEngineSession) OnProtocolError(fn func(source string, packet []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

func (s *mockEngineSession) fireRemoteStream(stream *MediaStream) {
	s.mu.Lock()
	fn := s.onRemote
	s.mu.Unlock()
	if fn != nil {
		fn(stream)
	}
}

func (s *mockEngineSession) fireTerminated(reason, text string) {
	s.mu.Lock()
	fn := s.onTerminated
	s.mu.Unlock()
	if fn != nil {
		fn(reason, text)
	}
}

func (s *mockEngineSession) terminateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.terminated)
}

// mockTimeProvider captures scheduled callbacks so tests fire deadlines
// deterministically.
type mockTimeProvider struct {
	mu     sync.Mutex
	now    time.Time
	timers []*mockTimer
}

type mockTimer struct {
	mu      sync.Mutex
	d       time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{now: time.Unix(1700000000, 0)}
}

func (tp *mockTimeProvider) Now() time.Time {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.now
}

func (tp *mockTimeProvider) AfterFunc(d time.Duration, f func()) Timer {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	t := &mockTimer{d: d, fn: f}
	tp.timers = append(tp.timers, t)
	return t
}

// fireAll runs every pending timer callback, as if all deadlines elapsed.
func (tp *mockTimeProvider) fireAll() {
	tp.mu.Lock()
	timers := append([]*mockTimer{}, tp.timers...)
	tp.mu.Unlock()
	for _, t := range timers {
		t.fire()
	}
}

func (t *mockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (t *mockTimer) fire() {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	fn := t.fn
	t.mu.Unlock()
	fn()
}
