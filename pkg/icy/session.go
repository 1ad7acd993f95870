package icy

import (
	"net"
	"time"
)

// Mode selects how a session scans inbound data.
type Mode int

const (
	// ModePush scans every chunk as it arrives and gives up after Config.Timeout.
	ModePush Mode = iota
	// ModePersistent captures chunks and scans them every Config.PollInterval,
	// with no overall deadline.
	ModePersistent
)

func (m Mode) String() string {
	switch m {
	case ModePush:
		return "push"
	case ModePersistent:
		return "persistent"
	default:
		return "unknown"
	}
}

type state int

const (
	stateConnecting state = iota
	stateStreaming
	stateResolved
	stateFailed
	stateRedirected
	stateAborted
)

func (s state) String() string {
	return [...]string{"connecting", "streaming", "resolved", "failed", "redirected", "aborted"}[s]
}

// outcome is what a finished session hands back. A non-empty location means
// the session ended on a redirect and the request continues elsewhere.
type outcome struct {
	result   *Result
	err      error
	location string
}

// session is the state machine for one connection attempt. All handle*
// methods run on the request's event loop and are no-ops once terminal.
type session struct {
	target    Target
	mode      Mode
	cfg       Config
	normalize func(string) string

	state      state
	buf        []byte
	pending    [][]byte
	pendingLen int
	out        outcome

	stream   *stream
	deadline *time.Timer
	ticker   *time.Ticker
}

func newSession(t Target, mode Mode, cfg Config, normalize func(string) string) *session {
	s := &session{
		target:    t,
		mode:      mode,
		cfg:       cfg,
		normalize: normalize,
		state:     stateConnecting,
	}

	switch mode {
	case ModePersistent:
		s.ticker = time.NewTicker(cfg.PollInterval)
	default:
		s.deadline = time.NewTimer(cfg.Timeout)
	}

	return s
}

func (s *session) terminal() bool {
	return s.state > stateStreaming
}

func (s *session) events() <-chan event {
	if s.stream == nil {
		return nil
	}
	return s.stream.events
}

func (s *session) deadlineC() <-chan time.Time {
	if s.deadline == nil {
		return nil
	}
	return s.deadline.C
}

func (s *session) pollC() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.C
}

func (s *session) handleConnected(conn net.Conn) {
	if s.terminal() {
		_ = conn.Close()
		return
	}
	s.stream = newStream(conn, BuildRequest(s.target, s.cfg.UserAgent))
	s.state = stateStreaming
}

func (s *session) handleDialError(err error) {
	if s.terminal() {
		return
	}
	s.fail(wrapf(ErrConnectFailure, err, "connect to %s", s.target.Address()))
}

func (s *session) handleData(chunk []byte) {
	if s.terminal() {
		return
	}
	metricReceivedBytes.Add(float64(len(chunk)))

	if s.mode == ModePersistent {
		s.pending = append(s.pending, chunk)
		s.pendingLen += len(chunk)
		// Captured data counts against the same limit as the buffer.
		if len(s.buf)+s.pendingLen > s.cfg.MaxBufferSize {
			s.drain()
		}
		return
	}

	s.consume(chunk)
}

func (s *session) handlePoll() {
	if s.terminal() {
		return
	}
	s.drain()
}

func (s *session) handleError(err error) {
	if s.terminal() {
		return
	}
	s.fail(wrapf(ErrConnectFailure, err, "read from %s", s.target.Address()))
}

func (s *session) handleClose() {
	if s.terminal() {
		return
	}

	s.drain()
	if s.terminal() {
		return
	}

	// A redirect wins over an html error page.
	if loc, ok := ScanRedirect(s.buf); ok {
		s.finish(stateRedirected, outcome{location: loc})
		return
	}

	if ScanHTMLError(s.buf) {
		s.fail(wrapf(ErrNoMetadataFound, nil, "%s answered with an html page", s.target.Address()))
		return
	}

	s.fail(wrapf(ErrNoMetadataFound, nil, "%s closed the connection without metadata", s.target.Address()))
}

func (s *session) handleDeadline() {
	if s.terminal() {
		return
	}
	s.fail(wrapf(ErrTimeout, nil, "no title from %s after %s", s.target.Address(), s.cfg.Timeout))
}

// abort ends the session without an outcome.
func (s *session) abort() {
	if s.terminal() {
		return
	}
	s.finish(stateAborted, outcome{})
}

func (s *session) drain() {
	pending := s.pending
	s.pending = nil
	s.pendingLen = 0

	for _, chunk := range pending {
		if s.terminal() {
			return
		}
		s.consume(chunk)
	}
}

// consume appends as much of chunk as fits and scans. Running out of room
// without a title fails the session.
func (s *session) consume(chunk []byte) {
	room := s.cfg.MaxBufferSize - len(s.buf)
	overflow := len(chunk) > room
	if overflow {
		chunk = chunk[:room]
	}
	s.buf = append(s.buf, chunk...)

	if raw, ok := ScanTitle(s.buf); ok {
		s.finish(stateResolved, outcome{result: &Result{
			Title:       s.normalizeTitle(raw),
			FetchSource: SourceStream,
			Headers:     ScanHeaders(s.buf),
			URL:         s.target.String(),
		}})
		return
	}

	if overflow {
		s.fail(wrapf(ErrBufferLimitExceeded, nil, "read %d bytes from %s", len(s.buf), s.target.Address()))
	}
}

func (s *session) normalizeTitle(raw string) (title string) {
	if s.normalize == nil {
		return raw
	}
	defer func() {
		if recover() != nil {
			title = raw
		}
	}()
	return s.normalize(raw)
}

func (s *session) fail(err error) {
	s.finish(stateFailed, outcome{err: err})
}

func (s *session) finish(st state, o outcome) {
	s.state = st
	s.out = o
	s.teardown()
}

// teardown releases timers and the connection. It is idempotent.
func (s *session) teardown() {
	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
	}
	s.buf = nil
	s.pending = nil
	s.pendingLen = 0
}
