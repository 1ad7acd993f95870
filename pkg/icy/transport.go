package icy

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
)

// Transport opens the raw connection a session reads from.
type Transport interface {
	Open(ctx context.Context, t Target) (net.Conn, error)
}

// NetTransport dials plain TCP for http targets and TLS for https targets.
type NetTransport struct {
	Dialer *net.Dialer
	// TLSConfig is cloned per connection; ServerName is always set to the target host.
	TLSConfig *tls.Config
}

func (n *NetTransport) Open(ctx context.Context, t Target) (net.Conn, error) {
	d := n.Dialer
	if d == nil {
		d = &net.Dialer{}
	}

	switch t.Scheme {
	case "http":
		return d.DialContext(ctx, "tcp", t.Address())
	case "https":
		var cfg *tls.Config
		if n.TLSConfig != nil {
			cfg = n.TLSConfig.Clone()
		} else {
			cfg = &tls.Config{}
		}
		cfg.ServerName = t.Host

		td := &tls.Dialer{NetDialer: d, Config: cfg}
		return td.DialContext(ctx, "tcp", t.Address())
	default:
		return nil, wrapf(ErrUnsupportedScheme, nil, "unknown protocol %q, unable to fetch stream", t.Scheme)
	}
}

type eventKind int

const (
	eventData eventKind = iota
	eventError
	eventClose
)

type event struct {
	kind eventKind
	data []byte
	err  error
}

// stream writes the request once, then turns reads on conn into events.
// Nothing is delivered after Close returns.
type stream struct {
	conn   net.Conn
	events chan event
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

const readChunkSize = 4096

func newStream(conn net.Conn, request []byte) *stream {
	s := &stream{
		conn:   conn,
		events: make(chan event),
		done:   make(chan struct{}),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pump(request)
	}()

	return s
}

func (s *stream) pump(request []byte) {
	if _, err := s.conn.Write(request); err != nil {
		s.emit(event{kind: eventError, err: err})
		return
	}

	for {
		buf := make([]byte, readChunkSize)
		n, err := s.conn.Read(buf)
		if n > 0 {
			if !s.emit(event{kind: eventData, data: buf[:n]}) {
				return
			}
		}
		if err != nil {
			// A half-close or orderly shutdown by the peer is not an error.
			if errors.Is(err, io.EOF) {
				s.emit(event{kind: eventClose})
			} else {
				s.emit(event{kind: eventError, err: err})
			}
			return
		}
	}
}

func (s *stream) emit(e event) bool {
	select {
	case s.events <- e:
		return true
	case <-s.done:
		return false
	}
}

// Close is safe to call more than once.
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	s.wg.Wait()
	return err
}
