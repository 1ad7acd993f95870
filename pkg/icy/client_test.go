package icy

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// icyServer is a raw TCP server that reads one request per connection and
// hands the connection to handle.
type icyServer struct {
	ln       net.Listener
	wg       sync.WaitGroup
	conns    atomic.Int32
	requests chan string
}

func newICYServer(t *testing.T, handle func(conn net.Conn, req string)) *icyServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &icyServer{ln: ln, requests: make(chan string, 16)}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.conns.Add(1)

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer conn.Close()
				_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

				req, err := readRequest(conn)
				if err != nil {
					return
				}
				select {
				case s.requests <- req:
				default:
				}
				handle(conn, req)
			}()
		}
	}()

	t.Cleanup(func() {
		_ = ln.Close()
		s.wg.Wait()
	})

	return s
}

func (s *icyServer) URL(path string) string {
	return "http://" + s.ln.Addr().String() + path
}

func readRequest(conn net.Conn) (string, error) {
	r := bufio.NewReader(conn)
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return b.String(), err
		}
		b.WriteString(line)
		if line == "\r\n" {
			return b.String(), nil
		}
	}
}

// waitForClose blocks until the client hangs up.
func waitForClose(conn net.Conn, _ string) {
	_, _ = io.Copy(io.Discard, conn)
}

func write(conn net.Conn, s string) {
	_, _ = io.WriteString(conn, s)
}

func testClient(cfg Config, opts ...Option) *Client {
	return NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func TestFetch_ICYStream(t *testing.T) {
	srv := newICYServer(t, func(conn net.Conn, _ string) {
		write(conn, "ICY 200 OK\r\nicy-name: Test Radio\r\ncontent-type: audio/mpeg\r\nicy-metaint: 16000\r\n\r\n"+
			"StreamTitle='Artist - Track';\r\n")
		waitForClose(conn, "")
	})

	c := testClient(Config{UserAgent: "streamtitle-test"})
	res, err := c.Fetch(context.Background(), srv.URL("/stream"))
	require.NoError(t, err)

	assert.Equal(t, "Artist - Track", res.Title)
	assert.Equal(t, SourceStream, res.FetchSource)
	assert.Equal(t, "Test Radio", res.Headers["icy-name"])
	assert.Equal(t, "audio/mpeg", res.Headers["content-type"])
	assert.Equal(t, "16000", res.Headers["icy-metaint"])

	req := <-srv.requests
	assert.True(t, strings.HasPrefix(req, "GET /stream HTTP/1.0\r\n"), req)
	assert.Contains(t, req, "Icy-Metadata: 1\r\n")
	assert.Contains(t, req, "User-Agent: streamtitle-test\r\n")
	assert.NotContains(t, req, "Authorization")
}

func TestFetch_BasicAuth(t *testing.T) {
	srv := newICYServer(t, func(conn net.Conn, _ string) {
		write(conn, "ICY 200 OK\r\n\r\nStreamTitle='Private';")
		waitForClose(conn, "")
	})

	u := strings.Replace(srv.URL("/live?sid=1"), "http://", "http://dj:s3cret@", 1)

	res, err := testClient(Config{}).Fetch(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, "Private", res.Title)

	req := <-srv.requests
	assert.True(t, strings.HasPrefix(req, "GET /live?sid=1 HTTP/1.0\r\n"), req)
	assert.Contains(t, req, "Authorization: Basic ZGo6czNjcmV0\r\n")
}

func TestFetch_FollowsRedirect(t *testing.T) {
	final := newICYServer(t, func(conn net.Conn, _ string) {
		write(conn, "ICY 200 OK\r\n\r\nStreamTitle='Moved - Here';")
		waitForClose(conn, "")
	})
	finalURL := final.URL("/stream")

	first := newICYServer(t, func(conn net.Conn, _ string) {
		write(conn, "HTTP/1.1 302 Found\r\nLocation: "+finalURL+"\r\n\r\n")
	})

	before := testutil.ToFloat64(metricRedirects)

	res, err := testClient(Config{}).Fetch(context.Background(), first.URL("/stream"))
	require.NoError(t, err)

	assert.Equal(t, "Moved - Here", res.Title)
	assert.Equal(t, finalURL, res.URL)
	assert.Equal(t, int32(1), first.conns.Load())
	assert.Equal(t, int32(1), final.conns.Load())
	assert.Equal(t, before+1, testutil.ToFloat64(metricRedirects))
}

func TestFetch_RelativeRedirect(t *testing.T) {
	srv := newICYServer(t, func(conn net.Conn, req string) {
		if strings.HasPrefix(req, "GET /old ") {
			write(conn, "HTTP/1.0 301 Moved Permanently\r\nLocation: /real\r\n\r\n")
			return
		}
		write(conn, "ICY 200 OK\r\n\r\nStreamTitle='Relative';")
		waitForClose(conn, req)
	})

	res, err := testClient(Config{}).Fetch(context.Background(), srv.URL("/old"))
	require.NoError(t, err)
	assert.Equal(t, "Relative", res.Title)
	assert.Equal(t, srv.URL("/real"), res.URL)
	assert.Equal(t, int32(2), srv.conns.Load())
}

func TestFetch_RedirectLoop(t *testing.T) {
	srv := newICYServer(t, func(conn net.Conn, _ string) {
		self := "http://" + conn.LocalAddr().String() + "/stream"
		write(conn, "HTTP/1.1 302 Found\r\nLocation: "+self+"\r\n\r\n")
	})

	_, err := testClient(Config{}).Fetch(context.Background(), srv.URL("/stream"))
	require.ErrorIs(t, err, ErrRedirectLoop)
	assert.Equal(t, int32(1), srv.conns.Load())
}

func TestFetch_TooManyRedirects(t *testing.T) {
	var hop atomic.Int32
	srv := newICYServer(t, func(conn net.Conn, _ string) {
		write(conn, fmt.Sprintf("HTTP/1.1 302 Found\r\nLocation: /hop-%d\r\n\r\n", hop.Add(1)))
	})

	_, err := testClient(Config{MaxRedirects: 3}).Fetch(context.Background(), srv.URL("/start"))
	require.ErrorIs(t, err, ErrRedirectLoop)
	assert.Equal(t, int32(4), srv.conns.Load())
}

func TestFetch_HTMLErrorPage(t *testing.T) {
	srv := newICYServer(t, func(conn net.Conn, _ string) {
		write(conn, "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n<html><body>Stream offline</body></html>")
	})

	_, err := testClient(Config{}).Fetch(context.Background(), srv.URL("/"))
	require.ErrorIs(t, err, ErrNoMetadataFound)
}

func TestFetch_ClosedWithoutMetadata(t *testing.T) {
	srv := newICYServer(t, func(conn net.Conn, _ string) {
		write(conn, "ICY 200 OK\r\ncontent-type: audio/mpeg\r\n\r\n\xff\xfb\x90\x00")
	})

	_, err := testClient(Config{}).Fetch(context.Background(), srv.URL("/"))
	require.ErrorIs(t, err, ErrNoMetadataFound)
}

func TestFetch_Timeout(t *testing.T) {
	srv := newICYServer(t, waitForClose)

	start := time.Now()
	_, err := testClient(Config{Timeout: 100 * time.Millisecond}).Fetch(context.Background(), srv.URL("/"))
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestFetch_ContextDeadlineIsTimeout(t *testing.T) {
	srv := newICYServer(t, waitForClose)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := testClient(Config{Timeout: time.Minute}).Fetch(ctx, srv.URL("/"))
	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetch_BufferLimit(t *testing.T) {
	srv := newICYServer(t, func(conn net.Conn, _ string) {
		write(conn, "ICY 200 OK\r\n\r\n")
		chunk := make([]byte, 4096)
		for {
			if _, err := conn.Write(chunk); err != nil {
				return
			}
		}
	})

	_, err := testClient(Config{MaxBufferSize: 10000}).Fetch(context.Background(), srv.URL("/"))
	require.ErrorIs(t, err, ErrBufferLimitExceeded)
}

func TestFetch_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = testClient(Config{}).Fetch(context.Background(), "http://"+addr+"/")
	require.ErrorIs(t, err, ErrConnectFailure)
}

func TestFetch_BadTargets(t *testing.T) {
	c := testClient(Config{})

	_, err := c.Fetch(context.Background(), "ftp://radio.example/stream")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)

	_, err = c.Fetch(context.Background(), "http:///stream")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestFetch_TLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Icy-Name", "Secure Radio")
		_, _ = io.WriteString(w, "StreamTitle='Secure - Song';")
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())

	c := testClient(Config{}, WithTransport(&NetTransport{TLSConfig: &tls.Config{RootCAs: pool}}))

	res, err := c.Fetch(context.Background(), srv.URL+"/stream")
	require.NoError(t, err)
	assert.Equal(t, "Secure - Song", res.Title)
	assert.Equal(t, "Secure Radio", res.Headers["icy-name"])
}

func TestFetch_TLSVerifiesServerName(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	// No trusted roots: the handshake must fail.
	_, err := testClient(Config{}).Fetch(context.Background(), srv.URL+"/stream")
	require.ErrorIs(t, err, ErrConnectFailure)
}

func TestOpen_PersistentMode(t *testing.T) {
	srv := newICYServer(t, func(conn net.Conn, _ string) {
		write(conn, "ICY 200 OK\r\n\r\n")
		time.Sleep(50 * time.Millisecond)
		write(conn, "\x00\x01StreamTitle='Slow")
		time.Sleep(50 * time.Millisecond)
		write(conn, " - Poll';")
		waitForClose(conn, "")
	})

	results := make(chan *Result, 2)
	c := testClient(Config{PollInterval: 20 * time.Millisecond, Timeout: time.Millisecond})
	h := c.Open(context.Background(), srv.URL("/"), ModePersistent, func(r *Result, err error) {
		assert.NoError(t, err)
		results <- r
	})

	select {
	case r := <-results:
		assert.Equal(t, "Slow - Poll", r.Title)
	case <-time.After(3 * time.Second):
		t.Fatal("no result from persistent session")
	}

	<-h.Done()
	assert.Empty(t, results)
}

func TestOpen_TeardownSuppressesCallback(t *testing.T) {
	closed := make(chan struct{})
	srv := newICYServer(t, func(conn net.Conn, _ string) {
		write(conn, "ICY 200 OK\r\n\r\n")
		waitForClose(conn, "")
		close(closed)
	})

	var calls atomic.Int32
	c := testClient(Config{PollInterval: 10 * time.Millisecond})
	h := c.Open(context.Background(), srv.URL("/"), ModePersistent, func(*Result, error) {
		calls.Add(1)
	})

	require.Eventually(t, func() bool { return srv.conns.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	h.Teardown()
	h.Teardown()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("server connection was not closed by teardown")
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestOpen_CallbackExactlyOnce(t *testing.T) {
	srv := newICYServer(t, func(conn net.Conn, _ string) {
		// Title, then more data, then a close: only the first outcome counts.
		write(conn, "ICY 200 OK\r\n\r\nStreamTitle='Once';")
		write(conn, "StreamTitle='Twice';")
	})

	var calls atomic.Int32
	c := testClient(Config{})
	h := c.Open(context.Background(), srv.URL("/"), ModePush, func(r *Result, err error) {
		calls.Add(1)
		assert.NoError(t, err)
		assert.Equal(t, "Once", r.Title)
	})

	<-h.Done()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	// Teardown after delivery is harmless.
	h.Teardown()
}

func TestKind(t *testing.T) {
	assert.Equal(t, "ok", Kind(nil))
	assert.Equal(t, "timeout", Kind(wrapf(ErrTimeout, nil, "x")))
	assert.Equal(t, "connect", Kind(wrapf(ErrConnectFailure, io.EOF, "x")))
	assert.Equal(t, "unknown", Kind(io.EOF))
}
