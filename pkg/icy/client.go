package icy

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zachfi/zkit/pkg/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zachfi/streamtitle/pkg/tracktitle"
)

// SourceStream tags results read from the stream itself.
const SourceStream = "STREAM"

// Result is the metadata snapshot taken from a stream.
type Result struct {
	Title       string            `json:"title"`
	FetchSource string            `json:"fetchsource"`
	Headers     map[string]string `json:"headers"`
	// URL is the stream the title was read from, after redirects.
	URL string `json:"url"`
}

// Callback receives exactly one of a result or an error.
type Callback func(*Result, error)

type Option func(*Client)

// WithTransport replaces the default TCP/TLS transport.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithNormalizer replaces the title cleanup applied to raw titles.
func WithNormalizer(fn func(string) string) Option {
	return func(c *Client) {
		c.normalize = fn
	}
}

type Client struct {
	cfg       Config
	logger    *slog.Logger
	transport Transport
	normalize func(string) string
	tracer    trace.Tracer
}

func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:       cfg,
		logger:    logger,
		transport: &NetTransport{},
		normalize: tracktitle.Fix,
		tracer:    otel.Tracer("github.com/zachfi/streamtitle/pkg/icy"),
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

const (
	handleRunning int32 = iota
	handleDelivered
	handleTornDown
)

// Handle controls an in-flight fetch started with Open.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32
}

// Teardown stops the fetch without invoking its callback, unless the
// callback has already been chosen to run. It blocks until the connection
// and timers are released.
func (h *Handle) Teardown() {
	if h.state.CompareAndSwap(handleRunning, handleTornDown) {
		h.cancel()
	}
	<-h.done
}

// Done is closed once the fetch has released its connection and timers.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Open starts fetching the title of rawURL in the background and reports to
// cb exactly once. Cancelling ctx behaves like Teardown.
func (c *Client) Open(ctx context.Context, rawURL string, mode Mode, cb Callback) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer cancel()
		res, err := c.run(ctx, rawURL, mode)

		delivered := !errors.Is(err, errTornDown) && h.state.CompareAndSwap(handleRunning, handleDelivered)
		close(h.done)
		if delivered && cb != nil {
			cb(res, err)
		}
	}()

	return h
}

// Fetch reads one title from rawURL in push mode.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	type reply struct {
		res *Result
		err error
	}
	ch := make(chan reply, 1)

	h := c.Open(ctx, rawURL, ModePush, func(r *Result, err error) {
		ch <- reply{r, err}
	})

	select {
	case r := <-ch:
		return r.res, r.err
	case <-ctx.Done():
		h.Teardown()
		// The callback may have won the race with the teardown.
		select {
		case r := <-ch:
			return r.res, r.err
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, wrapf(ErrTimeout, ctx.Err(), "fetch %s", redact(rawURL))
		}
		return nil, ctx.Err()
	}
}

// errTornDown marks a fetch that ended through Teardown or ctx; it never
// reaches a callback.
var errTornDown = errors.New("torn down")

// run drives sessions until one produces an outcome, following redirects.
func (c *Client) run(ctx context.Context, rawURL string, mode Mode) (res *Result, err error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "icy.Fetch", trace.WithAttributes(
		attribute.String("url", redact(rawURL)),
		attribute.String("mode", mode.String()),
	))
	logger := c.logger.With("url", redact(rawURL), "mode", mode.String())

	defer func() {
		if errors.Is(err, errTornDown) {
			span.End()
			return
		}
		metricFetches.WithLabelValues(Kind(err)).Inc()
		metricFetchDuration.Observe(time.Since(start).Seconds())
		_ = tracing.ErrHandler(span, err, "stream fetch failed", nil)
	}()

	target, err := ParseTarget(rawURL)
	if err != nil {
		return nil, err
	}

	visited := map[string]struct{}{target.String(): {}}
	hops := 0

	for {
		s := newSession(target, mode, c.cfg, c.normalize)
		out, finished := c.runSession(ctx, s)
		if !finished {
			logger.Debug("stream fetch torn down", "state", s.state)
			return nil, errTornDown
		}

		if out.location == "" {
			if out.err != nil {
				logger.Debug("stream fetch failed", "err", out.err)
			}
			return out.result, out.err
		}

		next, rerr := target.resolve(out.location)
		if rerr != nil {
			return nil, rerr
		}
		if _, seen := visited[next.String()]; seen {
			return nil, wrapf(ErrRedirectLoop, nil, "%s -> %s", redact(target.String()), redact(next.String()))
		}
		hops++
		if hops > c.cfg.MaxRedirects {
			return nil, wrapf(ErrRedirectLoop, nil, "more than %d redirects", c.cfg.MaxRedirects)
		}
		visited[next.String()] = struct{}{}

		metricRedirects.Inc()
		span.AddEvent("redirect", trace.WithAttributes(attribute.String("location", redact(next.String()))))
		logger.Debug("following redirect", "from", redact(target.String()), "to", redact(next.String()))

		target = next
	}
}

// runSession is the event loop for one connection attempt. finished is false
// when ctx was cancelled first.
func (c *Client) runSession(ctx context.Context, s *session) (outcome, bool) {
	dialCtx, cancelDial := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancelDial()
		wg.Wait()
	}()

	type dialResult struct {
		conn net.Conn
		err  error
	}
	dialed := make(chan dialResult)

	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, err := c.transport.Open(dialCtx, s.target)
		select {
		case dialed <- dialResult{conn: conn, err: err}:
		case <-dialCtx.Done():
			if err == nil {
				_ = conn.Close()
			}
		}
	}()

	for !s.terminal() {
		select {
		case <-ctx.Done():
			s.abort()
			return outcome{}, false

		case r := <-dialed:
			dialed = nil
			if r.err != nil {
				s.handleDialError(r.err)
				continue
			}
			s.handleConnected(r.conn)

		case ev := <-s.events():
			switch ev.kind {
			case eventData:
				s.handleData(ev.data)
			case eventError:
				s.handleError(ev.err)
			case eventClose:
				s.handleClose()
			}

		case <-s.deadlineC():
			s.handleDeadline()

		case <-s.pollC():
			s.handlePoll()
		}
	}

	return s.out, true
}

// redact hides any password in u for logs and traces.
func redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	return parsed.Redacted()
}
