package probe

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"github.com/zachfi/zkit/pkg/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zachfi/streamtitle/pkg/icy"
	"github.com/zachfi/streamtitle/pkg/playlist"
)

// NowPlaying is the last title seen on the stream.
type NowPlaying struct {
	*icy.Result
	Updated time.Time `json:"updated"`
}

type Probe struct {
	services.Service
	cfg        *Config
	logger     *slog.Logger
	client     *icy.Client
	httpClient *http.Client
	tracer     trace.Tracer

	streamURL string

	mtx  sync.RWMutex
	last *NowPlaying
}

var module = "probe"

// New creates and returns a new Probe. opts are passed to the icy client.
func New(cfg Config, logger *slog.Logger, opts ...icy.Option) (*Probe, error) {
	if cfg.URL == "" {
		return nil, errors.New("no stream url configured")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = defaultReconnectInitial
	}
	if cfg.ReconnectBackoffMax < cfg.ReconnectBackoff {
		cfg.ReconnectBackoffMax = cfg.ReconnectBackoff
	}

	logger = logger.With("module", module)

	p := &Probe{
		cfg:        &cfg,
		logger:     logger,
		client:     icy.NewClient(cfg.ICY, logger, opts...),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tracer:     otel.Tracer("github.com/zachfi/streamtitle/modules/probe"),
		streamURL:  cfg.URL,
	}

	p.Service = services.NewBasicService(p.starting, p.running, p.stopping)

	return p, nil
}

func (p *Probe) starting(ctx context.Context) error {
	if p.cfg.ResolvePlaylist {
		resolved, err := playlist.Resolve(ctx, p.httpClient, p.cfg.URL, p.cfg.ICY.UserAgent)
		p.httpClient.CloseIdleConnections()
		if err != nil {
			p.logger.Error("error resolving playlist", "err", err)
			return errors.Wrap(err, "failed to resolve playlist")
		}
		if resolved != p.cfg.URL {
			p.logger.Info("resolved playlist to stream url", "url", resolved)
		}
		p.streamURL = resolved
	}

	if _, err := icy.ParseTarget(p.streamURL); err != nil {
		return errors.Wrap(err, "invalid stream url")
	}

	return nil
}

func (p *Probe) running(ctx context.Context) error {
	boff := backoff.New(ctx, backoff.Config{
		MinBackoff: p.cfg.ReconnectBackoff,
		MaxBackoff: p.cfg.ReconnectBackoffMax,
	})

	for boff.Ongoing() {
		if err := p.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			boff.Wait()
			continue
		}
		boff.Reset()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.cfg.Interval):
		}
	}

	return nil
}

func (p *Probe) stopping(_ error) error {
	p.logger.Info("stopping")
	return nil
}

func (p *Probe) poll(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "probe.poll", trace.WithAttributes(
		attribute.Bool("persistent", p.cfg.Persistent),
	))

	res, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			metricFailures.WithLabelValues(icy.Kind(err)).Inc()
		}
		return tracing.ErrHandler(span, err, "failed to fetch stream title", p.logger)
	}

	p.update(res)
	return tracing.ErrHandler(span, nil, "", nil)
}

func (p *Probe) fetch(ctx context.Context) (*icy.Result, error) {
	if !p.cfg.Persistent {
		return p.client.Fetch(ctx, p.streamURL)
	}

	type reply struct {
		res *icy.Result
		err error
	}
	ch := make(chan reply, 1)

	h := p.client.Open(ctx, p.streamURL, icy.ModePersistent, func(r *icy.Result, err error) {
		ch <- reply{r, err}
	})

	select {
	case r := <-ch:
		return r.res, r.err
	case <-ctx.Done():
		h.Teardown()
		return nil, ctx.Err()
	}
}

func (p *Probe) update(res *icy.Result) {
	now := time.Now()
	metricLastSuccess.Set(float64(now.Unix()))

	p.mtx.Lock()
	changed := p.last == nil || p.last.Title != res.Title
	p.last = &NowPlaying{Result: res, Updated: now}
	p.mtx.Unlock()

	if changed {
		metricTitleChanges.Inc()
		p.logger.Info("now playing", "title", res.Title, "url", res.URL)
	}
}

// Last returns the most recent title, or nil before the first success.
func (p *Probe) Last() *NowPlaying {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return p.last
}

// ServeHTTP reports the last title as JSON.
func (p *Probe) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	last := p.Last()
	if last == nil {
		http.Error(w, "no title yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(last); err != nil {
		p.logger.Error("error encoding now playing", "err", err)
	}
}
