package icy

import (
	"net"
	"net/url"
	"strconv"
)

// Target is a parsed stream URL. A redirect produces a new Target.
type Target struct {
	Scheme string
	Host   string
	Port   int
	// Path includes the query string, if any.
	Path string
	User *url.Userinfo

	raw string
}

// ParseTarget parses a stream URL of the form scheme://[user:pass@]host[:port]/path.
func ParseTarget(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, wrapf(ErrMalformedResponse, err, "parse %q", raw)
	}

	var defaultPort int
	switch u.Scheme {
	case "http":
		defaultPort = 80
	case "https":
		defaultPort = 443
	default:
		return Target{}, wrapf(ErrUnsupportedScheme, nil, "unknown protocol %q, unable to fetch stream", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return Target{}, wrapf(ErrMalformedResponse, nil, "no host in %q", raw)
	}

	port := defaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Target{}, wrapf(ErrMalformedResponse, err, "invalid port %q", p)
		}
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	return Target{
		Scheme: u.Scheme,
		Host:   host,
		Port:   port,
		Path:   path,
		User:   u.User,
		raw:    raw,
	}, nil
}

// Address returns host:port for dialing.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// String returns the URL the target was parsed from.
func (t Target) String() string {
	return t.raw
}

// TLS reports whether the target is reached over TLS.
func (t Target) TLS() bool {
	return t.Scheme == "https"
}

// resolve interprets a Location value relative to t.
func (t Target) resolve(location string) (Target, error) {
	base, err := url.Parse(t.raw)
	if err != nil {
		return Target{}, wrapf(ErrMalformedResponse, err, "parse %q", t.raw)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return Target{}, wrapf(ErrMalformedResponse, err, "parse redirect %q", location)
	}
	if ref.IsAbs() {
		return ParseTarget(location)
	}
	return ParseTarget(base.ResolveReference(ref).String())
}
