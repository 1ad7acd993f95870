package icy

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedScheme   = errors.New("unsupported scheme")
	ErrConnectFailure      = errors.New("connect failure")
	ErrTimeout             = errors.New("stream fetch timed out")
	ErrBufferLimitExceeded = errors.New("stream did not yield metadata within bounded memory")
	ErrRedirectLoop        = errors.New("redirect loop detected")
	ErrNoMetadataFound     = errors.New("error fetching stream")
	ErrMalformedResponse   = errors.New("malformed stream target")
)

// kinds is ordered; Kind reports the first match.
var kinds = []struct {
	err   error
	label string
}{
	{ErrUnsupportedScheme, "unsupported_scheme"},
	{ErrConnectFailure, "connect"},
	{ErrTimeout, "timeout"},
	{ErrBufferLimitExceeded, "buffer_limit"},
	{ErrRedirectLoop, "redirect_loop"},
	{ErrNoMetadataFound, "no_metadata"},
	{ErrMalformedResponse, "malformed"},
}

// Kind returns a short label for the class of err, suitable for metric labels.
func Kind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.label
		}
	}
	return "unknown"
}

func wrapf(kind, cause error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if cause == nil {
		return fmt.Errorf("%s: %w", msg, kind)
	}
	return fmt.Errorf("%s: %w: %w", msg, kind, cause)
}
