package icy

import (
	"flag"
	"time"

	"github.com/prometheus/common/version"
	"github.com/zachfi/zkit/pkg/util"
)

const (
	defaultTimeout       = 5 * time.Second
	defaultPollInterval  = 100 * time.Millisecond
	defaultMaxBufferSize = 100000
	defaultMaxRedirects  = 10
)

type Config struct {
	Timeout       time.Duration `yaml:"timeout,omitempty"`         // overall deadline in push mode
	PollInterval  time.Duration `yaml:"poll-interval,omitempty"`   // scan interval in persistent mode
	MaxBufferSize int           `yaml:"max-buffer-size,omitempty"` // bytes kept while looking for the title
	MaxRedirects  int           `yaml:"max-redirects,omitempty"`
	UserAgent     string        `yaml:"user-agent,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.Timeout, util.PrefixConfig(prefix, "timeout"), defaultTimeout,
		"How long to wait for a stream title before giving up.")
	f.DurationVar(&cfg.PollInterval, util.PrefixConfig(prefix, "poll-interval"), defaultPollInterval,
		"How often captured data is scanned for a title in persistent mode.")
	f.IntVar(&cfg.MaxBufferSize, util.PrefixConfig(prefix, "max-buffer-size"), defaultMaxBufferSize,
		"Maximum number of bytes read from a stream while looking for a title.")
	f.IntVar(&cfg.MaxRedirects, util.PrefixConfig(prefix, "max-redirects"), defaultMaxRedirects,
		"Maximum number of redirects followed for a single fetch.")
	f.StringVar(&cfg.UserAgent, util.PrefixConfig(prefix, "user-agent"), "",
		"User-Agent sent to stream servers. Defaults to streamtitle/<version>.")
}

func (cfg *Config) applyDefaults() {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = defaultMaxBufferSize
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "streamtitle/" + version.Version
		if version.Version == "" {
			cfg.UserAgent = "streamtitle"
		}
	}
}
