package probe

import (
	"flag"
	"time"

	"github.com/zachfi/zkit/pkg/util"

	"github.com/zachfi/streamtitle/pkg/icy"
)

const (
	defaultInterval         = 30 * time.Second
	defaultReconnectInitial = 5 * time.Second
	defaultReconnectMax     = 60 * time.Second
)

type Config struct {
	URL                 string        `yaml:"url,omitempty"`
	Interval            time.Duration `yaml:"interval,omitempty"`              // delay between successful fetches
	Persistent          bool          `yaml:"persistent,omitempty"`            // keep a polling session open instead of fetching with a deadline
	ResolvePlaylist     bool          `yaml:"resolve-playlist,omitempty"`      // treat the URL as a possible .pls/.m3u
	ReconnectBackoff    time.Duration `yaml:"reconnect-backoff,omitempty"`     // initial delay after a failed fetch
	ReconnectBackoffMax time.Duration `yaml:"reconnect-backoff-max,omitempty"` // cap on the delay (exponential backoff)
	ICY                 icy.Config    `yaml:"icy,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.URL, util.PrefixConfig(prefix, "url"), "", "The stream URL to read titles from")
	f.DurationVar(&cfg.Interval, util.PrefixConfig(prefix, "interval"), defaultInterval,
		"How long to wait after a successful fetch before fetching again.")
	f.BoolVar(&cfg.Persistent, util.PrefixConfig(prefix, "persistent"), false,
		"Keep the stream open and scan it periodically instead of fetching with a deadline.")
	f.BoolVar(&cfg.ResolvePlaylist, util.PrefixConfig(prefix, "resolve-playlist"), false,
		"Resolve .pls and .m3u playlists to the stream they point at before fetching.")
	f.DurationVar(&cfg.ReconnectBackoff, util.PrefixConfig(prefix, "reconnect-backoff"), defaultReconnectInitial,
		"Initial delay before retrying after a failed fetch. Exponential backoff is used up to reconnect-backoff-max.")
	f.DurationVar(&cfg.ReconnectBackoffMax, util.PrefixConfig(prefix, "reconnect-backoff-max"), defaultReconnectMax,
		"Maximum delay between retries.")

	cfg.ICY.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "icy"), f)
}
