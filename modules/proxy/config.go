package proxy

import (
	"flag"
	"time"

	"github.com/grafana/dskit/flagext"
	"github.com/zachfi/zkit/pkg/util"
)

const (
	// Some upstream radio servers refuse non-browser clients, so the proxy
	// identifies as one by default.
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	defaultDialTimeout           = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
)

type Config struct {
	UserAgent             string                 `yaml:"user-agent,omitempty"`
	AllowedPatterns       flagext.StringSliceCSV `yaml:"allowed-patterns,omitempty"` // extra trusted upstream patterns
	DialTimeout           time.Duration          `yaml:"dial-timeout,omitempty"`
	ResponseHeaderTimeout time.Duration          `yaml:"response-header-timeout,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.UserAgent, util.PrefixConfig(prefix, "user-agent"), defaultUserAgent,
		"User-Agent header sent on upstream stream requests.")
	f.Var(&cfg.AllowedPatterns, util.PrefixConfig(prefix, "allowed-patterns"),
		"Additional trusted upstream URL patterns (regular expressions), comma separated.")
	f.DurationVar(&cfg.DialTimeout, util.PrefixConfig(prefix, "dial-timeout"), defaultDialTimeout,
		"Timeout for establishing the upstream connection.")
	f.DurationVar(&cfg.ResponseHeaderTimeout, util.PrefixConfig(prefix, "response-header-timeout"), defaultResponseHeaderTimeout,
		"Timeout for the upstream response headers. The stream itself has no timeout.")
}
