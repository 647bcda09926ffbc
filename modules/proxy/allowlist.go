package proxy

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// trustedPatterns are the upstream streaming providers the proxy will fetch
// from. Anything else is refused so the proxy cannot be turned into a
// general-purpose request forwarder.
var trustedPatterns = []string{
	`^https?://[^/]*\.bbc(media)?\.co\.uk/`,
	`^https?://[^/]*\.musicradio\.com/`,
	`^https?://[^/]*\.sharp-stream\.com/`,
	`^https?://[^/]*\.streamguys1?\.com/`,
	`^https?://[^/]*\.wnyc\.org/`,
	`^https?://[^/]*\.radioparadise\.com/`,
	`^https?://[^/]*\.somafm\.com/`,
	`^https?://[^/]*\.181fm\.com/`,
	`^https?://[^/]*\.cdnstream1\.com/`,
	`^https?://[^/]*\.fluxfm\.de/`,
	`^https?://[^/]*\.shoutca\.st/`,
	`^https?://[^/]*\.srg-ssr\.ch/`,
	`^https?://[^/]*\.radiofrance\.fr/`,
	`^https?://[^/]*\.infomaniak\.ch/`,
	`^https?://[^/]*\.webradio\.rockantenne\.de/`,
	`^https?://[^/]*\.sunshine-live\.de/`,
	`^https?://[^/]*\.radiobob\.de/`,
	`^https?://174\.36\.206\.197:\d+/`, // Venice Classic Radio
	`^https?://ibizaglobalradio\.streaming-pro\.com:\d+/`,
	`^https?://hyades\.shoutca\.st:\d+/`,
}

// privatePatterns match loopback and RFC1918 targets, blocked to prevent
// SSRF unless a trusted pattern explicitly allows the exact host.
var privatePatterns = []string{
	`^https?://(localhost|127\.|10\.|172\.(1[6-9]|2[0-9]|3[01])\.|192\.168\.)`,
}

// Allowlist decides whether an upstream URL may be proxied.
type Allowlist struct {
	trusted []*regexp.Regexp
	private []*regexp.Regexp
}

// NewAllowlist compiles the built-in pattern sets plus any extra trusted
// patterns from configuration.
func NewAllowlist(extra ...string) (*Allowlist, error) {
	a := &Allowlist{}

	for _, p := range append(append([]string{}, trustedPatterns...), extra...) {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid allowlist pattern %q", p)
		}
		a.trusted = append(a.trusted, re)
	}

	for _, p := range privatePatterns {
		a.private = append(a.private, regexp.MustCompile(p))
	}

	return a, nil
}

// Allowed reports whether url may be fetched. A private or loopback target
// is allowed only when a trusted pattern also matches it; any other target
// must match at least one trusted pattern. Total: every input yields a
// decision.
func (a *Allowlist) Allowed(url string) bool {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return false
	}

	if a.matchesAny(a.private, url) && !a.matchesAny(a.trusted, url) {
		return false
	}

	return a.matchesAny(a.trusted, url)
}

func (a *Allowlist) matchesAny(set []*regexp.Regexp, url string) bool {
	for _, re := range set {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}
