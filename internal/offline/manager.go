// Package offline serves requests cache-first from a named cache that is
// pre-populated with a fixed asset list at install time.
//
// The cache is written only by Install. Interception never stores network
// responses, and network failures on a miss are returned to the caller as is.
package offline

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/iTrooz/offline-cache/internal/cache"
	"github.com/iTrooz/offline-cache/internal/cache/httpcache"

	"github.com/sirupsen/logrus"
)

// Options configures a Manager
type Options struct {
	// Name of the cache holding the assets, e.g. "journal-cache-v1"
	CacheName string
	// Assets to pre-cache. Relative URLs resolve against Origin.
	Assets []string
	// Origin is the scope of the cache
	Origin *url.URL
	// Storage must already be initialized
	Storage cache.Storage
	// Transport performs network fetches. http.DefaultTransport if nil.
	Transport http.RoundTripper
}

// Manager installs the asset list and intercepts requests
type Manager struct {
	cache     *httpcache.NamedCache
	origin    *url.URL
	assets    []*url.URL
	transport http.RoundTripper
}

// New creates a Manager. Asset URLs are resolved against the origin and must be
// distinct after resolution.
func New(opts Options) (*Manager, error) {
	if opts.Origin == nil {
		return nil, fmt.Errorf("origin is required")
	}
	named, err := httpcache.Open(opts.CacheName, opts.Storage)
	if err != nil {
		return nil, err
	}

	assets := make([]*url.URL, 0, len(opts.Assets))
	seen := make(map[string]bool, len(opts.Assets))
	for _, raw := range opts.Assets {
		ref, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid asset URL %q: %w", raw, err)
		}
		resolved := opts.Origin.ResolveReference(ref)
		if seen[resolved.String()] {
			return nil, fmt.Errorf("duplicate asset URL: %s", resolved)
		}
		seen[resolved.String()] = true
		assets = append(assets, resolved)
	}

	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Manager{
		cache:     named,
		origin:    opts.Origin,
		assets:    assets,
		transport: transport,
	}, nil
}

// CacheName returns the name of the cache this manager fills
func (m *Manager) CacheName() string {
	return m.cache.Name()
}

// Assets returns the resolved asset URLs in install order
func (m *Manager) Assets() []string {
	out := make([]string, len(m.assets))
	for i, u := range m.assets {
		out[i] = u.String()
	}
	return out
}

// Keys lists what is currently stored in the named cache
func (m *Manager) Keys() ([]string, error) {
	return m.cache.Keys()
}

// InScope reports whether u falls under the origin of the cache
func (m *Manager) InScope(u *url.URL) bool {
	if !strings.EqualFold(u.Scheme, m.origin.Scheme) || !sameHost(u.Host, m.origin.Host, u.Scheme) {
		return false
	}
	scope := m.origin.Path
	if scope == "" {
		scope = "/"
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	return strings.HasPrefix(p, scope)
}

func sameHost(a, b, scheme string) bool {
	defaultPort := ":80"
	if strings.EqualFold(scheme, "https") {
		defaultPort = ":443"
	}
	return strings.EqualFold(strings.TrimSuffix(a, defaultPort), strings.TrimSuffix(b, defaultPort))
}

// Match looks req up in the named cache without touching the network.
// returns nil, nil on a miss
func (m *Manager) Match(req *http.Request) (*http.Response, error) {
	return m.cache.Match(req)
}

// Intercept answers req cache-first. A hit returns the stored response and
// never reaches the network. A miss performs exactly one network round trip
// whose response and error are returned unchanged, and nothing is cached.
func (m *Manager) Intercept(req *http.Request) (*http.Response, bool, error) {
	resp, err := m.cache.Match(req)
	if err != nil {
		logrus.Errorf("Failed to get cached data for %s: %v", req.URL, err)
	} else if resp != nil {
		return resp, true, nil
	}

	logrus.Debugf("No cached data found for %s %s", req.Method, req.URL)
	resp, err = m.transport.RoundTrip(req)
	return resp, false, err
}

// RoundTrip implements http.RoundTripper so a client can fetch cache-first
func (m *Manager) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, _, err := m.Intercept(req)
	return resp, err
}
