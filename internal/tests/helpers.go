package tests

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/iTrooz/offline-cache/internal/config"
	"github.com/iTrooz/offline-cache/internal/proxy"
)

// upstream is a test origin that counts requests per path
type upstream struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func (u *upstream) count(path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[path]
}

// fixture_upstream creates a test origin serving the journal assets.
// Any other path answers 404.
func fixture_upstream() *upstream {
	u := &upstream{hits: make(map[string]int)}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		u.mu.Lock()
		u.hits[requ.URL.Path]++
		u.mu.Unlock()

		switch requ.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<h1>Hello from upstream</h1>"))
		case "/static/manifest.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"name": "journal"}`))
		case "/other.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png from upstream"))
		default:
			http.NotFound(w, requ)
		}
	}))
	return u
}

// fixture_config creates a test config caching the default assets of origin
func fixture_config(origin, storage, location string) *config.Config {
	cfg := config.Default()
	cfg.Assets.Origin = origin
	cfg.Cache.Storage = storage
	cfg.Cache.Location = location
	return &cfg
}

// fixture_proxy creates a proxy server with the given config and returns the server, test server, and HTTP client
func fixture_proxy(cfg *config.Config) (*proxy.Server, *httptest.Server, *http.Client, error) {
	proxyServer, err := proxy.New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	// Create test proxy HTTP server using goproxy
	proxyTestServer := httptest.NewServer(proxyServer.GetProxy())

	// Create HTTP client that uses our proxy
	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
		Timeout: 10 * time.Second,
	}

	return proxyServer, proxyTestServer, client, nil
}
