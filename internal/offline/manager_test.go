package offline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/iTrooz/offline-cache/internal/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingTransport counts network round trips per path
type countingTransport struct {
	next  http.RoundTripper
	total atomic.Int64
	mu    sync.Mutex
	paths map[string]int
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.total.Add(1)
	c.mu.Lock()
	if c.paths == nil {
		c.paths = make(map[string]int)
	}
	c.paths[req.URL.Path]++
	c.mu.Unlock()
	return c.next.RoundTrip(req)
}

func (c *countingTransport) count(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paths[path]
}

type failingTransport struct {
	err error
}

func (f failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, f.err
}

// fixture_origin serves the journal pages, /missing.json answers 404
func fixture_origin(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<h1>journal</h1>"))
		case "/static/manifest.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"name":"journal"}`))
		case "/other.png":
			w.Header().Set("Content-Type", "image/png")
			w.Header().Set("X-Origin", "live")
			_, _ = w.Write([]byte("png-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fixture_manager(t *testing.T, origin string, assets []string, transport http.RoundTripper) *Manager {
	t.Helper()
	originURL, err := url.Parse(origin)
	require.NoError(t, err)

	m, err := New(Options{
		CacheName: "journal-cache-v1",
		Assets:    assets,
		Origin:    originURL,
		Storage:   cache.NewMemory(),
		Transport: transport,
	})
	require.NoError(t, err)
	return m
}

func get(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestInstallCachesEveryAsset(t *testing.T) {
	origin := fixture_origin(t)
	transport := &countingTransport{next: http.DefaultTransport}
	m := fixture_manager(t, origin.URL, []string{"/", "/static/manifest.json"}, transport)

	result, err := m.Install(context.Background())
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Equal(t, "journal-cache-v1", result.CacheName)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, origin.URL+"/", result.Outcomes[0].URL)
	assert.Equal(t, origin.URL+"/static/manifest.json", result.Outcomes[1].URL)
	assert.Equal(t, int64(2), transport.total.Load())

	keys, err := m.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	for _, asset := range m.Assets() {
		resp, hit, err := m.Intercept(get(t, asset))
		require.NoError(t, err)
		assert.True(t, hit, "%s should be served from cache", asset)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		_ = readBody(t, resp)
	}
	assert.Equal(t, int64(2), transport.total.Load(), "cache hits must not reach the network")
}

func TestInstallFailsWhenOneAssetFails(t *testing.T) {
	origin := fixture_origin(t)
	m := fixture_manager(t, origin.URL, []string{"/", "/missing.json"}, nil)

	result, err := m.Install(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInstallFailed)
	assert.False(t, result.OK())

	require.Len(t, result.Outcomes, 2)
	assert.NoError(t, result.Outcomes[0].Err)
	assert.Equal(t, http.StatusOK, result.Outcomes[0].StatusCode)
	assert.Error(t, result.Outcomes[1].Err)
	assert.Equal(t, http.StatusNotFound, result.Outcomes[1].StatusCode)
	assert.NotEmpty(t, result.Outcomes[1].Message)
	assert.Len(t, result.Failed(), 1)

	keys, err := m.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys, "nothing must be committed when install fails")

	resp, err := m.Match(get(t, origin.URL+"/"))
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestInstallFailsOnTransportError(t *testing.T) {
	netErr := errors.New("connection refused")
	m := fixture_manager(t, "http://journal.test", []string{"/", "/static/manifest.json"}, failingTransport{err: netErr})

	result, err := m.Install(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInstallFailed)
	assert.ErrorIs(t, err, netErr)
	assert.Len(t, result.Failed(), 2)
}

func TestInstallDoesNotRetry(t *testing.T) {
	origin := fixture_origin(t)
	transport := &countingTransport{next: http.DefaultTransport}
	m := fixture_manager(t, origin.URL, []string{"/", "/missing.json"}, transport)

	_, err := m.Install(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, transport.count("/missing.json"))
}

func TestFailedReinstallKeepsPreviousEntries(t *testing.T) {
	origin := fixture_origin(t)
	originURL, err := url.Parse(origin.URL)
	require.NoError(t, err)
	storage := cache.NewMemory()

	good, err := New(Options{CacheName: "journal-cache-v1", Assets: []string{"/"}, Origin: originURL, Storage: storage})
	require.NoError(t, err)
	_, err = good.Install(context.Background())
	require.NoError(t, err)

	bad, err := New(Options{CacheName: "journal-cache-v1", Assets: []string{"/", "/missing.json"}, Origin: originURL, Storage: storage})
	require.NoError(t, err)
	_, err = bad.Install(context.Background())
	require.Error(t, err)

	keys, err := good.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestInterceptMissFetchesOnce(t *testing.T) {
	origin := fixture_origin(t)
	transport := &countingTransport{next: http.DefaultTransport}
	m := fixture_manager(t, origin.URL, []string{"/", "/static/manifest.json"}, transport)
	_, err := m.Install(context.Background())
	require.NoError(t, err)

	resp, hit, err := m.Intercept(get(t, origin.URL+"/other.png"))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "live", resp.Header.Get("X-Origin"))
	assert.Equal(t, "png-bytes", readBody(t, resp))
	assert.Equal(t, 1, transport.count("/other.png"))

	// misses are never stored
	resp, hit, err = m.Intercept(get(t, origin.URL+"/other.png"))
	require.NoError(t, err)
	assert.False(t, hit)
	_ = readBody(t, resp)
	assert.Equal(t, 2, transport.count("/other.png"))

	keys, err := m.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestInterceptMissReturnsNetworkStatusUnchanged(t *testing.T) {
	origin := fixture_origin(t)
	m := fixture_manager(t, origin.URL, []string{"/"}, nil)
	_, err := m.Install(context.Background())
	require.NoError(t, err)

	resp, hit, err := m.Intercept(get(t, origin.URL+"/nowhere"))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = readBody(t, resp)
}

func TestInterceptMissSurfacesNetworkError(t *testing.T) {
	netErr := errors.New("network down")
	m := fixture_manager(t, "http://journal.test", []string{"/"}, failingTransport{err: netErr})

	resp, hit, err := m.Intercept(get(t, "http://journal.test/other.png"))
	assert.Nil(t, resp)
	assert.False(t, hit)
	assert.Same(t, netErr, err)
}

func TestReinstallIsIdempotent(t *testing.T) {
	origin := fixture_origin(t)
	transport := &countingTransport{next: http.DefaultTransport}
	m := fixture_manager(t, origin.URL, []string{"/", "/static/manifest.json"}, transport)

	_, err := m.Install(context.Background())
	require.NoError(t, err)
	before, err := m.Keys()
	require.NoError(t, err)

	_, err = m.Install(context.Background())
	require.NoError(t, err)
	after, err := m.Keys()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	installFetches := transport.total.Load()
	resp, hit, err := m.Intercept(get(t, origin.URL+"/"))
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "<h1>journal</h1>", readBody(t, resp))
	assert.Equal(t, installFetches, transport.total.Load())
}

func TestClientUsesManagerAsTransport(t *testing.T) {
	origin := fixture_origin(t)
	counter := &countingTransport{next: http.DefaultTransport}
	m := fixture_manager(t, origin.URL, []string{"/", "/static/manifest.json"}, counter)
	_, err := m.Install(context.Background())
	require.NoError(t, err)

	client := &http.Client{Transport: m}
	resp, err := client.Get(origin.URL + "/static/manifest.json")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"journal"}`, readBody(t, resp))
	assert.Equal(t, 1, counter.count("/static/manifest.json"))
}

func TestNewRejectsDuplicateAssets(t *testing.T) {
	originURL, err := url.Parse("http://journal.test")
	require.NoError(t, err)

	_, err = New(Options{
		CacheName: "journal-cache-v1",
		Assets:    []string{"/", "http://journal.test/"},
		Origin:    originURL,
		Storage:   cache.NewMemory(),
	})
	assert.Error(t, err)
}

func TestInScope(t *testing.T) {
	m := fixture_manager(t, "http://journal.test/app", []string{"/app/"}, nil)

	tests := []struct {
		url  string
		want bool
	}{
		{"http://journal.test/app/", true},
		{"http://journal.test:80/app/static/manifest.json", true},
		{"http://journal.test/other", false},
		{"https://journal.test/app/", false},
		{"http://elsewhere.test/app/", false},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.url)
		require.NoError(t, err)
		assert.Equal(t, tt.want, m.InScope(u), tt.url)
	}
}
