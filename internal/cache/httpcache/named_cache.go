package httpcache

import (
	"fmt"
	"net/http"

	"github.com/iTrooz/offline-cache/internal/cache"

	"github.com/sirupsen/logrus"
)

// Entry is a serialized response ready to be committed under Key
type Entry struct {
	Key  string
	Data []byte
}

// NamedCache stores request/response pairs under a cache name
type NamedCache struct {
	name    string
	storage cache.Storage
}

// Open binds name to storage. The storage must already be initialized.
func Open(name string, storage cache.Storage) (*NamedCache, error) {
	if name == "" {
		return nil, fmt.Errorf("cache name is required")
	}
	if storage == nil {
		return nil, fmt.Errorf("cache storage is required")
	}
	return &NamedCache{
		name:    name,
		storage: storage,
	}, nil
}

func (c *NamedCache) Name() string {
	return c.name
}

// RequestKey returns the storage key of req in this cache
func (c *NamedCache) RequestKey(req *http.Request) string {
	host := req.URL.Host
	if host == "" {
		host = req.Host
	}
	return Key(c.name, req.Method, host, req.URL.Path, req.URL.RawQuery)
}

// Prepare serializes resp as the stored answer to req
func (c *NamedCache) Prepare(req *http.Request, resp *http.Response) (Entry, error) {
	data, err := Serialize(resp)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to serialize response: %w", err)
	}
	return Entry{Key: c.RequestKey(req), Data: data}, nil
}

// AddAll commits every entry at once, or none of them
func (c *NamedCache) AddAll(entries []Entry) error {
	batch := make(map[string][]byte, len(entries))
	for _, e := range entries {
		batch[e.Key] = e.Data
	}
	if err := c.storage.PutAll(batch); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// Match looks req up by exact key.
// returns nil, nil on a cache miss
func (c *NamedCache) Match(req *http.Request) (*http.Response, error) {
	key := c.RequestKey(req)
	data, err := c.storage.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	resp, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	// Associate the original request with the response
	resp.Request = req

	logrus.Debugf("Cache hit for %s %s", req.Method, req.URL.String())
	return resp, nil
}

// Keys lists the keys stored under this cache name
func (c *NamedCache) Keys() ([]string, error) {
	return c.storage.Keys(c.name + "/")
}
