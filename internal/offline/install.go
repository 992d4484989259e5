package offline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/iTrooz/offline-cache/internal/cache/httpcache"
	"github.com/sirupsen/logrus"
)

// ErrInstallFailed is wrapped by every error Install returns
var ErrInstallFailed = errors.New("install failed")

// AssetOutcome is the result of fetching one asset during install
type AssetOutcome struct {
	URL        string `json:"url"`
	Key        string `json:"key,omitempty"`
	StatusCode int    `json:"status,omitempty"`
	Size       int    `json:"size"`
	Err        error  `json:"-"`
	// text of Err
	Message string `json:"error,omitempty"`

	entry httpcache.Entry
}

func (o *AssetOutcome) fail(err error) AssetOutcome {
	o.Err = err
	o.Message = err.Error()
	return *o
}

// InstallResult aggregates every asset outcome of an install, in asset order
type InstallResult struct {
	CacheName string         `json:"cache"`
	Outcomes  []AssetOutcome `json:"assets"`
	// set when all fetches succeeded but storing them did not
	CommitErr error `json:"-"`
}

// OK reports whether every asset was fetched and committed
func (r *InstallResult) OK() bool {
	return r.Err() == nil
}

// Failed returns the outcomes that did not fetch
func (r *InstallResult) Failed() []AssetOutcome {
	var failed []AssetOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Err joins every failure, wrapped in ErrInstallFailed. nil on success.
func (r *InstallResult) Err() error {
	var errs []error
	for _, o := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", o.URL, o.Err))
	}
	if r.CommitErr != nil {
		errs = append(errs, r.CommitErr)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInstallFailed, errors.Join(errs...))
}

// Size is the total body size of the fetched assets
func (r *InstallResult) Size() int {
	total := 0
	for _, o := range r.Outcomes {
		total += o.Size
	}
	return total
}

// Install fetches every asset and stores them in the named cache.
// The cache is written only if every fetch succeeded, in a single commit.
// There are no retries. The returned result always lists every outcome.
func (m *Manager) Install(ctx context.Context) (*InstallResult, error) {
	result := &InstallResult{
		CacheName: m.cache.Name(),
		Outcomes:  make([]AssetOutcome, len(m.assets)),
	}

	var wg sync.WaitGroup
	for i, u := range m.assets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			result.Outcomes[i] = m.fetchAsset(ctx, target)
		}(i, u.String())
	}
	wg.Wait()

	if err := result.Err(); err != nil {
		logrus.Errorf("Install of %s aborted, %d of %d assets failed", result.CacheName, len(result.Failed()), len(result.Outcomes))
		return result, err
	}

	entries := make([]httpcache.Entry, len(result.Outcomes))
	for i, o := range result.Outcomes {
		entries[i] = o.entry
	}
	if err := m.cache.AddAll(entries); err != nil {
		result.CommitErr = err
		logrus.Errorf("Install of %s aborted: %v", result.CacheName, err)
		return result, result.Err()
	}

	logrus.Infof("Installed %s: %d assets (%s)", result.CacheName, len(result.Outcomes), humanize.Bytes(uint64(result.Size())))
	return result, nil
}

func (m *Manager) fetchAsset(ctx context.Context, target string) AssetOutcome {
	outcome := AssetOutcome{URL: target}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return outcome.fail(err)
	}
	outcome.Key = m.cache.RequestKey(req)

	resp, err := m.transport.RoundTrip(req)
	if err != nil {
		return outcome.fail(err)
	}
	defer func() { _ = resp.Body.Close() }()

	outcome.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return outcome.fail(fmt.Errorf("bad response status: %s", resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return outcome.fail(fmt.Errorf("reading response body: %w", err))
	}
	outcome.Size = len(body)

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.TransferEncoding = nil
	resp.Header.Del("Transfer-Encoding")

	entry, err := m.cache.Prepare(req, resp)
	if err != nil {
		return outcome.fail(err)
	}
	outcome.entry = entry

	logrus.Debugf("Fetched asset %s -> %d (%s)", target, resp.StatusCode, humanize.Bytes(uint64(len(body))))
	return outcome
}
