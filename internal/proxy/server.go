package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iTrooz/offline-cache/internal/cache"
	"github.com/iTrooz/offline-cache/internal/config"
	"github.com/iTrooz/offline-cache/internal/offline"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"
)

// Server hosts the offline cache worker behind a forward proxy
type Server struct {
	config  *config.Config
	storage cache.Storage
	manager *offline.Manager
	proxy   *goproxy.ProxyHttpServer

	state atomic.Int32
	// serializes installs so lifecycle transitions never interleave
	installMu sync.Mutex
}

// New creates a new proxy server. The cache storage is initialized here.
func New(cfg *config.Config) (*Server, error) {
	origin, err := cfg.OriginURL()
	if err != nil {
		return nil, fmt.Errorf("invalid assets origin: %w", err)
	}

	storage, err := cache.NewStorage(cfg.Cache.Storage, cfg.Cache.Location)
	if err != nil {
		return nil, err
	}
	if err := storage.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize cache storage: %w", err)
	}

	manager, err := offline.New(offline.Options{
		CacheName: cfg.Cache.Name,
		Assets:    cfg.Assets.URLs,
		Origin:    origin,
		Storage:   storage,
	})
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("failed to create offline cache: %w", err)
	}

	s := &Server{
		config:  cfg,
		storage: storage,
		manager: manager,
		proxy:   goproxy.NewProxyHttpServer(),
	}

	s.proxy.Logger = logrus.StandardLogger()
	s.proxy.Verbose = logrus.IsLevelEnabled(logrus.DebugLevel)
	s.proxy.OnRequest(goproxy.ReqConditionFunc(s.intercepts)).DoFunc(s.handleIntercept)
	if cfg.Server.HTTPS.MITM {
		if err := s.setupHTTPSProxyHandler(); err != nil {
			_ = storage.Close()
			return nil, err
		}
	}
	if cfg.Server.Admin {
		s.proxy.NonproxyHandler = s.adminRouter()
	}

	return s, nil
}

// GetProxy returns the HTTP handler of the proxy
func (s *Server) GetProxy() http.Handler {
	return s.proxy
}

// Manager returns the offline cache manager
func (s *Server) Manager() *offline.Manager {
	return s.manager
}

// State returns the current lifecycle state
func (s *Server) State() State {
	return State(s.state.Load())
}

func (s *Server) setState(state State) {
	old := State(s.state.Swap(int32(state)))
	logrus.Debugf("Offline cache %s: %s -> %s", s.manager.CacheName(), old, state)
}

// Activate installs the asset list and, when every asset is cached, activates
// the worker. It blocks until install settles. On failure the worker becomes
// redundant and never intercepts requests.
func (s *Server) Activate(ctx context.Context) (*offline.InstallResult, error) {
	s.installMu.Lock()
	defer s.installMu.Unlock()

	if s.State() != StateParsed {
		return nil, fmt.Errorf("cannot activate from state %s", s.State())
	}

	s.setState(StateInstalling)
	result, err := s.manager.Install(ctx)
	if err != nil {
		s.setState(StateRedundant)
		return result, err
	}
	s.setState(StateInstalled)

	s.setState(StateActivating)
	s.setState(StateActive)
	return result, nil
}

// Reinstall re-runs install on an active worker. A failure leaves the
// previously cached entries in place.
func (s *Server) Reinstall(ctx context.Context) (*offline.InstallResult, error) {
	s.installMu.Lock()
	defer s.installMu.Unlock()

	if s.State() != StateActive {
		return nil, fmt.Errorf("cannot reinstall from state %s", s.State())
	}
	return s.manager.Install(ctx)
}

// Start activates the worker then serves until ctx is done
func (s *Server) Start(ctx context.Context) error {
	logrus.Infof("Installing %s from %s", s.config.Cache.Name, s.config.Assets.Origin)
	if _, err := s.Activate(ctx); err != nil {
		return fmt.Errorf("offline cache not activated: %w", err)
	}

	if addr := s.config.Server.HTTPS.TransparentAddr; addr != "" {
		go func() {
			if err := s.StartTransparentHTTPS(ctx, addr); err != nil {
				logrus.Errorf("Transparent HTTPS listener stopped: %v", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.proxy,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("Failed to shut down proxy server: %v", err)
		}
	}()

	logrus.Infof("Starting offline cache proxy on port %d", s.config.Server.Port)
	logrus.Infof("Cache: %s (%s storage)", s.config.Cache.Name, s.config.Cache.Storage)
	logrus.Infof("Scope: %s", s.config.Assets.Origin)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the cache storage
func (s *Server) Close() error {
	return s.storage.Close()
}

// intercepts reports whether req goes through the offline cache
func (s *Server) intercepts(req *http.Request, _ *goproxy.ProxyCtx) bool {
	return s.State() == StateActive && s.manager.InScope(req.URL)
}

func (s *Server) handleIntercept(req *http.Request, _ *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	outreq := req.Clone(req.Context())
	outreq.RequestURI = ""
	removeProxyHeaders(outreq)

	resp, hit, err := s.manager.Intercept(outreq)
	if err != nil {
		logrus.Errorf("Network fetch failed for %s %s: %v", req.Method, req.URL, err)
		return req, goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusBadGateway, err.Error())
	}

	if hit {
		resp.Header.Set("X-Cache", "HIT")
		logrus.Infof("Serving from cache: %s", req.URL)
	} else {
		logrus.Infof("Forwarded request: %s %s -> %d", req.Method, req.URL, resp.StatusCode)
	}
	return req, resp
}

func removeProxyHeaders(r *http.Request) {
	for _, h := range []string{"Proxy-Connection", "Proxy-Authenticate", "Proxy-Authorization", "Connection"} {
		r.Header.Del(h)
	}
}
