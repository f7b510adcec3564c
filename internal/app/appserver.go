package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"rotaproxy/internal/engine"
	"rotaproxy/internal/proxypool"
	"rotaproxy/internal/service/web"
	"rotaproxy/internal/shared/logger"
	"rotaproxy/internal/shared/types"
	"rotaproxy/internal/stats"
)

// AppServer wires the proxy pool, forwarding engine, and status service
// together and owns their lifecycle.
type AppServer struct {
	cfg *types.Config

	pool      *proxypool.Pool
	collector *stats.Collector
	engine    *engine.Engine
	hub       *web.Hub

	listener  *http.Server
	webServer *http.Server

	stopChan  chan struct{}
	stopOnce  sync.Once
	waitGroup sync.WaitGroup
}

// New builds an AppServer from the loaded configuration.
func New(cfg *types.Config) *AppServer {
	sources := buildSources(cfg)
	opts := proxypool.Options{
		MaxSize:             cfg.PoolConf.MaxSize,
		QuarantineThreshold: cfg.PoolConf.QuarantineThreshold,
		RefreshInterval:     cfg.RefreshInterval(),
		SourceTimeout:       time.Duration(cfg.PoolConf.SourceTimeoutSeconds) * time.Second,
	}
	if cfg.PoolConf.ProbeURL != "" {
		opts.Validator = proxypool.NewHTTPValidator(
			cfg.PoolConf.ProbeURL,
			time.Duration(cfg.PoolConf.ProbeTimeoutSeconds)*time.Second,
			cfg.PoolConf.ValidateConcurrency,
		)
	}
	pool := proxypool.New(opts, sources...)

	collector := stats.NewCollector()
	fetcher := engine.NewFetcher(cfg.RequestTimeout())
	eng := engine.New(
		pool,
		fetcher,
		collector,
		time.Duration(cfg.CommonConf.RequestDelayMs)*time.Millisecond,
		cfg.TunnelIdleTimeout(),
	)

	return &AppServer{
		cfg:       cfg,
		pool:      pool,
		collector: collector,
		engine:    eng,
		hub:       web.NewHub(),
		stopChan:  make(chan struct{}),
	}
}

// buildSources assembles the configured proxy-list sources. A relay with no
// sources still runs; every request just goes direct.
func buildSources(cfg *types.Config) []proxypool.Source {
	var sources []proxypool.Source
	if cfg.PoolConf.ListSourceURL != "" {
		sources = append(sources, proxypool.NewListSource("proxy-list-api", cfg.PoolConf.ListSourceURL, proxypool.ProtocolHTTP))
	}
	if cfg.PoolConf.TableSourceURL != "" {
		sources = append(sources, proxypool.NewTableSource("proxy-table", cfg.PoolConf.TableSourceURL, ""))
	}
	if cfg.PoolConf.ScrapeSourceURL != "" {
		sources = append(sources, proxypool.NewScrapeSource("proxy-scrape", cfg.PoolConf.ScrapeSourceURL))
	}
	return sources
}

// Run starts all components and blocks until a shutdown signal arrives.
func (s *AppServer) Run() {
	l := logger.WithComponent("AppServer")

	s.pool.Start()
	go s.hub.Run()

	statusHandler := web.NewHandler(s.collector, s.pool)
	s.webServer = web.StartServer(&s.waitGroup, s.cfg, statusHandler, s.hub)
	go s.hub.PushLoop(statusHandler, time.Duration(s.cfg.WebConf.PushIntervalSeconds)*time.Second, s.stopChan)

	addr := fmt.Sprintf(":%d", s.cfg.CommonConf.ListenPort)
	s.listener = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	s.waitGroup.Add(1)
	go func() {
		defer s.waitGroup.Done()
		l.Info().Str("addr", addr).Msg("Relay listening.")
		if err := s.listener.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Relay listener failed.")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	l.Info().Str("signal", sig.String()).Msg("Shutdown signal received.")

	s.Stop()
}

// Stop gracefully tears down the listener and background tasks.
func (s *AppServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if s.listener != nil {
			if err := s.listener.Shutdown(ctx); err != nil {
				logger.Warn().Err(err).Msg("Listener shutdown was not clean.")
			}
		}
		if s.webServer != nil {
			if err := s.webServer.Shutdown(ctx); err != nil {
				logger.Warn().Err(err).Msg("Status server shutdown was not clean.")
			}
		}
		s.pool.Stop()
		s.waitGroup.Wait()
		logger.Info().Msg("Relay gracefully stopped.")
	})
}
