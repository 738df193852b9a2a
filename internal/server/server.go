/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the playback queue, stream listener and admin API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/queuecast/internal/audio"
	"github.com/friendsincode/queuecast/internal/cache"
	"github.com/friendsincode/queuecast/internal/command"
	"github.com/friendsincode/queuecast/internal/config"
	"github.com/friendsincode/queuecast/internal/db"
	"github.com/friendsincode/queuecast/internal/eventbus"
	"github.com/friendsincode/queuecast/internal/events"
	"github.com/friendsincode/queuecast/internal/history"
	"github.com/friendsincode/queuecast/internal/library"
	"github.com/friendsincode/queuecast/internal/logbuffer"
	"github.com/friendsincode/queuecast/internal/playback"
	"github.com/friendsincode/queuecast/internal/storage"
	"github.com/friendsincode/queuecast/internal/stream"
	"github.com/friendsincode/queuecast/internal/telemetry"
)

// Server bundles the stream listener, admin HTTP API and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error
	nodeID     string

	logBuffer *logbuffer.Buffer
	bus       *events.Bus
	queue     *playback.Queue
	driver    *playback.Driver
	catalog   *library.Catalog
	executor  *command.Executor
	registry  *stream.Registry
	stream    *stream.Server
	cache     *cache.Cache
	db        *gorm.DB
	history   *history.Recorder
	relays    []*eventbus.Relay

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. Background workers do
// not run until Start.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("queuecast-admin"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(30 * time.Second))

	if logBuf == nil {
		logBuf = logbuffer.New(cfg.LogBufferLines)
	}

	bus := events.NewBus()
	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		nodeID:    eventbus.NodeID(),
		logBuffer: logBuf,
		bus:       bus,
		queue:     playback.NewQueue(playback.WithBus(bus), playback.WithLogger(logger)),
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()

	srv.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func (s *Server) initDependencies() error {
	ctx := context.Background()

	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		metaCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		} else {
			s.cache = metaCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	}

	store, err := s.openStore(ctx)
	if err != nil {
		return err
	}
	s.catalog = library.NewCatalog(store, audio.NewBeepDecoder(s.cfg.ChunkFrames), s.cache, s.logger)
	s.executor = command.NewExecutor(s.queue, s.catalog, s.cfg.DefaultTrack, s.bus, s.logger)
	s.driver = playback.NewDriver(s.queue, s.cfg.TickIdle, s.logger)

	s.registry = stream.NewRegistry(s.bus, s.logger)
	s.stream = stream.NewServer(stream.Config{
		Bind: s.cfg.StreamBind,
		Port: s.cfg.StreamPort,
		Options: stream.Options{
			ReadBufferSize:    s.cfg.ReadBufferSize,
			MaxHandshakeBytes: s.cfg.MaxHandshakeBytes,
			MaxMessageBytes:   s.cfg.MaxMessageBytes,
			WriteTimeout:      s.cfg.WriteTimeout,
		},
	}, s.queue, s.executor, s.registry, s.logger)

	if s.cfg.HistoryEnabled() {
		database, err := db.Connect(s.cfg, s.logger)
		if err != nil {
			return fmt.Errorf("connect history database: %w", err)
		}
		s.db = database
		s.DeferClose(func() error { return db.Close(database) })
		if err := db.Migrate(database); err != nil {
			return fmt.Errorf("migrate history database: %w", err)
		}
		s.history = history.NewRecorder(database, s.bus, s.nodeID, s.logger)
		s.logger.Info().Str("backend", string(s.cfg.DBBackend)).Msg("play history enabled")
	}

	switch s.cfg.EventRelay {
	case config.RelayRedis:
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		relay, err := eventbus.NewRedisRelay(redisCfg, s.bus, s.nodeID, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("redis event relay unavailable, events stay in-process")
		} else {
			s.relays = append(s.relays, relay)
		}
	case config.RelayNATS:
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		relay, err := eventbus.NewNATSRelay(natsCfg, s.bus, s.nodeID, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("nats event relay unavailable, events stay in-process")
		} else {
			s.relays = append(s.relays, relay)
		}
	}

	return nil
}

func (s *Server) openStore(ctx context.Context) (storage.ObjectStore, error) {
	switch s.cfg.StorageBackend {
	case config.StorageS3:
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          s.cfg.S3Bucket,
			Prefix:          s.cfg.S3Prefix,
			Region:          s.cfg.S3Region,
			Endpoint:        s.cfg.S3Endpoint,
			AccessKeyID:     s.cfg.S3AccessKeyID,
			SecretAccessKey: s.cfg.S3SecretAccessKey,
			UsePathStyle:    s.cfg.S3UsePathStyle,
		}, s.logger)
		if err != nil {
			return nil, fmt.Errorf("initialize s3 library: %w", err)
		}
		s.logger.Info().Str("bucket", s.cfg.S3Bucket).Str("prefix", s.cfg.S3Prefix).Msg("s3 track library ready")
		return store, nil
	default:
		if err := os.MkdirAll(s.cfg.MediaRoot, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create media directory %s: %w", s.cfg.MediaRoot, err)
		}
		s.logger.Info().Str("path", s.cfg.MediaRoot).Msg("media directory ready")
		return storage.NewFilesystemStore(s.cfg.MediaRoot, s.logger), nil
	}
}

// Start launches the stream listener and background workers, then enqueues
// the configured startup tracks.
func (s *Server) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.bgCancel = cancel

	s.goWorker("stream listener", func() error { return s.stream.ListenAndServe(ctx) })
	s.goWorker("playback driver", func() error { return s.driver.Run(ctx) })
	s.goWorker("connection registry", func() error { return s.registry.Run(ctx, s.cfg.RegistrySweepPeriod) })

	if s.history != nil {
		s.goWorker("history recorder", func() error { return s.history.Run(ctx) })
	}
	for _, relay := range s.relays {
		s.goWorker("event relay", func() error { return relay.Run(ctx) })
	}

	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.ReportPoolStats(s.db)
				}
			}
		}()
	}

	s.enqueueStartupTracks(ctx)
}

func (s *Server) goWorker(name string, run func() error) {
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := run(); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Str("worker", name).Msg("background worker exited")
		}
	}()
}

func (s *Server) enqueueStartupTracks(ctx context.Context) {
	loaded := 0
	for _, id := range s.cfg.StartupTracks {
		res, err := s.executor.Apply(ctx, command.Command{Type: "command", Name: command.GetSong, Track: id, Source: "startup"})
		if err != nil || !res.Applied {
			s.logger.Warn().Err(err).Str("track", id).Msg("startup track not queued")
			continue
		}
		loaded++
	}
	if s.cfg.Autoplay && loaded > 0 && s.queue.SetPlaying(true) {
		s.logger.Info().Int("tracks", loaded).Msg("autoplay started")
	}
}

// HTTPServer exposes the admin net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the admin router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Catalog returns the track library.
func (s *Server) Catalog() *library.Catalog {
	return s.catalog
}

// History returns the play-history recorder, or nil when disabled.
func (s *Server) History() *history.Recorder {
	return s.history
}

// Close stops the stream listener and background workers, then releases
// owned resources in reverse order.
func (s *Server) Close() error {
	if s.stream != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.stream.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("stream shutdown error")
		}
		cancel()
	}

	s.stopBackgroundWorkers()

	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel != nil {
		s.bgCancel()
		s.bgCancel = nil
	}
	s.bgWG.Wait()
}
