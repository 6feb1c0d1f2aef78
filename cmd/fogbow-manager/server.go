package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/accounting"
	"github.com/fgan1/fogbow-manager/api/handlers"
	"github.com/fgan1/fogbow-manager/config"
	"github.com/fgan1/fogbow-manager/federation"
	"github.com/fgan1/fogbow-manager/internal/database"
	"github.com/fgan1/fogbow-manager/internal/metrics"
	"github.com/fgan1/fogbow-manager/internal/migration"
	"github.com/fgan1/fogbow-manager/internal/server"
	"github.com/fgan1/fogbow-manager/internal/telemetry"
	"github.com/fgan1/fogbow-manager/manager"
	"github.com/fgan1/fogbow-manager/plugins/compute"
	"github.com/fgan1/fogbow-manager/plugins/identity"
	"github.com/fgan1/fogbow-manager/plugins/tunnel"
	"github.com/fgan1/fogbow-manager/request"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装管理器及其依赖，并对外提供 HTTP 服务
type Server struct {
	cfg    *config.Config
	loader *config.Loader
	level  zap.AtomicLevel
	logger *zap.Logger

	otel     *telemetry.Providers
	metrics  *metrics.Collector
	journal  request.Journal
	repo     *request.Repository
	identity *identity.JWTIdentity
	peerAuth *federation.PeerAuth
	pool     *database.PoolManager
	usage    *accounting.Service
	manager  *manager.Manager

	httpManager *server.Manager
	reloader    *config.Reloader

	rateLimiterCancel context.CancelFunc
}

// NewServer 按配置创建全部组件；任何必需组件失败都返回错误
func NewServer(cfg *config.Config, loader *config.Loader, level zap.AtomicLevel, logger *zap.Logger, otelProviders *telemetry.Providers) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		loader:  loader,
		level:   level,
		logger:  logger,
		otel:    otelProviders,
		metrics: metrics.NewCollector("fogbow", logger),
	}
	if err := s.initManager(); err != nil {
		s.closeStores()
		return nil, err
	}
	return s, nil
}

// =============================================================================
// 🔧 组件装配
// =============================================================================

func (s *Server) initManager() error {
	cfg := s.cfg
	memberID := cfg.Manager.MemberID

	journal, err := s.openJournal()
	if err != nil {
		return err
	}
	s.journal = journal
	s.repo = request.NewRepository(s.logger, request.WithJournal(journal))

	restoreCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	restored, err := s.repo.Restore(restoreCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to restore requests: %w", err)
	}
	s.logger.Info("requests restored", zap.Int("count", restored))

	s.identity, err = identity.NewJWTIdentity(identity.Config{
		Secret:       cfg.Identity.Secret,
		Issuer:       cfg.Identity.Issuer,
		TokenTTL:     cfg.Identity.TokenTTL,
		RenewalGrace: cfg.Identity.RenewalGrace,
		Users:        cfg.Identity.Users,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create identity provider: %w", err)
	}

	flavors := make([]compute.Flavor, 0, len(cfg.Compute.Flavors))
	for _, f := range cfg.Compute.Flavors {
		flavors = append(flavors, compute.Flavor{Name: f.Name, CPU: f.CPU, MemMB: f.MemMB})
	}
	backend, err := compute.NewMemoryCompute(compute.Config{
		MemberID:      memberID,
		Flavors:       flavors,
		DefaultFlavor: cfg.Compute.DefaultFlavor,
		MaxCPU:        cfg.Compute.MaxCPU,
		MaxMemMB:      cfg.Compute.MaxMemMB,
		MaxInstances:  cfg.Compute.MaxInstances,
	}, s.logger, compute.WithOwnerResolver(s.identity))
	if err != nil {
		return fmt.Errorf("failed to create compute backend: %w", err)
	}

	deps := manager.Dependencies{
		Repository: s.repo,
		Compute:    backend,
		Identity:   s.identity,
		Metrics:    s.metrics,
	}

	if cfg.Tunnel.Enabled {
		allocator, err := tunnel.NewPortAllocator(tunnel.Config{
			Enabled:   true,
			Host:      cfg.Tunnel.Host,
			PortStart: cfg.Tunnel.PortStart,
			PortEnd:   cfg.Tunnel.PortEnd,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("failed to create tunnel allocator: %w", err)
		}
		deps.Tunnel = allocator
	}

	if err := s.initFederation(&deps); err != nil {
		return err
	}

	if err := s.initAccounting(); err != nil {
		// 记账库不可用时继续运行，只是不再统计用量
		s.logger.Warn("usage accounting disabled", zap.Error(err))
	} else {
		deps.Accounting = s.usage
	}

	s.manager, err = manager.New(cfg.Manager, deps, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}
	return nil
}

func (s *Server) openJournal() (request.Journal, error) {
	jc := s.cfg.Journal
	switch jc.Type {
	case "redis":
		j, err := request.NewRedisJournal(request.RedisJournalConfig{
			Addr:      jc.Addr,
			Password:  jc.Password,
			DB:        jc.DB,
			PoolSize:  jc.PoolSize,
			KeyPrefix: jc.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open redis journal: %w", err)
		}
		s.logger.Info("request journal on redis", zap.String("addr", jc.Addr))
		return j, nil
	default:
		s.logger.Info("request journal in memory, requests will not survive a restart")
		return request.NewMemoryJournal(), nil
	}
}

func (s *Server) initFederation(deps *manager.Dependencies) error {
	fc := s.cfg.Federation
	if !fc.Enabled() {
		s.logger.Info("federation disabled, serving local requests only")
		return nil
	}
	memberID := s.cfg.Manager.MemberID

	auth, err := federation.NewPeerAuth(memberID, fc.PeerSecret, fc.PeerTokenTTL)
	if err != nil {
		return fmt.Errorf("failed to create peer auth: %w", err)
	}
	s.peerAuth = auth

	client, err := federation.NewHTTPClient(federation.HTTPPeerConfig{
		Timeout:            fc.PeerTimeout,
		CAFile:             fc.CAFile,
		InsecureSkipVerify: fc.InsecureSkipVerify,
	})
	if err != nil {
		return fmt.Errorf("failed to create peer client: %w", err)
	}

	static := make([]federation.Member, 0, len(fc.Members))
	for _, m := range fc.Members {
		static = append(static, federation.Member{ID: m.ID, Address: m.Address})
	}
	registry := federation.NewRegistry(memberID, fc.MemberExpiry, static)

	deps.Registry = registry
	deps.Peer = federation.NewHTTPPeer(client, registry, auth, s.logger)
	deps.Picker = federation.NewRoundRobin(nil)
	deps.SelfAddress = s.publicAddress()
	if fc.RendezvousAddress != "" {
		deps.Rendezvous = federation.NewRendezvousClient(fc.RendezvousAddress, client, auth, s.logger)
	}

	s.logger.Info("federation enabled",
		zap.Int("static_members", len(static)),
		zap.String("rendezvous", fc.RendezvousAddress))
	return nil
}

func (s *Server) initAccounting() error {
	dbCfg := s.cfg.Database

	if dbCfg.AutoMigrate {
		migrator, err := migration.NewMigratorFromDatabaseConfig(dbCfg, s.logger)
		if err != nil {
			return fmt.Errorf("failed to create migrator: %w", err)
		}
		upErr := migrator.Up(context.Background())
		closeErr := migrator.Close()
		if upErr != nil {
			return fmt.Errorf("usage schema migration failed: %w", upErr)
		}
		if closeErr != nil {
			s.logger.Warn("failed to close migrator", zap.Error(closeErr))
		}
	}

	db, err := openDatabase(dbCfg, s.logger)
	if err != nil {
		return err
	}

	poolCfg := database.DefaultPoolConfig()
	if dbCfg.MaxOpenConns > 0 {
		poolCfg.MaxOpenConns = dbCfg.MaxOpenConns
	}
	if dbCfg.MaxIdleConns > 0 {
		poolCfg.MaxIdleConns = dbCfg.MaxIdleConns
	}
	if dbCfg.ConnMaxLifetime > 0 {
		poolCfg.ConnMaxLifetime = dbCfg.ConnMaxLifetime
	}
	poolCfg.HealthCheckInterval = dbCfg.HealthCheckInterval

	pool, err := database.NewPoolManager("usage", db, poolCfg, s.logger)
	if err != nil {
		return err
	}
	pool.SetStatsReporter(func(open, idle int) {
		s.metrics.RecordDBConnections(pool.Name(), open, idle)
	})
	s.pool = pool

	s.usage = accounting.NewService(
		accounting.NewStore(pool.DB()),
		accounting.NewFCUBenchmarker(s.logger),
		s.cfg.Manager.MemberID,
		s.logger,
	)
	return nil
}

// publicAddress 联邦成员访问本成员使用的地址
func (s *Server) publicAddress() string {
	sc := s.cfg.Server
	if sc.PublicAddress != "" {
		return sc.PublicAddress
	}
	scheme := "http"
	if sc.TLSEnabled() {
		scheme = "https"
	}
	return scheme + "://" + sc.Addr
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动管理器循环、后台任务与 HTTP 服务器
func (s *Server) Start(ctx context.Context) error {
	if s.pool != nil {
		s.pool.Start(ctx)
	}
	s.manager.Start(ctx)

	if err := s.initReloader(ctx); err != nil {
		return fmt.Errorf("failed to init config reloader: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("fogbow-manager started",
		zap.String("addr", s.httpManager.Addr()),
		zap.Bool("federation", s.peerAuth != nil),
		zap.Bool("accounting", s.usage != nil),
		zap.Bool("hot_reload", s.reloader != nil),
	)
	return nil
}

// initReloader 配置了文件时启动热重载，目前只应用日志级别
func (s *Server) initReloader(ctx context.Context) error {
	if s.loader.ConfigPath() == "" {
		return nil
	}
	reloader, err := config.NewReloader(s.loader, s.cfg, s.logger)
	if err != nil {
		return err
	}
	reloader.OnReload(func(oldCfg, newCfg *config.Config, changed []string) {
		for _, field := range changed {
			if !config.IsHotReloadable(field) {
				s.logger.Warn("config change requires restart", zap.String("field", field))
			}
		}
		if oldCfg.Log.Level != newCfg.Log.Level {
			s.level.SetLevel(parseLevel(newCfg.Log.Level))
			s.logger.Info("log level changed", zap.Stringer("level", s.level.Level()))
		}
	})
	if err := reloader.Start(ctx); err != nil {
		return err
	}
	s.reloader = reloader
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// buildHandler 注册全部路由并包上中间件链
func (s *Server) buildHandler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	health := handlers.NewHealthHandler(s.cfg.Manager.MemberID, s.manager, s.logger)
	health.RegisterCheck(handlers.NewPingCheck("journal", s.journal.Ping))
	if s.pool != nil {
		health.RegisterCheck(handlers.NewPingCheck("usage_db", s.pool.Ping))
	}
	health.Register(mux, Version, BuildTime, GitCommit)
	mux.Handle("GET /metrics", promhttp.Handler())

	handlers.NewRequestHandler(s.manager, s.logger).Register(mux)
	handlers.NewInstanceHandler(s.manager, s.logger).Register(mux)

	var usage handlers.UsageService
	if s.usage != nil {
		usage = s.usage
	}
	handlers.NewAccountHandler(s.identity, s.identity, usage, s.manager, s.logger).Register(mux)

	if s.peerAuth != nil {
		handlers.NewFederationHandler(s.manager, s.peerAuth, s.logger).Register(mux)
	}

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.metrics),
		RequestLogger(s.logger),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		AccessToken(),
	)
}

func (s *Server) startHTTPServer() error {
	rateLimiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	s.httpManager = server.NewManager(s.buildHandler(rateLimiterCtx), s.cfg.Server, s.logger)
	return s.httpManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown(ctx context.Context) {
	if s.httpManager != nil {
		if err := s.httpManager.Wait(ctx); err != nil {
			s.logger.Error("server stopped with error", zap.Error(err))
		}
	}
	s.Shutdown()
}

// Shutdown 按依赖逆序关闭：HTTP → 循环 → 存储 → 遥测
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.reloader != nil {
		s.reloader.Stop()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.manager != nil {
		if err := s.manager.Shutdown(ctx); err != nil {
			s.logger.Error("manager shutdown error", zap.Error(err))
		}
	}
	s.closeStores()
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}

func (s *Server) closeStores() {
	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			s.logger.Error("request repository close error", zap.Error(err))
		}
	} else if s.journal != nil {
		_ = s.journal.Close()
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("usage database close error", zap.Error(err))
		}
	}
}
