package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/internal/tlsutil"
)

// =============================================================================
// 🌐 HTTP 服务器管理器
// =============================================================================

// Manager 管理前端与联邦端点共用的 HTTP(S) 服务器
type Manager struct {
	server   *http.Server
	listener net.Listener
	errCh    chan error
	config   Config
	logger   *zap.Logger
	mu       sync.RWMutex
	closed   bool
}

// Config 服务器配置
type Config struct {
	// 监听地址
	Addr string `yaml:"addr" json:"addr" env:"ADDR"`

	// 对外公布的地址，联邦成员通过它访问本成员；为空时使用监听地址
	PublicAddress string `yaml:"public_address" json:"public_address" env:"PUBLIC_ADDRESS"`

	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout" env:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" json:"max_header_bytes" env:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// 证书与私钥都配置时启用 HTTPS
	CertFile string `yaml:"cert_file" json:"cert_file" env:"CERT_FILE"`
	KeyFile  string `yaml:"key_file" json:"key_file" env:"KEY_FILE"`

	// 每 IP 限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" json:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" json:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// DefaultConfig 返回默认服务器配置
func DefaultConfig() Config {
	return Config{
		Addr:            ":8182",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: 30 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// TLSEnabled 报告是否配置了证书
func (c Config) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	if _, port, err := net.SplitHostPort(c.Addr); err != nil || port == "" {
		return fmt.Errorf("server addr %q is not host:port", c.Addr)
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("server cert_file and key_file must be set together")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown_timeout must be positive")
	}
	return nil
}

// NewManager 创建服务器管理器
func NewManager(handler http.Handler, config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:           config.Addr,
		Handler:        handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	if config.TLSEnabled() {
		server.TLSConfig = tlsutil.DefaultTLSConfig()
	}

	return &Manager{
		server: server,
		errCh:  make(chan error, 1),
		config: config,
		logger: logger.With(zap.String("component", "http_server")),
	}
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Start 启动服务器（非阻塞）；配置了证书时以 HTTPS 启动
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("server is closed")
	}
	if m.listener != nil {
		return fmt.Errorf("server already started")
	}

	listener, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}
	m.listener = listener

	if m.config.TLSEnabled() {
		m.logger.Info("starting HTTPS server",
			zap.String("addr", listener.Addr().String()),
			zap.String("cert", m.config.CertFile))
		go m.serve(func() error {
			return m.server.ServeTLS(listener, m.config.CertFile, m.config.KeyFile)
		})
		return nil
	}

	m.logger.Info("starting HTTP server", zap.String("addr", listener.Addr().String()))
	go m.serve(func() error { return m.server.Serve(listener) })
	return nil
}

func (m *Manager) serve(run func() error) {
	if err := run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error("HTTP server failed", zap.Error(err))
		select {
		case m.errCh <- err:
		default:
		}
	}
}

// Shutdown 优雅关闭服务器
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	if err := m.server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}
	m.listener = nil

	m.logger.Info("HTTP server stopped")
	return nil
}

// Wait 阻塞直到收到 SIGINT/SIGTERM、ctx 结束或服务器异常退出。
// 服务器异常时返回该错误。
func (m *Manager) Wait(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		m.logger.Info("shutdown requested")
		return nil
	case err := <-m.errCh:
		m.logger.Error("server exited unexpectedly", zap.Error(err))
		return err
	}
}

// Errors returns asynchronous server errors.
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// =============================================================================
// 🔧 辅助方法
// =============================================================================

// Addr 返回实际监听地址；未启动时返回配置地址
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}

// URL 返回服务器的基础 URL
func (m *Manager) URL() string {
	scheme := "http"
	if m.config.TLSEnabled() {
		scheme = "https"
	}
	return scheme + "://" + m.Addr()
}

// IsRunning 检查服务器是否运行中
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}
