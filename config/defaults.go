package config

import (
	"time"

	"github.com/fgan1/fogbow-manager/internal/server"
	"github.com/fgan1/fogbow-manager/manager"
)

// =============================================================================
// 🎯 默认配置
// =============================================================================

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     server.DefaultConfig(),
		Manager:    manager.DefaultConfig(),
		Federation: DefaultFederationConfig(),
		Compute:    DefaultComputeConfig(),
		Identity:   DefaultIdentityConfig(),
		Tunnel:     DefaultTunnelConfig(),
		Journal:    DefaultJournalConfig(),
		Database:   DefaultDatabaseConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultFederationConfig 返回默认联邦配置
func DefaultFederationConfig() FederationConfig {
	return FederationConfig{
		MemberExpiry: 3 * time.Minute,
		PeerTokenTTL: 5 * time.Minute,
		PeerTimeout:  30 * time.Second,
	}
}

// DefaultComputeConfig 返回默认计算后端配置
func DefaultComputeConfig() ComputeConfig {
	return ComputeConfig{
		Flavors: []FlavorConfig{
			{Name: "small", CPU: 1, MemMB: 1024},
			{Name: "medium", CPU: 2, MemMB: 2048},
			{Name: "large", CPU: 4, MemMB: 4096},
		},
		DefaultFlavor: "small",
		MaxCPU:        16,
		MaxMemMB:      16384,
		MaxInstances:  8,
	}
}

// DefaultIdentityConfig 返回默认身份配置；Secret 必须由部署方提供
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{
		Issuer:       "fogbow-manager",
		TokenTTL:     time.Hour,
		RenewalGrace: 10 * time.Minute,
		Users:        map[string]string{},
	}
}

// DefaultTunnelConfig 返回默认隧道配置
func DefaultTunnelConfig() TunnelConfig {
	return TunnelConfig{
		Enabled:   false,
		Host:      "127.0.0.1",
		PortStart: 50000,
		PortEnd:   50099,
	}
}

// DefaultJournalConfig 返回默认请求日志配置
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		Type:      "memory",
		Addr:      "localhost:6379",
		DB:        0,
		PoolSize:  10,
		KeyPrefix: "fogbow:",
	}
}

// DefaultDatabaseConfig 返回默认记账库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:              "sqlite",
		Host:                "localhost",
		Port:                5432,
		User:                "fogbow",
		Name:                "fogbow-usage.db",
		SSLMode:             "disable",
		MaxOpenConns:        20,
		MaxIdleConns:        5,
		ConnMaxLifetime:     time.Hour,
		HealthCheckInterval: 30 * time.Second,
		AutoMigrate:         true,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "fogbow-manager",
		SampleRate:   0.1,
		Insecure:     true,
	}
}
