package manager

import (
	"fmt"
	"time"

	"github.com/fgan1/fogbow-manager/plugins"
)

// Config 编排器配置
type Config struct {
	// 本成员 id，用于 ResourcesInfo 与记账
	MemberID string `yaml:"member_id" json:"member_id" env:"MEMBER_ID"`

	SchedulerPeriod          time.Duration `yaml:"scheduler_period" json:"scheduler_period" env:"SCHEDULER_PERIOD"`
	TokenUpdatePeriod        time.Duration `yaml:"token_update_period" json:"token_update_period" env:"TOKEN_UPDATE_PERIOD"`
	InstanceMonitoringPeriod time.Duration `yaml:"instance_monitoring_period" json:"instance_monitoring_period" env:"INSTANCE_MONITORING_PERIOD"`
	HeartbeatPeriod          time.Duration `yaml:"heartbeat_period" json:"heartbeat_period" env:"HEARTBEAT_PERIOD"`

	// 每次外部调用的超时
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout" env:"CALL_TIMEOUT"`
	// 监控循环的并发查询上限
	MonitorConcurrency int `yaml:"monitor_concurrency" json:"monitor_concurrency" env:"MONITOR_CONCURRENCY"`

	// 联邦服务账号
	FederationUser     string `yaml:"federation_user" json:"federation_user" env:"FEDERATION_USER"`
	FederationPassword string `yaml:"federation_password" json:"-" env:"FEDERATION_PASSWORD"`
	FederationTenant   string `yaml:"federation_tenant" json:"federation_tenant" env:"FEDERATION_TENANT"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MemberID:                 "manager.local",
		SchedulerPeriod:          30 * time.Second,
		TokenUpdatePeriod:        5 * time.Minute,
		InstanceMonitoringPeriod: 2 * time.Minute,
		HeartbeatPeriod:          time.Minute,
		CallTimeout:              30 * time.Second,
		MonitorConcurrency:       8,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.MemberID == "" {
		return fmt.Errorf("manager member_id is required")
	}
	periods := map[string]time.Duration{
		"scheduler_period":           c.SchedulerPeriod,
		"token_update_period":        c.TokenUpdatePeriod,
		"instance_monitoring_period": c.InstanceMonitoringPeriod,
		"heartbeat_period":           c.HeartbeatPeriod,
		"call_timeout":               c.CallTimeout,
	}
	for name, d := range periods {
		if d <= 0 {
			return fmt.Errorf("manager %s must be positive", name)
		}
	}
	if c.MonitorConcurrency <= 0 {
		return fmt.Errorf("manager monitor_concurrency must be positive")
	}
	return nil
}

func (c Config) federationCredentials() map[string]string {
	return map[string]string{
		plugins.CredentialUsername: c.FederationUser,
		plugins.CredentialPassword: c.FederationPassword,
		plugins.CredentialTenant:   c.FederationTenant,
	}
}
