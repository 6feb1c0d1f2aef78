// Package config 提供 fogbow-manager 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → FOGBOW_ 前缀环境变量 的顺序加载，
// Validate 统一校验各配置段。Reloader 轮询配置文件，
// 变化时重新加载并通知订阅者，目前只有 log.level 可在运行时生效。
package config
