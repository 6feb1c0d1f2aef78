// Package tlsutil 提供成员间通信使用的 TLS 配置：
// 对等方与 rendezvous 客户端、Redis 连接统一使用 TLS 1.2+ 与 AEAD 密码套件。
package tlsutil
