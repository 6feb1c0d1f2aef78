// Package telemetry 负责 OpenTelemetry SDK 的初始化与关闭，
// 为调度、监控与对等调用的 span 提供全局 TracerProvider。
// 关闭遥测时使用 noop 实现，不连接任何外部服务。
package telemetry
