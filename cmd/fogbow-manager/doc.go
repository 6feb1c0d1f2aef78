/*
Package main 提供 fogbow-manager 服务端程序入口。

# 概述

cmd/fogbow-manager 把请求仓库、计算/身份/隧道插件、联邦客户端与记账服务
组装成一个管理器进程，提供用户 HTTP API、成员间联邦端点、记账库迁移、
健康检查和版本查询等子命令。

# 核心类型

  - Server      组装依赖，管理 HTTP 服务与优雅关闭
  - Middleware  HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    MetricsMiddleware、RequestLogger、RateLimiter（基于 IP）、AccessToken
  - 配置热重载：Reloader 轮询配置文件，日志级别即时生效
  - /metrics 暴露 Prometheus 指标
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
