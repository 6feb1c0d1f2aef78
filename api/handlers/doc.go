/*
Package handlers 提供 fogbow-manager HTTP API 的请求处理器。

# 概述

用户端点以 X-Auth-Token 携带访问令牌，联邦端点以 Bearer token 加
X-Fogbow-Member 头认证调用方成员。所有响应使用统一的 Response 包装，
types.Error 的错误码映射为 HTTP 状态码。

# 核心类型

  - RequestHandler     /api/v1/requests 的创建、查询与删除
  - InstanceHandler    /api/v1/instances 与 /api/v1/resources
  - AccountHandler     令牌签发、成员列表、用量查询
  - FederationHandler  /federation/v1/* 成员间调用
  - HealthHandler      /health, /healthz, /ready, /version
  - RequirePeer        联邦端点认证中间件
*/
package handlers
