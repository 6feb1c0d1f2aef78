// Package api 定义 fogbow-manager HTTP 前端的请求与响应类型。
//
// # 认证
//
// 用户端点通过 X-Auth-Token 头携带身份提供方签发的访问令牌：
//
//	X-Auth-Token: <access id>
//
// 联邦端点（/federation/v1/...）使用成员间共享密钥签名的 JWT：
//
//	Authorization: Bearer <jwt>
//	X-Fogbow-Member: <member id>
//
// 所有响应均使用 handlers.Response 包装。
package api
