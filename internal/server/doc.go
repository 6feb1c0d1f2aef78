/*
包 server 管理 fogbow-manager 的 HTTP/HTTPS 服务器生命周期。

前端 API（/api/v1）与联邦端点（/federation/v1）共用同一个服务器。
Manager 封装 net/http.Server：Start 非阻塞启动，配置了证书与私钥时
自动以 HTTPS（tlsutil.DefaultTLSConfig）启动；Shutdown 在
ShutdownTimeout 内排空连接；Wait 监听 SIGINT/SIGTERM、上下文取消与
服务器异常退出。Config 同时携带每 IP 限流参数，由 cmd 中的中间件使用。
*/
package server
