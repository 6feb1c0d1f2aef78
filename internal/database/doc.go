/*
包 database 管理记账库的 GORM 连接池。

PoolManager 封装 GORM 与底层 database/sql 的连接池参数，提供 Ping（供
/ready 探针使用）、GetStats 与 Close。Start 启动后台健康检查，定时探活并
通过 StatsReporter 把连接数上报给 Prometheus 收集器；ctx 结束或 Close
时停止。方言（postgres、mysql、sqlite）的选择在 cmd 中完成。
*/
package database
