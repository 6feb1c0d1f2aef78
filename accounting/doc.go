/*
Package accounting 记录联邦成员之间的资源使用量。

每个监控周期，管理器把所有已履约请求交给 Service.Update。Service 对每个实例
运行静态 FCU 基准（见 FCUBenchmarker），再按 “算力 × 已运行分钟数” 把用量累加到
(用户, 提供成员) 维度的 UsageRecord 中。记录通过 gorm 持久化，生产环境使用
postgres 或 mysql，测试使用纯 Go 的 sqlite。
*/
package accounting
