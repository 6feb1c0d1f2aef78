/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、请求生命周期、
编排循环、联邦调用与数据库连接。

# 概述

Collector 通过 promauto 注册到默认 Registry，所有指标按 namespace 隔离。
它实现了 manager.Metrics，由编排器在状态转换、供给尝试、循环 tick、
token 续签与成员调用时回调；HTTP 指标由 cmd 中的中间件记录。

# 主要指标

  - http_requests_total / http_request_duration_seconds：按 method/path/status
    分组，状态码归类为 2xx/3xx/4xx/5xx。
  - request_state_transitions_total：按 from_state/to_state 分组。
  - provisioning_attempts_total：按 target（local/remote/served）与 outcome 分组。
  - loop_ticks_total / loop_tick_duration_seconds：按循环名分组。
  - token_renewals_total、peer_calls_total、db_connections_open/idle。
*/
package metrics
