/*
Package manager 实现请求生命周期编排器，是 fogbow-manager 的核心。

# 概述

Manager 接收本地用户的计算资源请求，决定由本地计算后端还是联邦成员满足，
跟踪实例状态，并持续刷新凭证。所有状态迁移由三个自启停的周期循环驱动：

  - 请求调度（scheduler）：对 OPEN 请求执行本地优先、远程回退的供给决策
  - Token 更新（token updater）：在凭证剩余有效期小于两个周期时续签
  - 实例监控（instance monitor）：对 FULFILLED / DELETED 请求核对实例存在性

另有可选的 rendezvous 心跳循环，用于维护联邦成员列表。

# 并发模型

请求仓库（request.Repository）是唯一的共享可变状态。循环先取快照，
在不持锁的情况下调用外部协作方（每次调用都受 CallTimeout 限制），
再以期望状态为条件原子地提交结果。

# 循环

PeriodicLoop 封装了一个可取消的周期任务：Activate 幂等，
tick 返回 false 时自行停止，tick 期间的激活不会丢失。
*/
package manager
