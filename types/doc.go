/*
Package types 提供 fogbow-manager 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 request、federation、
manager、api 等上层模块提供统一的类型契约。

# 核心类型

  - Error / ErrorCode: 结构化错误体系，含 HTTP 状态码、Retryable、Member 标记
  - Token: 身份提供方解析出的凭证（AccessID、User、ExpiresAt）

# 主要能力

  - Context 传播：WithTraceID / WithAccessID / WithMemberID
  - 错误工具链：AsError / IsErrorCode / IsNotFound / IsCapacityExhausted
  - 常用错误构造：NewAuthError / NewOwnershipError / NewNotFoundError 等
*/
package types
