/*
Package testutil 提供 fogbow-manager 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitFor，用于等待周期循环生效
  - 时钟: Clock 可手动推进的测试时钟
  - 数据工具: MustJSON / MustParseJSON

# 子包

  - testutil/mocks: Compute、Identity、Peer、Tunnel 的 Mock 实现，
    支持错误注入与调用记录
  - testutil/fixtures: Token 与 Request 样例

# 使用示例

	ctx := testutil.TestContext(t)
	compute := mocks.NewMockCompute().WithCapacityExhausted()
	identity := mocks.NewMockIdentity(clock.Now)
	token := identity.AddToken("alice-token", "alice", clock.Now().Add(time.Hour))
*/
package testutil
