// Package util 提供通用工具相关的子包。
//
// 子包列表：
//   - xpool: 有界 worker pool，支持背压入队（等待/轮询/超时）、任务 Future、worker 重置和优雅关闭
//
// 设计原则：
//   - 无全局状态，所有行为通过选项配置
//   - 阻塞操作支持 context 取消
package util
