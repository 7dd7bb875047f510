// Package observability 提供可观测性相关的子包。
//
// 子包列表：
//   - xpoolprom: 将 xpool 统计导出为 Prometheus 指标（pull 模型）
//
// xpool 自身通过 OpenTelemetry API 记录指标和追踪（WithMeterProvider/WithTracerProvider），
// xpoolprom 用于只部署 Prometheus 的场景。
//
// 设计原则：
//   - 遵循 OpenTelemetry 语义规范
//   - 采集时读取快照，不在任务路径上增加开销
package observability
