// Package xpoolprom 将 xpool 的运行状态导出为 Prometheus 指标。
//
// Collector 在每次抓取时调用 Stats() 读取快照，导出 worker 数、队列深度、
// 执行中任务数等 gauge，以及提交、完成、失败、拒绝、重置次数等 counter：
//
//	pool, _ := xpool.NewTaskPool(8, xpool.WithName("ingest"))
//	c, _ := xpoolprom.NewCollector(pool, xpoolprom.WithConstLabels(prometheus.Labels{"pool": "ingest"}))
//	prometheus.MustRegister(c)
//
// 任务耗时、入队等待时间等分布类指标由 xpool 通过 OpenTelemetry 上报。
package xpoolprom
