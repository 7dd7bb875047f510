// Package xpoolconf 提供 xworker 的配置加载、校验和热更新。
//
// 配置文件支持 YAML 和 JSON，按扩展名识别，基于 koanf 解析，
// 结构体字段使用 koanf 标签。文件中未出现的字段保留 Default() 的值：
//
//	pool:
//	  name: ingest
//	  workers: 8
//	  max_tasks: 32
//	  enqueue_timeout: 2s
//	log:
//	  level: info
//	  format: json
//	  file: /var/log/xworker/xworker.log
//	metrics:
//	  addr: ":9090"
//
// 使用方式：
//
//	cfg, err := xpoolconf.Load("xworker.yaml")
//	if err != nil { ... }
//	if err := cfg.Validate(); err != nil { ... }
//	pool, err := xpool.NewTaskPool(cfg.Pool.Workers, cfg.Pool.Options(logger)...)
//
// Watch 基于 fsnotify 监视配置文件，变更经过防抖后重新加载并校验，
// 结果通过回调返回。pool 的 worker 数等结构性参数只在启动时生效，
// 热更新适用于日志级别这类运行时可调的参数。
package xpoolconf
