/*
Package monitoring provides Prometheus metrics for a kernel instance.

Every Metrics value owns its own registry, so tests can build many kernels in
one process without duplicate registration panics.

# Usage

	metrics := monitoring.NewMetrics()
	metrics.SetStateFunc(k.sample)

	timer := monitoring.NewTimer(metrics, "channel_send")
	err := send()
	timer.Stop(string(kerr.KindOf(err)))

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

Gauges for live objects, task states and frames are sampled through the state
function at scrape time rather than pushed on every change.
*/
package monitoring
