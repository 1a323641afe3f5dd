// Package metrics defines keywatch's Prometheus metrics.
//
// Metrics implements expiry.Recorder for the reconciliation components and
// pebblestore.MetricsHook for the storage engine, so one registry observes
// the whole process:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package metrics
