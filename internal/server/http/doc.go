// Package httpserver is the keywatch REST API: watch registration, the
// pending index listing, on-demand compensation, health, Prometheus metrics
// and the websocket removal feed.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: config.Default()})
//	s := httpserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
