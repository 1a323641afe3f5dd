// Package runtime wires a store backend, the delayed index, the live watcher,
// the compensator, metrics and the removal event hub into a single keywatch
// instance. It exposes Open/Start/Close, health checks, and live
// reconfiguration.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: config.Default(), Logger: logger})
//	defer rt.Close()
//	_ = rt.Start(ctx)
//	_ = rt.Registrar().Watch(ctx, "job:42", payload, time.Minute)
package runtime
