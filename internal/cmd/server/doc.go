// Package serverrun exposes the Run entrypoint used by the CLI to start a
// keywatch runtime with its HTTP API, handling config reload and shutdown.
//
// Example:
//
//	cfg, _ := serverrun.LoadConfig("keywatch.yaml", nil)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg, ConfigPath: "keywatch.yaml"})
package serverrun
