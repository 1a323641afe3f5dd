// Package config provides loading, environment overlay, validation and hot
// reload of keywatch configuration. It exposes a Default() baseline; files
// may be JSON or YAML.
//
// Example:
//
//	cfg, err := config.Load("/etc/keywatch.yaml")
//	if err != nil { /* handle */ }
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil { /* handle */ }
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
//
// Only the compensation interval and the log level are applied on reload;
// other changes take effect on restart.
package config
