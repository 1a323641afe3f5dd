// Package log provides keywatch's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Internally it is backed by Go's
// standard library slog via a bridge handler that feeds our formatter and
// outputs pipeline.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("compensator"))
//	l.Info("pass finished", log.Int("removed", 3))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config, supporting JSON
// or text formatting and multiple outputs (console, file, null). Redaction
// and sampling are applied as handler wrappers.
//
// # Interop
//
// To integrate with libraries expecting *log.Logger (Pebble logs through the
// standard library), use ToStdLogger or RedirectStdLog.
package log
