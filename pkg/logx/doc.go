// Package logx wraps zerolog behind a small structured logging API.
//
// Loggers are cheap value types. A Logger created from a Service stays live
// across Service.Apply() calls, so log level and sink changes from a config
// reload take effect without re-plumbing loggers through the app.
//
// Sinks:
//   - Console (human-friendly output)
//   - File (JSON lines, append-only)
package logx
