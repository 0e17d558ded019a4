// Package logx is watchbot's structured logging layer.
//
// It wraps zerolog behind a small value type (logx.Logger) so that:
//   - console output stays readable (short timestamp + file:line caller)
//   - file output is JSON, one event per line
//   - warnings can be mirrored into a chat (min-level + rate limited)
//   - sinks and levels can be swapped at runtime without re-wiring loggers
package logx
