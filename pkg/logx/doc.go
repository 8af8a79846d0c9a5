// Package logx is a small structured logging wrapper over zerolog.
//
// The zero Logger discards everything. A Service owns the root logger and
// swaps its sinks (readable console, JSON file) when Apply is called, so
// loggers derived with With keep working across config reloads.
package logx
