// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels. Loggers travel through contexts so that task and
// request scoped attributes reach every layer.
package logger
