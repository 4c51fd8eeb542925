// Package logger wraps a zap sugared logger with structured key/value
// helpers and redaction of credential-bearing keys.
//
// Every component receives a *Logger. In MCP stdio mode the logger must
// write to stderr only, since stdout carries the protocol stream; New
// builds configurations that honor this.
package logger
