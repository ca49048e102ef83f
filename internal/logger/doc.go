// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a sane console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level configuration and parsing utilities,
//   - leveled functions taking a context (Info, InfoKV, ErrorKV, etc.).
//
// Every deployment stage receives a context and extracts the logger from it,
// so log lines carry the stage name and the release being installed.
package logger
