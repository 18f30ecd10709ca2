// Package logger wraps zap for the updater:
//   - a global sugared logger with a console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing for the --log-level flag,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// Services take a context and pull the logger from it, so status lines
// emitted during an update carry the component name that produced them.
package logger
