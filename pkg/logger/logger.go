// Package logger is the logging boundary of shelfdb. Everything in the
// module logs through Logger with slog-style key/value pairs; the
// concrete backend is either log/slog or zerolog.
package logger

type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

type nop struct{}

// Nop discards everything.
func Nop() Logger { return nop{} }

func (nop) Error(string, ...any) {}
func (nop) Warn(string, ...any)  {}
func (nop) Info(string, ...any)  {}
func (nop) Debug(string, ...any) {}

// With returns a Logger that prepends args to every call.
func With(l Logger, args ...any) Logger {
	if len(args) == 0 {
		return l
	}
	return &withLogger{parent: l, args: args}
}

type withLogger struct {
	parent Logger
	args   []any
}

func (w *withLogger) join(args []any) []any {
	out := make([]any, 0, len(w.args)+len(args))
	out = append(out, w.args...)
	return append(out, args...)
}

func (w *withLogger) Error(msg string, args ...any) { w.parent.Error(msg, w.join(args)...) }
func (w *withLogger) Warn(msg string, args ...any)  { w.parent.Warn(msg, w.join(args)...) }
func (w *withLogger) Info(msg string, args ...any)  { w.parent.Info(msg, w.join(args)...) }
func (w *withLogger) Debug(msg string, args ...any) { w.parent.Debug(msg, w.join(args)...) }
