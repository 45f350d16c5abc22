package tb

// Logger provides structured logging for the sync engine.
// The args follow slog conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger is a Logger that discards all output. Use in tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// sessionLogger tags every record with the session it belongs to.
type sessionLogger struct {
	l         Logger
	sessionID string
}

// WithSession returns a Logger that appends session=<id> to every record.
func WithSession(l Logger, sessionID string) Logger {
	return &sessionLogger{l: l, sessionID: sessionID}
}

func (s *sessionLogger) with(args []any) []any {
	return append(append(make([]any, 0, len(args)+2), args...), "session", s.sessionID)
}

func (s *sessionLogger) Debug(msg string, args ...any) { s.l.Debug(msg, s.with(args)...) }
func (s *sessionLogger) Info(msg string, args ...any)  { s.l.Info(msg, s.with(args)...) }
func (s *sessionLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, s.with(args)...) }
func (s *sessionLogger) Error(msg string, args ...any) { s.l.Error(msg, s.with(args)...) }
