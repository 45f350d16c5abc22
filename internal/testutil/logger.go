package testutil

import (
	"fmt"
	"strings"
	"sync"
)

// RecordingLogger keeps every record for later inspection.
type RecordingLogger struct {
	mu      sync.Mutex
	records []string
}

func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{}
}

func (l *RecordingLogger) log(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	l.records = append(l.records, b.String())
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.log("INFO", msg, args) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.log("WARN", msg, args) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.log("ERROR", msg, args) }

// Records returns a copy of everything logged so far, one line per record.
func (l *RecordingLogger) Records() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.records...)
}

// Contains reports whether any record contains substr.
func (l *RecordingLogger) Contains(substr string) bool {
	for _, r := range l.Records() {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}
