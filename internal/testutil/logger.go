package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"laminate/internal/common/logging"
)

// Entry is one recorded log call
type Entry struct {
	Level   logging.LogLevel
	Message string
	Err     error
	Fields  map[string]interface{}
}

// RecordingLogger implements logging.Logger and keeps every entry in memory
type RecordingLogger struct {
	mu      *sync.Mutex
	entries *[]Entry
	fields  []logging.Field
}

// NewRecordingLogger creates an empty recording logger
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (r *RecordingLogger) record(level logging.LogLevel, msg string, err error, fields []logging.Field) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make(map[string]interface{}, len(r.fields)+len(fields))
	for _, f := range append(append([]logging.Field{}, r.fields...), fields...) {
		all[f.Key] = f.Value
	}
	*r.entries = append(*r.entries, Entry{Level: level, Message: msg, Err: err, Fields: all})
}

func (r *RecordingLogger) Debug(msg string, fields ...logging.Field) {
	r.record(logging.DebugLevel, msg, nil, fields)
}

func (r *RecordingLogger) Info(msg string, fields ...logging.Field) {
	r.record(logging.InfoLevel, msg, nil, fields)
}

func (r *RecordingLogger) Warn(msg string, fields ...logging.Field) {
	r.record(logging.WarnLevel, msg, nil, fields)
}

func (r *RecordingLogger) Error(msg string, err error, fields ...logging.Field) {
	r.record(logging.ErrorLevel, msg, err, fields)
}

// WithFields shares the entry list with the parent logger
func (r *RecordingLogger) WithFields(fields ...logging.Field) logging.Logger {
	return &RecordingLogger{
		mu:      r.mu,
		entries: r.entries,
		fields:  append(append([]logging.Field{}, r.fields...), fields...),
	}
}

func (r *RecordingLogger) WithContext(ctx context.Context) logging.Logger {
	if id, ok := logging.RequestIDFromContext(ctx); ok {
		return r.WithFields(logging.Field{Key: "request_id", Value: id})
	}
	return r
}

// Entries returns a copy of everything logged so far
func (r *RecordingLogger) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), *r.entries...)
}

// Contains reports whether any entry at level has a message or field value
// containing substr
func (r *RecordingLogger) Contains(level logging.LogLevel, substr string) bool {
	for _, e := range r.Entries() {
		if e.Level != level {
			continue
		}
		if strings.Contains(e.Message, substr) {
			return true
		}
		for _, v := range e.Fields {
			if strings.Contains(fmt.Sprint(v), substr) {
				return true
			}
		}
		if e.Err != nil && strings.Contains(e.Err.Error(), substr) {
			return true
		}
	}
	return false
}
