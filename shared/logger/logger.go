// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

// Package logger provides logging for PeopleFlow engine components in
// two flavors: structured JSON entries for the request path, where log
// lines are correlated by request id across replicas, and classic
// bracket-prefixed std loggers for engine internals.
package logger

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry. Higher is more severe.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// levelFromEnv reads LOG_LEVEL; unknown or unset values mean INFO.
func levelFromEnv() Level {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		return DEBUG
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger writes structured JSON entries for a single component.
type Logger struct {
	component string
	instance  string
	minLevel  Level

	mu  sync.Mutex
	out io.Writer
}

// Entry is the JSON shape written per line.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component"`
	Instance  string         `json:"instance,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// New creates a Logger for the given component, writing to stdout. The
// instance identity comes from the container hostname and the minimum
// level from LOG_LEVEL.
func New(component string) *Logger {
	hostname, _ := os.Hostname()
	return &Logger{
		component: component,
		instance:  hostname,
		minLevel:  levelFromEnv(),
		out:       os.Stdout,
	}
}

// NewWithWriter creates a Logger writing to the given writer. Used by
// tests and embedded deployments.
func NewWithWriter(component string, out io.Writer) *Logger {
	l := New(component)
	l.out = out
	return l
}

// Prefixed returns a std logger with the engine-internal bracket
// convention, e.g. Prefixed("LLM_ROUTER") writes "[LLM_ROUTER] " lines.
func Prefixed(name string) *log.Logger {
	return log.New(os.Stdout, "["+name+"] ", log.LstdFlags)
}

// Log writes one structured entry. Entries below the minimum level are
// dropped.
func (l *Logger) Log(level Level, requestID, message string, fields map[string]any) {
	if level < l.minLevel {
		return
	}

	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Component: l.component,
		Instance:  l.instance,
		RequestID: requestID,
		Message:   message,
		Fields:    fields,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		log.Printf("failed to marshal log entry: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(append(line, '\n'))
}

// Debug logs a debug message.
func (l *Logger) Debug(requestID, message string, fields map[string]any) {
	l.Log(DEBUG, requestID, message, fields)
}

// Info logs an informational message.
func (l *Logger) Info(requestID, message string, fields map[string]any) {
	l.Log(INFO, requestID, message, fields)
}

// Warn logs a warning message.
func (l *Logger) Warn(requestID, message string, fields map[string]any) {
	l.Log(WARN, requestID, message, fields)
}

// Error logs an error message.
func (l *Logger) Error(requestID, message string, fields map[string]any) {
	l.Log(ERROR, requestID, message, fields)
}

// InfoWithDuration logs an info message with a duration_ms field.
func (l *Logger) InfoWithDuration(requestID, message string, durationMS float64, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["duration_ms"] = durationMS
	l.Info(requestID, message, fields)
}

// ErrorWithErr logs an error message with the error string attached.
func (l *Logger) ErrorWithErr(requestID, message string, err error, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error(requestID, message, fields)
}
