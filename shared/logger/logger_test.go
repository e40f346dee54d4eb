// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerEntryShape(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	var buf bytes.Buffer
	l := NewWithWriter("server", &buf)

	l.Info("req-1", "request handled", map[string]any{"status": 200})

	var entry Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "server", entry.Component)
	assert.Equal(t, "req-1", entry.RequestID)
	assert.Equal(t, "request handled", entry.Message)
	assert.EqualValues(t, 200, entry.Fields["status"])
	assert.NotEmpty(t, entry.Timestamp)
}

func TestLoggerLevelFilter(t *testing.T) {
	t.Setenv("LOG_LEVEL", "WARN")

	var buf bytes.Buffer
	l := NewWithWriter("server", &buf)

	l.Debug("", "dropped", nil)
	l.Info("", "dropped", nil)
	assert.Zero(t, buf.Len())

	l.Warn("", "kept", nil)
	assert.Contains(t, buf.String(), "kept")
}

func TestErrorWithErr(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	var buf bytes.Buffer
	l := NewWithWriter("server", &buf)

	l.ErrorWithErr("req-1", "dispatch failed", errors.New("connection refused"), nil)

	var entry Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry.Level)
	assert.Equal(t, "connection refused", entry.Fields["error"])
}

func TestPrefixed(t *testing.T) {
	l := Prefixed("LLM_ROUTER")
	assert.Equal(t, "[LLM_ROUTER] ", l.Prefix())

	var buf bytes.Buffer
	l.SetOutput(&buf)
	l.Println("routing request")
	assert.Contains(t, buf.String(), "[LLM_ROUTER] ")
	assert.Contains(t, buf.String(), "routing request")
}
