package logging

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// resetLoggerForTest clears the singleton so the next Logger call rebuilds it
// against the current os.Stdout.
func resetLoggerForTest() {
	loggerOnce = sync.Once{}
	baseLogger = nil
	loggerErr = nil
}

// captureStdout runs fn with stdout redirected to a pipe and returns what was written.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	resetLoggerForTest()
	t.Cleanup(resetLoggerForTest)

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	defer func() { _ = r.Close() }()

	origStdout := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = origStdout }()

	fn()
	_ = Logger().Sync()

	if err := w.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("failed to read log output: %v", err)
	}
	return strings.TrimSpace(string(data))
}

func decodeLine(t *testing.T, line string) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("failed to unmarshal log JSON %q: %v", line, err)
	}
	return payload
}

func TestLoggerStructuredOutput(t *testing.T) {
	line := captureStdout(t, func() {
		Logger().Info("GET /greetings", zap.Int("status", 200))
	})
	payload := decodeLine(t, line)

	if got := payload["severity"]; got != "INFO" {
		t.Fatalf("expected severity INFO, got %v", got)
	}
	if _, exists := payload["level"]; exists {
		t.Fatal("did not expect a level field")
	}
	if got := payload["message"]; got != "GET /greetings" {
		t.Fatalf("expected message 'GET /greetings', got %v", got)
	}
	if got, ok := payload["status"].(float64); !ok || got != 200 {
		t.Fatalf("expected status 200, got %v", payload["status"])
	}
	ts, ok := payload["timestamp"].(string)
	if !ok {
		t.Fatalf("expected timestamp string, got %T", payload["timestamp"])
	}
	if _, err := time.Parse(RFC3339Micros, ts); err != nil {
		t.Fatalf("timestamp %q is not RFC3339Micros: %v", ts, err)
	}
	caller, _ := payload["caller"].(string)
	if !strings.Contains(caller, "logger_test.go") {
		t.Fatalf("expected caller to reference logger_test.go, got %q", caller)
	}
}

func TestSetLevelControlsOutput(t *testing.T) {
	t.Cleanup(func() { _ = SetLevel("info") })

	line := captureStdout(t, func() {
		Logger().Debug("hidden at info")
	})
	if line != "" {
		t.Fatalf("expected no debug output at info level, got %q", line)
	}

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel(debug): %v", err)
	}
	line = captureStdout(t, func() {
		Logger().Debug("visible at debug")
	})
	payload := decodeLine(t, line)
	if payload["severity"] != "DEBUG" {
		t.Fatalf("expected severity DEBUG, got %v", payload["severity"])
	}
	if Level() != zapcore.DebugLevel {
		t.Fatalf("expected Level() debug, got %s", Level())
	}
}

func TestSetLevelRejectsUnknownName(t *testing.T) {
	if err := SetLevel("chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if Level() != zapcore.InfoLevel {
		t.Fatalf("expected level to stay info, got %s", Level())
	}
}

func TestEncodeSeverityMapping(t *testing.T) {
	tests := []struct {
		level    zapcore.Level
		expected string
	}{
		{zapcore.DebugLevel, "DEBUG"},
		{zapcore.InfoLevel, "INFO"},
		{zapcore.WarnLevel, "WARNING"},
		{zapcore.ErrorLevel, "ERROR"},
		{zapcore.DPanicLevel, "CRITICAL"},
		{zapcore.PanicLevel, "ALERT"},
		{zapcore.FatalLevel, "EMERGENCY"},
		{zapcore.Level(99), "DEFAULT"},
	}

	for _, tt := range tests {
		enc := &captureArrayEncoder{}
		encodeSeverity(tt.level, enc)
		if len(enc.values) != 1 || enc.values[0] != tt.expected {
			t.Fatalf("encodeSeverity(%v) = %v, want %s", tt.level, enc.values, tt.expected)
		}
	}
}

func TestEncodeTimeMicrosConvertsToUTC(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Time
		expected string
	}{
		{"utc", time.Date(2024, 6, 15, 10, 30, 45, 123456000, time.UTC), "2024-06-15T10:30:45.123456Z"},
		{"zero fraction", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "2024-01-01T00:00:00.000000Z"},
		{"offset zone", time.Date(2024, 6, 15, 12, 0, 0, 500000000, time.FixedZone("EST", -5*60*60)), "2024-06-15T17:00:00.500000Z"},
		{"truncates nanos", time.Date(2024, 3, 20, 8, 15, 30, 999999999, time.UTC), "2024-03-20T08:15:30.999999Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := &captureArrayEncoder{}
			encodeTimeMicros(tt.input, enc)
			if len(enc.values) != 1 || enc.values[0] != tt.expected {
				t.Fatalf("expected %q, got %v", tt.expected, enc.values)
			}
		})
	}
}

func TestLoggerSingleton(t *testing.T) {
	resetLoggerForTest()
	t.Cleanup(resetLoggerForTest)

	var wg sync.WaitGroup
	results := make(chan *zap.Logger, 50)
	for range 50 {
		wg.Go(func() {
			results <- Logger()
		})
	}
	wg.Wait()
	close(results)

	var first *zap.Logger
	for l := range results {
		if first == nil {
			first = l
		} else if l != first {
			t.Fatal("concurrent Logger() calls returned different instances")
		}
	}
	if err := Err(); err != nil {
		t.Fatalf("expected nil init error, got %v", err)
	}
}

// captureArrayEncoder collects strings appended via the PrimitiveArrayEncoder interface.
type captureArrayEncoder struct {
	values []string
}

func (c *captureArrayEncoder) AppendBool(bool)             {}
func (c *captureArrayEncoder) AppendByteString([]byte)     {}
func (c *captureArrayEncoder) AppendComplex128(complex128) {}
func (c *captureArrayEncoder) AppendComplex64(complex64)   {}
func (c *captureArrayEncoder) AppendFloat64(float64)       {}
func (c *captureArrayEncoder) AppendFloat32(float32)       {}
func (c *captureArrayEncoder) AppendInt(int)               {}
func (c *captureArrayEncoder) AppendInt64(int64)           {}
func (c *captureArrayEncoder) AppendInt32(int32)           {}
func (c *captureArrayEncoder) AppendInt16(int16)           {}
func (c *captureArrayEncoder) AppendInt8(int8)             {}
func (c *captureArrayEncoder) AppendString(s string)       { c.values = append(c.values, s) }
func (c *captureArrayEncoder) AppendUint(uint)             {}
func (c *captureArrayEncoder) AppendUint64(uint64)         {}
func (c *captureArrayEncoder) AppendUint32(uint32)         {}
func (c *captureArrayEncoder) AppendUint16(uint16)         {}
func (c *captureArrayEncoder) AppendUint8(uint8)           {}
func (c *captureArrayEncoder) AppendUintptr(uintptr)       {}
