package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestInitialize_Silent(t *testing.T) {
	if err := Initialize("silent", ""); err != nil {
		t.Fatalf("Initialize(silent) error = %v", err)
	}
	if GetLogger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("silent logger should not enable any level")
	}
}

func TestInitialize_UnknownFormat(t *testing.T) {
	if err := Initialize("info", "xml"); err == nil {
		t.Error("Initialize with unknown format should fail")
	}
}

func TestInitialize_EnvFallback(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "error")
	if err := Initialize("", "json"); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if GetLogger().Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn should be disabled when GREEMQTT_LOG_LEVEL=error")
	}
	if !GetLogger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("error should be enabled when GREEMQTT_LOG_LEVEL=error")
	}
}

func TestLogDeviceEvent_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	LogDeviceEvent("abc123", "10.0.0.2", "bridge_started")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["device_id"] != "abc123" || ctx["ip"] != "10.0.0.2" || ctx["event"] != "bridge_started" {
		t.Errorf("unexpected fields: %v", ctx)
	}
}

func TestDumps(t *testing.T) {
	data := []byte("ab\x00\x7f")
	if got := hexDump(data); got != "6162007f" {
		t.Errorf("hexDump() = %q, want %q", got, "6162007f")
	}
	if got := asciiDump(data); got != "ab.." {
		t.Errorf("asciiDump() = %q, want %q", got, "ab..")
	}

	long := []byte(strings.Repeat("x", 300))
	if got := hexDump(long); !strings.HasSuffix(got, "...") {
		t.Error("hexDump() of long input should be truncated")
	}
	if got := asciiDump(long); len(got) != 256 {
		t.Errorf("asciiDump() length = %d, want 256", len(got))
	}
}
