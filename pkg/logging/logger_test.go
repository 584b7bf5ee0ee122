package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be Info, got %s", cfg.Level)
	}
	if cfg.Pretty {
		t.Error("Expected default pretty to be false")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel}, // Should default to Info
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			result := parseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewLogger_ComponentField(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: buf,
	})

	logger := NewLogger("loadmore")
	logger.Info().Int("page", 2).Msg("page merged")

	output := buf.String()
	if !strings.Contains(output, "loadmore") {
		t.Errorf("Expected output to contain component name, got %q", output)
	}
	if !strings.Contains(output, "page merged") {
		t.Errorf("Expected output to contain message, got %q", output)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{
		Level:  LevelWarn,
		Pretty: false,
		Output: buf,
	})

	logger := NewLogger("store")

	logger.Debug().Msg("window recomputed")
	logger.Info().Msg("search applied")
	logger.Warn().Msg("invariant repaired")

	output := buf.String()

	if strings.Contains(output, "window recomputed") {
		t.Error("Debug message should be filtered out at Warn level")
	}
	if strings.Contains(output, "search applied") {
		t.Error("Info message should be filtered out at Warn level")
	}
	if !strings.Contains(output, "invariant repaired") {
		t.Error("Warn message should be included at Warn level")
	}
}
