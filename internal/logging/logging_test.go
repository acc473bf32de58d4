package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "warn"}, &buf)

	logger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("warn 级别不应输出 info: %s", buf.String())
	}

	logger.Warn().Msg("shown")
	if !bytes.Contains(buf.Bytes(), []byte("shown")) {
		t.Fatalf("warn 日志应输出: %s", buf.String())
	}
}

func TestNewLoggerUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "chatty"}, &buf)
	logger.Debug().Msg("debug")
	logger.Info().Msg("info")
	if bytes.Contains(buf.Bytes(), []byte(`"debug"`)) || !bytes.Contains(buf.Bytes(), []byte(`"info"`)) {
		t.Fatalf("未知级别应回退到 info: %s", buf.String())
	}
}

func TestForRun(t *testing.T) {
	var buf bytes.Buffer
	base := newLogger(Config{Level: "info"}, &buf)

	logger, runID := ForRun(base, "snapshot")
	if _, err := uuid.Parse(runID); err != nil {
		t.Fatalf("run id 应为 uuid: %q", runID)
	}

	logger.Info().Msg("hello")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("日志应为 JSON: %v", err)
	}
	if entry["stage"] != "snapshot" || entry["run_id"] != runID {
		t.Fatalf("日志缺少 stage/run_id: %v", entry)
	}

	_, other := ForRun(base, "snapshot")
	if other == runID {
		t.Fatal("每次运行的 run id 应不同")
	}
}
