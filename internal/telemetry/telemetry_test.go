package telemetry

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nao1215/marketnotify/internal/config"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	t.Run("JSON形式で設定したレベル以上だけを出力する", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		logger, err := NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
		if err != nil {
			t.Fatal(err)
		}
		logger.Info("出力されない")
		logger.Warn("配信に失敗", slog.String("user_id", "u1"))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 1 {
			t.Fatalf("出力行数: got %d (%q)", len(lines), buf.String())
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
			t.Fatalf("JSONではない: %v", err)
		}
		if rec["level"] != "WARN" || rec["user_id"] != "u1" {
			t.Errorf("出力が不正: %v", rec)
		}
	})

	t.Run("テキスト形式", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		logger, err := NewLogger(config.LogConfig{Level: "debug", Format: "text"}, &buf)
		if err != nil {
			t.Fatal(err)
		}
		logger.Debug("詳細")
		if !strings.Contains(buf.String(), "level=DEBUG") {
			t.Errorf("テキスト形式ではない: %q", buf.String())
		}
	})

	t.Run("未知の形式とレベルはエラー", func(t *testing.T) {
		t.Parallel()
		if _, err := NewLogger(config.LogConfig{Format: "xml"}, &bytes.Buffer{}); err == nil {
			t.Error("未知の形式でエラーを期待")
		}
		if _, err := NewLogger(config.LogConfig{Level: "verbose"}, &bytes.Buffer{}); err == nil {
			t.Error("未知のレベルでエラーを期待")
		}
	})
}

func TestSetupTracingDisabled(t *testing.T) {
	t.Parallel()

	tp, shutdown, err := SetupTracing(t.Context(), config.TelemetryConfig{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	_, span := tp.Tracer("test").Start(t.Context(), "noop")
	if span.SpanContext().IsValid() {
		t.Error("無効時はスパンを記録しない")
	}
	span.End()
	if err := shutdown(t.Context()); err != nil {
		t.Errorf("停止でエラー: %v", err)
	}
}
