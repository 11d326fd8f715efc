package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "depthwatch.log")
	log := Logger()
	if err := log.Configure("debug", "text", path, 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	log.WithComponent("test").Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(data, []byte("hello")) {
		t.Fatalf("log file missing message: %s", data)
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestLogMetricFields(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	log.LogMetric("reporter", "volume_change", 12.5, "", Fields{"symbol": "BTCUSDT"})

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["metric"] != "volume_change" || line["metric_type"] != "counter" || line["symbol"] != "BTCUSDT" {
		t.Fatalf("unexpected metric line: %v", line)
	}
	if line["component"] != "reporter" {
		t.Fatalf("component missing: %v", line)
	}
}

func TestWarnCountedForStreamComponent(t *testing.T) {
	before := reportFields()["warns_stream"].(int64)

	log := Logger()
	log.SetOutput(&bytes.Buffer{})
	log.WithComponent("binance_stream").Warn("connection closed")

	after := reportFields()["warns_stream"].(int64)
	if after != before+1 {
		t.Fatalf("expected warns_stream to grow by 1, got %d -> %d", before, after)
	}
}

func TestRecordChannelMessageInReport(t *testing.T) {
	RecordChannelMessage("test_channel", 5)
	RecordChannelMessage("test_channel", 3)

	msgs, size := ChannelStats("test_channel")
	if msgs != 2 || size != 8 {
		t.Fatalf("unexpected channel stats: %d messages, %d bytes", msgs, size)
	}

	channels := reportFields()["channels"].(map[string]map[string]int64)
	if channels["test_channel"]["messages"] != 2 {
		t.Fatalf("channel missing from report: %v", channels)
	}

	if msgs, _ := ChannelStats("unknown_channel"); msgs != 0 {
		t.Fatalf("unknown channel should be empty, got %d", msgs)
	}
}
