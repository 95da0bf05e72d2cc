package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestInitWritesToFile(t *testing.T) {
	prevOut, prevLevel, prevFmt := logrus.StandardLogger().Out, logrus.GetLevel(), logrus.StandardLogger().Formatter
	t.Cleanup(func() {
		logrus.SetOutput(prevOut)
		logrus.SetLevel(prevLevel)
		logrus.SetFormatter(prevFmt)
	})

	path := filepath.Join(t.TempDir(), "logs", "tradepost.log")
	closer, err := Init(Config{Level: "warn", Format: "json", File: path})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	logrus.WithField("component", "test").Info("hidden")
	logrus.WithField("component", "test").Warn("shown")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(b)
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line written at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"component":"test"`) {
		t.Fatalf("missing warn line: %s", out)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	c := Config{Level: " DEBUG ", MaxBackups: -1}
	c.Normalize()
	if c.Level != "debug" || c.Format != "text" || c.MaxSizeMB != 100 || c.MaxBackups != 0 {
		t.Fatalf("normalized: %+v", c)
	}
}

func TestInitUnknownLevelFallsBack(t *testing.T) {
	prevLevel := logrus.GetLevel()
	t.Cleanup(func() { logrus.SetLevel(prevLevel) })
	if _, err := Init(Config{Level: "chatty"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if logrus.GetLevel() != logrus.InfoLevel {
		t.Fatalf("level: %s", logrus.GetLevel())
	}
}
