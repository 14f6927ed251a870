package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetDataDir(t *testing.T) {
	conf := NewDefaultConfig()

	conf.SetDataDir("/tmp/node1")
	if conf.DatabaseDir != filepath.Join("/tmp/node1", DefaultBadgerFile) {
		t.Fatalf("database dir should follow the data dir, got %s", conf.DatabaseDir)
	}

	conf.DatabaseDir = "/var/db"
	conf.SetDataDir("/tmp/node2")
	if conf.DatabaseDir != "/var/db" {
		t.Fatalf("explicit database dir was overwritten: %s", conf.DatabaseDir)
	}
}

func TestDefaultRequestConfig(t *testing.T) {
	conf := NewDefaultConfig()

	if conf.Request.RetryInterval <= 0 || conf.Request.RetryCeiling <= 0 ||
		conf.Request.Fanout <= 0 || conf.Request.RequestTimeout <= 0 {
		t.Fatalf("request defaults not set: %+v", conf.Request)
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"bogus": logrus.DebugLevel,
	}

	for in, expected := range cases {
		if got := LogLevel(in); got != expected {
			t.Fatalf("LogLevel(%q) = %v, expected %v", in, got, expected)
		}
	}
}

func TestLoggerPrefix(t *testing.T) {
	conf := NewTestConfig(t, logrus.DebugLevel)

	entry := conf.Logger()
	if entry.Data["prefix"] != "tanglesync" {
		t.Fatalf("unexpected prefix %v", entry.Data["prefix"])
	}
}

func TestLogToFile(t *testing.T) {
	conf := NewDefaultConfig()
	conf.SetDataDir(t.TempDir())
	conf.LogToFile = true
	conf.LogLevel = "info"

	conf.Logger().Info("written to file")

	b, err := os.ReadFile(conf.LogFile())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "written to file") {
		t.Fatalf("log file does not contain the entry: %s", b)
	}
}
