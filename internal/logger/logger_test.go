package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/sirupsen/logrus"
)

func TestKratosLoggerWritesThroughLogrus(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetFormatter(&CustomFormatter{})
	l.SetOutput(&buf)
	l.SetLevel(logrus.InfoLevel)

	kl := log.With(NewKratosLogger(l), CallerKey, "weekly.go:42")
	h := log.NewHelper(kl)
	h.Debugf("hidden %d", 1)
	h.Infow("msg", "weekly report stored", "plan_id", 7)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at info level: %q", out)
	}
	for _, want := range []string{"[INFO]", "[weekly.go:42]", "weekly report stored", "plan_id=7"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestKratosLoggerFatalDoesNotExit(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetFormatter(&CustomFormatter{})
	l.SetOutput(&buf)

	_ = NewKratosLogger(l).Log(log.LevelFatal, "msg", "boom")
	if !strings.Contains(buf.String(), "[ERRO]") {
		t.Errorf("fatal not downgraded to error: %q", buf.String())
	}
}
