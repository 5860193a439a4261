package kernellog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewDefaultsToInfoOnUnrecognizedLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New("not-a-level", &buf)

	if l.GetLevel() != logrus.InfoLevel {
		t.Errorf("GetLevel() = %v, want InfoLevel", l.GetLevel())
	}
}

func TestNewHonorsExplicitLevel(t *testing.T) {
	l := New("debug", nil)
	if l.GetLevel() != logrus.DebugLevel {
		t.Errorf("GetLevel() = %v, want DebugLevel", l.GetLevel())
	}
}

func TestWithTerminalAddsField(t *testing.T) {
	var buf bytes.Buffer
	l := New("info", &buf)
	WithTerminal(l, "T1").Info("hello")

	if !strings.Contains(buf.String(), `"terminal_id":"T1"`) {
		t.Errorf("log output = %q, want it to contain terminal_id field", buf.String())
	}
}
