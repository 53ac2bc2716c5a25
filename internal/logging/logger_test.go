package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter("error", &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Info("hidden info")
	log.Error(errors.New("boom"), "visible failure")
	out := buf.String()
	if strings.Contains(out, "hidden info") {
		t.Fatalf("info leaked at error level: %s", out)
	}
	if !strings.Contains(out, "visible failure") || !strings.Contains(out, "boom") {
		t.Fatalf("expected error line, got %s", out)
	}
}

func TestDebugEnablesVerbose(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter("debug", &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.V(1).Info("task started", "name", "s")
	if !strings.Contains(buf.String(), "task started") {
		t.Fatalf("expected V(1) output at debug, got %q", buf.String())
	}

	buf.Reset()
	log, err = NewWithWriter("info", &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.V(1).Info("task started")
	if buf.Len() != 0 {
		t.Fatalf("expected V(1) to be suppressed at info, got %q", buf.String())
	}
}
