package engctx

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestNew_DefaultsLoggerWhenNil(t *testing.T) {
	c := New(nil)
	if c.Logger == nil {
		t.Fatal("expected a default logger")
	}
	if c.SessionID.String() == "" {
		t.Fatal("expected a non-empty session id")
	}
}

func TestNew_AssignsDistinctSessionIDs(t *testing.T) {
	a := New(nil)
	b := New(nil)
	if a.SessionID == b.SessionID {
		t.Fatal("expected distinct session ids across New calls")
	}
}

func TestPrintf_TagsLineWithSessionID(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	c := New(logger)
	c.Printf("hello %s", "world")

	out := buf.String()
	if !strings.Contains(out, c.SessionID.String()) {
		t.Fatalf("log line %q does not contain the session id %s", out, c.SessionID)
	}
	if !strings.Contains(out, "hello world") {
		t.Fatalf("log line %q does not contain the formatted message", out)
	}
}
