package httpapi

import (
	"bytes"
	"errors"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"":      LevelOff,
		"off":   LevelOff,
		"error": LevelError,
		"info":  LevelInfo,
		"debug": LevelDebug,
		"weird": LevelInfo, // default
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRequestLogLevel_Overrides(t *testing.T) {
	// query param ?log=debug
	r := httptest.NewRequest("GET", "/x?log=debug", nil)
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("query override failed: %v", got)
	}
	// legacy query param ?log=1
	r = httptest.NewRequest("GET", "/x?log=1", nil)
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("legacy query override failed: %v", got)
	}
	// header X-Log-Level
	r = httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("X-Log-Level", "error")
	if got := requestLogLevel(r); got != LevelError {
		t.Fatalf("header override failed: %v", got)
	}
}

func TestLogForward_FallsBackToStdLog(t *testing.T) {
	var buf bytes.Buffer
	orig := log.Writer()
	defer log.SetOutput(orig)
	log.SetOutput(&buf)

	r := httptest.NewRequest("GET", "/api/v2/comment/1", nil)
	logForward(r, LevelInfo, 200, time.Now(), nil)
	logForward(r, LevelError, 502, time.Now(), errors.New("worker closed"))
	logForward(r, LevelError, 200, time.Now(), nil)
	logForward(r, LevelOff, 500, time.Now(), errors.New("dropped"))

	out := buf.String()
	if !strings.Contains(out, "status=200") || !strings.Contains(out, "status=502") {
		t.Fatalf("missing forward lines: %q", out)
	}
	if strings.Count(out, "forward GET") != 2 {
		t.Fatalf("unexpected line count: %q", out)
	}
	if strings.Contains(out, "dropped") {
		t.Fatalf("logged at LevelOff: %q", out)
	}
}
