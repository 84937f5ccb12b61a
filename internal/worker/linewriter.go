package worker

import (
	"bytes"
	"strings"
	"sync"
)

const maxLineBytes = 64 << 10

// lineWriter splits a byte stream into lines and hands each non-empty one to
// emit. Overlong lines are flushed in pieces.
type lineWriter struct {
	mu   sync.Mutex
	buf  []byte
	emit func(line string)
}

func (lw *lineWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		lw.flush(lw.buf[:idx])
		lw.buf = lw.buf[idx+1:]
	}
	if len(lw.buf) > maxLineBytes {
		lw.flush(lw.buf)
		lw.buf = nil
	}
	return len(p), nil
}

// Close emits any trailing partial line.
func (lw *lineWriter) Close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.flush(lw.buf)
	lw.buf = nil
	return nil
}

func (lw *lineWriter) flush(b []byte) {
	line := strings.TrimRight(string(b), "\r")
	if strings.TrimSpace(line) != "" {
		lw.emit(line)
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append([]byte(nil), t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
