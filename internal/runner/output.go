package runner

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/boshu2/safetest/internal/guard"
)

// lineWriter receives a test process's combined output. Every write is a
// heartbeat; complete lines are kept in a bounded tail and optionally
// echoed to out with a prefix.
type lineWriter struct {
	mu      sync.Mutex
	handle  guard.Handle
	partial []byte
	tail    []string
	max     int
	out     io.Writer
	prefix  string
}

func newLineWriter(handle guard.Handle, max int, out io.Writer, prefix string) *lineWriter {
	return &lineWriter{handle: handle, max: max, out: out, prefix: prefix}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handle.Beat()
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.push(string(bytes.TrimRight(w.partial[:i], "\r")))
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

// flush records a trailing line without a newline.
func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.push(string(w.partial))
		w.partial = nil
	}
}

func (w *lineWriter) push(line string) {
	if w.out != nil {
		fmt.Fprintf(w.out, "%s%s\n", w.prefix, line)
	}
	if w.max <= 0 {
		return
	}
	if len(w.tail) == w.max {
		copy(w.tail, w.tail[1:])
		w.tail = w.tail[:w.max-1]
	}
	w.tail = append(w.tail, line)
}

// Tail returns the last lines seen.
func (w *lineWriter) Tail() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.tail...)
}

// syncWriter serialises writes from parallel tests.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
