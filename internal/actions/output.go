package actions

import (
	"bytes"
	"strings"
	"sync"

	"github.com/imamik/shipyard/internal/observe"
)

// maxLineBytes caps a buffered partial line; longer lines are emitted in
// pieces.
const maxLineBytes = 64 * 1024

// lineWriter turns process output into one EventBuildLog per line. Stdout
// and stderr write concurrently.
type lineWriter struct {
	mu       sync.Mutex
	observer observe.Observer
	buf      bytes.Buffer
}

func newLineWriter(o observe.Observer) *lineWriter {
	return &lineWriter{observer: observe.OrDiscard(o)}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(w.buf.Next(i + 1))
		w.emit(strings.TrimRight(line, "\r\n"))
	}
	if w.buf.Len() > maxLineBytes {
		w.emit(string(w.buf.Next(w.buf.Len())))
	}
	return len(p), nil
}

// Flush emits a trailing line that had no newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(string(w.buf.Next(w.buf.Len())))
	}
}

func (w *lineWriter) emit(line string) {
	w.observer.Event(observe.Event{Type: observe.EventBuildLog, Message: line})
}
