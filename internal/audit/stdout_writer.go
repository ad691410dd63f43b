package audit

import (
	"encoding/json"
	"os"
	"sync"
)

// stdoutWriter writes audit events to stdout as JSON lines.
type stdoutWriter struct {
	encoder *json.Encoder
	mu      sync.Mutex
}

func NewStdoutWriter() Writer {
	return &stdoutWriter{encoder: json.NewEncoder(os.Stdout)}
}

func (w *stdoutWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.encoder.Encode(event)
}

func (w *stdoutWriter) Close() error { return nil }
