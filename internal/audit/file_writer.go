package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// fileWriter writes audit events to a rotating JSON-lines file.
type fileWriter struct {
	logger  *lumberjack.Logger
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewFileWriter creates a file writer with size and age based rotation.
func NewFileWriter(filename string, maxSizeMB, maxAgeDays, maxBackups int) (Writer, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	logger := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxAge:     maxAgeDays,
		MaxBackups: maxBackups,
		LocalTime:  true,
		Compress:   true,
	}

	w := &fileWriter{
		logger:  logger,
		encoder: json.NewEncoder(logger),
	}
	if err := w.Write(lifecycleEvent(EventTypeStartup, map[string]interface{}{"message": "audit logging started"})); err != nil {
		return nil, fmt.Errorf("write startup event: %w", err)
	}
	return w, nil
}

func (w *fileWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.encoder.Encode(event)
}

func (w *fileWriter) Close() error {
	_ = w.Write(lifecycleEvent(EventTypeShutdown, map[string]interface{}{"message": "audit logging stopped"}))
	return w.logger.Close()
}
