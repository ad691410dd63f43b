package audit

import (
	"encoding/json"
	"fmt"
	"log/syslog"
	"sync"
)

// syslogWriter ships audit events to a syslog daemon.
type syslogWriter struct {
	writer *syslog.Writer
	mu     sync.Mutex
}

func NewSyslogWriter(protocol, address string) (Writer, error) {
	if protocol == "" {
		protocol = "tcp"
	}

	writer, err := syslog.Dial(protocol, address, syslog.LOG_INFO|syslog.LOG_LOCAL0, "authz-server")
	if err != nil {
		return nil, fmt.Errorf("connect to syslog: %w", err)
	}
	return &syslogWriter{writer: writer}, nil
}

func (w *syslogWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return w.writer.Info(string(data))
}

func (w *syslogWriter) Close() error {
	return w.writer.Close()
}
