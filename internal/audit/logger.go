package audit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Logger accepts events without blocking the caller. A full buffer
// drops the oldest event rather than stalling a request.
type Logger interface {
	Record(event *Event)
	Dropped() uint64
	Flush() error
	Close() error
}

// Config for the audit logger.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Type    string `yaml:"type" json:"type"` // stdout, file, syslog

	FilePath       string `yaml:"filePath" json:"filePath"`
	FileMaxSize    int    `yaml:"fileMaxSize" json:"fileMaxSize"` // MB
	FileMaxAge     int    `yaml:"fileMaxAge" json:"fileMaxAge"`   // days
	FileMaxBackups int    `yaml:"fileMaxBackups" json:"fileMaxBackups"`

	SyslogAddr     string `yaml:"syslogAddr" json:"syslogAddr"`
	SyslogProtocol string `yaml:"syslogProtocol" json:"syslogProtocol"`

	BufferSize    int           `yaml:"bufferSize" json:"bufferSize"`
	FlushInterval time.Duration `yaml:"flushInterval" json:"flushInterval"`
}

// DefaultConfig returns stdout logging with a small buffer.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Type:           "stdout",
		BufferSize:     1000,
		FlushInterval:  100 * time.Millisecond,
		FileMaxSize:    100,
		FileMaxAge:     30,
		FileMaxBackups: 10,
	}
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch c.Type {
	case "stdout", "file", "syslog":
	case "":
		return fmt.Errorf("audit type is required")
	default:
		return fmt.Errorf("invalid audit type: %s (must be stdout, file, or syslog)", c.Type)
	}

	if c.Type == "file" && c.FilePath == "" {
		return fmt.Errorf("file path is required for file output")
	}
	if c.Type == "syslog" && c.SyslogAddr == "" {
		return fmt.Errorf("syslog address is required for syslog output")
	}

	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	return nil
}

// NewLogger builds the configured audit logger; disabled config yields
// a no-op logger.
func NewLogger(cfg *Config) (Logger, error) {
	if cfg == nil {
		c := DefaultConfig()
		cfg = &c
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if !cfg.Enabled {
		return &noopLogger{}, nil
	}

	var writer Writer
	var err error
	switch cfg.Type {
	case "stdout":
		writer = NewStdoutWriter()
	case "file":
		writer, err = NewFileWriter(cfg.FilePath, cfg.FileMaxSize, cfg.FileMaxAge, cfg.FileMaxBackups)
	case "syslog":
		writer, err = NewSyslogWriter(cfg.SyslogProtocol, cfg.SyslogAddr)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s writer: %w", cfg.Type, err)
	}

	return newAsyncLogger(writer, *cfg), nil
}

// asyncLogger buffers events in a ring and flushes them from a
// background goroutine.
type asyncLogger struct {
	writer Writer

	buffer []*Event
	size   int
	head   int
	tail   int
	mu     sync.Mutex

	dropped uint64

	flushCh chan struct{}
	doneCh  chan struct{}
	wg      sync.WaitGroup
}

func newAsyncLogger(writer Writer, cfg Config) *asyncLogger {
	l := &asyncLogger{
		writer:  writer,
		buffer:  make([]*Event, cfg.BufferSize),
		size:    cfg.BufferSize,
		flushCh: make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
	}

	l.wg.Add(1)
	go l.run(cfg.FlushInterval)
	return l
}

func (l *asyncLogger) Record(event *Event) {
	l.mu.Lock()
	l.buffer[l.tail] = event
	l.tail = (l.tail + 1) % l.size
	if l.tail == l.head {
		// Buffer full: overwrite the oldest event.
		l.head = (l.head + 1) % l.size
		atomic.AddUint64(&l.dropped, 1)
	}
	l.mu.Unlock()

	select {
	case l.flushCh <- struct{}{}:
	default:
	}
}

func (l *asyncLogger) Dropped() uint64 {
	return atomic.LoadUint64(&l.dropped)
}

func (l *asyncLogger) run(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = l.flush()
		case <-l.flushCh:
			_ = l.flush()
		case <-l.doneCh:
			_ = l.flush()
			return
		}
	}
}

func (l *asyncLogger) Flush() error {
	return l.flush()
}

func (l *asyncLogger) flush() error {
	l.mu.Lock()
	events := l.drain()
	l.mu.Unlock()

	var lastErr error
	for _, event := range events {
		if err := l.writer.Write(event); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (l *asyncLogger) drain() []*Event {
	if l.head == l.tail {
		return nil
	}

	var events []*Event
	for i := l.head; i != l.tail; i = (i + 1) % l.size {
		events = append(events, l.buffer[i])
		l.buffer[i] = nil
	}
	l.head = l.tail
	return events
}

func (l *asyncLogger) Close() error {
	close(l.doneCh)
	l.wg.Wait()
	return l.writer.Close()
}

type noopLogger struct{}

func (*noopLogger) Record(*Event)   {}
func (*noopLogger) Dropped() uint64 { return 0 }
func (*noopLogger) Flush() error    { return nil }
func (*noopLogger) Close() error    { return nil }
