package audit

import (
	"context"
	"errors"
	"sync"
)

// MultiLogger writes every event to all of its sinks. A failing sink never
// stops the others from receiving the event.
type MultiLogger struct {
	sinks []Logger
	async bool

	pending sync.WaitGroup
	mu      sync.Mutex
	failed  []error
}

// NewMultiLogger fans out to sinks. It logs synchronously until SetAsync(true).
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	return &MultiLogger{sinks: sinks}
}

// SetAsync makes Log return immediately. Write failures are then kept for
// Errors instead of being returned.
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// Log returns the first sink error in synchronous mode
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	if !m.async {
		var first error
		for _, sink := range m.sinks {
			if err := sink.Log(ctx, event); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	// The request that produced the event may finish before the write does
	ctx = context.WithoutCancel(ctx)
	m.pending.Add(len(m.sinks))
	for _, sink := range m.sinks {
		go m.write(ctx, sink, event)
	}
	return nil
}

func (m *MultiLogger) write(ctx context.Context, sink Logger, event *AuditEvent) {
	defer m.pending.Done()
	if err := sink.Log(ctx, event); err != nil {
		m.mu.Lock()
		m.failed = append(m.failed, err)
		m.mu.Unlock()
	}
}

// Wait blocks until in-flight async writes are done
func (m *MultiLogger) Wait() {
	m.pending.Wait()
}

// Errors returns and clears the async write failures seen so far
func (m *MultiLogger) Errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	failed := m.failed
	m.failed = nil
	return failed
}

// Close drains pending writes, then closes every sink
func (m *MultiLogger) Close() error {
	m.pending.Wait()

	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
