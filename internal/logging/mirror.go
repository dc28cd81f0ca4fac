package logging

import (
	"sync"

	"github.com/ZebulonRouseFrantzich/pandock/internal/events"
)

// Mirror forwards every LogEntry published on a topic to a Logger.
type Mirror struct {
	sub  *events.Subscription[events.LogEntry]
	wg   sync.WaitGroup
	once sync.Once
}

// StartMirror subscribes to logs and forwards entries to logger until Stop is
// called or the topic is closed.
func StartMirror(logs *events.Broadcaster[events.LogEntry], logger Logger) *Mirror {
	logger = OrNop(logger)
	m := &Mirror{sub: logs.Subscribe()}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for entry := range m.sub.C() {
			write(logger, entry)
		}
	}()
	return m
}

// Stop detaches the mirror and waits for the forwarding goroutine to exit.
// Entries not yet forwarded are dropped.
func (m *Mirror) Stop() {
	m.once.Do(m.sub.Unsubscribe)
	m.wg.Wait()
}

// Wait blocks until the topic is closed and every entry has been forwarded.
func (m *Mirror) Wait() {
	m.wg.Wait()
}

func write(logger Logger, entry events.LogEntry) {
	kv := []interface{}{"source", entry.Source}
	if entry.CorrelationID != "" {
		kv = append(kv, "correlation_id", entry.CorrelationID)
	}
	if entry.Details != "" {
		kv = append(kv, "details", entry.Details)
	}
	switch entry.Level {
	case events.LevelError:
		logger.Error(entry.Message, kv...)
	case events.LevelSuccess:
		logger.Info(entry.Message, append(kv, "outcome", "success")...)
	default:
		logger.Info(entry.Message, kv...)
	}
}
