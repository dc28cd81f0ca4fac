package events

// Bus is the process-wide pair of topics: acquisition progress and the log
// transcript.
type Bus struct {
	Progress *Broadcaster[DownloadProgress]
	Logs     *Broadcaster[LogEntry]
}

// NewBus creates a bus with both topics open.
func NewBus() *Bus {
	return &Bus{
		Progress: NewBroadcaster[DownloadProgress](),
		Logs:     NewBroadcaster[LogEntry](),
	}
}

// Close closes both topics. Subscribers drain what was already published.
func (b *Bus) Close() {
	b.Progress.Close()
	b.Logs.Close()
}

// Emitter publishes log entries for one attempt or request, stamping each with
// the same source and correlation id. A nil *Emitter discards everything.
type Emitter struct {
	bus           *Bus
	clock         Clock
	source        string
	correlationID string
}

// NewEmitter returns an emitter for source/correlationID. A nil clock uses
// RealClock.
func NewEmitter(bus *Bus, clock Clock, source, correlationID string) *Emitter {
	return &Emitter{bus: bus, clock: orReal(clock), source: source, correlationID: correlationID}
}

// CorrelationID returns the id attached to every entry.
func (e *Emitter) CorrelationID() string {
	if e == nil {
		return ""
	}
	return e.correlationID
}

// Info publishes an info entry.
func (e *Emitter) Info(message, details string) { e.log(LevelInfo, message, details) }

// Success publishes a success entry.
func (e *Emitter) Success(message, details string) { e.log(LevelSuccess, message, details) }

// Error publishes an error entry.
func (e *Emitter) Error(message, details string) { e.log(LevelError, message, details) }

// Progress publishes p on the progress topic with the emitter's correlation id
// as attempt id.
func (e *Emitter) Progress(p DownloadProgress) {
	if e == nil || e.bus == nil {
		return
	}
	if p.AttemptID == "" {
		p.AttemptID = e.correlationID
	}
	e.bus.Progress.Publish(p)
}

func (e *Emitter) log(level Level, message, details string) {
	if e == nil || e.bus == nil {
		return
	}
	entry := NewLogEntry(e.clock.Now(), level, message, details)
	entry.Source = e.source
	entry.CorrelationID = e.correlationID
	e.bus.Logs.Publish(entry)
}
