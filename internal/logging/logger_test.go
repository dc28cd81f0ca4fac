package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/pandock/internal/events"
	"github.com/ZebulonRouseFrantzich/pandock/internal/testutil"
)

func TestNew_Formats(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("installed", "path", "/tmp/pandoc")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if line["msg"] != "installed" || line["level"] != "info" || line["path"] != "/tmp/pandoc" {
		t.Errorf("unexpected line: %v", line)
	}
	if _, ok := line["ts"]; !ok {
		t.Errorf("missing ts key: %v", line)
	}

	buf.Reset()
	logger, err = New(Options{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("level filtering failed: %q", buf.String())
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestFromSlog(t *testing.T) {
	var buf bytes.Buffer
	sl, err := New(Options{Level: "debug", Format: "json", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	l := FromSlog(sl)
	l.Debug("d", "k", 1)
	l.Error("e")
	if got := strings.Count(buf.String(), "\n"); got != 2 {
		t.Errorf("expected 2 lines, got %d:\n%s", got, buf.String())
	}

	FromSlog(nil).Info("dropped")
	OrNop(nil).Info("dropped")
}

type recordedLine struct {
	level string
	msg   string
	kv    []interface{}
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []recordedLine
}

func (r *recordingLogger) add(level, msg string, kv []interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, recordedLine{level: level, msg: msg, kv: kv})
}

func (r *recordingLogger) Debug(msg string, kv ...interface{}) { r.add("debug", msg, kv) }
func (r *recordingLogger) Info(msg string, kv ...interface{})  { r.add("info", msg, kv) }
func (r *recordingLogger) Warn(msg string, kv ...interface{})  { r.add("warn", msg, kv) }
func (r *recordingLogger) Error(msg string, kv ...interface{}) { r.add("error", msg, kv) }

func (r *recordingLogger) snapshot() []recordedLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedLine(nil), r.lines...)
}

func TestMirror_ForwardsEntries(t *testing.T) {
	bus := events.NewBus()
	rec := &recordingLogger{}
	m := StartMirror(bus.Logs, rec)

	em := events.NewEmitter(bus, testutil.FixedClock{At: time.Unix(0, 0)}, events.SourceConversion, "req-9")
	em.Info("$ pandoc a.md -o a.html", "")
	em.Success("Successfully created: a.html", "")
	em.Error("conversion failed", "pandoc: unknown writer")

	bus.Close()
	m.Wait()

	lines := rec.snapshot()
	if len(lines) != 3 {
		t.Fatalf("expected 3 forwarded lines, got %d", len(lines))
	}
	wantLevels := []string{"info", "info", "error"}
	for i, line := range lines {
		if line.level != wantLevels[i] {
			t.Errorf("line %d level = %s, want %s", i, line.level, wantLevels[i])
		}
	}
	if kv := fmt.Sprint(lines[2].kv); !strings.Contains(kv, "pandoc: unknown writer") || !strings.Contains(kv, "req-9") {
		t.Errorf("error line missing details or correlation id: %s", kv)
	}
	if kv := fmt.Sprint(lines[1].kv); !strings.Contains(kv, "success") {
		t.Errorf("success line missing outcome: %s", kv)
	}

	m.Stop()
	m.Stop()
}
