package trace

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// RingTracer keeps the most recent events of a command in memory. The CLI
// dumps it when the command ends, so a failed build can be inspected
// without streaming every event.
type RingTracer struct {
	mu      sync.RWMutex
	events  []Event
	next    int
	wrapped bool
	dropped uint64 // перезаписанные события
	level   Level
}

func NewRingTracer(capacity int, level Level) *RingTracer {
	if capacity <= 0 {
		capacity = defaultRingSize
	}
	return &RingTracer{events: make([]Event, capacity), level: level}
}

// Emit stores a copy of ev, overwriting the oldest event once full.
// Heartbeats pass every level but LevelOff.
func (t *RingTracer) Emit(ev *Event) {
	if !t.level.ShouldEmit(ev.Scope) && ev.Kind != KindHeartbeat {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wrapped {
		t.dropped++
	}
	stored := *ev
	stored.Seq = NextSeq()
	t.events[t.next] = stored
	t.next++
	if t.next == len(t.events) {
		t.next, t.wrapped = 0, true
	}
}

// Snapshot returns the stored events oldest first.
func (t *RingTracer) Snapshot() []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.wrapped {
		return append([]Event(nil), t.events[:t.next]...)
	}
	out := make([]Event, 0, len(t.events))
	out = append(out, t.events[t.next:]...)
	return append(out, t.events[:t.next]...)
}

// Dropped is the number of events overwritten since the ring was created.
func (t *RingTracer) Dropped() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dropped
}

// Dump writes the stored events. Text dumps start with a comment line
// saying how many events the ring kept and lost; NDJSON dumps stay one
// event per line.
func (t *RingTracer) Dump(w io.Writer, format Format) error {
	events := t.Snapshot()
	if format != FormatNDJSON {
		header := fmt.Sprintf("# kiln trace ring: %d events kept, %d dropped\n", len(events), t.Dropped())
		if _, err := io.WriteString(w, header); err != nil {
			return err
		}
	}
	for i := range events {
		if _, err := w.Write(FormatEvent(&events[i], format)); err != nil {
			return err
		}
	}
	return nil
}

// DumpTo writes the ring to a --trace destination, choosing the format
// from its extension.
func (t *RingTracer) DumpTo(path string) error {
	format := FormatFor(path)
	if path == "" || path == "-" {
		return t.Dump(os.Stderr, format)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.Dump(f, format); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (t *RingTracer) Flush() error { return nil }

func (t *RingTracer) Close() error { return nil }

func (t *RingTracer) Level() Level { return t.level }

func (t *RingTracer) Enabled() bool { return t.level > LevelOff }
