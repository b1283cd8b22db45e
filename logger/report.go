package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type componentStat struct {
	warns  int64
	errors int64
}

type messageStat struct {
	messages int64
	bytes    int64
}

var (
	components sync.Map // map[string]*componentStat
	messages   sync.Map // map[string]*messageStat
)

func componentStats(component string) *componentStat {
	v, _ := components.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&componentStats(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&componentStats(component).errors, 1)
}

// RecordMessage counts one inbound gateway message of the given kind.
func RecordMessage(kind string, size int) {
	v, _ := messages.LoadOrStore(kind, &messageStat{})
	ms := v.(*messageStat)
	atomic.AddInt64(&ms.messages, 1)
	atomic.AddInt64(&ms.bytes, int64(size))
}

// ComponentCount is the number of warnings and errors a component logged.
type ComponentCount struct {
	Component string
	Warns     int64
	Errors    int64
}

// MessageCount is the number of messages and bytes received for a kind.
type MessageCount struct {
	Kind     string
	Messages int64
	Bytes    int64
}

// Report is a point in time copy of the process counters.
type Report struct {
	Goroutines int
	HeapMB     float64
	Components []ComponentCount
	Messages   []MessageCount
}

// Snapshot collects the current counters sorted by name.
func Snapshot() Report {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	r := Report{
		Goroutines: runtime.NumGoroutine(),
		HeapMB:     float64(mem.HeapAlloc) / 1024 / 1024,
	}
	components.Range(func(k, v any) bool {
		cs := v.(*componentStat)
		r.Components = append(r.Components, ComponentCount{
			Component: k.(string),
			Warns:     atomic.LoadInt64(&cs.warns),
			Errors:    atomic.LoadInt64(&cs.errors),
		})
		return true
	})
	messages.Range(func(k, v any) bool {
		ms := v.(*messageStat)
		r.Messages = append(r.Messages, MessageCount{
			Kind:     k.(string),
			Messages: atomic.LoadInt64(&ms.messages),
			Bytes:    atomic.LoadInt64(&ms.bytes),
		})
		return true
	})
	sort.Slice(r.Components, func(i, j int) bool { return r.Components[i].Component < r.Components[j].Component })
	sort.Slice(r.Messages, func(i, j int) bool { return r.Messages[i].Kind < r.Messages[j].Kind })
	return r
}

// StartReport logs a runtime report every interval until ctx ends.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(log, Snapshot())
			}
		}
	}()
}

func logReport(log *Log, r Report) {
	fields := Fields{
		"goroutines": r.Goroutines,
		"heap_mb":    r.HeapMB,
	}
	for _, c := range r.Components {
		fields["warns_"+c.Component] = c.Warns
		fields["errors_"+c.Component] = c.Errors
	}
	for _, m := range r.Messages {
		fields["messages_"+m.Kind] = m.Messages
	}
	log.WithComponent("report").WithFields(fields).Info("runtime report")
}
