// Package audit writes the append-only mutation log. Records are JSON lines
// with an ISO-8601 UTC timestamp and the acting method's dotted name; writes
// go through a buffered channel so callers never block on disk.
package audit

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Record is one audit log entry. Domain keys travel in Fields and are
// flattened into the JSON object next to datetime and action.
type Record struct {
	Datetime time.Time
	Action   string
	Fields   map[string]any
}

// MarshalJSON flattens Fields into the top-level object.
func (r Record) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		obj[k] = v
	}
	obj["datetime"] = r.Datetime.UTC().Format("2006-01-02T15:04:05.000Z")
	obj["action"] = r.Action
	return json.Marshal(obj)
}

// Log is the queue-backed audit writer.
type Log struct {
	ch     chan Record
	sink   *lumberjack.Logger
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// Options bound the sink's growth and the queue depth.
type Options struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	QueueDepth int
}

// New starts an audit log writing JSON lines to opts.Path. The writer
// goroutine runs until Close.
func New(opts Options, logger *slog.Logger) *Log {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 1024
	}
	l := &Log{
		ch: make(chan Record, opts.QueueDepth),
		sink: &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   false,
		},
		logger: logger,
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Log) run() {
	defer close(l.done)
	enc := json.NewEncoder(l.sink)
	for rec := range l.ch {
		if err := enc.Encode(rec); err != nil {
			l.logger.Error("audit write failed", "action", rec.Action, "error", err)
		}
	}
}

// Append queues one record. When the queue is full the record is written
// synchronously rather than dropped; the audit trail is complete either way.
func (l *Log) Append(action string, fields map[string]any) {
	rec := Record{Datetime: time.Now(), Action: action, Fields: fields}
	select {
	case l.ch <- rec:
	default:
		data, err := rec.MarshalJSON()
		if err != nil {
			l.logger.Error("audit marshal failed", "action", action, "error", err)
			return
		}
		if _, err := l.sink.Write(append(data, '\n')); err != nil {
			l.logger.Error("audit write failed", "action", action, "error", err)
		}
	}
}

// Close drains the queue and closes the sink.
func (l *Log) Close() error {
	l.closeOnce.Do(func() {
		close(l.ch)
	})
	<-l.done
	return l.sink.Close()
}
