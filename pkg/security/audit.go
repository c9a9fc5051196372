package security

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// Record is one immutable authorization decision.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Principal string    `json:"principal"`
	Resource  string    `json:"resource"`
	Decision  Decision  `json:"decision"`
	Reason    string    `json:"reason"`
}

// Sink is a destination for audit records.
type Sink interface {
	Write(Record) error
}

// Auditor appends records to its in-memory log and fans them out to sinks.
// Sink failures and panics are logged and counted, never returned.
type Auditor struct {
	mu       sync.RWMutex
	records  []Record
	sinks    []Sink
	failures atomic.Int64
	now      func() time.Time
}

func NewAuditor(sinks ...Sink) *Auditor {
	return &Auditor{sinks: sinks, now: time.Now}
}

// AddSink registers another destination.
func (a *Auditor) AddSink(s Sink) {
	a.mu.Lock()
	a.sinks = append(a.sinks, s)
	a.mu.Unlock()
}

// Record appends a decision and returns the stored record.
func (a *Auditor) Record(principal, resource string, decision Decision, reason string) Record {
	rec := Record{
		ID:        uuid.NewString(),
		Timestamp: a.now().UTC(),
		Principal: principal,
		Resource:  resource,
		Decision:  decision,
		Reason:    reason,
	}
	a.mu.Lock()
	a.records = append(a.records, rec)
	sinks := a.sinks
	a.mu.Unlock()

	for _, s := range sinks {
		a.deliver(s, rec)
	}
	return rec
}

func (a *Auditor) deliver(s Sink, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			a.failures.Add(1)
			Logger().Error("audit sink panicked", zap.String("record", rec.ID), zap.Any("panic", r))
		}
	}()
	if err := s.Write(rec); err != nil {
		a.failures.Add(1)
		Logger().Error("audit sink failed", zap.String("record", rec.ID), zap.Error(err))
	}
}

// Records returns a copy of every record so far.
func (a *Auditor) Records() []Record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Record, len(a.records))
	copy(out, a.records)
	return out
}

// Len is the number of records.
func (a *Auditor) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}

// Failures counts sink errors and panics.
func (a *Auditor) Failures() int64 {
	return a.failures.Load()
}

// Close closes sinks that hold resources.
func (a *Auditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	for _, s := range a.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}

// LogSink writes records through a zap logger.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Write(rec Record) error {
	l := s.Logger
	if l == nil {
		l = Logger()
	}
	l.Info("audit",
		zap.String("id", rec.ID),
		zap.String("principal", rec.Principal),
		zap.String("resource", rec.Resource),
		zap.String("decision", string(rec.Decision)),
		zap.String("reason", rec.Reason),
	)
	return nil
}

// FileSink appends records as JSON lines.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func OpenFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &FileSink{file: f, enc: json.NewEncoder(f)}, nil
}

func (s *FileSink) Write(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(rec)
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Record) error

func (f SinkFunc) Write(rec Record) error { return f(rec) }
