package txn

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type EventType string

const (
	EventBegin               EventType = "begin"
	EventRead                EventType = "read"
	EventWrite               EventType = "write"
	EventCommit              EventType = "commit"
	EventRollback            EventType = "rollback"
	EventTimeout             EventType = "timeout"
	EventConflict            EventType = "conflict"
	EventSavepointCreated    EventType = "savepoint_created"
	EventSavepointRolledBack EventType = "savepoint_rolled_back"
)

// Event describes one transaction state change.
type Event struct {
	Type      EventType
	TxID      string
	Isolation Isolation
	Key       string
	Detail    string
	Time      time.Time
}

// Observer receives events synchronously while the manager lock is held;
// implementations must not call back into the Manager.
type Observer interface {
	OnEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// EventLog appends events to a file as JSON lines.
type EventLog struct {
	file   *os.File
	logger *zap.Logger
}

// OpenEventLog opens path for appending.
func OpenEventLog(path string) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("event log: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("event log: open %s: %w", path, err)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	encCfg.MessageKey = "event"
	encCfg.LevelKey = ""
	encCfg.CallerKey = ""
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.InfoLevel)
	return &EventLog{file: f, logger: zap.New(core)}, nil
}

func (l *EventLog) OnEvent(ev Event) {
	fields := []zap.Field{
		zap.String("tx", ev.TxID),
		zap.String("isolation", ev.Isolation.String()),
	}
	if ev.Key != "" {
		fields = append(fields, zap.String("key", ev.Key))
	}
	if ev.Detail != "" {
		fields = append(fields, zap.String("detail", ev.Detail))
	}
	l.logger.Info(string(ev.Type), fields...)
}

func (l *EventLog) Close() error {
	return multierr.Append(l.logger.Sync(), l.file.Close())
}
