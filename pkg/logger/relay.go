package logger

import (
	"sort"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Entry is a log entry captured inside a worker unit and replayed by its controller.
// Fields are flattened into plain values so no memory is shared between the two.
type Entry struct {
	Level      zapcore.Level
	Time       time.Time
	LoggerName string
	Message    string
	Fields     map[string]interface{}
}

type relayCore struct {
	zapcore.LevelEnabler
	fields []zapcore.Field
	send   func(Entry)
}

// NewRelayCore returns a zapcore.Core that hands every entry to send instead of writing it.
func NewRelayCore(enab zapcore.LevelEnabler, send func(Entry)) zapcore.Core {
	return &relayCore{LevelEnabler: enab, send: send}
}

func (c *relayCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &relayCore{LevelEnabler: c.LevelEnabler, fields: merged, send: c.send}
}

func (c *relayCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *relayCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	c.send(Entry{
		Level:      ent.Level,
		Time:       ent.Time,
		LoggerName: ent.LoggerName,
		Message:    ent.Message,
		Fields:     enc.Fields,
	})
	return nil
}

func (c *relayCore) Sync() error {
	return nil
}

// Replay writes a relayed entry through l, which carries the controller's tags.
func Replay(l *zap.Logger, e Entry) {
	ce := l.Check(e.Level, e.Message)
	if ce == nil {
		return
	}

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys)+1)
	if e.LoggerName != "" {
		fields = append(fields, zap.String("unit_logger", e.LoggerName))
	}
	for _, k := range keys {
		fields = append(fields, zap.Any(k, e.Fields[k]))
	}
	ce.Write(fields...)
}
