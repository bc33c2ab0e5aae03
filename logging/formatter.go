package logging

import (
	"time"
)

// Formatter 日志格式化接口
type Formatter interface {
	// Format 格式化日志条目，返回的切片归调用者所有
	Format(entry *LogEntry) ([]byte, error)
}

// LogEntry 日志条目
type LogEntry struct {
	Time     time.Time
	Level    LogLevel
	Category string
	Message  string
	Fields   []Field
}

func newEntry(level LogLevel, category, msg string, base, extra []Field) *LogEntry {
	return &LogEntry{
		Time:     time.Now(),
		Level:    level,
		Category: category,
		Message:  msg,
		Fields:   joinFields(base, extra),
	}
}

// Field 按 key 查找字段值
func (e *LogEntry) Field(key string) (any, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}
