package logging

import "sync/atomic"

var defaultFactory atomic.Pointer[LoggerFactory]

func init() {
	f := NewLoggingBuilder().AddConsole().SetMinimumLevel(LogLevelWarn).Build()
	defaultFactory.Store(&f)
}

// Default 返回当前的默认日志工厂
func Default() LoggerFactory {
	return *defaultFactory.Load()
}

// SetDefault 替换默认日志工厂，返回恢复原工厂的函数
func SetDefault(factory LoggerFactory) (restore func()) {
	prev := defaultFactory.Swap(&factory)
	return func() { defaultFactory.Store(prev) }
}

// NewLogger 从默认工厂创建指定类别的 Logger
func NewLogger(category string) Logger {
	return &defaultLogger{category: category}
}

// defaultLogger 每次写入时读取默认工厂，SetDefault 对已创建的 Logger 同样生效
type defaultLogger struct {
	category string
	fields   []Field
}

func (l *defaultLogger) current() Logger {
	lg := Default().CreateLogger(l.category)
	if len(l.fields) > 0 {
		lg = lg.WithFields(l.fields...)
	}
	return lg
}

func (l *defaultLogger) Trace(msg string, fields ...Field) { l.current().Trace(msg, fields...) }
func (l *defaultLogger) Debug(msg string, fields ...Field) { l.current().Debug(msg, fields...) }
func (l *defaultLogger) Info(msg string, fields ...Field)  { l.current().Info(msg, fields...) }
func (l *defaultLogger) Warn(msg string, fields ...Field)  { l.current().Warn(msg, fields...) }
func (l *defaultLogger) Error(msg string, fields ...Field) { l.current().Error(msg, fields...) }

func (l *defaultLogger) Log(level LogLevel, msg string, fields ...Field) {
	l.current().Log(level, msg, fields...)
}

func (l *defaultLogger) WithFields(fields ...Field) Logger {
	return &defaultLogger{category: l.category, fields: joinFields(l.fields, fields)}
}

func (l *defaultLogger) WithCategory(category string) Logger {
	return &defaultLogger{category: category, fields: l.fields}
}
