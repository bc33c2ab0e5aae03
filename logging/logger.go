package logging

import (
	"fmt"
	"strings"
	"sync"
)

// LogLevel 日志级别
type LogLevel int

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelNone
)

// String 返回日志级别的字符串表示
func (l LogLevel) String() string {
	switch l {
	case LogLevelTrace:
		return "TRACE"
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel 解析日志级别名称（不区分大小写）
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LogLevelTrace, nil
	case "DEBUG":
		return LogLevelDebug, nil
	case "INFO", "":
		return LogLevelInfo, nil
	case "WARN", "WARNING":
		return LogLevelWarn, nil
	case "ERROR":
		return LogLevelError, nil
	case "NONE", "OFF":
		return LogLevelNone, nil
	}
	return LogLevelInfo, fmt.Errorf("logging: unknown level %q", s)
}

// Field 日志字段
type Field struct {
	Key   string
	Value any
}

// F 创建日志字段
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Logger 日志接口
type Logger interface {
	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Log(level LogLevel, msg string, fields ...Field)
	WithFields(fields ...Field) Logger
	WithCategory(category string) Logger
}

// LoggerFactory 日志工厂接口
type LoggerFactory interface {
	CreateLogger(category string) Logger
	AddProvider(provider LoggerProvider)
	SetMinimumLevel(level LogLevel)
}

// LoggerProvider 日志提供者接口
type LoggerProvider interface {
	// Write 输出一条已经通过级别过滤的日志
	Write(entry *LogEntry)
}

// loggerFactory 日志工厂实现
type loggerFactory struct {
	providers    []LoggerProvider
	minimumLevel LogLevel
	mu           sync.RWMutex
}

// NewLoggerFactory 创建没有提供者的日志工厂
func NewLoggerFactory(level LogLevel, providers ...LoggerProvider) LoggerFactory {
	return &loggerFactory{providers: providers, minimumLevel: level}
}

func (f *loggerFactory) CreateLogger(category string) Logger {
	return &compositeLogger{factory: f, category: category}
}

func (f *loggerFactory) AddProvider(provider LoggerProvider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers = append(f.providers, provider)
}

func (f *loggerFactory) SetMinimumLevel(level LogLevel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minimumLevel = level
}

func (f *loggerFactory) snapshot() (LogLevel, []LoggerProvider) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.minimumLevel, f.providers
}

// compositeLogger 将日志发送到工厂的所有提供者。
// 级别和提供者在每次写入时读取，工厂的修改对已创建的 Logger 立即生效。
type compositeLogger struct {
	factory  *loggerFactory
	category string
	fields   []Field
}

func (l *compositeLogger) Trace(msg string, fields ...Field) {
	l.Log(LogLevelTrace, msg, fields...)
}

func (l *compositeLogger) Debug(msg string, fields ...Field) {
	l.Log(LogLevelDebug, msg, fields...)
}

func (l *compositeLogger) Info(msg string, fields ...Field) {
	l.Log(LogLevelInfo, msg, fields...)
}

func (l *compositeLogger) Warn(msg string, fields ...Field) {
	l.Log(LogLevelWarn, msg, fields...)
}

func (l *compositeLogger) Error(msg string, fields ...Field) {
	l.Log(LogLevelError, msg, fields...)
}

func (l *compositeLogger) Log(level LogLevel, msg string, fields ...Field) {
	minimum, providers := l.factory.snapshot()
	if level < minimum || level >= LogLevelNone || len(providers) == 0 {
		return
	}

	entry := newEntry(level, l.category, msg, l.fields, fields)
	for _, p := range providers {
		p.Write(entry)
	}
}

func (l *compositeLogger) WithFields(fields ...Field) Logger {
	return &compositeLogger{
		factory:  l.factory,
		category: l.category,
		fields:   joinFields(l.fields, fields),
	}
}

func (l *compositeLogger) WithCategory(category string) Logger {
	return &compositeLogger{
		factory:  l.factory,
		category: category,
		fields:   l.fields,
	}
}

// joinFields 合并字段，总是分配新切片，避免共享底层数组
func joinFields(a, b []Field) []Field {
	if len(b) == 0 {
		return a
	}
	all := make([]Field, 0, len(a)+len(b))
	all = append(all, a...)
	return append(all, b...)
}

// colorize 为日志级别添加颜色
func colorize(level LogLevel, text string) string {
	const (
		reset  = "\033[0m"
		gray   = "\033[90m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		red    = "\033[31m"
	)

	switch level {
	case LogLevelTrace:
		return gray + text + reset
	case LogLevelDebug:
		return cyan + text + reset
	case LogLevelInfo:
		return green + text + reset
	case LogLevelWarn:
		return yellow + text + reset
	case LogLevelError:
		return red + text + reset
	default:
		return text
	}
}
