package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// WriterProvider 将日志格式化后写入 io.Writer
type WriterProvider struct {
	out       io.Writer
	formatter Formatter
	mu        sync.Mutex
}

// NewWriterProvider 创建写入 out 的提供者，formatter 为 nil 时使用文本格式
func NewWriterProvider(out io.Writer, formatter Formatter) *WriterProvider {
	if formatter == nil {
		formatter = NewTextFormatter()
	}
	return &WriterProvider{out: out, formatter: formatter}
}

// ConsoleLoggerOptions 控制台日志选项
type ConsoleLoggerOptions struct {
	IncludeTimestamp bool
	TimestampFormat  string
	ColorOutput      bool
	// Since 非零时输出相对耗时而不是时钟时间
	Since  time.Time
	Output io.Writer
}

// NewConsoleLoggerProvider 创建控制台提供者，默认输出到 stderr
func NewConsoleLoggerProvider(options ConsoleLoggerOptions) *WriterProvider {
	if options.Output == nil {
		options.Output = os.Stderr
	}
	return NewWriterProvider(options.Output, &TextFormatter{
		IncludeTimestamp: options.IncludeTimestamp,
		TimestampFormat:  options.TimestampFormat,
		ColorOutput:      options.ColorOutput,
		Since:            options.Since,
	})
}

func (p *WriterProvider) Write(entry *LogEntry) {
	data, err := p.formatter.Format(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = p.out.Write(data)
}

// TB 是 testing.TB 中日志输出需要的部分
type TB interface {
	Helper()
	Log(args ...any)
}

// TestingProvider 通过 t.Log 输出日志，日志会归属到正在运行的测试，
// 只在测试失败或 -v 时显示
type TestingProvider struct {
	tb        TB
	formatter Formatter
}

// NewTestingProvider 创建输出到 tb 的提供者
func NewTestingProvider(tb TB) *TestingProvider {
	return &TestingProvider{
		tb:        tb,
		formatter: &TextFormatter{},
	}
}

func (p *TestingProvider) Write(entry *LogEntry) {
	data, err := p.formatter.Format(entry)
	if err != nil {
		return
	}
	p.tb.Helper()
	p.tb.Log(strings.TrimSuffix(string(data), "\n"))
}
