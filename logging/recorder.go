package logging

import (
	"io"
	"slices"
	"strings"
	"sync"
)

// Recorder 把日志保存在内存中的提供者，用于在测试中断言日志输出
type Recorder struct {
	mu      sync.Mutex
	entries []*LogEntry
}

// NewRecorder 创建空的 Recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Write(entry *LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Entries 返回已记录日志的副本
func (r *Recorder) Entries() []*LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.entries)
}

// Len 返回已记录的日志条数
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Messages 返回所有日志消息
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := make([]string, len(r.entries))
	for i, e := range r.entries {
		msgs[i] = e.Message
	}
	return msgs
}

// Filter 返回满足条件的日志
func (r *Recorder) Filter(match func(*LogEntry) bool) []*LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*LogEntry
	for _, e := range r.entries {
		if match(e) {
			result = append(result, e)
		}
	}
	return result
}

// AtLevel 返回指定级别及以上的日志
func (r *Recorder) AtLevel(level LogLevel) []*LogEntry {
	return r.Filter(func(e *LogEntry) bool { return e.Level >= level })
}

// Contains 判断是否有消息包含 substr 的日志
func (r *Recorder) Contains(substr string) bool {
	return len(r.Filter(func(e *LogEntry) bool {
		return strings.Contains(e.Message, substr)
	})) > 0
}

// Reset 清空已记录的日志
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// WriteTo 按 formatter 格式把已记录的日志写入 w
func (r *Recorder) WriteTo(w io.Writer, formatter Formatter) (int64, error) {
	if formatter == nil {
		formatter = NewTextFormatter()
	}
	var total int64
	for _, e := range r.Entries() {
		data, err := formatter.Format(e)
		if err != nil {
			return total, err
		}
		n, err := w.Write(data)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
