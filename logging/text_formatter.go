package logging

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TextFormatter 单行文本格式：时间 级别 [类别] 消息 {k=v, ...}
type TextFormatter struct {
	IncludeTimestamp bool
	TimestampFormat  string
	// Since 非零时时间戳显示为相对 Since 的耗时，例如 +1.250s
	Since       time.Time
	ColorOutput bool
}

// NewTextFormatter 创建带毫秒时间戳的文本格式化器
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{
		IncludeTimestamp: true,
		TimestampFormat:  "15:04:05.000",
	}
}

func (f *TextFormatter) Format(entry *LogEntry) ([]byte, error) {
	buf := GlobalBufferPool.Get()
	defer GlobalBufferPool.Put(buf)

	if f.IncludeTimestamp {
		f.writeTime(buf, entry.Time)
		buf.WriteByte(' ')
	}
	if f.ColorOutput {
		buf.WriteString(colorize(entry.Level, entry.Level.String()))
	} else {
		buf.WriteString(entry.Level.String())
	}
	if entry.Category != "" {
		fmt.Fprintf(buf, " [%s]", entry.Category)
	}
	buf.WriteByte(' ')
	buf.WriteString(entry.Message)

	for i, field := range entry.Fields {
		if i == 0 {
			buf.WriteString(" {")
		} else {
			buf.WriteString(", ")
		}
		buf.WriteString(field.Key)
		buf.WriteByte('=')
		writeValue(buf, field.Value)
	}
	if len(entry.Fields) > 0 {
		buf.WriteByte('}')
	}
	buf.WriteByte('\n')

	return bytes.Clone(buf.Bytes()), nil
}

func (f *TextFormatter) writeTime(buf *bytes.Buffer, t time.Time) {
	if !f.Since.IsZero() {
		fmt.Fprintf(buf, "+%.3fs", t.Sub(f.Since).Seconds())
		return
	}
	layout := f.TimestampFormat
	if layout == "" {
		layout = time.RFC3339
	}
	buf.WriteString(t.Format(layout))
}

// writeValue 含空白或分隔符的字符串加引号
func writeValue(buf *bytes.Buffer, v any) {
	var s string
	switch v := v.(type) {
	case string:
		s = v
	case error:
		s = v.Error()
	case fmt.Stringer:
		s = v.String()
	default:
		fmt.Fprintf(buf, "%v", v)
		return
	}
	if s == "" || strings.ContainsAny(s, " \t\n,=}\"") {
		buf.WriteString(strconv.Quote(s))
		return
	}
	buf.WriteString(s)
}
