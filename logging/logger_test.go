package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestTextFormatter(t *testing.T) {
	f := NewTextFormatter()
	f.ColorOutput = false
	entry := &LogEntry{
		Time:     time.Now(),
		Level:    LogLevelInfo,
		Category: "Test",
		Message:  "Hello",
		Fields:   []Field{{Key: "key", Value: "val"}},
	}

	out, err := f.Format(entry)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}

	str := string(out)
	if !strings.Contains(str, "INFO") {
		t.Error("Expected level INFO")
	}
	if !strings.Contains(str, "[Test]") {
		t.Error("Expected category [Test]")
	}
	if !strings.Contains(str, "Hello") {
		t.Error("Expected message Hello")
	}
	if !strings.Contains(str, "key=val") {
		t.Error("Expected field key=val")
	}
	if !strings.HasSuffix(str, "\n") {
		t.Error("Expected trailing newline")
	}
}

func TestJsonFormatter(t *testing.T) {
	f := NewJsonFormatter()
	entry := &LogEntry{
		Time:     time.Now(),
		Level:    LogLevelInfo,
		Category: "Test",
		Message:  "Hello",
		Fields:   []Field{F("key", "val"), F("err", errors.New("boom"))},
	}

	out, err := f.Format(entry)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}

	var data map[string]any
	if err := json.Unmarshal(out, &data); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if data["level"] != "INFO" {
		t.Error("Expected level INFO")
	}
	if data["category"] != "Test" {
		t.Error("Expected category Test")
	}
	fields, ok := data["fields"].(map[string]any)
	if !ok {
		t.Fatal("Expected fields map")
	}
	if fields["key"] != "val" {
		t.Error("Expected key=val")
	}
	// error 字段以消息文本输出
	if fields["err"] != "boom" {
		t.Errorf("Expected err=boom, got %v", fields["err"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"trace": LogLevelTrace,
		"DEBUG": LogLevelDebug,
		"":      LogLevelInfo,
		"warn":  LogLevelWarn,
		"Error": LogLevelError,
		"off":   LogLevelNone,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestFactory_MinimumLevel(t *testing.T) {
	rec := NewRecorder()
	factory := NewLoggingBuilder().
		SetMinimumLevel(LogLevelWarn).
		AddProvider(rec).
		Build()

	logger := factory.CreateLogger("suite")
	logger.Info("dropped")
	logger.Warn("kept")

	if got := rec.Messages(); len(got) != 1 || got[0] != "kept" {
		t.Fatalf("Expected only the warning, got %v", got)
	}

	// 修改级别对已创建的 Logger 立即生效
	factory.SetMinimumLevel(LogLevelDebug)
	logger.Debug("now visible")
	if rec.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", rec.Len())
	}
}

func TestLogger_WithFieldsDoesNotLeak(t *testing.T) {
	rec := NewRecorder()
	base := NewLoggerFactory(LogLevelTrace, rec).CreateLogger("base").WithFields(F("a", 1))

	first := base.WithFields(F("b", 2))
	second := base.WithFields(F("c", 3))
	first.Info("first")
	second.Info("second")

	entries := rec.Entries()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if _, ok := entries[1].Field("b"); ok {
		t.Error("Fields of a sibling logger leaked")
	}
	if v, _ := entries[1].Field("c"); v != 3 {
		t.Errorf("Expected c=3, got %v", v)
	}
}

func TestRecorder_WriteTo(t *testing.T) {
	rec := NewRecorder()
	logger := NewLoggerFactory(LogLevelTrace, rec).CreateLogger("rec")
	logger.Debug("one")
	logger.Error("two", F("id", 7))

	if !rec.Contains("tw") {
		t.Error("Expected Contains to match a substring")
	}
	if n := len(rec.AtLevel(LogLevelError)); n != 1 {
		t.Errorf("Expected 1 error entry, got %d", n)
	}

	var buf bytes.Buffer
	if _, err := rec.WriteTo(&buf, &TextFormatter{}); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	want := "DEBUG [rec] one\nERROR [rec] two {id=7}\n"
	if buf.String() != want {
		t.Errorf("WriteTo = %q, want %q", buf.String(), want)
	}

	rec.Reset()
	if rec.Len() != 0 {
		t.Error("Expected Reset to clear entries")
	}
}

type fakeTB struct {
	mu   sync.Mutex
	logs []string
}

func (f *fakeTB) Helper() {}
func (f *fakeTB) Log(args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range args {
		f.logs = append(f.logs, a.(string))
	}
}

func TestTextFormatter_ValuesAndElapsed(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &TextFormatter{IncludeTimestamp: true, Since: start}
	out, err := f.Format(&LogEntry{
		Time:    start.Add(1250 * time.Millisecond),
		Level:   LogLevelWarn,
		Message: "query failed",
		Fields: []Field{
			F("sql", "SELECT 1"),
			F("err", errors.New("no such table")),
			F("empty", ""),
			F("took", 3*time.Millisecond),
		},
	})
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	want := `+1.250s WARN query failed {sql="SELECT 1", err="no such table", empty="", took=3ms}` + "\n"
	if string(out) != want {
		t.Errorf("Format = %q, want %q", out, want)
	}
}

func TestTestingProvider(t *testing.T) {
	tb := &fakeTB{}
	logger := NewLoggingBuilder().AddTesting(tb).Build().CreateLogger("inject")
	logger.Info("resolved", F("field", "Users"))

	if len(tb.logs) != 1 || tb.logs[0] != "INFO [inject] resolved {field=Users}" {
		t.Errorf("Unexpected output %q", tb.logs)
	}
}

func TestSetDefault(t *testing.T) {
	logger := NewLogger("default-test")

	rec := NewRecorder()
	restore := SetDefault(NewLoggerFactory(LogLevelTrace, rec))
	logger.Debug("captured")
	restore()
	logger.Debug("not captured")

	if got := rec.Messages(); len(got) != 1 || got[0] != "captured" {
		t.Errorf("Expected exactly the captured message, got %v", got)
	}
}

func TestWriterProvider_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerFactory(LogLevelInfo, NewWriterProvider(&buf, &TextFormatter{})).CreateLogger("")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("line")
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 20 {
		t.Errorf("Expected 20 lines, got %d", len(lines))
	}
}

func BenchmarkTextLogging(b *testing.B) {
	logger := NewLoggerFactory(LogLevelInfo, NewWriterProvider(&bytes.Buffer{}, NewTextFormatter())).
		CreateLogger("bench")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("Benchmark", F("i", i))
	}
}

func TestConsoleProvider_Elapsed(t *testing.T) {
	var buf bytes.Buffer
	p := NewConsoleLoggerProvider(ConsoleLoggerOptions{
		IncludeTimestamp: true,
		Since:            time.Now(),
		Output:           &buf,
	})
	NewLoggerFactory(LogLevelInfo, p).CreateLogger("hosting").Info("started")

	if !strings.HasPrefix(buf.String(), "+0.") || !strings.HasSuffix(buf.String(), " INFO [hosting] started\n") {
		t.Errorf("Unexpected output %q", buf.String())
	}
}
