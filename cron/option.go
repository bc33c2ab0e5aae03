package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gocrud/testkit/logging"
)

// DefaultName 默认的调度器名称
const DefaultName = "default"

// Parser 接受可选秒字段与 @every 等描述符的表达式解析器
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Options 调度器选项
type Options struct {
	Name string
	// Location 时区，默认 UTC
	Location string
	// StopTimeout 停止时等待运行中任务的最长时间
	StopTimeout time.Duration
	// Verbose 输出 cron 库的内部调度日志
	Verbose bool
	Logger  logging.Logger
}

// NewDefaultOptions 返回默认选项
func NewDefaultOptions(name string) *Options {
	if name == "" {
		name = DefaultName
	}
	return &Options{
		Name:        name,
		Location:    "UTC",
		StopTimeout: 5 * time.Second,
	}
}

// Validate 检查选项
func (o *Options) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("cron name is required")
	}
	if _, err := time.LoadLocation(o.Location); err != nil {
		return fmt.Errorf("cron '%s': %w", o.Name, err)
	}
	if o.StopTimeout <= 0 {
		return fmt.Errorf("cron '%s': stop timeout must be positive", o.Name)
	}
	return nil
}

// New 按选项创建（未启动的）调度器，任务 panic 会被恢复并记录
func New(opts *Options) (*cron.Cron, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	loc, _ := time.LoadLocation(opts.Location)
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger("cron")
	}

	cronOpts := []cron.Option{
		cron.WithLocation(loc),
		cron.WithParser(Parser),
		cron.WithChain(cron.Recover(newCronLogger(logger))),
	}
	// 只在启用时添加 cron 库的日志记录器
	if opts.Verbose {
		cronOpts = append(cronOpts, cron.WithLogger(newCronLogger(logger)))
	}
	return cron.New(cronOpts...), nil
}

// Stop 停止调度器，等待运行中的任务结束，最多等待 timeout
func Stop(c *cron.Cron, timeout time.Duration) error {
	done := c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("cron: jobs still running after %v", timeout)
	}
}

// cronLogger 适配器：将日志接口适配到 cron 的日志接口
type cronLogger struct {
	logger logging.Logger
}

func newCronLogger(logger logging.Logger) cron.Logger {
	return &cronLogger{logger: logger}
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, convertToFields(keysAndValues)...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := convertToFields(keysAndValues)
	fields = append(fields, logging.F("error", err.Error()))
	l.logger.Error(msg, fields...)
}

func convertToFields(keysAndValues []any) []logging.Field {
	fields := make([]logging.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, logging.F(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
