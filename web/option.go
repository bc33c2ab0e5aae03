package web

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gocrud/testkit/logging"
)

// DefaultName 默认的服务器名称
const DefaultName = "default"

// Options 测试服务器选项
type Options struct {
	Name string
	// Mode gin 运行模式，默认 test
	Mode string
	// Recovery 是否使用 gin.Recovery 中间件
	Recovery bool
	// Logger 请求日志，为 nil 时不记录
	Logger logging.Logger
}

// NewDefaultOptions 返回默认选项
func NewDefaultOptions(name string) *Options {
	if name == "" {
		name = DefaultName
	}
	return &Options{
		Name:     name,
		Mode:     gin.TestMode,
		Recovery: true,
	}
}

// Validate 检查选项
func (o *Options) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("web server name is required")
	}
	switch o.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
		return nil
	}
	return fmt.Errorf("web server '%s': unknown gin mode %q", o.Name, o.Mode)
}

// NewEngine 按选项创建 gin 引擎
func NewEngine(opts *Options) (*gin.Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	gin.SetMode(opts.Mode)

	engine := gin.New()
	if opts.Logger != nil {
		engine.Use(requestLogger(opts.Logger))
	}
	if opts.Recovery {
		engine.Use(gin.Recovery())
	}
	return engine, nil
}

// requestLogger 以 Debug 级别记录每个请求
func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		level := logging.LogLevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = logging.LogLevelWarn
		}
		logger.Log(level, "web request",
			logging.F("method", c.Request.Method),
			logging.F("path", c.Request.URL.Path),
			logging.F("status", c.Writer.Status()))
	}
}
