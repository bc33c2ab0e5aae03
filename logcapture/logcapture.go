// Package logcapture 在测试期间捕获默认日志工厂的输出。
//
//	type ServiceSuite struct {
//		Logs *logging.Recorder `logcapture:""`
//	}
//
//	func (*ServiceSuite) Annotate(d *meta.Declarations) {
//		d.Class(logcapture.Quiet{})
//	}
//
// 带有 Quiet 的测试（方法或其所在的类）运行时，默认日志工厂被替换为写入内存的 Recorder，
// 测试结束时恢复；测试失败时已捕获的日志通过 t.Log 重放。
// 注入 *logging.Recorder 的字段或参数同样会开启捕获。
//
// 默认日志工厂是全局的，捕获期间不要并行运行测试。
package logcapture

import (
	"reflect"

	"github.com/gocrud/testkit/inject"
	"github.com/gocrud/testkit/logging"
	"github.com/gocrud/testkit/meta"
	"github.com/gocrud/testkit/suite"
)

// ExtensionName 扩展名称
const ExtensionName = "logcapture"

// Quiet 方法或类注解：捕获测试期间的默认日志，最近的声明生效
type Quiet struct {
	// Level 记录的最低级别，默认记录所有级别
	Level logging.LogLevel
	// Off 在方法上关闭类级别的 Quiet
	Off bool
}

// Captured 标记注解：注入捕获日志的 *logging.Recorder
type Captured struct{}

var recorderType = meta.TypeOf[*logging.Recorder]()

type extension struct {
	*inject.Extension[Captured]
}

// Extension 日志捕获扩展，导入本包时自动注册
var Extension suite.Extension = extension{inject.NewExtension[Captured](ExtensionName, resolver{})}

func init() {
	meta.RegisterTag(ExtensionName, func(reflect.StructField, string) (any, error) {
		return Captured{}, nil
	})
	suite.Register(Extension)
}

// BeforeEach 为带有 Quiet 的测试开启捕获，再注入字段
func (e extension) BeforeEach(ctx *suite.Context) error {
	m := ctx.Method()
	if m == nil {
		return e.Extension.BeforeEach(ctx)
	}
	if q, ok := nearest(m); ok && !q.Off {
		if _, err := capture(ctx, "test", q.Level); err != nil {
			return err
		}
	}
	return e.Extension.BeforeEach(ctx)
}

type resolver struct{}

func (resolver) Validate(t inject.Target, _ Captured) error {
	return inject.RequireType(t, recorderType)
}

func (resolver) Resolve(ctx *suite.Context, t inject.Target, _ Captured) (any, error) {
	if f, ok := inject.AsField(t); ok && f.IsStatic() {
		return capture(ctx, "class", level(ctx, t.Element()))
	}
	return capture(ctx, "test", level(ctx, t.Element()))
}

// Recorder 返回当前测试的 Recorder，测试未开启捕获时开启
func Recorder(ctx *suite.Context) (*logging.Recorder, error) {
	var e meta.Element
	if m := ctx.Method(); m != nil {
		e = m
	} else {
		e = ctx.Class()
	}
	return capture(ctx, "test", level(ctx, e))
}

func nearest(e meta.Element) (Quiet, bool) {
	for scope := range meta.Scopes(e) {
		if q, ok := meta.FindAnnotation[Quiet](scope); ok {
			return q, true
		}
	}
	return Quiet{}, false
}

func level(ctx *suite.Context, e meta.Element) logging.LogLevel {
	if q, ok := nearest(e); ok {
		return q.Level
	}
	if v := inject.Setting(ctx, ExtensionName, "", "level"); v != "" {
		if l, err := logging.ParseLevel(v); err == nil {
			return l
		}
	}
	return logging.LogLevelTrace
}

func capture(ctx *suite.Context, name string, min logging.LogLevel) (*logging.Recorder, error) {
	return inject.Shared(ctx, ExtensionName, name, func() (*logging.Recorder, func() error, error) {
		rec := logging.NewRecorder()
		restore := logging.SetDefault(logging.NewLoggerFactory(min, rec))
		return rec, func() error {
			restore()
			if ctx.T().Failed() {
				Replay(ctx.T(), rec)
			}
			return nil
		}, nil
	})
}

// Replay 把已捕获的日志逐条输出到 tb
func Replay(tb logging.TB, rec *logging.Recorder) {
	tb.Helper()
	p := logging.NewTestingProvider(tb)
	for _, e := range rec.Entries() {
		p.Write(e)
	}
}
